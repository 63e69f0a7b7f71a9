package cmd

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/session"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running autopilot in this workspace",
		Long: `Stop sends SIGTERM to the autopilot run holding this workspace's run lock.
The run ends after its current wait; a task already handed to the executor keeps
its lease in progress and is offered for recovery on the next run.`,
		Args: cobra.NoArgs,
		RunE: runStop,
	}
}

func runStop(cmd *cobra.Command, args []string) error {
	ws, err := loadWorkspace(cmd)
	if err != nil {
		return err
	}

	lock, err := session.Signal(ws.StateDir, syscall.SIGTERM)
	if errors.Is(err, session.ErrNotRunning) {
		fmt.Fprintln(cmd.OutOrStdout(), "No autopilot run is active in this workspace")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Stop requested for run %s (pid %d)\n", lock.RunID, lock.PID)
	return nil
}
