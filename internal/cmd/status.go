package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/session"
	"github.com/Iron-Ham/autopilot/internal/tui"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show plan progress, leases and the active run",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ws, err := loadWorkspace(cmd)
	if err != nil {
		return err
	}
	tasks, err := ws.Tasks()
	if err != nil {
		return err
	}

	logger := logging.NopLogger()
	store, closer, err := ws.OpenProgress(logger)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	entries, err := store.Read()
	if err != nil {
		return fmt.Errorf("read progress: %w", err)
	}
	leases, err := ws.Leases(logger).List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	title := "autopilot · " + filepath.Base(ws.Root)
	fmt.Fprint(out, tui.RenderStatus(title, tui.BuildRows(tasks, entries, leases), terminalWidth(out)))
	fmt.Fprintln(out, runLine(ws))
	return nil
}

// terminalWidth returns the width of out when it is a terminal.
func terminalWidth(out io.Writer) int {
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			return w
		}
	}
	return tui.DefaultWidth
}

func runLine(ws *workspace) string {
	lock, alive := session.Holder(ws.StateDir)
	switch {
	case lock == nil:
		return "No active run"
	case alive:
		return fmt.Sprintf("Run %s active since %s (pid %d)", lock.RunID, lock.StartedAt.Local().Format("2006-01-02 15:04:05"), lock.PID)
	default:
		return fmt.Sprintf("No active run (stale lock from pid %d)", lock.PID)
	}
}
