package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/lease"
	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/orchestrator"
	"github.com/Iron-Ham/autopilot/internal/session"
)

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <task-id>...",
		Short: "Return tasks to Pending and clear their leases",
		Long: `Reset forces each task back to Pending, clears its notes and removes its
lease so the next run picks it up again. The task a live run is working on
cannot be reset.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTaskControl(cmd, args, func(o *orchestrator.Orchestrator, id string) error {
				if err := o.ResetTask(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s reset to Pending\n", id)
				return nil
			})
		},
	}
}

func newSkipCmd() *cobra.Command {
	var reason string
	c := &cobra.Command{
		Use:   "skip <task-id>",
		Short: "Mark a task Skipped so runs pass over it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTaskControl(cmd, args, func(o *orchestrator.Orchestrator, id string) error {
				if err := o.SkipTask(id, reason); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s skipped\n", id)
				return nil
			})
		},
	}
	c.Flags().StringVarP(&reason, "reason", "r", "", "note recorded with the skip")
	return c
}

// withTaskControl runs fn for each id against an idle orchestrator bound to
// the workspace's progress and lease stores. Ids must be in the plan, and the
// task a live run has leased is refused.
func withTaskControl(cmd *cobra.Command, ids []string, fn func(*orchestrator.Orchestrator, string) error) error {
	ws, err := loadWorkspace(cmd)
	if err != nil {
		return err
	}
	tasks, err := ws.Tasks()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := requireTask(tasks, id); err != nil {
			return err
		}
	}

	logger := logging.NopLogger()
	leases := ws.Leases(logger)
	inFlight := ""
	if _, running := session.Holder(ws.StateDir); running {
		if id, ok, err := leases.ActiveID(); err == nil && ok {
			inFlight = id
		}
	}

	store, closer, err := ws.OpenProgress(logger)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	orch, err := orchestrator.New(orchestrator.Config{}, orchestrator.Deps{
		Leases:   leases,
		Progress: store,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	for _, id := range ids {
		if id == inFlight {
			return fmt.Errorf("task %s is being worked on by a running autopilot: %w", id, errors.ErrTaskInFlight)
		}
		if err := fn(orch, id); err != nil {
			return err
		}
	}
	return nil
}

func newCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete [task-id]",
		Short: "Signal that a dispatched task is finished",
		Long: `Complete writes "completed" into the task's lease, which is how an executor
reports the end of a task under the signal completion strategy. Without an
argument the task id is read from $AUTOPILOT_TASK_ID, which is set for
executors started by autopilot.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runComplete,
	}
}

func runComplete(cmd *cobra.Command, args []string) error {
	id := os.Getenv("AUTOPILOT_TASK_ID")
	if len(args) > 0 {
		id = args[0]
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.NewValidationError("task id required (argument or $AUTOPILOT_TASK_ID)")
	}

	ws, err := loadWorkspace(cmd)
	if err != nil {
		return err
	}
	leases := ws.Leases(logging.NopLogger())
	if leases.Status(id) != lease.StateInProgress {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: task %s has no lease in progress\n", id)
	}
	if err := leases.SetCompleted(id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s signalled complete\n", id)
	return nil
}
