package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/autopilot/internal/plan"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [plan-file]",
		Short: "Check that a plan parses and list its tasks in execution order",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	ws, err := loadWorkspace(cmd)
	if err != nil {
		return err
	}
	path := ws.PlanFile()
	if len(args) > 0 {
		path = args[0]
	}

	tasks, err := plan.Load(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d tasks\n", path, len(tasks))
	for _, t := range tasks {
		phase := ""
		if t.Phase != "" {
			phase = " [" + t.Phase + "]"
		}
		fmt.Fprintf(out, "  %3d. %s %s%s: %s\n", t.Order+1, t.ID, t.Action, phase, t.Title())
	}
	return nil
}
