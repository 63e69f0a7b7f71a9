// Package cmd implements the autopilot command line.
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/autopilot/internal/errors"
)

var rootCmd = newRootCmd()

// Execute runs the root command and reports any error on stderr.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		reportError(rootCmd.ErrOrStderr(), err)
	}
	return err
}

// reportError prints err. Errors outside the autopilot taxonomy come from
// the environment (I/O, permissions, a broken database) and get a pointer
// to where the surrounding context was logged.
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if !errors.IsUserFacing(err) {
		fmt.Fprintln(w, "Rerun with --verbose, or see debug.log in the state directory, for details.")
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "autopilot",
		Short: "Drive a task plan to completion one task at a time",
		Long: `Autopilot works through a plan of tasks in priority order. Tasks whose
effects already exist in the workspace are skipped; the rest are handed to an
external executor, one at a time, and their outcome is recorded in a progress
document that survives crashes and restarts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	root.PersistentFlags().StringP("config", "c", "", "config file (default searches $XDG_CONFIG_HOME/autopilot, .autopilot/ and the workspace)")
	root.PersistentFlags().StringP("workspace", "C", "", "workspace root (default is the current directory)")

	root.AddCommand(
		newRunCmd(),
		newStopCmd(),
		newStatusCmd(),
		newResetCmd(),
		newSkipCmd(),
		newCompleteCmd(),
		newValidateCmd(),
		newConfigCmd(),
	)
	return root
}
