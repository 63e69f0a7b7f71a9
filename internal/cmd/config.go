package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/autopilot/internal/config"
)

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "View autopilot configuration",
		Long: `View autopilot configuration.

Without arguments, displays the effective configuration: defaults, overlaid by
the config file, overlaid by AUTOPILOT_* environment variables (for example
AUTOPILOT_COMPLETION_STRATEGY for completion.strategy).`,
		Args: cobra.NoArgs,
		RunE: runConfigShow,
	}
	configCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the effective configuration",
			Args:  cobra.NoArgs,
			RunE:  runConfigShow,
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show the config file in use and the user config location",
			Args:  cobra.NoArgs,
			RunE:  runConfigPath,
		},
	)
	return configCmd
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	ws, err := loadWorkspace(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if ws.ConfigFile != "" {
		fmt.Fprintf(out, "# Config file: %s\n", ws.ConfigFile)
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}
	fmt.Fprintf(out, "# Workspace: %s\n# State dir: %s\n\n", ws.Root, ws.StateDir)

	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	ws, err := loadWorkspace(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if ws.ConfigFile != "" {
		fmt.Fprintf(out, "In use: %s\n", ws.ConfigFile)
	} else {
		fmt.Fprintln(out, "In use: (none)")
	}
	fmt.Fprintf(out, "User config: %s\n", config.ConfigFile())
	return nil
}
