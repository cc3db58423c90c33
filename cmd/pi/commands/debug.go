package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pi-agent/pi/internal/config"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug utilities",
	Long:  `Debug utilities for troubleshooting configuration and setup.`,
}

var debugConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the merged settings",
	RunE:  runDebugConfig,
}

var debugPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show agent paths",
	RunE:  runDebugPaths,
}

func init() {
	debugCmd.AddCommand(debugConfigCmd)
	debugCmd.AddCommand(debugPathsCmd)
}

func runDebugConfig(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	settings, err := config.Load(workDir)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), settings)
}

func runDebugPaths(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	paths := config.GetPaths()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "pi paths:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Agent:       %s\n", paths.Agent)
	fmt.Fprintf(out, "  Settings:    %s\n", paths.SettingsPath())
	fmt.Fprintf(out, "  Project:     %s\n", config.ProjectSettingsPath(workDir))
	fmt.Fprintf(out, "  Auth:        %s\n", paths.AuthPath())
	fmt.Fprintf(out, "  Models:      %s\n", paths.ModelsPath())
	fmt.Fprintf(out, "  Extensions:  %s\n", paths.ExtensionsDir())
	fmt.Fprintf(out, "  Sessions:    %s\n", paths.SessionDir(workDir))
	fmt.Fprintf(out, "  Cache:       %s\n", paths.Cache)
	return nil
}
