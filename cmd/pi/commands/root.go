// Package commands provides the CLI commands for pi.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pi-agent/pi/internal/config"
	"github.com/pi-agent/pi/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	logFile   bool
)

var rootCmd = &cobra.Command{
	Use:   "pi",
	Short: "pi - a minimal coding agent",
	Long: `pi is a coding agent that keeps every conversation as a branchable
session tree on disk.

Run 'pi run' to execute a prompt, or 'pi serve' to expose the agent over
HTTP with a server-sent event stream.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogging()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "WARN", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logFile, "log-file", false, "Also write JSON logs to the cache directory")

	rootCmd.SetVersionTemplate(fmt.Sprintf("pi %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(extensionCmd)
	rootCmd.AddCommand(debugCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func initLogging() error {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Pretty = true
	if !printLogs {
		cfg.Console = nil
	}
	if logFile {
		cfg.Dir = filepath.Join(config.GetPaths().Cache, "logs")
	}
	_, err = logging.Init(cfg)
	return err
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
