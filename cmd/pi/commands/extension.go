package commands

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pi-agent/pi/internal/extension"
)

var extensionTimeout time.Duration

var extensionCmd = &cobra.Command{
	Use:   "extension",
	Short: "Work with extensions",
}

var extensionInspectCmd = &cobra.Command{
	Use:   "inspect <path>...",
	Short: "Load extensions and print what they register",
	Long: `Start the given extensions, run the initialize handshake and print the
tools, hooks, commands and flags each one registered as JSON.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtensionInspect,
}

func init() {
	extensionInspectCmd.Flags().DurationVar(&extensionTimeout, "timeout", extension.DefaultHandshakeTimeout, "Handshake timeout per extension")
	extensionCmd.AddCommand(extensionInspectCmd)
}

func runExtensionInspect(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	host, manifest, err := extension.Spawn(cmd.Context(), args, workDir,
		extension.WithHandshakeTimeout(extensionTimeout),
		extension.WithUIHandler(stderrUI),
	)
	if err != nil {
		return err
	}
	defer host.Close()
	return printJSON(cmd.OutOrStdout(), manifest)
}
