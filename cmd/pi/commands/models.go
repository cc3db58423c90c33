package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pi-agent/pi/internal/config"
	"github.com/pi-agent/pi/internal/provider"
	"github.com/pi-agent/pi/internal/storage"
)

var modelsVerbose bool

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List available models",
	Long: `List all models of the configured providers, including custom models
from models.json.

Examples:
  pi models              # List all models
  pi models anthropic    # List only Anthropic models
  pi models --verbose    # Show pricing information`,
	Args: cobra.MaximumNArgs(1),
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().BoolVarP(&modelsVerbose, "verbose", "v", false, "Include metadata like costs")
}

func runModels(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	settings, err := config.Load(workDir)
	if err != nil {
		return err
	}

	creds := provider.NewCredentials(storage.New(paths.Agent), settings)
	registry, err := provider.InitializeProviders(cmd.Context(), settings, creds, paths.ModelsPath())
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}

	var providerFilter string
	if len(args) > 0 {
		providerFilter = args[0]
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	if modelsVerbose {
		fmt.Fprintln(w, "PROVIDER\tMODEL\tCONTEXT\tMAX OUTPUT\tINPUT PRICE\tOUTPUT PRICE\t")
	} else {
		fmt.Fprintln(w, "PROVIDER\tMODEL\tCONTEXT\tFEATURES\t")
	}

	for _, m := range registry.AllModels() {
		if providerFilter != "" && m.Provider != providerFilter {
			continue
		}
		if modelsVerbose {
			fmt.Fprintf(w, "%s\t%s\t%dk\t%d\t$%.2f/1M\t$%.2f/1M\t\n",
				m.Provider, m.ID, m.ContextWindow/1000, m.MaxOutputTokens, m.Cost.Input, m.Cost.Output)
			continue
		}
		var features []string
		if m.SupportsImages {
			features = append(features, "images")
		}
		if m.Reasoning {
			features = append(features, "reasoning")
		}
		fmt.Fprintf(w, "%s\t%s\t%dk\t%s\t\n", m.Provider, m.ID, m.ContextWindow/1000, strings.Join(features, " "))
	}
	return w.Flush()
}
