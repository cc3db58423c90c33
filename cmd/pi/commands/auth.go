package commands

import (
	"bufio"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pi-agent/pi/internal/config"
	"github.com/pi-agent/pi/internal/provider"
	"github.com/pi-agent/pi/internal/storage"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage provider credentials",
	Long: `Manage API keys stored in auth.json inside the agent directory.

Keys are resolved in this order: --api-key, auth.json, settings, environment.`,
}

var authListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all providers and their status",
	RunE:    runAuthList,
}

var authLoginCmd = &cobra.Command{
	Use:   "login <provider>",
	Short: "Store an API key for a provider",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout <provider>",
	Short: "Remove the stored API key of a provider",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthLogout,
}

func init() {
	authCmd.AddCommand(authListCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
}

func credentials() (*provider.Credentials, *config.Paths, error) {
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, nil, err
	}
	workDir, err := os.Getwd()
	if err != nil {
		return nil, nil, err
	}
	settings, err := config.Load(workDir)
	if err != nil {
		return nil, nil, err
	}
	return provider.NewCredentials(storage.New(paths.Agent), settings), paths, nil
}

func runAuthList(cmd *cobra.Command, args []string) error {
	creds, paths, err := credentials()
	if err != nil {
		return err
	}
	stored, err := creds.Stored(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Provider Authentication Status:")
	fmt.Fprintln(out)

	ids := provider.KnownProviders()
	for _, id := range stored {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		status := "not configured"
		switch {
		case slices.Contains(stored, id):
			status = "configured (via auth file)"
		case provider.EnvVar(id) != "" && os.Getenv(provider.EnvVar(id)) != "":
			status = fmt.Sprintf("configured (via %s)", provider.EnvVar(id))
		default:
			if _, err := creds.GetAPIKey(cmd.Context(), id); err == nil {
				status = "configured (via settings)"
			}
		}
		fmt.Fprintf(out, "  %-12s %s\n", id, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Auth file: %s\n", paths.AuthPath())
	return nil
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	creds, _, err := credentials()
	if err != nil {
		return err
	}

	id := args[0]
	fmt.Fprintf(cmd.OutOrStdout(), "Enter API key for %s: ", id)
	key, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && key == "" {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	if err := creds.Set(cmd.Context(), id, provider.Credential{Type: "api_key", Key: key}); err != nil {
		return fmt.Errorf("failed to save auth: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Successfully logged in to %s\n", id)
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	creds, _, err := credentials()
	if err != nil {
		return err
	}

	id := args[0]
	stored, err := creds.Stored(cmd.Context())
	if err != nil {
		return err
	}
	if !slices.Contains(stored, id) {
		return fmt.Errorf("not logged in to %s", id)
	}
	if err := creds.Remove(cmd.Context(), id); err != nil {
		return fmt.Errorf("failed to save auth: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Successfully logged out from %s\n", id)
	return nil
}
