package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pi-agent/pi/pkg/types"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// Load loads settings from multiple sources (priority order):
// 1. .env files in the project directory (never overriding the process environment)
// 2. Global settings (<agentDir>/settings.json, settings.jsonc, settings.yaml)
// 3. Project settings (.pi/settings.json, settings.jsonc, settings.yaml)
// 4. PI_SETTINGS file
// 5. PI_SETTINGS_CONTENT inline JSON
// 6. Environment variables
func Load(directory string) (*types.Settings, error) {
	settings := &types.Settings{
		Provider: make(map[string]types.ProviderConfig),
	}

	if directory != "" {
		loadDotEnv(directory)
	}

	loaded := make(map[string]bool)
	var errs []error

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil || loaded[absPath] {
			return
		}
		err = loadSettingsFile(path, settings, baseDir)
		switch {
		case err == nil:
			loaded[absPath] = true
		case !errors.Is(err, os.ErrNotExist):
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}

	agentDir := AgentDir()
	for _, name := range settingsFileNames {
		loadOnce(filepath.Join(agentDir, name), agentDir)
	}

	if directory != "" {
		projectDir := filepath.Join(directory, ".pi")
		for _, name := range settingsFileNames {
			loadOnce(filepath.Join(projectDir, name), projectDir)
		}
	}

	if path := os.Getenv("PI_SETTINGS"); path != "" {
		loadOnce(path, filepath.Dir(path))
	}

	if content := os.Getenv("PI_SETTINGS_CONTENT"); content != "" {
		var inline types.Settings
		if err := json.Unmarshal(jsonc.ToJSON([]byte(content)), &inline); err != nil {
			errs = append(errs, fmt.Errorf("PI_SETTINGS_CONTENT: %w", err))
		} else {
			mergeSettings(settings, &inline)
		}
	}

	applyEnvOverrides(settings)

	return settings, errors.Join(errs...)
}

var settingsFileNames = []string{"settings.json", "settings.jsonc", "settings.yaml", "settings.yml"}

// loadDotEnv reads .env and .pi/.env without overriding variables already set.
func loadDotEnv(directory string) {
	for _, path := range []string{
		filepath.Join(directory, ".env"),
		filepath.Join(directory, ".pi", ".env"),
	} {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

// loadSettingsFile loads a single settings file with interpolation support.
func loadSettingsFile(path string, settings *types.Settings, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = interpolate(data, baseDir)

	var fileSettings types.Settings
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fileSettings); err != nil {
			return err
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &fileSettings); err != nil {
			return err
		}
	}

	mergeSettings(settings, &fileSettings)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = expandHome(filePath)
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match
		}

		// Escape for JSON string
		quoted, _ := json.Marshal(strings.TrimRight(string(content), "\n"))
		return string(quoted[1 : len(quoted)-1])
	})

	return []byte(str)
}

// mergeSettings merges source settings into target.
func mergeSettings(target, source *types.Settings) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.DefaultProvider != "" {
		target.DefaultProvider = source.DefaultProvider
	}
	if source.DefaultModel != "" {
		target.DefaultModel = source.DefaultModel
	}
	if source.DefaultThinkingLevel != "" {
		target.DefaultThinkingLevel = source.DefaultThinkingLevel
	}
	if source.SteeringMode != "" {
		target.SteeringMode = source.SteeringMode
	}
	if source.FollowUpMode != "" {
		target.FollowUpMode = source.FollowUpMode
	}
	if source.ShellPath != "" {
		target.ShellPath = source.ShellPath
	}

	if source.Compaction != nil {
		if target.Compaction == nil {
			target.Compaction = &types.CompactionSettings{}
		}
		if source.Compaction.Enabled != nil {
			target.Compaction.Enabled = source.Compaction.Enabled
		}
		if source.Compaction.ReserveTokens != 0 {
			target.Compaction.ReserveTokens = source.Compaction.ReserveTokens
		}
		if source.Compaction.KeepRecentTokens != 0 {
			target.Compaction.KeepRecentTokens = source.Compaction.KeepRecentTokens
		}
	}

	if source.Retry != nil {
		if target.Retry == nil {
			target.Retry = &types.RetrySettings{}
		}
		if source.Retry.Enabled != nil {
			target.Retry.Enabled = source.Retry.Enabled
		}
		if source.Retry.MaxRetries != 0 {
			target.Retry.MaxRetries = source.Retry.MaxRetries
		}
		if source.Retry.BaseDelayMs != 0 {
			target.Retry.BaseDelayMs = source.Retry.BaseDelayMs
		}
	}

	if len(source.Extensions) > 0 {
		target.Extensions = append(target.Extensions, source.Extensions...)
	}

	if source.Tools != nil {
		if target.Tools == nil {
			target.Tools = make(map[string]bool)
		}
		for k, v := range source.Tools {
			target.Tools[k] = v
		}
	}

	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	if source.MCP != nil {
		if target.MCP == nil {
			target.MCP = make(map[string]types.MCPConfig)
		}
		for k, v := range source.MCP {
			target.MCP[k] = v
		}
	}
}

// ProviderEnvKeys maps provider ids to their API key environment variables.
var ProviderEnvKeys = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"ark":       "ARK_API_KEY",
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(settings *types.Settings) {
	for provider, envVar := range ProviderEnvKeys {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			p := settings.Provider[provider]
			if p.APIKey == "" {
				p.APIKey = apiKey
				settings.Provider[provider] = p
			}
		}
	}

	if v := os.Getenv("PI_PROVIDER"); v != "" {
		settings.DefaultProvider = v
	}
	if v := os.Getenv("PI_MODEL"); v != "" {
		if provider, model, ok := strings.Cut(v, "/"); ok {
			settings.DefaultProvider = provider
			settings.DefaultModel = model
		} else {
			settings.DefaultModel = v
		}
	}
	if v := os.Getenv("PI_THINKING_LEVEL"); v != "" {
		settings.DefaultThinkingLevel = v
	}
}

// Save writes settings as indented JSON.
func Save(settings *types.Settings, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
