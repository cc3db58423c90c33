package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// AgentDirEnv overrides the agent directory.
const AgentDirEnv = "PI_CODING_AGENT_DIR"

// Paths contains the directories used by the agent.
type Paths struct {
	Agent    string // ~/.pi/agent or $PI_CODING_AGENT_DIR
	Sessions string // <agent>/sessions
	Cache    string // ~/.cache/pi
}

// GetPaths returns the agent paths for the current environment.
func GetPaths() *Paths {
	agent := AgentDir()
	return &Paths{
		Agent:    agent,
		Sessions: filepath.Join(agent, "sessions"),
		Cache:    filepath.Join(getEnvOrDefault("XDG_CACHE_HOME", defaultCacheHome()), "pi"),
	}
}

// AgentDir returns $PI_CODING_AGENT_DIR or ~/.pi/agent.
func AgentDir() string {
	if dir := strings.TrimSpace(os.Getenv(AgentDirEnv)); dir != "" {
		return expandHome(dir)
	}
	return filepath.Join(homeDir(), ".pi", "agent")
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Agent, p.Sessions, p.Cache} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// SettingsPath returns the global settings file.
func (p *Paths) SettingsPath() string {
	return filepath.Join(p.Agent, "settings.json")
}

// AuthPath returns the credential store file.
func (p *Paths) AuthPath() string {
	return filepath.Join(p.Agent, "auth.json")
}

// ModelsPath returns the custom model catalog file.
func (p *Paths) ModelsPath() string {
	return filepath.Join(p.Agent, "models.json")
}

// ExtensionsDir returns the global extension directory.
func (p *Paths) ExtensionsDir() string {
	return filepath.Join(p.Agent, "extensions")
}

// SessionDir returns the session directory for a working directory:
// <agent>/sessions/--<cwd with separators replaced by '-'>--.
func (p *Paths) SessionDir(cwd string) string {
	return filepath.Join(p.Sessions, EncodeCwd(cwd))
}

// EncodeCwd turns a working directory into a safe directory name.
func EncodeCwd(cwd string) string {
	trimmed := strings.TrimLeft(cwd, "/")
	safe := strings.NewReplacer("/", "-", `\`, "-", ":", "-").Replace(trimmed)
	return "--" + safe + "--"
}

// ProjectSettingsPath returns the project settings file.
func ProjectSettingsPath(directory string) string {
	return filepath.Join(directory, ".pi", "settings.json")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return os.Getenv("HOME")
}

func expandHome(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}

func defaultCacheHome() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "cache")
	}
	return filepath.Join(homeDir(), ".cache")
}
