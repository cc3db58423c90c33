package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pi-agent/pi/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the agent dir at a temp directory and clears overrides.
func isolate(t *testing.T) (agentDir, projectDir string) {
	t.Helper()
	root := t.TempDir()
	agentDir = filepath.Join(root, "agent")
	projectDir = filepath.Join(root, "project")
	require.NoError(t, os.MkdirAll(agentDir, 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(projectDir, ".pi"), 0755))

	t.Setenv(AgentDirEnv, agentDir)
	for _, k := range []string{"PI_SETTINGS", "PI_SETTINGS_CONTENT", "PI_MODEL", "PI_PROVIDER", "PI_THINKING_LEVEL",
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "ARK_API_KEY"} {
		t.Setenv(k, "")
	}
	return agentDir, projectDir
}

func TestLoadGlobalAndProjectSettings(t *testing.T) {
	agentDir, projectDir := isolate(t)

	global := `{
		// global defaults
		"defaultProvider": "anthropic",
		"defaultModel": "claude-sonnet-4-5",
		"compaction": {"reserveTokens": 8000},
		"extensions": ["~/ext/a.ts"]
	}`
	project := `{
		"defaultModel": "claude-opus-4-1",
		"compaction": {"enabled": false},
		"extensions": ["./ext/b.py"],
		"steeringMode": "all"
	}`
	require.NoError(t, os.WriteFile(filepath.Join(agentDir, "settings.json"), []byte(global), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".pi", "settings.jsonc"), []byte(project), 0644))

	s, err := Load(projectDir)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", s.DefaultProvider)
	assert.Equal(t, "claude-opus-4-1", s.DefaultModel)
	assert.Equal(t, []string{"~/ext/a.ts", "./ext/b.py"}, s.Extensions)
	assert.Equal(t, QueueAll, QueueMode(s.SteeringMode))

	c := ResolveCompaction(s)
	assert.False(t, c.Enabled)
	assert.Equal(t, int64(8000), c.ReserveTokens)
	assert.Equal(t, DefaultKeepRecentTokens, c.KeepRecentTokens)
}

func TestLoadYAMLSettings(t *testing.T) {
	_, projectDir := isolate(t)

	yml := "defaultProvider: openai\nretry:\n  maxRetries: 5\n  baseDelayMs: 100\nmcp:\n  calc:\n    command: [\"calc-mcp\"]\n"
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".pi", "settings.yaml"), []byte(yml), 0644))

	s, err := Load(projectDir)
	require.NoError(t, err)

	assert.Equal(t, "openai", s.DefaultProvider)
	r := ResolveRetry(s)
	assert.True(t, r.Enabled)
	assert.Equal(t, 5, r.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, r.BaseDelay)
	assert.Equal(t, []string{"calc-mcp"}, s.MCP["calc"].Command)
}

func TestInterpolation(t *testing.T) {
	agentDir, _ := isolate(t)
	t.Setenv("TEST_PI_KEY", "sk-from-env")
	require.NoError(t, os.WriteFile(filepath.Join(agentDir, "model.txt"), []byte("claude-haiku\n"), 0644))

	settings := `{
		"defaultModel": "{file:model.txt}",
		"provider": {"anthropic": {"apiKey": "{env:TEST_PI_KEY}"}}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(agentDir, "settings.json"), []byte(settings), 0644))

	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "claude-haiku", s.DefaultModel)
	assert.Equal(t, "sk-from-env", s.Provider["anthropic"].APIKey)
}

func TestEnvOverrides(t *testing.T) {
	_, projectDir := isolate(t)
	t.Setenv("PI_MODEL", "openai/gpt-4o")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("PI_SETTINGS_CONTENT", `{"defaultThinkingLevel": "high"}`)

	s, err := Load(projectDir)
	require.NoError(t, err)
	assert.Equal(t, "openai", s.DefaultProvider)
	assert.Equal(t, "gpt-4o", s.DefaultModel)
	assert.Equal(t, "high", s.DefaultThinkingLevel)
	assert.Equal(t, "sk-ant", s.Provider["anthropic"].APIKey)
}

func TestDotEnvDoesNotOverrideProcessEnv(t *testing.T) {
	_, projectDir := isolate(t)
	t.Setenv("OPENAI_API_KEY", "from-process")
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".env"), []byte("OPENAI_API_KEY=from-dotenv\nPI_DOTENV_ONLY=yes\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("PI_DOTENV_ONLY") })

	s, err := Load(projectDir)
	require.NoError(t, err)
	assert.Equal(t, "from-process", s.Provider["openai"].APIKey)
	assert.Equal(t, "yes", os.Getenv("PI_DOTENV_ONLY"))
}

func TestMalformedSettingsReported(t *testing.T) {
	agentDir, _ := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(agentDir, "settings.json"), []byte("{not json"), 0644))

	s, err := Load("")
	assert.Error(t, err)
	require.NotNil(t, s)
}

func TestEncodeCwd(t *testing.T) {
	assert.Equal(t, "--home-me-proj--", EncodeCwd("/home/me/proj"))
	assert.Equal(t, "--C--work-x--", EncodeCwd(`C:\work\x`))
}

func TestSessionDirUsesAgentDir(t *testing.T) {
	agentDir, _ := isolate(t)
	p := GetPaths()
	assert.Equal(t, filepath.Join(agentDir, "sessions", "--tmp-x--"), p.SessionDir("/tmp/x"))
	assert.Equal(t, filepath.Join(agentDir, "auth.json"), p.AuthPath())
}

func TestToolEnabled(t *testing.T) {
	s := &types.Settings{Tools: map[string]bool{"bash": false}}
	assert.False(t, ToolEnabled(s, "bash"))
	assert.True(t, ToolEnabled(s, "read"))
	assert.True(t, ToolEnabled(nil, "bash"))
}

func TestWatchReloadsOnChange(t *testing.T) {
	agentDir, projectDir := isolate(t)
	path := filepath.Join(agentDir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"defaultModel":"a"}`), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *types.Settings, 4)
	w, err := Watch(ctx, projectDir, func(s *types.Settings) { changed <- s })
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"defaultModel":"b"}`), 0644))

	select {
	case s := <-changed:
		assert.Equal(t, "b", s.DefaultModel)
	case <-time.After(5 * time.Second):
		t.Fatal("settings change not observed")
	}
}
