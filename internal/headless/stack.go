package headless

import (
	"context"
	"fmt"
	"os"

	"github.com/pi-agent/pi/internal/agent"
	"github.com/pi-agent/pi/internal/command"
	"github.com/pi-agent/pi/internal/compaction"
	"github.com/pi-agent/pi/internal/config"
	"github.com/pi-agent/pi/internal/extension"
	"github.com/pi-agent/pi/internal/logging"
	"github.com/pi-agent/pi/internal/mcp"
	"github.com/pi-agent/pi/internal/permission"
	"github.com/pi-agent/pi/internal/provider"
	"github.com/pi-agent/pi/internal/session"
	"github.com/pi-agent/pi/internal/storage"
	"github.com/pi-agent/pi/internal/tool"
	"github.com/pi-agent/pi/pkg/types"
)

// StackConfig selects how NewStack assembles the agent.
type StackConfig struct {
	WorkDir string
	// Model is "provider/model" or a bare model id.
	Model         string
	ThinkingLevel string
	APIKey        string

	// Continue resumes the most recent session of WorkDir.
	Continue bool
	// SessionPath opens a specific session file.
	SessionPath string
	// NoSave keeps the session in memory.
	NoSave bool

	Extensions     []string
	NoExtensions   bool
	ExtensionFlags map[string]any
	UIHandler      extension.UIHandler

	SystemPrompt       string
	AppendSystemPrompt string

	// Approval answers permission prompts. Nil approves everything.
	Approval permission.ApprovalFunc
}

// Stack is a fully wired engine with everything it depends on.
type Stack struct {
	Paths       *config.Paths
	Settings    *types.Settings
	Credentials *provider.Credentials
	Providers   *provider.Registry
	Tools       *tool.Registry
	MCPTools    *tool.Registry
	MCP         *mcp.Client
	Extensions  *extension.Host
	Manifest    *extension.Manifest
	Templates   *command.Set
	Store       *session.Store
	Engine      *agent.Engine
}

// NewStack loads settings and credentials, starts MCP servers and
// extensions, opens the session and creates the engine.
func NewStack(ctx context.Context, cfg StackConfig) (*Stack, error) {
	if cfg.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg.WorkDir = wd
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	settings, err := config.Load(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logging.Component("headless")
	s := &Stack{Paths: paths, Settings: settings}

	s.Credentials = provider.NewCredentials(storage.New(paths.Agent), settings)
	providerID, _ := provider.ParseModelString(cfg.Model)
	if cfg.APIKey != "" && providerID != "" {
		s.Credentials.SetRuntimeKey(providerID, cfg.APIKey)
	}

	s.Providers, err = provider.InitializeProviders(ctx, settings, s.Credentials, paths.ModelsPath())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	var model types.Model
	if cfg.Model != "" {
		model, err = s.Providers.FindModel(cfg.Model)
	} else {
		model, err = s.Providers.DefaultModel()
	}
	if err != nil {
		log.Warn().Err(err).Str("model", cfg.Model).Msg("no model selected")
	}

	s.Tools = tool.DefaultRegistry(cfg.WorkDir, settings)

	if !cfg.NoExtensions {
		extPaths := append(append([]string(nil), settings.Extensions...), cfg.Extensions...)
		if len(extPaths) > 0 {
			opts := []extension.Option{extension.WithFlags(cfg.ExtensionFlags)}
			if cfg.UIHandler != nil {
				opts = append(opts, extension.WithUIHandler(cfg.UIHandler))
			}
			s.Extensions, s.Manifest, err = extension.Spawn(ctx, extPaths, cfg.WorkDir, opts...)
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("failed to load extensions: %w", err)
			}
		}
	}

	s.MCP = mcp.NewClient()
	s.MCPTools = tool.NewRegistry(cfg.WorkDir)
	if len(settings.MCP) > 0 {
		if err := s.MCP.ConnectAll(ctx, settings.MCP); err != nil {
			log.Warn().Err(err).Msg("some MCP servers failed to connect")
		}
		if n := mcp.Register(s.MCP, s.MCPTools); n > 0 {
			log.Debug().Int("tools", n).Msg("registered MCP tools")
		}
	}

	s.Templates = command.Load(cfg.WorkDir, paths.Agent)

	s.Store, err = openSession(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	approve := cfg.Approval
	if approve == nil {
		approve = func(context.Context, permission.Request) (permission.Decision, error) {
			return permission.Approve, nil
		}
	}
	checker := permission.NewChecker(permission.DefaultRules(), cfg.WorkDir, approve)

	var summarizer compaction.Summarizer
	if model.ID != "" {
		chat, err := s.Providers.ChatModel(ctx, model, types.ThinkingOff)
		if err != nil {
			log.Warn().Err(err).Msg("compaction falls back to extractive summaries")
		} else {
			summarizer = &compaction.ModelSummarizer{Model: chat}
		}
	}

	toolNames := s.Tools.IDs()
	if s.Manifest != nil {
		for _, t := range s.Manifest.Tools() {
			toolNames = append(toolNames, t.Name)
		}
	}
	toolNames = append(toolNames, s.MCPTools.IDs()...)
	prompt := &agent.SystemPrompt{
		Custom:   cfg.SystemPrompt,
		Append:   cfg.AppendSystemPrompt,
		Cwd:      cfg.WorkDir,
		AgentDir: paths.Agent,
		Tools:    toolNames,
	}

	var thinking types.ThinkingLevel
	if cfg.ThinkingLevel != "" {
		thinking = types.ParseThinkingLevel(cfg.ThinkingLevel)
	}

	s.Engine, err = agent.New(agent.Config{
		Store:         s.Store,
		Stream:        s.Providers.StreamFunc(),
		Model:         model,
		Models:        s.Providers,
		ThinkingLevel: thinking,
		Tools:         s.Tools,
		MCPTools:      s.MCPTools,
		Compactor:     compaction.NewManager(summarizer),
		Permission:    checker,
		Settings:      settings,
		SystemPrompt:  prompt.Build(),
		AgentDir:      paths.Agent,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	if s.Extensions != nil {
		s.Engine.SetExtensionHost(s.Extensions)
	}
	return s, nil
}

func openSession(cfg StackConfig) (*session.Store, error) {
	switch {
	case cfg.NoSave:
		return session.InMemory(cfg.WorkDir), nil
	case cfg.SessionPath != "":
		store, err := session.Open(cfg.SessionPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open session: %w", err)
		}
		return store, nil
	case cfg.Continue:
		store, err := session.ContinueRecent(cfg.WorkDir, "")
		if err != nil {
			return nil, fmt.Errorf("failed to continue session: %w", err)
		}
		return store, nil
	}
	return session.Create(cfg.WorkDir, ""), nil
}

// Close stops extensions and MCP servers.
func (s *Stack) Close() {
	if s.Engine != nil {
		s.Engine.Abort()
		_ = s.Engine.Wait(context.Background())
	}
	if s.Extensions != nil {
		s.Extensions.Close()
	}
	if s.MCP != nil {
		if err := s.MCP.Close(); err != nil {
			logging.Debug().Err(err).Msg("closing MCP client")
		}
	}
	if s.Engine != nil {
		_ = s.Engine.Bus().Close()
	}
}
