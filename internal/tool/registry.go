package tool

import (
	"sort"
	"sync"

	"github.com/pi-agent/pi/internal/config"
	"github.com/pi-agent/pi/internal/provider"
	"github.com/pi-agent/pi/pkg/types"
)

// Registry manages tool registration and lookup.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	workDir string
}

// NewRegistry creates a new tool registry.
func NewRegistry(workDir string) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		workDir: workDir,
	}
}

// WorkDir returns the directory tools run in.
func (r *Registry) WorkDir() string {
	return r.workDir
}

// Register adds a tool, replacing any tool with the same ID.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.ID()] = tool
}

// Unregister removes a tool.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, id)
}

// Get retrieves a tool by ID.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[id]
	return tool, ok
}

// List returns all registered tools sorted by ID.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].ID() < tools[j].ID() })
	return tools
}

// IDs returns all tool IDs, sorted.
func (r *Registry) IDs() []string {
	tools := r.List()
	ids := make([]string, len(tools))
	for i, t := range tools {
		ids[i] = t.ID()
	}
	return ids
}

// Infos describes every tool for the model.
func (r *Registry) Infos() []provider.ToolInfo {
	tools := r.List()
	infos := make([]provider.ToolInfo, len(tools))
	for i, t := range tools {
		infos[i] = provider.ToolInfo{
			Name:        t.ID(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		}
	}
	return infos
}

// DefaultRegistry creates a registry with the built-in tools that settings
// leave enabled.
func DefaultRegistry(workDir string, settings *types.Settings) *Registry {
	r := NewRegistry(workDir)
	var shell string
	if settings != nil {
		shell = settings.ShellPath
	}

	for _, t := range []Tool{
		NewReadTool(workDir),
		NewWriteTool(workDir),
		NewEditTool(workDir),
		NewBashTool(workDir, shell),
		NewLsTool(workDir),
		NewGlobTool(workDir),
		NewGrepTool(workDir),
		NewWebFetchTool(nil),
	} {
		if config.ToolEnabled(settings, t.ID()) {
			r.Register(t)
		}
	}
	return r
}
