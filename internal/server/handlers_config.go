package server

import (
	"net/http"

	"github.com/pi-agent/pi/internal/mcp"
	"github.com/pi-agent/pi/internal/tool"
	"github.com/pi-agent/pi/internal/vcs"
	"github.com/pi-agent/pi/pkg/types"
)

// ToolDefinition describes one tool offered to the model.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
	// Source is "builtin", "extension" or "mcp".
	Source string `json:"source"`
}

// getConfig handles GET /config
//
// API keys are redacted.
func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeJSON(w, http.StatusOK, types.Settings{})
		return
	}
	out := *s.settings
	if len(s.settings.Provider) > 0 {
		out.Provider = make(map[string]types.ProviderConfig, len(s.settings.Provider))
		for id, p := range s.settings.Provider {
			if p.APIKey != "" {
				p.APIKey = "********"
			}
			out.Provider[id] = p
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// listModels handles GET /model
func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	models := []types.Model{}
	if s.providers != nil {
		models = append(models, s.providers.AllModels()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"current": s.engine.Model(),
		"models":  models,
	})
}

// listTools handles GET /tool
//
// Tools are listed in the order calls resolve them: built-in, extension,
// then MCP. Shadowed names are listed once.
func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	defs := []ToolDefinition{}
	seen := map[string]bool{}
	addRegistry := func(reg *tool.Registry, source string) {
		if reg == nil {
			return
		}
		for _, t := range reg.List() {
			if seen[t.ID()] {
				continue
			}
			seen[t.ID()] = true
			defs = append(defs, ToolDefinition{
				Name:        t.ID(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
				Source:      source,
			})
		}
	}

	addRegistry(s.tools, "builtin")
	if host := s.engine.ExtensionHost(); host != nil {
		for _, t := range host.Tools() {
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			defs = append(defs, ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
				Source:      "extension",
			})
		}
	}
	addRegistry(s.mcpTools, "mcp")
	writeJSON(w, http.StatusOK, defs)
}

// getMCPStatus handles GET /mcp
func (s *Server) getMCPStatus(w http.ResponseWriter, r *http.Request) {
	status := []mcp.ServerStatus{}
	if s.mcpClient != nil {
		status = append(status, s.mcpClient.Status()...)
	}
	writeJSON(w, http.StatusOK, status)
}

// listCommands handles GET /command
//
// Prompt templates come first, then commands registered by extensions.
func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	type commandInfo struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Source      string `json:"source"`
	}
	out := []commandInfo{}
	for _, t := range s.templates.List() {
		out = append(out, commandInfo{Name: t.Name, Description: t.Description, Source: "template"})
	}
	if host := s.engine.ExtensionHost(); host != nil {
		for _, c := range host.Commands() {
			out = append(out, commandInfo{Name: c.Name, Description: c.Description, Source: "extension"})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// VCSInfo is the response of GET /vcs.
type VCSInfo struct {
	Branch string `json:"branch,omitempty"`
}

// getVCS handles GET /vcs
func (s *Server) getVCS(w http.ResponseWriter, r *http.Request) {
	branch := s.vcs.Branch()
	if s.vcs == nil {
		branch = vcs.Branch(s.engine.Session().Cwd())
	}
	writeJSON(w, http.StatusOK, VCSInfo{Branch: branch})
}
