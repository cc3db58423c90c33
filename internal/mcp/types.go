package mcp

import (
	"encoding/json"

	"github.com/pi-agent/pi/pkg/types"
)

// Config defines MCP server configuration.
type Config struct {
	Enabled     bool              `json:"enabled"`
	Type        TransportType     `json:"type"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Timeout     int               `json:"timeout,omitempty"` // milliseconds
}

// ConfigFromSettings converts one "mcp" settings entry. Servers are enabled
// unless disabled explicitly; the transport defaults to remote when only a
// URL is given and to local otherwise.
func ConfigFromSettings(s types.MCPConfig) *Config {
	cfg := &Config{
		Enabled:     s.Enabled == nil || *s.Enabled,
		Type:        TransportType(s.Type),
		URL:         s.URL,
		Command:     s.Command,
		Environment: s.Environment,
		Timeout:     s.Timeout,
	}
	if cfg.Type == "" {
		cfg.Type = TransportTypeLocal
		if len(s.Command) == 0 && s.URL != "" {
			cfg.Type = TransportTypeRemote
		}
	}
	return cfg
}

// TransportType represents the type of MCP transport.
type TransportType string

const (
	TransportTypeRemote TransportType = "remote"
	TransportTypeLocal  TransportType = "local"
	TransportTypeStdio  TransportType = "stdio"
)

// Tool is a tool offered by a server. Name is the server-local name.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ServerStatus represents the status of an MCP server.
type ServerStatus struct {
	Name      string  `json:"name"`
	Status    Status  `json:"status"`
	ToolCount int     `json:"toolCount"`
	Version   string  `json:"version,omitempty"`
	Error     *string `json:"error,omitempty"`
}

// Status represents the connection status.
type Status string

const (
	StatusConnected  Status = "connected"
	StatusDisabled   Status = "disabled"
	StatusFailed     Status = "failed"
	StatusConnecting Status = "connecting"
)
