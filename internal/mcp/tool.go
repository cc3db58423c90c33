package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pi-agent/pi/internal/tool"
)

// ServerTool adapts a tool of a connected server to tool.Tool.
type ServerTool struct {
	info   Tool // prefixed name, as returned by Client.Tools
	client *Client
}

var _ tool.Tool = (*ServerTool)(nil)

// NewServerTool wraps info, a tool returned by client.Tools.
func NewServerTool(info Tool, client *Client) *ServerTool {
	return &ServerTool{info: info, client: client}
}

func (t *ServerTool) ID() string                  { return t.info.Name }
func (t *ServerTool) Description() string         { return t.info.Description }
func (t *ServerTool) Parameters() json.RawMessage { return t.info.InputSchema }

// Execute calls the tool on its server. A tool-reported failure becomes an
// error carrying the tool's text so the engine records an error result.
func (t *ServerTool) Execute(ctx context.Context, input json.RawMessage, _ *tool.Context) (*tool.Result, error) {
	var args map[string]any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}

	content, isError, err := t.client.CallTool(ctx, t.info.Name, args)
	if err != nil {
		return nil, err
	}
	if isError {
		msg := content.Texts()
		if msg == "" {
			msg = "tool execution failed"
		}
		return nil, errors.New(msg)
	}
	return &tool.Result{Content: content, Details: map[string]any{"type": "mcp"}}, nil
}

// Register adds every tool of the connected servers to registry. A tool
// already in registry keeps its name; a clashing server tool is skipped.
func Register(client *Client, registry *tool.Registry) int {
	if client == nil || registry == nil {
		return 0
	}
	n := 0
	for _, info := range client.Tools() {
		if _, exists := registry.Get(info.Name); exists {
			client.log.Warn().Str("tool", info.Name).Msg("MCP tool shadowed by existing tool")
			continue
		}
		registry.Register(NewServerTool(info, client))
		n++
	}
	return n
}
