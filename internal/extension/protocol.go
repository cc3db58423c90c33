package extension

import (
	"bytes"
	"encoding/json"

	"github.com/pi-agent/pi/pkg/types"
)

// ProtocolVersion is sent in the initialize request.
const ProtocolVersion = 1

// Methods sent by the host.
const (
	MethodInitialize = "initialize"
	MethodCallTool   = "call_tool"
)

// Methods sent by an extension.
const (
	MethodRegisterTool    = "register_tool"
	MethodRegisterHook    = "register_hook"
	MethodRegisterCommand = "register_command"
	MethodRegisterFlag    = "register_flag"

	MethodUIInput   = "ui.input"
	MethodUIConfirm = "ui.confirm"
	MethodUISelect  = "ui.select"
	MethodUINotify  = "ui.notify"
)

// Lifecycle events dispatched to hooks. The compaction events are defined by
// the compaction package.
const (
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventContext    = "context"
	EventShutdown   = "shutdown"

	// EventLog is sent by extensions to write to the host log.
	EventLog = "log"
)

// RPCError is the error member of a failed response.
type RPCError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

// frame is any line on the wire. Requests have a method, events an event
// name, and responses only an id.
type frame struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (f *frame) isRequest() bool  { return f.Method != "" && len(f.ID) > 0 }
func (f *frame) isEvent() bool    { return f.Event != "" }
func (f *frame) isResponse() bool { return f.Method == "" && f.Event == "" && len(f.ID) > 0 }

type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result"`
}

type errorResponse struct {
	ID    json.RawMessage `json:"id"`
	Error RPCError        `json:"error"`
}

type event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// isRegistration reports whether method is served on the reader goroutine,
// so registrations are applied before the initialize response is seen.
func isRegistration(method string) bool {
	switch method {
	case MethodRegisterTool, MethodRegisterHook, MethodRegisterCommand, MethodRegisterFlag:
		return true
	}
	return false
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// InitializeParams is sent to every extension at startup.
type InitializeParams struct {
	Cwd             string         `json:"cwd"`
	ProtocolVersion int            `json:"protocolVersion"`
	Flags           map[string]any `json:"flags,omitempty"`
}

// ToolDef is a tool registered by an extension.
type ToolDef struct {
	Name        string          `json:"name"`
	Label       string          `json:"label,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// HookDef subscribes an extension to a lifecycle event.
type HookDef struct {
	Event string `json:"event"`
}

// CommandDef is a slash command registered by an extension.
type CommandDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// FlagDef is a CLI flag registered by an extension.
type FlagDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// CallContext is sent with tool calls and hook events.
type CallContext struct {
	Cwd            string        `json:"cwd"`
	HasUI          bool          `json:"hasUI"`
	SessionEntries []types.Entry `json:"sessionEntries,omitempty"`
}

type callToolParams struct {
	Name       string         `json:"name"`
	ToolCallID string         `json:"toolCallId"`
	Input      map[string]any `json:"input"`
	Context    CallContext    `json:"context"`
}

// ToolResult is the outcome of an extension tool call.
type ToolResult struct {
	Content types.Content `json:"content"`
	Details any           `json:"details,omitempty"`
	IsError bool          `json:"isError,omitempty"`
}

// parseToolResult accepts null (empty content), a bare string (one text
// block) or a {content, details, isError} object.
func parseToolResult(raw json.RawMessage) (*ToolResult, error) {
	if isNull(raw) {
		return &ToolResult{Content: types.Content{}}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &ToolResult{Content: types.Content{types.Text(s)}}, nil
	}
	var r ToolResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	if r.Content == nil {
		r.Content = types.Content{}
	}
	return &r, nil
}

type logData struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}
