package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message roles.
const (
	RoleUser              = "user"
	RoleAssistant         = "assistant"
	RoleToolResult        = "toolResult"
	RoleBashExecution     = "bashExecution"
	RoleHookMessage       = "hookMessage"
	RoleBranchSummary     = "branchSummary"
	RoleCompactionSummary = "compactionSummary"
)

// StopReason tells why an assistant message ended.
type StopReason string

const (
	StopReasonStop    StopReason = "stop"
	StopReasonLength  StopReason = "length"
	StopReasonToolUse StopReason = "toolUse"
	StopReasonError   StopReason = "error"
	StopReasonAborted StopReason = "aborted"
)

// ErrUnknownRole is returned by UnmarshalMessage for roles it does not know.
var ErrUnknownRole = errors.New("unknown message role")

// AgentMessage is any message the agent keeps in its history.
type AgentMessage interface {
	MessageRole() string
	MessageTimestamp() int64
}

// NowMillis returns the current unix time in milliseconds.
func NowMillis() int64 { return time.Now().UnixMilli() }

// UserMessage is input typed by the user.
type UserMessage struct {
	Content   MessageContent `json:"content"`
	Timestamp int64          `json:"timestamp"`
}

// AssistantMessage is a model response.
type AssistantMessage struct {
	Content      Content    `json:"content"`
	API          string     `json:"api"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
	Usage        Usage      `json:"usage"`
	StopReason   StopReason `json:"stopReason"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Timestamp    int64      `json:"timestamp"`
}

// ToolResultMessage is the outcome of one tool call.
type ToolResultMessage struct {
	ToolCallID string  `json:"toolCallId"`
	ToolName   string  `json:"toolName"`
	Content    Content `json:"content"`
	Details    any     `json:"details,omitempty"`
	IsError    bool    `json:"isError"`
	Timestamp  int64   `json:"timestamp"`
}

// BashExecutionMessage records a shell command run by the user.
type BashExecutionMessage struct {
	Command            string `json:"command"`
	Output             string `json:"output"`
	ExitCode           *int   `json:"exitCode,omitempty"`
	Cancelled          bool   `json:"cancelled"`
	Truncated          bool   `json:"truncated"`
	FullOutputPath     string `json:"fullOutputPath,omitempty"`
	ExcludeFromContext bool   `json:"excludeFromContext,omitempty"`
	Timestamp          int64  `json:"timestamp"`
}

// HookMessage is a message injected by an extension.
type HookMessage struct {
	CustomType string         `json:"customType"`
	Content    MessageContent `json:"content"`
	Display    bool           `json:"display"`
	Details    any            `json:"details,omitempty"`
	Timestamp  int64          `json:"timestamp"`
}

// BranchSummaryMessage summarizes an abandoned branch.
type BranchSummaryMessage struct {
	Summary   string `json:"summary"`
	FromID    string `json:"fromId"`
	Timestamp int64  `json:"timestamp"`
}

// CompactionSummaryMessage replaces compacted history in the context.
type CompactionSummaryMessage struct {
	Summary      string `json:"summary"`
	TokensBefore int64  `json:"tokensBefore"`
	Timestamp    int64  `json:"timestamp"`
}

func (*UserMessage) MessageRole() string              { return RoleUser }
func (*AssistantMessage) MessageRole() string         { return RoleAssistant }
func (*ToolResultMessage) MessageRole() string        { return RoleToolResult }
func (*BashExecutionMessage) MessageRole() string     { return RoleBashExecution }
func (*HookMessage) MessageRole() string              { return RoleHookMessage }
func (*BranchSummaryMessage) MessageRole() string     { return RoleBranchSummary }
func (*CompactionSummaryMessage) MessageRole() string { return RoleCompactionSummary }

func (m *UserMessage) MessageTimestamp() int64              { return m.Timestamp }
func (m *AssistantMessage) MessageTimestamp() int64         { return m.Timestamp }
func (m *ToolResultMessage) MessageTimestamp() int64        { return m.Timestamp }
func (m *BashExecutionMessage) MessageTimestamp() int64     { return m.Timestamp }
func (m *HookMessage) MessageTimestamp() int64              { return m.Timestamp }
func (m *BranchSummaryMessage) MessageTimestamp() int64     { return m.Timestamp }
func (m *CompactionSummaryMessage) MessageTimestamp() int64 { return m.Timestamp }

func withRole(role string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	// body is a JSON object; splice the role in front.
	head := fmt.Sprintf(`{"role":%q`, role)
	if len(body) == 2 {
		return []byte(head + "}"), nil
	}
	return append([]byte(head+","), body[1:]...), nil
}

func (m UserMessage) MarshalJSON() ([]byte, error) {
	type alias UserMessage
	return withRole(RoleUser, alias(m))
}

func (m AssistantMessage) MarshalJSON() ([]byte, error) {
	type alias AssistantMessage
	return withRole(RoleAssistant, alias(m))
}

func (m ToolResultMessage) MarshalJSON() ([]byte, error) {
	type alias ToolResultMessage
	return withRole(RoleToolResult, alias(m))
}

func (m BashExecutionMessage) MarshalJSON() ([]byte, error) {
	type alias BashExecutionMessage
	return withRole(RoleBashExecution, alias(m))
}

func (m HookMessage) MarshalJSON() ([]byte, error) {
	type alias HookMessage
	return withRole(RoleHookMessage, alias(m))
}

func (m BranchSummaryMessage) MarshalJSON() ([]byte, error) {
	type alias BranchSummaryMessage
	return withRole(RoleBranchSummary, alias(m))
}

func (m CompactionSummaryMessage) MarshalJSON() ([]byte, error) {
	type alias CompactionSummaryMessage
	return withRole(RoleCompactionSummary, alias(m))
}

// UnmarshalMessage decodes a role-tagged message.
func UnmarshalMessage(data []byte) (AgentMessage, error) {
	var head struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	var m AgentMessage
	switch head.Role {
	case RoleUser:
		m = &UserMessage{}
	case RoleAssistant:
		m = &AssistantMessage{}
	case RoleToolResult:
		m = &ToolResultMessage{}
	case RoleBashExecution:
		m = &BashExecutionMessage{}
	case RoleHookMessage:
		m = &HookMessage{}
	case RoleBranchSummary:
		m = &BranchSummaryMessage{}
	case RoleCompactionSummary:
		m = &CompactionSummaryMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, head.Role)
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Messages is a list of agent messages that round-trips through JSON.
type Messages []AgentMessage

func (ms *Messages) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Messages, 0, len(raw))
	for _, r := range raw {
		m, err := UnmarshalMessage(r)
		if err != nil {
			return err
		}
		out = append(out, m)
	}
	*ms = out
	return nil
}

func (ms Messages) MarshalJSON() ([]byte, error) {
	if ms == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]AgentMessage(ms))
}

// NewUserMessage builds a user message with string content.
func NewUserMessage(text string) *UserMessage {
	return &UserMessage{Content: StringContent(text), Timestamp: NowMillis()}
}

// IsFailed reports whether the assistant message ended in error or abort.
func (m *AssistantMessage) IsFailed() bool {
	return m.StopReason == StopReasonError || m.StopReason == StopReasonAborted
}
