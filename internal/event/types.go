package event

import (
	"github.com/pi-agent/pi/pkg/types"
)

// Type names an agent event.
type Type string

const (
	AgentStart Type = "agent_start"
	AgentEnd   Type = "agent_end"
	TurnStart  Type = "turn_start"
	TurnEnd    Type = "turn_end"

	MessageStart  Type = "message_start"
	MessageUpdate Type = "message_update"
	MessageEnd    Type = "message_end"

	ToolExecutionStart  Type = "tool_execution_start"
	ToolExecutionUpdate Type = "tool_execution_update"
	ToolExecutionEnd    Type = "tool_execution_end"

	QueueUpdate Type = "queue_update"

	AutoCompactionStart Type = "auto_compaction_start"
	AutoCompactionEnd   Type = "auto_compaction_end"
	SessionCompacted    Type = "session_compact"
	SessionTree         Type = "session_tree"
	SessionSwitched     Type = "session_switch"
	AutoRetry           Type = "auto_retry"

	GitBranchChanged Type = "git_branch_changed"
)

// Event is one notification from an agent engine.
type Event struct {
	Type Type `json:"type"`
	Data any  `json:"data,omitempty"`
}

// AgentEndData lists the messages produced by the run.
type AgentEndData struct {
	Messages types.Messages `json:"messages"`
}

// TurnEndData closes one model call and its tool executions.
type TurnEndData struct {
	Message     *types.AssistantMessage `json:"message"`
	ToolResults types.Messages          `json:"toolResults"`
}

// MessageData carries a message at start or end.
type MessageData struct {
	Message types.AgentMessage `json:"message"`
}

// MessageUpdateData is a streaming update of the assistant message.
type MessageUpdateData struct {
	Message *types.AssistantMessage `json:"message"`
	// Kind is the stream event kind, e.g. "text_delta".
	Kind  string `json:"kind"`
	Delta string `json:"delta,omitempty"`
}

// ToolExecutionStartData is sent before a tool runs.
type ToolExecutionStartData struct {
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	Args       map[string]any `json:"args"`
}

// ToolExecutionUpdateData carries the partial output of a running tool.
type ToolExecutionUpdateData struct {
	ToolCallID string        `json:"toolCallId"`
	ToolName   string        `json:"toolName"`
	Partial    types.Content `json:"partial"`
}

// ToolExecutionEndData is sent after a tool ran or was skipped.
type ToolExecutionEndData struct {
	ToolCallID string        `json:"toolCallId"`
	ToolName   string        `json:"toolName"`
	Content    types.Content `json:"content"`
	Details    any           `json:"details,omitempty"`
	IsError    bool          `json:"isError"`
}

// QueueUpdateData reports the pending steering and follow-up messages.
type QueueUpdateData struct {
	Steering []string `json:"steering"`
	FollowUp []string `json:"followUp"`
}

// AutoCompactionStartData explains why compaction started.
type AutoCompactionStartData struct {
	Reason string `json:"reason"`
}

// AutoCompactionEndData reports the outcome of an automatic compaction.
type AutoCompactionEndData struct {
	Summary      string `json:"summary,omitempty"`
	TokensBefore int64  `json:"tokensBefore,omitempty"`
	Aborted      bool   `json:"aborted,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SessionCompactedData is sent after any compaction entry was appended.
type SessionCompactedData struct {
	EntryID  string `json:"entryId"`
	FromHook bool   `json:"fromHook"`
}

// SessionTreeData is sent when the leaf moved inside the session tree.
type SessionTreeData struct {
	OldLeafID      string `json:"oldLeafId,omitempty"`
	NewLeafID      string `json:"newLeafId,omitempty"`
	SummaryEntryID string `json:"summaryEntryId,omitempty"`
}

// SessionSwitchedData is sent when the engine starts writing to another
// session file.
type SessionSwitchedData struct {
	SessionID   string `json:"sessionId"`
	SessionFile string `json:"sessionFile,omitempty"`
}

// AutoRetryData is sent before a failed model call is retried.
type AutoRetryData struct {
	Attempt      int    `json:"attempt"`
	MaxAttempts  int    `json:"maxAttempts"`
	DelayMs      int64  `json:"delayMs"`
	ErrorMessage string `json:"errorMessage"`
}

// GitBranchChangedData is sent when HEAD of the working directory's
// repository moved to another branch.
type GitBranchChangedData struct {
	Branch string `json:"branch"`
}
