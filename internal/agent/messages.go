package agent

import (
	"fmt"
	"strings"

	"github.com/pi-agent/pi/pkg/types"
)

const (
	compactionSummaryPrefix = "The conversation history before this point was compacted into the following summary:\n\n<summary>\n"
	compactionSummarySuffix = "\n</summary>"

	branchSummaryPrefix = "The following is a summary of a branch that this conversation came back from:\n\n<summary>\n"
	branchSummarySuffix = "\n</summary>"
)

// ConvertToLLM maps session messages to the three roles a model
// understands. Summaries, extension messages and user shell commands become
// user messages; failed assistant messages without content are dropped.
func ConvertToLLM(messages []types.AgentMessage) []types.AgentMessage {
	out := make([]types.AgentMessage, 0, len(messages))
	for _, m := range messages {
		switch m := m.(type) {
		case *types.UserMessage, *types.ToolResultMessage:
			out = append(out, m)
		case *types.AssistantMessage:
			if m.IsFailed() && len(m.Content) == 0 {
				continue
			}
			out = append(out, m)
		case *types.CompactionSummaryMessage:
			out = append(out, userText(compactionSummaryPrefix+m.Summary+compactionSummarySuffix, m.Timestamp))
		case *types.BranchSummaryMessage:
			out = append(out, userText(branchSummaryPrefix+m.Summary+branchSummarySuffix, m.Timestamp))
		case *types.HookMessage:
			out = append(out, &types.UserMessage{Content: m.Content, Timestamp: m.Timestamp})
		case *types.BashExecutionMessage:
			if m.ExcludeFromContext {
				continue
			}
			out = append(out, userText(bashExecutionText(m), m.Timestamp))
		}
	}
	return out
}

func userText(text string, ts int64) *types.UserMessage {
	return &types.UserMessage{Content: types.StringContent(text), Timestamp: ts}
}

func bashExecutionText(m *types.BashExecutionMessage) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Ran `%s`\n", m.Command)
	if m.Output != "" {
		fmt.Fprintf(&sb, "```\n%s\n```", strings.TrimRight(m.Output, "\n"))
	} else {
		sb.WriteString("(no output)")
	}
	switch {
	case m.Cancelled:
		sb.WriteString("\n\n(command cancelled)")
	case m.ExitCode != nil && *m.ExitCode != 0:
		fmt.Fprintf(&sb, "\n\nCommand exited with code %d", *m.ExitCode)
	}
	if m.Truncated && m.FullOutputPath != "" {
		fmt.Fprintf(&sb, "\n\n[Output truncated. Full output: %s]", m.FullOutputPath)
	}
	return sb.String()
}

// FilterOrphanToolCalls removes tool calls that have no result later in
// messages, and tool results whose call is not in an earlier assistant
// message. Such gaps appear when a run was aborted between a tool call and
// its result. Messages left without content are dropped. The input is not
// modified.
func FilterOrphanToolCalls(messages []types.AgentMessage) []types.AgentMessage {
	// Walk backwards so a call only counts as answered by a result that
	// follows it.
	answered := make(map[*types.ToolCall]bool)
	later := make(map[string]bool)
	for i := len(messages) - 1; i >= 0; i-- {
		switch m := messages[i].(type) {
		case *types.ToolResultMessage:
			later[m.ToolCallID] = true
		case *types.AssistantMessage:
			for _, tc := range m.Content.ToolCalls() {
				answered[tc] = later[tc.ID]
			}
		}
	}

	called := make(map[string]bool)
	out := make([]types.AgentMessage, 0, len(messages))
	for _, m := range messages {
		switch m := m.(type) {
		case *types.AssistantMessage:
			kept := m.Content[:0:0]
			dropped := false
			for _, b := range m.Content {
				if tc, ok := b.(*types.ToolCall); ok {
					if !answered[tc] {
						dropped = true
						continue
					}
					called[tc.ID] = true
				}
				kept = append(kept, b)
			}
			if !dropped {
				out = append(out, m)
				continue
			}
			if len(kept) == 0 {
				continue
			}
			cp := *m
			cp.Content = kept
			if cp.StopReason == types.StopReasonToolUse && len(cp.Content.ToolCalls()) == 0 {
				cp.StopReason = types.StopReasonStop
			}
			out = append(out, &cp)
		case *types.ToolResultMessage:
			if called[m.ToolCallID] {
				out = append(out, m)
			}
		default:
			out = append(out, m)
		}
	}
	return out
}
