package compaction

import (
	"encoding/json"

	"github.com/pi-agent/pi/internal/config"
	"github.com/pi-agent/pi/pkg/types"
)

// imageChars is the character weight charged for one image block.
const imageChars = 4800

// ContextTokens returns the context size implied by usage.
func ContextTokens(u types.Usage) int64 {
	return u.ContextTokens()
}

// LastAssistantUsage returns the usage of the newest assistant message that
// neither failed nor was aborted.
func LastAssistantUsage(entries []types.Entry) (types.Usage, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		me, ok := entries[i].(*types.MessageEntry)
		if !ok {
			continue
		}
		am, ok := me.Message.(*types.AssistantMessage)
		if !ok || am.IsFailed() {
			continue
		}
		return am.Usage, true
	}
	return types.Usage{}, false
}

// ShouldCompact reports whether contextTokens leaves less than the reserve
// free in a window of contextWindow tokens. An unknown window never
// triggers.
func ShouldCompact(contextTokens, contextWindow int64, settings config.Compaction) bool {
	if !settings.Enabled || contextWindow <= 0 {
		return false
	}
	return contextTokens > contextWindow-settings.ReserveTokens
}

// EstimateTokens approximates the token count of msg at four characters per token.
func EstimateTokens(msg types.AgentMessage) int64 {
	var chars int
	switch m := msg.(type) {
	case *types.UserMessage:
		chars = contentChars(m.Content.AsBlocks(), false)
	case *types.AssistantMessage:
		for _, b := range m.Content {
			switch v := b.(type) {
			case *types.TextContent:
				chars += len(v.Text)
			case *types.ThinkingContent:
				chars += len(v.Thinking)
			case *types.ToolCall:
				chars += len(v.Name)
				args, _ := json.Marshal(v.Arguments)
				chars += len(args)
			}
		}
	case *types.HookMessage:
		chars = contentChars(m.Content.AsBlocks(), true)
	case *types.ToolResultMessage:
		chars = contentChars(m.Content, true)
	case *types.BashExecutionMessage:
		chars = len(m.Command) + len(m.Output)
	case *types.BranchSummaryMessage:
		chars = len(m.Summary)
	case *types.CompactionSummaryMessage:
		chars = len(m.Summary)
	}
	return int64((chars + 3) / 4)
}

func contentChars(blocks types.Content, countImages bool) int {
	var n int
	for _, b := range blocks {
		switch v := b.(type) {
		case *types.TextContent:
			n += len(v.Text)
		case *types.ImageContent:
			if countImages {
				n += imageChars
			}
		}
	}
	return n
}
