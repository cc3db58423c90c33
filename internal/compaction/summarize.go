package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/pi-agent/pi/pkg/types"
)

// Summarizer produces the summary text for a preparation.
type Summarizer interface {
	Summarize(ctx context.Context, p *Preparation, customInstructions string) (string, error)
}

// fallbackWords bounds the deterministic summary.
const fallbackWords = 32

// FallbackSummarizer builds a short extract of the summarized messages
// without calling a model.
type FallbackSummarizer struct{}

func (FallbackSummarizer) Summarize(_ context.Context, p *Preparation, customInstructions string) (string, error) {
	var parts []string
	msgs := append(append([]types.AgentMessage{}, p.MessagesToSummarize...), p.TurnPrefixMessages...)
	for _, m := range msgs {
		if t := messageText(m); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	summary := "Summary: " + clipWords(strings.Join(parts, " "), fallbackWords)
	if customInstructions != "" {
		summary += " " + clipWords(customInstructions, 6)
	}
	return summary, nil
}

func messageText(m types.AgentMessage) string {
	switch m := m.(type) {
	case *types.UserMessage:
		return m.Content.PlainText()
	case *types.AssistantMessage:
		return m.Content.Texts()
	case *types.ToolResultMessage:
		return m.Content.Texts()
	case *types.HookMessage:
		return m.Content.PlainText()
	case *types.BranchSummaryMessage:
		return m.Summary
	case *types.CompactionSummaryMessage:
		return m.Summary
	case *types.BashExecutionMessage:
		return m.Output
	}
	return ""
}

func clipWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

const summarizationSystemPrompt = `You are a context summarization assistant. Your task is to read a conversation between a user and an AI coding assistant, then produce a structured summary following the exact format specified.

Do NOT continue the conversation. Do NOT respond to any questions in the conversation. ONLY output the structured summary.`

const summarizationPrompt = `The messages above are a conversation to summarize. Create a structured context checkpoint summary that another LLM will use to continue the work.

Use this EXACT format:

## Goal
[What is the user trying to accomplish?]

## Constraints & Preferences
- [Any constraints, preferences, or requirements mentioned by user]

## Progress
### Done
- [x] [Completed tasks/changes]

### In Progress
- [ ] [Current work]

## Key Decisions
- **[Decision]**: [Brief rationale]

## Next Steps
1. [Ordered list of what should happen next]

## Critical Context
- [Any data, examples, or references needed to continue]

Keep each section concise. Preserve exact file paths, function names, and error messages.`

const updatePrompt = `The messages above are NEW conversation messages to incorporate into the existing summary provided in <previous-summary> tags.

Update the existing structured summary with new information. Preserve all existing information from the previous summary, move items from "In Progress" to "Done" when completed and update "Next Steps" based on what was accomplished. Use the same format as the previous summary.`

const turnPrefixPrompt = `This is the PREFIX of a turn that was too large to keep. The SUFFIX (recent work) is retained.

Summarize the prefix to provide context for the retained suffix:

## Original Request
[What did the user ask for in this turn?]

## Early Progress
- [Key decisions and work done in the prefix]

## Context for Suffix
- [Information needed to understand the retained recent work]

Be concise. Focus on what's needed to understand the kept suffix.`

// maxToolResultChars truncates tool output in the serialized conversation.
const maxToolResultChars = 2000

// ModelSummarizer asks a chat model for the summary. Split turns get a second
// call for the turn prefix; both summaries are joined.
type ModelSummarizer struct {
	Model     model.BaseChatModel
	MaxTokens int
}

func (s *ModelSummarizer) Summarize(ctx context.Context, p *Preparation, customInstructions string) (string, error) {
	var history string
	if len(p.MessagesToSummarize) > 0 || p.PreviousSummary != "" {
		prompt := summarizationPrompt
		if p.PreviousSummary != "" {
			prompt = updatePrompt
		}
		var err error
		history, err = s.generate(ctx, p.MessagesToSummarize, p.PreviousSummary, prompt, customInstructions)
		if err != nil {
			return "", err
		}
	}

	if !p.IsSplitTurn || len(p.TurnPrefixMessages) == 0 {
		return history, nil
	}
	prefix, err := s.generate(ctx, p.TurnPrefixMessages, "", turnPrefixPrompt, "")
	if err != nil {
		return "", err
	}
	if history == "" {
		return prefix, nil
	}
	return history + "\n\n---\n\n**Turn Context (split turn):**\n\n" + prefix, nil
}

func (s *ModelSummarizer) generate(ctx context.Context, msgs []types.AgentMessage, previous, prompt, instructions string) (string, error) {
	var b strings.Builder
	b.WriteString("<conversation>\n")
	b.WriteString(SerializeConversation(msgs))
	b.WriteString("\n</conversation>\n\n")
	if previous != "" {
		b.WriteString("<previous-summary>\n" + previous + "\n</previous-summary>\n\n")
	}
	b.WriteString(prompt)
	if instructions != "" {
		b.WriteString("\n\nAdditional focus: " + instructions)
	}

	var opts []model.Option
	if s.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(s.MaxTokens))
	}
	resp, err := s.Model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(summarizationSystemPrompt),
		schema.UserMessage(b.String()),
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("summarization failed: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// SerializeConversation renders messages as plain text for a summarization
// prompt so the model does not treat them as a live conversation.
func SerializeConversation(msgs []types.AgentMessage) string {
	var parts []string
	for _, m := range msgs {
		switch m := m.(type) {
		case *types.UserMessage:
			if t := m.Content.PlainText(); t != "" {
				parts = append(parts, "[User]: "+t)
			}
		case *types.AssistantMessage:
			var thinking, text []string
			var calls []string
			for _, b := range m.Content {
				switch v := b.(type) {
				case *types.ThinkingContent:
					thinking = append(thinking, v.Thinking)
				case *types.TextContent:
					text = append(text, v.Text)
				case *types.ToolCall:
					args, _ := json.Marshal(v.Arguments)
					calls = append(calls, fmt.Sprintf("%s(%s)", v.Name, args))
				}
			}
			if len(thinking) > 0 {
				parts = append(parts, "[Assistant thinking]: "+strings.Join(thinking, "\n"))
			}
			if len(text) > 0 {
				parts = append(parts, "[Assistant]: "+strings.Join(text, "\n"))
			}
			if len(calls) > 0 {
				parts = append(parts, "[Assistant tool calls]: "+strings.Join(calls, "; "))
			}
		case *types.ToolResultMessage:
			if t := m.Content.Texts(); t != "" {
				if len(t) > maxToolResultChars {
					t = t[:maxToolResultChars] + "\n[... truncated]"
				}
				parts = append(parts, "[Tool result]: "+t)
			}
		case *types.BashExecutionMessage:
			parts = append(parts, fmt.Sprintf("[User ran]: %s\n%s", m.Command, m.Output))
		case *types.HookMessage:
			if t := m.Content.PlainText(); t != "" {
				parts = append(parts, "[User]: "+t)
			}
		case *types.BranchSummaryMessage:
			parts = append(parts, "[Branch summary]: "+m.Summary)
		case *types.CompactionSummaryMessage:
			parts = append(parts, "[Earlier summary]: "+m.Summary)
		}
	}
	return strings.Join(parts, "\n\n")
}
