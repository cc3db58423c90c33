package provider

import (
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/pi-agent/pi/pkg/types"
)

// ConvertToEinoMessages converts the LLM context to Eino messages. Roles
// other than user, assistant and toolResult must already be converted to
// user messages by the caller. Failed assistant messages with no content
// are dropped since providers reject empty assistant turns.
func ConvertToEinoMessages(systemPrompt string, messages []types.AgentMessage) []*schema.Message {
	result := make([]*schema.Message, 0, len(messages)+1)
	if systemPrompt != "" {
		result = append(result, schema.SystemMessage(systemPrompt))
	}

	for _, msg := range messages {
		switch m := msg.(type) {
		case *types.UserMessage:
			result = append(result, userMessage(m.Content))

		case *types.AssistantMessage:
			if em := assistantMessage(m); em != nil {
				result = append(result, em)
			}

		case *types.ToolResultMessage:
			text := m.Content.Texts()
			if text == "" && m.IsError {
				text = "Error"
			}
			result = append(result, schema.ToolMessage(text, m.ToolCallID, schema.WithToolName(m.ToolName)))
		}
	}
	return result
}

func userMessage(c types.MessageContent) *schema.Message {
	if !c.IsBlocks() {
		return schema.UserMessage(c.Text)
	}

	var parts []schema.ChatMessagePart
	hasImage := false
	for _, b := range c.Blocks {
		switch v := b.(type) {
		case *types.TextContent:
			parts = append(parts, schema.ChatMessagePart{Type: schema.ChatMessagePartTypeText, Text: v.Text})
		case *types.ImageContent:
			hasImage = true
			parts = append(parts, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:      fmt.Sprintf("data:%s;base64,%s", v.MimeType, v.Data),
					MIMEType: v.MimeType,
				},
			})
		}
	}
	if !hasImage {
		return schema.UserMessage(c.PlainText())
	}
	return &schema.Message{Role: schema.User, MultiContent: parts}
}

func assistantMessage(m *types.AssistantMessage) *schema.Message {
	out := &schema.Message{Role: schema.Assistant}
	for _, b := range m.Content {
		switch v := b.(type) {
		case *types.TextContent:
			out.Content += v.Text
		case *types.ThinkingContent:
			out.ReasoningContent += v.Thinking
		case *types.ToolCall:
			args, _ := json.Marshal(v.Arguments)
			if v.Arguments == nil {
				args = []byte("{}")
			}
			idx := len(out.ToolCalls)
			out.ToolCalls = append(out.ToolCalls, schema.ToolCall{
				Index: &idx,
				ID:    v.ID,
				Type:  "function",
				Function: schema.FunctionCall{
					Name:      v.Name,
					Arguments: string(args),
				},
			})
		}
	}
	if m.IsFailed() && out.Content == "" && len(out.ToolCalls) == 0 {
		return nil
	}
	return out
}
