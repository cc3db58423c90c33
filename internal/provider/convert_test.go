package provider

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pi-agent/pi/pkg/types"
)

func TestConvertToEinoMessages(t *testing.T) {
	msgs := []types.AgentMessage{
		types.NewUserMessage("list files"),
		&types.AssistantMessage{
			Content: types.Content{
				&types.ThinkingContent{Thinking: "use ls"},
				&types.TextContent{Text: "Listing."},
				&types.ToolCall{ID: "c1", Name: "ls", Arguments: map[string]any{"path": "."}},
			},
			StopReason: types.StopReasonToolUse,
		},
		&types.ToolResultMessage{ToolCallID: "c1", ToolName: "ls", Content: types.Content{types.Text("a.go")}},
		// failed turn with nothing to replay
		&types.AssistantMessage{Content: types.Content{}, StopReason: types.StopReasonError, ErrorMessage: "boom"},
		&types.ToolResultMessage{ToolCallID: "c2", ToolName: "read", IsError: true},
	}

	out := ConvertToEinoMessages("system", msgs)
	require.Len(t, out, 5)

	assert.Equal(t, schema.System, out[0].Role)
	assert.Equal(t, schema.User, out[1].Role)
	assert.Equal(t, "list files", out[1].Content)

	assert.Equal(t, schema.Assistant, out[2].Role)
	assert.Equal(t, "Listing.", out[2].Content)
	assert.Equal(t, "use ls", out[2].ReasoningContent)
	require.Len(t, out[2].ToolCalls, 1)
	assert.Equal(t, "c1", out[2].ToolCalls[0].ID)
	assert.Equal(t, "ls", out[2].ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"path":"."}`, out[2].ToolCalls[0].Function.Arguments)

	assert.Equal(t, schema.Tool, out[3].Role)
	assert.Equal(t, "c1", out[3].ToolCallID)
	assert.Equal(t, "a.go", out[3].Content)

	assert.Equal(t, "Error", out[4].Content)
}

func TestConvertUserImages(t *testing.T) {
	msg := &types.UserMessage{Content: types.BlockContent(
		types.Text("what is this"),
		&types.ImageContent{Data: "aGk=", MimeType: "image/png"},
	)}

	out := ConvertToEinoMessages("", []types.AgentMessage{msg})
	require.Len(t, out, 1)
	require.Len(t, out[0].MultiContent, 2)
	assert.Equal(t, "what is this", out[0].MultiContent[0].Text)
	assert.Equal(t, "data:image/png;base64,aGk=", out[0].MultiContent[1].ImageURL.URL)
}

func TestConvertToEinoTools_NestedSchema(t *testing.T) {
	tools := ConvertToEinoTools([]ToolInfo{{
		Name: "edit",
		Parameters: []byte(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "file"},
				"edits": {"type": "array", "items": {"type": "object", "properties": {"old": {"type": "string"}}}},
				"limit": {"type": ["integer", "null"]}
			},
			"required": ["path"]
		}`),
	}})
	require.Len(t, tools, 1)

	js, err := tools[0].ParamsOneOf.ToJSONSchema()
	require.NoError(t, err)
	require.NotNil(t, js)
	assert.Contains(t, js.Required, "path")
}
