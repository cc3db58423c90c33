package types

import (
	"encoding/json"
	"fmt"
)

// Content block type tags.
const (
	BlockText     = "text"
	BlockThinking = "thinking"
	BlockToolCall = "toolCall"
	BlockImage    = "image"
)

// ContentBlock is one element of a message body.
type ContentBlock interface {
	BlockType() string
}

// TextContent is plain text produced by the user or the model.
type TextContent struct {
	Text          string `json:"text"`
	TextSignature string `json:"textSignature,omitempty"`
}

// ThinkingContent carries model reasoning.
type ThinkingContent struct {
	Thinking          string `json:"thinking"`
	ThinkingSignature string `json:"thinkingSignature,omitempty"`
}

// ToolCall is a model request to run a tool.
type ToolCall struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Arguments        map[string]any `json:"arguments"`
	ThoughtSignature string         `json:"thoughtSignature,omitempty"`
}

// ImageContent is a base64 encoded image.
type ImageContent struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

func (*TextContent) BlockType() string     { return BlockText }
func (*ThinkingContent) BlockType() string { return BlockThinking }
func (*ToolCall) BlockType() string        { return BlockToolCall }
func (*ImageContent) BlockType() string    { return BlockImage }

func (c TextContent) MarshalJSON() ([]byte, error) {
	type alias TextContent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{BlockText, alias(c)})
}

func (c ThinkingContent) MarshalJSON() ([]byte, error) {
	type alias ThinkingContent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{BlockThinking, alias(c)})
}

func (c ToolCall) MarshalJSON() ([]byte, error) {
	type alias ToolCall
	a := alias(c)
	if a.Arguments == nil {
		a.Arguments = map[string]any{}
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{BlockToolCall, a})
}

func (c ImageContent) MarshalJSON() ([]byte, error) {
	type alias ImageContent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{BlockImage, alias(c)})
}

// Text builds a text block.
func Text(s string) *TextContent { return &TextContent{Text: s} }

// UnmarshalBlock decodes a single tagged content block.
func UnmarshalBlock(data []byte) (ContentBlock, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	var b ContentBlock
	switch head.Type {
	case BlockText:
		b = &TextContent{}
	case BlockThinking:
		b = &ThinkingContent{}
	case BlockToolCall:
		b = &ToolCall{}
	case BlockImage:
		b = &ImageContent{}
	default:
		return nil, fmt.Errorf("unknown content block type %q", head.Type)
	}
	if err := json.Unmarshal(data, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Content is an ordered list of content blocks.
type Content []ContentBlock

func (c *Content) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Content, 0, len(raw))
	for _, r := range raw {
		b, err := UnmarshalBlock(r)
		if err != nil {
			return err
		}
		out = append(out, b)
	}
	*c = out
	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]ContentBlock(c))
}

// Texts returns the text of every text block joined by newlines.
func (c Content) Texts() string {
	var s string
	for _, b := range c {
		if t, ok := b.(*TextContent); ok {
			if s != "" {
				s += "\n"
			}
			s += t.Text
		}
	}
	return s
}

// ToolCalls returns the tool call blocks in order.
func (c Content) ToolCalls() []*ToolCall {
	var calls []*ToolCall
	for _, b := range c {
		if tc, ok := b.(*ToolCall); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// MessageContent is either a plain string or a list of blocks.
// Blocks wins when non-nil.
type MessageContent struct {
	Text   string
	Blocks Content
}

// StringContent wraps s as string content.
func StringContent(s string) MessageContent { return MessageContent{Text: s} }

// BlockContent wraps blocks as list content.
func BlockContent(blocks ...ContentBlock) MessageContent {
	if blocks == nil {
		blocks = Content{}
	}
	return MessageContent{Blocks: blocks}
}

// IsBlocks reports whether the content is the list form.
func (m MessageContent) IsBlocks() bool { return m.Blocks != nil }

// AsBlocks returns the content as blocks, wrapping string content in a text block.
func (m MessageContent) AsBlocks() Content {
	if m.Blocks != nil {
		return m.Blocks
	}
	return Content{Text(m.Text)}
}

// PlainText returns string content, or the joined text blocks.
func (m MessageContent) PlainText() string {
	if m.Blocks != nil {
		return m.Blocks.Texts()
	}
	return m.Text
}

func (m MessageContent) MarshalJSON() ([]byte, error) {
	if m.Blocks != nil {
		return json.Marshal(m.Blocks)
	}
	return json.Marshal(m.Text)
}

func (m *MessageContent) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		m.Blocks = nil
		return json.Unmarshal(data, &m.Text)
	}
	if string(data) == "null" {
		*m = MessageContent{}
		return nil
	}
	m.Text = ""
	return json.Unmarshal(data, &m.Blocks)
}
