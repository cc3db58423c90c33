package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/pi-agent/pi/pkg/types"
)

// EventType names a streaming event.
type EventType string

const (
	EventStart         EventType = "start"
	EventTextStart     EventType = "text_start"
	EventTextDelta     EventType = "text_delta"
	EventTextEnd       EventType = "text_end"
	EventThinkingStart EventType = "thinking_start"
	EventThinkingDelta EventType = "thinking_delta"
	EventThinkingEnd   EventType = "thinking_end"
	EventToolCallStart EventType = "toolcall_start"
	EventToolCallDelta EventType = "toolcall_delta"
	EventToolCallEnd   EventType = "toolcall_end"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// AbortedMessage is the error text of a cancelled model call.
const AbortedMessage = "Request was aborted"

// StreamEvent is one step of an assistant message being built. Partial is
// the message so far; it is owned by the stream and must not be retained
// across events without copying.
type StreamEvent struct {
	Type         EventType
	ContentIndex int
	Delta        string
	ToolCall     *types.ToolCall
	Partial      *types.AssistantMessage
	Reason       types.StopReason
}

// Sink receives stream events in order.
type Sink func(StreamEvent)

// Context is the input of one model call.
type Context struct {
	SystemPrompt string
	Messages     []types.AgentMessage
	Tools        []ToolInfo
}

// Options tune one model call.
type Options struct {
	MaxTokens     int
	Temperature   *float32
	ThinkingLevel types.ThinkingLevel
}

// StreamFunc performs one model call. It never returns an error: failures
// and cancellation are reported on the returned message through StopReason
// and ErrorMessage.
type StreamFunc func(ctx context.Context, m types.Model, c Context, opts Options, sink Sink) *types.AssistantMessage

// Stream runs one streaming call against an Eino chat model and assembles
// the assistant message, reporting each step to sink.
func Stream(ctx context.Context, cm model.ToolCallingChatModel, m types.Model, c Context, opts Options, sink Sink) *types.AssistantMessage {
	b := newBuilder(m, sink)
	b.emit(StreamEvent{Type: EventStart})

	if len(c.Tools) > 0 {
		bound, err := cm.WithTools(ConvertToEinoTools(c.Tools))
		if err != nil {
			return b.fail(err)
		}
		cm = bound
	}

	var callOpts []model.Option
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, model.WithMaxTokens(opts.MaxTokens))
	}
	if opts.Temperature != nil {
		callOpts = append(callOpts, model.WithTemperature(*opts.Temperature))
	}

	reader, err := cm.Stream(ctx, ConvertToEinoMessages(c.SystemPrompt, c.Messages), callOpts...)
	if err != nil {
		if ctx.Err() != nil {
			return b.abort()
		}
		return b.fail(err)
	}
	defer reader.Close()

	chunks := make(chan recvResult)
	go func() {
		defer close(chunks)
		for {
			msg, err := reader.Recv()
			select {
			case chunks <- recvResult{msg: msg, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return b.abort()
		case r, ok := <-chunks:
			if !ok {
				return b.abort()
			}
			if ctx.Err() != nil {
				return b.abort()
			}
			if errors.Is(r.err, io.EOF) {
				return b.finish()
			}
			if r.err != nil {
				return b.fail(r.err)
			}
			b.apply(r.msg)
		}
	}
}

type recvResult struct {
	msg *schema.Message
	err error
}

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
)

type pendingCall struct {
	index int // position in Content
	args  strings.Builder
}

// builder accumulates Eino deltas into an assistant message.
type builder struct {
	model types.Model
	sink  Sink
	out   *types.AssistantMessage

	open      blockKind
	openIndex int

	calls      []*pendingCall
	callsByKey map[string]*pendingCall

	finishReason string
	usage        *schema.TokenUsage
}

func newBuilder(m types.Model, sink Sink) *builder {
	if sink == nil {
		sink = func(StreamEvent) {}
	}
	return &builder{
		model: m,
		sink:  sink,
		out: &types.AssistantMessage{
			Content:   types.Content{},
			API:       m.API,
			Provider:  m.Provider,
			Model:     m.ID,
			Timestamp: types.NowMillis(),
		},
		callsByKey: make(map[string]*pendingCall),
	}
}

func (b *builder) emit(ev StreamEvent) {
	ev.Partial = b.out
	b.sink(ev)
}

func (b *builder) apply(chunk *schema.Message) {
	if chunk == nil {
		return
	}
	if chunk.ReasoningContent != "" {
		b.appendThinking(chunk.ReasoningContent)
	}
	if chunk.Content != "" {
		b.appendText(chunk.Content)
	}
	for _, tc := range chunk.ToolCalls {
		b.appendToolCall(tc)
	}
	if meta := chunk.ResponseMeta; meta != nil {
		if meta.FinishReason != "" {
			b.finishReason = meta.FinishReason
		}
		if meta.Usage != nil {
			b.usage = meta.Usage
		}
	}
}

func (b *builder) appendText(delta string) {
	if b.open != blockText {
		b.closeBlock()
		b.out.Content = append(b.out.Content, &types.TextContent{})
		b.open, b.openIndex = blockText, len(b.out.Content)-1
		b.emit(StreamEvent{Type: EventTextStart, ContentIndex: b.openIndex})
	}
	block := b.out.Content[b.openIndex].(*types.TextContent)
	block.Text += delta
	b.emit(StreamEvent{Type: EventTextDelta, ContentIndex: b.openIndex, Delta: delta})
}

func (b *builder) appendThinking(delta string) {
	if b.open != blockThinking {
		b.closeBlock()
		b.out.Content = append(b.out.Content, &types.ThinkingContent{})
		b.open, b.openIndex = blockThinking, len(b.out.Content)-1
		b.emit(StreamEvent{Type: EventThinkingStart, ContentIndex: b.openIndex})
	}
	block := b.out.Content[b.openIndex].(*types.ThinkingContent)
	block.Thinking += delta
	b.emit(StreamEvent{Type: EventThinkingDelta, ContentIndex: b.openIndex, Delta: delta})
}

func (b *builder) closeBlock() {
	switch b.open {
	case blockText:
		b.emit(StreamEvent{Type: EventTextEnd, ContentIndex: b.openIndex})
	case blockThinking:
		b.emit(StreamEvent{Type: EventThinkingEnd, ContentIndex: b.openIndex})
	}
	b.open = blockNone
}

// callKey identifies the tool call a delta belongs to. Providers send the
// stream index on every delta; some only send the id on the first one.
func (b *builder) callKey(tc schema.ToolCall) (string, bool) {
	switch {
	case tc.Index != nil:
		return "i:" + strconv.Itoa(*tc.Index), true
	case tc.ID != "":
		return "id:" + tc.ID, true
	}
	return "", false
}

func (b *builder) appendToolCall(tc schema.ToolCall) {
	var pc *pendingCall
	key, ok := b.callKey(tc)
	if ok {
		pc = b.callsByKey[key]
	} else if len(b.calls) > 0 {
		pc = b.calls[len(b.calls)-1]
	}

	if pc == nil {
		b.closeBlock()
		b.out.Content = append(b.out.Content, &types.ToolCall{ID: tc.ID, Name: tc.Function.Name})
		pc = &pendingCall{index: len(b.out.Content) - 1}
		b.calls = append(b.calls, pc)
		if ok {
			b.callsByKey[key] = pc
		}
		b.emit(StreamEvent{Type: EventToolCallStart, ContentIndex: pc.index})
	}

	call := b.out.Content[pc.index].(*types.ToolCall)
	if call.ID == "" && tc.ID != "" {
		call.ID = tc.ID
	}
	if call.Name == "" && tc.Function.Name != "" {
		call.Name = tc.Function.Name
	}
	if tc.Function.Arguments != "" {
		pc.args.WriteString(tc.Function.Arguments)
		b.emit(StreamEvent{Type: EventToolCallDelta, ContentIndex: pc.index, Delta: tc.Function.Arguments})
	}
}

// closeCalls parses the accumulated arguments of every tool call.
func (b *builder) closeCalls(emit bool) {
	for _, pc := range b.calls {
		call := b.out.Content[pc.index].(*types.ToolCall)
		call.Arguments = parseArguments(pc.args.String())
		if call.ID == "" {
			call.ID = "call_" + strconv.Itoa(pc.index)
		}
		if emit {
			b.emit(StreamEvent{Type: EventToolCallEnd, ContentIndex: pc.index, ToolCall: call})
		}
	}
	b.calls = nil
}

func parseArguments(raw string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}

func (b *builder) applyUsage() {
	if b.usage != nil {
		cached := int64(b.usage.PromptTokenDetails.CachedTokens)
		input := int64(b.usage.PromptTokens) - cached
		if input < 0 {
			input = 0
		}
		b.out.Usage.Input = input
		b.out.Usage.CacheRead = cached
		b.out.Usage.Output = int64(b.usage.CompletionTokens)
	}
	c := b.model.Cost
	if c != (types.Cost{}) {
		u := b.out.Usage
		b.out.Usage.Cost = &types.Cost{
			Input:      c.Input * float64(u.Input) / 1e6,
			Output:     c.Output * float64(u.Output) / 1e6,
			CacheRead:  c.CacheRead * float64(u.CacheRead) / 1e6,
			CacheWrite: c.CacheWrite * float64(u.CacheWrite) / 1e6,
		}
	}
	b.out.Usage.Normalize()
}

func (b *builder) finish() *types.AssistantMessage {
	b.closeBlock()
	hasCalls := len(b.calls) > 0
	b.closeCalls(true)
	b.applyUsage()

	b.out.StopReason = mapFinishReason(b.finishReason)
	if hasCalls {
		b.out.StopReason = types.StopReasonToolUse
	}
	b.emit(StreamEvent{Type: EventDone, Reason: b.out.StopReason})
	return b.out
}

func (b *builder) abort() *types.AssistantMessage {
	b.closeBlock()
	b.closeCalls(false)
	b.applyUsage()
	b.out.StopReason = types.StopReasonAborted
	b.out.ErrorMessage = AbortedMessage
	b.emit(StreamEvent{Type: EventError, Reason: types.StopReasonAborted})
	return b.out
}

func (b *builder) fail(err error) *types.AssistantMessage {
	b.closeBlock()
	b.closeCalls(false)
	b.applyUsage()
	b.out.StopReason = types.StopReasonError
	b.out.ErrorMessage = err.Error()
	b.emit(StreamEvent{Type: EventError, Reason: types.StopReasonError})
	return b.out
}

func mapFinishReason(reason string) types.StopReason {
	switch strings.ToLower(reason) {
	case "length", "max_tokens":
		return types.StopReasonLength
	case "tool_calls", "tool_use", "function_call":
		return types.StopReasonToolUse
	}
	return types.StopReasonStop
}
