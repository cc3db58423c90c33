package extension

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/pi-agent/pi/internal/compaction"
	"github.com/pi-agent/pi/pkg/types"
)

// hookParams is the params object of a hook request.
type hookParams struct {
	Event   any         `json:"event"`
	Context CallContext `json:"context"`
}

// hookTarget is one subscriber of an event, either a subprocess hook or an
// in-process Handler.
type hookTarget struct {
	source string
	call   func(ctx context.Context, payload any, entries []types.Entry) (json.RawMessage, error)
}

func (h *Host) targets(event string) []hookTarget {
	var out []hookTarget
	for _, p := range h.procs {
		if !p.hooks[event] {
			continue
		}
		out = append(out, hookTarget{
			source: p.meta.Path,
			call: func(ctx context.Context, payload any, entries []types.Entry) (json.RawMessage, error) {
				raw, err := p.client.call(ctx, event, hookParams{Event: payload, Context: h.callContext(entries)})
				if err != nil {
					var he *HostError
					if errors.As(err, &he) {
						return nil, err
					}
					return nil, hostErrorf(p.meta.Path, event, err, "hook failed")
				}
				return raw, nil
			},
		})
	}

	h.mu.RLock()
	handlers := append([]Handler(nil), h.handlers[event]...)
	h.mu.RUnlock()
	for _, fn := range handlers {
		out = append(out, hookTarget{
			source: "in-process",
			call: func(ctx context.Context, payload any, _ []types.Entry) (json.RawMessage, error) {
				b, err := json.Marshal(payload)
				if err != nil {
					return nil, err
				}
				res, err := fn(ctx, b)
				if err != nil || res == nil {
					return nil, err
				}
				return json.Marshal(res)
			},
		})
	}
	return out
}

// HasHandlers reports whether anything subscribed to event.
func (h *Host) HasHandlers(event string) bool {
	return len(h.targets(event)) > 0
}

func (h *Host) sessionEntries() []types.Entry {
	h.mu.RLock()
	fn := h.entries
	h.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn()
}

type beforeCompactPayload struct {
	Type string `json:"type"`
	*compaction.BeforeCompactEvent
}

type compactPayload struct {
	Type string `json:"type"`
	*compaction.CompactEvent
}

// BeforeCompact dispatches session_before_compact. The first cancel wins and
// stops the dispatch; otherwise the first non-empty override wins. A failing
// hook aborts the compaction.
func (h *Host) BeforeCompact(ctx context.Context, ev *compaction.BeforeCompactEvent) (*compaction.BeforeCompactResult, error) {
	payload := beforeCompactPayload{Type: compaction.EventBeforeCompact, BeforeCompactEvent: ev}

	var results []*compaction.BeforeCompactResult
	for _, t := range h.targets(compaction.EventBeforeCompact) {
		raw, err := t.call(ctx, payload, ev.BranchEntries)
		if err != nil {
			return nil, err
		}
		if isNull(raw) {
			continue
		}
		var r compaction.BeforeCompactResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, hostErrorf(t.source, compaction.EventBeforeCompact, err, "malformed hook result")
		}
		if r.Cancel {
			return &r, nil
		}
		results = append(results, &r)
	}
	return compaction.MergeBeforeCompact(results...), nil
}

// OnCompact dispatches session_compact to every subscriber.
func (h *Host) OnCompact(ctx context.Context, ev *compaction.CompactEvent) error {
	payload := compactPayload{Type: compaction.EventCompact, CompactEvent: ev}
	var errs []error
	for _, t := range h.targets(compaction.EventCompact) {
		if _, err := t.call(ctx, payload, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultBlockReason is used when a hook blocks a tool call without a reason.
const DefaultBlockReason = "Tool execution was blocked by an extension"

// ToolCallEvent is sent before a tool runs.
type ToolCallEvent struct {
	Type       string         `json:"type"`
	ToolName   string         `json:"toolName"`
	ToolCallID string         `json:"toolCallId"`
	Input      map[string]any `json:"input"`
}

// ToolCallDecision is the merged answer to a tool_call event.
type ToolCallDecision struct {
	Block  bool   `json:"block,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// EmitToolCall asks hooks whether a tool call may run. The first hook that
// blocks decides. Hook failures are logged and do not block the call.
func (h *Host) EmitToolCall(ctx context.Context, name, callID string, input map[string]any) ToolCallDecision {
	ev := ToolCallEvent{Type: EventToolCall, ToolName: name, ToolCallID: callID, Input: input}
	for _, t := range h.targets(EventToolCall) {
		raw, err := t.call(ctx, ev, h.sessionEntries())
		if err != nil {
			h.log.Warn().Err(err).Str("extension", t.source).Str("tool", name).Msg("tool_call hook failed")
			continue
		}
		if isNull(raw) {
			continue
		}
		var d ToolCallDecision
		if err := json.Unmarshal(raw, &d); err != nil {
			h.log.Warn().Err(err).Str("extension", t.source).Msg("malformed tool_call hook result")
			continue
		}
		if d.Block {
			if d.Reason == "" {
				d.Reason = DefaultBlockReason
			}
			return d
		}
	}
	return ToolCallDecision{}
}

// ToolResultEvent is sent after a tool ran. Hooks may replace any of
// Content, Details and IsError; later hooks see earlier replacements.
type ToolResultEvent struct {
	Type       string         `json:"type"`
	ToolName   string         `json:"toolName"`
	ToolCallID string         `json:"toolCallId"`
	Input      map[string]any `json:"input"`
	Content    types.Content  `json:"content"`
	Details    any            `json:"details,omitempty"`
	IsError    bool           `json:"isError"`
}

type toolResultPatch struct {
	Content json.RawMessage `json:"content"`
	Details json.RawMessage `json:"details"`
	IsError *bool           `json:"isError"`
}

// EmitToolResult passes a tool result through the tool_result hooks and
// returns the possibly modified result.
func (h *Host) EmitToolResult(ctx context.Context, ev ToolResultEvent) ToolResultEvent {
	ev.Type = EventToolResult
	for _, t := range h.targets(EventToolResult) {
		raw, err := t.call(ctx, ev, h.sessionEntries())
		if err != nil {
			h.log.Warn().Err(err).Str("extension", t.source).Str("tool", ev.ToolName).Msg("tool_result hook failed")
			continue
		}
		if isNull(raw) {
			continue
		}
		var patch toolResultPatch
		if err := json.Unmarshal(raw, &patch); err != nil {
			h.log.Warn().Err(err).Str("extension", t.source).Msg("malformed tool_result hook result")
			continue
		}
		if !isNull(patch.Content) {
			var c types.Content
			if err := json.Unmarshal(patch.Content, &c); err != nil {
				h.log.Warn().Err(err).Str("extension", t.source).Msg("malformed tool_result content")
				continue
			}
			ev.Content = c
		}
		if !isNull(patch.Details) {
			var d any
			if err := json.Unmarshal(patch.Details, &d); err == nil {
				ev.Details = d
			}
		}
		if patch.IsError != nil {
			ev.IsError = *patch.IsError
		}
	}
	return ev
}

type contextPayload struct {
	Type     string         `json:"type"`
	Messages types.Messages `json:"messages"`
}

type contextReply struct {
	Messages json.RawMessage `json:"messages"`
}

// EmitContext lets hooks rewrite the messages about to be sent to the
// model. Each hook sees the output of the previous one.
func (h *Host) EmitContext(ctx context.Context, messages []types.AgentMessage) []types.AgentMessage {
	for _, t := range h.targets(EventContext) {
		raw, err := t.call(ctx, contextPayload{Type: EventContext, Messages: messages}, nil)
		if err != nil {
			h.log.Warn().Err(err).Str("extension", t.source).Msg("context hook failed")
			continue
		}
		if isNull(raw) {
			continue
		}
		var reply contextReply
		if err := json.Unmarshal(raw, &reply); err != nil || isNull(reply.Messages) {
			continue
		}
		var msgs types.Messages
		if err := json.Unmarshal(reply.Messages, &msgs); err != nil {
			h.log.Warn().Err(err).Str("extension", t.source).Msg("malformed context hook messages")
			continue
		}
		messages = msgs
	}
	return messages
}

var _ compaction.Hook = (*Host)(nil)
