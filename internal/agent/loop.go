package agent

import (
	"context"
	"errors"

	"github.com/pi-agent/pi/internal/compaction"
	"github.com/pi-agent/pi/internal/config"
	"github.com/pi-agent/pi/internal/event"
	"github.com/pi-agent/pi/internal/extension"
	"github.com/pi-agent/pi/internal/provider"
	"github.com/pi-agent/pi/pkg/types"
)

// run drives the turns of one prompt. The caller already published
// agent_start and the first turn_start and delivered the prompt.
func (e *Engine) run(ctx context.Context, produced []types.AgentMessage) {
	for {
		produced = e.loop(ctx, produced, true)
		e.publish(event.AgentEnd, event.AgentEndData{Messages: produced})

		// A context overflow is retried once after compacting.
		if e.autoCompact(ctx, lastAssistant(produced), true) && ctx.Err() == nil {
			e.log.Info().Msg("retrying after overflow compaction")
			e.publish(event.AgentStart, nil)
			produced = e.loop(ctx, nil, false)
			e.publish(event.AgentEnd, event.AgentEndData{Messages: produced})
			e.autoCompact(ctx, lastAssistant(produced), false)
		}

		last := lastAssistant(produced)
		if e.endIfIdle(ctx, last == nil || !last.IsFailed()) {
			return
		}

		// Messages queued after the loop last looked start another loop.
		e.log.Debug().Msg("continuing with queued messages")
		queued := e.takeSteering()
		if len(queued) == 0 {
			queued = e.takeFollowUp()
		}
		e.publish(event.AgentStart, nil)
		e.publish(event.TurnStart, nil)
		produced = nil
		for _, m := range queued {
			produced = append(produced, e.deliver(m))
		}
	}
}

// loop runs turns until the model stops calling tools and no steering or
// follow-up message is queued, or a call fails or is aborted. turnOpen
// means turn_start for the first turn was already published.
func (e *Engine) loop(ctx context.Context, produced []types.AgentMessage, turnOpen bool) []types.AgentMessage {
	var pending []types.AgentMessage
	for {
		more := true
		for more || len(pending) > 0 {
			if !turnOpen {
				e.publish(event.TurnStart, nil)
			}
			turnOpen = false

			for _, m := range pending {
				produced = append(produced, e.deliver(m))
			}
			pending = nil

			msg := e.streamAssistant(ctx)
			produced = append(produced, msg)
			if msg.IsFailed() {
				e.publish(event.TurnEnd, event.TurnEndData{Message: msg, ToolResults: types.Messages{}})
				return produced
			}

			calls := msg.Content.ToolCalls()
			more = len(calls) > 0
			results := types.Messages{}
			if more {
				batch := e.executeToolCalls(ctx, calls)
				for _, r := range batch.results {
					produced = append(produced, r)
					results = append(results, r)
				}
				if batch.aborted || ctx.Err() != nil {
					e.publish(event.TurnEnd, event.TurnEndData{Message: msg, ToolResults: results})
					return produced
				}
				pending = batch.steering
			}
			e.publish(event.TurnEnd, event.TurnEndData{Message: msg, ToolResults: results})

			if len(pending) == 0 {
				pending = e.takeSteering()
			}
		}

		pending = e.takeFollowUp()
		if len(pending) == 0 {
			return produced
		}
	}
}

// deliver appends a queued or prompted message to the session.
func (e *Engine) deliver(m types.AgentMessage) types.AgentMessage {
	e.publish(event.MessageStart, event.MessageData{Message: m})
	e.Session().AppendMessage(m)
	e.publish(event.MessageEnd, event.MessageData{Message: m})
	return m
}

func (e *Engine) snapshot() (types.Model, types.ThinkingLevel, string, *extension.Host) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model, e.thinking, e.systemPrompt, e.ext
}

// llmContext builds the input of the next model call from the active
// branch.
func (e *Engine) llmContext(ctx context.Context, systemPrompt string, ext *extension.Host) provider.Context {
	messages := e.Session().BuildContext().Messages
	if ext != nil && ext.HasHandlers(extension.EventContext) {
		messages = ext.EmitContext(ctx, messages)
	}
	return provider.Context{
		SystemPrompt: systemPrompt,
		Messages:     FilterOrphanToolCalls(ConvertToLLM(messages)),
		Tools:        e.toolInfos(ext),
	}
}

// toolInfos lists built-in tools, then extension tools, then MCP tools.
// A name already listed shadows later tools of the same name.
func (e *Engine) toolInfos(ext *extension.Host) []provider.ToolInfo {
	infos := e.tools.Infos()
	seen := make(map[string]bool, len(infos))
	for _, info := range infos {
		seen[info.Name] = true
	}
	if ext != nil {
		for _, def := range ext.Tools() {
			if seen[def.Name] {
				continue
			}
			seen[def.Name] = true
			infos = append(infos, provider.ToolInfo{Name: def.Name, Description: def.Description, Parameters: def.Parameters})
		}
	}
	if e.mcpTools != nil {
		for _, info := range e.mcpTools.Infos() {
			if !seen[info.Name] {
				infos = append(infos, info)
			}
		}
	}
	return infos
}

func (e *Engine) toolIDs() []string {
	ids := e.tools.IDs()
	if e.mcpTools != nil {
		ids = append(ids, e.mcpTools.IDs()...)
	}
	return ids
}

func (e *Engine) retryPolicy() provider.RetryPolicy {
	r := config.ResolveRetry(e.settings)
	if !r.Enabled {
		return provider.RetryPolicy{}
	}
	return provider.RetryPolicy{MaxRetries: r.MaxRetries, BaseDelay: r.BaseDelay}
}

// streamAssistant performs one model call, retrying transient failures,
// and appends the resulting assistant message. It never fails: errors and
// cancellation end up in the message's StopReason.
func (e *Engine) streamAssistant(ctx context.Context) *types.AssistantMessage {
	model, level, systemPrompt, ext := e.snapshot()
	input := e.llmContext(ctx, systemPrompt, ext)
	opts := provider.Options{ThinkingLevel: level}
	if model.MaxOutputTokens > 0 {
		opts.MaxTokens = int(model.MaxOutputTokens)
	}

	started := false
	sink := func(ev provider.StreamEvent) {
		if ev.Partial == nil || ctx.Err() != nil {
			return
		}
		if !started {
			started = true
			e.publish(event.MessageStart, event.MessageData{Message: ev.Partial})
		}
		switch ev.Type {
		case provider.EventStart, provider.EventDone, provider.EventError:
			return
		}
		e.publish(event.MessageUpdate, event.MessageUpdateData{Message: ev.Partial, Kind: string(ev.Type), Delta: ev.Delta})
	}

	attempt := func(ctx context.Context) *types.AssistantMessage {
		if msg := e.stream(ctx, model, input, opts, sink); msg != nil {
			return msg
		}
		return &types.AssistantMessage{Content: types.Content{}, StopReason: types.StopReasonError, ErrorMessage: "model call returned no message"}
	}
	notify := func(n provider.RetryNotice) {
		e.log.Warn().
			Int("attempt", n.Attempt).
			Dur("delay", n.Delay).
			Str("error", n.ErrorMessage).
			Msg("retrying model call")
		e.publish(event.AutoRetry, event.AutoRetryData{
			Attempt:      n.Attempt,
			MaxAttempts:  n.MaxAttempts,
			DelayMs:      n.Delay.Milliseconds(),
			ErrorMessage: n.ErrorMessage,
		})
	}
	msg := provider.Retry(ctx, e.retryPolicy(), attempt, notify)

	if msg.API == "" && msg.Provider == "" && msg.Model == "" {
		msg.API, msg.Provider, msg.Model = model.API, model.Provider, model.ID
	}
	if ctx.Err() != nil && msg.StopReason != types.StopReasonAborted {
		msg.StopReason = types.StopReasonAborted
		msg.ErrorMessage = provider.AbortedMessage
	}
	if msg.Content == nil {
		msg.Content = types.Content{}
	}
	msg.Usage.Normalize()
	if msg.Timestamp == 0 {
		msg.Timestamp = types.NowMillis()
	}
	if msg.StopReason == types.StopReasonError {
		e.log.Warn().Str("model", model.ID).Str("error", msg.ErrorMessage).Msg("model call failed")
	}

	if !started {
		e.publish(event.MessageStart, event.MessageData{Message: msg})
	}
	e.Session().AppendMessage(msg)
	e.publish(event.MessageEnd, event.MessageData{Message: msg})
	return msg
}

func lastAssistant(msgs []types.AgentMessage) *types.AssistantMessage {
	for i := len(msgs) - 1; i >= 0; i-- {
		if a, ok := msgs[i].(*types.AssistantMessage); ok {
			return a
		}
	}
	return nil
}

// autoCompact compacts after a run when the last call overflowed the
// context window or its usage crossed the reserve. It reports whether the
// run should be retried, which is only the case for an overflow when
// canRetry is set.
func (e *Engine) autoCompact(ctx context.Context, msg *types.AssistantMessage, canRetry bool) bool {
	settings := config.ResolveCompaction(e.settings)
	if !settings.Enabled || msg == nil || msg.StopReason == types.StopReasonAborted || ctx.Err() != nil {
		return false
	}

	var reason string
	overflow := msg.StopReason == types.StopReasonError && provider.IsContextOverflow(msg.ErrorMessage)
	switch {
	case overflow:
		reason = "overflow"
	case !msg.IsFailed() && compaction.ShouldCompact(compaction.ContextTokens(msg.Usage), e.Model().ContextWindow, settings):
		reason = "threshold"
	default:
		return false
	}

	e.publish(event.AutoCompactionStart, event.AutoCompactionStartData{Reason: reason})
	store := e.Session()
	res, err := e.compactor.Compact(ctx, store, settings, "", e.compactionHooks()...)
	if err != nil {
		data := event.AutoCompactionEndData{Error: err.Error()}
		if errors.Is(err, compaction.ErrCompactionCancelled) || ctx.Err() != nil {
			data = event.AutoCompactionEndData{Aborted: true}
		}
		e.log.Warn().Err(err).Str("reason", reason).Msg("auto compaction failed")
		e.publish(event.AutoCompactionEnd, data)
		return false
	}

	e.publish(event.AutoCompactionEnd, event.AutoCompactionEndData{Summary: res.Summary, TokensBefore: res.TokensBefore})
	e.publish(event.SessionCompacted, event.SessionCompactedData{EntryID: store.LeafID(), FromHook: compactedByHook(store)})
	return overflow && canRetry
}
