package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pi-agent/pi/internal/event"
	"github.com/pi-agent/pi/internal/extension"
	"github.com/pi-agent/pi/internal/permission"
	"github.com/pi-agent/pi/internal/provider"
	"github.com/pi-agent/pi/internal/tool"
	"github.com/pi-agent/pi/pkg/types"
)

const (
	skippedForSteering = "Skipped due to queued user message."
	deniedByUser       = "Tool call denied by user."
)

// toolBatch is the outcome of the tool calls of one assistant message.
type toolBatch struct {
	results []*types.ToolResultMessage
	// steering holds messages that interrupted the batch.
	steering []types.AgentMessage
	// aborted is set when the user aborted from an approval prompt.
	aborted bool
}

// executeToolCalls runs calls in order. After each call queued steering
// messages are checked; when present the remaining calls are skipped.
func (e *Engine) executeToolCalls(ctx context.Context, calls []*types.ToolCall) toolBatch {
	var batch toolBatch
	for i, call := range calls {
		if ctx.Err() != nil || batch.aborted {
			batch.results = append(batch.results, e.skipTool(call, provider.AbortedMessage))
			continue
		}

		res, abort := e.executeTool(ctx, call)
		batch.results = append(batch.results, res)
		if abort {
			batch.aborted = true
			continue
		}

		if steering := e.takeSteering(); len(steering) > 0 {
			batch.steering = steering
			for _, rest := range calls[i+1:] {
				batch.results = append(batch.results, e.skipTool(rest, skippedForSteering))
			}
			break
		}
	}
	return batch
}

// skipTool records an error result for a call that never ran.
func (e *Engine) skipTool(call *types.ToolCall, reason string) *types.ToolResultMessage {
	e.publish(event.ToolExecutionStart, event.ToolExecutionStartData{ToolCallID: call.ID, ToolName: call.Name, Args: call.Arguments})
	return e.finishTool(call, types.Content{types.Text(reason)}, nil, true)
}

func (e *Engine) finishTool(call *types.ToolCall, content types.Content, details any, isError bool) *types.ToolResultMessage {
	if content == nil {
		content = types.Content{}
	}
	e.publish(event.ToolExecutionEnd, event.ToolExecutionEndData{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    content,
		Details:    details,
		IsError:    isError,
	})
	msg := &types.ToolResultMessage{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    content,
		Details:    details,
		IsError:    isError,
		Timestamp:  types.NowMillis(),
	}
	e.deliver(msg)
	return msg
}

// executeTool runs one call through approval, extension hooks and the
// tool itself. abort reports that the user asked to stop the run.
func (e *Engine) executeTool(ctx context.Context, call *types.ToolCall) (res *types.ToolResultMessage, abort bool) {
	e.publish(event.ToolExecutionStart, event.ToolExecutionStartData{ToolCallID: call.ID, ToolName: call.Name, Args: call.Arguments})
	log := e.log.With().Str("tool", call.Name).Str("call", call.ID).Logger()

	if e.perm != nil {
		decision, err := e.perm.Check(ctx, call.Name, call.ID, call.Arguments)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("approval failed")
			return e.finishTool(call, types.Content{types.Text(err.Error())}, nil, true), false
		case decision == permission.Deny:
			log.Info().Msg("tool call denied")
			return e.finishTool(call, types.Content{types.Text(deniedByUser)}, nil, true), false
		case decision == permission.Abort:
			log.Info().Msg("run aborted from approval")
			return e.finishTool(call, types.Content{types.Text(deniedByUser)}, nil, true), true
		}
	}

	ext := e.ExtensionHost()
	if ext != nil && ext.HasHandlers(extension.EventToolCall) {
		if d := ext.EmitToolCall(ctx, call.Name, call.ID, call.Arguments); d.Block {
			log.Info().Str("reason", d.Reason).Msg("tool call blocked by extension")
			return e.finishTool(call, types.Content{types.Text(d.Reason)}, nil, true), false
		}
	}

	content, details, isError := e.dispatch(ctx, call, ext)
	if ext != nil && ext.HasHandlers(extension.EventToolResult) {
		out := ext.EmitToolResult(ctx, extension.ToolResultEvent{
			ToolName:   call.Name,
			ToolCallID: call.ID,
			Input:      call.Arguments,
			Content:    content,
			Details:    details,
			IsError:    isError,
		})
		content, details, isError = out.Content, out.Details, out.IsError
	}
	return e.finishTool(call, content, details, isError), false
}

// dispatch resolves call.Name against built-in tools, then extension
// tools, then MCP tools.
func (e *Engine) dispatch(ctx context.Context, call *types.ToolCall, ext *extension.Host) (types.Content, any, bool) {
	if t, ok := e.tools.Get(call.Name); ok {
		return e.runTool(ctx, t, call)
	}

	if ext != nil {
		res, err := ext.CallTool(ctx, call.Name, call.ID, call.Arguments, e.Session().Entries())
		switch {
		case err == nil:
			return res.Content, res.Details, res.IsError
		case !errors.Is(err, extension.ErrUnknownTool):
			return errorContent(err), nil, true
		}
	}

	if e.mcpTools != nil {
		if t, ok := e.mcpTools.Get(call.Name); ok {
			return e.runTool(ctx, t, call)
		}
	}
	return types.Content{types.Text(fmt.Sprintf("Tool %s not found", call.Name))}, nil, true
}

func (e *Engine) runTool(ctx context.Context, t tool.Tool, call *types.ToolCall) (types.Content, any, bool) {
	input, err := json.Marshal(nonNilArgs(call.Arguments))
	if err != nil {
		return errorContent(err), nil, true
	}
	toolCtx := &tool.Context{
		CallID:  call.ID,
		WorkDir: e.Session().Cwd(),
		OnUpdate: func(partial *tool.Result) {
			if partial == nil || ctx.Err() != nil {
				return
			}
			e.publish(event.ToolExecutionUpdate, event.ToolExecutionUpdateData{ToolCallID: call.ID, ToolName: call.Name, Partial: partial.Content})
		},
	}
	res, err := t.Execute(ctx, input, toolCtx)
	if err != nil {
		return errorContent(err), nil, true
	}
	if res == nil {
		return types.Content{}, nil, false
	}
	return res.Content, res.Details, false
}

func errorContent(err error) types.Content {
	return types.Content{types.Text(err.Error())}
}

func nonNilArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
