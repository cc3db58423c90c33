// Package agent runs the conversation loop of one coding-agent session.
//
// An Engine owns a session.Store and drives model calls against it. At most
// one run is active per engine; Prompt while a run is in progress fails with
// a *ConcurrencyError instead of queuing.
//
// # Runs and turns
//
// Prompt appends the user message and starts a run on its own goroutine. A
// run is a sequence of turns. Each turn streams one assistant message from
// the injected provider.StreamFunc, executes the tool calls it contains and
// appends their results. The run continues while the model keeps calling
// tools, then delivers follow-up messages as new turns, and ends with an
// agent_end event.
//
// # Queued messages
//
// Steer queues a message for the running turn. It is delivered after the
// tool call that is executing when it arrives; the remaining tool calls of
// that assistant message are skipped. FollowUp queues a message that is
// only delivered once the model has stopped calling tools. Both queues
// deliver one message at a time or all at once depending on the configured
// queue mode.
//
// # Tools
//
// Tool calls are resolved against the built-in tool.Registry first and the
// extension host second. Every call passes the permission.Checker and the
// extensions' tool_call hooks before it runs, and its result passes the
// tool_result hooks before it is appended.
//
// # Cancellation
//
// Abort cancels the context of the active run. The stream keeps whatever
// content it produced and ends the assistant message with stopReason
// "aborted"; running tools receive the cancelled context.
//
// # Events
//
// Everything observable is published on the event.Bus in order: agent and
// turn boundaries, message start, update and end, tool execution, queue
// changes, retries and automatic compaction.
package agent
