/*
Package event carries agent lifecycle notifications.

Every agent engine owns a Bus. Publish calls in-process subscribers
synchronously and in order, so a subscriber sees message_start before the
matching message_end and every tool_execution_end before turn_end. Each event
is also mirrored as JSON onto a watermill gochannel topic, which Stream
exposes for consumers that want a channel, such as the server's SSE endpoint.

# Event Types

Run events:
  - agent_start, agent_end: one Prompt call and everything it queued
  - turn_start, turn_end: one model call and its tool executions

Message events:
  - message_start, message_end: a message was appended
  - message_update: streaming delta of the assistant message

Tool events:
  - tool_execution_start, tool_execution_end

Session events:
  - queue_update: steering or follow-up queue changed
  - auto_compaction_start, auto_compaction_end
  - session_compact: a compaction entry was appended
  - session_tree: the leaf moved
  - session_switch: the engine now writes another session file
  - auto_retry: a failed model call is retried

Workspace events:
  - git_branch_changed: HEAD of the working directory moved to another branch

# Usage

	bus := event.NewBus()
	unsub := bus.Subscribe(event.MessageEnd, func(e event.Event) {
		data := e.Data.(event.MessageData)
		fmt.Println(data.Message.MessageRole())
	})
	defer unsub()
*/
package event
