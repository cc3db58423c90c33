// Package server exposes one agent engine over HTTP.
//
// The server is a chi router in front of an *agent.Engine. Every endpoint
// acts on the engine's current session; switching sessions goes through
// the engine so the active branch, queues and model stay consistent.
//
// # API Endpoints
//
// Session:
//   - GET  /session: engine state and branch statistics
//   - GET  /session/messages: messages of the active branch
//   - GET  /session/tree: every entry as a forest, with labels
//   - GET  /session/list: session files of the working directory
//   - POST /session/new, /session/switch
//
// Runs:
//   - POST /session/prompt: start a run (202, or 200 with ?wait=true)
//   - POST /session/steer, /session/follow-up: queue a message
//   - POST /session/abort
//   - POST /session/compact
//
// Tree:
//   - POST /session/label, /session/branch, /session/navigate
//
// Other:
//   - GET /event: Server-Sent Events for every engine event
//   - GET /config, /model, /tool, /mcp
//   - GET /metrics: Prometheus text format
//
// # Errors
//
// Failures are written as {"error":{"code":...,"message":...}}. A run in
// progress maps to 409, an unknown entry id to 404 and a cancelled
// compaction to 422.
//
// # Event Streaming
//
// GET /event reads the JSON mirror of the engine bus and writes each event
// as an SSE "message" with the shape {"type":...,"data":...}. A comment
// line is sent every 30 seconds to keep idle connections open.
package server
