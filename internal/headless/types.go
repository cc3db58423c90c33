// Package headless runs the agent without an interactive UI. It wires the
// full stack (settings, providers, tools, MCP servers, extensions, session
// and engine) for the CLI and the server, and executes one-shot prompts
// with text, JSON or JSONL output.
package headless

import (
	"time"

	"github.com/pi-agent/pi/internal/agent"
	"github.com/pi-agent/pi/internal/command"
)

// OutputFormat defines the output format for headless mode.
type OutputFormat string

const (
	// OutputText is human-readable streaming text output.
	OutputText OutputFormat = "text"
	// OutputJSON is final JSON result summary.
	OutputJSON OutputFormat = "json"
	// OutputJSONL is streaming JSONL events.
	OutputJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat returns the format named s, or OutputText.
func ParseOutputFormat(s string) OutputFormat {
	switch OutputFormat(s) {
	case OutputJSON, OutputJSONL:
		return OutputFormat(s)
	}
	return OutputText
}

// ExitCode defines exit codes for headless mode.
type ExitCode int

const (
	// ExitSuccess indicates successful completion.
	ExitSuccess ExitCode = 0
	// ExitError indicates a general/unknown error.
	ExitError ExitCode = 1
	// ExitTimeout indicates timeout exceeded.
	ExitTimeout ExitCode = 2
	// ExitPermissionDenied indicates tool execution was blocked.
	ExitPermissionDenied ExitCode = 3
	// ExitProviderError indicates model/provider error (auth, rate limit).
	ExitProviderError ExitCode = 4
	// ExitInvalidInput indicates bad prompt or missing required flags.
	ExitInvalidInput ExitCode = 5
)

// Config holds configuration for one headless run.
type Config struct {
	// Prompt is the instruction to execute.
	Prompt string
	// ReadStdin appends standard input to the prompt.
	ReadStdin bool
	// Files are attached to the prompt as text.
	Files []string
	// Templates expand a prompt of the form "/name args".
	Templates *command.Set
	// OutputFormat specifies the output format (text, json, jsonl).
	OutputFormat OutputFormat
	// Timeout is the maximum execution time. Zero means none.
	Timeout time.Duration
	// Quiet suppresses progress output, only shows result.
	Quiet bool
	// Verbose shows all events.
	Verbose bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OutputFormat: OutputText,
		Timeout:      30 * time.Minute,
	}
}

// ToolCall represents a tool call in the result.
type ToolCall struct {
	Tool       string         `json:"tool"`
	Input      map[string]any `json:"input,omitempty"`
	Output     string         `json:"output,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
}

// Result holds the final result of a headless execution.
type Result struct {
	SessionID    string           `json:"session_id"`
	SessionFile  string           `json:"session_file,omitempty"`
	Status       string           `json:"status"` // "success", "error", "timeout", "aborted"
	Model        string           `json:"model"`
	DurationMS   int64            `json:"duration_ms"`
	Tokens       agent.TokenStats `json:"tokens"`
	Cost         float64          `json:"cost,omitempty"`
	Turns        int              `json:"turns"`
	ToolCalls    []ToolCall       `json:"tool_calls,omitempty"`
	FinalMessage string           `json:"final_message,omitempty"`
	Error        string           `json:"error,omitempty"`
	ExitCode     ExitCode         `json:"exit_code"`
}

// Event represents a JSONL event for streaming output.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts"`
	Data      any       `json:"data,omitempty"`
}
