package permission

import (
	"context"
	"fmt"
)

// Action is the configured outcome of a permission rule.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
	ActionAsk   Action = "ask"
)

// ParseAction returns the action for s, or fallback when s is not one.
func ParseAction(s string, fallback Action) Action {
	switch a := Action(s); a {
	case ActionAllow, ActionDeny, ActionAsk:
		return a
	}
	return fallback
}

// Decision is the answer to one approval request.
type Decision int

const (
	// Approve runs this tool call.
	Approve Decision = iota
	// ApproveForSession runs this call and every later call of the same
	// tool, or the same bash command patterns, without asking again.
	ApproveForSession
	// Deny skips the call with an error result.
	Deny
	// Abort stops the whole run.
	Abort
)

func (d Decision) String() string {
	switch d {
	case Approve:
		return "approve"
	case ApproveForSession:
		return "approve-for-session"
	case Deny:
		return "deny"
	case Abort:
		return "abort"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// Reason tells why approval is requested.
type Reason string

const (
	ReasonRule        Reason = "rule"
	ReasonExternalDir Reason = "external_directory"
	ReasonDoomLoop    Reason = "doom_loop"
)

// Request describes a tool call waiting for approval.
type Request struct {
	ToolName   string         `json:"toolName"`
	ToolCallID string         `json:"toolCallId"`
	Args       map[string]any `json:"args"`
	// Patterns are the bash command patterns an approve-for-session
	// decision would cover, e.g. "git commit *".
	Patterns []string `json:"patterns,omitempty"`
	Title    string   `json:"title"`
	Reason   Reason   `json:"reason"`
}

// ApprovalFunc asks the user about one tool call.
type ApprovalFunc func(ctx context.Context, req Request) (Decision, error)

// Rules configure which tool calls need approval.
type Rules struct {
	// Tools maps tool names to actions. Missing tools use Default.
	Tools map[string]Action `json:"tools,omitempty"`
	// Bash maps command patterns ("git *", "rm *", "*") to actions.
	Bash map[string]Action `json:"bash,omitempty"`
	// ExternalDir applies to bash commands that touch paths outside the
	// working directory.
	ExternalDir Action `json:"external_directory,omitempty"`
	// Default applies to tools without a rule. Empty means ask.
	Default Action `json:"default,omitempty"`
}

// DefaultRules asks about every call except the read-only built-ins.
func DefaultRules() Rules {
	return Rules{
		Tools: map[string]Action{
			"read": ActionAllow,
			"ls":   ActionAllow,
			"glob": ActionAllow,
			"grep": ActionAllow,
		},
		Bash:        map[string]Action{},
		ExternalDir: ActionAsk,
		Default:     ActionAsk,
	}
}

func (r Rules) toolAction(name string) Action {
	if a, ok := r.Tools[name]; ok {
		return a
	}
	if r.Default == "" {
		return ActionAsk
	}
	return r.Default
}
