package permission

import (
	"context"
	"fmt"
	"sync"
)

// Checker decides whether a tool call may run. Calls that rules mark as
// ask go to the ApprovalFunc; approve-for-session answers are remembered
// until Reset. A Checker belongs to one session.
type Checker struct {
	mu       sync.RWMutex
	rules    Rules
	workDir  string
	approve  ApprovalFunc
	tools    map[string]bool // approved for session by tool name
	patterns map[string]bool // approved for session by bash pattern
	loops    *DoomLoopDetector
}

// NewChecker creates a checker. With a nil approve function every call
// that would be asked about is approved.
func NewChecker(rules Rules, workDir string, approve ApprovalFunc) *Checker {
	return &Checker{
		rules:    rules,
		workDir:  workDir,
		approve:  approve,
		tools:    make(map[string]bool),
		patterns: make(map[string]bool),
		loops:    NewDoomLoopDetector(),
	}
}

// SetApprovalFunc replaces the approval callback.
func (c *Checker) SetApprovalFunc(fn ApprovalFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approve = fn
}

// Check evaluates one tool call. Deny and Abort are returned as decisions,
// not errors; an error comes only from the approval callback or ctx.
func (c *Checker) Check(ctx context.Context, toolName, toolCallID string, args map[string]any) (Decision, error) {
	req := Request{ToolName: toolName, ToolCallID: toolCallID, Args: args, Title: toolName, Reason: ReasonRule}

	action := c.rules.toolAction(toolName)
	if toolName == "bash" && action != ActionDeny {
		command, _ := args["command"].(string)
		req.Title = command
		action, req.Patterns, req.Reason = c.bashAction(command)
	}

	if c.loops.Check(toolName, args) {
		action = ActionAsk
		req.Reason = ReasonDoomLoop
		req.Title = fmt.Sprintf("%s called %d times with the same arguments", toolName, DoomLoopThreshold)
	}

	switch action {
	case ActionAllow:
		return Approve, nil
	case ActionDeny:
		return Deny, nil
	}
	return c.ask(ctx, req)
}

// bashAction combines the rules of every command in a bash script. A deny
// anywhere wins; otherwise any ask yields ask with the patterns to approve.
func (c *Checker) bashAction(script string) (Action, []string, Reason) {
	commands, err := ParseScript(script)
	if err != nil {
		return ActionAsk, []string{script}, ReasonRule
	}

	action := ActionAllow
	reason := ReasonRule
	var ask []string
	for _, cmd := range commands {
		if c.workDir != "" && c.rules.ExternalDir != ActionAllow {
			for _, p := range cmd.Paths() {
				if withinDir(resolvePath(p, c.workDir), c.workDir) {
					continue
				}
				if c.rules.ExternalDir == ActionDeny {
					return ActionDeny, nil, ReasonExternalDir
				}
				action, reason = ActionAsk, ReasonExternalDir
			}
		}
		if cmd.Name == "" || cmd.Name == "cd" {
			continue
		}
		switch c.rules.bashRule(cmd) {
		case ActionDeny:
			return ActionDeny, nil, ReasonRule
		case ActionAsk:
			action = ActionAsk
			ask = append(ask, cmd.Pattern())
		}
	}
	return action, dedupe(ask), reason
}

func (c *Checker) ask(ctx context.Context, req Request) (Decision, error) {
	c.mu.RLock()
	approve := c.approve
	approved := req.Reason != ReasonDoomLoop && c.approvedLocked(req)
	c.mu.RUnlock()

	if approved || approve == nil {
		return Approve, nil
	}
	if err := ctx.Err(); err != nil {
		return Abort, err
	}

	d, err := approve(ctx, req)
	if err != nil {
		return Abort, err
	}
	if d == ApproveForSession {
		c.remember(req)
	}
	return d, nil
}

func (c *Checker) approvedLocked(req Request) bool {
	if len(req.Patterns) == 0 {
		return c.tools[req.ToolName]
	}
	for _, p := range req.Patterns {
		if !c.patterns[p] {
			return false
		}
	}
	return true
}

func (c *Checker) remember(req Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(req.Patterns) == 0 {
		c.tools[req.ToolName] = true
		return
	}
	for _, p := range req.Patterns {
		c.patterns[p] = true
	}
}

// Reset forgets every approve-for-session answer, for example when the
// engine switches to another session.
func (c *Checker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = make(map[string]bool)
	c.patterns = make(map[string]bool)
	c.loops.Clear()
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, s := range items {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
