package headless

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pi-agent/pi/internal/permission"
)

// Approver answers permission prompts on a terminal, or approves
// everything when auto is set.
type Approver struct {
	auto bool

	mu     sync.Mutex
	in     *bufio.Reader
	out    io.Writer
	denied []string
}

// NewApprover creates an approver reading answers from in.
func NewApprover(auto bool, in io.Reader, out io.Writer) *Approver {
	return &Approver{auto: auto, in: bufio.NewReader(in), out: out}
}

// Approve implements permission.ApprovalFunc.
func (a *Approver) Approve(ctx context.Context, req permission.Request) (permission.Decision, error) {
	if a.auto {
		return permission.Approve, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	title := req.Title
	if title == "" {
		title = req.ToolName
	}
	fmt.Fprintf(a.out, "\n[permission] %s", title)
	if req.Reason != "" {
		fmt.Fprintf(a.out, " (%s)", req.Reason)
	}
	fmt.Fprint(a.out, "\nAllow? [y]es / [a]lways / [n]o / [q]uit: ")

	answer := make(chan string, 1)
	go func() {
		line, _ := a.in.ReadString('\n')
		answer <- strings.ToLower(strings.TrimSpace(line))
	}()

	select {
	case <-ctx.Done():
		return permission.Abort, ctx.Err()
	case line := <-answer:
		switch line {
		case "y", "yes":
			return permission.Approve, nil
		case "a", "always":
			return permission.ApproveForSession, nil
		case "q", "quit":
			a.denied = append(a.denied, req.ToolName)
			return permission.Abort, nil
		default:
			a.denied = append(a.denied, req.ToolName)
			return permission.Deny, nil
		}
	}
}

// Denied returns the tools the user refused.
func (a *Approver) Denied() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.denied...)
}
