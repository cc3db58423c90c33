package headless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pi-agent/pi/internal/agent"
	"github.com/pi-agent/pi/pkg/types"
)

// ErrEmptyPrompt is returned when neither arguments, stdin nor files
// produced any prompt text.
var ErrEmptyPrompt = errors.New("prompt is required")

// Runner executes one prompt against an engine and reports the outcome.
type Runner struct {
	config   *Config
	engine   *agent.Engine
	approver *Approver
	stdin    io.Reader
}

// NewRunner creates a runner. approver may be nil.
func NewRunner(cfg *Config, engine *agent.Engine, approver *Approver) *Runner {
	return &Runner{config: cfg, engine: engine, approver: approver, stdin: os.Stdin}
}

// SetStdin replaces the reader used when Config.ReadStdin is set.
func (r *Runner) SetStdin(in io.Reader) { r.stdin = in }

// Run sends the prompt, waits for the agent to finish and prints the
// result to writer.
func (r *Runner) Run(ctx context.Context, writer io.Writer) (*Result, error) {
	start := time.Now()
	printer := NewPrinter(writer, r.config.OutputFormat, r.config.Quiet, r.config.Verbose)
	unsubscribe := r.engine.Subscribe(printer.Handle)
	defer unsubscribe()

	finish := func(status string, code ExitCode, err error) (*Result, error) {
		res := r.result(printer, start)
		res.Status = status
		res.ExitCode = code
		if err != nil {
			res.Error = err.Error()
		}
		printer.PrintResult(res)
		return res, err
	}

	prompt, err := r.prompt()
	if err != nil {
		return finish("error", ExitInvalidInput, err)
	}
	if prompt == "" {
		return finish("error", ExitInvalidInput, ErrEmptyPrompt)
	}

	runCtx := ctx
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	if err := r.engine.Prompt(runCtx, prompt); err != nil {
		if errors.Is(err, agent.ErrNoModel) {
			return finish("error", ExitProviderError, err)
		}
		return finish("error", ExitError, err)
	}

	if err := r.engine.Wait(runCtx); err != nil {
		r.engine.Abort()
		_ = r.engine.Wait(context.Background())
		if errors.Is(err, context.DeadlineExceeded) {
			return finish("timeout", ExitTimeout, fmt.Errorf("timed out after %s", r.config.Timeout))
		}
		return finish("aborted", ExitError, err)
	}

	last := r.lastAssistant()
	switch {
	case last == nil:
		return finish("success", ExitSuccess, nil)
	case last.StopReason == types.StopReasonError:
		return finish("error", ExitProviderError, errors.New(last.ErrorMessage))
	case last.StopReason == types.StopReasonAborted:
		if r.approver != nil && len(r.approver.Denied()) > 0 {
			return finish("permission_denied", ExitPermissionDenied,
				fmt.Errorf("permission denied: %s", strings.Join(r.approver.Denied(), ", ")))
		}
		return finish("aborted", ExitError, errors.New("aborted"))
	}
	return finish("success", ExitSuccess, nil)
}

func (r *Runner) result(printer *Printer, start time.Time) *Result {
	stats := r.engine.Stats()
	res := &Result{
		SessionID:    stats.SessionID,
		SessionFile:  stats.SessionFile,
		DurationMS:   time.Since(start).Milliseconds(),
		Tokens:       stats.Tokens,
		Cost:         stats.Cost,
		Turns:        printer.Turns(),
		ToolCalls:    printer.ToolCalls(),
		FinalMessage: r.engine.LastAssistantText(),
	}
	if m := r.engine.Model(); m.ID != "" {
		res.Model = m.Provider + "/" + m.ID
	}
	return res
}

func (r *Runner) lastAssistant() *types.AssistantMessage {
	msgs := r.engine.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if a, ok := msgs[i].(*types.AssistantMessage); ok {
			return a
		}
	}
	return nil
}

// prompt combines the prompt argument, stdin and attached files.
func (r *Runner) prompt() (string, error) {
	var prompt string

	if r.config.ReadStdin && r.stdin != nil {
		data, err := io.ReadAll(r.stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		prompt = string(data)
	}

	if text := r.config.Templates.Expand(r.config.Prompt); text != "" {
		if strings.TrimSpace(prompt) != "" {
			prompt = text + "\n\n" + prompt
		} else {
			prompt = text
		}
	}

	if len(r.config.Files) > 0 {
		var b strings.Builder
		b.WriteString(prompt)
		for _, file := range r.config.Files {
			content, err := os.ReadFile(file)
			if err != nil {
				return "", fmt.Errorf("failed to read file %s: %w", file, err)
			}
			fmt.Fprintf(&b, "\n\n--- File: %s ---\n%s", file, content)
		}
		prompt = b.String()
	}

	return strings.TrimSpace(prompt), nil
}
