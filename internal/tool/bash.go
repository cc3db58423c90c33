package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"mvdan.cc/sh/v3/syntax"
)

const (
	DefaultBashTimeout = 120 * time.Second
	MaxBashTimeout     = 10 * time.Minute
	MaxOutputLength    = 30000
	SigkillTimeout     = 200 * time.Millisecond
)

const bashDescription = `Executes a command with the user's shell in the working directory.

Usage:
- command is required
- Optional timeout in milliseconds (max 600000)
- Output is captured from stdout and stderr
- Long output keeps the last 30000 bytes; the full output is saved to a temp file
- A non-zero exit code is reported as an error`

// BashTool implements shell command execution.
type BashTool struct {
	workDir string
	shell   string
}

// BashInput represents the input for the bash tool.
type BashInput struct {
	Command     string `json:"command"`
	Timeout     int    `json:"timeout,omitempty"` // milliseconds
	Description string `json:"description,omitempty"`
}

// BashDetails describes a finished command.
type BashDetails struct {
	ExitCode       int    `json:"exitCode"`
	Truncated      bool   `json:"truncated,omitempty"`
	FullOutputPath string `json:"fullOutputPath,omitempty"`
}

// NewBashTool creates a new bash tool. An empty shell is detected from the
// environment.
func NewBashTool(workDir, shell string) *BashTool {
	if shell == "" {
		shell = detectShell()
	}
	return &BashTool{workDir: workDir, shell: shell}
}

func detectShell() string {
	if s := os.Getenv("SHELL"); s != "" {
		switch filepath.Base(s) {
		case "fish", "nu":
		default:
			return s
		}
	}
	if runtime.GOOS == "windows" {
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec
		}
		return "cmd.exe"
	}
	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/sh"
}

func (t *BashTool) ID() string          { return "bash" }
func (t *BashTool) Description() string { return bashDescription }

func (t *BashTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "The command to execute"
			},
			"timeout": {
				"type": "integer",
				"description": "Optional timeout in milliseconds (max 600000)"
			},
			"description": {
				"type": "string",
				"description": "Brief description of what this command does"
			}
		},
		"required": ["command"]
	}`)
}

func (t *BashTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params BashInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Command) == "" {
		return nil, fmt.Errorf("command is required")
	}
	if runtime.GOOS != "windows" {
		if _, err := syntax.NewParser().Parse(strings.NewReader(params.Command), ""); err != nil {
			return nil, fmt.Errorf("invalid command syntax: %w", err)
		}
	}

	timeout := DefaultBashTimeout
	if params.Timeout > 0 {
		timeout = min(time.Duration(params.Timeout)*time.Millisecond, MaxBashTimeout)
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(cmdCtx, t.shell, "/c", params.Command)
	} else {
		cmd = exec.CommandContext(cmdCtx, t.shell, "-c", params.Command)
		// Own process group so the whole tree dies on cancel.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		cmd.Cancel = func() error { return killProcessGroup(cmd) }
		cmd.WaitDelay = SigkillTimeout * 5
	}
	cmd.Dir = toolCtx.workDir(t.workDir)
	cmd.Env = os.Environ()

	out := &outputBuffer{ctx: toolCtx}
	cmd.Stdout = out
	cmd.Stderr = out

	runErr := cmd.Run()
	output, full := out.tail()
	details := BashDetails{ExitCode: -1}
	if cmd.ProcessState != nil {
		details.ExitCode = cmd.ProcessState.ExitCode()
	}
	if full != nil {
		details.Truncated = true
		if f, err := os.CreateTemp("", "pi-bash-*.log"); err == nil {
			_, _ = f.Write(full)
			_ = f.Close()
			details.FullOutputPath = f.Name()
		}
		output = fmt.Sprintf("(Output truncated, showing the last %d bytes. Full output: %s)\n%s", MaxOutputLength, details.FullOutputPath, output)
	}
	if output == "" {
		output = "(no output)"
	}

	switch {
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%s\n\nCommand aborted", output)
	case errors.Is(cmdCtx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("%s\n\nCommand timed out after %v", output, timeout)
	case runErr != nil:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("%s\n\nCommand exited with code %d", output, exitErr.ExitCode())
		}
		return nil, fmt.Errorf("%s\n\n%w", output, runErr)
	}
	return TextResult(output, details), nil
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		return cmd.Process.Kill()
	}
	go func() {
		time.Sleep(SigkillTimeout)
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}()
	return nil
}

// outputBuffer collects combined output and reports the tail as partial
// results.
type outputBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	ctx *Context
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.buf.Write(p)
	b.mu.Unlock()
	if b.ctx != nil && b.ctx.OnUpdate != nil {
		text, _ := b.tail()
		b.ctx.Update(TextResult(text, nil))
	}
	return len(p), nil
}

// tail returns the last MaxOutputLength bytes, and the full output when it
// had to be cut.
func (b *outputBuffer) tail() (string, []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := b.buf.Bytes()
	if len(data) <= MaxOutputLength {
		return string(data), nil
	}
	full := append([]byte(nil), data...)
	return string(data[len(data)-MaxOutputLength:]), full
}
