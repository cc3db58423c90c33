package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pi-agent/pi/internal/extension"
	"github.com/pi-agent/pi/internal/headless"
)

var (
	runPrompt             string
	runWorkDir            string
	runModel              string
	runThinking           string
	runAPIKey             string
	runContinue           bool
	runSession            string
	runNoSession          bool
	runExtensions         []string
	runNoExtensions       bool
	runSystemPrompt       string
	runAppendSystemPrompt string
	runAutoApprove        bool
	runOutputFormat       string
	runQuiet              bool
	runVerbose            bool
	runTimeout            string
	runStdin              bool
	runFiles              []string
)

var runCmd = &cobra.Command{
	Use:   "run [prompt...]",
	Short: "Run a prompt and print the result",
	Long: `Run a single prompt without an interactive UI.

Assistant text streams to stdout as it arrives. Tool activity, retries and
compactions are reported in text mode; json prints one result object and
jsonl streams every agent event.

Examples:
  pi run "Fix the bug in main.go"
  pi run --yolo -m anthropic/claude-sonnet-4-5 "Refactor the parser"
  pi run -c "Now add tests for what you just implemented"
  echo "Explain this diff" | pi run --stdin
  pi run -o jsonl "Implement feature X" | jq -r '.type'`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runPrompt, "prompt", "p", "", "Prompt to execute")
	f.BoolVar(&runStdin, "stdin", false, "Read prompt from stdin")
	f.StringArrayVarP(&runFiles, "file", "f", nil, "File(s) to attach as context")

	f.StringVarP(&runWorkDir, "workdir", "w", "", "Working directory")
	f.StringVarP(&runModel, "model", "m", "", "Model as provider/model")
	f.StringVar(&runThinking, "thinking", "", "Thinking level (off|minimal|low|medium|high|xhigh)")
	f.StringVar(&runAPIKey, "api-key", "", "API key for the selected provider")

	f.BoolVarP(&runContinue, "continue", "c", false, "Continue the most recent session")
	f.StringVarP(&runSession, "session", "s", "", "Session file to open")
	f.BoolVar(&runNoSession, "no-session", false, "Don't persist the session")

	f.StringArrayVarP(&runExtensions, "extension", "e", nil, "Extension to load (repeatable)")
	f.BoolVar(&runNoExtensions, "no-extensions", false, "Don't load any extensions")
	f.StringVar(&runSystemPrompt, "system-prompt", "", "Replace the system prompt (text or file)")
	f.StringVar(&runAppendSystemPrompt, "append-system-prompt", "", "Append to the system prompt (text or file)")

	f.BoolVar(&runAutoApprove, "auto-approve", false, "Approve all tool executions")
	f.BoolVar(&runAutoApprove, "yolo", false, "Alias for --auto-approve")

	f.StringVarP(&runOutputFormat, "output-format", "o", "text", "Output format: text, json, jsonl")
	f.BoolVarP(&runQuiet, "quiet", "q", false, "Only print the answer")
	f.BoolVarP(&runVerbose, "verbose", "v", false, "Show all events")
	f.StringVarP(&runTimeout, "timeout", "t", "30m", "Maximum execution time (e.g., 5m, 1h)")
}

func runRun(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(runWorkDir)
	if err != nil {
		return err
	}

	timeout, err := time.ParseDuration(runTimeout)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}

	format := strings.ToLower(runOutputFormat)
	switch headless.OutputFormat(format) {
	case headless.OutputText, headless.OutputJSON, headless.OutputJSONL:
	default:
		return fmt.Errorf("invalid output format: %s (must be text, json, or jsonl)", runOutputFormat)
	}

	prompt := runPrompt
	if prompt == "" && len(args) > 0 {
		prompt = strings.Join(args, " ")
	}
	if prompt == "" && !runStdin {
		return fmt.Errorf("prompt required. Provide via argument, --prompt flag, or --stdin")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// stdin may carry the prompt, so approvals can't read from it
	approver := headless.NewApprover(runAutoApprove || runStdin, os.Stdin, os.Stderr)

	stack, err := headless.NewStack(ctx, headless.StackConfig{
		WorkDir:            workDir,
		Model:              runModel,
		ThinkingLevel:      runThinking,
		APIKey:             runAPIKey,
		Continue:           runContinue,
		SessionPath:        runSession,
		NoSave:             runNoSession,
		Extensions:         runExtensions,
		NoExtensions:       runNoExtensions,
		UIHandler:          stderrUI,
		SystemPrompt:       runSystemPrompt,
		AppendSystemPrompt: runAppendSystemPrompt,
		Approval:           approver.Approve,
	})
	if err != nil {
		return err
	}
	defer stack.Close()

	runner := headless.NewRunner(&headless.Config{
		Prompt:       prompt,
		ReadStdin:    runStdin,
		Files:        runFiles,
		Templates:    stack.Templates,
		OutputFormat: headless.OutputFormat(format),
		Timeout:      timeout,
		Quiet:        runQuiet,
		Verbose:      runVerbose,
	}, stack.Engine, approver)

	result, err := runner.Run(ctx, os.Stdout)
	if result != nil && result.ExitCode != headless.ExitSuccess {
		stack.Close()
		os.Exit(int(result.ExitCode))
	}
	return err
}

// stderrUI shows extension notifications and declines interactive prompts,
// which have no terminal UI in run mode.
func stderrUI(_ context.Context, req extension.UIRequest) (extension.UIResponse, error) {
	if req.Kind == "notify" {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", req.ExtensionPath, req.Message)
		return extension.UIResponse{}, nil
	}
	return extension.UIResponse{Cancelled: true}, nil
}
