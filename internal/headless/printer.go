package headless

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pi-agent/pi/internal/event"
	"github.com/pi-agent/pi/pkg/types"
)

// Printer writes engine events in one of the output formats and collects
// what the final result needs.
type Printer struct {
	mu         sync.Mutex
	writer     io.Writer
	format     OutputFormat
	quiet      bool
	verbose    bool
	startTime  time.Time
	turns      int
	toolCalls  []ToolCall
	toolStarts map[string]time.Time
	toolInputs map[string]map[string]any
	midLine    bool
	now        func() time.Time
}

// NewPrinter creates a new event printer.
func NewPrinter(writer io.Writer, format OutputFormat, quiet, verbose bool) *Printer {
	return &Printer{
		writer:     writer,
		format:     format,
		quiet:      quiet,
		verbose:    verbose,
		startTime:  time.Now(),
		toolStarts: make(map[string]time.Time),
		toolInputs: make(map[string]map[string]any),
		now:        time.Now,
	}
}

// Turns returns the number of model calls seen.
func (p *Printer) Turns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.turns
}

// ToolCalls returns the finished tool calls seen.
func (p *Printer) ToolCalls() []ToolCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ToolCall(nil), p.toolCalls...)
}

// Handle processes one engine event.
func (p *Printer) Handle(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.track(e)
	switch p.format {
	case OutputText:
		p.handleText(e)
	case OutputJSONL:
		p.handleJSONL(e)
	}
}

// PrintResult prints the final result. Text output gets a summary line,
// JSON output the whole result.
func (p *Printer) PrintResult(res *Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.format {
	case OutputJSON:
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return
		}
		fmt.Fprintln(p.writer, string(data))
	case OutputJSONL:
		data, err := json.Marshal(&Event{Type: "result", Timestamp: p.now(), Data: res})
		if err != nil {
			return
		}
		fmt.Fprintln(p.writer, string(data))
	case OutputText:
		p.endLine()
		if res.Error != "" {
			fmt.Fprintf(p.writer, "[error] %s\n", res.Error)
		}
		if p.quiet {
			return
		}
		fmt.Fprintf(p.writer, "[%s] %s in %s (input: %d tokens, output: %d tokens)\n",
			res.Status, truncateID(res.SessionID), formatDuration(time.Duration(res.DurationMS)*time.Millisecond),
			res.Tokens.Input, res.Tokens.Output)
	}
}

func (p *Printer) track(e event.Event) {
	switch e.Type {
	case event.TurnStart:
		p.turns++
	case event.ToolExecutionStart:
		if data, ok := e.Data.(event.ToolExecutionStartData); ok {
			p.toolStarts[data.ToolCallID] = p.now()
			p.toolInputs[data.ToolCallID] = data.Args
		}
	case event.ToolExecutionEnd:
		if data, ok := e.Data.(event.ToolExecutionEndData); ok {
			call := ToolCall{
				Tool:    data.ToolName,
				Input:   p.toolInputs[data.ToolCallID],
				Output:  truncateOutput(data.Content.Texts(), 500),
				IsError: data.IsError,
			}
			if start, ok := p.toolStarts[data.ToolCallID]; ok {
				call.DurationMS = p.now().Sub(start).Milliseconds()
			}
			delete(p.toolStarts, data.ToolCallID)
			delete(p.toolInputs, data.ToolCallID)
			p.toolCalls = append(p.toolCalls, call)
		}
	}
}

// handleText outputs events in human-readable text format.
func (p *Printer) handleText(e event.Event) {
	switch e.Type {
	case event.MessageUpdate:
		data, ok := e.Data.(event.MessageUpdateData)
		if !ok {
			return
		}
		switch data.Kind {
		case "text_delta":
			p.write(data.Delta)
		case "thinking_delta":
			if p.verbose && !p.quiet {
				p.write(data.Delta)
			}
		}
		return
	}
	if p.quiet {
		return
	}

	switch e.Type {
	case event.ToolExecutionStart:
		if data, ok := e.Data.(event.ToolExecutionStartData); ok {
			p.endLine()
			if info := formatToolInfo(data.ToolName, data.Args); info != "" {
				fmt.Fprintf(p.writer, "[tool:%s] %s\n", data.ToolName, info)
			} else {
				fmt.Fprintf(p.writer, "[tool:%s]\n", data.ToolName)
			}
		}

	case event.ToolExecutionEnd:
		if data, ok := e.Data.(event.ToolExecutionEndData); ok {
			if data.IsError {
				fmt.Fprintf(p.writer, "[tool:%s] Error: %s\n", data.ToolName, truncateOutput(firstLine(data.Content.Texts()), 200))
			} else if p.verbose {
				fmt.Fprintf(p.writer, "[tool:%s] Done\n", data.ToolName)
			}
		}

	case event.AutoRetry:
		if data, ok := e.Data.(event.AutoRetryData); ok {
			p.endLine()
			fmt.Fprintf(p.writer, "[retry] attempt %d/%d in %dms: %s\n", data.Attempt, data.MaxAttempts, data.DelayMs, data.ErrorMessage)
		}

	case event.AutoCompactionStart:
		if data, ok := e.Data.(event.AutoCompactionStartData); ok {
			p.endLine()
			fmt.Fprintf(p.writer, "[compaction] %s\n", data.Reason)
		}

	case event.AutoCompactionEnd:
		if data, ok := e.Data.(event.AutoCompactionEndData); ok {
			switch {
			case data.Aborted:
				fmt.Fprintln(p.writer, "[compaction] cancelled")
			case data.Error != "":
				fmt.Fprintf(p.writer, "[compaction] failed: %s\n", data.Error)
			default:
				fmt.Fprintf(p.writer, "[compaction] done (%d tokens before)\n", data.TokensBefore)
			}
		}

	case event.MessageEnd:
		if data, ok := e.Data.(event.MessageData); ok {
			if msg, ok := data.Message.(*types.AssistantMessage); ok && msg.StopReason == types.StopReasonError {
				p.endLine()
				fmt.Fprintf(p.writer, "[error] %s\n", msg.ErrorMessage)
			}
		}
	}
}

func (p *Printer) write(s string) {
	if s == "" {
		return
	}
	fmt.Fprint(p.writer, s)
	p.midLine = !strings.HasSuffix(s, "\n")
}

func (p *Printer) endLine() {
	if p.midLine {
		fmt.Fprintln(p.writer)
		p.midLine = false
	}
}

// handleJSONL outputs events in JSONL format. Streaming deltas are only
// written in verbose mode.
func (p *Printer) handleJSONL(e event.Event) {
	if !p.verbose && (e.Type == event.MessageUpdate || e.Type == event.ToolExecutionUpdate) {
		return
	}
	data, err := json.Marshal(&Event{Type: string(e.Type), Timestamp: p.now(), Data: e.Data})
	if err != nil {
		return
	}
	fmt.Fprintln(p.writer, string(data))
}

func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatToolInfo(name string, input map[string]any) string {
	str := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := input[k].(string); ok && v != "" {
				return v
			}
		}
		return ""
	}

	switch name {
	case "read":
		if path := str("path", "filePath"); path != "" {
			return "Reading " + path
		}
	case "write":
		if path := str("path", "filePath"); path != "" {
			return "Writing " + path
		}
	case "edit":
		if path := str("path", "filePath"); path != "" {
			return "Editing " + path
		}
	case "ls":
		if path := str("path"); path != "" {
			return "Listing " + path
		}
	case "bash":
		if cmd := str("command"); cmd != "" {
			cmd = firstLine(cmd)
			if len(cmd) > 60 {
				cmd = cmd[:60] + "..."
			}
			return "$ " + cmd
		}
	case "glob":
		if pattern := str("pattern"); pattern != "" {
			return "Searching: " + pattern
		}
	case "grep":
		if pattern := str("pattern"); pattern != "" {
			return "Grepping: " + pattern
		}
	case "webfetch":
		if url := str("url"); url != "" {
			return "Fetching: " + url
		}
	}
	return ""
}
