// Package tool provides the built-in tools the agent exposes to the model.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pi-agent/pi/pkg/types"
)

// Tool defines the interface for all tools.
type Tool interface {
	// ID returns the tool name the model calls.
	ID() string

	// Description returns the tool description.
	Description() string

	// Parameters returns the JSON Schema for tool parameters.
	Parameters() json.RawMessage

	// Execute runs the tool. A returned error becomes an error tool result
	// carrying the error text.
	Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)
}

// Context provides execution context to tools.
type Context struct {
	CallID  string
	WorkDir string

	// OnUpdate receives partial results of long running tools.
	OnUpdate func(partial *Result)
}

// Update reports a partial result if anyone listens.
func (c *Context) Update(partial *Result) {
	if c != nil && c.OnUpdate != nil {
		c.OnUpdate(partial)
	}
}

func (c *Context) workDir(fallback string) string {
	if c != nil && c.WorkDir != "" {
		return c.WorkDir
	}
	return fallback
}

// Result is the output of a tool execution.
type Result struct {
	Content types.Content `json:"content"`
	Details any           `json:"details,omitempty"`
}

// TextResult builds a result holding one text block.
func TextResult(text string, details any) *Result {
	return &Result{Content: types.Content{types.Text(text)}, Details: details}
}

// Text returns the concatenated text blocks of r.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	return r.Content.Texts()
}

// BaseTool adapts a function into a Tool.
type BaseTool struct {
	id          string
	description string
	parameters  json.RawMessage
	execute     func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)
}

// NewBaseTool creates a new base tool.
func NewBaseTool(id, description string, params json.RawMessage, execute func(context.Context, json.RawMessage, *Context) (*Result, error)) *BaseTool {
	if params == nil {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return &BaseTool{
		id:          id,
		description: description,
		parameters:  params,
		execute:     execute,
	}
}

func (t *BaseTool) ID() string                  { return t.id }
func (t *BaseTool) Description() string         { return t.description }
func (t *BaseTool) Parameters() json.RawMessage { return t.parameters }

func (t *BaseTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	return t.execute(ctx, input, toolCtx)
}

// pathArg is the file argument shared by the file tools. filePath is
// accepted as an alias of path.
type pathArg struct {
	Path     string `json:"path"`
	FilePath string `json:"filePath,omitempty"`
}

func (p pathArg) raw() string {
	if p.Path != "" {
		return p.Path
	}
	return p.FilePath
}

// resolve returns the absolute path, relative paths are taken from
// workDir. A leading ~ expands to the home directory.
func (p pathArg) resolve(workDir string) (string, error) {
	path := p.raw()
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	return resolvePath(path, workDir), nil
}

func resolvePath(path, workDir string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	if filepath.IsAbs(path) || workDir == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(workDir, path)
}

func decodeInput(input json.RawMessage, v any) error {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}
