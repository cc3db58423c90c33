package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const writeDescription = `Writes content to a file on the local filesystem.

Usage:
- path may be absolute or relative to the working directory
- This tool will overwrite existing files
- Parent directories will be created if they don't exist
- ALWAYS prefer editing existing files over creating new ones`

// WriteTool implements file writing.
type WriteTool struct {
	workDir string
}

// WriteInput represents the input for the write tool.
type WriteInput struct {
	pathArg
	Content string `json:"content"`
}

// FileChangeDetails describes a file modification made by write or edit.
type FileChangeDetails struct {
	Path             string `json:"path"`
	Diff             string `json:"diff,omitempty"`
	Additions        int    `json:"additions"`
	Deletions        int    `json:"deletions"`
	FirstChangedLine int    `json:"firstChangedLine,omitempty"`
	Created          bool   `json:"created,omitempty"`
	// Replacements is the number of replaced occurrences (edit only).
	Replacements int    `json:"replacements,omitempty"`
	Match        string `json:"match,omitempty"` // exact, normalized or fuzzy
}

// NewWriteTool creates a new write tool.
func NewWriteTool(workDir string) *WriteTool {
	return &WriteTool{workDir: workDir}
}

func (t *WriteTool) ID() string          { return "write" }
func (t *WriteTool) Description() string { return writeDescription }

func (t *WriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "Path to the file to write"
			},
			"content": {
				"type": "string",
				"description": "The content to write to the file"
			}
		},
		"required": ["path", "content"]
	}`)
}

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params WriteInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	workDir := toolCtx.workDir(t.workDir)
	path, err := params.resolve(workDir)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	before, readErr := os.ReadFile(path)
	created := os.IsNotExist(readErr)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	diff := diffFile(path, string(before), params.Content, workDir)
	return TextResult(
		fmt.Sprintf("Successfully wrote %d bytes to %s", len(params.Content), params.raw()),
		FileChangeDetails{
			Path:             path,
			Diff:             diff.Patch,
			Additions:        diff.Additions,
			Deletions:        diff.Deletions,
			FirstChangedLine: diff.FirstChangedLine,
			Created:          created,
		},
	), nil
}
