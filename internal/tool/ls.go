package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultListLimit bounds the entries returned by ls.
const DefaultListLimit = 500

const lsDescription = `Lists files and directories in a directory.

Usage:
- path defaults to the working directory
- Directories are shown with a trailing /
- Entries are sorted alphabetically, dotfiles included
- Common build and dependency directories are hidden`

// LsTool implements directory listing.
type LsTool struct {
	workDir string
}

// LsInput represents the input for the ls tool.
type LsInput struct {
	pathArg
	Ignore []string `json:"ignore,omitempty"`
	Limit  int      `json:"limit,omitempty"`
}

// LsDetails summarizes a listing.
type LsDetails struct {
	Path      string `json:"path"`
	Count     int    `json:"count"`
	Truncated bool   `json:"truncated,omitempty"`
}

// defaultIgnorePatterns hide build output and dependency trees from ls,
// glob and grep.
var defaultIgnorePatterns = []string{
	"node_modules/",
	"__pycache__/",
	".git/",
	"dist/",
	"build/",
	"target/",
	"vendor/",
	"bin/",
	"obj/",
	".idea/",
	".vscode/",
	".zig-cache/",
	"zig-out",
	".coverage",
	"coverage/",
	"tmp/",
	"temp/",
	".cache/",
	"cache/",
	"logs/",
	".venv/",
	"venv/",
	"env/",
}

// NewLsTool creates a new ls tool.
func NewLsTool(workDir string) *LsTool {
	return &LsTool{workDir: workDir}
}

func (t *LsTool) ID() string          { return "ls" }
func (t *LsTool) Description() string { return lsDescription }

func (t *LsTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "Directory to list (default: working directory)"
			},
			"ignore": {
				"type": "array",
				"items": {"type": "string"},
				"description": "Glob patterns to hide"
			},
			"limit": {
				"type": "integer",
				"description": "Maximum number of entries (default: 500)"
			}
		}
	}`)
}

func (t *LsTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params LsInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	dir := toolCtx.workDir(t.workDir)
	if params.raw() != "" {
		dir = resolvePath(params.raw(), dir)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	patterns := append(append([]string{}, defaultIgnorePatterns...), params.Ignore...)
	var names []string
	for _, entry := range entries {
		if shouldIgnore(entry.Name(), entry.IsDir(), patterns) {
			continue
		}
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})

	details := LsDetails{Path: dir, Count: len(names)}
	if len(names) > limit {
		names = names[:limit]
		details.Truncated = true
	}

	out := strings.Join(names, "\n")
	switch {
	case len(names) == 0:
		out = "(empty directory)"
	case details.Truncated:
		out += fmt.Sprintf("\n\n(Showing %d of %d entries. Use limit to see more)", limit, details.Count)
	}
	return TextResult(out, details), nil
}

// shouldIgnore reports whether an entry matches one of the patterns.
// Patterns ending in / only match directories.
func shouldIgnore(name string, isDir bool, patterns []string) bool {
	for _, pattern := range patterns {
		if dirPattern, ok := strings.CutSuffix(pattern, "/"); ok {
			if isDir && name == dirPattern {
				return true
			}
			continue
		}
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
