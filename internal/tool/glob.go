package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// MaxGlobResults bounds the paths returned by glob.
const MaxGlobResults = 100

const globDescription = `Fast file pattern matching tool that works with any codebase size.

Usage:
- Supports glob patterns like "**/*.js" or "src/**/*.ts"
- Returns matching file paths sorted by modification time, newest first
- Use this tool when you need to find files by name patterns`

// GlobTool implements file pattern matching.
type GlobTool struct {
	workDir string
}

// GlobInput represents the input for the glob tool.
type GlobInput struct {
	Pattern string `json:"pattern"`
	pathArg
}

// GlobDetails summarizes a glob search.
type GlobDetails struct {
	Pattern   string `json:"pattern"`
	Count     int    `json:"count"`
	Truncated bool   `json:"truncated,omitempty"`
}

// NewGlobTool creates a new glob tool.
func NewGlobTool(workDir string) *GlobTool {
	return &GlobTool{workDir: workDir}
}

func (t *GlobTool) ID() string          { return "glob" }
func (t *GlobTool) Description() string { return globDescription }

func (t *GlobTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "The glob pattern to match files against"
			},
			"path": {
				"type": "string",
				"description": "Directory to search in (default: working directory)"
			}
		},
		"required": ["pattern"]
	}`)
}

func (t *GlobTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params GlobInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if params.Pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}
	if !doublestar.ValidatePattern(params.Pattern) {
		return nil, fmt.Errorf("invalid glob pattern: %s", params.Pattern)
	}
	dir := toolCtx.workDir(t.workDir)
	if params.raw() != "" {
		dir = resolvePath(params.raw(), dir)
	}

	type match struct {
		path    string
		modTime time.Time
	}
	var matches []match
	fsys := os.DirFS(dir)
	err := doublestar.GlobWalk(fsys, params.Pattern, func(p string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || ignoredPath(p) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		matches = append(matches, match{path: p, modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", params.Pattern, err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].modTime.After(matches[j].modTime)
	})

	details := GlobDetails{Pattern: params.Pattern, Count: len(matches)}
	if len(matches) == 0 {
		return TextResult("No files matched the pattern", details), nil
	}
	if len(matches) > MaxGlobResults {
		matches = matches[:MaxGlobResults]
		details.Truncated = true
	}

	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = m.path
	}
	out := strings.Join(paths, "\n")
	if details.Truncated {
		out += fmt.Sprintf("\n\n(Showing %d of %d files. Use a more specific pattern)", MaxGlobResults, details.Count)
	}
	return TextResult(out, details), nil
}

// ignoredPath reports whether any directory of the slash separated path p
// is one of the default ignored directories.
func ignoredPath(p string) bool {
	for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if shouldIgnore(path.Base(dir), true, defaultIgnorePatterns) {
			return true
		}
	}
	return false
}
