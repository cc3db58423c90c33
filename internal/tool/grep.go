package tool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MaxGrepMatches bounds the matches returned by grep.
const MaxGrepMatches = 100

const grepDescription = `A content search tool built on ripgrep.

Usage:
- Supports full regex syntax (e.g., "log.*Error", "function\\s+\\w+")
- Filter files with the include parameter (e.g., "*.js", "**/*.tsx")
- Returns matching lines with file paths and line numbers`

// GrepTool implements content search. It runs rg when it is installed and
// walks the tree itself otherwise.
type GrepTool struct {
	workDir string
	rgPath  string
}

// GrepInput represents the input for the grep tool.
type GrepInput struct {
	Pattern string `json:"pattern"`
	pathArg
	Include    string `json:"include,omitempty"`
	IgnoreCase bool   `json:"ignoreCase,omitempty"`
}

// GrepMatch represents a search match.
type GrepMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// GrepDetails summarizes a search.
type GrepDetails struct {
	Pattern   string `json:"pattern"`
	Count     int    `json:"count"`
	Truncated bool   `json:"truncated,omitempty"`
}

// NewGrepTool creates a new grep tool.
func NewGrepTool(workDir string) *GrepTool {
	rg, _ := exec.LookPath("rg")
	return &GrepTool{workDir: workDir, rgPath: rg}
}

func (t *GrepTool) ID() string          { return "grep" }
func (t *GrepTool) Description() string { return grepDescription }

func (t *GrepTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "The regex pattern to search for in file contents"
			},
			"path": {
				"type": "string",
				"description": "The directory to search in. Defaults to the working directory."
			},
			"include": {
				"type": "string",
				"description": "File pattern to include in the search (e.g. \"*.js\", \"*.{ts,tsx}\")"
			},
			"ignoreCase": {
				"type": "boolean",
				"description": "Case insensitive search"
			}
		},
		"required": ["pattern"]
	}`)
}

func (t *GrepTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params GrepInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if params.Pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}
	if params.Include != "" && !doublestar.ValidatePattern(params.Include) {
		return nil, fmt.Errorf("invalid include pattern: %s", params.Include)
	}
	root := toolCtx.workDir(t.workDir)
	if params.raw() != "" {
		root = resolvePath(params.raw(), root)
	}

	var matches []GrepMatch
	var err error
	if t.rgPath != "" {
		matches, err = t.ripgrep(ctx, root, params)
	} else {
		matches, err = walkGrep(ctx, root, params)
	}
	if err != nil {
		return nil, err
	}

	details := GrepDetails{Pattern: params.Pattern, Count: len(matches)}
	if len(matches) == 0 {
		return TextResult("No matches found", details), nil
	}
	if len(matches) > MaxGrepMatches {
		matches = matches[:MaxGrepMatches]
		details.Truncated = true
	}

	var sb strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&sb, "%s:%d: %s\n", m.File, m.Line, m.Content)
	}
	if details.Truncated {
		fmt.Fprintf(&sb, "\n(Showing %d of %d matches)", MaxGrepMatches, details.Count)
	}
	return TextResult(sb.String(), details), nil
}

func (t *GrepTool) ripgrep(ctx context.Context, root string, params GrepInput) ([]GrepMatch, error) {
	args := []string{"--line-number", "--with-filename", "--color=never", "--no-heading"}
	if params.IgnoreCase {
		args = append(args, "--ignore-case")
	}
	if params.Include != "" {
		args = append(args, "--glob", params.Include)
	}
	args = append(args, "--", params.Pattern, ".")

	cmd := exec.CommandContext(ctx, t.rgPath, args...)
	cmd.Dir = root
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		// Exit status 1 means no matches.
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("rg: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}

	var matches []GrepMatch
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		parts := strings.SplitN(line, ":", 3)
		if len(parts) < 3 {
			continue
		}
		lineNum, _ := strconv.Atoi(parts[1])
		matches = append(matches, GrepMatch{
			File:    strings.TrimPrefix(parts[0], "./"),
			Line:    lineNum,
			Content: parts[2],
		})
	}
	return matches, nil
}

func walkGrep(ctx context.Context, root string, params GrepInput) ([]GrepMatch, error) {
	expr := params.Pattern
	if params.IgnoreCase {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	var matches []GrepMatch
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if p != root && shouldIgnore(d.Name(), true, defaultIgnorePatterns) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		rel = filepath.ToSlash(rel)
		if params.Include != "" {
			full, _ := doublestar.Match(params.Include, rel)
			base, _ := doublestar.Match(params.Include, d.Name())
			if !full && !base {
				return nil
			}
		}
		if isBinaryFile(p) {
			return nil
		}
		found, err := grepFile(p, rel, re)
		if err == nil {
			matches = append(matches, found...)
		}
		return nil
	})
	return matches, err
}

func grepFile(path, name string, re *regexp.Regexp) ([]GrepMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matches []GrepMatch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for n := 1; scanner.Scan(); n++ {
		if line := scanner.Text(); re.MatchString(line) {
			matches = append(matches, GrepMatch{File: name, Line: n, Content: line})
		}
	}
	return matches, scanner.Err()
}
