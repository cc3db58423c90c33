package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/agnivade/levenshtein"
)

// FuzzyMatchThreshold is the minimum similarity for a fuzzy replacement.
const FuzzyMatchThreshold = 0.7

const editDescription = `Performs exact string replacements in files.

Usage:
- path may be absolute or relative to the working directory
- oldText must exist in the file (exact match required)
- newText will replace oldText
- Use replaceAll to replace all occurrences
- The edit will FAIL if oldText is not unique (unless using replaceAll)`

// EditTool implements file editing.
type EditTool struct {
	workDir string
}

// EditInput represents the input for the edit tool. oldString/newString are
// accepted as aliases of oldText/newText.
type EditInput struct {
	pathArg
	OldText    string `json:"oldText"`
	NewText    string `json:"newText"`
	OldString  string `json:"oldString,omitempty"`
	NewString  string `json:"newString,omitempty"`
	ReplaceAll bool   `json:"replaceAll,omitempty"`
}

func (in *EditInput) normalize() {
	if in.OldText == "" {
		in.OldText = in.OldString
	}
	if in.NewText == "" {
		in.NewText = in.NewString
	}
}

// NewEditTool creates a new edit tool.
func NewEditTool(workDir string) *EditTool {
	return &EditTool{workDir: workDir}
}

func (t *EditTool) ID() string          { return "edit" }
func (t *EditTool) Description() string { return editDescription }

func (t *EditTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "Path to the file to edit"
			},
			"oldText": {
				"type": "string",
				"description": "The exact text to replace"
			},
			"newText": {
				"type": "string",
				"description": "The text to replace it with"
			},
			"replaceAll": {
				"type": "boolean",
				"description": "Replace all occurrences (default: false)"
			}
		},
		"required": ["path", "oldText", "newText"]
	}`)
}

func (t *EditTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params EditInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	params.normalize()
	workDir := toolCtx.workDir(t.workDir)
	path, err := params.resolve(workDir)
	if err != nil {
		return nil, err
	}
	if params.OldText == "" {
		return nil, fmt.Errorf("oldText must not be empty")
	}
	if params.OldText == params.NewText {
		return nil, fmt.Errorf("oldText and newText must be different")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	text := string(content)

	newText, count, match, err := replace(text, params)
	if err != nil {
		return nil, fmt.Errorf("%w in %s", err, params.raw())
	}
	if err := os.WriteFile(path, []byte(newText), 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	diff := diffFile(path, text, newText, workDir)
	out := fmt.Sprintf("Successfully replaced %d occurrence(s) in %s", count, params.raw())
	if match != "exact" {
		out += fmt.Sprintf(" (%s match)", match)
	}
	return TextResult(out, FileChangeDetails{
		Path:             path,
		Diff:             diff.Patch,
		Additions:        diff.Additions,
		Deletions:        diff.Deletions,
		FirstChangedLine: diff.FirstChangedLine,
		Replacements:     count,
		Match:            match,
	}), nil
}

// replace applies the edit to text. It tries an exact match, then a match
// with normalized line endings, then the most similar line block.
func replace(text string, params EditInput) (string, int, string, error) {
	count := strings.Count(text, params.OldText)
	switch {
	case count > 1 && !params.ReplaceAll:
		return "", 0, "", fmt.Errorf("oldText appears %d times. Use replaceAll or provide more context", count)
	case count > 0 && params.ReplaceAll:
		return strings.ReplaceAll(text, params.OldText, params.NewText), count, "exact", nil
	case count == 1:
		return strings.Replace(text, params.OldText, params.NewText, 1), 1, "exact", nil
	}

	normalizedOld := normalizeLineEndings(params.OldText)
	normalizedText := normalizeLineEndings(text)
	if strings.Count(normalizedText, normalizedOld) == 1 {
		return strings.Replace(normalizedText, normalizedOld, params.NewText, 1), 1, "normalized", nil
	}

	if m, sim := findBestMatch(text, params.OldText); m != "" && sim >= FuzzyMatchThreshold {
		return strings.Replace(text, m, params.NewText, 1), 1, "fuzzy", nil
	}
	return "", 0, "", fmt.Errorf("could not find oldText")
}

func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// findBestMatch finds the block of lines most similar to target.
func findBestMatch(text, target string) (string, float64) {
	lines := strings.Split(text, "\n")
	n := len(strings.Split(target, "\n"))

	best, bestSim := "", 0.0
	for i := 0; i+n <= len(lines); i++ {
		block := strings.Join(lines[i:i+n], "\n")
		if sim := similarity(block, target); sim > bestSim {
			best, bestSim = block, sim
		}
	}
	return best, bestSim
}

// similarity is the Levenshtein distance normalized to [0, 1].
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	// Very long blocks are compared by length only.
	if len(a) > 10000 || len(b) > 10000 {
		return float64(min(len(a), len(b))) / float64(max(len(a), len(b)))
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(max(len(a), len(b)))
}
