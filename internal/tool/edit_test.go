package tool

import (
	"os"
	"strings"
	"testing"
)

func TestEditTool_Execute(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.go", "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n")

	result := run(t, NewEditTool(dir), dir, `{"path": "main.go", "oldText": "println(\"hi\")", "newText": "println(\"bye\")"}`)
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `println("bye")`) {
		t.Errorf("file not edited:\n%s", data)
	}
	details := result.Details.(FileChangeDetails)
	if details.Replacements != 1 || details.Match != "exact" || details.Additions != 1 || details.Deletions != 1 || details.FirstChangedLine != 4 {
		t.Errorf("details = %+v", details)
	}
	if !strings.HasPrefix(details.Diff, "--- main.go\n") || !strings.Contains(details.Diff, "bye") {
		t.Errorf("diff = %q", details.Diff)
	}
}

func TestEditTool_LegacyArgumentNames(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "alpha beta")

	run(t, NewEditTool(dir), dir, `{"filePath": `+quote(path)+`, "oldString": "beta", "newString": "gamma"}`)
	data, _ := os.ReadFile(path)
	if string(data) != "alpha gamma" {
		t.Errorf("content = %q", data)
	}
}

func TestEditTool_ReplaceAll(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "foo bar foo baz foo")
	tool := NewEditTool(dir)

	err := runErr(t, tool, dir, `{"path": "a.txt", "oldText": "foo", "newText": "qux"}`)
	if !strings.Contains(err.Error(), "appears 3 times") {
		t.Errorf("error = %v", err)
	}

	result := run(t, tool, dir, `{"path": "a.txt", "oldText": "foo", "newText": "qux", "replaceAll": true}`)
	data, _ := os.ReadFile(path)
	if string(data) != "qux bar qux baz qux" {
		t.Errorf("content = %q", data)
	}
	if n := result.Details.(FileChangeDetails).Replacements; n != 3 {
		t.Errorf("replacements = %d", n)
	}
}

func TestEditTool_LineEndingNormalization(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "crlf.txt", "line1\r\nline2\r\nline3\r\n")

	result := run(t, NewEditTool(dir), dir, `{"path": "crlf.txt", "oldText": "line1\nline2", "newText": "changed"}`)
	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "changed\nline3") {
		t.Errorf("content = %q", data)
	}
	if m := result.Details.(FileChangeDetails).Match; m != "normalized" {
		t.Errorf("match = %q", m)
	}
}

func TestEditTool_FuzzyMatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "f.go", "func hello() {\n\treturn \"hello world\"\n}\n")

	result := run(t, NewEditTool(dir), dir, `{"path": "f.go", "oldText": "\treturn \"hello wrld\"", "newText": "\treturn \"hi\""}`)
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `return "hi"`) {
		t.Errorf("content = %q", data)
	}
	if !strings.Contains(result.Text(), "fuzzy match") {
		t.Errorf("output = %q", result.Text())
	}
}

func TestEditTool_Errors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "content")
	tool := NewEditTool(dir)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"not found", `{"path": "a.txt", "oldText": "completely unrelated text here", "newText": "x"}`, "could not find oldText"},
		{"same text", `{"path": "a.txt", "oldText": "content", "newText": "content"}`, "must be different"},
		{"empty old", `{"path": "a.txt", "oldText": "", "newText": "x"}`, "must not be empty"},
		{"missing file", `{"path": "nope.txt", "oldText": "a", "newText": "b"}`, "failed to read file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runErr(t, tool, dir, tt.input)
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want %q", err, tt.want)
			}
		})
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"", "", 1, 1},
		{"abc", "", 0, 0},
		{"hello", "hello", 1, 1},
		{"hello", "hallo", 0.79, 0.81},
		{"abc", "xyz", 0, 0},
	}
	for _, tt := range tests {
		if got := similarity(tt.a, tt.b); got < tt.min || got > tt.max {
			t.Errorf("similarity(%q, %q) = %v", tt.a, tt.b, got)
		}
	}
}

func TestEditTool_Properties(t *testing.T) {
	tool := NewEditTool("/tmp")
	if tool.ID() != "edit" {
		t.Errorf("ID = %q", tool.ID())
	}
	checkSchema(t, tool, "path", "oldText", "newText", "replaceAll")
}
