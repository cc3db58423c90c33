package tool

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteTool_CreatesFileAndDirectories(t *testing.T) {
	dir := t.TempDir()

	result := run(t, NewWriteTool(dir), dir, `{"path": "a/b/new.txt", "content": "hello\nworld\n"}`)
	data, err := os.ReadFile(filepath.Join(dir, "a", "b", "new.txt"))
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if string(data) != "hello\nworld\n" {
		t.Errorf("content = %q", data)
	}
	if !strings.Contains(result.Text(), "Successfully wrote 12 bytes") {
		t.Errorf("output = %q", result.Text())
	}
	details := result.Details.(FileChangeDetails)
	if !details.Created || details.Additions != 2 || details.Deletions != 0 {
		t.Errorf("details = %+v", details)
	}
	if !strings.HasPrefix(details.Diff, "--- a/b/new.txt\n+++ a/b/new.txt\n") {
		t.Errorf("diff header = %q", details.Diff)
	}
}

func TestWriteTool_Overwrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "f.txt", "one\ntwo\n")

	result := run(t, NewWriteTool(dir), dir, `{"filePath": `+quote(path)+`, "content": "one\nthree\n"}`)
	data, _ := os.ReadFile(path)
	if string(data) != "one\nthree\n" {
		t.Errorf("content = %q", data)
	}
	details := result.Details.(FileChangeDetails)
	if details.Created || details.Additions != 1 || details.Deletions != 1 {
		t.Errorf("details = %+v", details)
	}
}

func TestWriteTool_EmptyContent(t *testing.T) {
	dir := t.TempDir()
	run(t, NewWriteTool(dir), dir, `{"path": "empty.txt", "content": ""}`)
	info, err := os.Stat(filepath.Join(dir, "empty.txt"))
	if err != nil || info.Size() != 0 {
		t.Errorf("expected empty file, got %v %v", info, err)
	}
}

func TestWriteTool_Properties(t *testing.T) {
	tool := NewWriteTool("/tmp")
	if tool.ID() != "write" {
		t.Errorf("ID = %q", tool.ID())
	}
	checkSchema(t, tool, "path", "content")
	runErr(t, tool, "/tmp", `not json`)
}
