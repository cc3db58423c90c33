package tool

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLsTool_Execute(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", "b")
	writeFile(t, dir, "A.txt", "a")
	writeFile(t, dir, ".hidden", "h")
	writeFile(t, dir, "src/main.go", "package main")
	writeFile(t, dir, "node_modules/x/index.js", "")

	result := run(t, NewLsTool(dir), dir, `{}`)
	if got := result.Text(); got != ".hidden\nA.txt\nb.txt\nsrc/" {
		t.Errorf("output:\n%s", got)
	}
	if strings.Contains(result.Text(), "node_modules") {
		t.Error("node_modules should be ignored")
	}
	if d := result.Details.(LsDetails); d.Count != 4 || d.Path != dir {
		t.Errorf("details = %+v", d)
	}
}

func TestLsTool_RelativePathAndIgnore(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/main.go", "")
	writeFile(t, dir, "src/main_test.go", "")
	writeFile(t, dir, "src/util.go", "")

	out := run(t, NewLsTool(dir), dir, `{"path": "src", "ignore": ["*_test.go"]}`).Text()
	if out != "main.go\nutil.go" {
		t.Errorf("output = %q", out)
	}
}

func TestLsTool_Limit(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		writeFile(t, dir, name, "")
	}
	result := run(t, NewLsTool(dir), dir, `{"limit": 2}`)
	if !strings.HasPrefix(result.Text(), "a\nb\n") || !strings.Contains(result.Text(), "Showing 2 of 3") {
		t.Errorf("output = %q", result.Text())
	}
	if !result.Details.(LsDetails).Truncated {
		t.Error("expected truncated")
	}
}

func TestLsTool_EmptyAndMissing(t *testing.T) {
	dir := t.TempDir()
	if out := run(t, NewLsTool(dir), dir, `{}`).Text(); out != "(empty directory)" {
		t.Errorf("output = %q", out)
	}
	runErr(t, NewLsTool(dir), dir, `{"path": `+quote(filepath.Join(dir, "missing"))+`}`)
}

func TestShouldIgnore(t *testing.T) {
	if !shouldIgnore("node_modules", true, defaultIgnorePatterns) {
		t.Error("node_modules dir should be ignored")
	}
	if shouldIgnore("build", false, defaultIgnorePatterns) {
		t.Error("a file named build is not a directory pattern match")
	}
	if !shouldIgnore("x.log", false, []string{"*.log"}) {
		t.Error("*.log should match")
	}
}

func TestLsTool_Properties(t *testing.T) {
	tool := NewLsTool(os.TempDir())
	if tool.ID() != "ls" {
		t.Errorf("ID = %q", tool.ID())
	}
	checkSchema(t, tool, "path", "ignore")
}
