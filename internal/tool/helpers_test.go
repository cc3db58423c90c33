package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func testContext(workDir string) *Context {
	return &Context{CallID: "call_1", WorkDir: workDir}
}

// run executes tool with a JSON input and fails the test on error.
func run(t *testing.T, tool Tool, workDir, input string) *Result {
	t.Helper()
	result, err := tool.Execute(context.Background(), json.RawMessage(input), testContext(workDir))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	return result
}

// runErr executes tool and returns its error, failing the test if it
// succeeds.
func runErr(t *testing.T, tool Tool, workDir, input string) error {
	t.Helper()
	_, err := tool.Execute(context.Background(), json.RawMessage(input), testContext(workDir))
	if err == nil {
		t.Fatal("Expected an error")
	}
	return err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	return path
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func checkSchema(t *testing.T, tool Tool, properties ...string) {
	t.Helper()
	var schema struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(tool.Parameters(), &schema); err != nil {
		t.Fatalf("%s: invalid parameter schema: %v", tool.ID(), err)
	}
	if schema.Type != "object" {
		t.Errorf("%s: schema type = %q, want object", tool.ID(), schema.Type)
	}
	for _, name := range properties {
		if _, ok := schema.Properties[name]; !ok {
			t.Errorf("%s: missing property %q", tool.ID(), name)
		}
	}
	if tool.Description() == "" {
		t.Errorf("%s: empty description", tool.ID())
	}
}
