package command

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemplate(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a b\tc", []string{"a", "b", "c"}},
		{`"hello world" 'it''s' x`, []string{"hello world", "its", "x"}},
		{`  spaced   out  `, []string{"spaced", "out"}},
		{`"unterminated quote`, []string{"unterminated quote"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseArgs(tt.in), tt.in)
	}
}

func TestSubstitute(t *testing.T) {
	tests := []struct {
		template string
		args     []string
		want     string
	}{
		{"Hello, $1!", []string{"Ada"}, "Hello, Ada!"},
		{"$1 and $2", []string{"x"}, "x and "},
		{"all: $ARGUMENTS / $@", []string{"a", "b"}, "all: a b / a b"},
		{"cost $ and $0", []string{"a"}, "cost $ and "},
		{"$10", []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "ten"}, "ten"},
		{"$1", []string{"$ARGUMENTS"}, "$ARGUMENTS"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Substitute(tt.template, tt.args), tt.template)
	}
}

func TestLoad(t *testing.T) {
	agentDir := t.TempDir()
	cwd := t.TempDir()

	writeTemplate(t, filepath.Join(agentDir, "prompts"), "review.md", "---\ndescription: Review code\n---\nReview $1 carefully.\n")
	writeTemplate(t, filepath.Join(agentDir, "prompts"), "git/commit.md", "Write a commit message for the staged diff.")
	writeTemplate(t, filepath.Join(agentDir, "prompts"), "notes.txt", "ignored")
	writeTemplate(t, filepath.Join(cwd, ".pi", "prompts"), "review.md", "Project review of $ARGUMENTS")

	set := Load(cwd, agentDir)
	list := set.List()
	require.Len(t, list, 2)

	assert.Equal(t, &Template{
		Name:        "commit",
		Description: "Write a commit message for the staged diff. (user:git)",
		Content:     "Write a commit message for the staged diff.",
		Source:      "(user:git)",
	}, list[0])

	review, ok := set.Get("review")
	require.True(t, ok)
	assert.Equal(t, "(project)", review.Source)
	assert.Equal(t, "Project review of $ARGUMENTS (project)", review.Description)
}

func TestFrontmatter(t *testing.T) {
	meta, body := parseFrontmatter([]byte("---\ndescription: \"Quoted: yes\"\nother: 1\n---\n\nBody\n"))
	assert.Equal(t, "Quoted: yes", meta.Description)
	assert.Equal(t, "Body", body)

	meta, body = parseFrontmatter([]byte("---\nnever closed"))
	assert.Empty(t, meta.Description)
	assert.Equal(t, "---\nnever closed", body)
}

func TestExpand(t *testing.T) {
	set := NewSet(&Template{Name: "greet", Content: "Hello, $1! ($@)"})

	assert.Equal(t, `Hello, Ada Lovelace! (Ada Lovelace extra)`, set.Expand(`/greet "Ada Lovelace" extra`))
	assert.Equal(t, "Hello, ! ()", set.Expand("/greet"))
	assert.Equal(t, "/unknown x", set.Expand("/unknown x"))
	assert.Equal(t, "plain text", set.Expand("plain text"))
	assert.Equal(t, "/", set.Expand("/"))

	var empty *Set
	assert.Equal(t, "/greet", empty.Expand("/greet"))
}

func TestDescribeTruncates(t *testing.T) {
	long := "This first line is deliberately much longer than sixty characters in total"
	assert.Equal(t, long[:60]+"... (user)", describe("", "\n\n"+long, "(user)"))
	assert.Equal(t, "(user)", describe("", "  \n", "(user)"))
}
