package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// contextFileNames are read from the agent directory and from the working
// directory and each of its ancestors.
var contextFileNames = []string{"AGENTS.md", "CLAUDE.md"}

var toolSummaries = map[string]string{
	"read":     "Read file contents",
	"bash":     "Execute bash commands (ls, grep, find, etc.)",
	"edit":     "Make surgical edits to files (find exact text and replace)",
	"write":    "Create or overwrite files",
	"grep":     "Search file contents for patterns (respects .gitignore)",
	"glob":     "Find files by glob pattern (respects .gitignore)",
	"ls":       "List directory contents",
	"webfetch": "Fetch a URL and return its content as markdown or text",
}

// ContextFile is a project instruction file included in the system prompt.
type ContextFile struct {
	Path    string
	Content string
}

// SystemPrompt builds the system prompt for a session.
type SystemPrompt struct {
	// Custom replaces the default prompt body. A path to an existing file
	// is read.
	Custom string
	// Append is added after the body. A path to an existing file is read.
	Append string

	Cwd      string
	AgentDir string
	// Tools are the names of the active tools, in display order.
	Tools []string

	// ContextFiles overrides discovery when non-nil.
	ContextFiles []ContextFile

	now func() time.Time
}

// Build constructs the complete system prompt.
func (s *SystemPrompt) Build() string {
	cwd := s.Cwd
	if cwd == "" {
		cwd, _ = os.Getwd()
	}
	files := s.ContextFiles
	if files == nil {
		files = LoadContextFiles(cwd, s.AgentDir)
	}

	var sb strings.Builder
	if custom := resolvePromptInput(s.Custom); custom != "" {
		sb.WriteString(custom)
	} else {
		sb.WriteString(s.defaultBody())
	}
	if appendix := resolvePromptInput(s.Append); appendix != "" {
		sb.WriteString("\n\n")
		sb.WriteString(appendix)
	}

	if len(files) > 0 {
		sb.WriteString("\n\n# Project Context\n\n")
		sb.WriteString("The following project context files have been loaded:\n\n")
		for _, f := range files {
			fmt.Fprintf(&sb, "## %s\n\n%s\n\n", f.Path, f.Content)
		}
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	fmt.Fprintf(&sb, "\nCurrent date and time: %s", now().Format("Monday, January 2, 2006, 03:04:05 PM MST"))
	fmt.Fprintf(&sb, "\nCurrent working directory: %s", cwd)
	fmt.Fprintf(&sb, "\nPlatform: %s/%s", runtime.GOOS, runtime.GOARCH)
	return sb.String()
}

func (s *SystemPrompt) defaultBody() string {
	has := make(map[string]bool, len(s.Tools))
	var list []string
	for _, name := range s.Tools {
		has[name] = true
		desc, ok := toolSummaries[name]
		if !ok {
			desc = "Tool"
		}
		list = append(list, fmt.Sprintf("- %s: %s", name, desc))
	}

	var guidelines []string
	add := func(g string) { guidelines = append(guidelines, "- "+g) }

	if !has["bash"] && !has["edit"] && !has["write"] {
		add("You are in READ-ONLY mode - you cannot modify files or execute arbitrary commands")
	}
	if has["bash"] && !has["edit"] && !has["write"] {
		add("Use bash ONLY for read-only operations (git log, gh issue view, curl, etc.) - do NOT modify any files")
	}
	if has["bash"] {
		if has["grep"] || has["glob"] || has["ls"] {
			add("Prefer grep/glob/ls tools over bash for file exploration (faster, respects .gitignore)")
		} else {
			add("Use bash for file operations like ls, grep, find")
		}
	}
	if has["read"] && has["edit"] {
		add("Use read to examine files before editing. You must use this tool instead of cat or sed.")
	}
	if has["edit"] {
		add("Use edit for precise changes (old text must match exactly)")
	}
	if has["write"] {
		add("Use write only for new files or complete rewrites")
	}
	if has["edit"] || has["write"] {
		add("When summarizing your actions, output plain text directly - do NOT use cat or bash to display what you did")
	}
	add("Be concise in your responses")
	add("Show file paths clearly when working with files")

	return "You are an expert coding assistant. You help users with coding tasks by reading files, executing commands, editing code, and writing new files.\n\n" +
		"Available tools:\n" + strings.Join(list, "\n") + "\n\n" +
		"In addition to the tools above, you may have access to other custom tools depending on the project.\n\n" +
		"Guidelines:\n" + strings.Join(guidelines, "\n")
}

// LoadContextFiles returns the instruction file of agentDir followed by
// those of cwd's ancestors, outermost first. Each directory contributes
// its first existing AGENTS.md or CLAUDE.md.
func LoadContextFiles(cwd, agentDir string) []ContextFile {
	var files []ContextFile
	seen := make(map[string]bool)

	if agentDir != "" {
		if f, ok := contextFileIn(agentDir); ok {
			seen[canonical(f.Path)] = true
			files = append(files, f)
		}
	}

	var ancestors []ContextFile
	dir := filepath.Clean(cwd)
	for {
		if f, ok := contextFileIn(dir); ok && !seen[canonical(f.Path)] {
			seen[canonical(f.Path)] = true
			ancestors = append([]ContextFile{f}, ancestors...)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return append(files, ancestors...)
}

func contextFileIn(dir string) (ContextFile, bool) {
	for _, name := range contextFileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		return ContextFile{Path: path, Content: string(data)}, true
	}
	return ContextFile{}, false
}

func canonical(path string) string {
	if p, err := filepath.EvalSymlinks(path); err == nil {
		return p
	}
	return path
}

// resolvePromptInput returns the content of input when it names a file,
// input itself otherwise.
func resolvePromptInput(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	if info, err := os.Stat(input); err == nil && !info.IsDir() {
		if data, err := os.ReadFile(input); err == nil {
			return string(data)
		}
	}
	return input
}
