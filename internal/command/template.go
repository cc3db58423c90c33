package command

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pi-agent/pi/internal/logging"
)

// Template is one prompt template.
type Template struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Content     string `json:"content"`
	// Source is "(user)", "(project)" or with a subdirectory "(user:sub)".
	Source string `json:"source"`
}

type frontmatter struct {
	Description string `yaml:"description"`
}

// Set holds the templates of a session. Later templates with the same
// name shadow earlier ones, so project templates win over user templates.
type Set struct {
	byName map[string]*Template
	order  []string
}

// NewSet creates a set from templates.
func NewSet(templates ...*Template) *Set {
	s := &Set{byName: make(map[string]*Template)}
	for _, t := range templates {
		if _, ok := s.byName[t.Name]; !ok {
			s.order = append(s.order, t.Name)
		}
		s.byName[t.Name] = t
	}
	return s
}

// Load reads the user templates from agentDir and the project templates
// from cwd. Unreadable files are skipped.
func Load(cwd, agentDir string) *Set {
	var templates []*Template
	if agentDir != "" {
		templates = append(templates, loadDir(filepath.Join(agentDir, "prompts"), "user", "")...)
	}
	if cwd != "" {
		templates = append(templates, loadDir(filepath.Join(cwd, ".pi", "prompts"), "project", "")...)
	}
	return NewSet(templates...)
}

// Get returns the template called name.
func (s *Set) Get(name string) (*Template, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.byName[name]
	return t, ok
}

// List returns the templates sorted by name.
func (s *Set) List() []*Template {
	if s == nil {
		return nil
	}
	names := append([]string(nil), s.order...)
	sort.Strings(names)
	out := make([]*Template, 0, len(names))
	for _, n := range names {
		out = append(out, s.byName[n])
	}
	return out
}

// Expand turns "/name args" into the expanded template. Anything else is
// returned unchanged.
func (s *Set) Expand(text string) string {
	if !strings.HasPrefix(text, "/") {
		return text
	}
	name, args, _ := strings.Cut(text[1:], " ")
	if name == "" {
		return text
	}
	t, ok := s.Get(name)
	if !ok {
		return text
	}
	return Substitute(t.Content, ParseArgs(args))
}

func loadDir(dir, source, subdir string) []*Template {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	log := logging.Component("command")

	var out []*Template
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() {
			sub := e.Name()
			if subdir != "" {
				sub = subdir + ":" + sub
			}
			out = append(out, loadDir(path, source, sub)...)
			continue
		}
		if !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("skipping prompt template")
			continue
		}

		meta, body := parseFrontmatter(data)
		label := "(" + source + ")"
		if subdir != "" {
			label = "(" + source + ":" + subdir + ")"
		}
		out = append(out, &Template{
			Name:        strings.TrimSuffix(e.Name(), ".md"),
			Description: describe(meta.Description, body, label),
			Content:     body,
			Source:      label,
		})
	}
	return out
}

// parseFrontmatter splits a leading "---" YAML block from the body. Files
// without a closed block are returned whole.
func parseFrontmatter(data []byte) (frontmatter, string) {
	var meta frontmatter
	content := string(data)
	if !strings.HasPrefix(content, "---") {
		return meta, content
	}
	end := strings.Index(content[3:], "\n---")
	if end < 0 {
		return meta, content
	}
	block := content[3 : end+3]
	rest := content[end+3+len("\n---"):]

	if err := yaml.NewDecoder(bytes.NewReader([]byte(block))).Decode(&meta); err != nil {
		meta = frontmatter{}
	}
	return meta, strings.TrimSpace(rest)
}

// describe uses the frontmatter description or the first non-empty line,
// followed by the source label.
func describe(description, body, label string) string {
	description = strings.TrimSpace(description)
	if description == "" {
		for _, line := range strings.Split(body, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				description = truncate(line, 60)
				break
			}
		}
	}
	if description == "" {
		return label
	}
	return description + " " + label
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
