package compaction

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/pi-agent/pi/pkg/types"
)

// FileOps records the files touched by tool calls in the summarized history.
type FileOps struct {
	Read    map[string]bool
	Written map[string]bool
	Edited  map[string]bool
}

// NewFileOps returns empty file operation sets.
func NewFileOps() FileOps {
	return FileOps{
		Read:    make(map[string]bool),
		Written: make(map[string]bool),
		Edited:  make(map[string]bool),
	}
}

func (f FileOps) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Read    []string `json:"read"`
		Written []string `json:"written"`
		Edited  []string `json:"edited"`
	}{sortedKeys(f.Read), sortedKeys(f.Written), sortedKeys(f.Edited)})
}

// Details is stored on compaction entries so the next compaction can carry
// the file lists forward.
type Details struct {
	ReadFiles     []string `json:"readFiles"`
	ModifiedFiles []string `json:"modifiedFiles"`
}

// addFromMessage records read, write and edit tool calls made by an assistant message.
func (f FileOps) addFromMessage(msg types.AgentMessage) {
	am, ok := msg.(*types.AssistantMessage)
	if !ok {
		return
	}
	for _, call := range am.Content.ToolCalls() {
		path := toolPath(call.Arguments)
		if path == "" {
			continue
		}
		switch call.Name {
		case "read":
			f.Read[path] = true
		case "write":
			f.Written[path] = true
		case "edit":
			f.Edited[path] = true
		}
	}
}

func toolPath(args map[string]any) string {
	for _, key := range []string{"path", "filePath"} {
		if s, ok := args[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// addFromCompaction folds in the file lists of an earlier compaction.
// Compactions produced by a hook carry hook-defined details and are ignored.
func (f FileOps) addFromCompaction(c *types.CompactionEntry) {
	if c == nil || c.FromHook || c.Details == nil {
		return
	}
	raw, err := json.Marshal(c.Details)
	if err != nil {
		return
	}
	var d Details
	if err := json.Unmarshal(raw, &d); err != nil {
		return
	}
	for _, p := range d.ReadFiles {
		f.Read[p] = true
	}
	for _, p := range d.ModifiedFiles {
		f.Edited[p] = true
	}
}

// ComputeFileLists splits the operations into files only read and files
// modified. Both lists are sorted.
func ComputeFileLists(f FileOps) (readFiles, modifiedFiles []string) {
	modified := make(map[string]bool, len(f.Edited)+len(f.Written))
	for p := range f.Edited {
		modified[p] = true
	}
	for p := range f.Written {
		modified[p] = true
	}
	for p := range f.Read {
		if !modified[p] {
			readFiles = append(readFiles, p)
		}
	}
	sort.Strings(readFiles)
	return readFiles, sortedKeys(modified)
}

// FormatFileOperations renders the lists as tagged sections appended to a
// summary. It returns "" when both lists are empty.
func FormatFileOperations(readFiles, modifiedFiles []string) string {
	var sections []string
	if len(readFiles) > 0 {
		sections = append(sections, "<read-files>\n"+strings.Join(readFiles, "\n")+"\n</read-files>")
	}
	if len(modifiedFiles) > 0 {
		sections = append(sections, "<modified-files>\n"+strings.Join(modifiedFiles, "\n")+"\n</modified-files>")
	}
	if len(sections) == 0 {
		return ""
	}
	return "\n\n" + strings.Join(sections, "\n\n")
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
