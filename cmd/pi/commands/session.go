package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pi-agent/pi/internal/config"
	"github.com/pi-agent/pi/internal/session"
	"github.com/pi-agent/pi/pkg/types"
)

var (
	sessionDir   string
	sessionAll   bool
	sessionJSON  bool
	sessionClear bool
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and label session files",
}

var sessionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sessions of the working directory",
	RunE:    runSessionList,
}

var sessionTreeCmd = &cobra.Command{
	Use:   "tree <session-file>",
	Short: "Print the entry tree of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionTree,
}

var sessionLabelCmd = &cobra.Command{
	Use:   "label <session-file> <entry-id> [label]",
	Short: "Set or clear the label of an entry",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runSessionLabel,
}

func init() {
	sessionListCmd.Flags().StringVar(&sessionDir, "dir", "", "Session directory (default: the one for the working directory)")
	sessionListCmd.Flags().BoolVar(&sessionAll, "all", false, "List sessions of every working directory")
	sessionListCmd.Flags().BoolVar(&sessionJSON, "json", false, "Print JSON")
	sessionTreeCmd.Flags().BoolVar(&sessionJSON, "json", false, "Print JSON")
	sessionLabelCmd.Flags().BoolVar(&sessionClear, "clear", false, "Remove the label")

	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionTreeCmd)
	sessionCmd.AddCommand(sessionLabelCmd)
}

func runSessionList(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()
	var dirs []string
	switch {
	case sessionDir != "":
		dirs = []string{sessionDir}
	case sessionAll:
		entries, err := os.ReadDir(paths.Sessions)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, filepath.Join(paths.Sessions, e.Name()))
			}
		}
	default:
		workDir, err := os.Getwd()
		if err != nil {
			return err
		}
		dirs = []string{paths.SessionDir(workDir)}
	}

	infos := []session.Info{}
	for _, dir := range dirs {
		list, err := session.List(dir)
		if err != nil {
			return err
		}
		infos = append(infos, list...)
	}

	out := cmd.OutOrStdout()
	if sessionJSON {
		return printJSON(out, infos)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODIFIED\tMESSAGES\tFIRST MESSAGE\tPATH")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", info.Modified, info.MessageCount, preview(info.FirstMessage, 50), info.Path)
	}
	return w.Flush()
}

func runSessionTree(cmd *cobra.Command, args []string) error {
	store, err := session.Open(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if sessionJSON {
		return printJSON(out, map[string]any{"leafId": store.LeafID(), "roots": store.Tree()})
	}
	printTree(out, store.Tree(), store.LeafID(), "")
	return nil
}

func runSessionLabel(cmd *cobra.Command, args []string) error {
	store, err := session.Open(args[0])
	if err != nil {
		return err
	}
	var label *string
	switch {
	case sessionClear:
	case len(args) == 3:
		label = &args[2]
	default:
		return fmt.Errorf("label required unless --clear is given")
	}
	if _, err := store.AppendLabelChange(args[1], label); err != nil {
		return err
	}
	if label == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared label of %s\n", args[1])
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Labeled %s %q\n", args[1], *label)
	}
	return nil
}

// printTree writes one line per entry, marking the current leaf with '*'.
// Linear runs stay at the same depth; only forks indent.
func printTree(w io.Writer, nodes []*session.TreeNode, leafID, prefix string) {
	if len(nodes) == 1 {
		printNode(w, nodes[0], leafID, prefix, prefix)
		return
	}
	for i, n := range nodes {
		if i == len(nodes)-1 {
			printNode(w, n, leafID, prefix+"└─ ", prefix+"   ")
		} else {
			printNode(w, n, leafID, prefix+"├─ ", prefix+"│  ")
		}
	}
}

func printNode(w io.Writer, n *session.TreeNode, leafID, first, rest string) {
	id := n.Entry.Base().ID
	marker := " "
	if id == leafID {
		marker = "*"
	}
	line := fmt.Sprintf("%s%s %s %s", first, marker, id, describeEntry(n.Entry))
	if n.Label != "" {
		line += fmt.Sprintf(" [%s]", n.Label)
	}
	fmt.Fprintln(w, line)
	printTree(w, n.Children, leafID, rest)
}

func describeEntry(e types.Entry) string {
	switch e := e.(type) {
	case *types.MessageEntry:
		switch m := e.Message.(type) {
		case *types.UserMessage:
			return "user: " + preview(m.Content.PlainText(), 60)
		case *types.AssistantMessage:
			if text := m.Content.Texts(); text != "" {
				return "assistant: " + preview(text, 60)
			}
			if calls := m.Content.ToolCalls(); len(calls) > 0 {
				names := make([]string, len(calls))
				for i, c := range calls {
					names[i] = c.Name
				}
				return "assistant: calls " + strings.Join(names, ", ")
			}
			return "assistant (" + string(m.StopReason) + ")"
		case *types.ToolResultMessage:
			return "tool " + m.ToolName + ": " + preview(m.Content.Texts(), 40)
		default:
			return e.Message.MessageRole()
		}
	case *types.CompactionEntry:
		return "compaction: " + preview(e.Summary, 50)
	case *types.BranchSummaryEntry:
		return "branch summary: " + preview(e.Summary, 50)
	case *types.ModelChangeEntry:
		return "model: " + e.Provider + "/" + e.ModelID
	case *types.ThinkingLevelChangeEntry:
		return "thinking: " + e.ThinkingLevel
	case *types.LabelEntry:
		if e.Label == nil {
			return "unlabel " + e.TargetID
		}
		return fmt.Sprintf("label %s %q", e.TargetID, *e.Label)
	}
	return e.EntryType()
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "…"
	}
	return s
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
