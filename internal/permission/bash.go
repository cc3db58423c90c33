package permission

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Command is one simple command of a bash script.
type Command struct {
	Name string
	Args []string
	// Writes are the targets of output redirections.
	Writes []string
}

// wrappers run their first non-flag argument as the real command.
var wrappers = map[string]bool{
	"sudo":    true,
	"env":     true,
	"nice":    true,
	"nohup":   true,
	"time":    true,
	"xargs":   true,
	"command": true,
}

// pathCommands take file operands that may leave the working directory.
var pathCommands = map[string]bool{
	"cd":       true,
	"rm":       true,
	"rmdir":    true,
	"cp":       true,
	"mv":       true,
	"ln":       true,
	"mkdir":    true,
	"touch":    true,
	"tee":      true,
	"truncate": true,
	"chmod":    true,
	"chown":    true,
}

// ParseScript lists the commands of script, including those inside
// pipelines, lists, subshells and command substitutions.
func ParseScript(script string) ([]Command, error) {
	file, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(script), "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	var out []Command
	syntax.Walk(file, func(node syntax.Node) bool {
		stmt, ok := node.(*syntax.Stmt)
		if !ok {
			return true
		}
		var cmd Command
		if call, ok := stmt.Cmd.(*syntax.CallExpr); ok {
			cmd = unwrap(words(call.Args))
		}
		for _, r := range stmt.Redirs {
			switch r.Op {
			case syntax.RdrOut, syntax.AppOut, syntax.RdrAll, syntax.AppAll, syntax.ClbOut:
				if target := literal(r.Word); target != "" && !strings.HasPrefix(target, "/dev/") {
					cmd.Writes = append(cmd.Writes, target)
				}
			}
		}
		if cmd.Name != "" || len(cmd.Writes) > 0 {
			out = append(out, cmd)
		}
		return true
	})
	return out, nil
}

func unwrap(args []string) Command {
	for len(args) > 0 && wrappers[args[0]] {
		args = args[1:]
		for len(args) > 0 && (strings.HasPrefix(args[0], "-") || strings.Contains(args[0], "=")) {
			args = args[1:]
		}
	}
	if len(args) == 0 {
		return Command{}
	}
	return Command{Name: args[0], Args: args[1:]}
}

func words(ws []*syntax.Word) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, literal(w))
	}
	return out
}

// literal renders w with expansions kept as $NAME and $().
func literal(w *syntax.Word) string {
	if w == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(parts []syntax.WordPart)
	walk = func(parts []syntax.WordPart) {
		for _, part := range parts {
			switch p := part.(type) {
			case *syntax.Lit:
				sb.WriteString(p.Value)
			case *syntax.SglQuoted:
				sb.WriteString(p.Value)
			case *syntax.DblQuoted:
				walk(p.Parts)
			case *syntax.ParamExp:
				if p.Param != nil {
					sb.WriteString("$" + p.Param.Value)
				}
			case *syntax.CmdSubst:
				sb.WriteString("$()")
			}
		}
	}
	walk(w.Parts)
	return sb.String()
}

// Subcommand is the first non-flag argument, "commit" in "git commit -m x".
func (c Command) Subcommand() string {
	for _, a := range c.Args {
		if !strings.HasPrefix(a, "-") {
			return a
		}
	}
	return ""
}

// Pattern is the rule an approve-for-session answer remembers:
// "git commit *" or "ls *".
func (c Command) Pattern() string {
	if sub := c.Subcommand(); sub != "" {
		return c.Name + " " + sub + " *"
	}
	return c.Name + " *"
}

// Paths returns the file operands of path-changing commands and every
// redirection target.
func (c Command) Paths() []string {
	var paths []string
	if pathCommands[c.Name] {
		skip := c.Name == "chmod" || c.Name == "chown"
		for _, a := range c.Args {
			if strings.HasPrefix(a, "-") {
				continue
			}
			if skip {
				// mode or owner
				skip = false
				continue
			}
			paths = append(paths, a)
		}
	}
	return append(paths, c.Writes...)
}

// bashRule finds the most specific rule for cmd: "git commit *", then
// "git *", then "git", then "*". Without a match the command is asked
// about.
func (r Rules) bashRule(cmd Command) Action {
	keys := []string{cmd.Name + " *", cmd.Name, "*"}
	if sub := cmd.Subcommand(); sub != "" {
		keys = append([]string{cmd.Name + " " + sub + " *"}, keys...)
	}
	for _, k := range keys {
		if a, ok := r.Bash[k]; ok {
			return a
		}
	}
	return ActionAsk
}

// resolvePath makes path absolute against workDir. A leading ~ expands
// to the home directory.
func resolvePath(path, workDir string) string {
	if rest, ok := strings.CutPrefix(path, "~"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, rest)
		}
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(workDir, path)
}

func withinDir(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
