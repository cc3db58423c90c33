package extension

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CommandFunc builds the command that runs the extension at path.
type CommandFunc func(path string) *exec.Cmd

// interpreters maps source file extensions to the program that runs them.
var interpreters = map[string]string{
	".js":  "node",
	".mjs": "node",
	".cjs": "node",
	".ts":  "node",
	".py":  "python3",
}

// DefaultCommand runs scripts with their interpreter and executes anything
// else directly.
func DefaultCommand(path string) *exec.Cmd {
	if prog, ok := interpreters[strings.ToLower(filepath.Ext(path))]; ok {
		return exec.Command(prog, path)
	}
	return exec.Command(path)
}

// prepare sets the working directory and environment shared by all
// extension processes.
func prepare(cmd *exec.Cmd, cwd string) *exec.Cmd {
	if cmd.Dir == "" {
		cmd.Dir = cwd
	}
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, "PI_EXTENSION=1")
	return cmd
}
