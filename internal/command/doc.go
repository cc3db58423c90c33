// Package command loads prompt templates and expands slash commands.
//
// A prompt template is a markdown file in one of two directories:
//
//   - <agentDir>/prompts (source "user")
//   - <cwd>/.pi/prompts (source "project")
//
// The file name without ".md" is the command name. Subdirectories are
// searched too; they only change the source label, e.g. "(project:git)".
// An optional YAML frontmatter block may set a description:
//
//	---
//	description: Review staged changes
//	---
//	Review the staged diff and focus on $1.
//
// Typing "/review security" expands to the template body with the
// arguments substituted:
//
//   - $1, $2, ... are positional arguments (missing ones become empty)
//   - $ARGUMENTS and $@ are all arguments joined by spaces
//
// Arguments are split on whitespace; single or double quotes group words.
// Text that does not start with "/" or names no template is returned
// unchanged.
package command
