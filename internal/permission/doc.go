// Package permission gates tool execution.
//
// A Checker evaluates each tool call against Rules. Every rule resolves to
// allow, deny or ask. Asked calls go to an ApprovalFunc, which answers
// approve, approve-for-session, deny or abort. Approve-for-session answers
// are remembered per tool name, or per bash command pattern for the bash
// tool, until Reset.
//
// Bash scripts are parsed with mvdan.cc/sh so that every command in a
// pipeline or chain is matched on its own:
//
//	rules := permission.Rules{
//		Bash: map[string]permission.Action{
//			"git *":      permission.ActionAllow,
//			"git push *": permission.ActionAsk,
//			"rm *":       permission.ActionDeny,
//		},
//	}
//
// Patterns are looked up most specific first: "git commit *", "git *",
// "git", "*". Commands that modify files (rm, mv, cp, ...) with paths
// outside the working directory use the ExternalDir action.
//
// A model that repeats the same call with the same arguments
// DoomLoopThreshold times in a row is asked about even when the tool is
// allowed.
package permission
