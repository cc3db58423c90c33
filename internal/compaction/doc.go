// Package compaction replaces old history on a session branch with a summary.
//
// Prepare walks the branch from the previous compaction (or the root) and
// picks a cut point that keeps at least KeepRecentTokens of estimated tokens
// after it. Cuts never land on a tool result. When the cut falls inside a
// turn, the messages of that turn before the cut are summarized separately as
// the turn prefix.
//
// Manager.Compact runs the session_before_compact hooks, generates the
// summary when no hook supplied one, appends the compaction entry and then
// notifies session_compact hooks.
package compaction
