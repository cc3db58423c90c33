// Package session implements the session log: an append-only tree of entries
// persisted as newline-delimited JSON.
//
// # File Format
//
// Line 1 of a session file is a header:
//
//	{"type":"session","id":"…","timestamp":"…","cwd":"/work","version":2}
//
// Every following line is one entry with a "type" tag, an "id", a "parentId"
// (null for roots) and an RFC3339 "timestamp". Readers skip blank lines,
// malformed lines and unknown entry types. Files written before version 2
// carry no ids; Open assigns ids, links each entry to the previous one and
// rewrites the file.
//
// # Tree
//
// Entries never change once appended. The store keeps a leaf pointer: each
// append attaches to the leaf and becomes the new leaf. BranchTo moves the
// leaf to an earlier entry so the next append starts a sibling branch.
// Branch(id) returns the root-to-id path; BuildContext turns the path to the
// leaf into model messages, honoring the latest compaction on it.
//
// Labels are recorded as label entries; the effective label of a target is
// the value of its most recent label entry.
//
// # Persistence
//
// A persisted store writes nothing until the first assistant message is
// appended. At that point the header and every buffered entry are flushed
// and later entries are appended one line at a time under a file lock.
package session
