// Package types provides the core data types shared by the session log,
// the agent engine and the extension protocol.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CurrentSessionVersion is the session file format version written by this module.
const CurrentSessionVersion = 2

// TimestampFormat is the entry timestamp layout (RFC3339 with milliseconds, UTC).
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Now returns the current time formatted as an entry timestamp.
func Now() string { return time.Now().UTC().Format(TimestampFormat) }

// Entry type tags.
const (
	EntrySession             = "session"
	EntryMessage             = "message"
	EntryThinkingLevelChange = "thinking_level_change"
	EntryModelChange         = "model_change"
	EntryCompaction          = "compaction"
	EntryBranchSummary       = "branch_summary"
	EntryCustom              = "custom"
	EntryCustomMessage       = "custom_message"
	EntryLabel               = "label"
)

// ErrUnknownEntry is returned by UnmarshalEntry for type tags it does not know.
var ErrUnknownEntry = errors.New("unknown entry type")

// SessionHeader is the first line of a session file.
type SessionHeader struct {
	Type          string `json:"type"`
	ID            string `json:"id"`
	Timestamp     string `json:"timestamp"`
	Cwd           string `json:"cwd"`
	Version       int    `json:"version,omitempty"`
	ParentSession string `json:"parentSession,omitempty"`
}

// EntryBase holds the fields every entry carries.
type EntryBase struct {
	ID        string  `json:"id"`
	ParentID  *string `json:"parentId"`
	Timestamp string  `json:"timestamp"`
}

// Parent returns the parent id or "" for roots.
func (b *EntryBase) Parent() string {
	if b.ParentID == nil {
		return ""
	}
	return *b.ParentID
}

// SetParent sets the parent id; "" makes the entry a root.
func (b *EntryBase) SetParent(id string) {
	if id == "" {
		b.ParentID = nil
		return
	}
	b.ParentID = &id
}

// Entry is one node of the session tree.
type Entry interface {
	EntryType() string
	Base() *EntryBase
}

// MessageEntry stores an agent message.
type MessageEntry struct {
	EntryBase
	Message AgentMessage `json:"message"`
}

// ThinkingLevelChangeEntry records a thinking level switch.
type ThinkingLevelChangeEntry struct {
	EntryBase
	ThinkingLevel string `json:"thinkingLevel"`
}

// ModelChangeEntry records a model switch.
type ModelChangeEntry struct {
	EntryBase
	Provider string `json:"provider"`
	ModelID  string `json:"modelId"`
}

// CompactionEntry replaces everything before FirstKeptEntryID with Summary.
type CompactionEntry struct {
	EntryBase
	Summary          string `json:"summary"`
	FirstKeptEntryID string `json:"firstKeptEntryId"`
	TokensBefore     int64  `json:"tokensBefore"`
	Details          any    `json:"details,omitempty"`
	FromHook         bool   `json:"fromHook,omitempty"`

	// FirstKeptEntryIndex is only present in version 1 files.
	FirstKeptEntryIndex *int `json:"firstKeptEntryIndex,omitempty"`
}

// BranchSummaryEntry summarizes the branch the user navigated away from.
type BranchSummaryEntry struct {
	EntryBase
	FromID   string `json:"fromId"`
	Summary  string `json:"summary"`
	Details  any    `json:"details,omitempty"`
	FromHook bool   `json:"fromHook,omitempty"`
}

// CustomEntry is extension state that never reaches the model.
type CustomEntry struct {
	EntryBase
	CustomType string `json:"customType"`
	Data       any    `json:"data,omitempty"`
}

// CustomMessageEntry is an extension message that takes part in the context.
type CustomMessageEntry struct {
	EntryBase
	CustomType string         `json:"customType"`
	Content    MessageContent `json:"content"`
	Display    bool           `json:"display"`
	Details    any            `json:"details,omitempty"`
}

// LabelEntry sets or clears the label of TargetID. A nil Label clears it.
type LabelEntry struct {
	EntryBase
	TargetID string  `json:"targetId"`
	Label    *string `json:"label"`
}

func (*MessageEntry) EntryType() string             { return EntryMessage }
func (*ThinkingLevelChangeEntry) EntryType() string { return EntryThinkingLevelChange }
func (*ModelChangeEntry) EntryType() string         { return EntryModelChange }
func (*CompactionEntry) EntryType() string          { return EntryCompaction }
func (*BranchSummaryEntry) EntryType() string       { return EntryBranchSummary }
func (*CustomEntry) EntryType() string              { return EntryCustom }
func (*CustomMessageEntry) EntryType() string       { return EntryCustomMessage }
func (*LabelEntry) EntryType() string               { return EntryLabel }

func (e *MessageEntry) Base() *EntryBase             { return &e.EntryBase }
func (e *ThinkingLevelChangeEntry) Base() *EntryBase { return &e.EntryBase }
func (e *ModelChangeEntry) Base() *EntryBase         { return &e.EntryBase }
func (e *CompactionEntry) Base() *EntryBase          { return &e.EntryBase }
func (e *BranchSummaryEntry) Base() *EntryBase       { return &e.EntryBase }
func (e *CustomEntry) Base() *EntryBase              { return &e.EntryBase }
func (e *CustomMessageEntry) Base() *EntryBase       { return &e.EntryBase }
func (e *LabelEntry) Base() *EntryBase               { return &e.EntryBase }

func withType(tag string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	head := fmt.Sprintf(`{"type":%q`, tag)
	if len(body) == 2 {
		return []byte(head + "}"), nil
	}
	return append([]byte(head+","), body[1:]...), nil
}

func (e MessageEntry) MarshalJSON() ([]byte, error) {
	type alias MessageEntry
	return withType(EntryMessage, alias(e))
}

func (e ThinkingLevelChangeEntry) MarshalJSON() ([]byte, error) {
	type alias ThinkingLevelChangeEntry
	return withType(EntryThinkingLevelChange, alias(e))
}

func (e ModelChangeEntry) MarshalJSON() ([]byte, error) {
	type alias ModelChangeEntry
	return withType(EntryModelChange, alias(e))
}

func (e CompactionEntry) MarshalJSON() ([]byte, error) {
	type alias CompactionEntry
	return withType(EntryCompaction, alias(e))
}

func (e BranchSummaryEntry) MarshalJSON() ([]byte, error) {
	type alias BranchSummaryEntry
	return withType(EntryBranchSummary, alias(e))
}

func (e CustomEntry) MarshalJSON() ([]byte, error) {
	type alias CustomEntry
	return withType(EntryCustom, alias(e))
}

func (e CustomMessageEntry) MarshalJSON() ([]byte, error) {
	type alias CustomMessageEntry
	return withType(EntryCustomMessage, alias(e))
}

func (e LabelEntry) MarshalJSON() ([]byte, error) {
	type alias LabelEntry
	return withType(EntryLabel, alias(e))
}

func (e *MessageEntry) UnmarshalJSON(data []byte) error {
	var aux struct {
		EntryBase
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	msg, err := UnmarshalMessage(aux.Message)
	if err != nil {
		return err
	}
	e.EntryBase = aux.EntryBase
	e.Message = msg
	return nil
}

// UnmarshalEntry decodes a type-tagged session entry.
func UnmarshalEntry(data []byte) (Entry, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	var e Entry
	switch head.Type {
	case EntryMessage:
		e = &MessageEntry{}
	case EntryThinkingLevelChange:
		e = &ThinkingLevelChangeEntry{}
	case EntryModelChange:
		e = &ModelChangeEntry{}
	case EntryCompaction:
		e = &CompactionEntry{}
	case EntryBranchSummary:
		e = &BranchSummaryEntry{}
	case EntryCustom:
		e = &CustomEntry{}
	case EntryCustomMessage:
		e = &CustomMessageEntry{}
	case EntryLabel:
		e = &LabelEntry{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntry, head.Type)
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Entries is a list of session entries that round-trips through JSON.
type Entries []Entry

func (es *Entries) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Entries, 0, len(raw))
	for _, r := range raw {
		e, err := UnmarshalEntry(r)
		if err != nil {
			if errors.Is(err, ErrUnknownEntry) {
				continue
			}
			return err
		}
		out = append(out, e)
	}
	*es = out
	return nil
}

func (es Entries) MarshalJSON() ([]byte, error) {
	if es == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Entry(es))
}
