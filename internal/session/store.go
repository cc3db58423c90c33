package session

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/pi-agent/pi/internal/logging"
	"github.com/pi-agent/pi/pkg/types"
)

// Store is an append-only tree of session entries backed by an optional NDJSON file.
//
// Entries are kept in an arena in append order and indexed by id. The leaf is
// the entry new appends attach to; it defines the active branch.
type Store struct {
	mu sync.RWMutex

	header  types.SessionHeader
	entries []types.Entry
	byID    map[string]types.Entry
	labels  map[string]string
	leafID  string

	cwd         string
	sessionDir  string
	sessionFile string
	persist     bool
	flushed     bool

	log zerolog.Logger
}

func newStore(cwd, sessionDir string, persist bool) *Store {
	return &Store{
		byID:       make(map[string]types.Entry),
		labels:     make(map[string]string),
		cwd:        cwd,
		sessionDir: sessionDir,
		persist:    persist,
		log:        logging.Component("session"),
	}
}

// NewSessionID returns a fresh session id (uuid v4 without dashes).
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// newEntryID returns a unique, time-ordered entry id.
func (s *Store) newEntryID() string {
	for {
		id := strings.ToLower(ulid.Make().String())
		if _, taken := s.byID[id]; !taken {
			return id
		}
	}
}

// SessionID returns the id from the session header.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header.ID
}

// Header returns a copy of the session header.
func (s *Store) Header() types.SessionHeader {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header
}

// Cwd returns the working directory recorded for the session.
func (s *Store) Cwd() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cwd
}

// SessionFile returns the backing file path, or "" for in-memory stores.
func (s *Store) SessionFile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionFile
}

// SessionDir returns the directory new session files are created in.
func (s *Store) SessionDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionDir
}

// IsPersisted reports whether the store writes to disk.
func (s *Store) IsPersisted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persist
}

// append adds e as the new leaf. The caller holds the write lock and has
// filled in everything but the base fields.
func (s *Store) append(e types.Entry) string {
	base := e.Base()
	base.ID = s.newEntryID()
	base.SetParent(s.leafID)
	base.Timestamp = types.Now()
	s.insert(e)
	s.persistEntry(e)
	return base.ID
}

// insert indexes e and moves the leaf to it.
func (s *Store) insert(e types.Entry) {
	id := e.Base().ID
	s.entries = append(s.entries, e)
	s.byID[id] = e
	s.leafID = id

	if l, ok := e.(*types.LabelEntry); ok {
		if l.Label != nil {
			s.labels[l.TargetID] = *l.Label
		} else {
			delete(s.labels, l.TargetID)
		}
	}
}

// AppendMessage appends a message entry as the new leaf.
func (s *Store) AppendMessage(msg types.AgentMessage) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(&types.MessageEntry{Message: msg})
}

// AppendThinkingLevelChange records a thinking level switch.
func (s *Store) AppendThinkingLevelChange(level types.ThinkingLevel) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(&types.ThinkingLevelChangeEntry{ThinkingLevel: string(level)})
}

// AppendModelChange records a model switch.
func (s *Store) AppendModelChange(provider, modelID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(&types.ModelChangeEntry{Provider: provider, ModelID: modelID})
}

// AppendCompaction appends a compaction entry.
func (s *Store) AppendCompaction(summary, firstKeptEntryID string, tokensBefore int64, details any, fromHook bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(&types.CompactionEntry{
		Summary:          summary,
		FirstKeptEntryID: firstKeptEntryID,
		TokensBefore:     tokensBefore,
		Details:          details,
		FromHook:         fromHook,
	})
}

// AppendCustomEntry appends extension state that is never sent to the model.
func (s *Store) AppendCustomEntry(customType string, data any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(&types.CustomEntry{CustomType: customType, Data: data})
}

// AppendCustomMessage appends an extension message that takes part in the context.
func (s *Store) AppendCustomMessage(customType string, content types.MessageContent, display bool, details any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(&types.CustomMessageEntry{
		CustomType: customType,
		Content:    content,
		Display:    display,
		Details:    details,
	})
}

// AppendLabelChange sets (label != nil) or clears (label == nil) the label of targetID.
func (s *Store) AppendLabelChange(targetID string, label *string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[targetID]; !ok {
		return "", &ReferenceError{ID: targetID}
	}
	var l *string
	if label != nil {
		v := *label
		l = &v
	}
	return s.append(&types.LabelEntry{TargetID: targetID, Label: l}), nil
}

// Entries returns all entries in append order.
func (s *Store) Entries() []types.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Entry(nil), s.entries...)
}

// Entry returns the entry with the given id.
func (s *Store) Entry(id string) (types.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	return e, ok
}

// Label returns the effective label of targetID.
func (s *Store) Label(targetID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.labels[targetID]
	return l, ok
}

// LeafID returns the id of the current leaf, or "" before the first append
// or after ResetLeaf.
func (s *Store) LeafID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leafID
}

// Leaf returns the current leaf entry.
func (s *Store) Leaf() (types.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[s.leafID]
	return e, ok
}

// BranchTo moves the leaf to entryID; the next append starts a new branch there.
func (s *Store) BranchTo(entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[entryID]; !ok {
		return &ReferenceError{ID: entryID}
	}
	s.leafID = entryID
	return nil
}

// ResetLeaf clears the leaf so the next append creates a new root.
func (s *Store) ResetLeaf() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leafID = ""
}

// BranchWithSummary moves the leaf to fromID ("" for a new root) and appends a
// branch summary there describing the abandoned branch.
func (s *Store) BranchWithSummary(fromID, summary string, details any, fromHook bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fromID != "" {
		if _, ok := s.byID[fromID]; !ok {
			return "", &ReferenceError{ID: fromID}
		}
	}
	s.leafID = fromID

	from := fromID
	if from == "" {
		from = "root"
	}
	return s.append(&types.BranchSummaryEntry{
		FromID:   from,
		Summary:  summary,
		Details:  details,
		FromHook: fromHook,
	}), nil
}
