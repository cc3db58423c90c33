package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pi-agent/pi/internal/config"
	"github.com/pi-agent/pi/internal/storage"
	"github.com/pi-agent/pi/pkg/types"
)

const sessionFileSuffix = ".jsonl"

// InMemory returns a store that never touches disk.
func InMemory(cwd string) *Store {
	s := newStore(cwd, "", false)
	s.reset("")
	return s
}

// Create starts a new persisted session in dir ("" selects the default
// directory for cwd). The file is written once the first assistant message
// is appended.
func Create(cwd, dir string) *Store {
	if dir == "" {
		dir = config.GetPaths().SessionDir(cwd)
	}
	s := newStore(cwd, dir, true)
	s.reset("")
	return s
}

// Open loads the session file at path, migrating it to the current version.
// A missing or empty file starts a new session that will be written to path.
func Open(path string) (*Store, error) {
	s := newStore("", filepath.Dir(path), true)
	s.sessionFile = path

	fileEntries, err := loadFile(path)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if len(fileEntries.entries) == 0 && fileEntries.header == nil {
		if cwd, err := os.Getwd(); err == nil {
			s.cwd = cwd
		}
		s.reset("")
		s.sessionFile = path
		return s, nil
	}

	s.header = *fileEntries.header
	s.cwd = s.header.Cwd
	if migrate(&s.header, fileEntries.entries) {
		s.log.Info().Str("file", path).Msg("migrated session file")
		if err := storage.RewriteLines(path, fileEntries.lines(s.header)...); err != nil {
			return nil, fmt.Errorf("rewrite migrated session: %w", err)
		}
	}
	for _, e := range fileEntries.entries {
		s.insert(e)
	}
	s.flushed = true
	return s, nil
}

// ContinueRecent opens the most recently modified session in dir, or creates
// a new one when there is none.
func ContinueRecent(cwd, dir string) (*Store, error) {
	if dir == "" {
		dir = config.GetPaths().SessionDir(cwd)
	}
	if path := FindMostRecent(dir); path != "" {
		s, err := Open(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return Create(cwd, dir), nil
}

// FindMostRecent returns the newest valid session file in dir, or "".
func FindMostRecent(dir string) string {
	logs, err := storage.ListLogs(dir, sessionFileSuffix)
	if err != nil {
		return ""
	}
	for _, l := range logs {
		if isValidSessionFile(l.Path) {
			return l.Path
		}
	}
	return ""
}

// Info summarizes a session file for listings.
type Info struct {
	Path         string
	ID           string
	Cwd          string
	Created      string
	Modified     string
	MessageCount int
	FirstMessage string
}

// List describes every valid session file in dir, newest first.
func List(dir string) ([]Info, error) {
	logs, err := storage.ListLogs(dir, sessionFileSuffix)
	if err != nil {
		return nil, err
	}
	var infos []Info
	for _, l := range logs {
		f, err := loadFile(l.Path)
		if err != nil || f.header == nil {
			continue
		}
		info := Info{
			Path:     l.Path,
			ID:       f.header.ID,
			Cwd:      f.header.Cwd,
			Created:  f.header.Timestamp,
			Modified: l.ModTime.UTC().Format(types.TimestampFormat),
		}
		for _, e := range f.entries {
			me, ok := e.(*types.MessageEntry)
			if !ok {
				continue
			}
			info.MessageCount++
			if u, ok := me.Message.(*types.UserMessage); ok && info.FirstMessage == "" {
				info.FirstMessage = u.Content.PlainText()
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// NewSession discards the in-memory entries and starts a fresh session.
// Persisted stores get a new file in the session directory.
func (s *Store) NewSession(parentSession string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionFile = ""
	s.reset(parentSession)
}

// reset installs a fresh header. The caller holds the lock or owns s.
func (s *Store) reset(parentSession string) {
	s.header = types.SessionHeader{
		Type:          types.EntrySession,
		ID:            NewSessionID(),
		Timestamp:     types.Now(),
		Cwd:           s.cwd,
		Version:       types.CurrentSessionVersion,
		ParentSession: parentSession,
	}
	s.entries = nil
	s.byID = make(map[string]types.Entry)
	s.labels = make(map[string]string)
	s.leafID = ""
	s.flushed = false

	if s.persist && s.sessionFile == "" {
		s.sessionFile = filepath.Join(s.sessionDir, sessionFileName(s.header))
	}
}

func sessionFileName(h types.SessionHeader) string {
	ts := strings.NewReplacer(":", "-", ".", "-").Replace(h.Timestamp)
	return ts + "_" + h.ID + sessionFileSuffix
}

// persistEntry writes e to disk. Nothing is written until the session holds
// an assistant message; the first write flushes every buffered entry.
func (s *Store) persistEntry(e types.Entry) {
	if !s.persist || s.sessionFile == "" {
		return
	}

	if !s.flushed {
		if !s.hasAssistant() {
			return
		}
		lines := make([]any, 0, len(s.entries)+1)
		lines = append(lines, s.header)
		for _, entry := range s.entries {
			lines = append(lines, entry)
		}
		if err := storage.RewriteLines(s.sessionFile, lines...); err != nil {
			s.log.Error().Err(err).Str("file", s.sessionFile).Msg("failed to flush session")
			return
		}
		s.flushed = true
		return
	}

	if err := storage.AppendLines(s.sessionFile, e); err != nil {
		s.log.Error().Err(err).Str("file", s.sessionFile).Msg("failed to append session entry")
	}
}

func (s *Store) hasAssistant() bool {
	for _, e := range s.entries {
		if me, ok := e.(*types.MessageEntry); ok {
			if _, ok := me.Message.(*types.AssistantMessage); ok {
				return true
			}
		}
	}
	return false
}

type fileContents struct {
	header  *types.SessionHeader
	entries []types.Entry
}

func (f fileContents) lines(h types.SessionHeader) []any {
	out := make([]any, 0, len(f.entries)+1)
	out = append(out, h)
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out
}

// loadFile parses a session file. Blank and malformed lines and unknown
// entry types are skipped; a file whose first line is not a header with an
// id yields no entries.
func loadFile(path string) (fileContents, error) {
	lines, err := storage.ReadLines(path)
	if err != nil && len(lines) == 0 {
		return fileContents{}, err
	}

	var out fileContents
	for i, line := range lines {
		if i == 0 {
			h, ok := parseHeader(line)
			if !ok {
				return fileContents{}, nil
			}
			out.header = h
			continue
		}
		e, err := types.UnmarshalEntry(line)
		if err != nil {
			continue
		}
		out.entries = append(out.entries, e)
	}
	return out, nil
}

func parseHeader(line json.RawMessage) (*types.SessionHeader, bool) {
	var h types.SessionHeader
	if err := json.Unmarshal(line, &h); err != nil {
		return nil, false
	}
	if h.Type != types.EntrySession || h.ID == "" {
		return nil, false
	}
	return &h, true
}

func isValidSessionFile(path string) bool {
	line, err := storage.ReadFirstLine(path)
	if err != nil || line == nil {
		return false
	}
	_, ok := parseHeader(line)
	return ok
}

// migrate upgrades version 1 entries in place and reports whether anything changed.
//
// Version 1 entries have no ids or parent links; they form a single chain in
// file order. Compactions point at the first kept entry by file index, where
// index 0 is the header.
func migrate(h *types.SessionHeader, entries []types.Entry) bool {
	version := h.Version
	if version == 0 {
		version = 1
	}
	if version >= types.CurrentSessionVersion {
		return false
	}

	ids := make(map[string]bool, len(entries))
	for _, e := range entries {
		if id := e.Base().ID; id != "" {
			ids[id] = true
		}
	}

	prev := ""
	for _, e := range entries {
		b := e.Base()
		if b.ID == "" {
			b.ID = uniqueShortID(ids)
			ids[b.ID] = true
		}
		if b.ParentID == nil {
			b.SetParent(prev)
		}
		prev = b.ID
	}

	for _, e := range entries {
		c, ok := e.(*types.CompactionEntry)
		if !ok {
			continue
		}
		if c.FirstKeptEntryID == "" && c.FirstKeptEntryIndex != nil {
			idx := *c.FirstKeptEntryIndex - 1
			if idx >= 0 && idx < len(entries) {
				c.FirstKeptEntryID = entries[idx].Base().ID
			}
		}
		c.FirstKeptEntryIndex = nil
	}

	h.Version = types.CurrentSessionVersion
	return true
}

func uniqueShortID(taken map[string]bool) string {
	for i := 0; i < 100; i++ {
		id := NewSessionID()[:8]
		if !taken[id] {
			return id
		}
	}
	return NewSessionID()
}
