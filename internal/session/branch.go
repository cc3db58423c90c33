package session

import (
	"path/filepath"

	"github.com/pi-agent/pi/internal/storage"
	"github.com/pi-agent/pi/pkg/types"
)

// CreateBranchedSession returns a new store holding exactly the path to
// fromID. Label entries are not copied; instead one fresh label entry is
// appended for every effective label whose target lies on the path.
// Persisted stores write the new session file immediately, with
// parentSession pointing at this store's file.
func (s *Store) CreateBranchedSession(fromID string) (*Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.byID[fromID]; !ok {
		return nil, &ReferenceError{ID: fromID}
	}
	path := s.pathTo(fromID)

	parent := ""
	if s.persist {
		parent = s.sessionFile
	}

	out := newStore(s.cwd, s.sessionDir, s.persist)
	out.reset(parent)

	// Entries that followed a dropped label entry are re-attached to the
	// nearest copied ancestor so every parent link stays resolvable.
	remap := make(map[string]string)
	for _, e := range path {
		b := e.Base()
		if _, isLabel := e.(*types.LabelEntry); isLabel {
			remap[b.ID] = resolve(remap, b.Parent())
			continue
		}
		if p := b.Parent(); p != "" {
			if r, dropped := remap[p]; dropped {
				e = withParent(e, r)
			}
		}
		out.insert(e)
	}

	for _, e := range path {
		id := e.Base().ID
		if _, isLabel := e.(*types.LabelEntry); isLabel {
			continue
		}
		label, ok := s.labels[id]
		if !ok {
			continue
		}
		l := label
		le := &types.LabelEntry{TargetID: id, Label: &l}
		le.ID = out.newEntryID()
		le.SetParent(out.leafID)
		le.Timestamp = types.Now()
		out.insert(le)
	}

	if out.persist {
		lines := make([]any, 0, len(out.entries)+1)
		lines = append(lines, out.header)
		for _, e := range out.entries {
			lines = append(lines, e)
		}
		if err := storage.RewriteLines(out.sessionFile, lines...); err != nil {
			return nil, err
		}
		out.flushed = true
		s.log.Info().
			Str("from", filepath.Base(s.sessionFile)).
			Str("to", filepath.Base(out.sessionFile)).
			Int("entries", len(out.entries)).
			Msg("created branched session")
	}
	return out, nil
}

func resolve(remap map[string]string, id string) string {
	for {
		r, ok := remap[id]
		if !ok {
			return id
		}
		id = r
	}
}

// withParent returns a shallow copy of e with a different parent.
// Stored entries are never mutated.
func withParent(e types.Entry, parent string) types.Entry {
	var c types.Entry
	switch v := e.(type) {
	case *types.MessageEntry:
		cp := *v
		c = &cp
	case *types.ThinkingLevelChangeEntry:
		cp := *v
		c = &cp
	case *types.ModelChangeEntry:
		cp := *v
		c = &cp
	case *types.CompactionEntry:
		cp := *v
		c = &cp
	case *types.BranchSummaryEntry:
		cp := *v
		c = &cp
	case *types.CustomEntry:
		cp := *v
		c = &cp
	case *types.CustomMessageEntry:
		cp := *v
		c = &cp
	default:
		return e
	}
	c.Base().SetParent(parent)
	return c
}
