package compaction

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pi-agent/pi/internal/config"
	"github.com/pi-agent/pi/internal/logging"
	"github.com/pi-agent/pi/internal/session"
	"github.com/pi-agent/pi/pkg/types"
)

// emptySummary replaces a blank generated summary.
const emptySummary = "Summary."

// Manager runs compactions against a session store.
type Manager struct {
	mu         sync.RWMutex
	summarizer Summarizer
	fallback   Summarizer
	hooks      []Hook
	log        zerolog.Logger
}

// NewManager returns a manager that summarizes with s. A nil s uses the
// deterministic fallback only.
func NewManager(s Summarizer, hooks ...Hook) *Manager {
	return &Manager{
		summarizer: s,
		fallback:   FallbackSummarizer{},
		hooks:      hooks,
		log:        logging.Component("compaction"),
	}
}

// AddHook registers h after the existing hooks.
func (m *Manager) AddHook(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

// SetSummarizer replaces the summarizer, for example after a model switch.
func (m *Manager) SetSummarizer(s Summarizer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summarizer = s
}

func (m *Manager) snapshot() (Summarizer, []Hook) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summarizer, append([]Hook(nil), m.hooks...)
}

// Compact summarizes the active branch of store and appends the compaction
// entry. Hooks may cancel (ErrCompactionCancelled) or supply the result;
// extra hooks run after the registered ones for this call only.
func (m *Manager) Compact(ctx context.Context, store *session.Store, settings config.Compaction, customInstructions string, extra ...Hook) (*Result, error) {
	summarizer, hooks := m.snapshot()
	hooks = append(hooks, extra...)

	branch := store.Branch("")
	prep, ok := Prepare(branch, settings)
	if !ok {
		return nil, ErrNotApplicable
	}

	override, err := RunBeforeCompactHooks(ctx, hooks, &BeforeCompactEvent{
		Preparation:        prep,
		BranchEntries:      branch,
		CustomInstructions: customInstructions,
	})
	if err != nil {
		return nil, err
	}

	result := override
	fromHook := override != nil
	if result == nil {
		result, err = m.generate(ctx, summarizer, prep, customInstructions)
		if err != nil {
			return nil, err
		}
	}

	entry := Apply(store, result, fromHook)
	m.log.Info().
		Str("firstKept", result.FirstKeptEntryID).
		Int64("tokensBefore", result.TokensBefore).
		Bool("fromHook", fromHook).
		Msg("compacted session")

	ev := &CompactEvent{CompactionEntry: entry, FromHook: fromHook}
	for _, h := range hooks {
		if err := h.OnCompact(ctx, ev); err != nil {
			m.log.Warn().Err(err).Msg("session_compact hook failed")
		}
	}
	return result, nil
}

func (m *Manager) generate(ctx context.Context, s Summarizer, prep *Preparation, instructions string) (*Result, error) {
	var summary string
	if s != nil {
		var err error
		summary, err = s.Summarize(ctx, prep, instructions)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.log.Warn().Err(err).Msg("summarizer failed, using fallback")
			summary = ""
		}
	}
	if strings.TrimSpace(summary) == "" {
		summary, _ = m.fallback.Summarize(ctx, prep, instructions)
	}
	if strings.TrimSpace(summary) == "" {
		summary = emptySummary
	}

	readFiles, modifiedFiles := ComputeFileLists(prep.FileOps)
	summary += FormatFileOperations(readFiles, modifiedFiles)

	return &Result{
		Summary:          summary,
		FirstKeptEntryID: prep.FirstKeptEntryID,
		TokensBefore:     prep.TokensBefore,
		Details:          Details{ReadFiles: nonNil(readFiles), ModifiedFiles: nonNil(modifiedFiles)},
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Apply appends result to store and returns the new entry.
func Apply(store *session.Store, result *Result, fromHook bool) *types.CompactionEntry {
	id := store.AppendCompaction(result.Summary, result.FirstKeptEntryID, result.TokensBefore, result.Details, fromHook)
	e, _ := store.Entry(id)
	return e.(*types.CompactionEntry)
}

// SummarizeBranch summarizes entries abandoned when navigating away from a
// branch. It never returns an empty summary.
func (m *Manager) SummarizeBranch(ctx context.Context, entries []types.Entry, customInstructions string) (string, error) {
	summarizer, _ := m.snapshot()
	prep := &Preparation{MessagesToSummarize: messagesIn(entries), FileOps: NewFileOps()}
	for _, msg := range prep.MessagesToSummarize {
		prep.FileOps.addFromMessage(msg)
	}
	res, err := m.generate(ctx, summarizer, prep, customInstructions)
	if err != nil {
		return "", fmt.Errorf("summarize branch: %w", err)
	}
	return res.Summary, nil
}

// AbandonedEntries returns the entries on the path to oldLeaf that are not on
// the path to target: what is left behind when the leaf moves.
func AbandonedEntries(store *session.Store, oldLeaf, target string) []types.Entry {
	if oldLeaf == "" {
		return nil
	}
	oldPath := store.Branch(oldLeaf)
	ancestor := store.CommonAncestor(oldLeaf, target)
	if ancestor == "" {
		return oldPath
	}
	for i, e := range oldPath {
		if e.Base().ID == ancestor {
			return oldPath[i+1:]
		}
	}
	return oldPath
}
