package compaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/pi-agent/pi/pkg/types"
)

// Hook event names.
const (
	EventBeforeCompact = "session_before_compact"
	EventCompact       = "session_compact"
)

var (
	// ErrCompactionCancelled is returned when a hook vetoes a compaction.
	ErrCompactionCancelled = errors.New("Compaction cancelled")

	// ErrNotApplicable is returned when the branch has nothing to compact.
	ErrNotApplicable = errors.New("Compaction not applicable")
)

// Result is the outcome of a compaction, generated or supplied by a hook.
type Result struct {
	Summary          string `json:"summary"`
	FirstKeptEntryID string `json:"firstKeptEntryId"`
	TokensBefore     int64  `json:"tokensBefore"`
	Details          any    `json:"details,omitempty"`
}

// BeforeCompactEvent is sent to hooks before a compaction is applied.
type BeforeCompactEvent struct {
	Preparation        *Preparation  `json:"preparation"`
	BranchEntries      []types.Entry `json:"branchEntries"`
	CustomInstructions string        `json:"customInstructions,omitempty"`
}

// BeforeCompactResult is a hook's answer. Both fields empty accepts the
// default summary.
type BeforeCompactResult struct {
	Cancel     bool    `json:"cancel,omitempty"`
	Compaction *Result `json:"compaction,omitempty"`
}

// CompactEvent is sent to hooks after a compaction entry was appended.
type CompactEvent struct {
	CompactionEntry *types.CompactionEntry `json:"compactionEntry"`
	FromHook        bool                   `json:"fromHook"`
}

// Hook observes and may override compactions.
type Hook interface {
	BeforeCompact(ctx context.Context, ev *BeforeCompactEvent) (*BeforeCompactResult, error)
	OnCompact(ctx context.Context, ev *CompactEvent) error
}

// HookFuncs adapts plain functions to Hook. Nil fields are no-ops.
type HookFuncs struct {
	Before func(ctx context.Context, ev *BeforeCompactEvent) (*BeforeCompactResult, error)
	After  func(ctx context.Context, ev *CompactEvent) error
}

func (h HookFuncs) BeforeCompact(ctx context.Context, ev *BeforeCompactEvent) (*BeforeCompactResult, error) {
	if h.Before == nil {
		return nil, nil
	}
	return h.Before(ctx, ev)
}

func (h HookFuncs) OnCompact(ctx context.Context, ev *CompactEvent) error {
	if h.After == nil {
		return nil
	}
	return h.After(ctx, ev)
}

// MergeBeforeCompact combines hook answers in order: the first cancel wins,
// otherwise the first non-empty override wins.
func MergeBeforeCompact(results ...*BeforeCompactResult) *BeforeCompactResult {
	merged := &BeforeCompactResult{}
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Cancel {
			return &BeforeCompactResult{Cancel: true}
		}
		if merged.Compaction == nil && r.Compaction != nil && r.Compaction.Summary != "" {
			merged.Compaction = r.Compaction
		}
	}
	return merged
}

// RunBeforeCompactHooks dispatches ev to every hook and returns the winning
// override, or nil to use the generated summary. A cancel yields
// ErrCompactionCancelled; a failing hook aborts the compaction.
func RunBeforeCompactHooks(ctx context.Context, hooks []Hook, ev *BeforeCompactEvent) (*Result, error) {
	results := make([]*BeforeCompactResult, 0, len(hooks))
	for _, h := range hooks {
		r, err := h.BeforeCompact(ctx, ev)
		if err != nil {
			return nil, fmt.Errorf("%s hook: %w", EventBeforeCompact, err)
		}
		if r != nil && r.Cancel {
			return nil, ErrCompactionCancelled
		}
		results = append(results, r)
	}
	return MergeBeforeCompact(results...).Compaction, nil
}
