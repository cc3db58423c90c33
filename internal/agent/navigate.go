package agent

import (
	"context"
	"fmt"

	"github.com/pi-agent/pi/internal/compaction"
	"github.com/pi-agent/pi/internal/config"
	"github.com/pi-agent/pi/internal/event"
	"github.com/pi-agent/pi/internal/session"
	"github.com/pi-agent/pi/pkg/types"
)

// stop aborts the active run, if any, and waits for it to finish.
func (e *Engine) stop(ctx context.Context) error {
	if !e.IsStreaming() {
		return nil
	}
	e.Abort()
	return e.Wait(ctx)
}

// Compact summarizes the older part of the active branch. A running prompt
// is aborted first. Abort cancels the compaction itself, which then fails
// with compaction.ErrCompactionCancelled.
func (e *Engine) Compact(ctx context.Context) (*compaction.Result, error) {
	return e.CompactWith(ctx, "")
}

// CompactWith is Compact with extra instructions for the summarizer.
func (e *Engine) CompactWith(ctx context.Context, instructions string) (*compaction.Result, error) {
	if err := e.stop(ctx); err != nil {
		return nil, err
	}
	runCtx, err := e.begin(ctx, "compact")
	if err != nil {
		return nil, err
	}
	defer e.end()

	store := e.Session()
	res, err := e.compactor.Compact(runCtx, store, config.ResolveCompaction(e.settings), instructions, e.compactionHooks()...)
	if err != nil {
		if runCtx.Err() != nil {
			return nil, compaction.ErrCompactionCancelled
		}
		return nil, err
	}
	e.publish(event.SessionCompacted, event.SessionCompactedData{EntryID: store.LeafID(), FromHook: compactedByHook(store)})
	return res, nil
}

func compactedByHook(store *session.Store) bool {
	if e, ok := store.Leaf(); ok {
		if c, ok := e.(*types.CompactionEntry); ok {
			return c.FromHook
		}
	}
	return false
}

// NavigateOptions control NavigateTree.
type NavigateOptions struct {
	// Summarize appends a summary of the abandoned branch at the new
	// position.
	Summarize          bool
	CustomInstructions string
}

// NavigateResult is the outcome of NavigateTree.
type NavigateResult struct {
	// EditorText is the text of the selected user message, to be edited
	// and resubmitted.
	EditorText     string `json:"editorText,omitempty"`
	SummaryEntryID string `json:"summaryEntryId,omitempty"`
}

// NavigateTree moves the leaf of the session to targetID. Selecting a user
// or custom message moves to its parent and returns its text, so the
// message can be edited and sent again. Selecting anything else continues
// from that entry.
func (e *Engine) NavigateTree(ctx context.Context, targetID string, opts NavigateOptions) (*NavigateResult, error) {
	runCtx, err := e.begin(ctx, "navigateTree")
	if err != nil {
		return nil, err
	}
	defer e.end()

	store := e.Session()
	target, ok := store.Entry(targetID)
	if !ok {
		return nil, &session.ReferenceError{ID: targetID}
	}
	oldLeaf := store.LeafID()
	if oldLeaf == targetID {
		return &NavigateResult{}, nil
	}

	res := &NavigateResult{}
	newLeaf := targetID
	switch t := target.(type) {
	case *types.MessageEntry:
		if u, ok := t.Message.(*types.UserMessage); ok {
			newLeaf = t.Parent()
			res.EditorText = u.Content.PlainText()
		}
	case *types.CustomMessageEntry:
		newLeaf = t.Parent()
		res.EditorText = t.Content.PlainText()
	}

	var summary string
	if opts.Summarize {
		if abandoned := compaction.AbandonedEntries(store, oldLeaf, targetID); len(abandoned) > 0 {
			summary, err = e.compactor.SummarizeBranch(runCtx, abandoned, opts.CustomInstructions)
			if err != nil {
				if runCtx.Err() != nil {
					return nil, compaction.ErrCompactionCancelled
				}
				return nil, err
			}
		}
	}

	switch {
	case summary != "":
		id, err := store.BranchWithSummary(newLeaf, summary, nil, false)
		if err != nil {
			return nil, err
		}
		res.SummaryEntryID = id
	case newLeaf == "":
		store.ResetLeaf()
	default:
		if err := store.BranchTo(newLeaf); err != nil {
			return nil, err
		}
	}

	e.log.Debug().Str("from", oldLeaf).Str("to", store.LeafID()).Msg("navigated session tree")
	e.publish(event.SessionTree, event.SessionTreeData{OldLeafID: oldLeaf, NewLeafID: store.LeafID(), SummaryEntryID: res.SummaryEntryID})
	return res, nil
}

// Branch starts a new session holding the path up to the parent of the user
// message entryID and returns that message's text. The engine switches to
// the new session.
func (e *Engine) Branch(entryID string) (string, error) {
	if e.IsStreaming() {
		return "", &ConcurrencyError{Op: "branch"}
	}
	store := e.Session()
	entry, ok := store.Entry(entryID)
	if !ok {
		return "", ErrInvalidBranchEntry
	}
	me, ok := entry.(*types.MessageEntry)
	if !ok {
		return "", ErrInvalidBranchEntry
	}
	user, ok := me.Message.(*types.UserMessage)
	if !ok {
		return "", ErrInvalidBranchEntry
	}
	text := user.Content.PlainText()

	parent := me.Parent()
	if parent == "" {
		store.NewSession(store.SessionFile())
		e.setStore(store)
		return text, nil
	}
	branched, err := store.CreateBranchedSession(parent)
	if err != nil {
		return "", fmt.Errorf("branch: %w", err)
	}
	e.setStore(branched)
	return text, nil
}

// NewSession aborts any run, clears the queues and starts an empty session.
func (e *Engine) NewSession(ctx context.Context) error {
	if err := e.stop(ctx); err != nil {
		return err
	}
	if e.IsStreaming() {
		return &ConcurrencyError{Op: "newSession"}
	}
	e.ClearQueues()
	store := e.Session()
	store.NewSession("")
	e.setStore(store)
	return nil
}

// SwitchSession aborts any run and opens the session file at path. The
// model and thinking level recorded on its active branch are restored when
// the model can be resolved.
func (e *Engine) SwitchSession(ctx context.Context, path string) error {
	if err := e.stop(ctx); err != nil {
		return err
	}
	if e.IsStreaming() {
		return &ConcurrencyError{Op: "switchSession"}
	}
	store, err := session.Open(path)
	if err != nil {
		return fmt.Errorf("switch session: %w", err)
	}
	e.ClearQueues()

	sc := store.BuildContext()
	e.mu.Lock()
	if sc.ThinkingLevel != "" {
		e.thinking = sc.ThinkingLevel
	}
	if sc.Model != nil && e.models != nil {
		if m, err := e.models.GetModel(sc.Model.Provider, sc.Model.ModelID); err == nil {
			e.model = m
		} else {
			e.log.Warn().Err(err).Str("provider", sc.Model.Provider).Str("model", sc.Model.ModelID).Msg("session model unavailable")
		}
	}
	e.mu.Unlock()

	e.setStore(store)
	return nil
}
