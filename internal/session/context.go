package session

import (
	"time"

	"github.com/pi-agent/pi/pkg/types"
)

// ModelRef names the model last used on a branch.
type ModelRef struct {
	Provider string `json:"provider"`
	ModelID  string `json:"modelId"`
}

// Context is the model-relevant view of the active branch.
type Context struct {
	Messages      []types.AgentMessage `json:"messages"`
	ThinkingLevel types.ThinkingLevel  `json:"thinkingLevel"`
	Model         *ModelRef            `json:"model,omitempty"`
}

// BuildContext resolves the active branch into the messages sent to the model.
//
// When the branch holds a compaction, its summary comes first, followed by the
// kept entries before the compaction (from FirstKeptEntryID on) and everything
// after it. Custom messages and branch summaries become messages; labels,
// custom entries and model or thinking changes do not.
func (s *Store) BuildContext() Context {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return buildContext(s.pathTo(s.leafID))
}

func buildContext(path []types.Entry) Context {
	ctx := Context{ThinkingLevel: types.ThinkingOff, Messages: []types.AgentMessage{}}

	compactionIdx := -1
	for i, e := range path {
		switch e := e.(type) {
		case *types.ThinkingLevelChangeEntry:
			ctx.ThinkingLevel = types.ParseThinkingLevel(e.ThinkingLevel)
		case *types.ModelChangeEntry:
			ctx.Model = &ModelRef{Provider: e.Provider, ModelID: e.ModelID}
		case *types.MessageEntry:
			if a, ok := e.Message.(*types.AssistantMessage); ok {
				ctx.Model = &ModelRef{Provider: a.Provider, ModelID: a.Model}
			}
		case *types.CompactionEntry:
			compactionIdx = i
		}
	}

	if compactionIdx < 0 {
		for _, e := range path {
			ctx.Messages = appendEntryMessage(ctx.Messages, e)
		}
		return ctx
	}

	c := path[compactionIdx].(*types.CompactionEntry)
	ctx.Messages = append(ctx.Messages, &types.CompactionSummaryMessage{
		Summary:      c.Summary,
		TokensBefore: c.TokensBefore,
		Timestamp:    parseMillis(c.Timestamp),
	})

	kept := false
	for _, e := range path[:compactionIdx] {
		if e.Base().ID == c.FirstKeptEntryID {
			kept = true
		}
		if kept {
			ctx.Messages = appendEntryMessage(ctx.Messages, e)
		}
	}
	for _, e := range path[compactionIdx+1:] {
		ctx.Messages = appendEntryMessage(ctx.Messages, e)
	}
	return ctx
}

func appendEntryMessage(msgs []types.AgentMessage, e types.Entry) []types.AgentMessage {
	if m, ok := EntryMessage(e); ok {
		return append(msgs, m)
	}
	return msgs
}

// EntryMessage returns the context message e contributes, if any. Custom
// messages become hook messages and branch summaries become summary messages.
func EntryMessage(e types.Entry) (types.AgentMessage, bool) {
	switch e := e.(type) {
	case *types.MessageEntry:
		return e.Message, true
	case *types.CustomMessageEntry:
		return &types.HookMessage{
			CustomType: e.CustomType,
			Content:    e.Content,
			Display:    e.Display,
			Details:    e.Details,
			Timestamp:  parseMillis(e.Timestamp),
		}, true
	case *types.BranchSummaryEntry:
		return &types.BranchSummaryMessage{
			Summary:   e.Summary,
			FromID:    e.FromID,
			Timestamp: parseMillis(e.Timestamp),
		}, true
	}
	return nil, false
}

func parseMillis(ts string) int64 {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}
