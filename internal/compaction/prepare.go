package compaction

import (
	"github.com/pi-agent/pi/internal/config"
	"github.com/pi-agent/pi/internal/session"
	"github.com/pi-agent/pi/pkg/types"
)

// Preparation is everything needed to summarize a branch.
type Preparation struct {
	FirstKeptEntryID    string               `json:"firstKeptEntryId"`
	MessagesToSummarize []types.AgentMessage `json:"messagesToSummarize"`
	// TurnPrefixMessages are the messages of a split turn that fall before
	// the cut. They are summarized separately from the history.
	TurnPrefixMessages []types.AgentMessage `json:"turnPrefixMessages"`
	IsSplitTurn        bool                 `json:"isSplitTurn"`
	TokensBefore       int64                `json:"tokensBefore"`
	PreviousSummary    string               `json:"previousSummary,omitempty"`
	FileOps            FileOps              `json:"fileOps"`
	Settings           config.Compaction    `json:"settings"`
}

// Prepare chooses what to summarize on branch. It reports false when there is
// nothing to compact: an empty branch, or one that already ends in a
// compaction.
func Prepare(branch []types.Entry, settings config.Compaction) (*Preparation, bool) {
	if len(branch) == 0 {
		return nil, false
	}
	if _, ok := branch[len(branch)-1].(*types.CompactionEntry); ok {
		return nil, false
	}

	prevIdx := -1
	for i := len(branch) - 1; i >= 0; i-- {
		if _, ok := branch[i].(*types.CompactionEntry); ok {
			prevIdx = i
			break
		}
	}
	start, end := prevIdx+1, len(branch)

	cut := FindCutPoint(branch, start, end, settings.KeepRecentTokens)
	if cut.FirstKeptIndex >= len(branch) {
		return nil, false
	}
	firstKept := branch[cut.FirstKeptIndex].Base().ID
	if firstKept == "" {
		return nil, false
	}

	historyEnd := cut.FirstKeptIndex
	if cut.IsSplitTurn {
		historyEnd = cut.TurnStartIndex
	}

	p := &Preparation{
		FirstKeptEntryID:    firstKept,
		MessagesToSummarize: messagesIn(branch[start:historyEnd]),
		TurnPrefixMessages:  []types.AgentMessage{},
		IsSplitTurn:         cut.IsSplitTurn,
		FileOps:             NewFileOps(),
		Settings:            settings,
	}
	if cut.IsSplitTurn {
		p.TurnPrefixMessages = messagesIn(branch[cut.TurnStartIndex:cut.FirstKeptIndex])
	}

	if usage, ok := LastAssistantUsage(branch); ok {
		p.TokensBefore = ContextTokens(usage)
	}
	if p.TokensBefore <= 0 {
		// No usable usage on the branch; fall back to an estimate of what is
		// being summarized.
		for _, m := range p.MessagesToSummarize {
			p.TokensBefore += EstimateTokens(m)
		}
		for _, m := range p.TurnPrefixMessages {
			p.TokensBefore += EstimateTokens(m)
		}
	}

	if prevIdx >= 0 {
		prev := branch[prevIdx].(*types.CompactionEntry)
		p.PreviousSummary = prev.Summary
		p.FileOps.addFromCompaction(prev)
	}
	for _, m := range p.MessagesToSummarize {
		p.FileOps.addFromMessage(m)
	}
	for _, m := range p.TurnPrefixMessages {
		p.FileOps.addFromMessage(m)
	}
	return p, true
}

func messagesIn(entries []types.Entry) []types.AgentMessage {
	out := []types.AgentMessage{}
	for _, e := range entries {
		if m, ok := session.EntryMessage(e); ok {
			out = append(out, m)
		}
	}
	return out
}
