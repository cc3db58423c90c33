package compaction

import "github.com/pi-agent/pi/pkg/types"

// CutPoint is where a compaction splits the branch.
type CutPoint struct {
	// FirstKeptIndex is the index of the first entry that stays in context.
	FirstKeptIndex int
	// TurnStartIndex is the start of the turn containing FirstKeptIndex, or -1.
	TurnStartIndex int
	// IsSplitTurn is set when the cut falls inside a turn rather than at a
	// user message.
	IsSplitTurn bool
}

// validCutPoints lists the indexes in [start, end) a compaction may keep
// from. Tool results are never valid: they must stay with their call.
func validCutPoints(entries []types.Entry, start, end int) []int {
	var points []int
	for i := start; i < end; i++ {
		switch e := entries[i].(type) {
		case *types.MessageEntry:
			if _, isResult := e.Message.(*types.ToolResultMessage); !isResult {
				points = append(points, i)
			}
		case *types.BranchSummaryEntry, *types.CustomMessageEntry:
			points = append(points, i)
		}
	}
	return points
}

// TurnStart returns the index of the entry that opened the turn containing
// entries[index], searching no further back than start. It returns -1 when
// there is none.
func TurnStart(entries []types.Entry, index, start int) int {
	for i := index; i >= start; i-- {
		switch e := entries[i].(type) {
		case *types.BranchSummaryEntry, *types.CustomMessageEntry:
			return i
		case *types.MessageEntry:
			switch e.Message.(type) {
			case *types.UserMessage, *types.BashExecutionMessage:
				return i
			}
		}
	}
	return -1
}

func stopsBackscan(e types.Entry) bool {
	switch e.(type) {
	case *types.CompactionEntry, *types.MessageEntry:
		return true
	}
	return false
}

// FindCutPoint picks the first kept entry in entries[start:end] so that at
// least keepRecentTokens of estimated message tokens stay after the cut.
func FindCutPoint(entries []types.Entry, start, end int, keepRecentTokens int64) CutPoint {
	points := validCutPoints(entries, start, end)
	if len(points) == 0 {
		return CutPoint{FirstKeptIndex: start, TurnStartIndex: -1}
	}

	cut := points[0]
	var acc int64
	for i := end - 1; i >= start; i-- {
		me, ok := entries[i].(*types.MessageEntry)
		if !ok {
			continue
		}
		acc += EstimateTokens(me.Message)
		if acc < keepRecentTokens {
			continue
		}
		for _, p := range points {
			if p >= i {
				cut = p
				break
			}
		}
		break
	}

	// Pull settings and other bookkeeping entries that precede the cut into
	// the kept range.
	for cut > start && !stopsBackscan(entries[cut-1]) {
		cut--
	}

	if me, ok := entries[cut].(*types.MessageEntry); ok {
		if _, isUser := me.Message.(*types.UserMessage); isUser {
			return CutPoint{FirstKeptIndex: cut, TurnStartIndex: -1}
		}
	}
	turn := TurnStart(entries, cut, start)
	return CutPoint{
		FirstKeptIndex: cut,
		TurnStartIndex: turn,
		IsSplitTurn:    turn >= 0,
	}
}
