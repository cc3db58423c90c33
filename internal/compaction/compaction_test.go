package compaction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pi-agent/pi/internal/config"
	"github.com/pi-agent/pi/internal/session"
	"github.com/pi-agent/pi/pkg/types"
)

func user(text string) *types.UserMessage {
	return &types.UserMessage{Content: types.StringContent(text), Timestamp: 1}
}

func assistant(text string, blocks ...types.ContentBlock) *types.AssistantMessage {
	content := types.Content{types.Text(text)}
	content = append(content, blocks...)
	return &types.AssistantMessage{
		Content:    content,
		Provider:   "anthropic",
		Model:      "claude-sonnet-4-5",
		StopReason: types.StopReasonStop,
		Usage:      types.Usage{Input: 900, Output: 100, TotalTokens: 1000},
		Timestamp:  2,
	}
}

func toolResult(id, text string) *types.ToolResultMessage {
	return &types.ToolResultMessage{ToolCallID: id, ToolName: "read", Content: types.Content{types.Text(text)}, Timestamp: 3}
}

// hundred is a message body estimated at 100 tokens.
var hundred = strings.Repeat("x", 400)

func settings(keep int64) config.Compaction {
	return config.Compaction{Enabled: true, ReserveTokens: 1000, KeepRecentTokens: keep}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, int64(1), EstimateTokens(user("abcd")))
	assert.Equal(t, int64(2), EstimateTokens(user("abcde")))

	img := &types.ToolResultMessage{Content: types.Content{&types.ImageContent{Data: "AAAA", MimeType: "image/png"}}}
	assert.Equal(t, int64(1200), EstimateTokens(img))

	call := &types.ToolCall{ID: "c", Name: "read", Arguments: map[string]any{"path": "a"}}
	a := &types.AssistantMessage{Content: types.Content{call}}
	// "read" + `{"path":"a"}`
	assert.Equal(t, int64(4), EstimateTokens(a))

	bash := &types.BashExecutionMessage{Command: "ls", Output: "ab"}
	assert.Equal(t, int64(1), EstimateTokens(bash))
}

func TestShouldCompact(t *testing.T) {
	s := settings(100)
	assert.False(t, ShouldCompact(8000, 10000, s))
	assert.True(t, ShouldCompact(9001, 10000, s))
	s.Enabled = false
	assert.False(t, ShouldCompact(9999, 10000, s))
}

func TestLastAssistantUsageSkipsFailed(t *testing.T) {
	s := session.InMemory("/w")
	s.AppendMessage(assistant("ok"))
	failed := assistant("boom")
	failed.StopReason = types.StopReasonError
	failed.Usage = types.Usage{Input: 1}
	s.AppendMessage(failed)

	u, ok := LastAssistantUsage(s.Entries())
	require.True(t, ok)
	assert.Equal(t, int64(1000), ContextTokens(u))
}

func TestFindCutPoint(t *testing.T) {
	s := session.InMemory("/w")
	for i := 0; i < 3; i++ {
		s.AppendMessage(user(hundred))
		s.AppendMessage(assistant(hundred))
	}
	entries := s.Entries()

	t.Run("at user message", func(t *testing.T) {
		cut := FindCutPoint(entries, 0, len(entries), 350)
		assert.Equal(t, 2, cut.FirstKeptIndex)
		assert.False(t, cut.IsSplitTurn)
		assert.Equal(t, -1, cut.TurnStartIndex)
	})

	t.Run("inside a turn", func(t *testing.T) {
		cut := FindCutPoint(entries, 0, len(entries), 250)
		assert.Equal(t, 3, cut.FirstKeptIndex)
		assert.True(t, cut.IsSplitTurn)
		assert.Equal(t, 2, cut.TurnStartIndex)
	})

	t.Run("keep everything", func(t *testing.T) {
		cut := FindCutPoint(entries, 0, len(entries), 100000)
		assert.Equal(t, 0, cut.FirstKeptIndex)
	})
}

func TestFindCutPointSkipsToolResults(t *testing.T) {
	s := session.InMemory("/w")
	s.AppendMessage(user(hundred))
	call := &types.ToolCall{ID: "c1", Name: "read", Arguments: map[string]any{"path": "a.go"}}
	s.AppendMessage(assistant("", call))
	s.AppendMessage(toolResult("c1", hundred))
	s.AppendMessage(assistant(hundred))
	entries := s.Entries()

	// The walk stops at the tool result; the cut moves forward to the next
	// assistant message instead of separating the result from its call.
	cut := FindCutPoint(entries, 0, len(entries), 150)
	assert.Equal(t, 3, cut.FirstKeptIndex)
	assert.True(t, cut.IsSplitTurn)
	assert.Equal(t, 0, cut.TurnStartIndex)
}

func TestPrepare(t *testing.T) {
	t.Run("not applicable", func(t *testing.T) {
		_, ok := Prepare(nil, settings(10))
		assert.False(t, ok)

		s := session.InMemory("/w")
		kept := s.AppendMessage(user("a"))
		s.AppendCompaction("sum", kept, 10, nil, false)
		_, ok = Prepare(s.Branch(""), settings(10))
		assert.False(t, ok)
	})

	t.Run("collects history and file operations", func(t *testing.T) {
		s := session.InMemory("/w")
		s.AppendMessage(user(hundred))
		s.AppendMessage(assistant(hundred,
			&types.ToolCall{ID: "1", Name: "read", Arguments: map[string]any{"path": "a.go"}},
			&types.ToolCall{ID: "2", Name: "edit", Arguments: map[string]any{"path": "b.go"}},
			&types.ToolCall{ID: "3", Name: "write", Arguments: map[string]any{"filePath": "c.go"}},
		))
		kept := s.AppendMessage(user(hundred))
		s.AppendMessage(assistant(hundred))

		p, ok := Prepare(s.Branch(""), settings(150))
		require.True(t, ok)
		assert.Equal(t, kept, p.FirstKeptEntryID)
		assert.Len(t, p.MessagesToSummarize, 2)
		assert.Empty(t, p.TurnPrefixMessages)
		assert.Equal(t, int64(1000), p.TokensBefore)

		read, modified := ComputeFileLists(p.FileOps)
		assert.Equal(t, []string{"a.go"}, read)
		assert.Equal(t, []string{"b.go", "c.go"}, modified)
	})

	t.Run("carries previous compaction forward", func(t *testing.T) {
		s := session.InMemory("/w")
		first := s.AppendMessage(user(hundred))
		s.AppendCompaction("earlier work", first, 500, Details{ReadFiles: []string{"old.go"}, ModifiedFiles: []string{}}, false)
		s.AppendMessage(assistant(hundred))
		s.AppendMessage(user(hundred))
		s.AppendMessage(assistant(hundred))

		p, ok := Prepare(s.Branch(""), settings(150))
		require.True(t, ok)
		assert.Equal(t, "earlier work", p.PreviousSummary)
		assert.True(t, p.FileOps.Read["old.go"])
	})

	t.Run("estimates tokens without usage", func(t *testing.T) {
		s := session.InMemory("/w")
		s.AppendMessage(user(hundred))
		s.AppendMessage(user(hundred))
		s.AppendMessage(user(hundred))
		p, ok := Prepare(s.Branch(""), settings(150))
		require.True(t, ok)
		assert.Equal(t, int64(100), p.TokensBefore)
	})
}

func TestFormatFileOperations(t *testing.T) {
	assert.Equal(t, "", FormatFileOperations(nil, nil))
	assert.Equal(t,
		"\n\n<read-files>\na\n</read-files>\n\n<modified-files>\nb\nc\n</modified-files>",
		FormatFileOperations([]string{"a"}, []string{"b", "c"}))
}

func TestMergeBeforeCompact(t *testing.T) {
	first := &Result{Summary: "first"}
	second := &Result{Summary: "second"}

	merged := MergeBeforeCompact(nil, &BeforeCompactResult{Compaction: &Result{}}, &BeforeCompactResult{Compaction: first}, &BeforeCompactResult{Compaction: second})
	assert.Same(t, first, merged.Compaction)

	merged = MergeBeforeCompact(&BeforeCompactResult{Compaction: first}, &BeforeCompactResult{Cancel: true})
	assert.True(t, merged.Cancel)
	assert.Nil(t, merged.Compaction)
}

func compactableStore() *session.Store {
	s := session.InMemory("/w")
	for i := 0; i < 3; i++ {
		s.AppendMessage(user(hundred))
		s.AppendMessage(assistant(hundred))
	}
	return s
}

func TestManagerCompactFallback(t *testing.T) {
	s := compactableStore()
	before := len(s.Entries())

	var got *CompactEvent
	m := NewManager(nil, HookFuncs{After: func(_ context.Context, ev *CompactEvent) error {
		got = ev
		return nil
	}})

	res, err := m.Compact(context.Background(), s, settings(350), "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Summary, "Summary: "))
	assert.Positive(t, res.TokensBefore)
	assert.Len(t, s.Entries(), before+1)

	msgs := s.BuildContext().Messages
	require.NotEmpty(t, msgs)
	assert.Equal(t, types.RoleCompactionSummary, msgs[0].MessageRole())

	require.NotNil(t, got)
	assert.False(t, got.FromHook)
	assert.Equal(t, res.Summary, got.CompactionEntry.Summary)
}

func TestManagerCompactCancelled(t *testing.T) {
	s := compactableStore()
	before := len(s.Entries())

	m := NewManager(nil, HookFuncs{Before: func(context.Context, *BeforeCompactEvent) (*BeforeCompactResult, error) {
		return &BeforeCompactResult{Cancel: true}, nil
	}})
	_, err := m.Compact(context.Background(), s, settings(350), "")
	require.ErrorIs(t, err, ErrCompactionCancelled)
	assert.Contains(t, err.Error(), "Compaction cancelled")
	assert.Len(t, s.Entries(), before)
}

func TestManagerCompactOverride(t *testing.T) {
	s := compactableStore()

	var fromHook bool
	m := NewManager(nil)
	m.AddHook(HookFuncs{
		Before: func(_ context.Context, ev *BeforeCompactEvent) (*BeforeCompactResult, error) {
			return &BeforeCompactResult{Compaction: &Result{
				Summary:          "From ext",
				FirstKeptEntryID: ev.Preparation.FirstKeptEntryID,
				TokensBefore:     ev.Preparation.TokensBefore,
			}}, nil
		},
		After: func(_ context.Context, ev *CompactEvent) error {
			fromHook = ev.FromHook
			return nil
		},
	})

	res, err := m.Compact(context.Background(), s, settings(350), "")
	require.NoError(t, err)
	assert.Equal(t, "From ext", res.Summary)
	assert.True(t, fromHook)

	leaf, _ := s.Leaf()
	assert.True(t, leaf.(*types.CompactionEntry).FromHook)
}

func TestManagerCompactHookError(t *testing.T) {
	s := compactableStore()
	m := NewManager(nil, HookFuncs{Before: func(context.Context, *BeforeCompactEvent) (*BeforeCompactResult, error) {
		return nil, errors.New("extension crashed")
	}})
	_, err := m.Compact(context.Background(), s, settings(350), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extension crashed")
}

func TestManagerNotApplicable(t *testing.T) {
	_, err := NewManager(nil).Compact(context.Background(), session.InMemory("/w"), settings(10), "")
	assert.ErrorIs(t, err, ErrNotApplicable)
}

type fakeChatModel struct {
	prompts []string
	reply   string
	err     error
}

func (f *fakeChatModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.prompts = append(f.prompts, in[len(in)-1].Content)
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func TestModelSummarizer(t *testing.T) {
	s := compactableStore()
	fake := &fakeChatModel{reply: "## Goal\nShip it"}
	m := NewManager(&ModelSummarizer{Model: fake, MaxTokens: 512})

	res, err := m.Compact(context.Background(), s, settings(250), "focus on tests")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Summary, "## Goal\nShip it"))
	assert.Contains(t, res.Summary, "**Turn Context (split turn):**")

	require.Len(t, fake.prompts, 2)
	assert.Contains(t, fake.prompts[0], "<conversation>\n[User]: ")
	assert.Contains(t, fake.prompts[0], "Additional focus: focus on tests")
}

func TestModelSummarizerFailureFallsBack(t *testing.T) {
	s := compactableStore()
	m := NewManager(&ModelSummarizer{Model: &fakeChatModel{err: errors.New("rate limited")}})

	res, err := m.Compact(context.Background(), s, settings(350), "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Summary, "Summary: "))
}

func TestAbandonedEntries(t *testing.T) {
	s := session.InMemory("/w")
	a := s.AppendMessage(user("a"))
	b := s.AppendMessage(assistant("b"))
	c := s.AppendMessage(user("c"))

	got := AbandonedEntries(s, c, a)
	require.Len(t, got, 2)
	assert.Equal(t, b, got[0].Base().ID)
	assert.Equal(t, c, got[1].Base().ID)
	assert.Empty(t, AbandonedEntries(s, "", a))
}
