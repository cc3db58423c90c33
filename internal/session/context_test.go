package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pi-agent/pi/pkg/types"
)

func roles(msgs []types.AgentMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.MessageRole()
	}
	return out
}

func TestBuildContextEmpty(t *testing.T) {
	ctx := InMemory("/work").BuildContext()
	assert.Empty(t, ctx.Messages)
	assert.Equal(t, types.ThinkingOff, ctx.ThinkingLevel)
	assert.Nil(t, ctx.Model)
}

func TestBuildContextSkipsNonModelEntries(t *testing.T) {
	s := InMemory("/work")
	u := s.AppendMessage(user("hello"))
	s.AppendThinkingLevelChange(types.ThinkingHigh)
	s.AppendModelChange("openai", "gpt-4o")
	s.AppendCustomEntry("state", map[string]any{"k": "v"})
	_, err := s.AppendLabelChange(u, ptr("start"))
	require.NoError(t, err)
	s.AppendCustomMessage("note", types.StringContent("from extension"), true, nil)
	s.AppendMessage(assistant("hi"))

	ctx := s.BuildContext()
	assert.Equal(t, []string{types.RoleUser, types.RoleHookMessage, types.RoleAssistant}, roles(ctx.Messages))
	assert.Equal(t, types.ThinkingHigh, ctx.ThinkingLevel)
	require.NotNil(t, ctx.Model)
	// The assistant message comes after the model change and wins.
	assert.Equal(t, "anthropic", ctx.Model.Provider)
	assert.Equal(t, "claude-sonnet-4-5", ctx.Model.ModelID)

	hook := ctx.Messages[1].(*types.HookMessage)
	assert.Equal(t, "note", hook.CustomType)
	assert.Equal(t, "from extension", hook.Content.PlainText())
	assert.NotZero(t, hook.Timestamp)
}

func TestBuildContextFollowsLeaf(t *testing.T) {
	s := InMemory("/work")
	a := s.AppendMessage(user("a"))
	s.AppendMessage(assistant("b"))
	require.NoError(t, s.BranchTo(a))
	s.AppendMessage(assistant("c"))

	ctx := s.BuildContext()
	require.Len(t, ctx.Messages, 2)
	assert.Equal(t, "c", ctx.Messages[1].(*types.AssistantMessage).Content.Texts())
}

func TestBuildContextWithCompaction(t *testing.T) {
	s := InMemory("/work")
	s.AppendMessage(user("old question"))
	s.AppendMessage(assistant("old answer"))
	kept := s.AppendMessage(user("recent question"))
	s.AppendMessage(assistant("recent answer"))
	s.AppendCompaction("what happened so far", kept, 1234, nil, false)
	s.AppendMessage(user("after"))

	ctx := s.BuildContext()
	assert.Equal(t, []string{
		types.RoleCompactionSummary,
		types.RoleUser,
		types.RoleAssistant,
		types.RoleUser,
	}, roles(ctx.Messages))

	summary := ctx.Messages[0].(*types.CompactionSummaryMessage)
	assert.Equal(t, "what happened so far", summary.Summary)
	assert.Equal(t, int64(1234), summary.TokensBefore)
	assert.Equal(t, "recent question", ctx.Messages[1].(*types.UserMessage).Content.PlainText())
}

func TestBuildContextUsesLatestCompaction(t *testing.T) {
	s := InMemory("/work")
	s.AppendMessage(user("1"))
	k1 := s.AppendMessage(assistant("2"))
	s.AppendCompaction("first", k1, 10, nil, false)
	k2 := s.AppendMessage(user("3"))
	s.AppendMessage(assistant("4"))
	s.AppendCompaction("second", k2, 20, nil, false)

	ctx := s.BuildContext()
	require.NotEmpty(t, ctx.Messages)
	assert.Equal(t, "second", ctx.Messages[0].(*types.CompactionSummaryMessage).Summary)
	assert.Equal(t, []string{types.RoleCompactionSummary, types.RoleUser, types.RoleAssistant}, roles(ctx.Messages))
}

func TestBuildContextBranchSummary(t *testing.T) {
	s := InMemory("/work")
	a := s.AppendMessage(user("start"))
	s.AppendMessage(assistant("dead end"))
	_, err := s.BranchWithSummary(a, "explored a dead end", nil, false)
	require.NoError(t, err)

	ctx := s.BuildContext()
	assert.Equal(t, []string{types.RoleUser, types.RoleBranchSummary}, roles(ctx.Messages))
	assert.Equal(t, a, ctx.Messages[1].(*types.BranchSummaryMessage).FromID)
}
