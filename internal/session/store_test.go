package session

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pi-agent/pi/pkg/types"
)

func user(text string) *types.UserMessage {
	return &types.UserMessage{Content: types.StringContent(text), Timestamp: 1}
}

func assistant(text string) *types.AssistantMessage {
	return &types.AssistantMessage{
		Content:    types.Content{types.Text(text)},
		API:        "anthropic-messages",
		Provider:   "anthropic",
		Model:      "claude-sonnet-4-5",
		StopReason: types.StopReasonStop,
		Usage:      types.Usage{Input: 10, Output: 5, TotalTokens: 15},
		Timestamp:  2,
	}
}

func ptr(s string) *string { return &s }

func ids(entries []types.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Base().ID
	}
	return out
}

func TestAppendLinksToLeaf(t *testing.T) {
	s := InMemory("/work")

	a := s.AppendMessage(user("hello"))
	b := s.AppendMessage(assistant("hi"))
	c := s.AppendCustomEntry("todo", map[string]any{"n": 1})

	entries := s.Entries()
	require.Len(t, entries, 3)
	assert.Nil(t, entries[0].Base().ParentID)
	assert.Equal(t, a, entries[1].Base().Parent())
	assert.Equal(t, b, entries[2].Base().Parent())
	assert.Equal(t, c, s.LeafID())
	assert.NotEqual(t, a, b)
}

func TestBranchFollowsParentLinks(t *testing.T) {
	s := InMemory("/work")
	a := s.AppendMessage(user("one"))
	b := s.AppendMessage(assistant("two"))
	c := s.AppendMessage(user("three"))

	require.NoError(t, s.BranchTo(b))
	d := s.AppendMessage(user("three, again"))

	// Every branch is the reversed parent chain.
	for _, id := range []string{a, b, c, d} {
		var want []string
		for cur, ok := s.Entry(id); ok; cur, ok = s.Entry(cur.Base().Parent()) {
			want = append([]string{cur.Base().ID}, want...)
		}
		if diff := cmp.Diff(want, ids(s.Branch(id))); diff != "" {
			t.Errorf("Branch(%s) mismatch (-want +got):\n%s", id, diff)
		}
	}

	assert.Equal(t, []string{a, b, d}, ids(s.Branch("")))
	assert.Empty(t, s.Branch("missing"))

	children := s.Children(b)
	assert.Equal(t, []string{c, d}, ids(children))
}

func TestBranchToUnknownEntry(t *testing.T) {
	s := InMemory("/work")
	err := s.BranchTo("nope")

	var ref *ReferenceError
	require.True(t, errors.As(err, &ref))
	assert.Equal(t, "Entry nope not found", err.Error())
}

func TestLabelLastWriteWins(t *testing.T) {
	s := InMemory("/work")
	target := s.AppendMessage(user("hello"))

	_, err := s.AppendLabelChange(target, ptr("first"))
	require.NoError(t, err)
	_, err = s.AppendLabelChange(target, ptr("second"))
	require.NoError(t, err)

	label, ok := s.Label(target)
	require.True(t, ok)
	assert.Equal(t, "second", label)

	_, err = s.AppendLabelChange(target, nil)
	require.NoError(t, err)
	_, ok = s.Label(target)
	assert.False(t, ok)

	// All changes stay in the log.
	var labels int
	for _, e := range s.Entries() {
		if _, isLabel := e.(*types.LabelEntry); isLabel {
			labels++
		}
	}
	assert.Equal(t, 3, labels)
}

func TestLabelUnknownTarget(t *testing.T) {
	s := InMemory("/work")
	_, err := s.AppendLabelChange("ghost", ptr("x"))

	var ref *ReferenceError
	require.ErrorAs(t, err, &ref)
	assert.Equal(t, "ghost", ref.ID)
	assert.Empty(t, s.Entries())
}

func TestTree(t *testing.T) {
	s := InMemory("/work")
	a := s.AppendMessage(user("root"))
	b := s.AppendMessage(assistant("left"))
	require.NoError(t, s.BranchTo(a))
	c := s.AppendMessage(assistant("right"))
	_, err := s.AppendLabelChange(c, ptr("keep"))
	require.NoError(t, err)

	s.ResetLeaf()
	r2 := s.AppendMessage(user("second root"))

	roots := s.Tree()
	require.Len(t, roots, 2)
	assert.Equal(t, a, roots[0].Entry.Base().ID)
	assert.Equal(t, r2, roots[1].Entry.Base().ID)

	children := roots[0].Children
	require.Len(t, children, 2)
	assert.Equal(t, b, children[0].Entry.Base().ID)
	assert.Equal(t, c, children[1].Entry.Base().ID)
	assert.Equal(t, "keep", children[1].Label)
	assert.Empty(t, children[0].Label)
}

func TestTreeOrphanBecomesRoot(t *testing.T) {
	s := InMemory("/work")
	orphan := &types.MessageEntry{Message: user("lost")}
	orphan.ID = "orphan"
	orphan.SetParent("missing-parent")
	s.insert(orphan)

	self := &types.CustomEntry{CustomType: "x"}
	self.ID = "self"
	self.SetParent("self")
	s.insert(self)

	roots := s.Tree()
	assert.Len(t, roots, 2)
}

func TestBranchWithSummary(t *testing.T) {
	s := InMemory("/work")
	a := s.AppendMessage(user("start"))
	s.AppendMessage(assistant("went somewhere"))

	id, err := s.BranchWithSummary(a, "tried something", nil, false)
	require.NoError(t, err)

	e, ok := s.Entry(id)
	require.True(t, ok)
	bs := e.(*types.BranchSummaryEntry)
	assert.Equal(t, a, bs.Parent())
	assert.Equal(t, a, bs.FromID)

	rootID, err := s.BranchWithSummary("", "from the top", nil, true)
	require.NoError(t, err)
	e, _ = s.Entry(rootID)
	assert.Equal(t, "root", e.(*types.BranchSummaryEntry).FromID)
	assert.Nil(t, e.Base().ParentID)

	_, err = s.BranchWithSummary("ghost", "x", nil, false)
	assert.Error(t, err)
}

func TestCommonAncestor(t *testing.T) {
	s := InMemory("/work")
	a := s.AppendMessage(user("a"))
	b := s.AppendMessage(assistant("b"))
	c := s.AppendMessage(user("c"))
	require.NoError(t, s.BranchTo(b))
	d := s.AppendMessage(user("d"))

	assert.Equal(t, b, s.CommonAncestor(c, d))
	assert.Equal(t, a, s.CommonAncestor(a, d))
	assert.Equal(t, "", s.CommonAncestor("x", d))
}
