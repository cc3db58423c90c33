package session

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pi-agent/pi/pkg/types"
)

func TestCreateBranchedSessionKeepsPathLabels(t *testing.T) {
	s := InMemory("/work")
	u := s.AppendMessage(user("hello"))
	a := s.AppendMessage(assistant("hi"))
	_, err := s.AppendLabelChange(u, ptr("start"))
	require.NoError(t, err)

	require.NoError(t, s.BranchTo(a))
	off := s.AppendMessage(user("off path"))
	_, err = s.AppendLabelChange(off, ptr("elsewhere"))
	require.NoError(t, err)

	branched, err := s.CreateBranchedSession(a)
	require.NoError(t, err)

	label, ok := branched.Label(u)
	require.True(t, ok)
	assert.Equal(t, "start", label)

	_, ok = branched.Label(off)
	assert.False(t, ok)
	_, ok = branched.Entry(off)
	assert.False(t, ok)

	assert.NotEqual(t, s.SessionID(), branched.SessionID())
	assert.Equal(t, []string{types.RoleUser, types.RoleAssistant}, roles(branched.BuildContext().Messages))
}

func TestCreateBranchedSessionDropsOffPathLabel(t *testing.T) {
	s := InMemory("/work")
	u := s.AppendMessage(user("hello"))
	a := s.AppendMessage(assistant("hi"))
	third := s.AppendMessage(user("third"))
	_, err := s.AppendLabelChange(third, ptr("later"))
	require.NoError(t, err)

	branched, err := s.CreateBranchedSession(a)
	require.NoError(t, err)

	_, ok := branched.Label(third)
	assert.False(t, ok)
	assert.Equal(t, []string{u, a}, ids(branched.Entries()))
}

func TestCreateBranchedSessionRelinksAcrossLabels(t *testing.T) {
	s := InMemory("/work")
	u := s.AppendMessage(user("hello"))
	_, err := s.AppendLabelChange(u, ptr("greeting"))
	require.NoError(t, err)
	a := s.AppendMessage(assistant("hi"))

	branched, err := s.CreateBranchedSession(a)
	require.NoError(t, err)

	entries := branched.Entries()
	require.Len(t, entries, 3) // user, assistant, fresh label
	assert.Equal(t, u, entries[1].Base().Parent())
	assert.Equal(t, []string{u, a}, ids(branched.Branch(a)))

	fresh := entries[2].(*types.LabelEntry)
	assert.Equal(t, a, fresh.Parent())
	assert.Equal(t, u, fresh.TargetID)

	// The source store is untouched.
	orig, _ := s.Entry(a)
	assert.NotEqual(t, u, orig.Base().Parent())
}

func TestCreateBranchedSessionUnknownEntry(t *testing.T) {
	s := InMemory("/work")
	_, err := s.CreateBranchedSession("nope")
	var ref *ReferenceError
	assert.ErrorAs(t, err, &ref)
}

func TestCreateBranchedSessionPersisted(t *testing.T) {
	dir := t.TempDir()
	s := Create("/work", dir)
	u := s.AppendMessage(user("hello"))
	a := s.AppendMessage(assistant("hi"))
	_, err := s.AppendLabelChange(u, ptr("start"))
	require.NoError(t, err)

	branched, err := s.CreateBranchedSession(a)
	require.NoError(t, err)
	require.NotEqual(t, s.SessionFile(), branched.SessionFile())

	_, err = os.Stat(branched.SessionFile())
	require.NoError(t, err)

	reopened, err := Open(branched.SessionFile())
	require.NoError(t, err)
	assert.Equal(t, s.SessionFile(), reopened.Header().ParentSession)
	label, ok := reopened.Label(u)
	require.True(t, ok)
	assert.Equal(t, "start", label)
}
