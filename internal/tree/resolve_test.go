package tree

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// after any root created by New() during the test run
var t0 = time.Now().UTC().Add(time.Minute)

func at(sec int) NodeOption {
	return WithTimestamp(t0.Add(time.Duration(sec) * time.Second))
}

func TestActivePath_ExplicitLeaf(t *testing.T) {
	tr := New()
	u1 := tr.Append("Hi", RoleUser)
	a1 := tr.Append("Hello", RoleAssistant)

	path, err := ActivePath(tr.Nodes(), a1.ID)
	require.NoError(t, err)
	require.Equal(t, []string{tr.RootID(), u1.ID, a1.ID}, ids(path))

	_, err = ActivePath(tr.Nodes(), "missing")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestActivePath_DefaultsToLatestNode(t *testing.T) {
	tr := New()
	u1 := tr.Append("Hi", RoleUser, at(1))
	tr.Append("Hello", RoleAssistant, at(2))
	require.NoError(t, tr.Navigate(u1.ID))
	late := tr.Append("Hola", RoleAssistant, at(10))
	require.NoError(t, tr.Navigate(tr.RootID()))
	tr.Append("Other", RoleUser, at(5))

	path, err := ActivePath(tr.Nodes(), "")
	require.NoError(t, err)
	require.Equal(t, late.ID, path[len(path)-1].ID)
}

func TestActivePath_TimestampTieGoesToLastInserted(t *testing.T) {
	tr := New()
	tr.Append("a", RoleUser, at(1))
	require.NoError(t, tr.Navigate(tr.RootID()))
	b := tr.Append("b", RoleUser, at(1))

	path, err := ActivePath(tr.Nodes(), "")
	require.NoError(t, err)
	require.Equal(t, b.ID, path[len(path)-1].ID)
}

func TestActivePath_Empty(t *testing.T) {
	path, err := ActivePath(nil, "")
	require.NoError(t, err)
	require.Empty(t, path)
}

func TestActivePath_CycleIsCorrupt(t *testing.T) {
	nodes := []*Node{
		{ID: "r", Role: RoleSystem},
		{ID: "a", ParentID: "b", Role: RoleUser},
		{ID: "b", ParentID: "a", Role: RoleUser},
	}
	_, err := ActivePath(nodes, "a")
	require.True(t, errors.Is(err, ErrCorruptState))
}

func TestMainPath_Deepest(t *testing.T) {
	tr := New()
	u1 := tr.Append("Hi", RoleUser, at(1))
	tr.Append("Hello", RoleAssistant, at(2))
	require.NoError(t, tr.Navigate(u1.ID))
	a2 := tr.Append("Hola", RoleAssistant, at(3))
	u2 := tr.Append("Más", RoleUser, at(4))

	path, err := MainPath(tr.Nodes())
	require.NoError(t, err)
	require.Equal(t, []string{tr.RootID(), u1.ID, a2.ID, u2.ID}, ids(path))
}

func TestMainPath_TieGoesToEarliestChild(t *testing.T) {
	tr := New()
	u1 := tr.Append("Hi", RoleUser, at(1))
	first := tr.Append("Hello", RoleAssistant, at(2))
	require.NoError(t, tr.Navigate(u1.ID))
	tr.Append("Hola", RoleAssistant, at(3))

	// shuffled input must not change the choice
	nodes := tr.Nodes()
	nodes[1], nodes[3] = nodes[3], nodes[1]

	path, err := MainPath(nodes)
	require.NoError(t, err)
	require.Equal(t, []string{tr.RootID(), u1.ID, first.ID}, ids(path))
}

func TestMainPath_RejectsCorruptInput(t *testing.T) {
	_, err := MainPath([]*Node{{ID: "r"}, {ID: "s"}})
	require.True(t, errors.Is(err, ErrCorruptState))

	_, err = MainPath([]*Node{
		{ID: "r"},
		{ID: "a", ParentID: "b"},
		{ID: "b", ParentID: "a"},
	})
	require.True(t, errors.Is(err, ErrCorruptState))
}

func TestCollapseToCheckpoints(t *testing.T) {
	tr := New()
	u1 := tr.Append("Hi", RoleUser)
	a1 := tr.Append("Hello", RoleAssistant)
	u2 := tr.Append("Tell me more", RoleUser)
	a2 := tr.Append("Sure", RoleAssistant)
	require.NoError(t, tr.SetFlag(a1.ID, true))
	require.NoError(t, tr.Navigate(u1.ID))
	b := tr.Append("Hola", RoleAssistant)

	view := CollapseToCheckpoints(tr.Nodes())
	require.Equal(t, []string{tr.RootID(), a1.ID, a2.ID, b.ID}, ids(view))

	byID := map[string]*Node{}
	for _, n := range view {
		byID[n.ID] = n
	}
	require.Equal(t, "", byID[tr.RootID()].ParentID)
	require.Equal(t, tr.RootID(), byID[a1.ID].ParentID)
	require.Equal(t, a1.ID, byID[a2.ID].ParentID)
	require.Equal(t, tr.RootID(), byID[b.ID].ParentID)
	require.Equal(t, []string{a1.ID, b.ID}, byID[tr.RootID()].Children)

	// the view is detached from the tree
	require.Equal(t, u2.ID, a2.ParentID)
	require.Equal(t, []string{u1.ID}, tr.Root().Children)
}

func TestCollapseToCheckpoints_PathsAreAncestorSubsequences(t *testing.T) {
	tr := buildBushy(t)
	for i, n := range tr.Nodes() {
		if i%2 == 0 {
			require.NoError(t, tr.SetFlag(n.ID, true))
		}
	}
	view := CollapseToCheckpoints(tr.Nodes())

	for _, kept := range view {
		reduced, err := ActivePath(view, kept.ID)
		require.NoError(t, err)
		full, err := tr.PathTo(kept.ID)
		require.NoError(t, err)

		// reduced must be a subsequence of full
		j := 0
		for _, n := range full {
			if j < len(reduced) && reduced[j].ID == n.ID {
				j++
			}
		}
		require.Equal(t, len(reduced), j, "path to %s has spurious ancestors", kept.ID)
	}
}

func TestToLinks(t *testing.T) {
	tr := New()
	u := tr.Append("Hi", RoleUser)
	a := tr.Append("Hello", RoleAssistant)

	require.Equal(t, []Link{
		{Source: tr.RootID(), Target: u.ID},
		{Source: u.ID, Target: a.ID},
	}, ToLinks(tr.Nodes()))
	require.Equal(t, ToLinks(tr.Nodes()), tr.ToFlat().Links())
}
