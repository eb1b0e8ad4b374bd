package tree

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func ids(nodes []*Node) []string {
	ret := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ret = append(ret, n.ID)
	}
	return ret
}

// buildBushy appends a few branching threads so that most interior nodes end
// up with several children.
func buildBushy(t *testing.T) *Tree {
	t.Helper()
	tr := New()
	u1 := tr.Append("Hi", RoleUser)
	tr.Append("Hello", RoleAssistant)
	tr.Append("How are you?", RoleUser)
	require.NoError(t, tr.Navigate(u1.ID))
	a2 := tr.Append("Hey there", RoleAssistant)
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.Navigate(a2.ID))
		tr.Append(fmt.Sprintf("question %d", i), RoleUser)
		tr.Append(fmt.Sprintf("answer %d", i), RoleAssistant)
	}
	require.NoError(t, tr.Navigate(tr.RootID()))
	tr.Append("Another start", RoleUser)
	return tr
}

func depth(tr *Tree, n *Node) int {
	d := 0
	for !n.IsRoot() {
		n, _ = tr.Node(n.ParentID)
		d++
	}
	return d
}

func TestNew(t *testing.T) {
	tr := New()
	require.Equal(t, 1, tr.Len())
	root := tr.Root()
	require.Equal(t, RoleSystem, root.Role)
	require.Equal(t, RootContent, root.Content)
	require.True(t, root.IsRoot())
	require.Equal(t, root.ID, tr.CurrentID())
}

func TestAppend_LinksToCurrentAndAdvances(t *testing.T) {
	tr := New()
	u := tr.Append("Hi", RoleUser, WithMetadata(Metadata{"k": "v"}))
	require.Equal(t, tr.RootID(), u.ParentID)
	require.Equal(t, []string{u.ID}, tr.Root().Children)
	require.Equal(t, u.ID, tr.CurrentID())
	require.Equal(t, "v", u.Metadata["k"])
	require.Equal(t, 2, tr.Len())
}

func TestExampleScenario(t *testing.T) {
	tr := New()
	u1 := tr.Append("Hi", RoleUser)
	a1 := tr.Append("Hello", RoleAssistant)
	require.NoError(t, tr.Navigate(u1.ID))
	u2 := tr.Append("Tell me a joke", RoleUser)

	branches, err := tr.BranchesAt(u1.ID)
	require.NoError(t, err)
	require.Equal(t, []string{a1.ID, u2.ID}, ids(branches))

	path, err := tr.CurrentPath()
	require.NoError(t, err)
	require.Equal(t, []string{tr.RootID(), u1.ID, u2.ID}, ids(path))
}

func TestNavigate_UnknownIDKeepsCurrent(t *testing.T) {
	tr := New()
	u := tr.Append("Hi", RoleUser)

	err := tr.Navigate("missing")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNotFound))
	require.Equal(t, u.ID, tr.CurrentID())
}

func TestNavigate_ToInteriorNodeReentersExistingBranches(t *testing.T) {
	tr := New()
	u := tr.Append("Hi", RoleUser)
	tr.Append("Hello", RoleAssistant)
	require.NoError(t, tr.Navigate(u.ID))
	require.Equal(t, u.ID, tr.CurrentID())
	require.Len(t, tr.Current().Children, 1)
}

func TestPathTo_Validity(t *testing.T) {
	tr := buildBushy(t)
	for _, n := range tr.Nodes() {
		path, err := tr.PathTo(n.ID)
		require.NoError(t, err)
		require.Equal(t, tr.RootID(), path[0].ID)
		require.Equal(t, n.ID, path[len(path)-1].ID)
		require.Len(t, path, depth(tr, n)+1)

		seen := map[string]bool{}
		for _, p := range path {
			require.False(t, seen[p.ID], "repeated id %s", p.ID)
			seen[p.ID] = true
		}
	}
}

func TestPathTo_UnknownID(t *testing.T) {
	_, err := New().PathTo("nope")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestPathTo_CycleIsCorruptState(t *testing.T) {
	tr := New()
	tr.nodes["a"] = &Node{ID: "a", ParentID: "b", Role: RoleUser}
	tr.nodes["b"] = &Node{ID: "b", ParentID: "a", Role: RoleUser}
	tr.order = append(tr.order, "a", "b")

	_, err := tr.PathTo("a")
	require.True(t, errors.Is(err, ErrCorruptState))
}

func TestPathTo_DanglingParentIsCorruptState(t *testing.T) {
	tr := New()
	tr.nodes["a"] = &Node{ID: "a", ParentID: "gone", Role: RoleUser}

	_, err := tr.PathTo("a")
	require.True(t, errors.Is(err, ErrCorruptState))
}

func TestAppendAfterNavigate_CreatesNewChild(t *testing.T) {
	tr := buildBushy(t)
	for _, p := range tr.Nodes() {
		if len(p.Children) == 0 {
			continue
		}
		before := append([]string(nil), p.Children...)

		require.NoError(t, tr.Navigate(p.ID))
		n := tr.Append("fork", RoleUser)

		require.Len(t, p.Children, len(before)+1)
		require.NotContains(t, before, n.ID)
		require.Equal(t, n.ID, p.Children[len(p.Children)-1])
		require.Equal(t, p.ID, n.ParentID)
		require.Equal(t, n.ID, tr.CurrentID())
	}
}

func TestBranchesAt_CountsAppendsRegardlessOfNavigation(t *testing.T) {
	tr := New()
	u := tr.Append("Hi", RoleUser)
	tr.Append("Hello", RoleAssistant)

	branches, err := tr.BranchesAt(u.ID)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	require.False(t, u.IsBranchPoint())

	// wander around without appending under u
	require.NoError(t, tr.Navigate(tr.RootID()))
	require.NoError(t, tr.Navigate(u.ID))
	require.NoError(t, tr.Navigate(tr.RootID()))
	tr.Append("elsewhere", RoleUser)
	require.False(t, u.IsBranchPoint())

	require.NoError(t, tr.Navigate(u.ID))
	tr.Append("Hola", RoleAssistant)
	branches, err = tr.BranchesAt(u.ID)
	require.NoError(t, err)
	require.Len(t, branches, 2)
	require.True(t, u.IsBranchPoint())
	require.Equal(t, []string{tr.RootID(), u.ID}, ids(tr.BranchPoints()))

	_, err = tr.BranchesAt("missing")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestMessagesForGeneration_SkipsSystemNodes(t *testing.T) {
	tr := New()
	tr.Append("Hi", RoleUser)
	tr.Append("Hello", RoleAssistant)
	tr.Append("Joke please", RoleUser)

	msgs, err := tr.MessagesForGeneration()
	require.NoError(t, err)
	require.Equal(t, []PathMessage{
		{Role: RoleUser, Content: "Hi"},
		{Role: RoleAssistant, Content: "Hello"},
		{Role: RoleUser, Content: "Joke please"},
	}, msgs)
}

func TestEditAndFlag(t *testing.T) {
	tr := New()
	u := tr.Append("Hi", RoleUser)

	require.NoError(t, tr.Edit(u.ID, "Hi there"))
	require.Equal(t, "Hi there", u.Content)

	err := tr.Edit(tr.RootID(), "x")
	require.True(t, errors.Is(err, ErrInvalidOperation))
	require.Equal(t, RootContent, tr.Root().Content)

	require.NoError(t, tr.SetFlag(u.ID, true))
	require.True(t, u.Flagged)
	require.NoError(t, tr.SetFlag(u.ID, false))
	require.False(t, u.Flagged)

	require.True(t, errors.Is(tr.SetFlag("missing", true), ErrNotFound))
	require.True(t, errors.Is(tr.Edit("missing", ""), ErrNotFound))

	md := Metadata{"nested": map[string]any{"a": 1.0}}
	require.NoError(t, tr.SetMetadata(u.ID, md))
	md["nested"].(map[string]any)["a"] = 2.0
	require.Equal(t, 1.0, u.Metadata["nested"].(map[string]any)["a"])
}

func TestLeaves(t *testing.T) {
	tr := New()
	u := tr.Append("Hi", RoleUser)
	a := tr.Append("Hello", RoleAssistant)
	require.NoError(t, tr.Navigate(u.ID))
	b := tr.Append("Hola", RoleAssistant)
	require.Equal(t, []string{a.ID, b.ID}, ids(tr.Leaves()))
}

func TestParseRole(t *testing.T) {
	for in, want := range map[string]Role{
		"USER": RoleUser, "user": RoleUser, "AI": RoleAssistant,
		"assistant": RoleAssistant, "model": RoleAssistant, "system": RoleSystem,
	} {
		got, err := ParseRole(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseRole("tool")
	require.Error(t, err)
}
