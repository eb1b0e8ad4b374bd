package tree

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func requireSameTree(t *testing.T, want, got *Tree) {
	t.Helper()
	require.Equal(t, want.RootID(), got.RootID())
	require.Equal(t, want.CurrentID(), got.CurrentID())
	require.Equal(t, want.Len(), got.Len())
	require.Equal(t, ids(want.Nodes()), ids(got.Nodes()))
	for _, w := range want.Nodes() {
		g, ok := got.Node(w.ID)
		require.True(t, ok, w.ID)
		require.Equal(t, w.ParentID, g.ParentID)
		require.Equal(t, w.Role, g.Role)
		require.Equal(t, w.Content, g.Content)
		require.Equal(t, w.Flagged, g.Flagged)
		require.Equal(t, w.Metadata, g.Metadata)
		require.True(t, w.Timestamp.Equal(g.Timestamp), "timestamp of %s", w.ID)
		require.Equal(t, len(w.Children), len(g.Children))
		for i := range w.Children {
			require.Equal(t, w.Children[i], g.Children[i])
		}
	}
}

func scenarioTree(t *testing.T) *Tree {
	t.Helper()
	tr := New()
	u1 := tr.Append("Hi", RoleUser)
	a1 := tr.Append("Hello", RoleAssistant, WithMetadata(Metadata{"model": "gpt-4o-mini"}))
	require.NoError(t, tr.SetFlag(a1.ID, true))
	require.NoError(t, tr.Navigate(u1.ID))
	tr.Append("Tell me a joke", RoleUser)
	return tr
}

func TestFromFlat_RoundTrip(t *testing.T) {
	tr := scenarioTree(t)
	got, err := FromFlat(tr.ToFlat())
	require.NoError(t, err)
	requireSameTree(t, tr, got)

	got, err = FromFlat(buildBushy(t).ToFlat())
	require.NoError(t, err)
	require.Equal(t, 12, got.Len())
}

func TestFromFlat_RoundTripThroughJSON(t *testing.T) {
	tr := scenarioTree(t)
	data, err := json.Marshal(tr.ToFlat())
	require.NoError(t, err)

	var f Flat
	require.NoError(t, json.Unmarshal(data, &f))
	got, err := FromFlat(f)
	require.NoError(t, err)
	requireSameTree(t, tr, got)

	require.Equal(t, 4, got.Len())
	u1 := got.Root().Children[0]
	branches, err := got.BranchesAt(u1)
	require.NoError(t, err)
	require.Len(t, branches, 2)
}

func TestFromFlat_RoundTripThroughYAML(t *testing.T) {
	tr := scenarioTree(t)
	data, err := yaml.Marshal(tr.ToFlat())
	require.NoError(t, err)

	var f Flat
	require.NoError(t, yaml.Unmarshal(data, &f))
	got, err := FromFlat(f)
	require.NoError(t, err)
	requireSameTree(t, tr, got)
}

func TestToFlat_WireShape(t *testing.T) {
	tr := scenarioTree(t)
	data, err := json.Marshal(tr.ToFlat())
	require.NoError(t, err)

	var raw struct {
		Nodes []map[string]any `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Nil(t, raw.Nodes[0]["parentId"])
	require.Equal(t, "system", raw.Nodes[0]["type"])
	require.Equal(t, tr.RootID(), raw.Nodes[1]["parentId"])
	require.Contains(t, raw.Nodes[0], "timestamp")
	require.Equal(t, true, raw.Nodes[2]["isFlagged"])
}

func ptr(s string) *string { return &s }

func TestFromFlat_TwoRoots(t *testing.T) {
	_, err := FromFlat(Flat{
		Nodes: []FlatNode{
			{ID: "r1", Type: "system"},
			{ID: "r2", Type: "system"},
		},
		RootID:    "r1",
		CurrentID: "r1",
	})
	require.True(t, errors.Is(err, ErrCorruptState))
}

func TestFromFlat_TwoCycle(t *testing.T) {
	_, err := FromFlat(Flat{
		Nodes: []FlatNode{
			{ID: "r", Type: "system"},
			{ID: "a", ParentID: ptr("b"), Type: "USER"},
			{ID: "b", ParentID: ptr("a"), Type: "AI"},
		},
		RootID:    "r",
		CurrentID: "r",
	})
	require.True(t, errors.Is(err, ErrCorruptState))
}

func TestFromFlat_Rejects(t *testing.T) {
	for name, f := range map[string]Flat{
		"empty": {},
		"no root": {
			Nodes:     []FlatNode{{ID: "a", ParentID: ptr("b"), Type: "user"}, {ID: "b", ParentID: ptr("a"), Type: "user"}},
			RootID:    "a",
			CurrentID: "a",
		},
		"dangling parent": {
			Nodes:     []FlatNode{{ID: "r", Type: "system"}, {ID: "a", ParentID: ptr("gone"), Type: "user"}},
			RootID:    "r",
			CurrentID: "a",
		},
		"duplicate id": {
			Nodes:     []FlatNode{{ID: "r", Type: "system"}, {ID: "a", ParentID: ptr("r"), Type: "user"}, {ID: "a", ParentID: ptr("r"), Type: "user"}},
			RootID:    "r",
			CurrentID: "a",
		},
		"self parent": {
			Nodes:     []FlatNode{{ID: "r", Type: "system"}, {ID: "a", ParentID: ptr("a"), Type: "user"}},
			RootID:    "r",
			CurrentID: "r",
		},
		"current missing": {
			Nodes:     []FlatNode{{ID: "r", Type: "system"}},
			RootID:    "r",
			CurrentID: "x",
		},
		"root id mismatch": {
			Nodes:     []FlatNode{{ID: "r", Type: "system"}, {ID: "a", ParentID: ptr("r"), Type: "user"}},
			RootID:    "a",
			CurrentID: "a",
		},
		"unknown type": {
			Nodes:     []FlatNode{{ID: "r", Type: "narrator"}},
			RootID:    "r",
			CurrentID: "r",
		},
	} {
		t.Run(name, func(t *testing.T) {
			tr, err := FromFlat(f)
			require.Nil(t, tr)
			require.True(t, errors.Is(err, ErrCorruptState), "got %v", err)
		})
	}
}

func TestFromFlat_RecomputesChildren(t *testing.T) {
	f := scenarioTree(t).ToFlat()
	// stale children lists from a partial write
	f.Nodes[0].Children = nil
	f.Nodes[1].Children = []string{"ghost"}

	got, err := FromFlat(f)
	require.NoError(t, err)
	require.Equal(t, []string{f.Nodes[1].ID}, got.Root().Children)
	u1, _ := got.Node(f.Nodes[1].ID)
	require.Equal(t, []string{f.Nodes[2].ID, f.Nodes[3].ID}, u1.Children)
}

func TestFromFlat_TwoPartyTypes(t *testing.T) {
	got, err := FromFlat(Flat{
		Nodes: []FlatNode{
			{ID: "r", Type: "system"},
			{ID: "u", ParentID: ptr("r"), Type: "USER", Content: "Hi"},
			{ID: "a", ParentID: ptr("u"), Type: "AI", Content: "Hello"},
		},
		RootID:    "r",
		CurrentID: "a",
	})
	require.NoError(t, err)

	msgs, err := got.MessagesForGeneration()
	require.NoError(t, err)
	require.Equal(t, []PathMessage{
		{Role: RoleUser, Content: "Hi"},
		{Role: RoleAssistant, Content: "Hello"},
	}, msgs)
}

func TestToFlat_DoesNotAliasTree(t *testing.T) {
	tr := scenarioTree(t)
	f := tr.ToFlat()
	f.Nodes[2].Metadata["model"] = "changed"
	f.Nodes[0].Children[0] = "changed"

	a1, _ := tr.Node(f.Nodes[2].ID)
	require.Equal(t, "gpt-4o-mini", a1.Metadata["model"])
	require.NotEqual(t, "changed", tr.Root().Children[0])
}
