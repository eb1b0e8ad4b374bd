package tree

import (
	"time"

	"github.com/pkg/errors"
)

// FlatNode is the order-independent storage and wire form of a Node. Children
// is written for readers that want it, but FromFlat always rebuilds children
// from ParentID.
type FlatNode struct {
	ID        string    `json:"id" yaml:"id"`
	ParentID  *string   `json:"parentId" yaml:"parentId"`
	Children  []string  `json:"children" yaml:"children"`
	Type      string    `json:"type" yaml:"type"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	IsFlagged bool      `json:"isFlagged,omitempty" yaml:"isFlagged,omitempty"`
	Metadata  Metadata  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Flat is the persisted representation of a whole tree.
type Flat struct {
	Nodes     []FlatNode `json:"nodes" yaml:"nodes"`
	RootID    string     `json:"rootId" yaml:"rootId"`
	CurrentID string     `json:"currentId" yaml:"currentId"`
}

// ToFlat emits every node in creation order. Metadata is deep-copied, so the
// result does not alias the tree.
func (t *Tree) ToFlat() Flat {
	ret := Flat{
		Nodes:     make([]FlatNode, 0, len(t.order)),
		RootID:    t.rootID,
		CurrentID: t.currentID,
	}
	for _, id := range t.order {
		n := t.nodes[id]
		fn := FlatNode{
			ID:        n.ID,
			Children:  append([]string{}, n.Children...),
			Type:      string(n.Role),
			Content:   n.Content,
			Timestamp: n.Timestamp,
			IsFlagged: n.Flagged,
			Metadata:  n.Metadata.Clone(),
		}
		if !n.IsRoot() {
			parentID := n.ParentID
			fn.ParentID = &parentID
		}
		ret.Nodes = append(ret.Nodes, fn)
	}
	return ret
}

// Clone returns a copy of f that shares no slices, pointers or metadata.
func (f Flat) Clone() Flat {
	ret := Flat{RootID: f.RootID, CurrentID: f.CurrentID}
	if f.Nodes == nil {
		return ret
	}
	ret.Nodes = make([]FlatNode, len(f.Nodes))
	for i, n := range f.Nodes {
		n.Children = append([]string(nil), n.Children...)
		n.Metadata = n.Metadata.Clone()
		if n.ParentID != nil {
			parentID := *n.ParentID
			n.ParentID = &parentID
		}
		ret.Nodes[i] = n
	}
	return ret
}

// Links derives the edge list of f without building a tree.
func (f Flat) Links() []Link {
	ret := make([]Link, 0, len(f.Nodes))
	for _, n := range f.Nodes {
		if n.ParentID == nil || *n.ParentID == "" {
			continue
		}
		ret = append(ret, Link{Source: *n.ParentID, Target: n.ID})
	}
	return ret
}

// FromFlat rebuilds a tree and checks every tree invariant. Any violation
// yields ErrCorruptState and no tree; nothing is repaired silently.
func FromFlat(f Flat) (*Tree, error) {
	if len(f.Nodes) == 0 {
		return nil, corrupt("no nodes")
	}

	nodes := make([]*Node, 0, len(f.Nodes))
	for _, fn := range f.Nodes {
		role, err := ParseRole(fn.Type)
		if err != nil {
			return nil, errors.Wrapf(ErrCorruptState, "node %q: %v", fn.ID, err)
		}
		n := &Node{
			ID:        fn.ID,
			Role:      role,
			Content:   fn.Content,
			Timestamp: fn.Timestamp.UTC(),
			Flagged:   fn.IsFlagged,
			Metadata:  fn.Metadata.Clone(),
		}
		if fn.ParentID != nil {
			n.ParentID = *fn.ParentID
		}
		nodes = append(nodes, n)
	}

	index, err := indexNodes(nodes)
	if err != nil {
		return nil, err
	}
	rootID, children, err := linkChildren(nodes, index)
	if err != nil {
		return nil, err
	}
	if f.RootID != rootID {
		return nil, corrupt("rootId %q does not match root node %q", f.RootID, rootID)
	}
	if _, ok := index[f.CurrentID]; !ok {
		return nil, corrupt("currentId %q not in node set", f.CurrentID)
	}

	// breadth-first from the root; nodes caught in a cycle are never reached
	order := make([]string, 0, len(nodes))
	queue := []string{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		index[id].Children = children[id]
		queue = append(queue, children[id]...)
	}
	if len(order) != len(nodes) {
		return nil, corrupt("%d of %d nodes unreachable from root (cycle)", len(nodes)-len(order), len(nodes))
	}

	// creation order for deterministic iteration
	created := make([]string, 0, len(nodes))
	for _, n := range sortedByCreation(nodes) {
		created = append(created, n.ID)
	}

	return &Tree{
		nodes:     index,
		order:     created,
		rootID:    rootID,
		currentID: f.CurrentID,
	}, nil
}
