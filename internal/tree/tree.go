// Package tree models a chat session as a tree of messages.
//
// A Tree owns every node in an arena keyed by id. Parent and children links
// are ids into that arena, never pointers, so a tree can be copied, flattened
// and rebuilt without ownership cycles. Branching is implicit: navigating to
// an interior node and appending creates a sibling of the existing children.
//
// A Tree is not safe for concurrent use; one session owns it.
package tree

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

// RootContent is the text of the synthetic root every new tree starts with.
const RootContent = "Start a new conversation"

type Tree struct {
	nodes     map[string]*Node
	order     []string // creation order
	rootID    string
	currentID string
}

// New creates a tree with a single system root. Current points at the root.
func New() *Tree {
	root := newNode("", RoleSystem, RootContent)
	return &Tree{
		nodes:     map[string]*Node{root.ID: root},
		order:     []string{root.ID},
		rootID:    root.ID,
		currentID: root.ID,
	}
}

func (t *Tree) Root() *Node {
	return t.nodes[t.rootID]
}

func (t *Tree) Current() *Node {
	return t.nodes[t.currentID]
}

func (t *Tree) RootID() string {
	return t.rootID
}

func (t *Tree) CurrentID() string {
	return t.currentID
}

func (t *Tree) Len() int {
	return len(t.nodes)
}

// Node returns the node with the given id. The returned node must be treated
// as read-only; use the tree's methods to change it.
func (t *Tree) Node(id string) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Nodes returns all nodes in creation order.
func (t *Tree) Nodes() []*Node {
	ret := make([]*Node, 0, len(t.order))
	for _, id := range t.order {
		ret = append(ret, t.nodes[id])
	}
	return ret
}

// Append creates a child of the current node and moves current to it.
func (t *Tree) Append(content string, role Role, options ...NodeOption) *Node {
	parent, ok := t.nodes[t.currentID]
	if !ok {
		// unreachable through the public API
		panic(fmt.Sprintf("tree: current node %q missing from arena", t.currentID))
	}

	node := newNode(parent.ID, role, content, options...)
	node.ParentID = parent.ID

	parent.Children = append(parent.Children, node.ID)
	t.nodes[node.ID] = node
	t.order = append(t.order, node.ID)
	t.currentID = node.ID

	return node
}

// Navigate moves current to id. On ErrNotFound current is unchanged.
func (t *Tree) Navigate(id string) error {
	if _, ok := t.nodes[id]; !ok {
		return notFound(id)
	}
	t.currentID = id
	return nil
}

// PathTo returns the nodes from the root down to id, inclusive.
func (t *Tree) PathTo(id string) ([]*Node, error) {
	if _, ok := t.nodes[id]; !ok {
		return nil, notFound(id)
	}
	path, err := walkToRoot(t.nodes, id)
	if err != nil {
		return nil, err
	}
	if path[0].ID != t.rootID {
		return nil, corrupt("path to %q starts at %q, not at root %q", id, path[0].ID, t.rootID)
	}
	return path, nil
}

func (t *Tree) CurrentPath() ([]*Node, error) {
	return t.PathTo(t.currentID)
}

// MessagesForGeneration returns the current path without system nodes, in
// root-to-leaf order. This is exactly the context given to a generator.
func (t *Tree) MessagesForGeneration() ([]PathMessage, error) {
	path, err := t.CurrentPath()
	if err != nil {
		return nil, err
	}
	ret := make([]PathMessage, 0, len(path))
	for _, n := range path {
		if n.Role == RoleSystem {
			continue
		}
		ret = append(ret, PathMessage{Role: n.Role, Content: n.Content})
	}
	return ret, nil
}

// BranchesAt returns the children of id as candidate continuations, oldest first.
func (t *Tree) BranchesAt(id string) ([]*Node, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, notFound(id)
	}
	ret := make([]*Node, 0, len(n.Children))
	for _, cid := range n.Children {
		ret = append(ret, t.nodes[cid])
	}
	return ret, nil
}

// BranchPoints lists every node with more than one child, in creation order.
func (t *Tree) BranchPoints() []*Node {
	var ret []*Node
	for _, id := range t.order {
		if n := t.nodes[id]; n.IsBranchPoint() {
			ret = append(ret, n)
		}
	}
	return ret
}

// Leaves lists nodes without children, in creation order.
func (t *Tree) Leaves() []*Node {
	var ret []*Node
	for _, id := range t.order {
		if n := t.nodes[id]; len(n.Children) == 0 {
			ret = append(ret, n)
		}
	}
	return ret
}

// SetFlag marks or unmarks id as a checkpoint.
func (t *Tree) SetFlag(id string, flagged bool) error {
	n, ok := t.nodes[id]
	if !ok {
		return notFound(id)
	}
	n.Flagged = flagged
	return nil
}

// Edit replaces the content of id. The root sentinel cannot be edited.
func (t *Tree) Edit(id string, content string) error {
	n, ok := t.nodes[id]
	if !ok {
		return notFound(id)
	}
	if id == t.rootID {
		return errors.Wrap(ErrInvalidOperation, "edit root")
	}
	n.Content = content
	return nil
}

// SetMetadata replaces the metadata of id with a copy of md.
func (t *Tree) SetMetadata(id string, md Metadata) error {
	n, ok := t.nodes[id]
	if !ok {
		return notFound(id)
	}
	n.Metadata = md.Clone()
	return nil
}

// walkToRoot follows parent links from id. Every step visits a new node, so
// the walk ends after at most len(nodes) steps even on corrupted input.
func walkToRoot(nodes map[string]*Node, id string) ([]*Node, error) {
	var path []*Node
	seen := make(map[string]struct{})
	for cur := id; ; {
		n, ok := nodes[cur]
		if !ok {
			return nil, corrupt("dangling parent reference %q", cur)
		}
		if _, dup := seen[cur]; dup {
			return nil, corrupt("cycle through node %q", cur)
		}
		seen[cur] = struct{}{}
		path = append(path, n)
		if n.IsRoot() {
			break
		}
		cur = n.ParentID
	}
	slices.Reverse(path)
	return path, nil
}
