package tree

import "sort"

// ActivePath resolves the root-to-leaf path over a flat node collection, for
// callers that hold loaded nodes but no Tree. An empty leafID selects the most
// recently created node; equal timestamps go to the node later in nodes.
func ActivePath(nodes []*Node, leafID string) ([]*Node, error) {
	if len(nodes) == 0 {
		return nil, nil
	}
	index, err := indexNodes(nodes)
	if err != nil {
		return nil, err
	}
	if leafID == "" {
		leafID = latest(nodes).ID
	}
	if _, ok := index[leafID]; !ok {
		return nil, notFound(leafID)
	}
	return walkToRoot(index, leafID)
}

// MainPath returns the deepest root-to-leaf path. When several branches are
// equally deep the earliest-created child wins at every level.
func MainPath(nodes []*Node) ([]*Node, error) {
	if len(nodes) == 0 {
		return nil, nil
	}
	index, err := indexNodes(nodes)
	if err != nil {
		return nil, err
	}
	root, children, err := linkChildren(nodes, index)
	if err != nil {
		return nil, err
	}

	// pre-order with an explicit stack; reversed, it lists children before parents
	var order []string
	stack := []string{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, id)
		stack = append(stack, children[id]...)
	}
	if len(order) != len(nodes) {
		return nil, corrupt("%d of %d nodes unreachable from root", len(nodes)-len(order), len(nodes))
	}

	height := make(map[string]int, len(order))
	deepest := make(map[string]string, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		h := 0
		for _, c := range children[id] {
			if height[c] > h {
				h = height[c]
				deepest[id] = c
			}
		}
		height[id] = h + 1
	}

	path := make([]*Node, 0, height[root])
	for id := root; id != ""; id = deepest[id] {
		path = append(path, index[id])
	}
	return path, nil
}

// CollapseToCheckpoints builds a reduced display view holding the root,
// flagged nodes and leaves. Each kept node is re-parented to its nearest kept
// ancestor. The result is a detached copy and must never be saved back: it
// drops every node in between by construction.
func CollapseToCheckpoints(nodes []*Node) []*Node {
	index := make(map[string]*Node, len(nodes))
	hasChild := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		index[n.ID] = n
		if !n.IsRoot() {
			hasChild[n.ParentID] = true
		}
	}

	keep := make(map[string]bool)
	for _, n := range nodes {
		if n.IsRoot() || n.Flagged || !hasChild[n.ID] {
			keep[n.ID] = true
		}
	}

	var ret []*Node
	byID := make(map[string]*Node)
	for _, n := range nodes {
		if !keep[n.ID] {
			continue
		}
		c := n.clone()
		c.Children = nil
		c.ParentID = nearestKept(index, keep, n)
		ret = append(ret, c)
		byID[c.ID] = c
	}
	for _, c := range ret {
		if p, ok := byID[c.ParentID]; ok {
			p.Children = append(p.Children, c.ID)
		}
	}
	return ret
}

func nearestKept(index map[string]*Node, keep map[string]bool, n *Node) string {
	seen := map[string]bool{n.ID: true}
	for cur := n; !cur.IsRoot(); {
		pid := cur.ParentID
		if keep[pid] {
			return pid
		}
		p, ok := index[pid]
		if !ok || seen[pid] {
			return ""
		}
		seen[pid] = true
		cur = p
	}
	return ""
}

// ToLinks derives parent/child edges for graph renderers. Links are never
// stored on their own; the parent ids are the only source of truth.
func ToLinks(nodes []*Node) []Link {
	ret := make([]Link, 0, len(nodes))
	for _, n := range nodes {
		if n.IsRoot() {
			continue
		}
		ret = append(ret, Link{Source: n.ParentID, Target: n.ID})
	}
	return ret
}

type Link struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

func indexNodes(nodes []*Node) (map[string]*Node, error) {
	index := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			return nil, corrupt("node with empty id")
		}
		if _, dup := index[n.ID]; dup {
			return nil, corrupt("duplicate node id %q", n.ID)
		}
		index[n.ID] = n
	}
	return index, nil
}

// linkChildren finds the single root and derives children lists from parent
// ids alone. Siblings are ordered by timestamp, then by position in nodes.
func linkChildren(nodes []*Node, index map[string]*Node) (string, map[string][]string, error) {
	pos := make(map[string]int, len(nodes))
	for i, n := range nodes {
		pos[n.ID] = i
	}

	var roots []string
	children := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		if n.IsRoot() {
			roots = append(roots, n.ID)
			continue
		}
		if n.ParentID == n.ID {
			return "", nil, corrupt("node %q is its own parent", n.ID)
		}
		if _, ok := index[n.ParentID]; !ok {
			return "", nil, corrupt("node %q has dangling parent %q", n.ID, n.ParentID)
		}
		children[n.ParentID] = append(children[n.ParentID], n.ID)
	}
	if len(roots) != 1 {
		return "", nil, corrupt("expected exactly one root, found %d", len(roots))
	}

	for _, ids := range children {
		sort.SliceStable(ids, func(i, j int) bool {
			a, b := index[ids[i]], index[ids[j]]
			if !a.Timestamp.Equal(b.Timestamp) {
				return a.Timestamp.Before(b.Timestamp)
			}
			return pos[a.ID] < pos[b.ID]
		})
	}
	return roots[0], children, nil
}

func latest(nodes []*Node) *Node {
	best := nodes[0]
	for _, n := range nodes[1:] {
		if !n.Timestamp.Before(best.Timestamp) {
			best = n
		}
	}
	return best
}

// sortedByCreation orders nodes by timestamp, keeping input order for ties.
func sortedByCreation(nodes []*Node) []*Node {
	ret := append([]*Node(nil), nodes...)
	sort.SliceStable(ret, func(i, j int) bool {
		return ret[i].Timestamp.Before(ret[j].Timestamp)
	})
	return ret
}
