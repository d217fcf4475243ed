package octree

// Stats summarizes a built tree. It backs the OctreeBuilt message.
type Stats struct {
	Nodes    int               `json:"nodes"`
	Leaves   int               `json:"leaves"`
	MaxDepth int               `json:"maxDepth"`
	PerDepth [MaxDepth + 1]int `json:"perDepth"`
	Items    int               `json:"items"`

	// Outside counts items that did not fit the root bounds and were dropped.
	Outside int `json:"outside"`
}

// Tree is an immutable octree stored as a flat arena indexed by node ID.
// It is safe for concurrent readers without locking.
type Tree struct {
	nodes   []Node
	byDepth [MaxDepth + 1][]int
	stats   Stats
}

func newTree(nodes []Node) *Tree {
	t := &Tree{nodes: nodes}
	for i := range nodes {
		n := &nodes[i]
		t.byDepth[n.Depth] = append(t.byDepth[n.Depth], n.ID)
		t.stats.PerDepth[n.Depth]++
		if n.IsLeaf() {
			t.stats.Leaves++
		}
		if n.Depth > t.stats.MaxDepth {
			t.stats.MaxDepth = n.Depth
		}
	}
	t.stats.Nodes = len(nodes)
	return t
}

// Root returns the root node.
func (t *Tree) Root() *Node {
	return &t.nodes[0]
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Node returns the node with the given ID.
func (t *Tree) Node(id int) (*Node, bool) {
	if id < 0 || id >= len(t.nodes) {
		return nil, false
	}
	return &t.nodes[id], true
}

// Parent returns the parent of id; false for the root or unknown IDs.
func (t *Tree) Parent(id int) (*Node, bool) {
	n, ok := t.Node(id)
	if !ok || n.Parent == NoParent {
		return nil, false
	}
	return &t.nodes[n.Parent], true
}

// Nodes returns the arena. Callers must not modify it.
func (t *Tree) Nodes() []Node {
	return t.nodes
}

// AtDepth returns IDs of all nodes at depth d in ascending order.
func (t *Tree) AtDepth(d int) []int {
	if d < 0 || d > MaxDepth {
		return nil
	}
	return t.byDepth[d]
}

// Walk visits nodes depth-first, pre-order. Returning false from fn skips the
// node's subtree.
func (t *Tree) Walk(fn func(n *Node) bool) {
	t.walk(0, fn)
}

func (t *Tree) walk(id int, fn func(n *Node) bool) {
	n := &t.nodes[id]
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		t.walk(c, fn)
	}
}

// Stats returns counters collected at build time.
func (t *Tree) Stats() Stats {
	return t.stats
}
