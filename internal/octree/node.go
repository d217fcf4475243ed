package octree

import (
	"github.com/golang/geo/r3"

	"github.com/udisondev/geostream/internal/geom"
)

// MaxDepth is the deepest tier of the hierarchy (0 = root).
const MaxDepth = 4

// NoParent marks the root's Parent index.
const NoParent = -1

// Item is a mesh bounding volume fed into the builder.
type Item struct {
	ID     string
	Bounds geom.AABB
}

// Node is one spatial partition. Nodes live in the Tree arena and reference
// each other by ID; a node never owns its parent.
type Node struct {
	ID     int
	Depth  int
	Bounds geom.AABB
	Center r3.Vector
	Extent r3.Vector

	// Items holds IDs of items whose box lies fully inside Bounds.
	Items []string

	// Children is empty or holds exactly 8 node IDs in octant order.
	Children []int
	Parent   int
}

// IsLeaf reports whether the node was not subdivided.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Tier returns the LOD tier served by this node; tiers equal depths.
func (n *Node) Tier() int {
	return n.Depth
}
