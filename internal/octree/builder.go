package octree

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/udisondev/geostream/internal/geom"
)

// ErrInvalidInput is returned when the root bounds or an item are malformed.
var ErrInvalidInput = errors.New("invalid octree input")

// DefaultMinSize is the smallest node extent that may still be subdivided.
const DefaultMinSize = 1.0

// Builder constructs octrees. It holds configuration only, so one Builder can
// run any number of builds, concurrently or not.
type Builder struct {
	minSize float64
}

// NewBuilder creates a builder. Nodes whose smallest extent is not greater
// than minSize are never split; minSize < 0 is treated as 0.
func NewBuilder(minSize float64) *Builder {
	if minSize < 0 {
		minSize = 0
	}
	return &Builder{minSize: minSize}
}

// MinSize returns the configured split threshold.
func (b *Builder) MinSize() float64 {
	return b.minSize
}

// Build creates a tree over items inside root. The input is validated
// up-front, so a failed build never produces a partial tree. An empty item
// list yields a single leaf root.
func (b *Builder) Build(root geom.AABB, items []Item) (*Tree, error) {
	if !root.Valid() {
		return nil, fmt.Errorf("%w: root bounds %s", ErrInvalidInput, root)
	}
	for i, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("%w: item #%d has no id", ErrInvalidInput, i)
		}
		if !it.Bounds.Valid() {
			return nil, fmt.Errorf("%w: item %q has no valid bounding box", ErrInvalidInput, it.ID)
		}
	}

	bs := &buildState{
		minSize: b.minSize,
		nodes:   make([]Node, 0, estimateNodes(len(items))),
	}
	bs.build(root, 0, NoParent, items)

	t := newTree(bs.nodes)
	t.stats.Items = len(items)
	t.stats.Outside = len(items) - len(bs.nodes[0].Items)

	slog.Debug("octree built",
		"nodes", t.stats.Nodes,
		"leaves", t.stats.Leaves,
		"maxDepth", t.stats.MaxDepth,
		"items", t.stats.Items,
		"outside", t.stats.Outside)

	return t, nil
}

// buildState is the per-build scratch space: the ID counter and the arena.
// It is discarded once the tree is assembled.
type buildState struct {
	minSize float64
	nextID  int
	nodes   []Node
}

// build creates the node for bounds and recurses into octants. IDs are
// assigned depth-first in pre-order, so ID == arena index.
func (s *buildState) build(bounds geom.AABB, depth, parent int, candidates []Item) int {
	id := s.nextID
	s.nextID++

	contained := make([]Item, 0, len(candidates))
	for _, it := range candidates {
		if bounds.Contains(it.Bounds) {
			contained = append(contained, it)
		}
	}

	ids := make([]string, len(contained))
	for i, it := range contained {
		ids[i] = it.ID
	}

	s.nodes = append(s.nodes, Node{
		ID:     id,
		Depth:  depth,
		Bounds: bounds,
		Center: bounds.Center(),
		Extent: bounds.Extent(),
		Items:  ids,
		Parent: parent,
	})

	if len(contained) > 1 && depth < MaxDepth && bounds.MinExtent() > s.minSize {
		children := make([]int, 0, 8)
		for _, oct := range bounds.Octants() {
			children = append(children, s.build(oct, depth+1, id, contained))
		}
		s.nodes[id].Children = children
	}

	return id
}

func estimateNodes(items int) int {
	n := 1 + items*2
	if n > 1<<16 {
		n = 1 << 16
	}
	return n
}
