package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/udisondev/geostream/internal/geom"
	"github.com/udisondev/geostream/internal/octree"
	"github.com/udisondev/geostream/internal/store"
)

// Cube returns an axis-aligned cube spanning lo..hi on every axis.
func Cube(lo, hi float64) geom.AABB {
	return geom.NewAABB(r3.Vector{X: lo, Y: lo, Z: lo}, r3.Vector{X: hi, Y: hi, Z: hi})
}

// DeepTree builds a tree over a 1600-unit cube whose first octant chain
// reaches octree.MaxDepth; every other node is an empty leaf.
func DeepTree(tb testing.TB) *octree.Tree {
	tb.Helper()
	items := []octree.Item{
		{ID: "a", Bounds: Cube(1, 2)},
		{ID: "b", Bounds: Cube(3, 4)},
	}
	tree, err := octree.NewBuilder(1).Build(Cube(0, 1600), items)
	if err != nil {
		tb.Fatalf("building tree: %v", err)
	}
	return tree
}

// Payload returns the fixture payload stored for nodeID.
func Payload(nodeID int) []byte {
	return []byte(fmt.Sprintf("mesh:%d", nodeID))
}

// SeedNodes stores Payload(id) for every id under its node key.
func SeedNodes(tb testing.TB, s store.Store, ids ...int) {
	tb.Helper()
	for _, id := range ids {
		if err := s.Put(context.Background(), store.NodeKey(id), Payload(id)); err != nil {
			tb.Fatalf("seeding node %d: %v", id, err)
		}
	}
}

// SeedPopulated stores payloads for every node of tree that holds items.
// Returns the seeded IDs.
func SeedPopulated(tb testing.TB, s store.Store, tree *octree.Tree) []int {
	tb.Helper()
	var ids []int
	for _, n := range tree.Nodes() {
		if len(n.Items) > 0 {
			ids = append(ids, n.ID)
		}
	}
	SeedNodes(tb, s, ids...)
	return ids
}
