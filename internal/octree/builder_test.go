package octree

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/geostream/internal/geom"
)

func box(minX, minY, minZ, maxX, maxY, maxZ float64) geom.AABB {
	return geom.NewAABB(r3.Vector{X: minX, Y: minY, Z: minZ}, r3.Vector{X: maxX, Y: maxY, Z: maxZ})
}

func cube(lo, hi float64) geom.AABB {
	return box(lo, lo, lo, hi, hi, hi)
}

func randomItems(n int, seed uint64, worldSize float64) []Item {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b9))
	items := make([]Item, n)
	for i := range items {
		size := 0.5 + rng.Float64()*worldSize/20
		x := rng.Float64() * (worldSize - size)
		y := rng.Float64() * (worldSize - size)
		z := rng.Float64() * (worldSize - size)
		items[i] = Item{
			ID:     fmt.Sprintf("mesh-%d", i),
			Bounds: box(x, y, z, x+size, y+size, z+size),
		}
	}
	return items
}

func TestBuildNestedScenario(t *testing.T) {
	items := []Item{
		{ID: "A", Bounds: cube(1, 10)},
		{ID: "B", Bounds: cube(60, 70)},
		{ID: "C", Bounds: cube(40, 60)}, // straddles the center, fits no octant
	}

	tree, err := NewBuilder(0.1).Build(cube(0, 100), items)
	require.NoError(t, err)

	root := tree.Root()
	assert.Equal(t, 0, root.Depth)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, root.Items)
	require.Len(t, root.Children, 8)

	for i, cid := range root.Children {
		child, ok := tree.Node(cid)
		require.True(t, ok)
		assert.Equal(t, 1, child.Depth)
		assert.True(t, child.IsLeaf(), "child %d holds at most one item and must not split", i)
		for _, id := range child.Items {
			assert.NotEqual(t, "C", id)
		}
	}

	oct0, _ := tree.Node(root.Children[0])
	oct7, _ := tree.Node(root.Children[7])
	assert.Equal(t, []string{"A"}, oct0.Items)
	assert.Equal(t, []string{"B"}, oct7.Items)

	stats := tree.Stats()
	assert.Equal(t, 9, stats.Nodes)
	assert.Equal(t, 1, stats.MaxDepth)
	assert.Equal(t, 1, stats.PerDepth[0])
	assert.Equal(t, 8, stats.PerDepth[1])
	assert.Equal(t, 0, stats.Outside)
}

func TestBuildInvariants(t *testing.T) {
	items := randomItems(400, 7, 1000)
	tree, err := NewBuilder(1).Build(cube(0, 1000), items)
	require.NoError(t, err)
	require.Greater(t, tree.Len(), 1)

	for _, n := range tree.Nodes() {
		assert.True(t, len(n.Children) == 0 || len(n.Children) == 8,
			"node %d has %d children", n.ID, len(n.Children))
		assert.LessOrEqual(t, n.Depth, MaxDepth)

		if n.Parent == NoParent {
			assert.Equal(t, 0, n.ID)
			continue
		}
		parent, ok := tree.Parent(n.ID)
		require.True(t, ok)
		assert.Equal(t, parent.Depth+1, n.Depth)
		assert.True(t, parent.Bounds.Contains(n.Bounds))
		assert.Subset(t, parent.Items, n.Items, "node %d items must be a subset of parent %d", n.ID, parent.ID)
	}
}

func TestBuildSplitConditions(t *testing.T) {
	t.Run("single item never splits", func(t *testing.T) {
		tree, err := NewBuilder(0.1).Build(cube(0, 100), []Item{{ID: "a", Bounds: cube(1, 2)}})
		require.NoError(t, err)
		assert.Equal(t, 1, tree.Len())
		assert.True(t, tree.Root().IsLeaf())
	})

	t.Run("min size stops splitting", func(t *testing.T) {
		items := []Item{
			{ID: "a", Bounds: cube(0.1, 0.2)},
			{ID: "b", Bounds: cube(0.6, 0.7)},
		}
		tree, err := NewBuilder(1).Build(cube(0, 1), items)
		require.NoError(t, err)
		assert.Equal(t, 1, tree.Len(), "root extent 1 is not > min size 1")
	})

	t.Run("depth capped at MaxDepth", func(t *testing.T) {
		items := []Item{
			{ID: "a", Bounds: cube(0.001, 0.002)},
			{ID: "b", Bounds: cube(0.003, 0.004)},
		}
		tree, err := NewBuilder(0).Build(cube(0, 1024), items)
		require.NoError(t, err)
		assert.Equal(t, MaxDepth, tree.Stats().MaxDepth)
		for _, id := range tree.AtDepth(MaxDepth) {
			n, _ := tree.Node(id)
			assert.True(t, n.IsLeaf())
		}
	})
}

func TestBuildEmptyAndOutside(t *testing.T) {
	tree, err := NewBuilder(1).Build(cube(0, 10), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tree.Len())
	assert.Empty(t, tree.Root().Items)

	tree, err = NewBuilder(1).Build(cube(0, 10), []Item{{ID: "far", Bounds: cube(20, 30)}})
	require.NoError(t, err)
	assert.Empty(t, tree.Root().Items)
	assert.Equal(t, 1, tree.Stats().Outside)
}

func TestBuildInvalidInput(t *testing.T) {
	b := NewBuilder(1)

	_, err := b.Build(box(10, 0, 0, 0, 10, 10), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = b.Build(cube(0, 10), []Item{{ID: "", Bounds: cube(1, 2)}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = b.Build(cube(0, 10), []Item{{ID: "nan", Bounds: box(math.NaN(), 0, 0, 1, 1, 1)}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = b.Build(cube(0, 10), []Item{{ID: "inverted", Bounds: cube(5, 1)}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBuildDeterministic(t *testing.T) {
	items := randomItems(200, 42, 500)
	b := NewBuilder(1)

	first, err := b.Build(cube(0, 500), items)
	require.NoError(t, err)
	second, err := b.Build(cube(0, 500), items)
	require.NoError(t, err)

	require.Equal(t, first.Len(), second.Len())
	assert.Equal(t, first.Nodes(), second.Nodes())
	assert.Equal(t, 0, second.Root().ID, "id counter restarts for every build")
}

func TestTreeWalkAndLookup(t *testing.T) {
	tree, err := NewBuilder(1).Build(cube(0, 1000), randomItems(100, 3, 1000))
	require.NoError(t, err)

	visited := 0
	tree.Walk(func(n *Node) bool {
		visited++
		return true
	})
	assert.Equal(t, tree.Len(), visited)

	for id, n := range tree.Nodes() {
		assert.Equal(t, id, n.ID, "arena index equals node id")
	}

	total := 0
	for d := 0; d <= MaxDepth; d++ {
		total += len(tree.AtDepth(d))
	}
	assert.Equal(t, tree.Len(), total)

	_, ok := tree.Node(-1)
	assert.False(t, ok)
	_, ok = tree.Node(tree.Len())
	assert.False(t, ok)
	_, ok = tree.Parent(0)
	assert.False(t, ok)

	rootOnly := 0
	tree.Walk(func(n *Node) bool {
		rootOnly++
		return false
	})
	assert.Equal(t, 1, rootOnly)
}
