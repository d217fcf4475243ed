package lod

import (
	"slices"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/geostream/internal/geom"
	"github.com/udisondev/geostream/internal/octree"
	"github.com/udisondev/geostream/internal/residency"
)

func cube(lo, hi float64) geom.AABB {
	return geom.NewAABB(r3.Vector{X: lo, Y: lo, Z: lo}, r3.Vector{X: hi, Y: hi, Z: hi})
}

// deepTree returns a tree whose first octant chain reaches MaxDepth.
func deepTree(t *testing.T) *octree.Tree {
	t.Helper()
	items := []octree.Item{
		{ID: "a", Bounds: cube(1, 2)},
		{ID: "b", Bounds: cube(3, 4)},
	}
	tree, err := octree.NewBuilder(1).Build(cube(0, 1600), items)
	require.NoError(t, err)
	require.Equal(t, octree.MaxDepth, tree.Stats().MaxDepth)
	return tree
}

// chainNode returns the node at depth that holds both items.
func chainNode(t *testing.T, tree *octree.Tree, depth int) *octree.Node {
	t.Helper()
	for _, id := range tree.AtDepth(depth) {
		n, _ := tree.Node(id)
		if len(n.Items) == 2 {
			return n
		}
	}
	t.Fatalf("no populated node at depth %d", depth)
	return nil
}

// cameraAtFaceDistance places the camera on the -X side of n so that its
// estimated face distance equals faceDist, looking at the node.
func cameraAtFaceDistance(n *octree.Node, faceDist, maxDistance float64) Camera {
	centerDist := faceDist + EstimatedNodeSize(n.Depth, maxDistance)
	return Camera{
		Position:      n.Center.Sub(r3.Vector{X: centerDist}),
		ViewDirection: r3.Vector{X: 1},
	}
}

func containsOrder(orders []LoadOrder, id int) bool {
	for _, o := range orders {
		if o.NodeID == id {
			return true
		}
	}
	return false
}

func visibilityOf(vs []Visibility, id int) (Visibility, bool) {
	for _, v := range vs {
		if v.NodeID == id {
			return v, true
		}
	}
	return Visibility{}, false
}

func TestEvaluateNotReady(t *testing.T) {
	_, err := NewEngine(Config{}).Evaluate(nil, nil, Camera{}, DefaultThresholds())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestEvaluateRejectsInvertedThresholds(t *testing.T) {
	th := DefaultThresholds()
	th.Threshold30Percent, th.Threshold80Percent = th.Threshold80Percent, th.Threshold30Percent

	_, err := NewEngine(Config{}).Evaluate(deepTree(t), nil, Camera{}, th)
	assert.ErrorIs(t, err, ErrInvalidThresholds)
}

func TestDepth3LoadAndHysteresis(t *testing.T) {
	tree := deepTree(t)
	eng := NewEngine(Config{})
	th := DefaultThresholds()
	n := chainNode(t, tree, 3)
	loadThreshold := th.Threshold80Percent + th.BufferZone

	batch, err := eng.Evaluate(tree, residency.Snapshot{}, cameraAtFaceDistance(n, loadThreshold-1, th.MaxDistance), th)
	require.NoError(t, err)
	assert.True(t, containsOrder(batch.ToLoad, n.ID), "unloaded node inside threshold must load")

	batch, err = eng.Evaluate(tree, residency.Snapshot{}, cameraAtFaceDistance(n, loadThreshold+1, th.MaxDistance), th)
	require.NoError(t, err)
	assert.False(t, containsOrder(batch.ToLoad, n.ID), "unloaded node outside threshold stays unloaded")

	loaded := residency.Snapshot{n.ID: residency.Loaded}
	for _, factor := range []float64{1.0 + 1/loadThreshold, 1.05, 1.1, 1.19} {
		batch, err = eng.Evaluate(tree, loaded, cameraAtFaceDistance(n, loadThreshold*factor, th.MaxDistance), th)
		require.NoError(t, err)
		assert.NotContains(t, batch.ToUnload, n.ID, "no unload at %.3fx threshold", factor)
		assert.False(t, containsOrder(batch.ToLoad, n.ID))
	}

	batch, err = eng.Evaluate(tree, loaded, cameraAtFaceDistance(n, loadThreshold*1.2+1, th.MaxDistance), th)
	require.NoError(t, err)
	assert.Contains(t, batch.ToUnload, n.ID)
}

func TestDepth4UsesThirtyPercentBand(t *testing.T) {
	tree := deepTree(t)
	eng := NewEngine(Config{})
	th := DefaultThresholds()
	n := chainNode(t, tree, 4)
	loadThreshold := th.Threshold30Percent + th.BufferZone

	batch, err := eng.Evaluate(tree, nil, cameraAtFaceDistance(n, loadThreshold-1, th.MaxDistance), th)
	require.NoError(t, err)
	assert.True(t, containsOrder(batch.ToLoad, n.ID))

	loaded := residency.Snapshot{n.ID: residency.Loaded}
	batch, err = eng.Evaluate(tree, loaded, cameraAtFaceDistance(n, loadThreshold*1.1, th.MaxDistance), th)
	require.NoError(t, err)
	assert.NotContains(t, batch.ToUnload, n.ID)

	far := cameraAtFaceDistance(n, loadThreshold*1.3, th.MaxDistance)
	batch, err = eng.Evaluate(tree, loaded, far, th)
	require.NoError(t, err)
	assert.Contains(t, batch.ToUnload, n.ID)

	m := Measure(n, far.Position, far.ViewDirection, th.MaxDistance)
	require.Contains(t, batch.UnloadPriority, n.ID)
	assert.InDelta(t, m.Priority, batch.UnloadPriority[n.ID], 1e-9)
}

func TestDepth2NeverUnloaded(t *testing.T) {
	tree := deepTree(t)
	eng := NewEngine(Config{})

	allLoaded := residency.Snapshot{}
	for _, n := range tree.Nodes() {
		allLoaded[n.ID] = residency.Loaded
	}
	depth2 := tree.AtDepth(2)

	thresholds := []Thresholds{
		DefaultThresholds(),
		{MaxDistance: 10, Threshold30Percent: 1, Threshold80Percent: 2},
		{MaxDistance: 1e6, Threshold30Percent: 0, Threshold80Percent: 0.5, BufferZone: 0},
	}
	positions := []r3.Vector{{}, {X: 1e5, Y: -1e5, Z: 3e4}, {X: -500, Y: 800, Z: 1600}}

	for _, th := range thresholds {
		for _, pos := range positions {
			batch, err := eng.Evaluate(tree, allLoaded, Camera{Position: pos, ViewDirection: r3.Vector{Z: -1}, Speed: 100}, th)
			require.NoError(t, err)
			for _, id := range depth2 {
				assert.NotContains(t, batch.ToUnload, id)
				v, ok := visibilityOf(batch.Visibility, id)
				require.True(t, ok)
				assert.True(t, v.Visible, "depth-2 nodes are always visible")
			}
		}
	}
}

func TestDepth2LoadsRegardlessOfDistance(t *testing.T) {
	tree := deepTree(t)
	batch, err := NewEngine(Config{}).Evaluate(tree, nil, Camera{Position: r3.Vector{X: 1e7}}, DefaultThresholds())
	require.NoError(t, err)

	for _, id := range tree.AtDepth(2) {
		assert.True(t, containsOrder(batch.ToLoad, id))
	}
	for _, o := range batch.ToLoad {
		assert.Equal(t, 2, o.Tier, "only the baseline tier is wanted from far away")
	}
}

func TestShallowDepthsIgnored(t *testing.T) {
	tree := deepTree(t)
	batch, err := NewEngine(Config{}).Evaluate(tree, nil, Camera{}, DefaultThresholds())
	require.NoError(t, err)

	for _, o := range batch.ToLoad {
		assert.GreaterOrEqual(t, o.Tier, MinTier)
	}
	for _, id := range slices.Concat(tree.AtDepth(0), tree.AtDepth(1)) {
		assert.False(t, containsOrder(batch.ToLoad, id))
	}
}

func TestVisibilityHidesWithoutUnloading(t *testing.T) {
	tree := deepTree(t)
	eng := NewEngine(Config{})
	th := DefaultThresholds()
	n := chainNode(t, tree, 3)
	loadThreshold := th.Threshold80Percent + th.BufferZone
	loaded := residency.Snapshot{n.ID: residency.Loaded}

	batch, err := eng.Evaluate(tree, loaded, cameraAtFaceDistance(n, loadThreshold*1.1, th.MaxDistance), th)
	require.NoError(t, err)
	v, ok := visibilityOf(batch.Visibility, n.ID)
	require.True(t, ok)
	assert.False(t, v.Visible)
	assert.InDelta(t, loadThreshold*1.1, v.Distance, 1e-6)
	assert.NotContains(t, batch.ToUnload, n.ID)

	batch, err = eng.Evaluate(tree, loaded, cameraAtFaceDistance(n, th.Threshold80Percent, th.MaxDistance), th)
	require.NoError(t, err)
	v, ok = visibilityOf(batch.Visibility, n.ID)
	require.True(t, ok)
	assert.True(t, v.Visible)

	_, ok = visibilityOf(batch.Visibility, chainNode(t, tree, 4).ID)
	assert.False(t, ok, "visibility is reported for loaded nodes only")
}

func TestPriorityFormula(t *testing.T) {
	tree := deepTree(t)
	n := chainNode(t, tree, 3)
	const maxDistance = 1000.0

	pos := n.Center.Sub(r3.Vector{X: 400})
	m := Measure(n, pos, r3.Vector{X: 1}, maxDistance)

	assert.InDelta(t, 400, m.CenterDistance, 1e-9)
	assert.InDelta(t, 250, m.FaceDistance, 1e-9)
	assert.InDelta(t, 50+20+30*(1-0.4), m.Importance, 1e-9)
	assert.InDelta(t, 250-88, m.Priority, 1e-9)

	behind := Measure(n, pos, r3.Vector{X: -1}, maxDistance)
	assert.Greater(t, behind.Priority, m.Priority, "nodes behind the camera load later")

	onTop := Measure(n, n.Center, r3.Vector{X: 1}, maxDistance)
	assert.Equal(t, 0.0, onTop.FaceDistance)
	assert.InDelta(t, 20+30, onTop.Importance, 1e-9)
}

func TestToLoadSortedByPriority(t *testing.T) {
	tree := deepTree(t)
	batch, err := NewEngine(Config{}).Evaluate(tree, nil, Camera{Position: r3.Vector{X: -100}, ViewDirection: r3.Vector{X: 1}}, DefaultThresholds())
	require.NoError(t, err)
	require.NotEmpty(t, batch.ToLoad)

	for i := 1; i < len(batch.ToLoad); i++ {
		assert.LessOrEqual(t, batch.ToLoad[i-1].Priority, batch.ToLoad[i].Priority)
	}
}

func TestPredictivePrefetch(t *testing.T) {
	tree := deepTree(t)
	eng := NewEngine(Config{MovementSensitivity: 50})
	th := DefaultThresholds()
	target := chainNode(t, tree, 4)

	// Three ticks at speed 200 along +X land exactly on the target center,
	// which is still beyond its immediate load threshold.
	cam := Camera{
		Position:      target.Center.Sub(r3.Vector{X: 600}),
		ViewDirection: r3.Vector{X: 1},
		Speed:         200,
	}

	batch, err := eng.Evaluate(tree, nil, cam, th)
	require.NoError(t, err)
	require.False(t, containsOrder(batch.ToLoad, target.ID))
	require.NotEmpty(t, batch.Predictive)

	var found *LoadOrder
	for i := range batch.Predictive {
		if batch.Predictive[i].NodeID == target.ID {
			found = &batch.Predictive[i]
		}
	}
	require.NotNil(t, found)
	assert.InDelta(t, 1000, found.Priority, 1e-9)
	assert.Equal(t, 4, found.Tier)

	for _, p := range batch.Predictive {
		assert.False(t, containsOrder(batch.ToLoad, p.NodeID), "immediate loads are not repeated as predictive")
		assert.GreaterOrEqual(t, p.Priority, 1000.0)
	}

	for _, state := range []residency.State{residency.LoadPending, residency.Loaded, residency.UnloadPending} {
		res := residency.Snapshot{target.ID: state}
		batch, err = eng.Evaluate(tree, res, cam, th)
		require.NoError(t, err)
		assert.False(t, containsOrder(batch.Predictive, target.ID), "%s nodes are not prefetched", state)
	}
}

func TestPredictiveNeedsSpeed(t *testing.T) {
	tree := deepTree(t)
	eng := NewEngine(Config{MovementSensitivity: 50})
	target := chainNode(t, tree, 4)

	cam := Camera{Position: target.Center, ViewDirection: r3.Vector{X: 1}, Speed: 5}
	batch, err := eng.Evaluate(tree, nil, cam, DefaultThresholds())
	require.NoError(t, err)
	assert.Empty(t, batch.Predictive, "speed must exceed a tenth of the sensitivity")
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())

	bad := []Thresholds{
		{MaxDistance: 0, Threshold30Percent: 1, Threshold80Percent: 2},
		{MaxDistance: 10, Threshold30Percent: -1, Threshold80Percent: 2},
		{MaxDistance: 10, Threshold30Percent: 2, Threshold80Percent: 2},
		{MaxDistance: 10, Threshold30Percent: 1, Threshold80Percent: 11},
		{MaxDistance: 10, Threshold30Percent: 1, Threshold80Percent: 2, BufferZone: -3},
	}
	for _, th := range bad {
		assert.ErrorIs(t, th.Validate(), ErrInvalidThresholds, "%+v", th)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := NewEngine(Config{HysteresisFactor: 0.5}).Config()
	assert.Equal(t, DefaultConfig(), cfg)
}
