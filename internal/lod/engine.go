package lod

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/golang/geo/r3"

	"github.com/udisondev/geostream/internal/octree"
	"github.com/udisondev/geostream/internal/residency"
)

// ErrNotReady is returned when Evaluate runs before a tree exists.
var ErrNotReady = errors.New("octree not built")

const (
	// AlwaysResidentDepth is the baseline tier that is loaded everywhere and
	// never unloaded.
	AlwaysResidentDepth = 2

	MinTier = 2
	MaxTier = octree.MaxDepth
)

// Camera is the per-tick camera snapshot.
type Camera struct {
	Position      r3.Vector `json:"position"`
	ViewDirection r3.Vector `json:"viewDirection"`
	Speed         float64   `json:"speed"`
}

// LoadOrder asks the tier worker to load one node.
type LoadOrder struct {
	NodeID   int     `json:"nodeId"`
	Tier     int     `json:"tier"`
	Priority float64 `json:"priority"`
}

// Visibility is a presentation hint for a loaded node.
type Visibility struct {
	NodeID   int     `json:"nodeId"`
	Visible  bool    `json:"visible"`
	Distance float64 `json:"distance"`
}

// Batch is the output of one evaluation tick.
type Batch struct {
	ToLoad     []LoadOrder  `json:"toLoad"`
	ToUnload   []int        `json:"toUnload"`
	Visibility []Visibility `json:"visibility"`
	Predictive []LoadOrder  `json:"predictive"`

	// UnloadPriority holds the signed score of every node in ToUnload.
	UnloadPriority map[int]float64 `json:"-"`
}

// Empty reports whether the batch carries no work at all.
func (b Batch) Empty() bool {
	return len(b.ToLoad) == 0 && len(b.ToUnload) == 0 && len(b.Visibility) == 0 && len(b.Predictive) == 0
}

// Config tunes the engine. Zero fields fall back to DefaultConfig values.
type Config struct {
	// MovementSensitivity scales the speed above which prefetch kicks in
	// (speed must exceed 10% of it).
	MovementSensitivity float64 `yaml:"movement_sensitivity"`

	LookAheadTicks           float64 `yaml:"look_ahead_ticks"`
	HysteresisFactor         float64 `yaml:"hysteresis_factor"`
	PredictiveRadiusFraction float64 `yaml:"predictive_radius_fraction"`
	PredictivePenalty        float64 `yaml:"predictive_penalty"`
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		MovementSensitivity:      50,
		LookAheadTicks:           3,
		HysteresisFactor:         1.2,
		PredictiveRadiusFraction: 0.3,
		PredictivePenalty:        1000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MovementSensitivity <= 0 {
		c.MovementSensitivity = d.MovementSensitivity
	}
	if c.LookAheadTicks <= 0 {
		c.LookAheadTicks = d.LookAheadTicks
	}
	if c.HysteresisFactor < 1 {
		c.HysteresisFactor = d.HysteresisFactor
	}
	if c.PredictiveRadiusFraction <= 0 {
		c.PredictiveRadiusFraction = d.PredictiveRadiusFraction
	}
	if c.PredictivePenalty <= 0 {
		c.PredictivePenalty = d.PredictivePenalty
	}
	return c
}

// Engine computes load, unload, visibility and prefetch decisions.
// It keeps no per-tick state and never blocks.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine with cfg (zero fields take defaults).
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// EstimatedNodeSize approximates the distance from a node's center to its
// near face as a fixed fraction of maxDistance per tier.
func EstimatedNodeSize(depth int, maxDistance float64) float64 {
	switch depth {
	case 2:
		return maxDistance * 0.30
	case 3:
		return maxDistance * 0.15
	case 4:
		return maxDistance * 0.07
	default:
		return maxDistance * 0.10
	}
}

func depthBonus(depth int) float64 {
	switch depth {
	case 3:
		return 20
	case 4:
		return 10
	default:
		return 0
	}
}

// Metrics are the per-node quantities the policy works with.
type Metrics struct {
	CenterDistance float64
	FaceDistance   float64
	Importance     float64
	Priority       float64
}

// Measure computes distance, importance and priority of n for camera.
// viewDir must already be normalized.
func Measure(n *octree.Node, pos, viewDir r3.Vector, maxDistance float64) Metrics {
	toNode := n.Center.Sub(pos)
	centerDist := toNode.Norm()
	faceDist := math.Max(0, centerDist-EstimatedNodeSize(n.Depth, maxDistance))

	alignment := 0.0
	if centerDist > 0 {
		alignment = viewDir.Dot(toNode.Mul(1 / centerDist))
	}
	importance := 50*alignment + depthBonus(n.Depth) + 30*(1-math.Min(centerDist/maxDistance, 1))

	return Metrics{
		CenterDistance: centerDist,
		FaceDistance:   faceDist,
		Importance:     importance,
		Priority:       faceDist - importance,
	}
}

// Evaluate runs one decision tick. Residency entries missing from res read as
// Unloaded. Returns ErrNotReady when tree is nil and ErrInvalidThresholds for a
// malformed threshold set.
func (e *Engine) Evaluate(tree *octree.Tree, res residency.Reader, cam Camera, th Thresholds) (Batch, error) {
	if tree == nil || tree.Len() == 0 {
		return Batch{}, ErrNotReady
	}
	if err := th.Validate(); err != nil {
		return Batch{}, fmt.Errorf("evaluate: %w", err)
	}
	if res == nil {
		res = residency.Snapshot(nil)
	}

	viewDir := cam.ViewDirection.Normalize()
	batch := Batch{UnloadPriority: make(map[int]float64)}
	queued := make(map[int]struct{})

	for depth := MinTier; depth <= MaxTier; depth++ {
		for _, id := range tree.AtDepth(depth) {
			n, _ := tree.Node(id)
			m := Measure(n, cam.Position, viewDir, th.MaxDistance)
			state := res.State(id)

			switch e.decide(depth, state, m.FaceDistance, th) {
			case actionLoad:
				batch.ToLoad = append(batch.ToLoad, LoadOrder{NodeID: id, Tier: depth, Priority: m.Priority})
				queued[id] = struct{}{}
			case actionUnload:
				batch.ToUnload = append(batch.ToUnload, id)
				batch.UnloadPriority[id] = m.Priority
			}

			if state == residency.Loaded {
				batch.Visibility = append(batch.Visibility, Visibility{
					NodeID:   id,
					Visible:  visible(depth, m.FaceDistance, th),
					Distance: m.FaceDistance,
				})
			}
		}
	}

	if cam.Speed > 0.1*e.cfg.MovementSensitivity {
		batch.Predictive = e.predict(tree, res, cam, viewDir, th, queued)
	}

	sortOrders(batch.ToLoad)
	sortOrders(batch.Predictive)
	sort.SliceStable(batch.ToUnload, func(i, j int) bool {
		pi, pj := batch.UnloadPriority[batch.ToUnload[i]], batch.UnloadPriority[batch.ToUnload[j]]
		if pi != pj {
			return pi > pj
		}
		return batch.ToUnload[i] < batch.ToUnload[j]
	})

	slog.Debug("lod evaluated",
		"toLoad", len(batch.ToLoad),
		"toUnload", len(batch.ToUnload),
		"visibility", len(batch.Visibility),
		"predictive", len(batch.Predictive))

	return batch, nil
}

type action int

const (
	actionKeep action = iota
	actionLoad
	actionUnload
)

func (e *Engine) decide(depth int, state residency.State, faceDist float64, th Thresholds) action {
	if depth == AlwaysResidentDepth {
		if state == residency.Unloaded {
			return actionLoad
		}
		return actionKeep
	}

	threshold, ok := th.LoadThreshold(depth)
	if !ok {
		return actionKeep
	}
	switch {
	case state == residency.Unloaded && faceDist <= threshold:
		return actionLoad
	case state == residency.Loaded && faceDist > threshold*e.cfg.HysteresisFactor:
		return actionUnload
	default:
		return actionKeep
	}
}

func visible(depth int, faceDist float64, th Thresholds) bool {
	if depth == AlwaysResidentDepth {
		return true
	}
	threshold, ok := th.LoadThreshold(depth)
	return ok && faceDist <= threshold
}

// predict returns prefetch candidates around the camera's projected position.
// Only Unloaded nodes qualify; nodes already queued for an immediate load this
// tick are left out.
func (e *Engine) predict(tree *octree.Tree, res residency.Reader, cam Camera, viewDir r3.Vector, th Thresholds, queued map[int]struct{}) []LoadOrder {
	future := cam.Position.Add(viewDir.Mul(cam.Speed * e.cfg.LookAheadTicks))
	radius := e.cfg.PredictiveRadiusFraction * th.MaxDistance

	var out []LoadOrder
	for depth := MinTier; depth <= MaxTier; depth++ {
		for _, id := range tree.AtDepth(depth) {
			if _, ok := queued[id]; ok {
				continue
			}
			if res.State(id) != residency.Unloaded {
				continue
			}
			n, _ := tree.Node(id)
			d := n.Center.Distance(future)
			if d > radius {
				continue
			}
			out = append(out, LoadOrder{NodeID: id, Tier: depth, Priority: d + e.cfg.PredictivePenalty})
		}
	}
	return out
}

func sortOrders(orders []LoadOrder) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].Priority != orders[j].Priority {
			return orders[i].Priority < orders[j].Priority
		}
		return orders[i].NodeID < orders[j].NodeID
	})
}
