// Package streamer orchestrates progressive geometry streaming: it owns the
// octree, runs the LOD engine every tick, dispatches the resulting work to the
// mesh workers and applies their completions to residency and the scene.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/geostream/internal/geom"
	"github.com/udisondev/geostream/internal/lod"
	"github.com/udisondev/geostream/internal/octree"
	"github.com/udisondev/geostream/internal/residency"
	"github.com/udisondev/geostream/internal/store"
	"github.com/udisondev/geostream/internal/worker"
)

// ErrNotReady is returned while no octree has been built.
var ErrNotReady = errors.New("streamer not ready")

// ErrInvalidTier is returned for direct requests naming a tier without a worker.
var ErrInvalidTier = fmt.Errorf("%w: unknown tier", octree.ErrInvalidInput)

// Option customizes a Streamer.
type Option func(*Streamer)

// WithScene routes attach, detach and visibility updates to scene.
func WithScene(scene Scene) Option {
	return func(s *Streamer) { s.scene = scene }
}

// WithReleaser makes the disposal worker call r for every disposed node.
func WithReleaser(r worker.Releaser) Option {
	return func(s *Streamer) { s.releaser = r }
}

// Streamer is the orchestrator. Create it with New and drive it with Run.
type Streamer struct {
	cfg      Config
	scene    Scene
	releaser worker.Releaser

	engine    *lod.Engine
	residency *residency.Map
	loaders   map[int]*worker.LoadWorker
	disposer  *worker.DisposalWorker
	sink      chan worker.Response

	// tickMu serializes ticks with rebuilds so that a tick never marks
	// nodes of a tree it did not evaluate.
	tickMu sync.Mutex

	mu         sync.RWMutex
	tree       *octree.Tree
	generation uint64
	camera     lod.Camera
	hasCamera  bool
	thresholds lod.Thresholds
	visible    map[int]bool
	// inflight maps internally issued request IDs to the tree generation
	// they were issued for.
	inflight map[string]uint64
	seq      uint64

	listenersMu sync.RWMutex
	listeners   map[int]func(worker.Response)
	nextListen  int

	ticks            atomic.Int64
	dispatched       atomic.Int64
	retries          atomic.Int64
	dispatchFailures atomic.Int64
	stale            atomic.Int64
}

// New creates an orchestrator reading payloads from s. Workers are created
// immediately and start serving once Run is called.
func New(cfg Config, s store.Store, opts ...Option) *Streamer {
	cfg = cfg.withDefaults()
	st := &Streamer{
		cfg:        cfg,
		scene:      NopScene{},
		engine:     lod.NewEngine(cfg.Engine),
		residency:  residency.NewMap(),
		loaders:    make(map[int]*worker.LoadWorker, len(cfg.Loaders)),
		sink:       make(chan worker.Response, cfg.SinkSize),
		thresholds: cfg.Thresholds,
		visible:    make(map[int]bool),
		inflight:   make(map[string]uint64),
		listeners:  make(map[int]func(worker.Response)),
	}
	for _, opt := range opts {
		opt(st)
	}

	for tier, lc := range cfg.Loaders {
		lc.Tier = tier
		st.loaders[tier] = worker.NewLoadWorker(lc, s, st.sink)
	}
	st.disposer = worker.NewDisposalWorker(cfg.Disposal, st.releaser, st.sink)
	return st
}

// Run starts the workers, the response loop and the tick loop, and blocks
// until ctx is cancelled or one of them fails.
func (s *Streamer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, w := range s.loaders {
		g.Go(func() error { return ignoreCancel(w.Run(ctx)) })
	}
	g.Go(func() error { return ignoreCancel(s.disposer.Run(ctx)) })
	g.Go(func() error { return s.consume(ctx) })
	g.Go(func() error { return s.tickLoop(ctx) })

	slog.Info("streamer started", "tickInterval", s.cfg.TickInterval, "tiers", len(s.loaders))
	err := g.Wait()
	slog.Info("streamer stopped")
	return err
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Build constructs a new octree and makes it current. Residency and
// visibility are reset and every attached node is detached from the scene.
// On error the previous tree stays in place.
func (s *Streamer) Build(root geom.AABB, items []octree.Item, minSize float64) (*octree.Tree, error) {
	if minSize <= 0 {
		minSize = s.cfg.MinSize
	}
	tree, err := octree.NewBuilder(minSize).Build(root, items)
	if err != nil {
		return nil, fmt.Errorf("building octree: %w", err)
	}

	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	attached := s.residency.Snapshot()
	s.tree = tree
	s.generation++
	s.residency.Reset()
	clear(s.visible)
	gen := s.generation
	s.mu.Unlock()

	for id, st := range attached {
		if st == residency.Loaded || st == residency.UnloadPending {
			s.scene.Detach(id)
		}
	}

	stats := tree.Stats()
	slog.Info("octree replaced",
		"generation", gen,
		"nodes", stats.Nodes,
		"leaves", stats.Leaves,
		"maxDepth", stats.MaxDepth,
		"items", stats.Items)
	return tree, nil
}

// Tree returns the current octree, or nil before the first build.
func (s *Streamer) Tree() *octree.Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree
}

// Residency exposes the orchestrator's residency table.
func (s *Streamer) Residency() residency.Reader {
	return s.residency
}

// UpdateCamera sets the camera used by subsequent ticks.
func (s *Streamer) UpdateCamera(cam lod.Camera) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camera = cam
	s.hasCamera = true
}

// SetThresholds replaces the distance bands used by subsequent ticks.
func (s *Streamer) SetThresholds(th lod.Thresholds) error {
	if err := th.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds = th
	return nil
}

// Evaluate runs the engine against the current tree with a caller-supplied
// residency. Nothing is dispatched. A nil th uses the configured thresholds.
func (s *Streamer) Evaluate(res residency.Reader, cam lod.Camera, th *lod.Thresholds) (lod.Batch, error) {
	s.mu.RLock()
	tree := s.tree
	thresholds := s.thresholds
	s.mu.RUnlock()

	if tree == nil {
		return lod.Batch{}, ErrNotReady
	}
	if th != nil {
		thresholds = *th
	}
	return s.engine.Evaluate(tree, res, cam, thresholds)
}

// Subscribe registers fn for every worker completion, including those of
// requests issued by the tick loop. fn runs on the response loop and must not
// block. The returned func unregisters it.
func (s *Streamer) Subscribe(fn func(worker.Response)) (unsubscribe func()) {
	s.listenersMu.Lock()
	id := s.nextListen
	s.nextListen++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Streamer) notify(r worker.Response) {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	for _, fn := range s.listeners {
		fn(r)
	}
}

func (s *Streamer) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.mu.RLock()
			ready := s.hasCamera && s.tree != nil
			s.mu.RUnlock()
			if !ready {
				continue
			}
			if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("tick failed", "error", err)
			}
		}
	}
}

func (s *Streamer) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-s.sink:
			s.apply(r)
			s.notify(r)
		}
	}
}
