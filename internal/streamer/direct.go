package streamer

import (
	"context"
	"fmt"

	"github.com/udisondev/geostream/internal/lod"
	"github.com/udisondev/geostream/internal/octree"
	"github.com/udisondev/geostream/internal/residency"
	"github.com/udisondev/geostream/internal/worker"
)

// Direct requests go straight to a worker on behalf of a client that keeps
// its own residency. Their completions reach subscribers but never change
// the orchestrator's residency.

// LoadMesh asks the tier worker for nodeID. A zero tier is derived from the
// node's depth in the current tree.
func (s *Streamer) LoadMesh(ctx context.Context, requestID string, nodeID, tier int, priority float64) error {
	w, err := s.loaderFor(nodeID, tier)
	if err != nil {
		return err
	}
	return s.retry(ctx, func() error {
		return w.RequestLoad(requestID, nodeID, priority)
	})
}

// LoadMeshBatch asks one tier worker for several nodes at once. A zero tier
// is derived from the first node.
func (s *Streamer) LoadMeshBatch(ctx context.Context, requestID string, tier int, nodeIDs []int) error {
	if len(nodeIDs) == 0 {
		return fmt.Errorf("%w: empty batch", octree.ErrInvalidInput)
	}
	w, err := s.loaderFor(nodeIDs[0], tier)
	if err != nil {
		return err
	}
	return s.retry(ctx, func() error {
		return w.RequestLoadBatch(requestID, nodeIDs)
	})
}

// DisposeMesh queues nodeID for release.
func (s *Streamer) DisposeMesh(ctx context.Context, requestID string, nodeID int, priority float64) error {
	return s.retry(ctx, func() error {
		return s.disposer.RequestDispose(requestID, nodeID, priority)
	})
}

// DisposeBatch queues several nodes for release as one request.
func (s *Streamer) DisposeBatch(ctx context.Context, requestID string, nodeIDs []int) error {
	if len(nodeIDs) == 0 {
		return fmt.Errorf("%w: empty batch", octree.ErrInvalidInput)
	}
	return s.retry(ctx, func() error {
		return s.disposer.RequestDisposeBatch(requestID, nodeIDs)
	})
}

func (s *Streamer) loaderFor(nodeID, tier int) (*worker.LoadWorker, error) {
	if tier == 0 {
		tree := s.Tree()
		if tree == nil {
			return nil, fmt.Errorf("%w: tier of node %d unknown without a tree", ErrNotReady, nodeID)
		}
		n, ok := tree.Node(nodeID)
		if !ok {
			return nil, fmt.Errorf("%w: node %d not in tree", octree.ErrInvalidInput, nodeID)
		}
		tier = n.Depth
	}
	w, ok := s.loaders[tier]
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrInvalidTier, tier)
	}
	return w, nil
}

// Stats is a point-in-time view of the orchestrator and its workers.
type Stats struct {
	Generation       uint64               `json:"generation"`
	Ticks            int64                `json:"ticks"`
	Dispatched       int64                `json:"dispatched"`
	Retries          int64                `json:"retries"`
	DispatchFailures int64                `json:"dispatchFailures"`
	Stale            int64                `json:"stale"`
	InFlight         int                  `json:"inFlight"`
	Residency        map[string]int       `json:"residency"`
	Octree           *octree.Stats        `json:"octree,omitempty"`
	Camera           *lod.Camera          `json:"camera,omitempty"`
	Loaders          []worker.LoadStats   `json:"loaders"`
	Disposal         worker.DisposalStats `json:"disposal"`
}

// Stats collects counters from every worker. It fails with
// worker.ErrNotReady if a worker is not running.
func (s *Streamer) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	out := Stats{
		Generation: s.generation,
		InFlight:   len(s.inflight),
	}
	if s.tree != nil {
		ts := s.tree.Stats()
		out.Octree = &ts
	}
	if s.hasCamera {
		cam := s.camera
		out.Camera = &cam
	}
	s.mu.RUnlock()

	out.Ticks = s.ticks.Load()
	out.Dispatched = s.dispatched.Load()
	out.Retries = s.retries.Load()
	out.DispatchFailures = s.dispatchFailures.Load()
	out.Stale = s.stale.Load()

	out.Residency = make(map[string]int, 3)
	for st, n := range s.residency.Counts() {
		out.Residency[st.String()] = n
	}

	for tier := lod.MinTier; tier <= lod.MaxTier; tier++ {
		w, ok := s.loaders[tier]
		if !ok {
			continue
		}
		ls, err := w.Stats(ctx)
		if err != nil {
			return Stats{}, fmt.Errorf("tier %d stats: %w", tier, err)
		}
		out.Loaders = append(out.Loaders, ls)
	}

	ds, err := s.disposer.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("disposal stats: %w", err)
	}
	out.Disposal = ds
	return out, nil
}

// LoadedCount is the number of nodes currently resident.
func (s *Streamer) LoadedCount() int {
	return s.residency.Counts()[residency.Loaded]
}
