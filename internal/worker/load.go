package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/udisondev/geostream/internal/store"
)

// DefaultQueueSize is the inbox capacity used when a config leaves it zero.
const DefaultQueueSize = 256

// LoadConfig parametrizes one tier's load worker.
type LoadConfig struct {
	Tier int
	// CacheBound caps the FIFO payload cache; 0 disables it.
	CacheBound int
	QueueSize  int
}

// DefaultLoadConfig returns the standard configuration for tier:
// no cache for tier 2, 50 entries for tier 3, 30 for tier 4.
func DefaultLoadConfig(tier int) LoadConfig {
	cfg := LoadConfig{Tier: tier, QueueSize: DefaultQueueSize}
	switch tier {
	case 3:
		cfg.CacheBound = 50
	case 4:
		cfg.CacheBound = 30
	}
	return cfg
}

// LoadStats are the counters of one load worker.
type LoadStats struct {
	Tier      int `json:"tier"`
	Requests  int `json:"requests"`
	Loaded    int `json:"loaded"`
	CacheHits int `json:"cacheHits"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
	CacheSize int `json:"cacheSize"`
	Evictions int `json:"evictions"`
	Queued    int `json:"queued"`
}

type loadMsg struct {
	requestID string
	nodeID    int
	nodeIDs   []int
	batch     bool
	priority  float64

	statsReply chan LoadStats
}

// LoadWorker fetches node payloads for one tier. Requests are served lowest
// priority first; completion order across requests is not guaranteed.
type LoadWorker struct {
	cfg   LoadConfig
	store store.Store
	sink  chan<- Response
	inbox chan loadMsg

	stopped atomic.Bool

	// Owned by the Run goroutine.
	queue queue[loadMsg]
	cache *fifoCache
	stats LoadStats
}

// NewLoadWorker creates a worker that reads from s and reports to sink.
func NewLoadWorker(cfg LoadConfig, s store.Store, sink chan<- Response) *LoadWorker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &LoadWorker{
		cfg:   cfg,
		store: s,
		sink:  sink,
		inbox: make(chan loadMsg, cfg.QueueSize),
		cache: newFIFOCache(cfg.CacheBound),
		stats: LoadStats{Tier: cfg.Tier},
	}
}

// Tier returns the tier this worker serves.
func (w *LoadWorker) Tier() int {
	return w.cfg.Tier
}

// RequestLoad enqueues a single load without blocking. The answer arrives on
// the sink as KindLoaded, KindSkipped or KindFailed.
func (w *LoadWorker) RequestLoad(requestID string, nodeID int, priority float64) error {
	return w.enqueue(loadMsg{requestID: requestID, nodeID: nodeID, priority: priority})
}

// RequestLoadBatch enqueues a batch without blocking. Items are processed
// sequentially and answered with one KindBatchLoaded response.
func (w *LoadWorker) RequestLoadBatch(requestID string, nodeIDs []int) error {
	ids := append([]int(nil), nodeIDs...)
	return w.enqueue(loadMsg{requestID: requestID, nodeIDs: ids, batch: true})
}

func (w *LoadWorker) enqueue(m loadMsg) error {
	if w.stopped.Load() {
		return fmt.Errorf("%w: tier %d worker stopped", ErrNotReady, w.cfg.Tier)
	}
	select {
	case w.inbox <- m:
		return nil
	default:
		return fmt.Errorf("%w: tier %d inbox full", ErrNotReady, w.cfg.Tier)
	}
}

// Stats asks the running worker for its counters.
func (w *LoadWorker) Stats(ctx context.Context) (LoadStats, error) {
	if w.stopped.Load() {
		return LoadStats{}, ErrNotReady
	}
	reply := make(chan LoadStats, 1)
	select {
	case w.inbox <- loadMsg{statsReply: reply}:
	case <-ctx.Done():
		return LoadStats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return LoadStats{}, ctx.Err()
	}
}

// Run processes requests until ctx is cancelled. Requests accepted before Run
// starts are served once it does.
func (w *LoadWorker) Run(ctx context.Context) error {
	defer w.stopped.Store(true)

	slog.Info("mesh load worker started", "tier", w.cfg.Tier, "cacheBound", w.cfg.CacheBound)

	for {
		if w.queue.len() == 0 {
			select {
			case <-ctx.Done():
				slog.Info("mesh load worker stopping", "tier", w.cfg.Tier)
				return ctx.Err()
			case m := <-w.inbox:
				w.accept(m)
			}
			continue
		}

		w.drain()
		if ctx.Err() != nil || !w.process(ctx, w.queue.pop()) {
			slog.Info("mesh load worker stopping", "tier", w.cfg.Tier)
			return ctx.Err()
		}
	}
}

func (w *LoadWorker) accept(m loadMsg) {
	if m.statsReply != nil {
		s := w.stats
		s.CacheSize = w.cache.len()
		s.Queued = w.queue.len()
		m.statsReply <- s
		return
	}
	w.queue.push(m.priority, m)
}

func (w *LoadWorker) drain() {
	for {
		select {
		case m := <-w.inbox:
			w.accept(m)
		default:
			return
		}
	}
}

// process serves one queued request. Returns false if ctx ended while
// delivering the response.
func (w *LoadWorker) process(ctx context.Context, m loadMsg) bool {
	if !m.batch {
		return w.emit(ctx, w.load(ctx, m.requestID, m.nodeID))
	}

	batch := &Batch{
		Results:    make([]Response, 0, len(m.nodeIDs)),
		TotalCount: len(m.nodeIDs),
	}
	for _, id := range m.nodeIDs {
		r := w.load(ctx, m.requestID, id)
		switch r.Kind {
		case KindLoaded:
			batch.SuccessCount++
		case KindSkipped:
			batch.SkippedCount++
		case KindFailed:
			batch.Err = multierr.Append(batch.Err, r.Err)
		}
		batch.Results = append(batch.Results, r)
	}

	slog.Debug("mesh batch loaded",
		"tier", w.cfg.Tier,
		"requestID", m.requestID,
		"success", batch.SuccessCount,
		"skipped", batch.SkippedCount,
		"total", batch.TotalCount)

	return w.emit(ctx, Response{
		Kind:      KindBatchLoaded,
		RequestID: m.requestID,
		Tier:      w.cfg.Tier,
		Batch:     batch,
	})
}

// load resolves one node: cache first, then the store.
func (w *LoadWorker) load(ctx context.Context, requestID string, nodeID int) Response {
	w.stats.Requests++
	resp := Response{RequestID: requestID, Tier: w.cfg.Tier, NodeID: nodeID}

	if p, ok := w.cache.get(nodeID); ok {
		w.stats.CacheHits++
		w.stats.Loaded++
		resp.Kind = KindLoaded
		resp.Payload = p
		resp.FromCache = true
		return resp
	}

	key := store.NodeKey(nodeID)
	payload, ok, err := w.store.Get(ctx, key)
	switch {
	case err != nil:
		if !errors.Is(err, store.ErrAccess) {
			err = store.WrapAccess("get", key, err)
		}
		w.stats.Errors++
		slog.Warn("mesh load failed", "tier", w.cfg.Tier, "nodeID", nodeID, "requestID", requestID, "error", err)
		resp.Kind = KindFailed
		resp.Err = err
	case !ok:
		w.stats.Skipped++
		slog.Debug("mesh skipped", "tier", w.cfg.Tier, "nodeID", nodeID, "reason", ReasonNoMeshData)
		resp.Kind = KindSkipped
		resp.Reason = ReasonNoMeshData
	default:
		w.stats.Evictions += w.cache.put(nodeID, payload)
		w.stats.Loaded++
		resp.Kind = KindLoaded
		resp.Payload = payload
	}
	return resp
}

func (w *LoadWorker) emit(ctx context.Context, r Response) bool {
	select {
	case w.sink <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
