package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
)

// Disposal defaults.
const (
	DefaultDisposalSoftCap       = 1000
	DefaultDisposalEvictFraction = 0.2
)

// DisposalConfig parametrizes the disposal worker.
type DisposalConfig struct {
	QueueSize int
	// SoftCap bounds the disposed-node set kept for statistics.
	SoftCap int
	// EvictFraction of the oldest entries is dropped once SoftCap is exceeded.
	EvictFraction float64
	// Latency simulates release work when no Releaser is configured.
	Latency time.Duration
	// YieldDelay is slept between items after yielding the processor.
	YieldDelay time.Duration
}

// DefaultDisposalConfig returns the standard disposal configuration.
func DefaultDisposalConfig() DisposalConfig {
	return DisposalConfig{
		QueueSize:     DefaultQueueSize,
		SoftCap:       DefaultDisposalSoftCap,
		EvictFraction: DefaultDisposalEvictFraction,
	}
}

// Releaser frees the resources held for a node (GPU buffers, scene objects).
type Releaser interface {
	Release(ctx context.Context, nodeID int) error
}

// ReleaserFunc adapts a function to Releaser.
type ReleaserFunc func(ctx context.Context, nodeID int) error

// Release implements Releaser.
func (f ReleaserFunc) Release(ctx context.Context, nodeID int) error {
	return f(ctx, nodeID)
}

// DisposalStats are the counters of the disposal worker.
type DisposalStats struct {
	Queued    int `json:"queued"`
	Disposed  int `json:"disposed"`
	Repeats   int `json:"repeats"`
	SetSize   int `json:"setSize"`
	Evictions int `json:"evictions"`
	Errors    int `json:"errors"`
}

type disposeMsg struct {
	requestID string
	nodeID    int
	nodeIDs   []int
	batch     bool
	priority  float64

	statsReply chan DisposalStats
}

// DisposalWorker releases nodes strictly in priority order, lowest first,
// with equal priorities served in submission order.
type DisposalWorker struct {
	cfg      DisposalConfig
	releaser Releaser
	sink     chan<- Response
	inbox    chan disposeMsg

	stopped atomic.Bool

	// Owned by the Run goroutine.
	queue    queue[disposeMsg]
	disposed *disposedSet
	stats    DisposalStats
}

// NewDisposalWorker creates a disposal worker. A nil releaser makes every
// disposal a simulated release taking cfg.Latency.
func NewDisposalWorker(cfg DisposalConfig, releaser Releaser, sink chan<- Response) *DisposalWorker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.SoftCap <= 0 {
		cfg.SoftCap = DefaultDisposalSoftCap
	}
	if cfg.EvictFraction <= 0 || cfg.EvictFraction > 1 {
		cfg.EvictFraction = DefaultDisposalEvictFraction
	}
	return &DisposalWorker{
		cfg:      cfg,
		releaser: releaser,
		sink:     sink,
		inbox:    make(chan disposeMsg, cfg.QueueSize),
		disposed: newDisposedSet(cfg.SoftCap, cfg.EvictFraction),
	}
}

// RequestDispose enqueues one disposal without blocking.
func (w *DisposalWorker) RequestDispose(requestID string, nodeID int, priority float64) error {
	return w.enqueue(disposeMsg{requestID: requestID, nodeID: nodeID, priority: priority})
}

// RequestDisposeBatch enqueues a batch at priority 0. It is answered with a
// single KindBatchDisposed response.
func (w *DisposalWorker) RequestDisposeBatch(requestID string, nodeIDs []int) error {
	ids := append([]int(nil), nodeIDs...)
	return w.enqueue(disposeMsg{requestID: requestID, nodeIDs: ids, batch: true})
}

func (w *DisposalWorker) enqueue(m disposeMsg) error {
	if w.stopped.Load() {
		return fmt.Errorf("%w: disposal worker stopped", ErrNotReady)
	}
	select {
	case w.inbox <- m:
		return nil
	default:
		return fmt.Errorf("%w: disposal inbox full", ErrNotReady)
	}
}

// Stats asks the running worker for its counters.
func (w *DisposalWorker) Stats(ctx context.Context) (DisposalStats, error) {
	if w.stopped.Load() {
		return DisposalStats{}, ErrNotReady
	}
	reply := make(chan DisposalStats, 1)
	select {
	case w.inbox <- disposeMsg{statsReply: reply}:
	case <-ctx.Done():
		return DisposalStats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return DisposalStats{}, ctx.Err()
	}
}

// Run processes disposals until ctx is cancelled.
func (w *DisposalWorker) Run(ctx context.Context) error {
	defer w.stopped.Store(true)

	slog.Info("mesh disposal worker started", "softCap", w.cfg.SoftCap)

	for {
		if w.queue.len() == 0 {
			select {
			case <-ctx.Done():
				slog.Info("mesh disposal worker stopping")
				return ctx.Err()
			case m := <-w.inbox:
				w.accept(m)
			}
			continue
		}

		// Requests that arrived during the previous item compete for the
		// next slot.
		w.drain()
		if ctx.Err() != nil || !w.process(ctx, w.queue.pop()) {
			slog.Info("mesh disposal worker stopping")
			return ctx.Err()
		}
		w.yield(ctx)
	}
}

func (w *DisposalWorker) accept(m disposeMsg) {
	if m.statsReply != nil {
		s := w.stats
		s.Queued = w.queue.len()
		s.SetSize = w.disposed.len()
		s.Evictions = w.disposed.evictions
		m.statsReply <- s
		return
	}
	w.queue.push(m.priority, m)
}

func (w *DisposalWorker) drain() {
	for {
		select {
		case m := <-w.inbox:
			w.accept(m)
		default:
			return
		}
	}
}

func (w *DisposalWorker) yield(ctx context.Context) {
	runtime.Gosched()
	if w.cfg.YieldDelay <= 0 {
		return
	}
	t := time.NewTimer(w.cfg.YieldDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (w *DisposalWorker) process(ctx context.Context, m disposeMsg) bool {
	if !m.batch {
		return w.emit(ctx, w.dispose(ctx, m.requestID, m.nodeID))
	}

	batch := &Batch{
		Results:    make([]Response, 0, len(m.nodeIDs)),
		TotalCount: len(m.nodeIDs),
	}
	for _, id := range m.nodeIDs {
		r := w.dispose(ctx, m.requestID, id)
		if r.Kind == KindDisposed {
			batch.SuccessCount++
		} else {
			batch.Err = multierr.Append(batch.Err, r.Err)
		}
		batch.Results = append(batch.Results, r)
	}

	slog.Debug("mesh batch disposed",
		"requestID", m.requestID,
		"success", batch.SuccessCount,
		"total", batch.TotalCount)

	return w.emit(ctx, Response{
		Kind:      KindBatchDisposed,
		RequestID: m.requestID,
		Batch:     batch,
	})
}

func (w *DisposalWorker) dispose(ctx context.Context, requestID string, nodeID int) Response {
	resp := Response{RequestID: requestID, NodeID: nodeID}

	// Every request reaches the releaser; the disposed set only feeds stats.
	if err := w.release(ctx, nodeID); err != nil {
		w.stats.Errors++
		slog.Warn("mesh release failed", "nodeID", nodeID, "requestID", requestID, "error", err)
		resp.Kind = KindFailed
		resp.Err = fmt.Errorf("releasing node %d: %w", nodeID, err)
		return resp
	}

	if w.disposed.has(nodeID) {
		w.stats.Repeats++
	}
	w.disposed.add(nodeID)
	w.stats.Disposed++
	slog.Debug("mesh disposed", "nodeID", nodeID, "requestID", requestID)

	resp.Kind = KindDisposed
	return resp
}

func (w *DisposalWorker) release(ctx context.Context, nodeID int) error {
	if w.releaser != nil {
		return w.releaser.Release(ctx, nodeID)
	}
	if w.cfg.Latency <= 0 {
		return nil
	}
	t := time.NewTimer(w.cfg.Latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *DisposalWorker) emit(ctx context.Context, r Response) bool {
	select {
	case w.sink <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
