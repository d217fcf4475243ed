package streamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"github.com/udisondev/geostream/internal/lod"
	"github.com/udisondev/geostream/internal/worker"
)

// TickReport summarizes what one tick dispatched.
type TickReport struct {
	Batch      lod.Batch
	Loads      int
	Prefetches int
	Unloads    int
	Failed     int
}

// Tick evaluates the current camera once and dispatches the decisions.
// Nodes are marked pending before dispatch; a dispatch that keeps failing
// reverts its node so a later tick can try again.
func (s *Streamer) Tick(ctx context.Context) (TickReport, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.RLock()
	tree, cam, th, gen := s.tree, s.camera, s.thresholds, s.generation
	s.mu.RUnlock()

	if tree == nil {
		return TickReport{}, ErrNotReady
	}

	batch, err := s.engine.Evaluate(tree, s.residency, cam, th)
	if err != nil {
		return TickReport{}, fmt.Errorf("evaluating tick: %w", err)
	}
	s.ticks.Add(1)

	report := TickReport{Batch: batch}
	s.applyVisibility(batch.Visibility)

	for _, o := range batch.ToLoad {
		if s.dispatchLoad(ctx, gen, o) {
			report.Loads++
		} else {
			report.Failed++
		}
	}
	for _, o := range batch.Predictive {
		if s.dispatchLoad(ctx, gen, o) {
			report.Prefetches++
		} else {
			report.Failed++
		}
	}
	// The disposal queue serves the lowest value first, so the score is
	// negated to release the least important node first.
	for _, id := range batch.ToUnload {
		if s.dispatchUnload(ctx, gen, id, -batch.UnloadPriority[id]) {
			report.Unloads++
		} else {
			report.Failed++
		}
	}

	if report.Loads+report.Prefetches+report.Unloads > 0 {
		slog.Debug("tick dispatched",
			"loads", report.Loads,
			"prefetches", report.Prefetches,
			"unloads", report.Unloads,
			"failed", report.Failed)
	}
	return report, nil
}

func (s *Streamer) applyVisibility(vs []lod.Visibility) {
	var changed []lod.Visibility

	s.mu.Lock()
	for _, v := range vs {
		prev, seen := s.visible[v.NodeID]
		if seen && prev == v.Visible {
			continue
		}
		s.visible[v.NodeID] = v.Visible
		changed = append(changed, v)
	}
	s.mu.Unlock()

	for _, v := range changed {
		s.scene.SetVisible(v.NodeID, v.Visible)
	}
}

func (s *Streamer) dispatchLoad(ctx context.Context, gen uint64, o lod.LoadOrder) bool {
	w, ok := s.loaders[o.Tier]
	if !ok {
		slog.Warn("no worker for tier", "tier", o.Tier, "nodeID", o.NodeID)
		return false
	}
	if !s.residency.MarkLoadPending(o.NodeID) {
		return false
	}

	id := s.track(gen)
	err := s.retry(ctx, func() error {
		return w.RequestLoad(id, o.NodeID, o.Priority)
	})
	if err != nil {
		s.untrack(id)
		s.residency.Revert(o.NodeID)
		s.dispatchFailures.Add(1)
		slog.Warn("load dispatch failed", "tier", o.Tier, "nodeID", o.NodeID, "error", err)
		return false
	}
	s.dispatched.Add(1)
	return true
}

func (s *Streamer) dispatchUnload(ctx context.Context, gen uint64, nodeID int, priority float64) bool {
	if !s.residency.MarkUnloadPending(nodeID) {
		return false
	}

	id := s.track(gen)
	err := s.retry(ctx, func() error {
		return s.disposer.RequestDispose(id, nodeID, priority)
	})
	if err != nil {
		s.untrack(id)
		s.residency.Revert(nodeID)
		s.dispatchFailures.Add(1)
		slog.Warn("unload dispatch failed", "nodeID", nodeID, "error", err)
		return false
	}
	s.dispatched.Add(1)
	return true
}

// retry re-runs fn with exponential backoff while it reports a not-ready
// worker. Any other error is returned at once.
func (s *Streamer) retry(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitial
	b.MaxInterval = s.cfg.RetryMax
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		if attempt > 0 {
			s.retries.Add(1)
		}
		attempt++
		err := fn()
		if err != nil && !errors.Is(err, worker.ErrNotReady) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, s.cfg.MaxRetries), ctx))
}

func (s *Streamer) track(gen uint64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("tick-%d-%d", gen, s.seq)
	s.inflight[id] = gen
	return id
}

func (s *Streamer) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

// apply folds a completion of an internally issued request into residency
// and the scene. Completions for a replaced tree and for direct requests
// leave residency alone.
func (s *Streamer) apply(r worker.Response) {
	s.mu.Lock()
	gen, internal := s.inflight[r.RequestID]
	if internal {
		delete(s.inflight, r.RequestID)
	}
	current := s.generation
	s.mu.Unlock()

	if !internal {
		return
	}
	if gen != current {
		s.stale.Add(1)
		slog.Debug("stale completion ignored", "requestID", r.RequestID, "nodeID", r.NodeID)
		return
	}

	switch r.Kind {
	case worker.KindLoaded:
		if s.residency.ApplyLoaded(r.NodeID) {
			s.scene.Attach(r.NodeID, r.Payload)
		}
	case worker.KindSkipped:
		s.residency.ApplyLoadFailed(r.NodeID)
	case worker.KindFailed:
		if r.Tier == 0 {
			s.residency.Revert(r.NodeID)
		} else {
			s.residency.ApplyLoadFailed(r.NodeID)
		}
	case worker.KindDisposed:
		if s.residency.ApplyDisposed(r.NodeID) {
			s.mu.Lock()
			delete(s.visible, r.NodeID)
			s.mu.Unlock()
			s.scene.Detach(r.NodeID)
		}
	}
}
