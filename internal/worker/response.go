// Package worker implements the mesh load workers and the mesh disposal
// worker. Each worker is a single goroutine draining a buffered inbox; all of
// its bookkeeping is private to that goroutine and results leave through a
// sink channel.
package worker

import (
	"errors"
)

// ErrNotReady is returned when a worker cannot accept a request right now
// (stopped, or its inbox is full). Callers retry with backoff.
var ErrNotReady = errors.New("worker not ready")

// ReasonNoMeshData is the skip reason for nodes without a stored payload.
const ReasonNoMeshData = "no mesh data"

// Kind identifies a worker response.
type Kind int

const (
	KindLoaded Kind = iota + 1
	KindSkipped
	KindFailed
	KindDisposed
	KindBatchLoaded
	KindBatchDisposed
)

func (k Kind) String() string {
	switch k {
	case KindLoaded:
		return "loaded"
	case KindSkipped:
		return "skipped"
	case KindFailed:
		return "failed"
	case KindDisposed:
		return "disposed"
	case KindBatchLoaded:
		return "batch_loaded"
	case KindBatchDisposed:
		return "batch_disposed"
	default:
		return "unknown"
	}
}

// Response is a completion message. RequestID echoes the caller's ID.
// Tier is 0 for disposal responses.
type Response struct {
	Kind      Kind
	RequestID string
	Tier      int
	NodeID    int
	Payload   []byte
	FromCache bool
	Reason    string
	Err       error
	Batch     *Batch
}

// Batch aggregates the per-item results of a batch request.
type Batch struct {
	Results      []Response
	SuccessCount int
	SkippedCount int
	TotalCount   int

	// Err combines every per-item failure; nil when none failed.
	Err error
}
