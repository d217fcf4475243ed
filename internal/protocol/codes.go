package protocol

import (
	"errors"

	"github.com/udisondev/geostream/internal/lod"
	"github.com/udisondev/geostream/internal/octree"
	"github.com/udisondev/geostream/internal/store"
	"github.com/udisondev/geostream/internal/worker"
)

// ErrorCode classifies an Error response.
type ErrorCode string

const (
	CodeInvalidInput ErrorCode = "invalid_input"
	CodeNotReady     ErrorCode = "not_ready"
	CodeStoreAccess  ErrorCode = "store_access"
	CodeUnknownType  ErrorCode = "unknown_type"
	CodeInternal     ErrorCode = "internal"
)

// CodeFor maps an error chain onto its wire code.
func CodeFor(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownType):
		return CodeUnknownType
	case errors.Is(err, ErrMalformed),
		errors.Is(err, octree.ErrInvalidInput),
		errors.Is(err, lod.ErrInvalidThresholds):
		return CodeInvalidInput
	case errors.Is(err, lod.ErrNotReady),
		errors.Is(err, worker.ErrNotReady):
		return CodeNotReady
	case errors.Is(err, store.ErrAccess):
		return CodeStoreAccess
	default:
		return CodeInternal
	}
}

// FromWorker converts a worker completion into its wire response.
func FromWorker(r worker.Response) Response {
	out := Response{
		RequestID: r.RequestID,
		NodeID:    r.NodeID,
		Tier:      r.Tier,
	}

	switch r.Kind {
	case worker.KindLoaded:
		out.Type = TypeMeshLoaded
		out.Payload = r.Payload
		out.FromCache = r.FromCache
	case worker.KindSkipped:
		out.Type = TypeMeshSkipped
		out.Reason = r.Reason
	case worker.KindDisposed:
		out.Type = TypeMeshDisposed
	case worker.KindBatchLoaded:
		out.Type = TypeBatchLoaded
		out.Batch = fromBatch(r.Batch)
	case worker.KindBatchDisposed:
		out.Type = TypeBatchDisposed
		out.Batch = fromBatch(r.Batch)
	default:
		out.Type = TypeError
		if r.Err != nil {
			out.Error = r.Err.Error()
			out.ErrorCode = CodeFor(r.Err)
		} else {
			out.ErrorCode = CodeInternal
		}
	}
	return out
}

func fromBatch(b *worker.Batch) *BatchResult {
	if b == nil {
		return &BatchResult{}
	}
	out := &BatchResult{
		Results:      make([]Response, len(b.Results)),
		SuccessCount: b.SuccessCount,
		SkippedCount: b.SkippedCount,
		TotalCount:   b.TotalCount,
	}
	for i, item := range b.Results {
		out.Results[i] = FromWorker(item)
	}
	if b.Err != nil {
		out.Error = b.Err.Error()
	}
	return out
}
