package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/udisondev/geostream/internal/protocol"
	"github.com/udisondev/geostream/internal/streamer"
)

// handle routes one request frame. ok is false when the request gets no
// immediate reply: mesh load and dispose requests are answered by the worker
// completion broadcast.
func (s *Server) handle(ctx context.Context, data []byte) (resp protocol.Response, ok bool) {
	req, err := protocol.Decode(data)
	if err != nil {
		slog.Debug("rejecting request", "type", req.Type, "error", err)
		return errorResponse(req.RequestID, err), true
	}

	switch req.Type {
	case protocol.TypeBuildOctree:
		return s.handleBuild(req), true

	case protocol.TypeEvaluate:
		return s.handleEvaluate(req), true

	case protocol.TypeUpdateCamera:
		if req.Camera == nil {
			return errorResponse(req.RequestID, fmt.Errorf("%w: camera required", protocol.ErrMalformed)), true
		}
		s.backend.UpdateCamera(*req.Camera)
		return protocol.Response{Type: protocol.TypeCameraUpdated, RequestID: req.RequestID, Camera: req.Camera}, true

	case protocol.TypeGetStats:
		st, err := s.backend.Stats(ctx)
		if err != nil {
			return errorResponse(req.RequestID, err), true
		}
		return protocol.Response{Type: protocol.TypeStats, RequestID: req.RequestID, Stats: st}, true

	case protocol.TypeLoadMesh:
		err = s.backend.LoadMesh(ctx, req.RequestID, req.NodeID, req.Tier, req.Priority)
	case protocol.TypeLoadMeshBatch:
		err = s.backend.LoadMeshBatch(ctx, req.RequestID, req.Tier, req.NodeIDs)
	case protocol.TypeDisposeMesh:
		err = s.backend.DisposeMesh(ctx, req.RequestID, req.NodeID, req.Priority)
	case protocol.TypeDisposeBatch:
		err = s.backend.DisposeBatch(ctx, req.RequestID, req.NodeIDs)
	}

	if err != nil {
		return errorResponse(req.RequestID, err), true
	}
	return protocol.Response{}, false
}

func (s *Server) handleBuild(req protocol.Request) protocol.Response {
	if req.Bounds == nil {
		return errorResponse(req.RequestID, fmt.Errorf("%w: bounds required", protocol.ErrMalformed))
	}
	minSize := req.MinSize
	if minSize <= 0 {
		minSize = s.cfg.DefaultMinSize
	}

	tree, err := s.backend.Build(*req.Bounds, req.OctreeItems(), minSize)
	if err != nil {
		return errorResponse(req.RequestID, err)
	}
	return protocol.Response{
		Type:      protocol.TypeOctreeBuilt,
		RequestID: req.RequestID,
		NodeID:    tree.Root().ID,
		Octree:    &protocol.OctreeBuilt{RootID: tree.Root().ID, Stats: tree.Stats()},
	}
}

// handleEvaluate runs the engine without dispatching. A request without a
// residency map is evaluated against the server's own residency.
func (s *Server) handleEvaluate(req protocol.Request) protocol.Response {
	if req.Camera == nil {
		return errorResponse(req.RequestID, fmt.Errorf("%w: camera required", protocol.ErrMalformed))
	}

	res := s.backend.Residency()
	if req.Residency != nil {
		res = req.ResidencySnapshot()
	}
	batch, err := s.backend.Evaluate(res, *req.Camera, req.Thresholds)
	if err != nil {
		return errorResponse(req.RequestID, err)
	}
	return protocol.Response{Type: protocol.TypeDecisionBatch, RequestID: req.RequestID, Decision: &batch}
}

func errorResponse(requestID string, err error) protocol.Response {
	resp := protocol.ErrorResponse(requestID, err)
	if errors.Is(err, streamer.ErrNotReady) {
		resp.ErrorCode = protocol.CodeNotReady
	}
	return resp
}
