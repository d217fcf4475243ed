// Package protocol defines the JSON message envelopes exchanged between the
// streaming service and its clients.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/udisondev/geostream/internal/geom"
	"github.com/udisondev/geostream/internal/lod"
	"github.com/udisondev/geostream/internal/octree"
	"github.com/udisondev/geostream/internal/residency"
)

// MessageType names a request or response.
type MessageType string

// Requests.
const (
	TypeBuildOctree   MessageType = "BuildOctree"
	TypeEvaluate      MessageType = "Evaluate"
	TypeLoadMesh      MessageType = "LoadMesh"
	TypeLoadMeshBatch MessageType = "LoadMeshBatch"
	TypeDisposeMesh   MessageType = "DisposeMesh"
	TypeDisposeBatch  MessageType = "DisposeBatch"
	TypeGetStats      MessageType = "GetStats"
	TypeUpdateCamera  MessageType = "UpdateCamera"
)

// Responses.
const (
	TypeOctreeBuilt   MessageType = "OctreeBuilt"
	TypeDecisionBatch MessageType = "DecisionBatch"
	TypeMeshLoaded    MessageType = "MeshLoaded"
	TypeMeshSkipped   MessageType = "MeshSkipped"
	TypeBatchLoaded   MessageType = "BatchLoaded"
	TypeMeshDisposed  MessageType = "MeshDisposed"
	TypeBatchDisposed MessageType = "BatchDisposed"
	TypeStats         MessageType = "Stats"
	TypeCameraUpdated MessageType = "CameraUpdated"
	TypeError         MessageType = "Error"
)

// ErrMalformed is returned for frames that are not a valid request.
var ErrMalformed = errors.New("malformed message")

// ErrUnknownType is returned for requests with an unrecognized type.
var ErrUnknownType = errors.New("unknown message type")

var requestTypes = map[MessageType]struct{}{
	TypeBuildOctree:   {},
	TypeEvaluate:      {},
	TypeLoadMesh:      {},
	TypeLoadMeshBatch: {},
	TypeDisposeMesh:   {},
	TypeDisposeBatch:  {},
	TypeGetStats:      {},
	TypeUpdateCamera:  {},
}

// Item is a mesh bounding volume in a BuildOctree request.
type Item struct {
	ID     string    `json:"id"`
	Bounds geom.AABB `json:"bounds"`
}

// Request is the envelope of every client message. Only the fields relevant
// to Type are read.
type Request struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId,omitempty"`

	NodeID   int     `json:"nodeId,omitempty"`
	NodeIDs  []int   `json:"nodeIds,omitempty"`
	Tier     int     `json:"tier,omitempty"`
	Priority float64 `json:"priority,omitempty"`

	Camera     *lod.Camera     `json:"camera,omitempty"`
	Residency  map[int]string  `json:"residency,omitempty"`
	Thresholds *lod.Thresholds `json:"thresholds,omitempty"`

	Bounds  *geom.AABB `json:"bounds,omitempty"`
	Items   []Item     `json:"items,omitempty"`
	MinSize float64    `json:"minSize,omitempty"`
}

// Decode parses one request frame. A missing request ID is replaced with a
// fresh UUID so that every response can be correlated.
func Decode(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if req.Type == "" {
		return req, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if _, ok := requestTypes[req.Type]; !ok {
		return req, fmt.Errorf("%w: %q", ErrUnknownType, req.Type)
	}
	return req, nil
}

// OctreeItems converts the request items for the builder.
func (r Request) OctreeItems() []octree.Item {
	out := make([]octree.Item, len(r.Items))
	for i, it := range r.Items {
		out[i] = octree.Item{ID: it.ID, Bounds: it.Bounds}
	}
	return out
}

// ResidencySnapshot converts the wire residency map. Unknown state names read
// as unloaded.
func (r Request) ResidencySnapshot() residency.Snapshot {
	out := make(residency.Snapshot, len(r.Residency))
	for id, name := range r.Residency {
		if st, ok := residency.ParseState(name); ok && st != residency.Unloaded {
			out[id] = st
		}
	}
	return out
}

// OctreeBuilt describes a freshly built tree.
type OctreeBuilt struct {
	RootID int `json:"rootId"`
	octree.Stats
}

// BatchResult is the wire form of a worker batch.
type BatchResult struct {
	Results      []Response `json:"results"`
	SuccessCount int        `json:"successCount"`
	SkippedCount int        `json:"skippedCount"`
	TotalCount   int        `json:"totalCount"`
	Error        string     `json:"error,omitempty"`
}

// Response is the envelope of every server message.
type Response struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId,omitempty"`

	NodeID    int    `json:"nodeId"`
	Tier      int    `json:"tier,omitempty"`
	Payload   []byte `json:"payload,omitempty"`
	FromCache bool   `json:"fromCache,omitempty"`
	Reason    string `json:"reason,omitempty"`

	Error     string    `json:"error,omitempty"`
	ErrorCode ErrorCode `json:"errorCode,omitempty"`

	Octree   *OctreeBuilt `json:"octree,omitempty"`
	Decision *lod.Batch   `json:"decision,omitempty"`
	Batch    *BatchResult `json:"batch,omitempty"`
	Stats    any          `json:"stats,omitempty"`
	Camera   *lod.Camera  `json:"camera,omitempty"`
}

// Encode serializes a response frame.
func Encode(r Response) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding %s response: %w", r.Type, err)
	}
	return data, nil
}

// ErrorResponse builds an Error response for err.
func ErrorResponse(requestID string, err error) Response {
	return Response{
		Type:      TypeError,
		RequestID: requestID,
		Error:     err.Error(),
		ErrorCode: CodeFor(err),
	}
}
