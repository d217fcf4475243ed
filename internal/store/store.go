// Package store defines the persistent node store consumed by the mesh
// workers and provides in-process backends for it.
package store

import (
	"context"
	"errors"
	"strconv"
)

// ErrAccess marks an I/O level failure of a backend. A missing key is never
// an ErrAccess.
var ErrAccess = errors.New("node store access failed")

// KeyPrefix is prepended to node IDs to form store keys.
const KeyPrefix = "merged_node"

// Store is a keyed blob store. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the payload for key. A missing key yields (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, payload []byte) error
}

// NodeKey derives the store key of an octree node.
func NodeKey(nodeID int) string {
	return KeyPrefix + strconv.Itoa(nodeID)
}

// AccessError describes a failed backend operation.
type AccessError struct {
	Op  string
	Key string
	Err error
}

func (e *AccessError) Error() string {
	return "node store " + e.Op + " " + strconv.Quote(e.Key) + ": " + e.Err.Error()
}

func (e *AccessError) Unwrap() []error {
	return []error{ErrAccess, e.Err}
}

// WrapAccess tags a backend failure so that errors.Is(err, ErrAccess) holds
// while the original cause stays reachable. A nil err stays nil.
func WrapAccess(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &AccessError{Op: op, Key: key, Err: err}
}
