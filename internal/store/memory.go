package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Payloads are copied on the way in and out.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, WrapAccess("get", key, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), p...), true, nil
}

// Put implements Store.
func (m *Memory) Put(ctx context.Context, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return WrapAccess("put", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = append([]byte(nil), payload...)
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
