package residency

import (
	"log/slog"
	"sync"
)

// Map is the orchestrator-owned residency table. Every Apply* method is
// idempotent: applying the same completion twice leaves the same state as
// applying it once.
type Map struct {
	mu     sync.RWMutex
	states map[int]State
}

// NewMap creates an empty map; every node starts Unloaded.
func NewMap() *Map {
	return &Map{states: make(map[int]State)}
}

// State implements Reader.
func (m *Map) State(nodeID int) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[nodeID]
}

// MarkLoadPending moves an Unloaded node to LoadPending.
// Returns false if the node is in any other state.
func (m *Map) MarkLoadPending(nodeID int) bool {
	return m.transition(nodeID, Unloaded, LoadPending)
}

// MarkUnloadPending moves a Loaded node to UnloadPending.
// Returns false if the node is in any other state.
func (m *Map) MarkUnloadPending(nodeID int) bool {
	return m.transition(nodeID, Loaded, UnloadPending)
}

// ApplyLoaded records a MeshLoaded completion. Returns true if the state changed.
// A completion arriving after an unload was requested is ignored.
func (m *Map) ApplyLoaded(nodeID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.states[nodeID] {
	case Loaded:
		return false
	case UnloadPending:
		slog.Debug("stale load completion ignored", "nodeID", nodeID)
		return false
	default:
		m.states[nodeID] = Loaded
		return true
	}
}

// ApplyLoadFailed records a skipped or failed load: the node returns to
// Unloaded so a later tick may request it again.
func (m *Map) ApplyLoadFailed(nodeID int) bool {
	return m.transition(nodeID, LoadPending, Unloaded)
}

// ApplyDisposed records a MeshDisposed completion. Returns true if the state changed.
func (m *Map) ApplyDisposed(nodeID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.states[nodeID] == Unloaded {
		return false
	}
	delete(m.states, nodeID)
	return true
}

// Revert restores a pending node to its previous stable state; used when a
// dispatch is abandoned.
func (m *Map) Revert(nodeID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.states[nodeID] {
	case LoadPending:
		delete(m.states, nodeID)
	case UnloadPending:
		m.states[nodeID] = Loaded
	}
}

// Reset forgets all entries; used after a rebuild.
func (m *Map) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.states)
}

// Snapshot returns a copy of all non-Unloaded entries.
func (m *Map) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(Snapshot, len(m.states))
	for id, st := range m.states {
		out[id] = st
	}
	return out
}

// Counts returns the number of nodes in each non-Unloaded state.
func (m *Map) Counts() map[State]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[State]int, 3)
	for _, st := range m.states {
		out[st]++
	}
	return out
}

func (m *Map) transition(nodeID int, from, to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.states[nodeID] != from {
		return false
	}
	if to == Unloaded {
		delete(m.states, nodeID)
	} else {
		m.states[nodeID] = to
	}
	return true
}
