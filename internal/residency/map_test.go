package residency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotDefaultsToUnloaded(t *testing.T) {
	s := Snapshot{1: Loaded, 2: State(42)}

	assert.Equal(t, Loaded, s.State(1))
	assert.Equal(t, Unloaded, s.State(2), "malformed entry reads as unloaded")
	assert.Equal(t, Unloaded, s.State(3))

	var nilSnap Snapshot
	assert.Equal(t, Unloaded, nilSnap.State(1))
}

func TestMapLoadLifecycle(t *testing.T) {
	m := NewMap()

	assert.Equal(t, Unloaded, m.State(7))
	assert.True(t, m.MarkLoadPending(7))
	assert.False(t, m.MarkLoadPending(7), "already pending")
	assert.Equal(t, LoadPending, m.State(7))

	assert.True(t, m.ApplyLoaded(7))
	assert.Equal(t, Loaded, m.State(7))

	assert.True(t, m.MarkUnloadPending(7))
	assert.True(t, m.ApplyDisposed(7))
	assert.Equal(t, Unloaded, m.State(7))
}

func TestMapApplyLoadedIdempotent(t *testing.T) {
	once := NewMap()
	once.MarkLoadPending(3)
	once.ApplyLoaded(3)

	twice := NewMap()
	twice.MarkLoadPending(3)
	assert.True(t, twice.ApplyLoaded(3))
	assert.False(t, twice.ApplyLoaded(3))

	assert.Equal(t, once.Snapshot(), twice.Snapshot())
}

func TestMapApplyDisposedIdempotent(t *testing.T) {
	m := NewMap()
	m.MarkLoadPending(1)
	m.ApplyLoaded(1)
	m.MarkUnloadPending(1)

	assert.True(t, m.ApplyDisposed(1))
	assert.False(t, m.ApplyDisposed(1))
	assert.Empty(t, m.Snapshot())
}

func TestMapStaleLoadAfterUnload(t *testing.T) {
	m := NewMap()
	m.MarkLoadPending(5)
	m.ApplyLoaded(5)
	m.MarkUnloadPending(5)

	assert.False(t, m.ApplyLoaded(5))
	assert.Equal(t, UnloadPending, m.State(5))
}

func TestMapFailedLoadAndRevert(t *testing.T) {
	m := NewMap()
	m.MarkLoadPending(9)
	assert.True(t, m.ApplyLoadFailed(9))
	assert.Equal(t, Unloaded, m.State(9))
	assert.False(t, m.ApplyLoadFailed(9))

	m.MarkLoadPending(9)
	m.Revert(9)
	assert.Equal(t, Unloaded, m.State(9))

	m.MarkLoadPending(9)
	m.ApplyLoaded(9)
	m.MarkUnloadPending(9)
	m.Revert(9)
	assert.Equal(t, Loaded, m.State(9))
}

func TestMapCountsAndReset(t *testing.T) {
	m := NewMap()
	for id := range 4 {
		m.MarkLoadPending(id)
	}
	m.ApplyLoaded(0)
	m.ApplyLoaded(1)

	counts := m.Counts()
	assert.Equal(t, 2, counts[Loaded])
	assert.Equal(t, 2, counts[LoadPending])

	m.Reset()
	assert.Empty(t, m.Snapshot())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "loaded", Loaded.String())
	assert.Equal(t, "unknown", State(-1).String())
}
