package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/geostream/internal/config"
	"github.com/udisondev/geostream/internal/store"
)

func roundTrip(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	key := store.NodeKey(42)

	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, key, []byte("merged")))
	got, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("merged"), got)
}

func TestOpen_Memory(t *testing.T) {
	h, err := Open(context.Background(), config.StoreConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	defer h.Close()

	assert.IsType(t, &store.Memory{}, h.Store)
	roundTrip(t, h)
}

func TestOpen_SQLiteCompressed(t *testing.T) {
	cfg := config.StoreConfig{
		Backend:    config.BackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "nodes", "geo.db"),
		Compress:   true,
	}
	h, err := Open(context.Background(), cfg)
	require.NoError(t, err)

	assert.IsType(t, &store.Compressed{}, h.Store)
	roundTrip(t, h)
	require.NoError(t, h.Close())
	assert.NoError(t, h.Close(), "second close is a no-op")

	reopened, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer reopened.Close()
	got, ok, err := reopened.Get(context.Background(), store.NodeKey(42))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("merged"), got)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Backend: "redis"})
	assert.ErrorContains(t, err, "redis")
}
