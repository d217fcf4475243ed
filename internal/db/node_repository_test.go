package db_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/geostream/internal/db"
	"github.com/udisondev/geostream/internal/store"
	"github.com/udisondev/geostream/internal/testutil"
)

func TestNodeRepository(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	repo := db.NewNodeRepository(pool)
	ctx := context.Background()

	_, ok, err := repo.Get(ctx, store.NodeKey(1))
	require.NoError(t, err, "missing key is not an error")
	assert.False(t, ok)

	require.NoError(t, repo.Put(ctx, store.NodeKey(1), []byte("mesh")))
	require.NoError(t, repo.Put(ctx, store.NodeKey(1), []byte("mesh-v2")))
	require.NoError(t, repo.Put(ctx, store.NodeKey(2), nil))

	payload, ok, err := repo.Get(ctx, store.NodeKey(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("mesh-v2"), payload)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNodeRepositoryClosedPool(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	repo := db.NewNodeRepository(pool)
	pool.Close()

	_, _, err := repo.Get(context.Background(), store.NodeKey(1))
	assert.ErrorIs(t, err, store.ErrAccess)
}
