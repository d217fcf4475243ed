package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/geostream/internal/store"
)

// NodeRepository implements store.Store backed by PostgreSQL.
type NodeRepository struct {
	pool *pgxpool.Pool
}

// Compile-time check.
var _ store.Store = (*NodeRepository)(nil)

// NewNodeRepository creates a new node payload repository.
func NewNodeRepository(pool *pgxpool.Pool) *NodeRepository {
	return &NodeRepository{pool: pool}
}

// Get returns the payload stored under key.
// Returns nil, false, nil if the key does not exist.
func (r *NodeRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx,
		`SELECT payload FROM node_payloads WHERE key = $1`, key,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, store.WrapAccess("get", key, err)
	}
	return payload, true, nil
}

// Put inserts or replaces the payload under key.
func (r *NodeRepository) Put(ctx context.Context, key string, payload []byte) error {
	if payload == nil {
		payload = []byte{}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO node_payloads (key, payload, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		key, payload,
	)
	return store.WrapAccess("put", key, err)
}

// Count returns the number of stored payloads.
func (r *NodeRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM node_payloads`).Scan(&n); err != nil {
		return 0, store.WrapAccess("count", "*", err)
	}
	return n, nil
}
