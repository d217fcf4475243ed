// Package storage opens the configured node store backend.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/udisondev/geostream/internal/config"
	"github.com/udisondev/geostream/internal/db"
	"github.com/udisondev/geostream/internal/store"
)

// Handle is an opened store plus whatever must be released with it.
type Handle struct {
	store.Store
	closers []func() error
}

// Close releases the store, innermost wrapper first.
func (h *Handle) Close() error {
	var err error
	for i := len(h.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, h.closers[i]())
	}
	h.closers = nil
	return err
}

// Open connects to cfg.Backend, applying migrations for postgres, and wraps
// the result in a zstd codec when cfg.Compress is set.
func Open(ctx context.Context, cfg config.StoreConfig) (*Handle, error) {
	h := &Handle{}

	switch cfg.Backend {
	case config.BackendMemory, "":
		h.Store = store.NewMemory()

	case config.BackendSQLite:
		s, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		h.Store = s
		h.closers = append(h.closers, s.Close)

	case config.BackendPostgres:
		dsn := cfg.Database.DSN()
		database, err := db.New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, func() error { database.Close(); return nil })

		if err := db.RunMigrationsOnPool(ctx, database.Pool()); err != nil {
			return nil, multierr.Append(err, h.Close())
		}
		slog.Info("database migrations applied")
		h.Store = db.NewNodeRepository(database.Pool())

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	if cfg.Compress {
		c, err := store.NewCompressed(h.Store)
		if err != nil {
			return nil, multierr.Append(err, h.Close())
		}
		h.Store = c
		h.closers = append(h.closers, func() error { c.Close(); return nil })
	}

	slog.Info("node store opened", "backend", cfg.Backend, "compress", cfg.Compress)
	return h, nil
}
