package store

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compressed wraps a Store and zstd-compresses payloads at rest.
// The encoder and decoder are safe for concurrent EncodeAll/DecodeAll calls.
type Compressed struct {
	inner Store
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

var _ Store = (*Compressed)(nil)

// NewCompressed wraps inner.
func NewCompressed(inner Store) (*Compressed, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Compressed{inner: inner, enc: enc, dec: dec}, nil
}

// Get implements Store. A payload that fails to decompress is reported as an
// access error, not as a missing key.
func (c *Compressed) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := c.inner.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	out, err := c.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, false, WrapAccess("decompress", key, err)
	}
	return out, true, nil
}

// Put implements Store.
func (c *Compressed) Put(ctx context.Context, key string, payload []byte) error {
	return c.inner.Put(ctx, key, c.enc.EncodeAll(payload, nil))
}

// Close releases codec resources. It does not close the wrapped store.
func (c *Compressed) Close() {
	c.dec.Close()
	_ = c.enc.Close()
}
