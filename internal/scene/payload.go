package scene

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/geostream/internal/geom"
	"github.com/udisondev/geostream/internal/lod"
	"github.com/udisondev/geostream/internal/octree"
	"github.com/udisondev/geostream/internal/store"
)

// ErrBadPayload is returned when a merged mesh payload cannot be decoded.
var ErrBadPayload = errors.New("bad merged mesh payload")

// Merged payload layout, little endian:
//
//	magic   [4]byte "GSM1"
//	nodeID  uint32
//	depth   uint8
//	bounds  6 × float32 (min xyz, max xyz)
//	count   uint32
//	items   count × (uint16 len + id bytes + 6 × float32 bounds)
var payloadMagic = [4]byte{'G', 'S', 'M', '1'}

const payloadHeaderSize = 4 + 4 + 1 + 6*4 + 4

// MergedMesh is the decoded form of a node payload: the node's bounds and the
// items merged into it.
type MergedMesh struct {
	NodeID int
	Depth  int
	Bounds geom.AABB
	Items  []MergedItem
}

// MergedItem is one source mesh inside a merged payload.
type MergedItem struct {
	ID     string
	Bounds geom.AABB
}

// EncodeMerged builds the payload for node n. items resolves item IDs to
// their bounds; unknown IDs are written with the node's bounds.
func EncodeMerged(n *octree.Node, items map[string]geom.AABB) []byte {
	size := payloadHeaderSize
	for _, id := range n.Items {
		size += 2 + len(id) + 6*4
	}
	buf := make([]byte, 0, size)

	buf = append(buf, payloadMagic[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n.ID))
	buf = append(buf, byte(n.Depth))
	buf = appendBox(buf, n.Bounds)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(n.Items)))
	for _, id := range n.Items {
		b, ok := items[id]
		if !ok {
			b = n.Bounds
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(id)))
		buf = append(buf, id...)
		buf = appendBox(buf, b)
	}
	return buf
}

func appendBox(buf []byte, b geom.AABB) []byte {
	for _, f := range [6]float64{b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z} {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(f)))
	}
	return buf
}

// DecodeMerged parses a payload produced by EncodeMerged.
func DecodeMerged(data []byte) (MergedMesh, error) {
	if len(data) < payloadHeaderSize {
		return MergedMesh{}, fmt.Errorf("%w: %d bytes", ErrBadPayload, len(data))
	}
	if [4]byte(data[:4]) != payloadMagic {
		return MergedMesh{}, fmt.Errorf("%w: magic %q", ErrBadPayload, data[:4])
	}

	m := MergedMesh{
		NodeID: int(binary.LittleEndian.Uint32(data[4:8])),
		Depth:  int(data[8]),
		Bounds: readBox(data[9:33]),
	}
	count := int(binary.LittleEndian.Uint32(data[33:37]))
	rest := data[payloadHeaderSize:]

	m.Items = make([]MergedItem, 0, min(count, len(rest)/(2+6*4)))
	for i := range count {
		if len(rest) < 2 {
			return MergedMesh{}, fmt.Errorf("%w: item %d truncated", ErrBadPayload, i)
		}
		n := int(binary.LittleEndian.Uint16(rest))
		if len(rest) < 2+n+6*4 {
			return MergedMesh{}, fmt.Errorf("%w: item %d truncated", ErrBadPayload, i)
		}
		m.Items = append(m.Items, MergedItem{
			ID:     string(rest[2 : 2+n]),
			Bounds: readBox(rest[2+n : 2+n+6*4]),
		})
		rest = rest[2+n+6*4:]
	}
	if len(rest) != 0 {
		return MergedMesh{}, fmt.Errorf("%w: %d trailing bytes", ErrBadPayload, len(rest))
	}
	return m, nil
}

func readBox(b []byte) geom.AABB {
	f := func(i int) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])))
	}
	var a geom.AABB
	a.Min.X, a.Min.Y, a.Min.Z = f(0), f(1), f(2)
	a.Max.X, a.Max.Y, a.Max.Z = f(3), f(4), f(5)
	return a
}

// SeedOptions controls Seed.
type SeedOptions struct {
	// Concurrency bounds parallel store writes; <= 0 means 8.
	Concurrency int
	// MinDepth skips shallower nodes; the workers never ask for them.
	MinDepth int
}

// Seed writes a merged payload for every node at MinDepth or deeper that
// holds at least one item. It returns the number of payloads written.
func Seed(ctx context.Context, s store.Store, tree *octree.Tree, items []octree.Item, opts SeedOptions) (int, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.MinDepth <= 0 {
		opts.MinDepth = lod.MinTier
	}

	bounds := make(map[string]geom.AABB, len(items))
	for _, it := range items {
		bounds[it.ID] = it.Bounds
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	written := 0
	for _, n := range tree.Nodes() {
		if n.Depth < opts.MinDepth || len(n.Items) == 0 {
			continue
		}
		written++
		g.Go(func() error {
			return s.Put(ctx, store.NodeKey(n.ID), EncodeMerged(&n, bounds))
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("seeding node store: %w", err)
	}

	slog.Info("node store seeded", "payloads", written, "nodes", tree.Len())
	return written, nil
}
