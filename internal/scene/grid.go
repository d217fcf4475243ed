package scene

import (
	"fmt"
	"math/rand/v2"

	"github.com/golang/geo/r3"

	"github.com/udisondev/geostream/internal/geom"
)

// GridConfig describes a synthetic scene: PerAxis³ cubes of ItemSize laid out
// on a regular grid inside a cube of Size, each displaced by up to Jitter.
type GridConfig struct {
	Name     string  `yaml:"name"`
	Size     float64 `yaml:"size"`
	PerAxis  int     `yaml:"per_axis"`
	ItemSize float64 `yaml:"item_size"`
	Jitter   float64 `yaml:"jitter"`
	Seed     uint64  `yaml:"seed"`
	MinSize  float64 `yaml:"min_size"`
}

// DefaultGrid is a 1600-unit city block of 16³ buildings.
func DefaultGrid() GridConfig {
	return GridConfig{
		Name:     "grid",
		Size:     1600,
		PerAxis:  16,
		ItemSize: 20,
		Jitter:   10,
		Seed:     1,
		MinSize:  1,
	}
}

// Grid generates a deterministic manifest. Items are kept inside the root.
func Grid(cfg GridConfig) (Manifest, error) {
	if cfg.Size <= 0 || cfg.PerAxis <= 0 || cfg.ItemSize <= 0 {
		return Manifest{}, fmt.Errorf("invalid grid %+v", cfg)
	}
	cell := cfg.Size / float64(cfg.PerAxis)
	if cfg.ItemSize > cell {
		return Manifest{}, fmt.Errorf("item size %g exceeds grid cell %g", cfg.ItemSize, cell)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	// Jitter may not push an item out of its cell.
	slack := (cell - cfg.ItemSize) / 2
	jitter := min(cfg.Jitter, slack)

	root := geom.NewAABB(r3.Vector{}, r3.Vector{X: cfg.Size, Y: cfg.Size, Z: cfg.Size})
	m := Manifest{
		Name:    cfg.Name,
		MinSize: cfg.MinSize,
		Items:   make([]ManifestItem, 0, cfg.PerAxis*cfg.PerAxis*cfg.PerAxis),
	}
	rootBox := BoxOf(root)
	m.Bounds = &rootBox

	for x := range cfg.PerAxis {
		for y := range cfg.PerAxis {
			for z := range cfg.PerAxis {
				c := r3.Vector{
					X: (float64(x)+0.5)*cell + offset(rng, jitter),
					Y: (float64(y)+0.5)*cell + offset(rng, jitter),
					Z: (float64(z)+0.5)*cell + offset(rng, jitter),
				}
				m.Items = append(m.Items, ManifestItem{
					ID:     fmt.Sprintf("%s-%d-%d-%d", cfg.Name, x, y, z),
					Bounds: BoxOf(geom.FromCenter(c, cfg.ItemSize)),
				})
			}
		}
	}
	return m, nil
}

func offset(rng *rand.Rand, jitter float64) float64 {
	if jitter <= 0 {
		return 0
	}
	return (rng.Float64()*2 - 1) * jitter
}
