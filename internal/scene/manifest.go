// Package scene produces the inputs of a streaming session: item layouts
// (from YAML manifests or a synthetic grid) and the merged node payloads the
// mesh workers read from the node store.
package scene

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang/geo/r3"
	"gopkg.in/yaml.v3"

	"github.com/udisondev/geostream/internal/geom"
	"github.com/udisondev/geostream/internal/octree"
)

// ErrEmptyManifest is returned for a manifest without bounds.
var ErrEmptyManifest = errors.New("manifest has no bounds")

// Box is the YAML form of an AABB: [x, y, z] corners.
type Box struct {
	Min [3]float64 `yaml:"min"`
	Max [3]float64 `yaml:"max"`
}

// AABB converts the box.
func (b Box) AABB() geom.AABB {
	return geom.NewAABB(
		r3.Vector{X: b.Min[0], Y: b.Min[1], Z: b.Min[2]},
		r3.Vector{X: b.Max[0], Y: b.Max[1], Z: b.Max[2]},
	)
}

// BoxOf converts an AABB to its YAML form.
func BoxOf(a geom.AABB) Box {
	return Box{
		Min: [3]float64{a.Min.X, a.Min.Y, a.Min.Z},
		Max: [3]float64{a.Max.X, a.Max.Y, a.Max.Z},
	}
}

// ManifestItem is one mesh of a manifest.
type ManifestItem struct {
	ID     string `yaml:"id"`
	Bounds Box    `yaml:"bounds"`
}

// Manifest describes a scene layout.
type Manifest struct {
	Name    string         `yaml:"name"`
	Bounds  *Box           `yaml:"bounds"`
	MinSize float64        `yaml:"min_size"`
	Items   []ManifestItem `yaml:"items"`
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// ParseManifest decodes a YAML manifest.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Bounds == nil {
		return Manifest{}, ErrEmptyManifest
	}
	return m, nil
}

// Root returns the manifest bounds.
func (m Manifest) Root() geom.AABB {
	if m.Bounds == nil {
		return geom.AABB{}
	}
	return m.Bounds.AABB()
}

// OctreeItems converts the manifest items for the builder.
func (m Manifest) OctreeItems() []octree.Item {
	out := make([]octree.Item, len(m.Items))
	for i, it := range m.Items {
		out[i] = octree.Item{ID: it.ID, Bounds: it.Bounds.AABB()}
	}
	return out
}

// Marshal encodes the manifest as YAML.
func (m Manifest) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return data, nil
}
