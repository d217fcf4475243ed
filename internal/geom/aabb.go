package geom

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// AABB is an axis-aligned bounding box in world space.
type AABB struct {
	Min r3.Vector
	Max r3.Vector
}

// NewAABB returns a box spanning min..max.
func NewAABB(min, max r3.Vector) AABB {
	return AABB{Min: min, Max: max}
}

// FromCenter returns a box centered at c with the given full size on every axis.
func FromCenter(c r3.Vector, size float64) AABB {
	h := size / 2
	return AABB{
		Min: r3.Vector{X: c.X - h, Y: c.Y - h, Z: c.Z - h},
		Max: r3.Vector{X: c.X + h, Y: c.Y + h, Z: c.Z + h},
	}
}

// Valid reports whether all corners are finite and Min <= Max on every axis.
// A degenerate (flat) box is valid.
func (b AABB) Valid() bool {
	for _, f := range [6]float64{b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return b.Min.X <= b.Max.X && b.Min.Y <= b.Max.Y && b.Min.Z <= b.Max.Z
}

// Center returns the midpoint of the box.
func (b AABB) Center() r3.Vector {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Extent returns the full size of the box along each axis.
func (b AABB) Extent() r3.Vector {
	return b.Max.Sub(b.Min)
}

// MinExtent returns the smallest of the three axis sizes.
func (b AABB) MinExtent() float64 {
	e := b.Extent()
	return math.Min(e.X, math.Min(e.Y, e.Z))
}

// Contains reports whether other lies fully inside b.
// All six faces are compared; touching a face still counts as inside.
func (b AABB) Contains(other AABB) bool {
	return other.Min.X >= b.Min.X && other.Max.X <= b.Max.X &&
		other.Min.Y >= b.Min.Y && other.Max.Y <= b.Max.Y &&
		other.Min.Z >= b.Min.Z && other.Max.Z <= b.Max.Z
}

// ContainsPoint reports whether p lies inside b (inclusive).
func (b AABB) ContainsPoint(p r3.Vector) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Octant returns the i-th of the 8 equal sub-boxes split at the center.
// Bit 0 selects the upper X half, bit 1 the upper Y half, bit 2 the upper Z half.
func (b AABB) Octant(i int) AABB {
	c := b.Center()
	o := AABB{Min: b.Min, Max: c}
	if i&1 != 0 {
		o.Min.X, o.Max.X = c.X, b.Max.X
	}
	if i&2 != 0 {
		o.Min.Y, o.Max.Y = c.Y, b.Max.Y
	}
	if i&4 != 0 {
		o.Min.Z, o.Max.Z = c.Z, b.Max.Z
	}
	return o
}

// Octants returns all 8 sub-boxes in Octant index order.
func (b AABB) Octants() [8]AABB {
	var out [8]AABB
	for i := range 8 {
		out[i] = b.Octant(i)
	}
	return out
}

func (b AABB) String() string {
	return fmt.Sprintf("[(%g,%g,%g)-(%g,%g,%g)]", b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z)
}
