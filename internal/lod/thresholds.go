package lod

import (
	"errors"
	"fmt"
)

// ErrInvalidThresholds is returned for a threshold set the engine cannot
// reason about (negative distances or an inverted 30%/80% pair).
var ErrInvalidThresholds = errors.New("invalid lod thresholds")

// Thresholds are the distance bands driving the per-depth policy.
type Thresholds struct {
	MaxDistance        float64 `yaml:"max_distance" json:"maxDistance"`
	Threshold30Percent float64 `yaml:"threshold_30_percent" json:"threshold30Percent"`
	Threshold80Percent float64 `yaml:"threshold_80_percent" json:"threshold80Percent"`
	BufferZone         float64 `yaml:"buffer_zone" json:"bufferZone"`
}

// DefaultThresholds returns bands for a 1000-unit view distance.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxDistance:        1000,
		Threshold30Percent: 300,
		Threshold80Percent: 800,
		BufferZone:         50,
	}
}

// Validate checks that all distances are non-negative, MaxDistance is
// positive and Threshold30Percent < Threshold80Percent <= MaxDistance.
func (t Thresholds) Validate() error {
	if t.MaxDistance <= 0 {
		return fmt.Errorf("%w: max distance %g must be positive", ErrInvalidThresholds, t.MaxDistance)
	}
	if t.Threshold30Percent < 0 || t.Threshold80Percent < 0 || t.BufferZone < 0 {
		return fmt.Errorf("%w: negative distance in %+v", ErrInvalidThresholds, t)
	}
	if t.Threshold30Percent >= t.Threshold80Percent {
		return fmt.Errorf("%w: threshold30 %g must be below threshold80 %g",
			ErrInvalidThresholds, t.Threshold30Percent, t.Threshold80Percent)
	}
	if t.Threshold80Percent > t.MaxDistance {
		return fmt.Errorf("%w: threshold80 %g exceeds max distance %g",
			ErrInvalidThresholds, t.Threshold80Percent, t.MaxDistance)
	}
	return nil
}

// LoadThreshold returns the face distance under which a node at depth is
// wanted. ok is false for depths without a distance band.
func (t Thresholds) LoadThreshold(depth int) (threshold float64, ok bool) {
	switch depth {
	case 3:
		return t.Threshold80Percent + t.BufferZone, true
	case 4:
		return t.Threshold30Percent + t.BufferZone, true
	default:
		return 0, false
	}
}
