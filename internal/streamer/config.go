package streamer

import (
	"maps"
	"time"

	"github.com/udisondev/geostream/internal/lod"
	"github.com/udisondev/geostream/internal/octree"
	"github.com/udisondev/geostream/internal/worker"
)

// Config wires the orchestrator and its workers.
type Config struct {
	MinSize    float64
	Thresholds lod.Thresholds
	Engine     lod.Config

	// Per-tier worker settings, keyed by tier (2, 3, 4).
	Loaders  map[int]worker.LoadConfig
	Disposal worker.DisposalConfig

	TickInterval time.Duration

	// Dispatch retries against a worker that reported not ready.
	RetryInitial time.Duration
	RetryMax     time.Duration
	MaxRetries   uint64

	// SinkSize buffers worker responses before the response loop sees them.
	SinkSize int
}

// DefaultConfig returns a ready-to-use configuration.
func DefaultConfig() Config {
	loaders := make(map[int]worker.LoadConfig, lod.MaxTier-lod.MinTier+1)
	for tier := lod.MinTier; tier <= lod.MaxTier; tier++ {
		loaders[tier] = worker.DefaultLoadConfig(tier)
	}
	return Config{
		MinSize:      octree.DefaultMinSize,
		Thresholds:   lod.DefaultThresholds(),
		Engine:       lod.DefaultConfig(),
		Loaders:      loaders,
		Disposal:     worker.DefaultDisposalConfig(),
		TickInterval: 100 * time.Millisecond,
		RetryInitial: 5 * time.Millisecond,
		RetryMax:     50 * time.Millisecond,
		MaxRetries:   3,
		SinkSize:     1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinSize <= 0 {
		c.MinSize = d.MinSize
	}
	if c.Thresholds == (lod.Thresholds{}) {
		c.Thresholds = d.Thresholds
	}
	c.Loaders = maps.Clone(c.Loaders)
	if c.Loaders == nil {
		c.Loaders = d.Loaders
	}
	for tier := lod.MinTier; tier <= lod.MaxTier; tier++ {
		if _, ok := c.Loaders[tier]; !ok {
			c.Loaders[tier] = worker.DefaultLoadConfig(tier)
		}
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = d.RetryInitial
	}
	if c.RetryMax < c.RetryInitial {
		c.RetryMax = c.RetryInitial
	}
	if c.SinkSize <= 0 {
		c.SinkSize = d.SinkSize
	}
	return c
}
