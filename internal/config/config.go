package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/udisondev/geostream/internal/lod"
	"github.com/udisondev/geostream/internal/octree"
	"github.com/udisondev/geostream/internal/streamer"
	"github.com/udisondev/geostream/internal/worker"
)

// EnvPath names the environment variable holding the config path.
const EnvPath = "GEOSTREAM_CONFIG"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Streamer holds all configuration for the streaming daemon.
type Streamer struct {
	LogLevel string `yaml:"log_level"`

	Store    StoreConfig    `yaml:"store"`
	Octree   OctreeConfig   `yaml:"octree"`
	LOD      LODConfig      `yaml:"lod"`
	Workers  WorkersConfig  `yaml:"workers"`
	Streamer StreamerConfig `yaml:"streamer"`
	Server   ServerConfig   `yaml:"server"`
	Scene    SceneConfig    `yaml:"scene"`
}

// StoreConfig selects and configures the node store backend.
type StoreConfig struct {
	Backend    string         `yaml:"backend"` // memory | sqlite | postgres
	SQLitePath string         `yaml:"sqlite_path"`
	Compress   bool           `yaml:"compress"` // zstd payloads
	Database   DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// OctreeConfig tunes the builder.
type OctreeConfig struct {
	MinSize float64 `yaml:"min_size"`
}

// LODConfig holds the distance bands and engine tuning.
type LODConfig struct {
	Thresholds          lod.Thresholds `yaml:"thresholds"`
	MovementSensitivity float64        `yaml:"movement_sensitivity"`
}

// WorkersConfig sizes the mesh workers.
type WorkersConfig struct {
	Tier3Cache            int           `yaml:"tier3_cache"`
	Tier4Cache            int           `yaml:"tier4_cache"`
	QueueSize             int           `yaml:"queue_size"`
	DisposalSoftCap       int           `yaml:"disposal_soft_cap"`
	DisposalEvictFraction float64       `yaml:"disposal_evict_fraction"`
	DisposalLatency       time.Duration `yaml:"disposal_latency"`
	YieldDelay            time.Duration `yaml:"yield_delay"`
}

// StreamerConfig paces the tick loop and dispatch retries.
type StreamerConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	RetryInitial time.Duration `yaml:"retry_initial"`
	RetryMax     time.Duration `yaml:"retry_max"`
	MaxRetries   uint64        `yaml:"max_retries"`
}

// ServerConfig configures the WebSocket endpoint.
type ServerConfig struct {
	BindAddress   string        `yaml:"bind_address"`
	Port          int           `yaml:"port"`
	SendQueueSize int           `yaml:"send_queue_size"` // per-client outbox capacity
	WriteTimeout  time.Duration `yaml:"write_timeout"`   // per-write deadline
}

// SceneConfig optionally builds a scene at startup.
type SceneConfig struct {
	Manifest string `yaml:"manifest"` // YAML manifest path
	Grid     bool   `yaml:"grid"`     // synthetic grid when no manifest is set
	Seed     bool   `yaml:"seed"`     // write merged payloads before serving
}

// Enabled reports whether a startup scene is configured.
func (s SceneConfig) Enabled() bool {
	return s.Manifest != "" || s.Grid
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.Port)
}

// Default returns Streamer config with sensible defaults.
func Default() Streamer {
	return Streamer{
		LogLevel: "info",
		Store: StoreConfig{
			Backend:    BackendMemory,
			SQLitePath: "data/geostream.db",
			Database: DatabaseConfig{
				Host:     "127.0.0.1",
				Port:     5432,
				User:     "geostream",
				Password: "geostream",
				DBName:   "geostream",
				SSLMode:  "disable",
			},
		},
		Octree: OctreeConfig{MinSize: octree.DefaultMinSize},
		LOD: LODConfig{
			Thresholds:          lod.DefaultThresholds(),
			MovementSensitivity: lod.DefaultConfig().MovementSensitivity,
		},
		Workers: WorkersConfig{
			Tier3Cache:            worker.DefaultLoadConfig(3).CacheBound,
			Tier4Cache:            worker.DefaultLoadConfig(4).CacheBound,
			QueueSize:             worker.DefaultQueueSize,
			DisposalSoftCap:       worker.DefaultDisposalSoftCap,
			DisposalEvictFraction: worker.DefaultDisposalEvictFraction,
		},
		Streamer: StreamerConfig{
			TickInterval: 100 * time.Millisecond,
			RetryInitial: 5 * time.Millisecond,
			RetryMax:     50 * time.Millisecond,
			MaxRetries:   3,
		},
		Server: ServerConfig{
			BindAddress:   "0.0.0.0",
			Port:          8765,
			SendQueueSize: 256,
			WriteTimeout:  5 * time.Second,
		},
	}
}

// Load loads config from a YAML file.
// If the file doesn't exist, returns defaults.
func Load(path string) (Streamer, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Path picks the config path: the flag value if set, then $GEOSTREAM_CONFIG,
// then fallback.
func Path(flagValue, fallback string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvPath); env != "" {
		return env
	}
	return fallback
}

// Validate reports every inconsistent setting at once.
func (c Streamer) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case BackendMemory, BackendPostgres:
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}

	if c.Octree.MinSize <= 0 {
		errs = append(errs, fmt.Errorf("octree.min_size must be positive, got %g", c.Octree.MinSize))
	}
	if err := c.LOD.Thresholds.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Workers.Tier3Cache < 0 || c.Workers.Tier4Cache < 0 {
		errs = append(errs, errors.New("workers cache bounds must not be negative"))
	}
	if f := c.Workers.DisposalEvictFraction; f <= 0 || f > 1 {
		errs = append(errs, fmt.Errorf("workers.disposal_evict_fraction must be in (0, 1], got %g", f))
	}
	if c.Streamer.TickInterval <= 0 {
		errs = append(errs, errors.New("streamer.tick_interval must be positive"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	return errors.Join(errs...)
}

// StreamerConfig converts the file settings into the orchestrator's config.
func (c Streamer) StreamerConfig() streamer.Config {
	sc := streamer.DefaultConfig()
	sc.MinSize = c.Octree.MinSize
	sc.Thresholds = c.LOD.Thresholds
	sc.Engine.MovementSensitivity = c.LOD.MovementSensitivity

	for tier := range sc.Loaders {
		lc := worker.DefaultLoadConfig(tier)
		lc.QueueSize = c.Workers.QueueSize
		switch tier {
		case 3:
			lc.CacheBound = c.Workers.Tier3Cache
		case 4:
			lc.CacheBound = c.Workers.Tier4Cache
		}
		sc.Loaders[tier] = lc
	}

	sc.Disposal = worker.DisposalConfig{
		QueueSize:     c.Workers.QueueSize,
		SoftCap:       c.Workers.DisposalSoftCap,
		EvictFraction: c.Workers.DisposalEvictFraction,
		Latency:       c.Workers.DisposalLatency,
		YieldDelay:    c.Workers.YieldDelay,
	}

	sc.TickInterval = c.Streamer.TickInterval
	sc.RetryInitial = c.Streamer.RetryInitial
	sc.RetryMax = c.Streamer.RetryMax
	sc.MaxRetries = c.Streamer.MaxRetries
	return sc
}
