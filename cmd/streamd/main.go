package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/geostream/internal/config"
	"github.com/udisondev/geostream/internal/octree"
	"github.com/udisondev/geostream/internal/scene"
	"github.com/udisondev/geostream/internal/storage"
	"github.com/udisondev/geostream/internal/streamer"
	"github.com/udisondev/geostream/internal/transport/ws"
)

const DefaultConfigPath = "config/streamd.yaml"

func main() {
	configPath := flag.String("config", "", "path to config file (default $"+config.EnvPath+" or "+DefaultConfigPath+")")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, config.Path(*configPath, DefaultConfigPath)); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("geostream starting",
		"config", cfgPath,
		"log_level", cfg.LogLevel,
		"store", cfg.Store.Backend,
		"addr", cfg.Server.Addr())

	nodes, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("opening node store: %w", err)
	}
	defer func() {
		if err := nodes.Close(); err != nil {
			slog.Error("closing node store", "err", err)
		}
	}()

	st := streamer.New(cfg.StreamerConfig(), nodes)

	if cfg.Scene.Enabled() {
		if err := loadScene(ctx, cfg, st, nodes); err != nil {
			return fmt.Errorf("loading startup scene: %w", err)
		}
	}

	srv := ws.NewServer(ws.Config{
		SendQueueSize:  cfg.Server.SendQueueSize,
		WriteTimeout:   cfg.Server.WriteTimeout,
		DefaultMinSize: cfg.Octree.MinSize,
	}, st)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return st.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx, cfg.Server.Addr())
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("geostream stopped")
	return nil
}

// loadScene builds the configured scene into st and optionally seeds the
// node store with its merged payloads.
func loadScene(ctx context.Context, cfg config.Streamer, st *streamer.Streamer, nodes *storage.Handle) error {
	var (
		m   scene.Manifest
		err error
	)
	if cfg.Scene.Manifest != "" {
		m, err = scene.LoadManifest(cfg.Scene.Manifest)
	} else {
		m, err = scene.Grid(scene.DefaultGrid())
	}
	if err != nil {
		return err
	}

	minSize := m.MinSize
	if minSize <= 0 {
		minSize = cfg.Octree.MinSize
	}
	items := m.OctreeItems()
	tree, err := st.Build(m.Root(), items, minSize)
	if err != nil {
		return err
	}
	logTree(m.Name, tree)

	if !cfg.Scene.Seed {
		return nil
	}
	_, err = scene.Seed(ctx, nodes, tree, items, scene.SeedOptions{})
	return err
}

func logTree(name string, tree *octree.Tree) {
	stats := tree.Stats()
	slog.Info("scene built",
		"scene", name,
		"nodes", stats.Nodes,
		"leaves", stats.Leaves,
		"max_depth", stats.MaxDepth,
		"items", stats.Items,
		"outside", stats.Outside)
}

// parseLogLevel converts string log level to slog.Level.
// Defaults to Info if invalid or empty.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
