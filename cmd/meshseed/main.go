// Scene tooling: generates synthetic manifests and seeds node stores with
// merged mesh payloads.
//
// Usage:
//
//	go run ./cmd/meshseed grid -out scenes/grid.yaml -per-axis 16
//	go run ./cmd/meshseed seed -config config/streamd.yaml -manifest scenes/grid.yaml
//	go run ./cmd/meshseed seed -grid                  # seed the default grid
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/udisondev/geostream/internal/config"
	"github.com/udisondev/geostream/internal/octree"
	"github.com/udisondev/geostream/internal/scene"
	"github.com/udisondev/geostream/internal/storage"
)

const defaultConfigPath = "config/streamd.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "grid":
		err = runGrid(os.Args[2:])
	case "seed":
		err = runSeed(ctx, os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error("meshseed failed", "cmd", os.Args[1], "err", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: meshseed <grid|seed> [flags]")
	fmt.Fprintln(os.Stderr, "  grid   write a synthetic scene manifest")
	fmt.Fprintln(os.Stderr, "  seed   build a scene and store its merged payloads")
}

func runGrid(args []string) error {
	def := scene.DefaultGrid()
	fs := flag.NewFlagSet("grid", flag.ExitOnError)
	out := fs.String("out", "", "output manifest path (stdout if empty)")
	fs.StringVar(&def.Name, "name", def.Name, "scene name, used as item id prefix")
	fs.Float64Var(&def.Size, "size", def.Size, "root cube edge length")
	fs.IntVar(&def.PerAxis, "per-axis", def.PerAxis, "items per axis")
	fs.Float64Var(&def.ItemSize, "item-size", def.ItemSize, "item cube edge length")
	fs.Float64Var(&def.Jitter, "jitter", def.Jitter, "max item displacement")
	fs.Uint64Var(&def.Seed, "seed", def.Seed, "random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := scene.Grid(def)
	if err != nil {
		return err
	}
	data, err := m.Marshal()
	if err != nil {
		return err
	}

	if *out == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", *out, err)
	}
	slog.Info("manifest written", "path", *out, "items", len(m.Items))
	return nil
}

func runSeed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to config file (default $"+config.EnvPath+" or "+defaultConfigPath+")")
	manifest := fs.String("manifest", "", "scene manifest path")
	grid := fs.Bool("grid", false, "seed the default synthetic grid")
	concurrency := fs.Int("concurrency", 8, "parallel store writes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *manifest == "" && !*grid {
		return fmt.Errorf("either -manifest or -grid is required")
	}

	cfg, err := config.Load(config.Path(*cfgPath, defaultConfigPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var m scene.Manifest
	if *manifest != "" {
		m, err = scene.LoadManifest(*manifest)
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
	start := time.Now()
	tree, err := octree.NewBuilder(minSize).Build(m.Root(), items)
	if err != nil {
		return fmt.Errorf("building octree: %w", err)
	}
	slog.Info("octree built", "scene", m.Name, "nodes", tree.Len(), "took", time.Since(start))

	nodes, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("opening node store: %w", err)
	}
	defer nodes.Close()

	n, err := scene.Seed(ctx, nodes, tree, items, scene.SeedOptions{Concurrency: *concurrency})
	if err != nil {
		return err
	}
	slog.Info("seeding complete", "payloads", n, "backend", cfg.Store.Backend, "took", time.Since(start))
	return nil
}
