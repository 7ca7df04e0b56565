// Command cloudscope is an operator tool over the asset and relationship
// repositories: it prints statistics and moves bundles in and out of the
// configured backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"cloudscope/internal/codec"
	"cloudscope/internal/config"
	"cloudscope/internal/domain"
	"cloudscope/internal/observability"
	"cloudscope/internal/storage"
	"cloudscope/internal/watcher"
)

const usage = `usage: cloudscope [-config path] [-metrics-addr addr] <command> [args]

commands:
  stats                         print asset and graph statistics
  import [-watch] FILE          load a JSON or YAML bundle
  export [-format json|yaml]    write every asset and relationship to stdout
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "cloudscope:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("cloudscope", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := fs.String("config", "", "config file path (default: search standard locations)")
	metricsAddr := fs.String("metrics-addr", "", "serve /metrics on this address while the command runs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	var (
		cfg  *config.Config
		path string
		err  error
	)
	if *configPath != "" {
		cfg, path, err = config.LoadFromPath(*configPath)
	} else {
		cfg, path, err = config.Load()
	}
	if err != nil {
		return err
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	logger, err := observability.NewLogger(stderr, cfg.Logging.Format, cfg.Logging.Level)
	if err != nil {
		return err
	}
	if path != "" {
		logger.Debug("config loaded", "path", path)
	}

	if cfg.Metrics.Addr != "" {
		metrics := observability.NewMetricsServer(cfg.Metrics.Addr, logger)
		if err := metrics.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metrics.Stop(shutdownCtx)
		}()
	}

	stores, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Error("close storage", "error", err)
		}
	}()
	if stores.Degraded() {
		logger.Warn("serving from fallback storage", "backend", stores.Backend())
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "stats":
		return runStats(ctx, stores, stdout)
	case "import":
		return runImport(ctx, stores, rest, stderr, logger)
	case "export":
		return runExport(ctx, stores, rest, stdout, stderr)
	}
	fs.Usage()
	return fmt.Errorf("unknown command %q", cmd)
}

type statsReport struct {
	Backend string                  `yaml:"backend"`
	Assets  *domain.AssetStatistics `yaml:"assets"`
	Graph   *domain.GraphStatistics `yaml:"graph"`
}

func runStats(ctx context.Context, stores *storage.Stores, w io.Writer) error {
	assets, err := stores.Assets.Statistics(ctx)
	if err != nil {
		return fmt.Errorf("asset statistics: %w", err)
	}
	graph, err := stores.Relationships.GraphStatistics(ctx)
	if err != nil {
		return fmt.Errorf("graph statistics: %w", err)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(statsReport{Backend: stores.Backend(), Assets: assets, Graph: graph})
}

func runImport(ctx context.Context, stores *storage.Stores, args []string, stderr io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	format := fs.String("format", "", "bundle format (default: from file extension)")
	watch := fs.Bool("watch", false, "keep running and re-apply the bundle whenever the file changes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("import requires exactly one FILE argument")
	}
	path := fs.Arg(0)

	var c codec.Codec = codec.ForPath(path)
	if *format != "" {
		var err error
		if c, err = codec.ForFormat(*format); err != nil {
			return err
		}
	}

	if !*watch {
		return importFile(ctx, stores, c, path, false, logger)
	}

	if err := importFile(ctx, stores, c, path, true, logger); err != nil {
		logger.Error("bundle import failed", "path", path, "error", err)
	}
	w := watcher.New(path, func(ctx context.Context) {
		if err := importFile(ctx, stores, c, path, true, logger); err != nil {
			logger.Error("bundle import failed", "path", path, "error", err)
		}
	}).WithLogger(logger)
	if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch bundle: %w", err)
	}
	return nil
}

// importFile saves every entity in the bundle at path. With upsert, entities
// that already exist are updated instead of skipped as duplicates.
func importFile(ctx context.Context, stores *storage.Stores, c codec.Codec, path string, upsert bool, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open bundle: %w", err)
	}
	defer f.Close()

	bundle, err := c.Parse(f)
	if err != nil {
		return err
	}

	newAssets, oldAssets := bundle.Assets, []*domain.Asset(nil)
	newRels, oldRels := bundle.Relationships, []*domain.Relationship(nil)
	if upsert {
		if newAssets, oldAssets, err = partition(ctx, bundle.Assets, func(a *domain.Asset) string { return a.ID }, stores.Assets.Exists); err != nil {
			return err
		}
		if newRels, oldRels, err = partition(ctx, bundle.Relationships, func(r *domain.Relationship) string { return r.ID }, stores.Relationships.Exists); err != nil {
			return err
		}
	}

	savedAssets, err := stores.Assets.SaveBatch(ctx, newAssets)
	if err != nil {
		return fmt.Errorf("import assets: %w", err)
	}
	updatedAssets, err := stores.Assets.UpdateBatch(ctx, oldAssets)
	if err != nil {
		return fmt.Errorf("update assets: %w", err)
	}
	savedRels, err := stores.Relationships.SaveBatch(ctx, newRels)
	if err != nil {
		return fmt.Errorf("import relationships: %w", err)
	}
	updatedRels, err := stores.Relationships.UpdateBatch(ctx, oldRels)
	if err != nil {
		return fmt.Errorf("update relationships: %w", err)
	}

	logger.Info("bundle imported",
		"path", path,
		"assets", len(savedAssets),
		"assets_updated", len(updatedAssets),
		"assets_skipped", len(bundle.Assets)-len(savedAssets)-len(updatedAssets),
		"relationships", len(savedRels),
		"relationships_updated", len(updatedRels),
		"relationships_skipped", len(bundle.Relationships)-len(savedRels)-len(updatedRels))
	return nil
}

// partition splits items into those not yet stored and those already stored
func partition[T any](ctx context.Context, items []T, id func(T) string, exists func(context.Context, string) (bool, error)) (fresh, stored []T, err error) {
	for _, item := range items {
		found, lookupErr := exists(ctx, id(item))
		if lookupErr != nil {
			return nil, nil, lookupErr
		}
		if found {
			stored = append(stored, item)
		} else {
			fresh = append(fresh, item)
		}
	}
	return fresh, stored, nil
}

func runExport(ctx context.Context, stores *storage.Stores, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	format := fs.String("format", "json", "bundle format: json or yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := codec.ForFormat(*format)
	if err != nil {
		return err
	}

	assets, err := stores.Assets.FindAll(ctx, domain.AssetFilter{}, 0, 0)
	if err != nil {
		return fmt.Errorf("export assets: %w", err)
	}
	rels, err := stores.Relationships.FindAll(ctx, domain.RelationshipFilter{}, 0, 0)
	if err != nil {
		return fmt.Errorf("export relationships: %w", err)
	}

	return c.Export(&codec.Bundle{Assets: assets, Relationships: rels}, stdout)
}
