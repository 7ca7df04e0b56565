// Package storage builds the asset and relationship repositories named by a
// configuration.
//
// Every backend is returned behind the failover wrappers so calls are
// instrumented the same way. Only the graph backend has a classifier and a
// secondary, so only the graph backend ever fails over.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"cloudscope/internal/config"
	"cloudscope/internal/repository"
	"cloudscope/internal/repository/failover"
	"cloudscope/internal/repository/file"
	"cloudscope/internal/repository/graph"
	"cloudscope/internal/repository/sqlite"
)

// Stores holds one repository per entity type over a single backend pair
type Stores struct {
	Assets        *failover.Assets
	Relationships *failover.Relationships

	backend string
	sw      *failover.Switch
}

// Backend returns the configured primary backend name
func (s *Stores) Backend() string {
	return s.backend
}

// Degraded reports whether calls are served by the fallback backend
func (s *Stores) Degraded() bool {
	return s.sw.Degraded()
}

// Close closes both repositories
func (s *Stores) Close() error {
	return errors.Join(s.Assets.Close(), s.Relationships.Close())
}

// Open builds the repositories selected by cfg.Storage
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sc := cfg.Storage

	switch sc.Type {
	case config.StorageFile:
		assets, rels, err := openFile(sc.Path, sc.CompressEnabled(), logger)
		if err != nil {
			return nil, err
		}
		return wrap(config.StorageFile, assets, rels, "", nil, nil, nil, logger), nil

	case config.StorageSQLite, config.StorageRelational:
		db, err := sqlite.Open(sc.SQLite.Path, sqlite.Options{
			JournalMode: sc.SQLite.JournalMode,
			Synchronous: sc.SQLite.Synchronous,
			CacheSize:   sc.SQLite.CacheSize,
			TempStore:   sc.SQLite.TempStore,
			BusyTimeout: sc.SQLite.BusyTimeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		return wrap(config.StorageSQLite, db.Assets(), db.Relationships(), "", nil, nil, nil, logger), nil

	case config.StorageGraph:
		return openGraph(ctx, sc, logger)
	}

	return nil, fmt.Errorf("unknown storage type %q", sc.Type)
}

func openFile(base string, compress bool, logger *slog.Logger) (*file.AssetStore, *file.RelationshipStore, error) {
	opts := []file.Option{file.WithCompression(compress), file.WithLogger(logger)}

	assets, err := file.NewAssetStore(filepath.Join(base, "assets"), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("open file asset store: %w", err)
	}
	rels, err := file.NewRelationshipStore(filepath.Join(base, "relationships"), opts...)
	if err != nil {
		_ = assets.Close()
		return nil, nil, fmt.Errorf("open file relationship store: %w", err)
	}
	return assets, rels, nil
}

func openGraph(ctx context.Context, sc config.StorageConfig, logger *slog.Logger) (*Stores, error) {
	sw := failover.NewSwitch(graph.IsConnectivityError, logger)

	var fbAssets repository.AssetRepository
	var fbRels repository.RelationshipRepository
	fallback := ""
	if sc.Fallback.Enabled() {
		a, r, err := openFile(sc.Fallback.Path, sc.CompressEnabled(), logger)
		if err != nil {
			return nil, fmt.Errorf("open fallback storage: %w", err)
		}
		fbAssets, fbRels, fallback = a, r, sc.Fallback.Type
	}

	client, err := graph.Open(ctx, graph.Config{
		URI:            sc.Graph.URI,
		Username:       sc.Graph.Username,
		Password:       sc.Graph.Password,
		Database:       sc.Graph.Database,
		Dialect:        graph.Dialect(sc.Graph.Dialect),
		ConnectTimeout: sc.Graph.ConnectTimeout.Duration(),
		Logger:         logger,
	})
	if err != nil {
		if fbAssets == nil {
			return nil, fmt.Errorf("open graph storage: %w", err)
		}
		logger.Warn("graph storage unavailable at startup, serving fallback",
			"uri", sc.Graph.URI, "fallback", fallback, "error", err)
		sw.Trip(repository.EntityAsset, err)
		return wrap(config.StorageGraph, nil, nil, fallback, fbAssets, fbRels, sw, logger), nil
	}

	return wrap(config.StorageGraph, client.Assets(), client.Relationships(), fallback, fbAssets, fbRels, sw, logger), nil
}

// wrap puts a backend pair behind the failover wrappers. A nil primary starts
// the wrappers degraded on the fallback.
func wrap(
	backend string, assets repository.AssetRepository, rels repository.RelationshipRepository,
	fallback string, fbAssets repository.AssetRepository, fbRels repository.RelationshipRepository,
	sw *failover.Switch, logger *slog.Logger,
) *Stores {
	if sw == nil {
		sw = failover.NewSwitch(nil, logger)
	}
	cfg := failover.Config{Primary: backend, Secondary: fallback, Switch: sw, Logger: logger}
	return &Stores{
		Assets:        failover.NewAssets(assets, fbAssets, cfg),
		Relationships: failover.NewRelationships(rels, fbRels, cfg),
		backend:       backend,
		sw:            sw,
	}
}
