package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudscope/internal/config"
	"cloudscope/internal/domain"
	"cloudscope/internal/repository"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Storage.Type = backend
	cfg.Storage.Path = t.TempDir()
	cfg.Storage.SQLite.Path = filepath.Join(cfg.Storage.Path, "cloudscope.db")
	cfg.Storage.Graph.URI = "bolt://127.0.0.1:1"
	cfg.Storage.Graph.ConnectTimeout = config.Duration(500 * time.Millisecond)
	return cfg
}

// exercise saves two linked assets and reads them back
func exercise(t *testing.T, s *Stores) {
	t.Helper()
	ctx := context.Background()

	web := domain.NewAsset("aws-compute-web", domain.AssetTypeCompute, domain.ProviderAWS, "web")
	db := domain.NewAsset("aws-database-main", domain.AssetTypeDatabase, domain.ProviderAWS, "main")
	saved, err := s.Assets.SaveBatch(ctx, []*domain.Asset{web, db})
	require.NoError(t, err)
	require.Len(t, saved, 2)

	_, err = s.Relationships.Save(ctx, domain.NewRelationship(web.ID, db.ID, domain.RelDependsOn))
	require.NoError(t, err)

	n, err := s.Assets.Count(ctx, domain.AssetFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rels, err := s.Relationships.FindByAsset(ctx, db.ID)
	require.NoError(t, err)
	assert.Len(t, rels, 1)
}

func TestOpenFile(t *testing.T) {
	cfg := testConfig(t, config.StorageFile)

	s, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, config.StorageFile, s.Backend())
	assert.False(t, s.Degraded())
	exercise(t, s)

	assert.DirExists(t, filepath.Join(cfg.Storage.Path, "assets"))
	assert.DirExists(t, filepath.Join(cfg.Storage.Path, "relationships"))
}

func TestOpenSQLite(t *testing.T) {
	cfg := testConfig(t, config.StorageSQLite)

	s, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, config.StorageSQLite, s.Backend())
	exercise(t, s)
	assert.FileExists(t, cfg.Storage.SQLite.Path)

	stats, err := s.Assets.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sqlite", stats.Storage.Backend)
}

func TestOpenGraphUnreachableWithFallback(t *testing.T) {
	cfg := testConfig(t, config.StorageGraph)
	cfg.Storage.Fallback = config.FallbackConfig{
		Type: config.StorageFile,
		Path: filepath.Join(cfg.Storage.Path, "fallback"),
	}

	s, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, config.StorageGraph, s.Backend())
	assert.True(t, s.Degraded())
	exercise(t, s)

	stats, err := s.Assets.Statistics(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.Storage.FallbackActive)

	graphStats, err := s.Relationships.GraphStatistics(context.Background())
	require.NoError(t, err)
	assert.True(t, graphStats.FallbackActive)
	assert.Equal(t, 1, graphStats.EdgeCount)

	assert.DirExists(t, filepath.Join(cfg.Storage.Fallback.Path, "assets"))
}

func TestOpenGraphUnreachableWithoutFallback(t *testing.T) {
	cfg := testConfig(t, config.StorageGraph)

	_, err := Open(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open graph storage")
}

func TestOpenUnknownBackend(t *testing.T) {
	cfg := testConfig(t, "cassandra")

	_, err := Open(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "unknown storage type")
}

func TestDuplicateSurfacesThroughWrapper(t *testing.T) {
	s, err := Open(context.Background(), testConfig(t, config.StorageFile), nil)
	require.NoError(t, err)
	defer s.Close()

	a := domain.NewAsset("azure-network-vnet", domain.AssetTypeNetwork, domain.ProviderAzure, "vnet")
	_, err = s.Assets.Save(context.Background(), a)
	require.NoError(t, err)
	_, err = s.Assets.Save(context.Background(), a.Clone())
	assert.True(t, repository.IsDuplicate(err), "got %v", err)
}
