package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloudscope/internal/domain"
	"cloudscope/internal/repository"
	"cloudscope/internal/repository/repotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T, opts ...Option) (*AssetStore, *RelationshipStore) {
	t.Helper()
	dir := t.TempDir()
	assets, err := NewAssetStore(filepath.Join(dir, "assets"), opts...)
	require.NoError(t, err)
	rels, err := NewRelationshipStore(filepath.Join(dir, "relationships"), opts...)
	require.NoError(t, err)
	return assets, rels
}

func factory(opts ...Option) repotest.Factory {
	return func(t *testing.T) (repository.AssetRepository, repository.RelationshipRepository) {
		return openStores(t, opts...)
	}
}

func TestAssetContract(t *testing.T) {
	t.Run("compressed", func(t *testing.T) {
		repotest.RunAssetSuite(t, factory())
	})
	t.Run("plain", func(t *testing.T) {
		repotest.RunAssetSuite(t, factory(WithCompression(false)))
	})
}

func TestRelationshipContract(t *testing.T) {
	repotest.RunRelationshipSuite(t, factory(), repotest.Options{})
}

func readIndex(t *testing.T, dir, name string) map[string][]string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, indexDir, name+".json"))
	require.NoError(t, err)
	var m map[string][]string
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestAssetLayout(t *testing.T) {
	ctx := context.Background()

	t.Run("sharded gzip files", func(t *testing.T) {
		assets, _ := openStores(t)
		_, err := assets.Save(ctx, domain.NewAsset("web-1", domain.AssetTypeCompute, domain.ProviderAWS, "web"))
		require.NoError(t, err)
		_, err = assets.Save(ctx, domain.NewAsset("x", domain.AssetTypeCompute, domain.ProviderAWS, "short"))
		require.NoError(t, err)

		assert.FileExists(t, filepath.Join(assets.Dir(), "we", "web-1.json.gz"))
		assert.FileExists(t, filepath.Join(assets.Dir(), "00", "x.json.gz"))
	})

	t.Run("plain json files", func(t *testing.T) {
		assets, _ := openStores(t, WithCompression(false))
		_, err := assets.Save(ctx, domain.NewAsset("db-1", domain.AssetTypeDatabase, domain.ProviderGCP, "db"))
		require.NoError(t, err)

		data, err := os.ReadFile(filepath.Join(assets.Dir(), "db", "db-1.json"))
		require.NoError(t, err)
		assert.Contains(t, string(data), `"asset_id": "db-1"`)
	})

	t.Run("index files track mutations", func(t *testing.T) {
		assets, _ := openStores(t)
		a := domain.NewAsset("a1", domain.AssetTypeCompute, domain.ProviderAWS, "vm")
		a.Tags["env"] = "prod"
		_, err := assets.Save(ctx, a)
		require.NoError(t, err)

		assert.Equal(t, map[string][]string{"compute": {"a1"}}, readIndex(t, assets.Dir(), indexByType))
		assert.Equal(t, map[string][]string{"aws": {"a1"}}, readIndex(t, assets.Dir(), indexByProvider))
		assert.Equal(t, map[string][]string{"env=prod": {"a1"}}, readIndex(t, assets.Dir(), indexByTags))

		a.Tags["env"] = "dev"
		_, err = assets.Update(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, map[string][]string{"env=dev": {"a1"}}, readIndex(t, assets.Dir(), indexByTags))

		_, err = assets.Delete(ctx, "a1")
		require.NoError(t, err)
		assert.Empty(t, readIndex(t, assets.Dir(), indexByType))
		assert.Empty(t, readIndex(t, assets.Dir(), indexByTags))
	})

	t.Run("indices survive reopen", func(t *testing.T) {
		assets, _ := openStores(t)
		_, err := assets.Save(ctx, domain.NewAsset("a1", domain.AssetTypeStorage, domain.ProviderAWS, "bucket"))
		require.NoError(t, err)

		reopened, err := NewAssetStore(assets.Dir())
		require.NoError(t, err)
		found, err := reopened.FindByType(ctx, domain.AssetTypeStorage)
		require.NoError(t, err)
		assert.Equal(t, []string{"a1"}, repotest.AssetIDs(found))
	})

	t.Run("rejects path ids", func(t *testing.T) {
		assets, _ := openStores(t)
		for _, id := range []string{"../escape", "a/b", `a\b`, ".hidden"} {
			_, err := assets.Save(ctx, domain.NewAsset(id, domain.AssetTypeCompute, domain.ProviderAWS, "bad"))
			require.Error(t, err, id)
			assert.True(t, repository.IsInvalid(err), id)

			got, err := assets.FindByID(ctx, id)
			require.NoError(t, err)
			assert.Nil(t, got)
		}
	})

	t.Run("statistics report storage", func(t *testing.T) {
		assets, _ := openStores(t)
		_, err := assets.Save(ctx, domain.NewAsset("a1", domain.AssetTypeCompute, domain.ProviderAWS, "vm"))
		require.NoError(t, err)

		stats, err := assets.Statistics(ctx)
		require.NoError(t, err)
		assert.Equal(t, "file", stats.Storage.Backend)
		assert.Equal(t, assets.Dir(), stats.Storage.Location)
		assert.True(t, stats.Storage.Compressed)
		assert.Positive(t, stats.Storage.SizeBytes)
	})
}

func TestIndexCommitFailure(t *testing.T) {
	ctx := context.Background()
	assets, _ := openStores(t)
	_, err := assets.Save(ctx, domain.NewAsset("a1", domain.AssetTypeCompute, domain.ProviderAWS, "vm"))
	require.NoError(t, err)

	// replacing the index directory with a file makes every index write fail
	idx := filepath.Join(assets.Dir(), indexDir)
	require.NoError(t, os.Rename(idx, idx+".bak"))
	require.NoError(t, os.WriteFile(idx, []byte("blocker"), 0644))

	_, err = assets.Save(ctx, domain.NewAsset("a2", domain.AssetTypeCompute, domain.ProviderAWS, "vm2"))
	require.Error(t, err)

	require.NoError(t, os.Remove(idx))
	require.NoError(t, os.Rename(idx+".bak", idx))

	got, err := assets.FindByID(ctx, "a2")
	require.NoError(t, err)
	assert.Nil(t, got, "entity file must be removed when the index commit fails")

	found, err := assets.FindByType(ctx, domain.AssetTypeCompute)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, repotest.AssetIDs(found))
}

func TestRelationshipLayout(t *testing.T) {
	ctx := context.Background()
	_, rels := openStores(t)

	r := domain.NewRelationship("a", "b", domain.RelUses)
	_, err := rels.Save(ctx, r)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(rels.Dir(), "rel", r.ID+".json.gz"))
	assert.Equal(t, map[string][]string{"a": {r.ID}}, readIndex(t, rels.Dir(), indexBySource))
	assert.Equal(t, map[string][]string{"b": {r.ID}}, readIndex(t, rels.Dir(), indexByTarget))
	assert.Equal(t, map[string][]string{"uses": {r.ID}}, readIndex(t, rels.Dir(), indexByRel))
}

func TestIndex(t *testing.T) {
	ix := &index{entries: make(map[string][]string)}
	ix.add("k", "b")
	ix.add("k", "a")
	ix.add("k", "a")
	assert.Equal(t, []string{"a", "b"}, ix.ids("k"))

	ix.remove("k", "a")
	ix.remove("k", "b")
	assert.Empty(t, ix.keys())
}

func TestStaleCreatedAtPreservedOnUpdate(t *testing.T) {
	ctx := context.Background()
	assets, _ := openStores(t)
	created := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	a := repotest.NewAsset("a1", domain.AssetTypeCompute, domain.ProviderAWS, created)
	_, err := assets.Save(ctx, a)
	require.NoError(t, err)

	a.CreatedAt = created.Add(24 * time.Hour)
	a.UpdatedAt = a.CreatedAt
	updated, err := assets.Update(ctx, a)
	require.NoError(t, err)
	assert.True(t, updated.CreatedAt.Equal(created))
}
