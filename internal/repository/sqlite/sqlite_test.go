package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloudscope/internal/domain"
	"cloudscope/internal/repository"
	"cloudscope/internal/repository/repotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helpers
// ============================================================================

// newTestDB opens a file-backed database in a temp dir
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "cloudscope.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func factory(t *testing.T) (repository.AssetRepository, repository.RelationshipRepository) {
	db := newTestDB(t)
	return db.Assets(), db.Relationships()
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, assets *AssetStore, ids ...string) {
	t.Helper()
	for i, id := range ids {
		_, err := assets.Save(context.Background(),
			repotest.NewAsset(id, domain.AssetTypeCompute, domain.ProviderAWS, base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}
}

func newRel(id, src, dst string) *domain.Relationship {
	r := domain.NewRelationship(src, dst, domain.RelDependsOn)
	r.ID = id
	r.CreatedAt = base
	r.UpdatedAt = base
	return r
}

// ============================================================================
// Contract
// ============================================================================

func TestAssetContract(t *testing.T) {
	repotest.RunAssetSuite(t, factory)
}

func TestRelationshipContract(t *testing.T) {
	repotest.RunRelationshipSuite(t, factory, repotest.Options{RequireEndpoints: true})
}

func TestMemoryDatabase(t *testing.T) {
	repotest.RunAssetSuite(t, func(t *testing.T) (repository.AssetRepository, repository.RelationshipRepository) {
		db, err := Open(MemoryPath, Options{})
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		return db.Assets(), db.Relationships()
	})
}

// ============================================================================
// Connection
// ============================================================================

func TestDSN(t *testing.T) {
	got := dsn("/tmp/x.db", DefaultOptions())
	assert.True(t, strings.HasPrefix(got, "file:/tmp/x.db?"))
	for _, p := range []string{"busy_timeout%285000%29", "journal_mode%28WAL%29", "synchronous%28NORMAL%29",
		"cache_size%28-64000%29", "temp_store%28MEMORY%29", "foreign_keys%28ON%29"} {
		assert.Contains(t, got, "_pragma="+p)
	}
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var fk int
	require.NoError(t, db.SQL().QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	assert.Equal(t, 1, fk)

	var mode string
	require.NoError(t, db.SQL().QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))
}

func TestOpenRejectsDirectory(t *testing.T) {
	_, err := Open(t.TempDir(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")

	_, err = Open("  ", Options{})
	require.Error(t, err)
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "cloudscope.db")
	db, err := Open(path, Options{})
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, path, db.Path())
}

func TestStoresShareDatabase(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "shared.db"), Options{})
	require.NoError(t, err)
	assets, rels := db.Assets(), db.Relationships()

	require.NoError(t, assets.Close())
	// still open for the relationship store
	_, err = rels.Count(context.Background(), domain.RelationshipFilter{})
	require.NoError(t, err)

	require.NoError(t, rels.Close())
	assert.ErrorContains(t, db.SQL().Ping(), "closed")
}

// ============================================================================
// Referential integrity
// ============================================================================

func TestRelationshipRequiresEndpoints(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	assets, rels := db.Assets(), db.Relationships()
	seed(t, assets, "a")

	_, err := rels.Save(ctx, newRel("rel-1", "a", "ghost"))
	require.Error(t, err)
	assert.True(t, repository.IsNotFound(err))
	assert.Contains(t, err.Error(), "ghost")

	n, err := rels.Count(ctx, domain.RelationshipFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAssetDeleteCascades(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	assets, rels := db.Assets(), db.Relationships()

	a := repotest.NewAsset("a", domain.AssetTypeCompute, domain.ProviderAWS, base)
	a.Tags["env"] = "prod"
	_, err := assets.Save(ctx, a)
	require.NoError(t, err)
	seed(t, assets, "b", "c")

	_, err = rels.SaveBatch(ctx, []*domain.Relationship{newRel("rel-ab", "a", "b"), newRel("rel-bc", "b", "c")})
	require.NoError(t, err)

	ok, err := assets.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	remaining, err := rels.FindAll(ctx, domain.RelationshipFilter{}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"rel-bc"}, repotest.RelationshipIDs(remaining))

	var tags int
	require.NoError(t, db.SQL().QueryRow(`SELECT COUNT(*) FROM asset_tags WHERE asset_id = 'a'`).Scan(&tags))
	assert.Zero(t, tags)
}

func TestTagsMaterialized(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	assets := db.Assets()

	a := repotest.NewAsset("a", domain.AssetTypeCompute, domain.ProviderAWS, base)
	a.Tags = map[string]string{"env": "prod", "team": "core"}
	_, err := assets.Save(ctx, a)
	require.NoError(t, err)

	a.Tags = map[string]string{"env": "dev"}
	_, err = assets.Update(ctx, a)
	require.NoError(t, err)

	rows, err := db.SQL().Query(`SELECT tag_key, tag_value FROM asset_tags WHERE asset_id = 'a'`)
	require.NoError(t, err)
	defer rows.Close()
	got := map[string]string{}
	for rows.Next() {
		var k, v string
		require.NoError(t, rows.Scan(&k, &v))
		got[k] = v
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, map[string]string{"env": "dev"}, got)
}

func TestBatchRollsBackFailedItemOnly(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	assets := db.Assets()

	good := repotest.NewAsset("good", domain.AssetTypeCompute, domain.ProviderAWS, base)
	bad := repotest.NewAsset("bad", domain.AssetTypeCompute, domain.ProviderAWS, base)
	bad.RiskScore = -1

	saved, err := assets.SaveBatch(ctx, []*domain.Asset{good, bad})
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, repotest.AssetIDs(saved))

	ok, err := assets.Exists(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatisticsStorage(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	assets := db.Assets()
	seed(t, assets, "a")

	stats, err := assets.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", stats.Storage.Backend)
	assert.Equal(t, db.Path(), stats.Storage.Location)
	assert.Positive(t, stats.Storage.SizeBytes)
}

// ============================================================================
// Helpers
// ============================================================================

func TestMarshalToNull(t *testing.T) {
	ns, err := marshalToNull(map[string]string{})
	require.NoError(t, err)
	assert.False(t, ns.Valid)

	ns, err = marshalToNull(map[string]any{"k": 1})
	require.NoError(t, err)
	assert.Equal(t, sql.NullString{String: `{"k":1}`, Valid: true}, ns)

	var out map[string]any
	require.NoError(t, unmarshalJSONField(ns, &out))
	assert.Equal(t, map[string]any{"k": 1.0}, out)
	require.NoError(t, unmarshalJSONField(sql.NullString{}, &out))
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, `%web%`, likePattern("Web"))
	assert.Equal(t, `%50\%\_off%`, likePattern("50%_off"))
}

func TestMarshalToNullKeepsHTMLCharacters(t *testing.T) {
	ns, err := marshalToNull(map[string]string{"team": "R&D <core>"})
	require.NoError(t, err)
	assert.Equal(t, `{"team":"R&D <core>"}`, ns.String)
}

func TestSearchPatterns(t *testing.T) {
	plain, text, ok := searchPatterns(`Say "Hi"`)
	require.True(t, ok)
	assert.Equal(t, `%say "hi"%`, plain)
	assert.Equal(t, `%say \\"hi\\"%`, text)

	_, _, ok = searchPatterns("Zürich")
	assert.False(t, ok)
}

func TestLimitOffset(t *testing.T) {
	l, o := limitOffset(0, -3)
	assert.Equal(t, -1, l)
	assert.Equal(t, 0, o)
	l, o = limitOffset(10, 5)
	assert.Equal(t, 10, l)
	assert.Equal(t, 5, o)
}
