// Package repotest provides a contract test suite that every repository
// backend must pass.
package repotest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"cloudscope/internal/domain"
	"cloudscope/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory opens a fresh, empty pair of repositories for one test
type Factory func(t *testing.T) (repository.AssetRepository, repository.RelationshipRepository)

// Options describes backend-specific behavior
type Options struct {
	// RequireEndpoints is set when relationships referencing missing assets
	// are rejected with ErrNotFound
	RequireEndpoints bool
}

// NewAsset builds a valid asset with a fixed creation time so ordering tests
// are deterministic
func NewAsset(id string, assetType domain.AssetType, provider domain.Provider, created time.Time) *domain.Asset {
	a := domain.NewAsset(id, assetType, provider, "asset "+id)
	a.CreatedAt = created
	a.UpdatedAt = created
	a.DiscoveredAt = created
	return a
}

// AssertAssetEqual compares every field, timestamps by instant
func AssertAssetEqual(t *testing.T, want, got *domain.Asset) {
	t.Helper()
	require.NotNil(t, got)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at: want %v got %v", want.CreatedAt, got.CreatedAt)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt), "updated_at: want %v got %v", want.UpdatedAt, got.UpdatedAt)
	assert.True(t, want.DiscoveredAt.Equal(got.DiscoveredAt), "discovered_at: want %v got %v", want.DiscoveredAt, got.DiscoveredAt)

	w, g := want.Clone(), got.Clone()
	w.CreatedAt, w.UpdatedAt, w.DiscoveredAt = time.Time{}, time.Time{}, time.Time{}
	g.CreatedAt, g.UpdatedAt, g.DiscoveredAt = time.Time{}, time.Time{}, time.Time{}
	assert.Equal(t, w, g)
}

// AssertRelationshipEqual compares every field, timestamps by instant
func AssertRelationshipEqual(t *testing.T, want, got *domain.Relationship) {
	t.Helper()
	require.NotNil(t, got)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at: want %v got %v", want.CreatedAt, got.CreatedAt)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt), "updated_at: want %v got %v", want.UpdatedAt, got.UpdatedAt)

	w, g := want.Clone(), got.Clone()
	w.CreatedAt, w.UpdatedAt = time.Time{}, time.Time{}
	g.CreatedAt, g.UpdatedAt = time.Time{}, time.Time{}
	assert.Equal(t, w, g)
}

func ids[T any](items []T, id func(T) string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = id(item)
	}
	return out
}

// AssetIDs returns the ids of assets in order
func AssetIDs(assets []*domain.Asset) []string { return ids(assets, repository.AssetIDOf) }

// RelationshipIDs returns the ids of relationships in order
func RelationshipIDs(rels []*domain.Relationship) []string {
	return ids(rels, repository.RelationshipIDOf)
}

// RunAssetSuite exercises the asset contract
func RunAssetSuite(t *testing.T, open Factory) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("round trip", func(t *testing.T) {
		assets, _ := open(t)
		a := NewAsset("web-1", domain.AssetTypeCompute, domain.ProviderAWS, base)
		a.Tags["env"] = "prod"
		a.Properties["cpu"] = 4
		a.Properties["zones"] = []string{"a", "b"}
		a.Properties["region"] = "us-east-1"
		a.Metadata["owner"] = "platform"
		a.RiskScore = 42.5
		a.EstimatedCost = 12.25
		a.Health = domain.HealthDegraded
		a.ComplianceStatus = domain.ComplianceCompliant

		saved, err := assets.Save(ctx, a)
		require.NoError(t, err)
		// values come back in their JSON-decoded form from every backend
		want := a.Clone()
		want.Properties["cpu"] = 4.0
		want.Properties["zones"] = []any{"a", "b"}
		AssertAssetEqual(t, want, saved)

		got, err := assets.FindByID(ctx, "web-1")
		require.NoError(t, err)
		AssertAssetEqual(t, want, got)
		AssertAssetEqual(t, saved, got)
	})

	t.Run("missing id returns nil", func(t *testing.T) {
		assets, _ := open(t)
		got, err := assets.FindByID(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, got)

		ok, err := assets.Exists(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("duplicate save", func(t *testing.T) {
		assets, _ := open(t)
		a := NewAsset("a1", domain.AssetTypeCompute, domain.ProviderAWS, base)
		_, err := assets.Save(ctx, a)
		require.NoError(t, err)

		_, err = assets.Save(ctx, a)
		require.Error(t, err)
		assert.True(t, repository.IsDuplicate(err), "got %v", err)

		n, err := assets.Count(ctx, domain.AssetFilter{})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("invalid asset rejected", func(t *testing.T) {
		assets, _ := open(t)
		a := NewAsset("a1", domain.AssetTypeCompute, domain.ProviderAWS, base)
		a.RiskScore = 500
		_, err := assets.Save(ctx, a)
		require.Error(t, err)
		assert.True(t, repository.IsInvalid(err))

		ok, err := assets.Exists(ctx, "a1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete removes from indices", func(t *testing.T) {
		assets, _ := open(t)
		a := NewAsset("a1", domain.AssetTypeStorage, domain.ProviderGCP, base)
		a.Tags["env"] = "prod"
		_, err := assets.Save(ctx, a)
		require.NoError(t, err)

		ok, err := assets.Delete(ctx, "a1")
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := assets.FindByID(ctx, "a1")
		require.NoError(t, err)
		assert.Nil(t, got)

		byType, err := assets.FindByType(ctx, domain.AssetTypeStorage)
		require.NoError(t, err)
		assert.Empty(t, byType)
		byProvider, err := assets.FindByProvider(ctx, domain.ProviderGCP)
		require.NoError(t, err)
		assert.Empty(t, byProvider)
		byTags, err := assets.FindByTags(ctx, map[string]string{"env": "prod"})
		require.NoError(t, err)
		assert.Empty(t, byTags)

		ok, err = assets.Delete(ctx, "a1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("update moves index entries", func(t *testing.T) {
		assets, _ := open(t)
		a := NewAsset("a1", domain.AssetTypeCompute, domain.ProviderAWS, base)
		a.Tags["env"] = "prod"
		a.Tags["team"] = "core"
		_, err := assets.Save(ctx, a)
		require.NoError(t, err)

		a.Type = domain.AssetTypeDatabase
		a.Provider = domain.ProviderAzure
		a.Tags["env"] = "staging"
		updated, err := assets.Update(ctx, a)
		require.NoError(t, err)
		assert.False(t, updated.UpdatedAt.Before(updated.CreatedAt))
		assert.True(t, updated.CreatedAt.Equal(base))

		find := func(f domain.AssetFilter) []string {
			found, err := assets.FindAll(ctx, f, 0, 0)
			require.NoError(t, err)
			return AssetIDs(found)
		}
		assert.Empty(t, find(domain.AssetFilter{Type: domain.AssetTypeCompute}))
		assert.Equal(t, []string{"a1"}, find(domain.AssetFilter{Type: domain.AssetTypeDatabase}))
		assert.Empty(t, find(domain.AssetFilter{Provider: domain.ProviderAWS}))
		assert.Equal(t, []string{"a1"}, find(domain.AssetFilter{Provider: domain.ProviderAzure}))
		assert.Empty(t, find(domain.AssetFilter{Tags: map[string]string{"env": "prod"}}))
		assert.Equal(t, []string{"a1"}, find(domain.AssetFilter{Tags: map[string]string{"env": "staging"}}))
		assert.Equal(t, []string{"a1"}, find(domain.AssetFilter{Tags: map[string]string{"team": "core"}}))

		got, err := assets.FindByID(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, domain.AssetTypeDatabase, got.Type)
	})

	t.Run("update missing", func(t *testing.T) {
		assets, _ := open(t)
		_, err := assets.Update(ctx, NewAsset("ghost", domain.AssetTypeCompute, domain.ProviderAWS, base))
		require.Error(t, err)
		assert.True(t, repository.IsNotFound(err))
	})

	t.Run("find all order filters and pagination", func(t *testing.T) {
		assets, _ := open(t)
		seed := []*domain.Asset{
			NewAsset("c", domain.AssetTypeCompute, domain.ProviderAWS, base),
			NewAsset("a", domain.AssetTypeCompute, domain.ProviderAWS, base.Add(time.Hour)),
			NewAsset("b", domain.AssetTypeStorage, domain.ProviderAWS, base.Add(time.Hour)),
			NewAsset("d", domain.AssetTypeCompute, domain.ProviderGCP, base.Add(2*time.Hour)),
		}
		seed[0].RiskScore = 80
		seed[1].RiskScore = 20
		seed[2].Status = domain.AssetStatusInactive
		seed[3].Tags["env"] = "prod"
		saved, err := assets.SaveBatch(ctx, seed)
		require.NoError(t, err)
		require.Len(t, saved, 4)

		all, err := assets.FindAll(ctx, domain.AssetFilter{}, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "a", "b", "c"}, AssetIDs(all))

		page, err := assets.FindAll(ctx, domain.AssetFilter{}, 2, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, AssetIDs(page))

		filters := []domain.AssetFilter{
			{},
			{Type: domain.AssetTypeCompute},
			{Provider: domain.ProviderAWS},
			{Status: domain.AssetStatusInactive},
			{MinRiskScore: domain.Float(50)},
			{MaxRiskScore: domain.Float(50)},
			{Type: domain.AssetTypeCompute, Provider: domain.ProviderAWS},
			{Tags: map[string]string{"env": "prod"}},
			{Tags: map[string]string{"env": "dev"}},
		}
		for i, f := range filters {
			t.Run(fmt.Sprintf("count matches find all %d", i), func(t *testing.T) {
				found, err := assets.FindAll(ctx, f, 0, 0)
				require.NoError(t, err)
				n, err := assets.Count(ctx, f)
				require.NoError(t, err)
				assert.Equal(t, len(found), n)
			})
		}

		risky, err := assets.FindAll(ctx, domain.AssetFilter{MinRiskScore: domain.Float(50)}, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, AssetIDs(risky))
	})

	t.Run("batch save skips duplicates", func(t *testing.T) {
		assets, _ := open(t)
		_, err := assets.Save(ctx, NewAsset("x1", domain.AssetTypeCompute, domain.ProviderAWS, base))
		require.NoError(t, err)
		_, err = assets.Save(ctx, NewAsset("x2", domain.AssetTypeCompute, domain.ProviderAWS, base))
		require.NoError(t, err)

		batch := []*domain.Asset{
			NewAsset("x1", domain.AssetTypeCompute, domain.ProviderAWS, base),
			NewAsset("n1", domain.AssetTypeCompute, domain.ProviderAWS, base),
			NewAsset("x2", domain.AssetTypeCompute, domain.ProviderAWS, base),
			NewAsset("n2", domain.AssetTypeCompute, domain.ProviderAWS, base),
			NewAsset("n3", domain.AssetTypeCompute, domain.ProviderAWS, base),
		}
		saved, err := assets.SaveBatch(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, []string{"n1", "n2", "n3"}, AssetIDs(saved))

		n, err := assets.Count(ctx, domain.AssetFilter{})
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})

	t.Run("batch of invalid items fails", func(t *testing.T) {
		assets, _ := open(t)
		bad := NewAsset("bad", domain.AssetTypeCompute, domain.ProviderAWS, base)
		bad.Name = ""
		_, err := assets.SaveBatch(ctx, []*domain.Asset{bad})
		require.Error(t, err)
	})

	t.Run("update and delete batch", func(t *testing.T) {
		assets, _ := open(t)
		a := NewAsset("u1", domain.AssetTypeCompute, domain.ProviderAWS, base)
		b := NewAsset("u2", domain.AssetTypeCompute, domain.ProviderAWS, base)
		_, err := assets.SaveBatch(ctx, []*domain.Asset{a, b})
		require.NoError(t, err)

		a.Name = "renamed"
		ghost := NewAsset("ghost", domain.AssetTypeCompute, domain.ProviderAWS, base)
		updated, err := assets.UpdateBatch(ctx, []*domain.Asset{a, ghost})
		require.NoError(t, err)
		assert.Equal(t, []string{"u1"}, AssetIDs(updated))

		n, err := assets.DeleteBatch(ctx, []string{"u1", "u2", "ghost"})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("search", func(t *testing.T) {
		assets, _ := open(t)
		web := NewAsset("s1", domain.AssetTypeCompute, domain.ProviderAWS, base)
		web.Name = "Payments Web"
		db := NewAsset("s2", domain.AssetTypeDatabase, domain.ProviderAWS, base.Add(time.Minute))
		db.Name = "orders"
		db.Tags["team"] = "payments"
		other := NewAsset("s3", domain.AssetTypeStorage, domain.ProviderAWS, base)
		other.Name = "logs"
		_, err := assets.SaveBatch(ctx, []*domain.Asset{web, db, other})
		require.NoError(t, err)

		found, err := assets.Search(ctx, "payments", 0)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"s1", "s2"}, AssetIDs(found))

		limited, err := assets.Search(ctx, "payments", 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("search special characters", func(t *testing.T) {
		assets, _ := open(t)
		a := NewAsset("sc1", domain.AssetTypeCompute, domain.ProviderAWS, base)
		a.Tags["team"] = "R&D"
		a.Properties["url"] = "<internal>"
		a.Properties["motto"] = `say "hi"`
		a.Properties["limits"] = map[string]any{"burst": 10}
		b := NewAsset("sc2", domain.AssetTypeCompute, domain.ProviderAWS, base)
		b.Properties["city"] = "Zürich"
		_, err := assets.SaveBatch(ctx, []*domain.Asset{a, b})
		require.NoError(t, err)

		for _, q := range []string{"r&d", "<INTERNAL", `"hi"`, `{"burst":10}`} {
			found, err := assets.Search(ctx, q, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"sc1"}, AssetIDs(found), "query %q", q)
		}

		found, err := assets.Search(ctx, "zürich", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"sc2"}, AssetIDs(found))
	})

	t.Run("statistics", func(t *testing.T) {
		assets, _ := open(t)
		a := NewAsset("st1", domain.AssetTypeCompute, domain.ProviderAWS, base)
		a.RiskScore = 90
		a.EstimatedCost = 10
		a.Tags["env"] = "prod"
		b := NewAsset("st2", domain.AssetTypeStorage, domain.ProviderGCP, base)
		b.RiskScore = 30
		b.EstimatedCost = 20
		b.Tags["env"] = "prod"
		_, err := assets.SaveBatch(ctx, []*domain.Asset{a, b})
		require.NoError(t, err)

		stats, err := assets.Statistics(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Total)
		assert.Equal(t, 1, stats.ByType[domain.AssetTypeCompute])
		assert.Equal(t, 1, stats.ByProvider[domain.ProviderGCP])
		assert.Equal(t, 2, stats.ByStatus[domain.AssetStatusActive])
		assert.Equal(t, 60.0, stats.Risk.Average)
		assert.Equal(t, 30.0, stats.Risk.Min)
		assert.Equal(t, 90.0, stats.Risk.Max)
		assert.Equal(t, 1, stats.Risk.HighRiskCount)
		assert.Equal(t, 30.0, stats.Cost.Total)
		assert.Equal(t, 15.0, stats.Cost.Average)
		assert.Equal(t, 1, stats.UniqueTags)
		assert.NotEmpty(t, stats.Storage.Backend)
	})
}

// RunRelationshipSuite exercises the relationship contract
func RunRelationshipSuite(t *testing.T, open Factory, opts Options) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	seedAssets := func(t *testing.T, assets repository.AssetRepository, names ...string) {
		t.Helper()
		for _, n := range names {
			_, err := assets.Save(ctx, NewAsset(n, domain.AssetTypeCompute, domain.ProviderAWS, base))
			require.NoError(t, err)
		}
	}
	newRel := func(id, src, dst string, typ domain.RelationshipType, created time.Time) *domain.Relationship {
		r := domain.NewRelationship(src, dst, typ)
		r.ID = id
		r.CreatedAt = created
		r.UpdatedAt = created
		return r
	}

	t.Run("round trip", func(t *testing.T) {
		assets, rels := open(t)
		seedAssets(t, assets, "a", "b")
		r := newRel("rel-1", "a", "b", domain.RelDependsOn, base)
		r.Confidence = 0.75
		r.Properties["port"] = 5432.0
		r.DiscoveredBy = "scanner"
		r.DiscoveryMethod = domain.DiscoveryInferred

		_, err := rels.Save(ctx, r)
		require.NoError(t, err)

		got, err := rels.FindByID(ctx, "rel-1")
		require.NoError(t, err)
		AssertRelationshipEqual(t, r, got)

		missing, err := rels.FindByID(ctx, "rel-missing")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("duplicate key rejected", func(t *testing.T) {
		assets, rels := open(t)
		seedAssets(t, assets, "a", "b")
		_, err := rels.Save(ctx, newRel("rel-1", "a", "b", domain.RelDependsOn, base))
		require.NoError(t, err)

		_, err = rels.Save(ctx, newRel("rel-2", "a", "b", domain.RelDependsOn, base))
		require.Error(t, err)
		assert.True(t, repository.IsDuplicate(err), "got %v", err)

		_, err = rels.Save(ctx, newRel("rel-1", "b", "a", domain.RelUses, base))
		require.Error(t, err)
		assert.True(t, repository.IsDuplicate(err), "got %v", err)

		_, err = rels.Save(ctx, newRel("rel-3", "a", "b", domain.RelMonitors, base))
		require.NoError(t, err)
	})

	t.Run("self reference rejected", func(t *testing.T) {
		assets, rels := open(t)
		seedAssets(t, assets, "a")
		_, err := rels.Save(ctx, newRel("rel-1", "a", "a", domain.RelUses, base))
		require.Error(t, err)
		assert.True(t, repository.IsInvalid(err))
	})

	t.Run("dangling endpoint", func(t *testing.T) {
		assets, rels := open(t)
		seedAssets(t, assets, "a1")
		_, err := rels.Save(ctx, newRel("rel-1", "a1", "a2", domain.RelDependsOn, base))
		if opts.RequireEndpoints {
			require.Error(t, err)
			assert.True(t, repository.IsNotFound(err), "got %v", err)
			return
		}
		require.NoError(t, err)
	})

	t.Run("finders", func(t *testing.T) {
		assets, rels := open(t)
		seedAssets(t, assets, "a", "b", "c")
		seed := []*domain.Relationship{
			newRel("rel-ab", "a", "b", domain.RelDependsOn, base),
			newRel("rel-ba", "b", "a", domain.RelMonitors, base.Add(time.Hour)),
			newRel("rel-bc", "b", "c", domain.RelDependsOn, base.Add(2*time.Hour)),
		}
		seed[1].Confidence = 0.4
		saved, err := rels.SaveBatch(ctx, seed)
		require.NoError(t, err)
		require.Len(t, saved, 3)

		bySource, err := rels.FindBySource(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, []string{"rel-bc", "rel-ba"}, RelationshipIDs(bySource))

		byTarget, err := rels.FindByTarget(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []string{"rel-ba"}, RelationshipIDs(byTarget))

		byAsset, err := rels.FindByAsset(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []string{"rel-ba", "rel-ab"}, RelationshipIDs(byAsset))

		byType, err := rels.FindByType(ctx, domain.RelDependsOn)
		require.NoError(t, err)
		assert.Equal(t, []string{"rel-bc", "rel-ab"}, RelationshipIDs(byType))

		between, err := rels.FindBetween(ctx, "a", "b")
		require.NoError(t, err)
		assert.Equal(t, []string{"rel-ba", "rel-ab"}, RelationshipIDs(between))

		all, err := rels.FindAll(ctx, domain.RelationshipFilter{}, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"rel-bc", "rel-ba", "rel-ab"}, RelationshipIDs(all))

		page, err := rels.FindAll(ctx, domain.RelationshipFilter{}, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"rel-ba"}, RelationshipIDs(page))

		filters := []domain.RelationshipFilter{
			{},
			{SourceID: "b"},
			{TargetID: "c"},
			{Type: domain.RelMonitors},
			{MinConfidence: domain.Float(0.5)},
			{SourceID: "b", Type: domain.RelDependsOn},
		}
		for i, f := range filters {
			found, err := rels.FindAll(ctx, f, 0, 0)
			require.NoError(t, err)
			n, err := rels.Count(ctx, f)
			require.NoError(t, err)
			assert.Equal(t, len(found), n, "filter %d", i)
		}

		confident, err := rels.FindAll(ctx, domain.RelationshipFilter{MinConfidence: domain.Float(0.5)}, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"rel-bc", "rel-ab"}, RelationshipIDs(confident))
	})

	t.Run("update", func(t *testing.T) {
		assets, rels := open(t)
		seedAssets(t, assets, "a", "b", "c")
		r := newRel("rel-1", "a", "b", domain.RelUses, base)
		_, err := rels.Save(ctx, r)
		require.NoError(t, err)
		_, err = rels.Save(ctx, newRel("rel-2", "a", "c", domain.RelUses, base))
		require.NoError(t, err)

		r.TargetID = "c"
		_, err = rels.Update(ctx, r)
		require.Error(t, err)
		assert.True(t, repository.IsDuplicate(err), "got %v", err)

		r.Type = domain.RelManages
		r.Confidence = 0.3
		updated, err := rels.Update(ctx, r)
		require.NoError(t, err)
		assert.False(t, updated.UpdatedAt.Before(base))

		byTarget, err := rels.FindByTarget(ctx, "b")
		require.NoError(t, err)
		assert.Empty(t, byTarget)
		byType, err := rels.FindByType(ctx, domain.RelManages)
		require.NoError(t, err)
		assert.Equal(t, []string{"rel-1"}, RelationshipIDs(byType))

		_, err = rels.Update(ctx, newRel("rel-ghost", "a", "b", domain.RelOwns, base))
		require.Error(t, err)
		assert.True(t, repository.IsNotFound(err))

		_, err = rels.UpdateBatch(ctx, []*domain.Relationship{updated})
		require.NoError(t, err)
	})

	t.Run("delete and delete by asset", func(t *testing.T) {
		assets, rels := open(t)
		seedAssets(t, assets, "a", "b", "c")
		_, err := rels.SaveBatch(ctx, []*domain.Relationship{
			newRel("rel-ab", "a", "b", domain.RelDependsOn, base),
			newRel("rel-ca", "c", "a", domain.RelMonitors, base),
			newRel("rel-bc", "b", "c", domain.RelDependsOn, base),
		})
		require.NoError(t, err)

		ok, err := rels.Delete(ctx, "rel-bc")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = rels.Delete(ctx, "rel-bc")
		require.NoError(t, err)
		assert.False(t, ok)

		bySource, err := rels.FindBySource(ctx, "b")
		require.NoError(t, err)
		assert.Empty(t, bySource)

		n, err := rels.DeleteByAsset(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		total, err := rels.Count(ctx, domain.RelationshipFilter{})
		require.NoError(t, err)
		assert.Equal(t, 0, total)

		_, err = rels.SaveBatch(ctx, []*domain.Relationship{
			newRel("rel-x", "a", "b", domain.RelOwns, base),
			newRel("rel-y", "b", "c", domain.RelOwns, base),
		})
		require.NoError(t, err)
		n, err = rels.DeleteBatch(ctx, []string{"rel-x", "rel-y", "rel-z"})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("batch skips duplicates", func(t *testing.T) {
		assets, rels := open(t)
		seedAssets(t, assets, "a", "b", "c")
		_, err := rels.Save(ctx, newRel("rel-1", "a", "b", domain.RelUses, base))
		require.NoError(t, err)

		saved, err := rels.SaveBatch(ctx, []*domain.Relationship{
			newRel("rel-2", "a", "b", domain.RelUses, base),
			newRel("rel-3", "b", "c", domain.RelUses, base),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"rel-3"}, RelationshipIDs(saved))
	})

	t.Run("search", func(t *testing.T) {
		assets, rels := open(t)
		seedAssets(t, assets, "a", "b", "c")
		r := newRel("rel-1", "a", "b", domain.RelLoadBalances, base)
		r.DiscoveredBy = "aws-collector"
		_, err := rels.SaveBatch(ctx, []*domain.Relationship{r, newRel("rel-2", "b", "c", domain.RelOwns, base)})
		require.NoError(t, err)

		found, err := rels.Search(ctx, "collector", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"rel-1"}, RelationshipIDs(found))

		found, err = rels.Search(ctx, "owns", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"rel-2"}, RelationshipIDs(found))
	})

	t.Run("search special characters", func(t *testing.T) {
		assets, rels := open(t)
		seedAssets(t, assets, "a", "b")
		r := newRel("rel-1", "a", "b", domain.RelConnectsTo, base)
		r.Properties["path"] = "/api?x=1&y=<2>"
		_, err := rels.Save(ctx, r)
		require.NoError(t, err)

		found, err := rels.Search(ctx, "&y=<2>", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"rel-1"}, RelationshipIDs(found))
	})

	t.Run("graph statistics", func(t *testing.T) {
		assets, rels := open(t)
		seedAssets(t, assets, "a", "b", "c")
		ab := newRel("rel-ab", "a", "b", domain.RelDependsOn, base)
		ab.Confidence = 0.5
		bc := newRel("rel-bc", "b", "c", domain.RelDependsOn, base)
		_, err := rels.SaveBatch(ctx, []*domain.Relationship{ab, bc})
		require.NoError(t, err)

		stats, err := rels.GraphStatistics(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.NodeCount)
		assert.Equal(t, 2, stats.EdgeCount)
		assert.Equal(t, 1, stats.RelationshipTypes)
		assert.Equal(t, 2, stats.ByType[domain.RelDependsOn])
		assert.Equal(t, 1, stats.Degree.Min)
		assert.Equal(t, 2, stats.Degree.Max)
		assert.Equal(t, 1.33, stats.Degree.Average)
		assert.Equal(t, 0.5, stats.Confidence.Min)
		assert.Equal(t, 0.75, stats.Confidence.Average)
		assert.Equal(t, 0.6667, stats.Density)
	})
}
