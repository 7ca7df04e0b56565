package graph

import (
	"context"
	"log/slog"

	"cloudscope/internal/domain"
	"cloudscope/internal/repository"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// AssetStore persists assets as Asset nodes
type AssetStore struct {
	client *Client
	logger *slog.Logger
}

var _ repository.AssetRepository = (*AssetStore)(nil)

const assetOrder = ` ORDER BY a.created_at DESC, a.asset_id ASC`

func assetExists(ctx context.Context, tx neo4j.ManagedTransaction, id string) (bool, error) {
	rec, err := first(ctx, tx, `MATCH (a:Asset {asset_id: $id}) RETURN count(a) AS n`, map[string]any{"id": id})
	if err != nil {
		return false, err
	}
	return toInt(value(rec, "n")) > 0, nil
}

func findAsset(ctx context.Context, tx neo4j.ManagedTransaction, id string) (*domain.Asset, error) {
	rec, err := first(ctx, tx, `MATCH (a:Asset {asset_id: $id}) RETURN a`, map[string]any{"id": id})
	if err != nil || rec == nil {
		return nil, err
	}
	return recordAsset(rec, "a")
}

func collectAssets(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) ([]*domain.Asset, error) {
	recs, err := collect(ctx, tx, query, params)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Asset, 0, len(recs))
	for _, rec := range recs {
		a, err := recordAsset(rec, "a")
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Save creates an Asset node. An existing id is rejected with ErrDuplicate.
func (s *AssetStore) Save(ctx context.Context, asset *domain.Asset) (*domain.Asset, error) {
	a := asset.Clone()
	a.Normalize()
	if err := a.Validate(); err != nil {
		return nil, repository.Wrap("save", repository.EntityAsset, a.ID, err)
	}
	props, err := assetProps(a)
	if err != nil {
		return nil, repository.Wrap("save", repository.EntityAsset, a.ID, err)
	}

	_, err = write(ctx, s.client, func(tx neo4j.ManagedTransaction) (struct{}, error) {
		exists, err := assetExists(ctx, tx, a.ID)
		if err != nil {
			return struct{}{}, err
		}
		if exists {
			return struct{}{}, repository.Duplicate("save", repository.EntityAsset, a.ID)
		}
		_, err = counters(ctx, tx, `CREATE (a:Asset) SET a = $props`, map[string]any{"props": props})
		return struct{}{}, err
	})
	if err != nil {
		return nil, repository.Wrap("save", repository.EntityAsset, a.ID, err)
	}

	s.logger.Debug("saved asset", "asset_id", a.ID)
	return a, nil
}

// SaveBatch saves each asset, skipping duplicates
func (s *AssetStore) SaveBatch(ctx context.Context, assets []*domain.Asset) ([]*domain.Asset, error) {
	return repository.RunBatchUntil(ctx, s.logger, "save_batch", repository.EntityAsset, assets, repository.AssetIDOf, IsConnectivityError, s.Save)
}

// FindByID returns the asset or nil when absent
func (s *AssetStore) FindByID(ctx context.Context, id string) (*domain.Asset, error) {
	a, err := read(ctx, s.client, func(tx neo4j.ManagedTransaction) (*domain.Asset, error) {
		return findAsset(ctx, tx, id)
	})
	if err != nil {
		return nil, repository.Wrap("find", repository.EntityAsset, id, err)
	}
	return a, nil
}

// FindAll returns assets matching filter, newest first
func (s *AssetStore) FindAll(ctx context.Context, filter domain.AssetFilter, limit, offset int) ([]*domain.Asset, error) {
	cond, params := assetWhere(filter)
	query := `MATCH (a:Asset)` + cond + ` RETURN a` + assetOrder + page(params, limit, offset)
	assets, err := read(ctx, s.client, func(tx neo4j.ManagedTransaction) ([]*domain.Asset, error) {
		return collectAssets(ctx, tx, query, params)
	})
	if err != nil {
		return nil, repository.Wrap("find_all", repository.EntityAsset, "", err)
	}
	return assets, nil
}

// FindByType returns assets of the given type
func (s *AssetStore) FindByType(ctx context.Context, assetType domain.AssetType) ([]*domain.Asset, error) {
	return s.FindAll(ctx, domain.AssetFilter{Type: assetType}, 0, 0)
}

// FindByProvider returns assets from the given provider
func (s *AssetStore) FindByProvider(ctx context.Context, provider domain.Provider) ([]*domain.Asset, error) {
	return s.FindAll(ctx, domain.AssetFilter{Provider: provider}, 0, 0)
}

// FindByTags returns assets carrying every given tag
func (s *AssetStore) FindByTags(ctx context.Context, tags map[string]string) ([]*domain.Asset, error) {
	return s.FindAll(ctx, domain.AssetFilter{Tags: tags}, 0, 0)
}

func (s *AssetStore) update(ctx context.Context, op string, asset *domain.Asset) (*domain.Asset, error) {
	a := asset.Clone()
	a.Normalize()
	if err := a.Validate(); err != nil {
		return nil, repository.Wrap(op, repository.EntityAsset, a.ID, err)
	}

	out, err := write(ctx, s.client, func(tx neo4j.ManagedTransaction) (*domain.Asset, error) {
		old, err := findAsset(ctx, tx, a.ID)
		if err != nil {
			return nil, err
		}
		if old == nil {
			return nil, repository.NotFound(op, repository.EntityAsset, a.ID)
		}
		next := a.Clone()
		next.CreatedAt = old.CreatedAt
		next.Touch()

		props, err := assetProps(next)
		if err != nil {
			return nil, err
		}
		if _, err := counters(ctx, tx, `MATCH (a:Asset {asset_id: $id}) SET a = $props`,
			map[string]any{"id": a.ID, "props": props}); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return nil, repository.Wrap(op, repository.EntityAsset, a.ID, err)
	}
	return out, nil
}

// Update replaces the properties of an existing node, keeping created_at
func (s *AssetStore) Update(ctx context.Context, asset *domain.Asset) (*domain.Asset, error) {
	a, err := s.update(ctx, "update", asset)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("updated asset", "asset_id", a.ID)
	return a, nil
}

// UpdateBatch updates each asset, collecting failures
func (s *AssetStore) UpdateBatch(ctx context.Context, assets []*domain.Asset) ([]*domain.Asset, error) {
	return repository.RunBatchUntil(ctx, s.logger, "update_batch", repository.EntityAsset, assets, repository.AssetIDOf, IsConnectivityError,
		func(ctx context.Context, a *domain.Asset) (*domain.Asset, error) {
			return s.update(ctx, "update_batch", a)
		})
}

// deleteAssets detaches and deletes the given nodes, returning how many existed
func (s *AssetStore) deleteAssets(ctx context.Context, ids []string) (int, error) {
	return write(ctx, s.client, func(tx neo4j.ManagedTransaction) (int, error) {
		c, err := counters(ctx, tx, `MATCH (a:Asset) WHERE a.asset_id IN $ids DETACH DELETE a`,
			map[string]any{"ids": ids})
		if err != nil {
			return 0, err
		}
		return c.NodesDeleted(), nil
	})
}

// Delete removes an asset and its edges, reporting whether it existed
func (s *AssetStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.deleteAssets(ctx, []string{id})
	if err != nil {
		return false, repository.Wrap("delete", repository.EntityAsset, id, err)
	}
	if n > 0 {
		s.logger.Debug("deleted asset", "asset_id", id)
	}
	return n > 0, nil
}

// DeleteBatch deletes every id in one transaction and returns how many existed
func (s *AssetStore) DeleteBatch(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.deleteAssets(ctx, ids)
	if err != nil {
		return 0, repository.Wrap("delete_batch", repository.EntityAsset, "", err)
	}
	return n, nil
}

// Count returns the number of assets matching filter
func (s *AssetStore) Count(ctx context.Context, filter domain.AssetFilter) (int, error) {
	cond, params := assetWhere(filter)
	n, err := read(ctx, s.client, func(tx neo4j.ManagedTransaction) (int, error) {
		rec, err := first(ctx, tx, `MATCH (a:Asset)`+cond+` RETURN count(a) AS n`, params)
		return toInt(value(rec, "n")), err
	})
	if err != nil {
		return 0, repository.Wrap("count", repository.EntityAsset, "", err)
	}
	return n, nil
}

// Exists reports whether an asset node with id exists
func (s *AssetStore) Exists(ctx context.Context, id string) (bool, error) {
	ok, err := read(ctx, s.client, func(tx neo4j.ManagedTransaction) (bool, error) {
		return assetExists(ctx, tx, id)
	})
	if err != nil {
		return false, repository.Wrap("exists", repository.EntityAsset, id, err)
	}
	return ok, nil
}

// Search narrows candidates with CONTAINS over the name, properties and tags
// strings, then applies the exact match rules, newest first
func (s *AssetStore) Search(ctx context.Context, query string, limit int) ([]*domain.Asset, error) {
	candidates, err := read(ctx, s.client, func(tx neo4j.ManagedTransaction) ([]*domain.Asset, error) {
		params, ok := searchParams(query)
		if !ok {
			return collectAssets(ctx, tx, `MATCH (a:Asset) RETURN a`+assetOrder, nil)
		}
		return collectAssets(ctx, tx, `MATCH (a:Asset)
			WHERE toLower(a.name) CONTAINS $q
				OR toLower(a.properties) CONTAINS $q
				OR toLower(a.properties) CONTAINS $qjson
				OR toLower(a.tags) CONTAINS $qjson
			RETURN a`+assetOrder, params)
	})
	if err != nil {
		return nil, repository.Wrap("search", repository.EntityAsset, "", err)
	}

	var out []*domain.Asset
	for _, a := range candidates {
		if !a.MatchesQuery(query) {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Statistics aggregates asset data in Cypher
func (s *AssetStore) Statistics(ctx context.Context) (*domain.AssetStatistics, error) {
	stats, err := read(ctx, s.client, func(tx neo4j.ManagedTransaction) (*domain.AssetStatistics, error) {
		stats := domain.NewAssetStatistics()
		rec, err := first(ctx, tx, `MATCH (a:Asset)
			RETURN count(a) AS total, avg(a.risk_score) AS risk_avg, min(a.risk_score) AS risk_min,
				max(a.risk_score) AS risk_max,
				sum(CASE WHEN a.risk_score > $high THEN 1 ELSE 0 END) AS high_risk,
				sum(a.estimated_cost) AS cost`, map[string]any{"high": domain.HighRiskThreshold})
		if err != nil {
			return nil, err
		}
		stats.Total = toInt(value(rec, "total"))
		if stats.Total > 0 {
			cost := toFloat(value(rec, "cost"))
			stats.Risk = domain.RiskStatistics{
				Average:       domain.Round(toFloat(value(rec, "risk_avg")), 2),
				Min:           toFloat(value(rec, "risk_min")),
				Max:           toFloat(value(rec, "risk_max")),
				HighRiskCount: toInt(value(rec, "high_risk")),
			}
			stats.Cost = domain.CostStatistics{
				Total:   domain.Round(cost, 2),
				Average: domain.Round(cost/float64(stats.Total), 2),
			}
		}

		groups := []struct {
			property string
			add      func(key string, n int)
		}{
			{"asset_type", func(k string, n int) { stats.ByType[domain.AssetType(k)] = n }},
			{"provider", func(k string, n int) { stats.ByProvider[domain.Provider(k)] = n }},
			{"status", func(k string, n int) { stats.ByStatus[domain.AssetStatus(k)] = n }},
		}
		for _, g := range groups {
			if err := countBy(ctx, tx, `MATCH (a:Asset) RETURN a.`+g.property+` AS k, count(a) AS n`, g.add); err != nil {
				return nil, err
			}
		}

		rec, err = first(ctx, tx, `MATCH (a:Asset) UNWIND a.tag_pairs AS p RETURN count(DISTINCT p) AS n`, nil)
		if err != nil {
			return nil, err
		}
		stats.UniqueTags = toInt(value(rec, "n"))
		return stats, nil
	})
	if err != nil {
		return nil, repository.Wrap("statistics", repository.EntityAsset, "", err)
	}

	stats.Storage = domain.StorageInfo{Backend: "graph", Location: s.client.uri}
	return stats, nil
}

// countBy runs a grouping query returning k and n columns
func countBy(ctx context.Context, tx neo4j.ManagedTransaction, query string, add func(string, int)) error {
	recs, err := collect(ctx, tx, query, nil)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		k, _ := value(rec, "k").(string)
		add(k, toInt(value(rec, "n")))
	}
	return nil
}

// Close releases this store's hold on the shared driver
func (s *AssetStore) Close() error {
	return s.client.release()
}
