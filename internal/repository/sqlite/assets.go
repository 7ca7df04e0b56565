package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"cloudscope/internal/domain"
	"cloudscope/internal/repository"
)

// AssetStore persists assets in the assets and asset_tags tables
type AssetStore struct {
	db     *DB
	logger *slog.Logger
}

var _ repository.AssetRepository = (*AssetStore)(nil)

func (s *AssetStore) insert(ctx context.Context, q querier, a *domain.Asset) error {
	args, err := assetInsertArgs(a)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return err
	}
	return writeTags(ctx, q, a)
}

// writeTags replaces the materialized tag rows of a
func writeTags(ctx context.Context, q querier, a *domain.Asset) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM asset_tags WHERE asset_id = ?`, a.ID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	for k, v := range a.Tags {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO asset_tags (asset_id, tag_key, tag_value) VALUES (?, ?, ?)`,
			a.ID, k, v); err != nil {
			return fmt.Errorf("insert tag %s: %w", k, err)
		}
	}
	return nil
}

func (s *AssetStore) save(ctx context.Context, q querier, op string, asset *domain.Asset) (*domain.Asset, error) {
	a := asset.Clone()
	a.Normalize()
	if err := a.Validate(); err != nil {
		return nil, repository.Wrap(op, repository.EntityAsset, a.ID, err)
	}
	if err := s.insert(ctx, q, a); err != nil {
		if isUniqueViolation(err) {
			return nil, repository.Duplicate(op, repository.EntityAsset, a.ID)
		}
		return nil, repository.Wrap(op, repository.EntityAsset, a.ID, err)
	}
	return a, nil
}

// Save stores a new asset. An existing id is rejected with ErrDuplicate.
func (s *AssetStore) Save(ctx context.Context, asset *domain.Asset) (*domain.Asset, error) {
	a, err := inTx(ctx, s.db.db, func(tx *sql.Tx) (*domain.Asset, error) {
		return s.save(ctx, tx, "save", asset)
	})
	if err != nil {
		return nil, repository.Wrap("save", repository.EntityAsset, repository.AssetIDOf(asset), err)
	}
	s.logger.Debug("saved asset", "asset_id", a.ID)
	return a, nil
}

// SaveBatch saves every asset in one transaction, skipping duplicates
func (s *AssetStore) SaveBatch(ctx context.Context, assets []*domain.Asset) ([]*domain.Asset, error) {
	return inTx(ctx, s.db.db, func(tx *sql.Tx) ([]*domain.Asset, error) {
		return repository.RunBatch(ctx, s.logger, "save_batch", repository.EntityAsset, assets, repository.AssetIDOf,
			func(ctx context.Context, a *domain.Asset) (*domain.Asset, error) {
				return savepoint(ctx, tx, func() (*domain.Asset, error) {
					return s.save(ctx, tx, "save_batch", a)
				})
			})
	})
}

func (s *AssetStore) findByID(ctx context.Context, q querier, id string) (*domain.Asset, error) {
	var row assetRow
	err := q.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE asset_id = ?`, id).Scan(row.scanArgs()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

// FindByID returns the asset or nil when absent
func (s *AssetStore) FindByID(ctx context.Context, id string) (*domain.Asset, error) {
	a, err := s.findByID(ctx, s.db.db, id)
	if err != nil {
		return nil, repository.Wrap("find", repository.EntityAsset, id, err)
	}
	return a, nil
}

// assetWhere renders filter as a WHERE clause with its arguments
func assetWhere(filter domain.AssetFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.Type != "" {
		conds = append(conds, "asset_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Provider != "" {
		conds = append(conds, "provider = ?")
		args = append(args, string(filter.Provider))
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.MinRiskScore != nil {
		conds = append(conds, "risk_score >= ?")
		args = append(args, *filter.MinRiskScore)
	}
	if filter.MaxRiskScore != nil {
		conds = append(conds, "risk_score <= ?")
		args = append(args, *filter.MaxRiskScore)
	}

	keys := make([]string, 0, len(filter.Tags))
	for k := range filter.Tags {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		conds = append(conds, `EXISTS (SELECT 1 FROM asset_tags t
			WHERE t.asset_id = assets.asset_id AND t.tag_key = ? AND t.tag_value = ?)`)
		args = append(args, k, filter.Tags[k])
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// FindAll returns assets matching filter, newest first
func (s *AssetStore) FindAll(ctx context.Context, filter domain.AssetFilter, limit, offset int) ([]*domain.Asset, error) {
	where, args := assetWhere(filter)
	limit, offset = limitOffset(limit, offset)
	args = append(args, limit, offset)

	rows, err := s.db.db.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets`+where+`
		ORDER BY created_at DESC, asset_id ASC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, repository.Wrap("find_all", repository.EntityAsset, "", err)
	}
	assets, err := scanAssets(rows)
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

func (s *AssetStore) update(ctx context.Context, q querier, op string, asset *domain.Asset) (*domain.Asset, error) {
	a := asset.Clone()
	a.Normalize()
	if err := a.Validate(); err != nil {
		return nil, repository.Wrap(op, repository.EntityAsset, a.ID, err)
	}

	old, err := s.findByID(ctx, q, a.ID)
	if err != nil {
		return nil, repository.Wrap(op, repository.EntityAsset, a.ID, err)
	}
	if old == nil {
		return nil, repository.NotFound(op, repository.EntityAsset, a.ID)
	}
	a.CreatedAt = old.CreatedAt
	a.Touch()

	args, err := assetInsertArgs(a)
	if err != nil {
		return nil, repository.Wrap(op, repository.EntityAsset, a.ID, err)
	}
	// drop asset_id from the front and key the update on it at the end
	args = append(args[1:], a.ID)
	_, err = q.ExecContext(ctx, `UPDATE assets SET
		asset_type = ?, provider = ?, name = ?, properties = ?, tags = ?, metadata = ?,
		created_at = ?, updated_at = ?, discovered_at = ?, status = ?, health = ?,
		compliance_status = ?, risk_score = ?, estimated_cost = ?
		WHERE asset_id = ?`, args...)
	if err != nil {
		return nil, repository.Wrap(op, repository.EntityAsset, a.ID, err)
	}
	if err := writeTags(ctx, q, a); err != nil {
		return nil, repository.Wrap(op, repository.EntityAsset, a.ID, err)
	}
	return a, nil
}

// Update replaces a stored asset, keeping its original created_at
func (s *AssetStore) Update(ctx context.Context, asset *domain.Asset) (*domain.Asset, error) {
	a, err := inTx(ctx, s.db.db, func(tx *sql.Tx) (*domain.Asset, error) {
		return s.update(ctx, tx, "update", asset)
	})
	if err != nil {
		return nil, repository.Wrap("update", repository.EntityAsset, repository.AssetIDOf(asset), err)
	}
	s.logger.Debug("updated asset", "asset_id", a.ID)
	return a, nil
}

// UpdateBatch updates every asset in one transaction, collecting failures
func (s *AssetStore) UpdateBatch(ctx context.Context, assets []*domain.Asset) ([]*domain.Asset, error) {
	return inTx(ctx, s.db.db, func(tx *sql.Tx) ([]*domain.Asset, error) {
		return repository.RunBatch(ctx, s.logger, "update_batch", repository.EntityAsset, assets, repository.AssetIDOf,
			func(ctx context.Context, a *domain.Asset) (*domain.Asset, error) {
				return savepoint(ctx, tx, func() (*domain.Asset, error) {
					return s.update(ctx, tx, "update_batch", a)
				})
			})
	})
}

func deleteAsset(ctx context.Context, q querier, id string) (bool, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM assets WHERE asset_id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes an asset, reporting whether it existed. Its tags and any
// relationships touching it are removed by cascade.
func (s *AssetStore) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := deleteAsset(ctx, s.db.db, id)
	if err != nil {
		return false, repository.Wrap("delete", repository.EntityAsset, id, err)
	}
	if ok {
		s.logger.Debug("deleted asset", "asset_id", id)
	}
	return ok, nil
}

// DeleteBatch deletes every id in one transaction and returns how many existed
func (s *AssetStore) DeleteBatch(ctx context.Context, ids []string) (int, error) {
	return inTx(ctx, s.db.db, func(tx *sql.Tx) (int, error) {
		return repository.DeleteEach(ctx, "delete_batch", repository.EntityAsset, ids,
			func(ctx context.Context, id string) (bool, error) {
				return deleteAsset(ctx, tx, id)
			})
	})
}

// Count returns the number of assets matching filter
func (s *AssetStore) Count(ctx context.Context, filter domain.AssetFilter) (int, error) {
	where, args := assetWhere(filter)
	var n int
	if err := s.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets`+where, args...).Scan(&n); err != nil {
		return 0, repository.Wrap("count", repository.EntityAsset, "", err)
	}
	return n, nil
}

// Exists reports whether an asset with id is stored
func (s *AssetStore) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.db.QueryRowContext(ctx, `SELECT 1 FROM assets WHERE asset_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, repository.Wrap("exists", repository.EntityAsset, id, err)
	}
	return true, nil
}

// Search narrows candidates with LIKE over the name, properties and tags
// columns, then applies the exact match rules, newest first
func (s *AssetStore) Search(ctx context.Context, query string, limit int) ([]*domain.Asset, error) {
	stmt := `SELECT ` + assetColumns + ` FROM assets`
	var args []any
	if plain, text, ok := searchPatterns(query); ok {
		stmt += ` WHERE lower(name) LIKE ? ESCAPE '\'
			OR lower(COALESCE(properties, '')) LIKE ? ESCAPE '\'
			OR lower(COALESCE(properties, '')) LIKE ? ESCAPE '\'
			OR lower(COALESCE(tags, '')) LIKE ? ESCAPE '\'`
		args = []any{plain, plain, text, text}
	}
	rows, err := s.db.db.QueryContext(ctx, stmt+` ORDER BY created_at DESC, asset_id ASC`, args...)
	if err != nil {
		return nil, repository.Wrap("search", repository.EntityAsset, "", err)
	}
	candidates, err := scanAssets(rows)
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

// Statistics aggregates asset data in SQL
func (s *AssetStore) Statistics(ctx context.Context) (*domain.AssetStatistics, error) {
	stats := domain.NewAssetStatistics()
	q := s.db.db

	var (
		riskAvg, riskMin, riskMax, costTotal sql.NullFloat64
		highRisk                             sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `SELECT COUNT(*), AVG(risk_score), MIN(risk_score), MAX(risk_score),
		SUM(CASE WHEN risk_score > ? THEN 1 ELSE 0 END), SUM(estimated_cost) FROM assets`,
		domain.HighRiskThreshold).
		Scan(&stats.Total, &riskAvg, &riskMin, &riskMax, &highRisk, &costTotal)
	if err != nil {
		return nil, repository.Wrap("statistics", repository.EntityAsset, "", err)
	}

	if stats.Total > 0 {
		stats.Risk.HighRiskCount = int(highRisk.Int64)
		stats.Risk.Average = domain.Round(riskAvg.Float64, 2)
		stats.Risk.Min = riskMin.Float64
		stats.Risk.Max = riskMax.Float64
		stats.Cost.Total = domain.Round(costTotal.Float64, 2)
		stats.Cost.Average = domain.Round(costTotal.Float64/float64(stats.Total), 2)
	}

	groups := []struct {
		column string
		add    func(key string, n int)
	}{
		{"asset_type", func(k string, n int) { stats.ByType[domain.AssetType(k)] = n }},
		{"provider", func(k string, n int) { stats.ByProvider[domain.Provider(k)] = n }},
		{"status", func(k string, n int) { stats.ByStatus[domain.AssetStatus(k)] = n }},
	}
	for _, g := range groups {
		if err := countBy(ctx, q, `SELECT `+g.column+`, COUNT(*) FROM assets GROUP BY `+g.column, g.add); err != nil {
			return nil, repository.Wrap("statistics", repository.EntityAsset, "", err)
		}
	}

	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM (SELECT DISTINCT tag_key, tag_value FROM asset_tags)`).
		Scan(&stats.UniqueTags); err != nil {
		return nil, repository.Wrap("statistics", repository.EntityAsset, "", err)
	}

	stats.Storage = domain.StorageInfo{
		Backend:   "sqlite",
		Location:  s.db.path,
		SizeBytes: s.db.size(),
	}
	return stats, nil
}

// countBy runs a two-column GROUP BY query and feeds each row to add
func countBy(ctx context.Context, q querier, query string, add func(string, int)) error {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		add(key, n)
	}
	return rows.Err()
}

// Close releases this store's hold on the shared database
func (s *AssetStore) Close() error {
	return s.db.release()
}
