package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloudscope/internal/domain"
	"cloudscope/internal/repository"
)

// RelationshipStore persists relationships in the relationships table
type RelationshipStore struct {
	db     *DB
	logger *slog.Logger
}

var _ repository.RelationshipRepository = (*RelationshipStore)(nil)

// missingEndpoint returns the first endpoint of r with no stored asset, or ""
func missingEndpoint(ctx context.Context, q querier, r *domain.Relationship) (string, error) {
	for _, id := range []string{r.SourceID, r.TargetID} {
		var one int
		err := q.QueryRowContext(ctx, `SELECT 1 FROM assets WHERE asset_id = ?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return id, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", nil
}

func endpointNotFound(op string, r *domain.Relationship, assetID string) error {
	return &repository.Error{
		Op:     op,
		Entity: repository.EntityRelationship,
		ID:     r.ID,
		Err:    fmt.Errorf("%w: endpoint asset %s", repository.ErrNotFound, assetID),
	}
}

// classify maps constraint failures on a relationship write to the contract errors
func classify(op string, r *domain.Relationship, err error) error {
	switch {
	case isUniqueViolation(err):
		return repository.Duplicate(op, repository.EntityRelationship, r.ID)
	case isForeignKeyViolation(err):
		return endpointNotFound(op, r, r.SourceID+"|"+r.TargetID)
	}
	return repository.Wrap(op, repository.EntityRelationship, r.ID, err)
}

func (s *RelationshipStore) save(ctx context.Context, q querier, op string, rel *domain.Relationship) (*domain.Relationship, error) {
	r := rel.Clone()
	r.Normalize()
	if err := r.Validate(); err != nil {
		return nil, repository.Wrap(op, repository.EntityRelationship, r.ID, err)
	}

	missing, err := missingEndpoint(ctx, q, r)
	if err != nil {
		return nil, repository.Wrap(op, repository.EntityRelationship, r.ID, err)
	}
	if missing != "" {
		return nil, endpointNotFound(op, r, missing)
	}

	args, err := relationshipInsertArgs(r)
	if err != nil {
		return nil, repository.Wrap(op, repository.EntityRelationship, r.ID, err)
	}
	if _, err := q.ExecContext(ctx, `INSERT INTO relationships (`+relationshipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...); err != nil {
		return nil, classify(op, r, err)
	}
	return r, nil
}

// Save stores a new relationship. A reused id or natural key is rejected with
// ErrDuplicate and a missing endpoint asset with ErrNotFound.
func (s *RelationshipStore) Save(ctx context.Context, rel *domain.Relationship) (*domain.Relationship, error) {
	r, err := inTx(ctx, s.db.db, func(tx *sql.Tx) (*domain.Relationship, error) {
		return s.save(ctx, tx, "save", rel)
	})
	if err != nil {
		return nil, repository.Wrap("save", repository.EntityRelationship, repository.RelationshipIDOf(rel), err)
	}
	s.logger.Debug("saved relationship", "relationship_id", r.ID, "key", r.Key().String())
	return r, nil
}

// SaveBatch saves every relationship in one transaction, skipping duplicates
func (s *RelationshipStore) SaveBatch(ctx context.Context, rels []*domain.Relationship) ([]*domain.Relationship, error) {
	return inTx(ctx, s.db.db, func(tx *sql.Tx) ([]*domain.Relationship, error) {
		return repository.RunBatch(ctx, s.logger, "save_batch", repository.EntityRelationship, rels, repository.RelationshipIDOf,
			func(ctx context.Context, r *domain.Relationship) (*domain.Relationship, error) {
				return savepoint(ctx, tx, func() (*domain.Relationship, error) {
					return s.save(ctx, tx, "save_batch", r)
				})
			})
	})
}

func (s *RelationshipStore) findByID(ctx context.Context, q querier, id string) (*domain.Relationship, error) {
	var row relationshipRow
	err := q.QueryRowContext(ctx, `SELECT `+relationshipColumns+` FROM relationships WHERE relationship_id = ?`, id).
		Scan(row.scanArgs()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

// FindByID returns the relationship or nil when absent
func (s *RelationshipStore) FindByID(ctx context.Context, id string) (*domain.Relationship, error) {
	r, err := s.findByID(ctx, s.db.db, id)
	if err != nil {
		return nil, repository.Wrap("find", repository.EntityRelationship, id, err)
	}
	return r, nil
}

func relationshipWhere(filter domain.RelationshipFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.SourceID != "" {
		conds = append(conds, "source_id = ?")
		args = append(args, filter.SourceID)
	}
	if filter.TargetID != "" {
		conds = append(conds, "target_id = ?")
		args = append(args, filter.TargetID)
	}
	if filter.Type != "" {
		conds = append(conds, "relationship_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.MinConfidence != nil {
		conds = append(conds, "confidence >= ?")
		args = append(args, *filter.MinConfidence)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *RelationshipStore) query(ctx context.Context, op, where string, args ...any) ([]*domain.Relationship, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT `+relationshipColumns+` FROM relationships`+where, args...)
	if err != nil {
		return nil, repository.Wrap(op, repository.EntityRelationship, "", err)
	}
	rels, err := scanRelationships(rows)
	if err != nil {
		return nil, repository.Wrap(op, repository.EntityRelationship, "", err)
	}
	return rels, nil
}

const relationshipOrder = ` ORDER BY created_at DESC, relationship_id ASC`

// FindAll returns relationships matching filter, newest first
func (s *RelationshipStore) FindAll(ctx context.Context, filter domain.RelationshipFilter, limit, offset int) ([]*domain.Relationship, error) {
	where, args := relationshipWhere(filter)
	limit, offset = limitOffset(limit, offset)
	args = append(args, limit, offset)
	return s.query(ctx, "find_all", where+relationshipOrder+` LIMIT ? OFFSET ?`, args...)
}

// FindBySource returns relationships leaving sourceID
func (s *RelationshipStore) FindBySource(ctx context.Context, sourceID string) ([]*domain.Relationship, error) {
	return s.FindAll(ctx, domain.RelationshipFilter{SourceID: sourceID}, 0, 0)
}

// FindByTarget returns relationships entering targetID
func (s *RelationshipStore) FindByTarget(ctx context.Context, targetID string) ([]*domain.Relationship, error) {
	return s.FindAll(ctx, domain.RelationshipFilter{TargetID: targetID}, 0, 0)
}

// FindByType returns relationships of one type
func (s *RelationshipStore) FindByType(ctx context.Context, relType domain.RelationshipType) ([]*domain.Relationship, error) {
	return s.FindAll(ctx, domain.RelationshipFilter{Type: relType}, 0, 0)
}

// FindByAsset returns relationships with assetID at either end
func (s *RelationshipStore) FindByAsset(ctx context.Context, assetID string) ([]*domain.Relationship, error) {
	return s.query(ctx, "find_by_asset", ` WHERE source_id = ? OR target_id = ?`+relationshipOrder, assetID, assetID)
}

// FindBetween returns relationships linking a and b in either direction
func (s *RelationshipStore) FindBetween(ctx context.Context, a, b string) ([]*domain.Relationship, error) {
	return s.query(ctx, "find_between",
		` WHERE (source_id = ? AND target_id = ?) OR (source_id = ? AND target_id = ?)`+relationshipOrder,
		a, b, b, a)
}

func (s *RelationshipStore) update(ctx context.Context, q querier, op string, rel *domain.Relationship) (*domain.Relationship, error) {
	r := rel.Clone()
	r.Normalize()
	if err := r.Validate(); err != nil {
		return nil, repository.Wrap(op, repository.EntityRelationship, r.ID, err)
	}

	old, err := s.findByID(ctx, q, r.ID)
	if err != nil {
		return nil, repository.Wrap(op, repository.EntityRelationship, r.ID, err)
	}
	if old == nil {
		return nil, repository.NotFound(op, repository.EntityRelationship, r.ID)
	}
	if old.SourceID != r.SourceID || old.TargetID != r.TargetID {
		missing, err := missingEndpoint(ctx, q, r)
		if err != nil {
			return nil, repository.Wrap(op, repository.EntityRelationship, r.ID, err)
		}
		if missing != "" {
			return nil, endpointNotFound(op, r, missing)
		}
	}
	r.CreatedAt = old.CreatedAt
	r.Touch()

	args, err := relationshipInsertArgs(r)
	if err != nil {
		return nil, repository.Wrap(op, repository.EntityRelationship, r.ID, err)
	}
	args = append(args[1:], r.ID)
	if _, err := q.ExecContext(ctx, `UPDATE relationships SET
		source_id = ?, target_id = ?, relationship_type = ?, properties = ?, confidence = ?,
		created_at = ?, updated_at = ?, discovered_by = ?, discovery_method = ?
		WHERE relationship_id = ?`, args...); err != nil {
		return nil, classify(op, r, err)
	}
	return r, nil
}

// Update replaces a stored relationship. Moving it onto a key already in use
// is rejected with ErrDuplicate.
func (s *RelationshipStore) Update(ctx context.Context, rel *domain.Relationship) (*domain.Relationship, error) {
	r, err := inTx(ctx, s.db.db, func(tx *sql.Tx) (*domain.Relationship, error) {
		return s.update(ctx, tx, "update", rel)
	})
	if err != nil {
		return nil, repository.Wrap("update", repository.EntityRelationship, repository.RelationshipIDOf(rel), err)
	}
	s.logger.Debug("updated relationship", "relationship_id", r.ID)
	return r, nil
}

// UpdateBatch updates every relationship in one transaction, collecting failures
func (s *RelationshipStore) UpdateBatch(ctx context.Context, rels []*domain.Relationship) ([]*domain.Relationship, error) {
	return inTx(ctx, s.db.db, func(tx *sql.Tx) ([]*domain.Relationship, error) {
		return repository.RunBatch(ctx, s.logger, "update_batch", repository.EntityRelationship, rels, repository.RelationshipIDOf,
			func(ctx context.Context, r *domain.Relationship) (*domain.Relationship, error) {
				return savepoint(ctx, tx, func() (*domain.Relationship, error) {
					return s.update(ctx, tx, "update_batch", r)
				})
			})
	})
}

func execCount(ctx context.Context, q querier, query string, args ...any) (int, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Delete removes a relationship, reporting whether it existed
func (s *RelationshipStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := execCount(ctx, s.db.db, `DELETE FROM relationships WHERE relationship_id = ?`, id)
	if err != nil {
		return false, repository.Wrap("delete", repository.EntityRelationship, id, err)
	}
	return n > 0, nil
}

// DeleteBatch deletes every id in one transaction and returns how many existed
func (s *RelationshipStore) DeleteBatch(ctx context.Context, ids []string) (int, error) {
	return inTx(ctx, s.db.db, func(tx *sql.Tx) (int, error) {
		return repository.DeleteEach(ctx, "delete_batch", repository.EntityRelationship, ids,
			func(ctx context.Context, id string) (bool, error) {
				n, err := execCount(ctx, tx, `DELETE FROM relationships WHERE relationship_id = ?`, id)
				return n > 0, err
			})
	})
}

// DeleteByAsset removes every relationship touching assetID
func (s *RelationshipStore) DeleteByAsset(ctx context.Context, assetID string) (int, error) {
	n, err := execCount(ctx, s.db.db, `DELETE FROM relationships WHERE source_id = ? OR target_id = ?`, assetID, assetID)
	if err != nil {
		return 0, repository.Wrap("delete_by_asset", repository.EntityRelationship, assetID, err)
	}
	if n > 0 {
		s.logger.Info("deleted relationships for asset", "asset_id", assetID, "count", n)
	}
	return n, nil
}

// Count returns the number of relationships matching filter
func (s *RelationshipStore) Count(ctx context.Context, filter domain.RelationshipFilter) (int, error) {
	where, args := relationshipWhere(filter)
	var n int
	if err := s.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relationships`+where, args...).Scan(&n); err != nil {
		return 0, repository.Wrap("count", repository.EntityRelationship, "", err)
	}
	return n, nil
}

// Exists reports whether a relationship with id is stored
func (s *RelationshipStore) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.db.QueryRowContext(ctx, `SELECT 1 FROM relationships WHERE relationship_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, repository.Wrap("exists", repository.EntityRelationship, id, err)
	}
	return true, nil
}

// Search narrows candidates with LIKE, then applies the exact match rules
func (s *RelationshipStore) Search(ctx context.Context, query string, limit int) ([]*domain.Relationship, error) {
	where := ""
	var args []any
	if plain, text, ok := searchPatterns(query); ok {
		where = ` WHERE relationship_type LIKE ? ESCAPE '\'
		OR lower(discovered_by) LIKE ? ESCAPE '\'
		OR lower(COALESCE(properties, '')) LIKE ? ESCAPE '\'
		OR lower(COALESCE(properties, '')) LIKE ? ESCAPE '\'`
		args = []any{plain, plain, plain, text}
	}
	candidates, err := s.query(ctx, "search", where+relationshipOrder, args...)
	if err != nil {
		return nil, err
	}

	var out []*domain.Relationship
	for _, r := range candidates {
		if !r.MatchesQuery(query) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GraphStatistics computes graph metrics in SQL. Nodes are the distinct
// relationship endpoints.
func (s *RelationshipStore) GraphStatistics(ctx context.Context) (*domain.GraphStatistics, error) {
	const op = "graph_statistics"
	stats := &domain.GraphStatistics{ByType: make(map[domain.RelationshipType]int)}
	q := s.db.db

	var confMin, confAvg, confMax sql.NullFloat64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT relationship_type),
		MIN(confidence), AVG(confidence), MAX(confidence) FROM relationships`).
		Scan(&stats.EdgeCount, &stats.RelationshipTypes, &confMin, &confAvg, &confMax); err != nil {
		return nil, repository.Wrap(op, repository.EntityRelationship, "", err)
	}
	stats.Confidence = domain.ConfidenceStatistics{
		Min:     confMin.Float64,
		Average: domain.Round(confAvg.Float64, 2),
		Max:     confMax.Float64,
	}

	if err := countBy(ctx, q, `SELECT relationship_type, COUNT(*) FROM relationships GROUP BY relationship_type`,
		func(k string, n int) { stats.ByType[domain.RelationshipType(k)] = n }); err != nil {
		return nil, repository.Wrap(op, repository.EntityRelationship, "", err)
	}

	var degMin, degMax sql.NullInt64
	var degAvg sql.NullFloat64
	if err := q.QueryRowContext(ctx, `WITH node_degrees AS (
			SELECT id, COUNT(*) AS degree FROM (
				SELECT source_id AS id FROM relationships
				UNION ALL
				SELECT target_id AS id FROM relationships
			) GROUP BY id
		)
		SELECT COUNT(*), MIN(degree), AVG(degree), MAX(degree) FROM node_degrees`).
		Scan(&stats.NodeCount, &degMin, &degAvg, &degMax); err != nil {
		return nil, repository.Wrap(op, repository.EntityRelationship, "", err)
	}
	stats.Degree = domain.DegreeStatistics{
		Min:     int(degMin.Int64),
		Average: domain.Round(degAvg.Float64, 2),
		Max:     int(degMax.Int64),
	}
	stats.Density = domain.Density(stats.NodeCount, stats.EdgeCount)
	return stats, nil
}

// Close releases this store's hold on the shared database
func (s *RelationshipStore) Close() error {
	return s.db.release()
}
