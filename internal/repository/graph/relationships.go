package graph

import (
	"context"
	"fmt"
	"log/slog"

	"cloudscope/internal/domain"
	"cloudscope/internal/repository"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// RelationshipStore persists relationships as RELATIONSHIP edges between
// Asset nodes
type RelationshipStore struct {
	client *Client
	logger *slog.Logger
}

var _ repository.RelationshipRepository = (*RelationshipStore)(nil)

const (
	edgeMatch         = `MATCH (s:Asset)-[r:RELATIONSHIP]->(t:Asset)`
	edgeReturn        = ` RETURN r, s.asset_id AS source_id, t.asset_id AS target_id`
	relationshipOrder = ` ORDER BY r.created_at DESC, r.relationship_id ASC`
)

func collectRelationships(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) ([]*domain.Relationship, error) {
	recs, err := collect(ctx, tx, query, params)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Relationship, 0, len(recs))
	for _, rec := range recs {
		r, err := recordRelationship(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func findRelationship(ctx context.Context, tx neo4j.ManagedTransaction, id string) (*domain.Relationship, error) {
	rels, err := collectRelationships(ctx, tx, edgeMatch+` WHERE r.relationship_id = $id`+edgeReturn,
		map[string]any{"id": id})
	if err != nil || len(rels) == 0 {
		return nil, err
	}
	return rels[0], nil
}

// keyHolder returns the id of the edge holding key, ignoring skipID
func keyHolder(ctx context.Context, tx neo4j.ManagedTransaction, key domain.RelationshipKey, skipID string) (string, error) {
	rec, err := first(ctx, tx, `MATCH (s:Asset {asset_id: $source_id})-[r:RELATIONSHIP]->(t:Asset {asset_id: $target_id})
		WHERE r.relationship_type = $relationship_type AND r.relationship_id <> $skip
		RETURN r.relationship_id AS id LIMIT 1`, map[string]any{
		"source_id":         key.SourceID,
		"target_id":         key.TargetID,
		"relationship_type": string(key.Type),
		"skip":              skipID,
	})
	if err != nil {
		return "", err
	}
	id, _ := value(rec, "id").(string)
	return id, nil
}

// checkEndpoints fails with ErrNotFound when either endpoint node is absent
func checkEndpoints(ctx context.Context, tx neo4j.ManagedTransaction, op string, r *domain.Relationship) error {
	for _, id := range []string{r.SourceID, r.TargetID} {
		ok, err := assetExists(ctx, tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return &repository.Error{
				Op:     op,
				Entity: repository.EntityRelationship,
				ID:     r.ID,
				Err:    fmt.Errorf("%w: endpoint asset %s", repository.ErrNotFound, id),
			}
		}
	}
	return nil
}

func createEdge(ctx context.Context, tx neo4j.ManagedTransaction, r *domain.Relationship) error {
	props, err := relationshipProps(r)
	if err != nil {
		return err
	}
	_, err = counters(ctx, tx, `MATCH (s:Asset {asset_id: $source_id}), (t:Asset {asset_id: $target_id})
		CREATE (s)-[r:RELATIONSHIP]->(t) SET r = $props`, map[string]any{
		"source_id": r.SourceID,
		"target_id": r.TargetID,
		"props":     props,
	})
	return err
}

// Save creates an edge. A reused id or natural key is rejected with
// ErrDuplicate and a missing endpoint node with ErrNotFound.
func (s *RelationshipStore) Save(ctx context.Context, rel *domain.Relationship) (*domain.Relationship, error) {
	r := rel.Clone()
	r.Normalize()
	if err := r.Validate(); err != nil {
		return nil, repository.Wrap("save", repository.EntityRelationship, r.ID, err)
	}

	_, err := write(ctx, s.client, func(tx neo4j.ManagedTransaction) (struct{}, error) {
		if err := checkEndpoints(ctx, tx, "save", r); err != nil {
			return struct{}{}, err
		}
		existing, err := findRelationship(ctx, tx, r.ID)
		if err != nil {
			return struct{}{}, err
		}
		if existing != nil {
			return struct{}{}, repository.Duplicate("save", repository.EntityRelationship, r.ID)
		}
		holder, err := keyHolder(ctx, tx, r.Key(), "")
		if err != nil {
			return struct{}{}, err
		}
		if holder != "" {
			return struct{}{}, repository.Duplicate("save", repository.EntityRelationship, r.Key().String())
		}
		return struct{}{}, createEdge(ctx, tx, r)
	})
	if err != nil {
		return nil, repository.Wrap("save", repository.EntityRelationship, r.ID, err)
	}

	s.logger.Debug("saved relationship", "relationship_id", r.ID, "key", r.Key().String())
	return r, nil
}

// SaveBatch saves each relationship, skipping duplicates
func (s *RelationshipStore) SaveBatch(ctx context.Context, rels []*domain.Relationship) ([]*domain.Relationship, error) {
	return repository.RunBatchUntil(ctx, s.logger, "save_batch", repository.EntityRelationship, rels, repository.RelationshipIDOf, IsConnectivityError, s.Save)
}

// FindByID returns the relationship or nil when absent
func (s *RelationshipStore) FindByID(ctx context.Context, id string) (*domain.Relationship, error) {
	r, err := read(ctx, s.client, func(tx neo4j.ManagedTransaction) (*domain.Relationship, error) {
		return findRelationship(ctx, tx, id)
	})
	if err != nil {
		return nil, repository.Wrap("find", repository.EntityRelationship, id, err)
	}
	return r, nil
}

func (s *RelationshipStore) query(ctx context.Context, op, query string, params map[string]any) ([]*domain.Relationship, error) {
	rels, err := read(ctx, s.client, func(tx neo4j.ManagedTransaction) ([]*domain.Relationship, error) {
		return collectRelationships(ctx, tx, query, params)
	})
	if err != nil {
		return nil, repository.Wrap(op, repository.EntityRelationship, "", err)
	}
	return rels, nil
}

// FindAll returns relationships matching filter, newest first
func (s *RelationshipStore) FindAll(ctx context.Context, filter domain.RelationshipFilter, limit, offset int) ([]*domain.Relationship, error) {
	cond, params := relationshipWhere(filter)
	return s.query(ctx, "find_all", edgeMatch+cond+edgeReturn+relationshipOrder+page(params, limit, offset), params)
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
	return s.query(ctx, "find_by_asset",
		edgeMatch+` WHERE s.asset_id = $id OR t.asset_id = $id`+edgeReturn+relationshipOrder,
		map[string]any{"id": assetID})
}

// FindBetween returns relationships linking a and b in either direction
func (s *RelationshipStore) FindBetween(ctx context.Context, a, b string) ([]*domain.Relationship, error) {
	return s.query(ctx, "find_between",
		edgeMatch+` WHERE (s.asset_id = $a AND t.asset_id = $b) OR (s.asset_id = $b AND t.asset_id = $a)`+
			edgeReturn+relationshipOrder,
		map[string]any{"a": a, "b": b})
}

func (s *RelationshipStore) update(ctx context.Context, op string, rel *domain.Relationship) (*domain.Relationship, error) {
	r := rel.Clone()
	r.Normalize()
	if err := r.Validate(); err != nil {
		return nil, repository.Wrap(op, repository.EntityRelationship, r.ID, err)
	}

	out, err := write(ctx, s.client, func(tx neo4j.ManagedTransaction) (*domain.Relationship, error) {
		old, err := findRelationship(ctx, tx, r.ID)
		if err != nil {
			return nil, err
		}
		if old == nil {
			return nil, repository.NotFound(op, repository.EntityRelationship, r.ID)
		}
		if err := checkEndpoints(ctx, tx, op, r); err != nil {
			return nil, err
		}
		holder, err := keyHolder(ctx, tx, r.Key(), r.ID)
		if err != nil {
			return nil, err
		}
		if holder != "" {
			return nil, repository.Duplicate(op, repository.EntityRelationship, r.Key().String())
		}

		next := r.Clone()
		next.CreatedAt = old.CreatedAt
		next.Touch()

		// edges cannot be re-pointed, so the edge is replaced
		if _, err := counters(ctx, tx, `MATCH ()-[r:RELATIONSHIP {relationship_id: $id}]->() DELETE r`,
			map[string]any{"id": r.ID}); err != nil {
			return nil, err
		}
		if err := createEdge(ctx, tx, next); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return nil, repository.Wrap(op, repository.EntityRelationship, r.ID, err)
	}
	return out, nil
}

// Update replaces a stored relationship. Moving it onto a key already in use
// is rejected with ErrDuplicate.
func (s *RelationshipStore) Update(ctx context.Context, rel *domain.Relationship) (*domain.Relationship, error) {
	r, err := s.update(ctx, "update", rel)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("updated relationship", "relationship_id", r.ID)
	return r, nil
}

// UpdateBatch updates each relationship, collecting failures
func (s *RelationshipStore) UpdateBatch(ctx context.Context, rels []*domain.Relationship) ([]*domain.Relationship, error) {
	return repository.RunBatchUntil(ctx, s.logger, "update_batch", repository.EntityRelationship, rels, repository.RelationshipIDOf, IsConnectivityError,
		func(ctx context.Context, r *domain.Relationship) (*domain.Relationship, error) {
			return s.update(ctx, "update_batch", r)
		})
}

func (s *RelationshipStore) deleteWhere(ctx context.Context, query string, params map[string]any) (int, error) {
	return write(ctx, s.client, func(tx neo4j.ManagedTransaction) (int, error) {
		c, err := counters(ctx, tx, query, params)
		if err != nil {
			return 0, err
		}
		return c.RelationshipsDeleted(), nil
	})
}

// Delete removes a relationship, reporting whether it existed
func (s *RelationshipStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.deleteWhere(ctx, `MATCH ()-[r:RELATIONSHIP {relationship_id: $id}]->() DELETE r`,
		map[string]any{"id": id})
	if err != nil {
		return false, repository.Wrap("delete", repository.EntityRelationship, id, err)
	}
	return n > 0, nil
}

// DeleteBatch deletes every id in one transaction and returns how many existed
func (s *RelationshipStore) DeleteBatch(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.deleteWhere(ctx, `MATCH ()-[r:RELATIONSHIP]->() WHERE r.relationship_id IN $ids DELETE r`,
		map[string]any{"ids": ids})
	if err != nil {
		return 0, repository.Wrap("delete_batch", repository.EntityRelationship, "", err)
	}
	return n, nil
}

// DeleteByAsset removes every relationship touching assetID
func (s *RelationshipStore) DeleteByAsset(ctx context.Context, assetID string) (int, error) {
	n, err := s.deleteWhere(ctx, `MATCH (a:Asset {asset_id: $id})-[r:RELATIONSHIP]-() DELETE r`,
		map[string]any{"id": assetID})
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
	cond, params := relationshipWhere(filter)
	n, err := read(ctx, s.client, func(tx neo4j.ManagedTransaction) (int, error) {
		rec, err := first(ctx, tx, edgeMatch+cond+` RETURN count(r) AS n`, params)
		return toInt(value(rec, "n")), err
	})
	if err != nil {
		return 0, repository.Wrap("count", repository.EntityRelationship, "", err)
	}
	return n, nil
}

// Exists reports whether a relationship with id is stored
func (s *RelationshipStore) Exists(ctx context.Context, id string) (bool, error) {
	r, err := s.FindByID(ctx, id)
	if err != nil {
		return false, repository.Wrap("exists", repository.EntityRelationship, id, err)
	}
	return r != nil, nil
}

// Search narrows candidates with CONTAINS, then applies the exact match rules
func (s *RelationshipStore) Search(ctx context.Context, query string, limit int) ([]*domain.Relationship, error) {
	cypher := edgeMatch + edgeReturn + relationshipOrder
	params, ok := searchParams(query)
	if ok {
		cypher = edgeMatch + `
		WHERE r.relationship_type CONTAINS $q
			OR toLower(r.discovered_by) CONTAINS $q
			OR toLower(r.properties) CONTAINS $q
			OR toLower(r.properties) CONTAINS $qjson` + edgeReturn + relationshipOrder
	}
	candidates, err := s.query(ctx, "search", cypher, params)
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

// GraphStatistics computes graph metrics in Cypher. Nodes are the assets with
// at least one relationship.
func (s *RelationshipStore) GraphStatistics(ctx context.Context) (*domain.GraphStatistics, error) {
	stats, err := read(ctx, s.client, func(tx neo4j.ManagedTransaction) (*domain.GraphStatistics, error) {
		stats := &domain.GraphStatistics{ByType: make(map[domain.RelationshipType]int)}

		rec, err := first(ctx, tx, edgeMatch+` RETURN count(r) AS edges,
			min(r.confidence) AS conf_min, avg(r.confidence) AS conf_avg, max(r.confidence) AS conf_max`, nil)
		if err != nil {
			return nil, err
		}
		stats.EdgeCount = toInt(value(rec, "edges"))
		stats.Confidence = domain.ConfidenceStatistics{
			Min:     toFloat(value(rec, "conf_min")),
			Average: domain.Round(toFloat(value(rec, "conf_avg")), 2),
			Max:     toFloat(value(rec, "conf_max")),
		}

		if err := countBy(ctx, tx, edgeMatch+` RETURN r.relationship_type AS k, count(r) AS n`,
			func(k string, n int) { stats.ByType[domain.RelationshipType(k)] = n }); err != nil {
			return nil, err
		}
		stats.RelationshipTypes = len(stats.ByType)

		rec, err = first(ctx, tx, `MATCH (a:Asset)-[r:RELATIONSHIP]-()
			WITH a, count(r) AS degree
			RETURN count(a) AS nodes, min(degree) AS deg_min, avg(degree) AS deg_avg, max(degree) AS deg_max`, nil)
		if err != nil {
			return nil, err
		}
		stats.NodeCount = toInt(value(rec, "nodes"))
		stats.Degree = domain.DegreeStatistics{
			Min:     toInt(value(rec, "deg_min")),
			Average: domain.Round(toFloat(value(rec, "deg_avg")), 2),
			Max:     toInt(value(rec, "deg_max")),
		}
		stats.Density = domain.Density(stats.NodeCount, stats.EdgeCount)
		return stats, nil
	})
	if err != nil {
		return nil, repository.Wrap("graph_statistics", repository.EntityRelationship, "", err)
	}
	return stats, nil
}

// Close releases this store's hold on the shared driver
func (s *RelationshipStore) Close() error {
	return s.client.release()
}
