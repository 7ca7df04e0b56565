package graph

import (
	"context"
	"slices"
	"strings"

	"cloudscope/internal/domain"
	"cloudscope/internal/repository"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// collect runs a query and returns every record
func collect(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) ([]*neo4j.Record, error) {
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return res.Collect(ctx)
}

// first runs a query and returns its first record, or nil for no rows
func first(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) (*neo4j.Record, error) {
	recs, err := collect(ctx, tx, query, params)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// counters runs a write query and returns its update summary
func counters(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) (neo4j.Counters, error) {
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	summary, err := res.Consume(ctx)
	if err != nil {
		return nil, err
	}
	return summary.Counters(), nil
}

// where joins conditions into a WHERE clause
func where(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// page renders SKIP/LIMIT. A limit of zero or less means unlimited.
func page(params map[string]any, limit, offset int) string {
	clause := ""
	if offset > 0 {
		params["offset"] = int64(offset)
		clause += " SKIP $offset"
	}
	if limit > 0 {
		params["limit"] = int64(limit)
		clause += " LIMIT $limit"
	}
	return clause
}

// assetWhere renders filter against node variable a
func assetWhere(f domain.AssetFilter) (string, map[string]any) {
	var conds []string
	params := map[string]any{}
	if f.Type != "" {
		conds = append(conds, "a.asset_type = $asset_type")
		params["asset_type"] = string(f.Type)
	}
	if f.Provider != "" {
		conds = append(conds, "a.provider = $provider")
		params["provider"] = string(f.Provider)
	}
	if f.Status != "" {
		conds = append(conds, "a.status = $status")
		params["status"] = string(f.Status)
	}
	if f.MinRiskScore != nil {
		conds = append(conds, "a.risk_score >= $min_risk")
		params["min_risk"] = *f.MinRiskScore
	}
	if f.MaxRiskScore != nil {
		conds = append(conds, "a.risk_score <= $max_risk")
		params["max_risk"] = *f.MaxRiskScore
	}
	if len(f.Tags) > 0 {
		pairs := make([]string, 0, len(f.Tags))
		for k, v := range f.Tags {
			pairs = append(pairs, domain.TagPair(k, v))
		}
		slices.Sort(pairs)
		conds = append(conds, "ALL(p IN $tag_pairs WHERE p IN a.tag_pairs)")
		params["tag_pairs"] = pairs
	}
	return where(conds), params
}

// relationshipWhere renders filter against edge r between s and t
func relationshipWhere(f domain.RelationshipFilter) (string, map[string]any) {
	var conds []string
	params := map[string]any{}
	if f.SourceID != "" {
		conds = append(conds, "s.asset_id = $source_id")
		params["source_id"] = f.SourceID
	}
	if f.TargetID != "" {
		conds = append(conds, "t.asset_id = $target_id")
		params["target_id"] = f.TargetID
	}
	if f.Type != "" {
		conds = append(conds, "r.relationship_type = $relationship_type")
		params["relationship_type"] = string(f.Type)
	}
	if f.MinConfidence != nil {
		conds = append(conds, "r.confidence >= $min_confidence")
		params["min_confidence"] = *f.MinConfidence
	}
	return where(conds), params
}

func lower(s string) string {
	return strings.ToLower(s)
}

// searchParams returns the CONTAINS parameters for plain and JSON string
// properties. ok is false for queries whose case folding may differ between
// Cypher and Go, which are matched by scanning instead.
func searchParams(q string) (params map[string]any, ok bool) {
	if !repository.ASCIIOnly(q) {
		return nil, false
	}
	l := lower(q)
	return map[string]any{"q": l, "qjson": repository.JSONEscape(l)}, true
}
