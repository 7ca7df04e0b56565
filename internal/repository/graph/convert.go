package graph

import (
	"encoding/json"
	"fmt"
	"time"

	"cloudscope/internal/domain"
	"cloudscope/internal/repository"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// encodeJSON flattens a nested map into a string property
func encodeJSON(v any) (string, error) {
	data, err := repository.MarshalJSON(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSON(props map[string]any, key string, target any) error {
	s, ok := props[key].(string)
	if !ok || s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), target); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

// toFloat reads a numeric result value, which the driver returns as int64 or
// float64 depending on how it was written
func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func timeProp(props map[string]any, key string, dst *time.Time) error {
	s := stringProp(props, key)
	if s == "" {
		return nil
	}
	t, err := repository.ParseTime(s)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = t
	return nil
}

// assetProps converts an asset to node properties
func assetProps(a *domain.Asset) (map[string]any, error) {
	props, err := encodeJSON(a.Properties)
	if err != nil {
		return nil, fmt.Errorf("marshal properties: %w", err)
	}
	tags, err := encodeJSON(a.Tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	meta, err := encodeJSON(a.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	return map[string]any{
		"asset_id":          a.ID,
		"asset_type":        string(a.Type),
		"provider":          string(a.Provider),
		"name":              a.Name,
		"properties":        props,
		"tags":              tags,
		"tag_pairs":         a.TagPairs(),
		"metadata":          meta,
		"created_at":        repository.FormatTime(a.CreatedAt),
		"updated_at":        repository.FormatTime(a.UpdatedAt),
		"discovered_at":     repository.FormatTime(a.DiscoveredAt),
		"status":            string(a.Status),
		"health":            string(a.Health),
		"compliance_status": string(a.ComplianceStatus),
		"risk_score":        a.RiskScore,
		"estimated_cost":    a.EstimatedCost,
	}, nil
}

// assetFromProps converts node properties back to an asset
func assetFromProps(props map[string]any) (*domain.Asset, error) {
	a := &domain.Asset{
		ID:               stringProp(props, "asset_id"),
		Type:             domain.AssetType(stringProp(props, "asset_type")),
		Provider:         domain.Provider(stringProp(props, "provider")),
		Name:             stringProp(props, "name"),
		Status:           domain.AssetStatus(stringProp(props, "status")),
		Health:           domain.Health(stringProp(props, "health")),
		ComplianceStatus: domain.ComplianceStatus(stringProp(props, "compliance_status")),
		RiskScore:        toFloat(props["risk_score"]),
		EstimatedCost:    toFloat(props["estimated_cost"]),
	}
	if err := decodeJSON(props, "properties", &a.Properties); err != nil {
		return nil, err
	}
	if err := decodeJSON(props, "tags", &a.Tags); err != nil {
		return nil, err
	}
	if err := decodeJSON(props, "metadata", &a.Metadata); err != nil {
		return nil, err
	}
	for key, dst := range map[string]*time.Time{
		"created_at":    &a.CreatedAt,
		"updated_at":    &a.UpdatedAt,
		"discovered_at": &a.DiscoveredAt,
	} {
		if err := timeProp(props, key, dst); err != nil {
			return nil, err
		}
	}
	a.Normalize()
	return a, nil
}

// relationshipProps converts a relationship to edge properties. The
// endpoints are carried by the edge itself.
func relationshipProps(r *domain.Relationship) (map[string]any, error) {
	props, err := encodeJSON(r.Properties)
	if err != nil {
		return nil, fmt.Errorf("marshal properties: %w", err)
	}
	return map[string]any{
		"relationship_id":   r.ID,
		"relationship_type": string(r.Type),
		"properties":        props,
		"confidence":        r.Confidence,
		"created_at":        repository.FormatTime(r.CreatedAt),
		"updated_at":        repository.FormatTime(r.UpdatedAt),
		"discovered_by":     r.DiscoveredBy,
		"discovery_method":  string(r.DiscoveryMethod),
	}, nil
}

func relationshipFromProps(props map[string]any, sourceID, targetID string) (*domain.Relationship, error) {
	r := &domain.Relationship{
		ID:              stringProp(props, "relationship_id"),
		SourceID:        sourceID,
		TargetID:        targetID,
		Type:            domain.RelationshipType(stringProp(props, "relationship_type")),
		Confidence:      toFloat(props["confidence"]),
		DiscoveredBy:    stringProp(props, "discovered_by"),
		DiscoveryMethod: domain.DiscoveryMethod(stringProp(props, "discovery_method")),
	}
	if err := decodeJSON(props, "properties", &r.Properties); err != nil {
		return nil, err
	}
	if err := timeProp(props, "created_at", &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := timeProp(props, "updated_at", &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Normalize()
	return r, nil
}

// recordAsset reads the node bound to key
func recordAsset(rec *neo4j.Record, key string) (*domain.Asset, error) {
	v, ok := rec.Get(key)
	if !ok {
		return nil, fmt.Errorf("record has no %q", key)
	}
	node, ok := v.(neo4j.Node)
	if !ok {
		return nil, fmt.Errorf("%q is %T, not a node", key, v)
	}
	return assetFromProps(node.Props)
}

// recordRelationship reads an edge returned as r with source_id and target_id
func recordRelationship(rec *neo4j.Record) (*domain.Relationship, error) {
	v, ok := rec.Get("r")
	if !ok {
		return nil, fmt.Errorf("record has no relationship")
	}
	edge, ok := v.(neo4j.Relationship)
	if !ok {
		return nil, fmt.Errorf("r is %T, not a relationship", v)
	}
	src, _ := rec.Get("source_id")
	dst, _ := rec.Get("target_id")
	s, _ := src.(string)
	t, _ := dst.(string)
	return relationshipFromProps(edge.Props, s, t)
}

// value returns a named column of a single-row result
func value(rec *neo4j.Record, key string) any {
	if rec == nil {
		return nil
	}
	v, _ := rec.Get(key)
	return v
}
