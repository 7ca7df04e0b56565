package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// AssetFilter selects assets by equality and range criteria. Zero-value fields
// are ignored, so the zero filter matches every asset.
type AssetFilter struct {
	Type         AssetType
	Provider     Provider
	Status       AssetStatus
	MinRiskScore *float64
	MaxRiskScore *float64
	// Tags must all be present with equal values
	Tags map[string]string
}

// Matches reports whether a satisfies every criterion in f
func (f AssetFilter) Matches(a *Asset) bool {
	if a == nil {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Provider != "" && a.Provider != f.Provider {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.MinRiskScore != nil && a.RiskScore < *f.MinRiskScore {
		return false
	}
	if f.MaxRiskScore != nil && a.RiskScore > *f.MaxRiskScore {
		return false
	}
	for k, v := range f.Tags {
		if got, ok := a.Tags[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// IsZero reports whether the filter has no criteria
func (f AssetFilter) IsZero() bool {
	return f.Type == "" && f.Provider == "" && f.Status == "" &&
		f.MinRiskScore == nil && f.MaxRiskScore == nil && len(f.Tags) == 0
}

// RelationshipFilter selects relationships by endpoint, type and confidence
type RelationshipFilter struct {
	SourceID      string
	TargetID      string
	Type          RelationshipType
	MinConfidence *float64
}

// Matches reports whether r satisfies every criterion in f
func (f RelationshipFilter) Matches(r *Relationship) bool {
	if r == nil {
		return false
	}
	if f.SourceID != "" && r.SourceID != f.SourceID {
		return false
	}
	if f.TargetID != "" && r.TargetID != f.TargetID {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.MinConfidence != nil && r.Confidence < *f.MinConfidence {
		return false
	}
	return true
}

// IsZero reports whether the filter has no criteria
func (f RelationshipFilter) IsZero() bool {
	return f.SourceID == "" && f.TargetID == "" && f.Type == "" && f.MinConfidence == nil
}

// Float returns a pointer to v, for filling optional filter bounds
func Float(v float64) *float64 {
	return &v
}

// MatchesQuery reports whether q is a case-insensitive substring of the asset
// name, any property value, or any tag key or value. An empty query matches.
// Non-string property values are compared in their JSON form.
func (a *Asset) MatchesQuery(q string) bool {
	q = strings.ToLower(q)
	if q == "" || strings.Contains(strings.ToLower(a.Name), q) {
		return true
	}
	for _, v := range a.Properties {
		if strings.Contains(strings.ToLower(valueText(v)), q) {
			return true
		}
	}
	for k, v := range a.Tags {
		if strings.Contains(strings.ToLower(k), q) || strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}

// MatchesQuery reports whether q is a case-insensitive substring of the
// relationship type, its discoverer, or any property value
func (r *Relationship) MatchesQuery(q string) bool {
	q = strings.ToLower(q)
	if q == "" || strings.Contains(string(r.Type), q) ||
		strings.Contains(strings.ToLower(r.DiscoveredBy), q) {
		return true
	}
	for _, v := range r.Properties {
		if strings.Contains(strings.ToLower(valueText(v)), q) {
			return true
		}
	}
	return false
}

// valueText renders a property value for substring search. Strings are used
// as is; everything else is JSON without HTML escaping, matching how the
// sqlite and graph backends store nested values.
func valueText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
