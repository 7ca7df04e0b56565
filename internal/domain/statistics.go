package domain

import "math"

// AssetStatistics is a snapshot of aggregate asset data computed at call time
type AssetStatistics struct {
	Total      int                 `json:"total" yaml:"total"`
	ByType     map[AssetType]int   `json:"by_type" yaml:"by_type"`
	ByProvider map[Provider]int    `json:"by_provider" yaml:"by_provider"`
	ByStatus   map[AssetStatus]int `json:"by_status" yaml:"by_status"`
	Risk       RiskStatistics      `json:"risk" yaml:"risk"`
	Cost       CostStatistics      `json:"cost" yaml:"cost"`
	UniqueTags int                 `json:"unique_tags" yaml:"unique_tags"`
	Storage    StorageInfo         `json:"storage" yaml:"storage"`
}

// RiskStatistics summarizes risk scores
type RiskStatistics struct {
	Average       float64 `json:"average" yaml:"average"`
	Min           float64 `json:"min" yaml:"min"`
	Max           float64 `json:"max" yaml:"max"`
	HighRiskCount int     `json:"high_risk_count" yaml:"high_risk_count"`
}

// CostStatistics summarizes estimated costs
type CostStatistics struct {
	Total   float64 `json:"total" yaml:"total"`
	Average float64 `json:"average" yaml:"average"`
}

// StorageInfo describes where and how the data is stored
type StorageInfo struct {
	Backend        string `json:"backend" yaml:"backend"`
	Location       string `json:"location" yaml:"location"`
	SizeBytes      int64  `json:"size_bytes" yaml:"size_bytes"`
	Compressed     bool   `json:"compressed" yaml:"compressed"`
	FallbackActive bool   `json:"fallback_active" yaml:"fallback_active"`
}

// NewAssetStatistics returns statistics with initialized maps
func NewAssetStatistics() *AssetStatistics {
	return &AssetStatistics{
		ByType:     make(map[AssetType]int),
		ByProvider: make(map[Provider]int),
		ByStatus:   make(map[AssetStatus]int),
	}
}

// ComputeAssetStatistics aggregates a full scan of assets. Storage info is left
// for the caller to fill.
func ComputeAssetStatistics(assets []*Asset) *AssetStatistics {
	s := NewAssetStatistics()
	tags := make(map[string]struct{})
	var riskSum float64
	for i, a := range assets {
		s.Total++
		s.ByType[a.Type]++
		s.ByProvider[a.Provider]++
		s.ByStatus[a.Status]++
		riskSum += a.RiskScore
		s.Cost.Total += a.EstimatedCost
		if i == 0 || a.RiskScore < s.Risk.Min {
			s.Risk.Min = a.RiskScore
		}
		if i == 0 || a.RiskScore > s.Risk.Max {
			s.Risk.Max = a.RiskScore
		}
		if a.IsHighRisk() {
			s.Risk.HighRiskCount++
		}
		for _, p := range a.TagPairs() {
			tags[p] = struct{}{}
		}
	}
	s.UniqueTags = len(tags)
	if s.Total > 0 {
		s.Risk.Average = Round(riskSum/float64(s.Total), 2)
		s.Cost.Average = Round(s.Cost.Total/float64(s.Total), 2)
	}
	s.Cost.Total = Round(s.Cost.Total, 2)
	return s
}

// GraphStatistics is a snapshot of relationship graph metrics
type GraphStatistics struct {
	NodeCount         int                      `json:"node_count" yaml:"node_count"`
	EdgeCount         int                      `json:"edge_count" yaml:"edge_count"`
	RelationshipTypes int                      `json:"relationship_types" yaml:"relationship_types"`
	ByType            map[RelationshipType]int `json:"by_type" yaml:"by_type"`
	Degree            DegreeStatistics         `json:"degree" yaml:"degree"`
	Confidence        ConfidenceStatistics     `json:"confidence" yaml:"confidence"`
	Density           float64                  `json:"density" yaml:"density"`
	FallbackActive    bool                     `json:"fallback_active" yaml:"fallback_active"`
}

// DegreeStatistics summarizes per-node edge counts (in + out)
type DegreeStatistics struct {
	Min     int     `json:"min" yaml:"min"`
	Average float64 `json:"average" yaml:"average"`
	Max     int     `json:"max" yaml:"max"`
}

// ConfidenceStatistics summarizes relationship confidence scores
type ConfidenceStatistics struct {
	Min     float64 `json:"min" yaml:"min"`
	Average float64 `json:"average" yaml:"average"`
	Max     float64 `json:"max" yaml:"max"`
}

// Density returns 2*edges / (nodes*(nodes-1)), or 0 for fewer than two nodes
func Density(nodes, edges int) float64 {
	if nodes < 2 {
		return 0
	}
	return Round(2*float64(edges)/(float64(nodes)*float64(nodes-1)), 4)
}

// Round rounds v to the given number of decimal places
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
