package repository

import (
	"cloudscope/internal/domain"
)

// ComputeGraphStatistics derives graph metrics from a full edge list. Nodes are
// the distinct ids appearing as a source or target.
func ComputeGraphStatistics(edges []*domain.Relationship) *domain.GraphStatistics {
	stats := &domain.GraphStatistics{
		ByType: make(map[domain.RelationshipType]int),
	}
	degrees := make(map[string]int)
	var confSum float64

	for i, r := range edges {
		stats.EdgeCount++
		stats.ByType[r.Type]++
		degrees[r.SourceID]++
		degrees[r.TargetID]++

		confSum += r.Confidence
		if i == 0 || r.Confidence < stats.Confidence.Min {
			stats.Confidence.Min = r.Confidence
		}
		if i == 0 || r.Confidence > stats.Confidence.Max {
			stats.Confidence.Max = r.Confidence
		}
	}

	stats.NodeCount = len(degrees)
	stats.RelationshipTypes = len(stats.ByType)
	stats.Density = domain.Density(stats.NodeCount, stats.EdgeCount)

	if stats.EdgeCount > 0 {
		stats.Confidence.Average = domain.Round(confSum/float64(stats.EdgeCount), 2)
	}

	first := true
	total := 0
	for _, d := range degrees {
		total += d
		if first || d < stats.Degree.Min {
			stats.Degree.Min = d
		}
		if first || d > stats.Degree.Max {
			stats.Degree.Max = d
		}
		first = false
	}
	if stats.NodeCount > 0 {
		stats.Degree.Average = domain.Round(float64(total)/float64(stats.NodeCount), 2)
	}
	return stats
}
