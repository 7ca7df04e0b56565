package repository

import (
	"cmp"
	"slices"
	"time"

	"cloudscope/internal/domain"
)

// SortAssets orders assets by created_at descending, then id ascending
func SortAssets(assets []*domain.Asset) {
	slices.SortFunc(assets, func(a, b *domain.Asset) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// SortRelationships orders relationships by created_at descending, then id ascending
func SortRelationships(rels []*domain.Relationship) {
	slices.SortFunc(rels, func(a, b *domain.Relationship) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// AssetIDOf returns the asset's id
func AssetIDOf(a *domain.Asset) string {
	if a == nil {
		return ""
	}
	return a.ID
}

// RelationshipIDOf returns the relationship's id
func RelationshipIDOf(r *domain.Relationship) string {
	if r == nil {
		return ""
	}
	return r.ID
}

// TimeLayout is a fixed-width UTC layout whose strings sort chronologically
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t in TimeLayout
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp written by FormatTime or any RFC 3339 writer
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
