package repository

import (
	"context"

	"cloudscope/internal/domain"
)

// AssetRepository defines data access for assets
type AssetRepository interface {
	// Write operations
	Save(ctx context.Context, asset *domain.Asset) (*domain.Asset, error)
	SaveBatch(ctx context.Context, assets []*domain.Asset) ([]*domain.Asset, error)
	Update(ctx context.Context, asset *domain.Asset) (*domain.Asset, error)
	UpdateBatch(ctx context.Context, assets []*domain.Asset) ([]*domain.Asset, error)
	Delete(ctx context.Context, id string) (bool, error)
	DeleteBatch(ctx context.Context, ids []string) (int, error)

	// Read operations
	FindByID(ctx context.Context, id string) (*domain.Asset, error)
	FindAll(ctx context.Context, filter domain.AssetFilter, limit, offset int) ([]*domain.Asset, error)
	FindByType(ctx context.Context, assetType domain.AssetType) ([]*domain.Asset, error)
	FindByProvider(ctx context.Context, provider domain.Provider) ([]*domain.Asset, error)
	FindByTags(ctx context.Context, tags map[string]string) ([]*domain.Asset, error)
	Count(ctx context.Context, filter domain.AssetFilter) (int, error)
	Exists(ctx context.Context, id string) (bool, error)
	Search(ctx context.Context, query string, limit int) ([]*domain.Asset, error)

	// Statistics
	Statistics(ctx context.Context) (*domain.AssetStatistics, error)

	// Close releases resources
	Close() error
}

// RelationshipRepository defines data access for relationships
type RelationshipRepository interface {
	// Write operations
	Save(ctx context.Context, rel *domain.Relationship) (*domain.Relationship, error)
	SaveBatch(ctx context.Context, rels []*domain.Relationship) ([]*domain.Relationship, error)
	Update(ctx context.Context, rel *domain.Relationship) (*domain.Relationship, error)
	UpdateBatch(ctx context.Context, rels []*domain.Relationship) ([]*domain.Relationship, error)
	Delete(ctx context.Context, id string) (bool, error)
	DeleteBatch(ctx context.Context, ids []string) (int, error)
	DeleteByAsset(ctx context.Context, assetID string) (int, error)

	// Read operations
	FindByID(ctx context.Context, id string) (*domain.Relationship, error)
	FindAll(ctx context.Context, filter domain.RelationshipFilter, limit, offset int) ([]*domain.Relationship, error)
	FindBySource(ctx context.Context, sourceID string) ([]*domain.Relationship, error)
	FindByTarget(ctx context.Context, targetID string) ([]*domain.Relationship, error)
	FindByAsset(ctx context.Context, assetID string) ([]*domain.Relationship, error)
	FindByType(ctx context.Context, relType domain.RelationshipType) ([]*domain.Relationship, error)
	FindBetween(ctx context.Context, a, b string) ([]*domain.Relationship, error)
	Count(ctx context.Context, filter domain.RelationshipFilter) (int, error)
	Exists(ctx context.Context, id string) (bool, error)
	Search(ctx context.Context, query string, limit int) ([]*domain.Relationship, error)

	// Statistics
	GraphStatistics(ctx context.Context) (*domain.GraphStatistics, error)

	// Close releases resources
	Close() error
}

// Entity names used in errors, logs and metric labels
const (
	EntityAsset        = "asset"
	EntityRelationship = "relationship"
)
