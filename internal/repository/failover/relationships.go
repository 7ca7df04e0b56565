package failover

import (
	"context"

	"cloudscope/internal/domain"
	"cloudscope/internal/observability"
	"cloudscope/internal/repository"
)

// Relationships routes relationship calls to the primary or, once degraded,
// the secondary
type Relationships struct {
	route *route[repository.RelationshipRepository]
}

var _ repository.RelationshipRepository = (*Relationships)(nil)

// NewRelationships wraps primary with the same nil rules as NewAssets
func NewRelationships(primary, secondary repository.RelationshipRepository, cfg Config) *Relationships {
	cfg = cfg.withDefaults()
	r := &route[repository.RelationshipRepository]{
		entity:       repository.EntityRelationship,
		primary:      primary,
		secondary:    secondary,
		hasPrimary:   primary != nil,
		hasSecondary: secondary != nil,
		cfg:          cfg,
	}
	if !r.hasPrimary && r.hasSecondary {
		cfg.Switch.Trip(r.entity, ErrUnavailable)
	}
	observability.SetFallbackActive(r.entity, cfg.Switch.Degraded())
	return &Relationships{route: r}
}

type relRepo = repository.RelationshipRepository

// Degraded reports whether calls are served by the secondary
func (w *Relationships) Degraded() bool {
	return w.route.cfg.Switch.Degraded()
}

func (w *Relationships) Save(ctx context.Context, rel *domain.Relationship) (*domain.Relationship, error) {
	return do(ctx, w.route, "save", func(ctx context.Context, r relRepo) (*domain.Relationship, error) {
		return r.Save(ctx, rel)
	})
}

func (w *Relationships) SaveBatch(ctx context.Context, rels []*domain.Relationship) ([]*domain.Relationship, error) {
	return do(ctx, w.route, "save_batch", func(ctx context.Context, r relRepo) ([]*domain.Relationship, error) {
		return r.SaveBatch(ctx, rels)
	})
}

func (w *Relationships) Update(ctx context.Context, rel *domain.Relationship) (*domain.Relationship, error) {
	return do(ctx, w.route, "update", func(ctx context.Context, r relRepo) (*domain.Relationship, error) {
		return r.Update(ctx, rel)
	})
}

func (w *Relationships) UpdateBatch(ctx context.Context, rels []*domain.Relationship) ([]*domain.Relationship, error) {
	return do(ctx, w.route, "update_batch", func(ctx context.Context, r relRepo) ([]*domain.Relationship, error) {
		return r.UpdateBatch(ctx, rels)
	})
}

func (w *Relationships) Delete(ctx context.Context, id string) (bool, error) {
	return do(ctx, w.route, "delete", func(ctx context.Context, r relRepo) (bool, error) {
		return r.Delete(ctx, id)
	})
}

func (w *Relationships) DeleteBatch(ctx context.Context, ids []string) (int, error) {
	return do(ctx, w.route, "delete_batch", func(ctx context.Context, r relRepo) (int, error) {
		return r.DeleteBatch(ctx, ids)
	})
}

func (w *Relationships) DeleteByAsset(ctx context.Context, assetID string) (int, error) {
	return do(ctx, w.route, "delete_by_asset", func(ctx context.Context, r relRepo) (int, error) {
		return r.DeleteByAsset(ctx, assetID)
	})
}

func (w *Relationships) FindByID(ctx context.Context, id string) (*domain.Relationship, error) {
	return do(ctx, w.route, "find", func(ctx context.Context, r relRepo) (*domain.Relationship, error) {
		return r.FindByID(ctx, id)
	})
}

func (w *Relationships) FindAll(ctx context.Context, filter domain.RelationshipFilter, limit, offset int) ([]*domain.Relationship, error) {
	return do(ctx, w.route, "find_all", func(ctx context.Context, r relRepo) ([]*domain.Relationship, error) {
		return r.FindAll(ctx, filter, limit, offset)
	})
}

func (w *Relationships) FindBySource(ctx context.Context, sourceID string) ([]*domain.Relationship, error) {
	return do(ctx, w.route, "find_by_source", func(ctx context.Context, r relRepo) ([]*domain.Relationship, error) {
		return r.FindBySource(ctx, sourceID)
	})
}

func (w *Relationships) FindByTarget(ctx context.Context, targetID string) ([]*domain.Relationship, error) {
	return do(ctx, w.route, "find_by_target", func(ctx context.Context, r relRepo) ([]*domain.Relationship, error) {
		return r.FindByTarget(ctx, targetID)
	})
}

func (w *Relationships) FindByAsset(ctx context.Context, assetID string) ([]*domain.Relationship, error) {
	return do(ctx, w.route, "find_by_asset", func(ctx context.Context, r relRepo) ([]*domain.Relationship, error) {
		return r.FindByAsset(ctx, assetID)
	})
}

func (w *Relationships) FindByType(ctx context.Context, relType domain.RelationshipType) ([]*domain.Relationship, error) {
	return do(ctx, w.route, "find_by_type", func(ctx context.Context, r relRepo) ([]*domain.Relationship, error) {
		return r.FindByType(ctx, relType)
	})
}

func (w *Relationships) FindBetween(ctx context.Context, a, b string) ([]*domain.Relationship, error) {
	return do(ctx, w.route, "find_between", func(ctx context.Context, r relRepo) ([]*domain.Relationship, error) {
		return r.FindBetween(ctx, a, b)
	})
}

func (w *Relationships) Count(ctx context.Context, filter domain.RelationshipFilter) (int, error) {
	return do(ctx, w.route, "count", func(ctx context.Context, r relRepo) (int, error) {
		return r.Count(ctx, filter)
	})
}

func (w *Relationships) Exists(ctx context.Context, id string) (bool, error) {
	return do(ctx, w.route, "exists", func(ctx context.Context, r relRepo) (bool, error) {
		return r.Exists(ctx, id)
	})
}

func (w *Relationships) Search(ctx context.Context, query string, limit int) ([]*domain.Relationship, error) {
	return do(ctx, w.route, "search", func(ctx context.Context, r relRepo) ([]*domain.Relationship, error) {
		return r.Search(ctx, query, limit)
	})
}

// GraphStatistics reports the serving backend's metrics, flagged when the
// secondary produced them
func (w *Relationships) GraphStatistics(ctx context.Context) (*domain.GraphStatistics, error) {
	stats, err := do(ctx, w.route, "graph_statistics", func(ctx context.Context, r relRepo) (*domain.GraphStatistics, error) {
		return r.GraphStatistics(ctx)
	})
	if err != nil {
		return nil, err
	}
	stats.FallbackActive = w.Degraded()
	return stats, nil
}

// Close closes both backends
func (w *Relationships) Close() error {
	var closers []interface{ Close() error }
	if w.route.hasPrimary {
		closers = append(closers, w.route.primary)
	}
	if w.route.hasSecondary {
		closers = append(closers, w.route.secondary)
	}
	return closeAll(closers...)
}
