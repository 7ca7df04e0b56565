package failover

import (
	"context"

	"cloudscope/internal/domain"
	"cloudscope/internal/observability"
	"cloudscope/internal/repository"
)

// Assets routes asset calls to the primary or, once degraded, the secondary
type Assets struct {
	route *route[repository.AssetRepository]
}

var _ repository.AssetRepository = (*Assets)(nil)

// NewAssets wraps primary. Either repository may be nil: without a primary the
// wrapper starts degraded, without a secondary connectivity errors surface as
// ErrUnavailable.
func NewAssets(primary, secondary repository.AssetRepository, cfg Config) *Assets {
	cfg = cfg.withDefaults()
	r := &route[repository.AssetRepository]{
		entity:       repository.EntityAsset,
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
	return &Assets{route: r}
}

type assetRepo = repository.AssetRepository

// Degraded reports whether calls are served by the secondary
func (a *Assets) Degraded() bool {
	return a.route.cfg.Switch.Degraded()
}

func (a *Assets) Save(ctx context.Context, asset *domain.Asset) (*domain.Asset, error) {
	return do(ctx, a.route, "save", func(ctx context.Context, r assetRepo) (*domain.Asset, error) {
		return r.Save(ctx, asset)
	})
}

func (a *Assets) SaveBatch(ctx context.Context, assets []*domain.Asset) ([]*domain.Asset, error) {
	return do(ctx, a.route, "save_batch", func(ctx context.Context, r assetRepo) ([]*domain.Asset, error) {
		return r.SaveBatch(ctx, assets)
	})
}

func (a *Assets) Update(ctx context.Context, asset *domain.Asset) (*domain.Asset, error) {
	return do(ctx, a.route, "update", func(ctx context.Context, r assetRepo) (*domain.Asset, error) {
		return r.Update(ctx, asset)
	})
}

func (a *Assets) UpdateBatch(ctx context.Context, assets []*domain.Asset) ([]*domain.Asset, error) {
	return do(ctx, a.route, "update_batch", func(ctx context.Context, r assetRepo) ([]*domain.Asset, error) {
		return r.UpdateBatch(ctx, assets)
	})
}

func (a *Assets) Delete(ctx context.Context, id string) (bool, error) {
	return do(ctx, a.route, "delete", func(ctx context.Context, r assetRepo) (bool, error) {
		return r.Delete(ctx, id)
	})
}

func (a *Assets) DeleteBatch(ctx context.Context, ids []string) (int, error) {
	return do(ctx, a.route, "delete_batch", func(ctx context.Context, r assetRepo) (int, error) {
		return r.DeleteBatch(ctx, ids)
	})
}

func (a *Assets) FindByID(ctx context.Context, id string) (*domain.Asset, error) {
	return do(ctx, a.route, "find", func(ctx context.Context, r assetRepo) (*domain.Asset, error) {
		return r.FindByID(ctx, id)
	})
}

func (a *Assets) FindAll(ctx context.Context, filter domain.AssetFilter, limit, offset int) ([]*domain.Asset, error) {
	return do(ctx, a.route, "find_all", func(ctx context.Context, r assetRepo) ([]*domain.Asset, error) {
		return r.FindAll(ctx, filter, limit, offset)
	})
}

func (a *Assets) FindByType(ctx context.Context, assetType domain.AssetType) ([]*domain.Asset, error) {
	return do(ctx, a.route, "find_by_type", func(ctx context.Context, r assetRepo) ([]*domain.Asset, error) {
		return r.FindByType(ctx, assetType)
	})
}

func (a *Assets) FindByProvider(ctx context.Context, provider domain.Provider) ([]*domain.Asset, error) {
	return do(ctx, a.route, "find_by_provider", func(ctx context.Context, r assetRepo) ([]*domain.Asset, error) {
		return r.FindByProvider(ctx, provider)
	})
}

func (a *Assets) FindByTags(ctx context.Context, tags map[string]string) ([]*domain.Asset, error) {
	return do(ctx, a.route, "find_by_tags", func(ctx context.Context, r assetRepo) ([]*domain.Asset, error) {
		return r.FindByTags(ctx, tags)
	})
}

func (a *Assets) Count(ctx context.Context, filter domain.AssetFilter) (int, error) {
	return do(ctx, a.route, "count", func(ctx context.Context, r assetRepo) (int, error) {
		return r.Count(ctx, filter)
	})
}

func (a *Assets) Exists(ctx context.Context, id string) (bool, error) {
	return do(ctx, a.route, "exists", func(ctx context.Context, r assetRepo) (bool, error) {
		return r.Exists(ctx, id)
	})
}

func (a *Assets) Search(ctx context.Context, query string, limit int) ([]*domain.Asset, error) {
	return do(ctx, a.route, "search", func(ctx context.Context, r assetRepo) ([]*domain.Asset, error) {
		return r.Search(ctx, query, limit)
	})
}

// Statistics reports the serving backend's statistics, flagged when the
// secondary produced them
func (a *Assets) Statistics(ctx context.Context) (*domain.AssetStatistics, error) {
	stats, err := do(ctx, a.route, "statistics", func(ctx context.Context, r assetRepo) (*domain.AssetStatistics, error) {
		return r.Statistics(ctx)
	})
	if err != nil {
		return nil, err
	}
	stats.Storage.FallbackActive = a.Degraded()
	return stats, nil
}

// Close closes both backends
func (a *Assets) Close() error {
	var closers []interface{ Close() error }
	if a.route.hasPrimary {
		closers = append(closers, a.route.primary)
	}
	if a.route.hasSecondary {
		closers = append(closers, a.route.secondary)
	}
	return closeAll(closers...)
}
