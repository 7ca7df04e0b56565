package file

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"cloudscope/internal/domain"
	"cloudscope/internal/repository"
)

const (
	indexByType     = "by_type"
	indexByProvider = "by_provider"
	indexByTags     = "by_tags"
)

// AssetStore persists assets as sharded files
type AssetStore struct {
	mu      sync.Mutex
	files   *files
	indices *indexSet
	logger  *slog.Logger
}

var _ repository.AssetRepository = (*AssetStore)(nil)

// NewAssetStore opens or creates an asset store rooted at dir
func NewAssetStore(dir string, opts ...Option) (*AssetStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	f, err := newFiles(dir, o.compress, 2, "00")
	if err != nil {
		return nil, err
	}
	indices, err := loadIndexSet(filepath.Join(dir, indexDir), indexByType, indexByProvider, indexByTags)
	if err != nil {
		return nil, err
	}

	return &AssetStore{
		files:   f,
		indices: indices,
		logger:  o.logger.With("backend", "file", "entity", repository.EntityAsset),
	}, nil
}

// Dir returns the store's base directory
func (s *AssetStore) Dir() string {
	return s.files.base
}

func (s *AssetStore) load(path string) (*domain.Asset, error) {
	var a domain.Asset
	if err := s.files.read(path, &a); err != nil {
		return nil, err
	}
	a.Normalize()
	return &a, nil
}

// loadIDs reads the given ids, skipping any whose file has disappeared
func (s *AssetStore) loadIDs(ids []string) ([]*domain.Asset, error) {
	out := make([]*domain.Asset, 0, len(ids))
	for _, id := range ids {
		path, err := s.files.path(id)
		if err != nil {
			continue
		}
		a, err := s.load(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *AssetStore) scan() ([]*domain.Asset, error) {
	var out []*domain.Asset
	err := s.files.each(func(path string) error {
		a, err := s.load(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

func addAssetIndices(tx *indexTx, a *domain.Asset) {
	tx.add(indexByType, string(a.Type), a.ID)
	tx.add(indexByProvider, string(a.Provider), a.ID)
	for _, pair := range a.TagPairs() {
		tx.add(indexByTags, pair, a.ID)
	}
}

func removeAssetIndices(tx *indexTx, a *domain.Asset) {
	tx.remove(indexByType, string(a.Type), a.ID)
	tx.remove(indexByProvider, string(a.Provider), a.ID)
	for _, pair := range a.TagPairs() {
		tx.remove(indexByTags, pair, a.ID)
	}
}

// Save stores a new asset. An existing id is rejected with ErrDuplicate.
func (s *AssetStore) Save(ctx context.Context, asset *domain.Asset) (*domain.Asset, error) {
	a := asset.Clone()
	a.Normalize()
	if err := a.Validate(); err != nil {
		return nil, repository.Wrap("save", repository.EntityAsset, a.ID, err)
	}
	path, err := s.files.path(a.ID)
	if err != nil {
		return nil, repository.Invalid("save", repository.EntityAsset, a.ID, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.files.exists(path)
	if err != nil {
		return nil, repository.Wrap("save", repository.EntityAsset, a.ID, err)
	}
	if exists {
		return nil, repository.Duplicate("save", repository.EntityAsset, a.ID)
	}

	if err := s.files.write(path, a); err != nil {
		return nil, repository.Wrap("save", repository.EntityAsset, a.ID, err)
	}

	tx := s.indices.begin()
	addAssetIndices(tx, a)
	if err := tx.commit(); err != nil {
		_ = os.Remove(path)
		return nil, repository.Wrap("save", repository.EntityAsset, a.ID, err)
	}

	s.logger.Debug("saved asset", "asset_id", a.ID)
	return a.Clone(), nil
}

// SaveBatch saves each asset, skipping duplicates
func (s *AssetStore) SaveBatch(ctx context.Context, assets []*domain.Asset) ([]*domain.Asset, error) {
	return repository.RunBatch(ctx, s.logger, "save_batch", repository.EntityAsset, assets, repository.AssetIDOf, s.Save)
}

// FindByID returns the asset or nil when absent
func (s *AssetStore) FindByID(ctx context.Context, id string) (*domain.Asset, error) {
	path, err := s.files.path(id)
	if err != nil {
		return nil, nil
	}
	a, err := s.load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, repository.Wrap("find", repository.EntityAsset, id, err)
	}
	return a, nil
}

// candidates narrows a filter to ids using the indices. The boolean is false
// when the filter has no indexed dimension and a full scan is required.
func (s *AssetStore) candidates(filter domain.AssetFilter) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sets [][]string
	if filter.Type != "" {
		sets = append(sets, s.indices.get(indexByType).ids(string(filter.Type)))
	}
	if filter.Provider != "" {
		sets = append(sets, s.indices.get(indexByProvider).ids(string(filter.Provider)))
	}
	for k, v := range filter.Tags {
		sets = append(sets, s.indices.get(indexByTags).ids(domain.TagPair(k, v)))
	}
	if len(sets) == 0 {
		return nil, false
	}
	return intersect(sets), true
}

func intersect(sets [][]string) []string {
	out := sets[0]
	for _, next := range sets[1:] {
		kept := out[:0:0]
		for _, id := range out {
			if _, found := slices.BinarySearch(next, id); found {
				kept = append(kept, id)
			}
		}
		out = kept
	}
	return out
}

func (s *AssetStore) find(filter domain.AssetFilter) ([]*domain.Asset, error) {
	var (
		assets []*domain.Asset
		err    error
	)
	if ids, ok := s.candidates(filter); ok {
		assets, err = s.loadIDs(ids)
	} else {
		assets, err = s.scan()
	}
	if err != nil {
		return nil, err
	}

	matched := assets[:0]
	for _, a := range assets {
		if filter.Matches(a) {
			matched = append(matched, a)
		}
	}
	repository.SortAssets(matched)
	return matched, nil
}

// FindAll returns assets matching filter, newest first
func (s *AssetStore) FindAll(ctx context.Context, filter domain.AssetFilter, limit, offset int) ([]*domain.Asset, error) {
	assets, err := s.find(filter)
	if err != nil {
		return nil, repository.Wrap("find_all", repository.EntityAsset, "", err)
	}
	return repository.Paginate(assets, limit, offset), nil
}

// FindByType returns assets of the given type
func (s *AssetStore) FindByType(ctx context.Context, assetType domain.AssetType) ([]*domain.Asset, error) {
	return s.FindAll(ctx, domain.AssetFilter{Type: assetType}, 0, 0)
}

// FindByProvider returns assets from the given provider
func (s *AssetStore) FindByProvider(ctx context.Context, provider domain.Provider) ([]*domain.Asset, error) {
	return s.FindAll(ctx, domain.AssetFilter{Provider: provider}, 0, 0)
}

// FindByTags returns assets carrying every given tag
func (s *AssetStore) FindByTags(ctx context.Context, tags map[string]string) ([]*domain.Asset, error) {
	return s.FindAll(ctx, domain.AssetFilter{Tags: tags}, 0, 0)
}

// Update replaces a stored asset and moves it between the indices whose keys
// changed
func (s *AssetStore) Update(ctx context.Context, asset *domain.Asset) (*domain.Asset, error) {
	a := asset.Clone()
	a.Normalize()
	if err := a.Validate(); err != nil {
		return nil, repository.Wrap("update", repository.EntityAsset, a.ID, err)
	}
	path, err := s.files.path(a.ID)
	if err != nil {
		return nil, repository.Invalid("update", repository.EntityAsset, a.ID, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, repository.NotFound("update", repository.EntityAsset, a.ID)
	}
	if err != nil {
		return nil, repository.Wrap("update", repository.EntityAsset, a.ID, err)
	}

	a.CreatedAt = old.CreatedAt
	a.Touch()

	if err := s.files.write(path, a); err != nil {
		return nil, repository.Wrap("update", repository.EntityAsset, a.ID, err)
	}

	tx := s.indices.begin()
	if old.Type != a.Type {
		tx.remove(indexByType, string(old.Type), a.ID)
		tx.add(indexByType, string(a.Type), a.ID)
	}
	if old.Provider != a.Provider {
		tx.remove(indexByProvider, string(old.Provider), a.ID)
		tx.add(indexByProvider, string(a.Provider), a.ID)
	}
	oldPairs, newPairs := old.TagPairs(), a.TagPairs()
	for _, p := range oldPairs {
		if !slices.Contains(newPairs, p) {
			tx.remove(indexByTags, p, a.ID)
		}
	}
	for _, p := range newPairs {
		if !slices.Contains(oldPairs, p) {
			tx.add(indexByTags, p, a.ID)
		}
	}

	if err := tx.commit(); err != nil {
		if rerr := s.files.write(path, old); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return nil, repository.Wrap("update", repository.EntityAsset, a.ID, err)
	}

	s.logger.Debug("updated asset", "asset_id", a.ID, "indices", tx.names())
	return a.Clone(), nil
}

// UpdateBatch updates each asset, collecting failures
func (s *AssetStore) UpdateBatch(ctx context.Context, assets []*domain.Asset) ([]*domain.Asset, error) {
	return repository.RunBatch(ctx, s.logger, "update_batch", repository.EntityAsset, assets, repository.AssetIDOf, s.Update)
}

// Delete removes an asset, reporting whether it existed
func (s *AssetStore) Delete(ctx context.Context, id string) (bool, error) {
	path, err := s.files.path(id)
	if err != nil {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, repository.Wrap("delete", repository.EntityAsset, id, err)
	}

	if err := os.Remove(path); err != nil {
		return false, repository.Wrap("delete", repository.EntityAsset, id, err)
	}

	tx := s.indices.begin()
	removeAssetIndices(tx, old)
	if err := tx.commit(); err != nil {
		if rerr := s.files.write(path, old); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return false, repository.Wrap("delete", repository.EntityAsset, id, err)
	}

	s.logger.Debug("deleted asset", "asset_id", id)
	return true, nil
}

// DeleteBatch deletes each id and returns how many existed
func (s *AssetStore) DeleteBatch(ctx context.Context, ids []string) (int, error) {
	return repository.DeleteEach(ctx, "delete_batch", repository.EntityAsset, ids, s.Delete)
}

// Count returns the number of assets matching filter
func (s *AssetStore) Count(ctx context.Context, filter domain.AssetFilter) (int, error) {
	assets, err := s.find(filter)
	if err != nil {
		return 0, repository.Wrap("count", repository.EntityAsset, "", err)
	}
	return len(assets), nil
}

// Exists reports whether an asset with id is stored
func (s *AssetStore) Exists(ctx context.Context, id string) (bool, error) {
	path, err := s.files.path(id)
	if err != nil {
		return false, nil
	}
	ok, err := s.files.exists(path)
	if err != nil {
		return false, repository.Wrap("exists", repository.EntityAsset, id, err)
	}
	return ok, nil
}

// Search scans every asset for a case-insensitive substring match
func (s *AssetStore) Search(ctx context.Context, query string, limit int) ([]*domain.Asset, error) {
	assets, err := s.scan()
	if err != nil {
		return nil, repository.Wrap("search", repository.EntityAsset, "", err)
	}
	repository.SortAssets(assets)

	var out []*domain.Asset
	for _, a := range assets {
		if !a.MatchesQuery(query) {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Statistics aggregates a scan of every asset plus the on-disk size
func (s *AssetStore) Statistics(ctx context.Context) (*domain.AssetStatistics, error) {
	assets, err := s.scan()
	if err != nil {
		return nil, repository.Wrap("statistics", repository.EntityAsset, "", err)
	}
	stats := domain.ComputeAssetStatistics(assets)

	s.mu.Lock()
	stats.UniqueTags = len(s.indices.get(indexByTags).keys())
	s.mu.Unlock()

	size, err := s.files.size()
	if err != nil {
		return nil, repository.Wrap("statistics", repository.EntityAsset, "", err)
	}
	stats.Storage = domain.StorageInfo{
		Backend:    "file",
		Location:   s.files.base,
		SizeBytes:  size,
		Compressed: s.files.compress,
	}
	return stats, nil
}

// Close is a no-op; every write is already durable
func (s *AssetStore) Close() error {
	return nil
}
