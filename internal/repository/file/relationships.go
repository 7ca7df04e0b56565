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
	indexBySource = "by_source"
	indexByTarget = "by_target"
	indexByRel    = "by_type"
)

// RelationshipStore persists relationships as sharded files. Endpoints are not
// required to exist.
type RelationshipStore struct {
	mu      sync.Mutex
	files   *files
	indices *indexSet
	logger  *slog.Logger
}

var _ repository.RelationshipRepository = (*RelationshipStore)(nil)

// NewRelationshipStore opens or creates a relationship store rooted at dir
func NewRelationshipStore(dir string, opts ...Option) (*RelationshipStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	f, err := newFiles(dir, o.compress, 3, "rel")
	if err != nil {
		return nil, err
	}
	indices, err := loadIndexSet(filepath.Join(dir, indexDir), indexBySource, indexByTarget, indexByRel)
	if err != nil {
		return nil, err
	}

	return &RelationshipStore{
		files:   f,
		indices: indices,
		logger:  o.logger.With("backend", "file", "entity", repository.EntityRelationship),
	}, nil
}

// Dir returns the store's base directory
func (s *RelationshipStore) Dir() string {
	return s.files.base
}

func (s *RelationshipStore) load(path string) (*domain.Relationship, error) {
	var r domain.Relationship
	if err := s.files.read(path, &r); err != nil {
		return nil, err
	}
	r.Normalize()
	return &r, nil
}

func (s *RelationshipStore) loadIDs(ids []string) ([]*domain.Relationship, error) {
	out := make([]*domain.Relationship, 0, len(ids))
	for _, id := range ids {
		path, err := s.files.path(id)
		if err != nil {
			continue
		}
		r, err := s.load(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RelationshipStore) scan() ([]*domain.Relationship, error) {
	var out []*domain.Relationship
	err := s.files.each(func(path string) error {
		r, err := s.load(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

// findKey returns the id of a stored relationship with the same natural key,
// ignoring skipID. Callers hold s.mu.
func (s *RelationshipStore) findKey(key domain.RelationshipKey, skipID string) (string, error) {
	ids := s.indices.get(indexBySource).ids(key.SourceID)
	rels, err := s.loadIDs(ids)
	if err != nil {
		return "", err
	}
	for _, r := range rels {
		if r.ID != skipID && r.Key() == key {
			return r.ID, nil
		}
	}
	return "", nil
}

func addRelationshipIndices(tx *indexTx, r *domain.Relationship) {
	tx.add(indexBySource, r.SourceID, r.ID)
	tx.add(indexByTarget, r.TargetID, r.ID)
	tx.add(indexByRel, string(r.Type), r.ID)
}

func removeRelationshipIndices(tx *indexTx, r *domain.Relationship) {
	tx.remove(indexBySource, r.SourceID, r.ID)
	tx.remove(indexByTarget, r.TargetID, r.ID)
	tx.remove(indexByRel, string(r.Type), r.ID)
}

// Save stores a new relationship. A reused id or natural key is rejected with
// ErrDuplicate.
func (s *RelationshipStore) Save(ctx context.Context, rel *domain.Relationship) (*domain.Relationship, error) {
	r := rel.Clone()
	r.Normalize()
	if err := r.Validate(); err != nil {
		return nil, repository.Wrap("save", repository.EntityRelationship, r.ID, err)
	}
	path, err := s.files.path(r.ID)
	if err != nil {
		return nil, repository.Invalid("save", repository.EntityRelationship, r.ID, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.files.exists(path)
	if err != nil {
		return nil, repository.Wrap("save", repository.EntityRelationship, r.ID, err)
	}
	if exists {
		return nil, repository.Duplicate("save", repository.EntityRelationship, r.ID)
	}
	dup, err := s.findKey(r.Key(), "")
	if err != nil {
		return nil, repository.Wrap("save", repository.EntityRelationship, r.ID, err)
	}
	if dup != "" {
		return nil, repository.Duplicate("save", repository.EntityRelationship, r.Key().String())
	}

	if err := s.files.write(path, r); err != nil {
		return nil, repository.Wrap("save", repository.EntityRelationship, r.ID, err)
	}

	tx := s.indices.begin()
	addRelationshipIndices(tx, r)
	if err := tx.commit(); err != nil {
		_ = os.Remove(path)
		return nil, repository.Wrap("save", repository.EntityRelationship, r.ID, err)
	}

	s.logger.Debug("saved relationship", "relationship_id", r.ID, "key", r.Key().String())
	return r.Clone(), nil
}

// SaveBatch saves each relationship, skipping duplicates
func (s *RelationshipStore) SaveBatch(ctx context.Context, rels []*domain.Relationship) ([]*domain.Relationship, error) {
	return repository.RunBatch(ctx, s.logger, "save_batch", repository.EntityRelationship, rels, repository.RelationshipIDOf, s.Save)
}

// FindByID returns the relationship or nil when absent
func (s *RelationshipStore) FindByID(ctx context.Context, id string) (*domain.Relationship, error) {
	path, err := s.files.path(id)
	if err != nil {
		return nil, nil
	}
	r, err := s.load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, repository.Wrap("find", repository.EntityRelationship, id, err)
	}
	return r, nil
}

func (s *RelationshipStore) candidates(filter domain.RelationshipFilter) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sets [][]string
	if filter.SourceID != "" {
		sets = append(sets, s.indices.get(indexBySource).ids(filter.SourceID))
	}
	if filter.TargetID != "" {
		sets = append(sets, s.indices.get(indexByTarget).ids(filter.TargetID))
	}
	if filter.Type != "" {
		sets = append(sets, s.indices.get(indexByRel).ids(string(filter.Type)))
	}
	if len(sets) == 0 {
		return nil, false
	}
	return intersect(sets), true
}

func (s *RelationshipStore) find(filter domain.RelationshipFilter) ([]*domain.Relationship, error) {
	var (
		rels []*domain.Relationship
		err  error
	)
	if ids, ok := s.candidates(filter); ok {
		rels, err = s.loadIDs(ids)
	} else {
		rels, err = s.scan()
	}
	if err != nil {
		return nil, err
	}

	matched := rels[:0]
	for _, r := range rels {
		if filter.Matches(r) {
			matched = append(matched, r)
		}
	}
	repository.SortRelationships(matched)
	return matched, nil
}

// FindAll returns relationships matching filter, newest first
func (s *RelationshipStore) FindAll(ctx context.Context, filter domain.RelationshipFilter, limit, offset int) ([]*domain.Relationship, error) {
	rels, err := s.find(filter)
	if err != nil {
		return nil, repository.Wrap("find_all", repository.EntityRelationship, "", err)
	}
	return repository.Paginate(rels, limit, offset), nil
}

// FindBySource returns relationships leaving sourceID
func (s *RelationshipStore) FindBySource(ctx context.Context, sourceID string) ([]*domain.Relationship, error) {
	return s.FindAll(ctx, domain.RelationshipFilter{SourceID: sourceID}, 0, 0)
}

// FindByTarget returns relationships entering targetID
func (s *RelationshipStore) FindByTarget(ctx context.Context, targetID string) ([]*domain.Relationship, error) {
	return s.FindAll(ctx, domain.RelationshipFilter{TargetID: targetID}, 0, 0)
}

// FindByType returns relationships of the given type
func (s *RelationshipStore) FindByType(ctx context.Context, relType domain.RelationshipType) ([]*domain.Relationship, error) {
	return s.FindAll(ctx, domain.RelationshipFilter{Type: relType}, 0, 0)
}

// assetIDs returns every relationship id touching assetID
func (s *RelationshipStore) assetIDs(assetID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := append(s.indices.get(indexBySource).ids(assetID), s.indices.get(indexByTarget).ids(assetID)...)
	slices.Sort(ids)
	return slices.Compact(ids)
}

// FindByAsset returns relationships with assetID at either end
func (s *RelationshipStore) FindByAsset(ctx context.Context, assetID string) ([]*domain.Relationship, error) {
	rels, err := s.loadIDs(s.assetIDs(assetID))
	if err != nil {
		return nil, repository.Wrap("find_by_asset", repository.EntityRelationship, assetID, err)
	}
	repository.SortRelationships(rels)
	return rels, nil
}

// FindBetween returns relationships linking a and b in either direction
func (s *RelationshipStore) FindBetween(ctx context.Context, a, b string) ([]*domain.Relationship, error) {
	rels, err := s.loadIDs(s.assetIDs(a))
	if err != nil {
		return nil, repository.Wrap("find_between", repository.EntityRelationship, a, err)
	}
	out := rels[:0]
	for _, r := range rels {
		if r.Connects(a, b) {
			out = append(out, r)
		}
	}
	repository.SortRelationships(out)
	return out, nil
}

// Update replaces a stored relationship. Changing the endpoints or type to a
// key already in use is rejected with ErrDuplicate.
func (s *RelationshipStore) Update(ctx context.Context, rel *domain.Relationship) (*domain.Relationship, error) {
	r := rel.Clone()
	r.Normalize()
	if err := r.Validate(); err != nil {
		return nil, repository.Wrap("update", repository.EntityRelationship, r.ID, err)
	}
	path, err := s.files.path(r.ID)
	if err != nil {
		return nil, repository.Invalid("update", repository.EntityRelationship, r.ID, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, repository.NotFound("update", repository.EntityRelationship, r.ID)
	}
	if err != nil {
		return nil, repository.Wrap("update", repository.EntityRelationship, r.ID, err)
	}
	if old.Key() != r.Key() {
		dup, err := s.findKey(r.Key(), r.ID)
		if err != nil {
			return nil, repository.Wrap("update", repository.EntityRelationship, r.ID, err)
		}
		if dup != "" {
			return nil, repository.Duplicate("update", repository.EntityRelationship, r.Key().String())
		}
	}

	r.CreatedAt = old.CreatedAt
	r.Touch()

	if err := s.files.write(path, r); err != nil {
		return nil, repository.Wrap("update", repository.EntityRelationship, r.ID, err)
	}

	tx := s.indices.begin()
	if old.SourceID != r.SourceID {
		tx.remove(indexBySource, old.SourceID, r.ID)
		tx.add(indexBySource, r.SourceID, r.ID)
	}
	if old.TargetID != r.TargetID {
		tx.remove(indexByTarget, old.TargetID, r.ID)
		tx.add(indexByTarget, r.TargetID, r.ID)
	}
	if old.Type != r.Type {
		tx.remove(indexByRel, string(old.Type), r.ID)
		tx.add(indexByRel, string(r.Type), r.ID)
	}
	if err := tx.commit(); err != nil {
		if rerr := s.files.write(path, old); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return nil, repository.Wrap("update", repository.EntityRelationship, r.ID, err)
	}

	s.logger.Debug("updated relationship", "relationship_id", r.ID, "indices", tx.names())
	return r.Clone(), nil
}

// UpdateBatch updates each relationship, collecting failures
func (s *RelationshipStore) UpdateBatch(ctx context.Context, rels []*domain.Relationship) ([]*domain.Relationship, error) {
	return repository.RunBatch(ctx, s.logger, "update_batch", repository.EntityRelationship, rels, repository.RelationshipIDOf, s.Update)
}

// Delete removes a relationship, reporting whether it existed
func (s *RelationshipStore) Delete(ctx context.Context, id string) (bool, error) {
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
		return false, repository.Wrap("delete", repository.EntityRelationship, id, err)
	}

	if err := os.Remove(path); err != nil {
		return false, repository.Wrap("delete", repository.EntityRelationship, id, err)
	}

	tx := s.indices.begin()
	removeRelationshipIndices(tx, old)
	if err := tx.commit(); err != nil {
		if rerr := s.files.write(path, old); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return false, repository.Wrap("delete", repository.EntityRelationship, id, err)
	}

	s.logger.Debug("deleted relationship", "relationship_id", id)
	return true, nil
}

// DeleteBatch deletes each id and returns how many existed
func (s *RelationshipStore) DeleteBatch(ctx context.Context, ids []string) (int, error) {
	return repository.DeleteEach(ctx, "delete_batch", repository.EntityRelationship, ids, s.Delete)
}

// DeleteByAsset removes every relationship touching assetID
func (s *RelationshipStore) DeleteByAsset(ctx context.Context, assetID string) (int, error) {
	n, err := repository.DeleteEach(ctx, "delete_by_asset", repository.EntityRelationship, s.assetIDs(assetID), s.Delete)
	if n > 0 {
		s.logger.Info("deleted relationships for asset", "asset_id", assetID, "count", n)
	}
	return n, err
}

// Count returns the number of relationships matching filter
func (s *RelationshipStore) Count(ctx context.Context, filter domain.RelationshipFilter) (int, error) {
	rels, err := s.find(filter)
	if err != nil {
		return 0, repository.Wrap("count", repository.EntityRelationship, "", err)
	}
	return len(rels), nil
}

// Exists reports whether a relationship with id is stored
func (s *RelationshipStore) Exists(ctx context.Context, id string) (bool, error) {
	path, err := s.files.path(id)
	if err != nil {
		return false, nil
	}
	ok, err := s.files.exists(path)
	if err != nil {
		return false, repository.Wrap("exists", repository.EntityRelationship, id, err)
	}
	return ok, nil
}

// Search scans every relationship for a case-insensitive substring match
func (s *RelationshipStore) Search(ctx context.Context, query string, limit int) ([]*domain.Relationship, error) {
	rels, err := s.scan()
	if err != nil {
		return nil, repository.Wrap("search", repository.EntityRelationship, "", err)
	}
	repository.SortRelationships(rels)

	var out []*domain.Relationship
	for _, r := range rels {
		if !r.MatchesQuery(query) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GraphStatistics computes graph metrics over every stored relationship
func (s *RelationshipStore) GraphStatistics(ctx context.Context) (*domain.GraphStatistics, error) {
	rels, err := s.scan()
	if err != nil {
		return nil, repository.Wrap("graph_statistics", repository.EntityRelationship, "", err)
	}
	return repository.ComputeGraphStatistics(rels), nil
}

// Close is a no-op; every write is already durable
func (s *RelationshipStore) Close() error {
	return nil
}
