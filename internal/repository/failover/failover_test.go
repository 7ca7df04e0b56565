package failover

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"cloudscope/internal/domain"
	"cloudscope/internal/observability"
	"cloudscope/internal/repository"
	"cloudscope/internal/repository/file"
	"cloudscope/internal/repository/repotest"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("connection refused")

func isDown(err error) bool { return errors.Is(err, errDown) }

// flakyAssets fails the calls it overrides with errDown while down is set.
// A positive downAfter sets down once that many saves have succeeded.
type flakyAssets struct {
	repository.AssetRepository
	down      atomic.Bool
	downAfter atomic.Int32
}

func (f *flakyAssets) Save(ctx context.Context, a *domain.Asset) (*domain.Asset, error) {
	if f.down.Load() {
		return nil, repository.Wrap("save", repository.EntityAsset, a.ID, errDown)
	}
	saved, err := f.AssetRepository.Save(ctx, a)
	if err == nil && f.downAfter.Add(-1) == 0 {
		f.down.Store(true)
	}
	return saved, err
}

func (f *flakyAssets) SaveBatch(ctx context.Context, assets []*domain.Asset) ([]*domain.Asset, error) {
	return repository.RunBatchUntil(ctx, nil, "save_batch", repository.EntityAsset, assets, repository.AssetIDOf, isDown, f.Save)
}

func (f *flakyAssets) FindByID(ctx context.Context, id string) (*domain.Asset, error) {
	if f.down.Load() {
		return nil, errDown
	}
	return f.AssetRepository.FindByID(ctx, id)
}

func openFiles(t *testing.T) (*file.AssetStore, *file.RelationshipStore) {
	t.Helper()
	dir := t.TempDir()
	assets, err := file.NewAssetStore(filepath.Join(dir, "assets"))
	require.NoError(t, err)
	rels, err := file.NewRelationshipStore(filepath.Join(dir, "relationships"))
	require.NoError(t, err)
	return assets, rels
}

func counterValue(t *testing.T, entity string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, observability.FallbackSwitchesTotal.WithLabelValues(entity).Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, entity string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, observability.FallbackActive.WithLabelValues(entity).Write(&m))
	return m.GetGauge().GetValue()
}

func newAsset(id string) *domain.Asset {
	return repotest.NewAsset(id, domain.AssetTypeCompute, domain.ProviderAWS, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
}

func TestHealthyPrimaryServesCalls(t *testing.T) {
	ctx := context.Background()
	primaryStore, _ := openFiles(t)
	secondaryStore, _ := openFiles(t)
	primary := &flakyAssets{AssetRepository: primaryStore}

	w := NewAssets(primary, secondaryStore, Config{Primary: "graph", Secondary: "file", Switch: NewSwitch(isDown, nil)})
	_, err := w.Save(ctx, newAsset("a"))
	require.NoError(t, err)

	assert.False(t, w.Degraded())
	ok, err := primaryStore.Exists(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = secondaryStore.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConnectivityErrorSwitchesToSecondary(t *testing.T) {
	ctx := context.Background()
	primaryStore, _ := openFiles(t)
	secondaryStore, _ := openFiles(t)
	primary := &flakyAssets{AssetRepository: primaryStore}
	before := counterValue(t, repository.EntityAsset)

	w := NewAssets(primary, secondaryStore, Config{Primary: "graph", Secondary: "file", Switch: NewSwitch(isDown, nil)})
	primary.down.Store(true)

	saved, err := w.Save(ctx, newAsset("a"))
	require.NoError(t, err)
	assert.Equal(t, "a", saved.ID)
	assert.True(t, w.Degraded())
	assert.Equal(t, before+1, counterValue(t, repository.EntityAsset))
	assert.Equal(t, 1.0, gaugeValue(t, repository.EntityAsset))

	// the switch is one-directional
	primary.down.Store(false)
	got, err := w.FindByID(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	ok, err := primaryStore.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := w.Statistics(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Storage.FallbackActive)
	assert.Equal(t, "file", stats.Storage.Backend)
}

func TestConnectionLostMidBatch(t *testing.T) {
	ctx := context.Background()
	primaryStore, _ := openFiles(t)
	secondaryStore, _ := openFiles(t)
	primary := &flakyAssets{AssetRepository: primaryStore}
	primary.downAfter.Store(1)
	before := counterValue(t, repository.EntityAsset)

	w := NewAssets(primary, secondaryStore, Config{Primary: "graph", Secondary: "file", Switch: NewSwitch(isDown, nil)})
	saved, err := w.SaveBatch(ctx, []*domain.Asset{newAsset("a"), newAsset("b"), newAsset("c")})
	require.NoError(t, err)
	require.Len(t, saved, 3)
	assert.True(t, w.Degraded())
	assert.Equal(t, before+1, counterValue(t, repository.EntityAsset))

	for _, id := range []string{"a", "b", "c"} {
		ok, err := secondaryStore.Exists(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok, id)
	}
	n, err := w.Count(ctx, domain.AssetFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCallerContextDoesNotTrip(t *testing.T) {
	primaryStore, _ := openFiles(t)
	secondaryStore, _ := openFiles(t)
	primary := &flakyAssets{AssetRepository: primaryStore}
	primary.down.Store(true)

	w := NewAssets(primary, secondaryStore, Config{Switch: NewSwitch(isDown, nil)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.FindByID(ctx, "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, errDown)
	assert.False(t, w.Degraded())
}

func TestOtherErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	primaryStore, _ := openFiles(t)
	secondaryStore, _ := openFiles(t)
	w := NewAssets(primaryStore, secondaryStore, Config{Switch: NewSwitch(isDown, nil)})

	_, err := w.Save(ctx, newAsset("a"))
	require.NoError(t, err)
	_, err = w.Save(ctx, newAsset("a"))
	require.Error(t, err)
	assert.True(t, repository.IsDuplicate(err))
	assert.False(t, w.Degraded())
}

func TestNoSecondarySurfacesUnavailable(t *testing.T) {
	ctx := context.Background()
	primaryStore, _ := openFiles(t)
	primary := &flakyAssets{AssetRepository: primaryStore}
	primary.down.Store(true)

	w := NewAssets(primary, nil, Config{Switch: NewSwitch(isDown, nil)})
	_, err := w.FindByID(ctx, "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, errDown)

	var re *repository.Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "find", re.Op)
	assert.False(t, w.Degraded())
}

func TestSharedSwitch(t *testing.T) {
	ctx := context.Background()
	primaryAssets, primaryRels := openFiles(t)
	secondaryAssets, secondaryRels := openFiles(t)
	primary := &flakyAssets{AssetRepository: primaryAssets}
	sw := NewSwitch(isDown, nil)

	assets := NewAssets(primary, secondaryAssets, Config{Switch: sw})
	rels := NewRelationships(primaryRels, secondaryRels, Config{Switch: sw})

	primary.down.Store(true)
	_, err := assets.Save(ctx, newAsset("a"))
	require.NoError(t, err)
	_, err = assets.Save(ctx, newAsset("b"))
	require.NoError(t, err)

	assert.True(t, rels.Degraded())
	_, err = rels.Save(ctx, domain.NewRelationship("a", "b", domain.RelDependsOn))
	require.NoError(t, err)

	n, err := primaryRels.Count(ctx, domain.RelationshipFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)

	stats, err := rels.GraphStatistics(ctx)
	require.NoError(t, err)
	assert.True(t, stats.FallbackActive)
	assert.Equal(t, 1, stats.EdgeCount)
}

func TestTripOnce(t *testing.T) {
	sw := NewSwitch(isDown, nil)
	assert.True(t, sw.Trip(repository.EntityAsset, errDown))
	assert.False(t, sw.Trip(repository.EntityAsset, errDown))
	assert.True(t, sw.Degraded())

	var nilSwitch *Switch
	assert.False(t, nilSwitch.Degraded())
}

func degradedFactory(t *testing.T) (repository.AssetRepository, repository.RelationshipRepository) {
	assets, rels := openFiles(t)
	sw := NewSwitch(isDown, nil)
	return NewAssets(nil, assets, Config{Secondary: "file", Switch: sw}),
		NewRelationships(nil, rels, Config{Secondary: "file", Switch: sw})
}

func TestDegradedContract(t *testing.T) {
	repotest.RunAssetSuite(t, degradedFactory)
	repotest.RunRelationshipSuite(t, degradedFactory, repotest.Options{})
}

func TestPassThroughContract(t *testing.T) {
	repotest.RunAssetSuite(t, func(t *testing.T) (repository.AssetRepository, repository.RelationshipRepository) {
		assets, rels := openFiles(t)
		return NewAssets(assets, nil, Config{Primary: "file"}), NewRelationships(rels, nil, Config{Primary: "file"})
	})
}
