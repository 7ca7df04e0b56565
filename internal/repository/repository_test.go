package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cloudscope/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorWrapping(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		err := NotFound("update", EntityAsset, "a1")
		assert.True(t, IsNotFound(err))
		assert.False(t, IsDuplicate(err))
		assert.Equal(t, "update asset a1: not found", err.Error())

		var re *Error
		require.True(t, errors.As(err, &re))
		assert.Equal(t, "a1", re.ID)
	})

	t.Run("invalid wraps domain validation", func(t *testing.T) {
		err := Wrap("save", EntityAsset, "a1", domain.NewAsset("a1", "bogus", domain.ProviderAWS, "x").Validate())
		assert.True(t, IsInvalid(err))
		assert.True(t, errors.Is(err, domain.ErrValidation))
	})

	t.Run("wrap nil", func(t *testing.T) {
		assert.NoError(t, Wrap("save", EntityAsset, "a1", nil))
	})

	t.Run("wrap does not double annotate", func(t *testing.T) {
		inner := Duplicate("save", EntityAsset, "a1")
		assert.Same(t, inner, Wrap("save", EntityAsset, "a1", inner))
	})
}

func TestRunBatch(t *testing.T) {
	ctx := context.Background()
	id := func(s string) string { return s }

	t.Run("skips duplicates", func(t *testing.T) {
		items := []string{"a", "dup", "b"}
		done, err := RunBatch(ctx, nil, "save_batch", EntityAsset, items, id, func(_ context.Context, s string) (string, error) {
			if s == "dup" {
				return "", Duplicate("save", EntityAsset, s)
			}
			return s, nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, done)
	})

	t.Run("partial failure is success", func(t *testing.T) {
		items := []string{"a", "bad"}
		done, err := RunBatch(ctx, nil, "save_batch", EntityAsset, items, id, func(_ context.Context, s string) (string, error) {
			if s == "bad" {
				return "", errors.New("disk full")
			}
			return s, nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, done)
	})

	t.Run("total failure joins errors", func(t *testing.T) {
		items := []string{"x", "y"}
		_, err := RunBatch(ctx, nil, "save_batch", EntityAsset, items, id, func(_ context.Context, s string) (string, error) {
			return "", fmt.Errorf("boom %s", s)
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom x")
		assert.Contains(t, err.Error(), "boom y")
	})

	t.Run("all duplicates is not an error", func(t *testing.T) {
		done, err := RunBatch(ctx, nil, "save_batch", EntityAsset, []string{"a"}, id, func(_ context.Context, s string) (string, error) {
			return "", Duplicate("save", EntityAsset, s)
		})
		require.NoError(t, err)
		assert.Empty(t, done)
	})
}

func TestRunBatchUntil(t *testing.T) {
	ctx := context.Background()
	id := func(s string) string { return s }
	errLost := errors.New("connection lost")
	isLost := func(err error) bool { return errors.Is(err, errLost) }

	t.Run("abort returns progress and error", func(t *testing.T) {
		var calls []string
		done, err := RunBatchUntil(ctx, nil, "save_batch", EntityAsset, []string{"a", "b", "c"}, id, isLost,
			func(_ context.Context, s string) (string, error) {
				calls = append(calls, s)
				if s == "b" {
					return "", errLost
				}
				return s, nil
			})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errLost))
		assert.Equal(t, []string{"a"}, done)
		assert.Equal(t, []string{"a", "b"}, calls)

		var re *Error
		require.True(t, errors.As(err, &re))
		assert.Equal(t, "save_batch", re.Op)
	})

	t.Run("other errors do not abort", func(t *testing.T) {
		done, err := RunBatchUntil(ctx, nil, "save_batch", EntityAsset, []string{"a", "bad", "c"}, id, isLost,
			func(_ context.Context, s string) (string, error) {
				if s == "bad" {
					return "", errors.New("invalid")
				}
				return s, nil
			})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, done)
	})

	t.Run("cancelled context stops with error", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		done, err := RunBatch(cctx, nil, "save_batch", EntityAsset, []string{"a", "b"}, id,
			func(_ context.Context, s string) (string, error) {
				cancel()
				return s, nil
			})
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Equal(t, []string{"a"}, done)
	})
}

func TestMarshalJSON(t *testing.T) {
	data, err := MarshalJSON(map[string]any{"team": "R&D", "url": "<internal>"})
	require.NoError(t, err)
	assert.Equal(t, `{"team":"R&D","url":"<internal>"}`, string(data))

	assert.Equal(t, `a&b <c> \"d\"`, JSONEscape(`a&b <c> "d"`))
	assert.Equal(t, `back\\slash`, JSONEscape(`back\slash`))

	assert.True(t, ASCIIOnly("plain text 123"))
	assert.False(t, ASCIIOnly("Zürich"))
}

func TestDeleteEach(t *testing.T) {
	n, err := DeleteEach(context.Background(), "delete_batch", EntityAsset, []string{"a", "missing", "b"}, func(_ context.Context, id string) (bool, error) {
		return id != "missing", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, Paginate(items, 0, 0))
	assert.Equal(t, []int{2, 3}, Paginate(items, 2, 1))
	assert.Equal(t, []int{4, 5}, Paginate(items, 10, 3))
	assert.Empty(t, Paginate(items, 2, 5))
}

func TestSortAssets(t *testing.T) {
	now := domain.Now()
	older := &domain.Asset{ID: "b", CreatedAt: now.Add(-time.Hour)}
	newerB := &domain.Asset{ID: "b", CreatedAt: now}
	newerA := &domain.Asset{ID: "a", CreatedAt: now}

	assets := []*domain.Asset{older, newerB, newerA}
	SortAssets(assets)
	assert.Equal(t, []*domain.Asset{newerA, newerB, older}, assets)
}

func TestComputeGraphStatistics(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		s := ComputeGraphStatistics(nil)
		assert.Equal(t, 0, s.NodeCount)
		assert.Equal(t, 0.0, s.Density)
	})

	t.Run("small graph", func(t *testing.T) {
		ab := domain.NewRelationship("a", "b", domain.RelDependsOn)
		ab.Confidence = 0.5
		bc := domain.NewRelationship("b", "c", domain.RelDependsOn)
		ac := domain.NewRelationship("a", "c", domain.RelMonitors)
		ac.Confidence = 0.9

		s := ComputeGraphStatistics([]*domain.Relationship{ab, bc, ac})
		assert.Equal(t, 3, s.NodeCount)
		assert.Equal(t, 3, s.EdgeCount)
		assert.Equal(t, 2, s.RelationshipTypes)
		assert.Equal(t, 2, s.ByType[domain.RelDependsOn])
		assert.Equal(t, 2, s.Degree.Min)
		assert.Equal(t, 2, s.Degree.Max)
		assert.Equal(t, 2.0, s.Degree.Average)
		assert.Equal(t, 0.5, s.Confidence.Min)
		assert.Equal(t, 1.0, s.Confidence.Max)
		assert.Equal(t, 0.8, s.Confidence.Average)
		assert.Equal(t, 1.0, s.Density)
	})
}

func TestFormatTime(t *testing.T) {
	whole := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	frac := whole.Add(500 * time.Millisecond)

	assert.Equal(t, "2024-03-01T12:00:00.000000000Z", FormatTime(whole))
	assert.Less(t, FormatTime(whole), FormatTime(frac))

	parsed, err := ParseTime(FormatTime(frac))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(frac))

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}
