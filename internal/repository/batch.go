package repository

import (
	"context"
	"errors"
	"log/slog"

	"cloudscope/internal/observability"
)

// RunBatch applies fn to every item in order and returns the items that
// succeeded. Duplicates are logged and skipped. The returned error joins the
// per-item failures and is only set when nothing succeeded and at least one
// item failed for a reason other than duplication.
func RunBatch[T any](ctx context.Context, logger *slog.Logger, op, entity string, items []T, id func(T) string, fn func(context.Context, T) (T, error)) ([]T, error) {
	return RunBatchUntil(ctx, logger, op, entity, items, id, nil, fn)
}

// RunBatchUntil is RunBatch that stops at the first item whose error satisfies
// abort, or when ctx is done. It then returns the items that succeeded so far
// together with that error, so callers can tell an interrupted batch from a
// partially rejected one.
func RunBatchUntil[T any](ctx context.Context, logger *slog.Logger, op, entity string, items []T, id func(T) string, abort func(error) bool, fn func(context.Context, T) (T, error)) ([]T, error) {
	if logger == nil {
		logger = slog.Default()
	}

	done := make([]T, 0, len(items))
	var errs []error
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return done, &Error{Op: op, Entity: entity, Err: err}
		}

		out, err := fn(ctx, item)
		switch {
		case err == nil:
			done = append(done, out)
			observability.RecordBatchItem(entity, observability.OutcomeOK)
		case IsDuplicate(err):
			logger.Warn("skipping duplicate in batch", "op", op, "entity", entity, "id", id(item))
			observability.RecordBatchItem(entity, observability.OutcomeDuplicate)
		case abort != nil && abort(err):
			logger.Warn("batch interrupted", "op", op, "entity", entity, "id", id(item),
				"completed", len(done), "remaining", len(items)-len(done), "error", err)
			observability.RecordBatchItem(entity, observability.OutcomeError)
			return done, &Error{Op: op, Entity: entity, Err: err}
		default:
			logger.Warn("batch item failed", "op", op, "entity", entity, "id", id(item), "error", err)
			observability.RecordBatchItem(entity, observability.OutcomeError)
			errs = append(errs, err)
		}
	}

	if len(done) == 0 && len(errs) > 0 {
		return done, &Error{Op: op, Entity: entity, Err: errors.Join(errs...)}
	}
	return done, nil
}

// DeleteEach deletes ids one at a time and returns how many were removed.
// Missing ids are not failures.
func DeleteEach(ctx context.Context, op, entity string, ids []string, del func(context.Context, string) (bool, error)) (int, error) {
	n := 0
	var errs []error
	for _, id := range ids {
		ok, err := del(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			n++
		}
	}
	if n == 0 && len(errs) > 0 {
		return 0, &Error{Op: op, Entity: entity, Err: errors.Join(errs...)}
	}
	return n, nil
}

// Paginate applies offset and limit to an ordered slice. A limit of zero or
// less means unlimited.
func Paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
