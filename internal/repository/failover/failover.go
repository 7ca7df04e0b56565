// Package failover wraps a primary repository with an optional secondary.
//
// Every call is timed and counted per backend. When the primary fails with an
// error the Switch classifies as a connectivity failure, the switch trips, the
// call is retried on the secondary, and every later call goes straight to the
// secondary. The switch never resets; restart the process to return to the
// primary.
package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"cloudscope/internal/observability"
	"cloudscope/internal/repository"
)

// ErrUnavailable is returned when the primary is unreachable and there is no
// secondary to serve the call
var ErrUnavailable = errors.New("backend unavailable")

// Classifier reports whether err means the primary backend is unreachable
type Classifier func(error) bool

// Switch is the health flag shared by the asset and relationship wrappers of
// one backend pair
type Switch struct {
	degraded atomic.Bool
	classify Classifier
	logger   *slog.Logger
}

// NewSwitch returns a healthy switch. A nil classifier never trips.
func NewSwitch(classify Classifier, logger *slog.Logger) *Switch {
	if logger == nil {
		logger = slog.Default()
	}
	return &Switch{classify: classify, logger: logger}
}

// Degraded reports whether calls are being served by the secondary
func (s *Switch) Degraded() bool {
	return s != nil && s.degraded.Load()
}

func (s *Switch) connectivity(err error) bool {
	return s != nil && s.classify != nil && err != nil && s.classify(err)
}

// Trip marks the primary unreachable. It reports whether this call changed the
// state.
func (s *Switch) Trip(entity string, cause error) bool {
	if !s.degraded.CompareAndSwap(false, true) {
		return false
	}
	s.logger.Warn("primary backend unreachable, switching to fallback", "entity", entity, "error", cause)
	observability.FallbackSwitchesTotal.WithLabelValues(entity).Inc()
	observability.SetFallbackActive(repository.EntityAsset, true)
	observability.SetFallbackActive(repository.EntityRelationship, true)
	return true
}

// Config names the backends for metrics and links the wrappers to a switch
type Config struct {
	Primary   string
	Secondary string
	Switch    *Switch
	Logger    *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Primary == "" {
		c.Primary = "primary"
	}
	if c.Secondary == "" {
		c.Secondary = "secondary"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Switch == nil {
		c.Switch = NewSwitch(nil, c.Logger)
	}
	return c
}

// route holds one entity's backend pair
type route[R any] struct {
	entity       string
	primary      R
	secondary    R
	hasPrimary   bool
	hasSecondary bool
	cfg          Config
}

func outcome(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeOK
	case repository.IsDuplicate(err):
		return observability.OutcomeDuplicate
	case repository.IsNotFound(err):
		return observability.OutcomeNotFound
	}
	return observability.OutcomeError
}

// do runs fn against the backend currently in service, failing over once on a
// connectivity error from the primary
func do[R, T any](ctx context.Context, r *route[R], op string, fn func(context.Context, R) (T, error)) (T, error) {
	var zero T
	sw := r.cfg.Switch

	if !sw.Degraded() && r.hasPrimary {
		start := time.Now()
		out, err := fn(ctx, r.primary)
		observability.ObserveOperation(r.cfg.Primary, r.entity, op, outcome(err), start)
		if ctx.Err() != nil || !sw.connectivity(err) {
			return out, err
		}
		if !r.hasSecondary {
			return zero, &repository.Error{Op: op, Entity: r.entity, Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
		}
		sw.Trip(r.entity, err)
	}

	if !r.hasSecondary {
		return zero, &repository.Error{Op: op, Entity: r.entity, Err: ErrUnavailable}
	}
	start := time.Now()
	out, err := fn(ctx, r.secondary)
	observability.ObserveOperation(r.cfg.Secondary, r.entity, op, outcome(err), start)
	return out, err
}

// closeAll closes every present backend
func closeAll(closers ...interface{ Close() error }) error {
	var errs []error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
