package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeDuplicate = "duplicate"
	OutcomeNotFound  = "not_found"
)

// Metrics definitions
var (
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudscope_repository_operations_total",
		Help: "Total number of repository operations by backend and outcome.",
	}, []string{"backend", "entity", "op", "outcome"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cloudscope_repository_operation_seconds",
		Help:    "Time spent in a repository operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "entity", "op"})

	BatchItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudscope_repository_batch_items_total",
		Help: "Total number of batch items processed by outcome.",
	}, []string{"entity", "outcome"})

	FallbackActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cloudscope_repository_fallback_active",
		Help: "Whether the repository is serving from its fallback backend (1) or its primary (0).",
	}, []string{"entity"})

	FallbackSwitchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudscope_repository_fallback_switches_total",
		Help: "Total number of switches from the primary to the fallback backend.",
	}, []string{"entity"})
)

// ObserveOperation records the duration and outcome of one repository call
func ObserveOperation(backend, entity, op, outcome string, start time.Time) {
	OperationDuration.WithLabelValues(backend, entity, op).Observe(time.Since(start).Seconds())
	OperationsTotal.WithLabelValues(backend, entity, op, outcome).Inc()
}

// RecordBatchItem counts one processed batch item
func RecordBatchItem(entity, outcome string) {
	BatchItemsTotal.WithLabelValues(entity, outcome).Inc()
}

// SetFallbackActive updates the fallback gauge for entity
func SetFallbackActive(entity string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	FallbackActive.WithLabelValues(entity).Set(v)
}
