package router

import (
	"sync"
	"time"

	"github.com/coreflux/routingcore/worker"
)

// MetricsRegistry holds the last collected aggregate plus any
// operator-set auxiliary metrics, for introspection/debug endpoints
// (spec.md §4.9, component C10).
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]any
	updated time.Time
}

// NewMetricsRegistry builds an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{metrics: make(map[string]any)}
}

// Set records or overwrites an auxiliary metric.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// GetSnapshot returns a copy of every recorded metric.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}

// RecordAggregate folds a freshly-collected worker.Aggregate into the
// registry under well-known keys, so JSON introspection surfaces both
// the structured aggregate and any ad-hoc Set values side by side.
func (mr *MetricsRegistry) RecordAggregate(a worker.Aggregate) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.updated = time.Now()
	mr.metrics["workers"] = a.Workers
	mr.metrics["accepts_total"] = a.AcceptsTotal
	mr.metrics["read_events"] = a.ReadEvents
	mr.metrics["write_events"] = a.WriteEvents
	mr.metrics["error_events"] = a.ErrorEvents
	mr.metrics["hangup_events"] = a.HangupEvents
	mr.metrics["tasks_executed"] = a.TasksExecuted
	mr.metrics["timeouts_fired"] = a.TimeoutsFired
	mr.metrics["sessions_current"] = a.SessionsCurrent
	mr.metrics["n_fds_sum"] = a.NFdsSum
	mr.metrics["n_fds_min"] = a.NFdsMin
	mr.metrics["n_fds_max"] = a.NFdsMax
	mr.metrics["n_fds_avg"] = a.NFdsAvg
}
