// Package metrics exposes the Prometheus instrumentation for a tick
// driver: how long a tick took, how many tasks of each kind it emitted,
// and how often the successful-nodes cache paid off.
package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Registry is the registry this package's metrics are registered against;
// callers with their own HTTP mux can swap in promhttp.HandlerFor(Registry,
// ...) instead of using WritePrometheus.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(TickDuration, TasksEmittedTotal, SuccessfulNodeCacheTotal)
}

// TickDuration is how long one Generate call took.
var TickDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "orchestrator_tick_duration_seconds",
		Help:    "Duration of a single task-generation tick.",
		Buckets: prometheus.DefBuckets,
	},
)

// TasksEmittedTotal counts emitted tasks by kind (update_node_state |
// exec_node | finalize_pipeline).
var TasksEmittedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orchestrator_tasks_emitted_total",
		Help: "Tasks emitted by Generate, labeled by kind.",
	},
	[]string{"kind"},
)

// SuccessfulNodeCacheTotal counts successful-nodes cache lookups by result
// (hit | miss).
var SuccessfulNodeCacheTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orchestrator_successful_node_cache_total",
		Help: "Successful-nodes cache lookups, labeled by hit or miss.",
	},
	[]string{"result"},
)

// WritePrometheus writes the registry's current state to w in the
// Prometheus text exposition format.
func WritePrometheus(w io.Writer) error {
	families, err := Registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
