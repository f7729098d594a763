// Package metrics exposes the orchestrator and store's operational gauges and
// counters over Prometheus (spec.md's Logger is the only observability sink
// it names explicitly, but ambient observability is carried regardless of
// feature-scoped Non-goals — see SPEC_FULL.md §2).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the metrics every swarmcore component updates. Each field
// is safe for concurrent use (that's the whole point of prometheus' client).
type Registry struct {
	reg *prometheus.Registry

	ActiveWorkers   prometheus.Gauge
	QueueDepth      *prometheus.GaugeVec // labeled by status
	TasksCompleted  prometheus.Counter
	TasksFailed     prometheus.Counter
	TasksRetried    prometheus.Counter
	TasksCancelled  prometheus.Counter
	PriorityLatency prometheus.Histogram
	ResolverCacheHits   prometheus.Counter
	ResolverCacheMisses prometheus.Counter
}

// New builds a fresh, unregistered-with-default registry (isolated from
// prometheus' global DefaultRegisterer so multiple engines can coexist in one
// process, e.g. in tests).
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Registry{
		reg: reg,
		ActiveWorkers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarmcore",
			Name:      "active_workers",
			Help:      "Number of workers currently holding a semaphore slot.",
		}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "swarmcore",
			Name:      "queue_depth",
			Help:      "Number of tasks by status.",
		}, []string{"status"}),
		TasksCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmcore",
			Name:      "tasks_completed_total",
			Help:      "Tasks that reached COMPLETED.",
		}),
		TasksFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmcore",
			Name:      "tasks_failed_total",
			Help:      "Task executions reported as failed, whether the task was then retried or moved to FAILED.",
		}),
		TasksRetried: f.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmcore",
			Name:      "tasks_retried_total",
			Help:      "Task executions that failed but were returned to READY.",
		}),
		TasksCancelled: f.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmcore",
			Name:      "tasks_cancelled_total",
			Help:      "Tasks that reached CANCELLED.",
		}),
		PriorityLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "swarmcore",
			Name:      "priority_calculation_seconds",
			Help:      "Latency of a single priority calculation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		ResolverCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmcore",
			Name:      "resolver_cache_hits_total",
			Help:      "DependencyResolver queries served from the cached adjacency graph.",
		}),
		ResolverCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmcore",
			Name:      "resolver_cache_misses_total",
			Help:      "DependencyResolver queries that triggered a full rebuild.",
		}),
	}
}

// Handler returns an http.Handler serving this registry's metrics in the
// Prometheus exposition format, for wiring onto a ServeMux at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
