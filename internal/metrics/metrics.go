// Package metrics defines the engine's optional Prometheus instrumentation.
// Counters, gauges, and histograms register directly against a
// caller-supplied registry with no HTTP framework in between - this
// package never starts a server; an embedding host registers Collector
// into whatever registry (and exposition endpoint, if any) it already runs.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector holds every metric the engine updates.
type Collector struct {
	Updates           *prometheus.CounterVec
	QueryLatency      *prometheus.HistogramVec
	RecoveryDuration  prometheus.Histogram
	ObjectsTracked    *prometheus.GaugeVec
	ColdWriteFailures prometheus.Counter
}

// New builds a Collector. Call MustRegisterAll on the returned Collector
// (or use NewAndRegister) before the engine starts reporting.
func New() *Collector {
	return &Collector{
		Updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spatio",
			Name:      "updates_total",
			Help:      "Total number of update_location calls, by outcome (inserted, replaced, stale).",
		}, []string{"outcome"}),
		QueryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "spatio",
			Name:      "query_duration_seconds",
			Help:      "Latency of query operations, by query kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}),
		RecoveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spatio",
			Name:      "recovery_duration_seconds",
			Help:      "Duration of the cold-log recovery scan on Open.",
		}),
		ObjectsTracked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "spatio",
			Name:      "objects_tracked",
			Help:      "Live object count, by namespace.",
		}, []string{"namespace"}),
		ColdWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spatio",
			Name:      "cold_write_failures_total",
			Help:      "Total number of failed cold-log appends.",
		}),
	}
}

// MustRegisterAll registers every metric in c against reg.
func (c *Collector) MustRegisterAll(reg prometheus.Registerer) {
	reg.MustRegister(c.Updates, c.QueryLatency, c.RecoveryDuration, c.ObjectsTracked, c.ColdWriteFailures)
}

// NewAndRegister builds a Collector and registers it against reg in one
// call, for a host with no other reason to hold the Collector unregistered.
func NewAndRegister(reg prometheus.Registerer) *Collector {
	c := New()
	c.MustRegisterAll(reg)
	return c
}
