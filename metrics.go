package nadb

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics bundles the VictoriaMetrics counters/histograms the engine
// exposes through Store.Stats(). Each Store gets its own Metrics backed by
// a private metrics.Set so that multiple stores in one process don't
// collide on metric names, and so tests can throw theirs away.
type Metrics struct {
	set *metrics.Set

	OpsTotal      *metrics.Counter
	OpErrorsTotal *metrics.Counter
	BytesRead     *metrics.Counter
	BytesWritten  *metrics.Counter

	CacheHits    *metrics.Counter
	CacheMisses  *metrics.Counter
	CacheEvicts  *metrics.Counter
	QueryLatency *metrics.Histogram

	FlushLatency *metrics.Histogram
	SweepRemoved *metrics.Counter

	ReplicationLagSeconds *metrics.Gauge
}

// NewMetrics creates a fresh, independently scrapeable metric set labeled
// with the given store name (used as a metric label, not a prefix, so all
// stores in a process can still be scraped together).
func NewMetrics(storeName string) *Metrics {
	set := metrics.NewSet()
	label := fmt.Sprintf(`{store=%q}`, storeName)

	m := &Metrics{
		set:           set,
		OpsTotal:      set.NewCounter("nadb_ops_total" + label),
		OpErrorsTotal: set.NewCounter("nadb_op_errors_total" + label),
		BytesRead:     set.NewCounter("nadb_bytes_read_total" + label),
		BytesWritten:  set.NewCounter("nadb_bytes_written_total" + label),

		CacheHits:    set.NewCounter("nadb_query_cache_hits_total" + label),
		CacheMisses:  set.NewCounter("nadb_query_cache_misses_total" + label),
		CacheEvicts:  set.NewCounter("nadb_query_cache_evictions_total" + label),
		QueryLatency: set.NewHistogram("nadb_query_duration_seconds" + label),

		FlushLatency: set.NewHistogram("nadb_flush_duration_seconds" + label),
		SweepRemoved: set.NewCounter("nadb_ttl_sweep_removed_total" + label),

		ReplicationLagSeconds: set.NewGauge("nadb_replication_lag_seconds"+label, nil),
	}
	return m
}

// WritePrometheus writes all metrics in this set in Prometheus text
// exposition format, for embedding in an operator's own /metrics endpoint.
func (m *Metrics) WritePrometheus(w interface{ Write([]byte) (int, error) }) {
	m.set.WritePrometheus(w)
}

// Unregister releases the underlying metric set. Call this when a store is
// closed so repeated construction in tests doesn't accumulate metric sets.
func (m *Metrics) Unregister() {
	for _, name := range m.set.ListMetricNames() {
		m.set.UnregisterMetric(name)
	}
}
