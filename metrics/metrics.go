// Package metrics registers the Prometheus instruments for the HTTP
// core and PG driver and serves them on their own net/http listener,
// the way the teacher's metrics package serves /metrics separately
// from its own hand-rolled wire proxy (metrics/metrics.go in
// tqdbproxy: a package-level CounterVec/HistogramVec/GaugeVec set
// registered once via sync.Once).
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsAccepted counts connections handed from the acceptor
	// to each worker, by worker id.
	ConnectionsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chopin_connections_accepted_total",
			Help: "Total connections accepted and dispatched to a worker",
		},
		[]string{"worker"},
	)

	// ConnectionsActive is the current number of live connections per
	// worker (slab active_count).
	ConnectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chopin_connections_active",
			Help: "Current number of active connections held by a worker's slab",
		},
		[]string{"worker"},
	)

	// RequestsServed counts completed HTTP requests per worker.
	RequestsServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chopin_requests_served_total",
			Help: "Total HTTP requests served",
		},
		[]string{"worker"},
	)

	// SlabAllocationFailures counts connections closed immediately
	// because a worker's slab was full (back-pressure, spec.md §4.7).
	SlabAllocationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chopin_slab_allocation_failures_total",
			Help: "Connections refused because a worker's slab was exhausted",
		},
		[]string{"worker"},
	)

	// HTTPParseErrors counts request parse failures by kind
	// (invalid_format, too_large).
	HTTPParseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chopin_http_parse_errors_total",
			Help: "HTTP request parse failures by kind",
		},
		[]string{"kind"},
	)

	// PGQueriesTotal counts PG queries issued by handlers, labeled by
	// query type (simple/extended) and cache outcome (hit/miss/bypass).
	PGQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chopin_pg_queries_total",
			Help: "Total PG queries issued, by query type and cache outcome",
		},
		[]string{"query_type", "cache"},
	)

	// PGQueryLatency tracks PG round-trip latency by query type.
	PGQueryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chopin_pg_query_latency_seconds",
			Help:    "PG query latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_type"},
	)

	// StatementCacheSize reports the number of prepared statements held
	// in a worker's connection statement cache.
	StatementCacheSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chopin_pg_statement_cache_size",
			Help: "Number of prepared statements currently cached on a worker's connection",
		},
		[]string{"worker"},
	)

	// SCRAMAuthFailures counts SCRAM authentication failures during PG
	// connection startup.
	SCRAMAuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chopin_scram_auth_failures_total",
			Help: "SCRAM-SHA-256 authentication failures during PG connect",
		},
		[]string{"worker"},
	)

	// CacheHits/CacheMisses count respcache outcomes by route, the same
	// shape as the teacher's cache hit/miss counters but labeled by
	// route instead of file/line (this module has no query-callsite
	// instrumentation macro to source file/line from).
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chopin_respcache_hits_total",
			Help: "Total response cache hits",
		},
		[]string{"route"},
	)
	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chopin_respcache_misses_total",
			Help: "Total response cache misses",
		},
		[]string{"route"},
	)

	// Write Batch Metrics (unchanged shape from the teacher; writebatch
	// still batches PG statement executions the same way it batched
	// MariaDB/Postgres proxy writes).

	// WriteBatchSize tracks the number of operations in each write batch
	WriteBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chopin_write_batch_size",
			Help:    "Number of operations in each write batch",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000},
		},
		[]string{"query"},
	)

	// WriteBatchDelay tracks time between first enqueue and execution
	WriteBatchDelay = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chopin_write_batch_delay_seconds",
			Help:    "Time between first operation enqueue and batch execution",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"query"},
	)

	// WriteBatchLatency tracks time to execute a batch
	WriteBatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chopin_write_batch_latency_seconds",
			Help:    "Time to execute a write batch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	// WriteOpsPerSecond is the current write operations per second
	WriteOpsPerSecond = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chopin_write_ops_per_second",
			Help: "Current write operations per second (for adaptive delay)",
		},
	)

	// WriteCurrentDelay is the current adaptive batching delay
	WriteCurrentDelay = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chopin_write_current_delay_ms",
			Help: "Current adaptive batching delay in milliseconds",
		},
	)

	// WriteDelayAdjustments counts delay adjustments
	WriteDelayAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chopin_write_delay_adjustments_total",
			Help: "Number of delay adjustments (increase/decrease)",
		},
		[]string{"direction"},
	)

	// WriteBatchedTotal counts write operations processed through batching
	WriteBatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chopin_write_batched_total",
			Help: "Total write operations processed through batching",
		},
		[]string{"query_type"},
	)

	once sync.Once
)

// Init registers all metrics with Prometheus. Safe to call from every
// worker goroutine; registration happens exactly once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(ConnectionsAccepted)
		prometheus.MustRegister(ConnectionsActive)
		prometheus.MustRegister(RequestsServed)
		prometheus.MustRegister(SlabAllocationFailures)
		prometheus.MustRegister(HTTPParseErrors)
		prometheus.MustRegister(PGQueriesTotal)
		prometheus.MustRegister(PGQueryLatency)
		prometheus.MustRegister(StatementCacheSize)
		prometheus.MustRegister(SCRAMAuthFailures)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)

		// Write batch metrics
		prometheus.MustRegister(WriteBatchSize)
		prometheus.MustRegister(WriteBatchDelay)
		prometheus.MustRegister(WriteBatchLatency)
		prometheus.MustRegister(WriteOpsPerSecond)
		prometheus.MustRegister(WriteCurrentDelay)
		prometheus.MustRegister(WriteDelayAdjustments)
		prometheus.MustRegister(WriteBatchedTotal)
	})
}

// Handler returns the Prometheus HTTP handler, served on its own
// listener (config.Config.Metrics.Listen) separate from the HTTP core.
func Handler() http.Handler {
	return promhttp.Handler()
}
