// Package metrics defines the Prometheus collectors of a query run and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. It records query evaluation for
// the runner, ranker runs for the letor pipeline and cache lookups.
type Metrics struct {
	QueriesTotal     *prometheus.CounterVec
	QueryLatency     *prometheus.HistogramVec
	ResultsCount     *prometheus.HistogramVec
	ExpansionSize    prometheus.Histogram
	RankerRunsTotal  *prometheus.CounterVec
	RankerDuration   *prometheus.HistogramVec
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	gatherer         prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qeval_queries_total",
				Help: "Total queries evaluated by retrieval model.",
			},
			[]string{"model"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qeval_query_duration_seconds",
				Help:    "Query evaluation latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"model"},
		),
		ResultsCount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qeval_query_results",
				Help:    "Number of results kept per query.",
				Buckets: []float64{0, 1, 10, 50, 100, 500, 1000},
			},
			[]string{"model"},
		),
		ExpansionSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "qeval_expansion_terms",
				Help:    "Number of feedback terms added per expanded query.",
				Buckets: []float64{0, 1, 5, 10, 20, 50},
			},
		),
		RankerRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qeval_ranker_runs_total",
				Help: "External ranker invocations by operation and status.",
			},
			[]string{"op", "status"},
		),
		RankerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qeval_ranker_duration_seconds",
				Help:    "External ranker run time in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"op"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "qeval_cache_hits_total",
				Help: "Total result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "qeval_cache_misses_total",
				Help: "Total result cache misses.",
			},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.QueriesTotal,
		m.QueryLatency,
		m.ResultsCount,
		m.ExpansionSize,
		m.RankerRunsTotal,
		m.RankerDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)
	return m
}

// QueryEvaluated records one evaluated query.
func (m *Metrics) QueryEvaluated(model string, results int, elapsed time.Duration) {
	m.QueriesTotal.WithLabelValues(model).Inc()
	m.QueryLatency.WithLabelValues(model).Observe(elapsed.Seconds())
	m.ResultsCount.WithLabelValues(model).Observe(float64(results))
}

// ExpansionTerms records the size of one learned query.
func (m *Metrics) ExpansionTerms(n int) {
	m.ExpansionSize.Observe(float64(n))
}

// RankerRun records one train or classify invocation.
func (m *Metrics) RankerRun(op string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RankerRunsTotal.WithLabelValues(op, status).Inc()
	m.RankerDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// CacheHit records a result cache hit.
func (m *Metrics) CacheHit() {
	m.CacheHitsTotal.Inc()
}

// CacheMiss records a result cache miss.
func (m *Metrics) CacheMiss() {
	m.CacheMissesTotal.Inc()
}

// Handler returns the Prometheus scrape HTTP handler for these metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
