// Package metrics defines the Prometheus metric collectors used across the
// engine and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	DocsIngestedTotal    prometheus.Counter
	ChunksIndexedTotal   prometheus.Counter
	IngestFailuresTotal  *prometheus.CounterVec
	IngestDuration       prometheus.Histogram
	SearchesTotal        *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	RerankDegradedTotal  prometheus.Counter
	AnswersTotal         *prometheus.CounterVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	IndexChunks          prometheus.Gauge
	IndexSaveTotal       *prometheus.CounterVec
	EmbedCallsTotal      *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		DocsIngestedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_ingested_total",
				Help: "Total documents successfully ingested.",
			},
		),
		ChunksIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chunks_indexed_total",
				Help: "Total chunks appended to the index.",
			},
		),
		IngestFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_failures_total",
				Help: "Total failed ingest attempts by reason (invalid_input, embedding, persistence).",
			},
			[]string{"reason"},
		),
		IngestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_duration_seconds",
				Help:    "End-to-end document ingest latency in seconds.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searches_total",
				Help: "Total search queries by outcome (ok, empty_corpus, zero_result, error).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"cache_status"},
		),
		RerankDegradedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rerank_degraded_total",
				Help: "Total searches that fell back to fused order because reranking failed.",
			},
		),
		AnswersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "answers_total",
				Help: "Total answers returned by mode (generated, fallback, empty).",
			},
			[]string{"mode"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of search cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of search cache misses.",
			},
		),
		IndexChunks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_chunks",
				Help: "Number of chunks currently in the index.",
			},
		),
		IndexSaveTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_save_total",
				Help: "Total index persistence operations by status.",
			},
			[]string{"status"},
		),
		EmbedCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embed_calls_total",
				Help: "Total embedding capability calls by status.",
			},
			[]string{"status"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.DocsIngestedTotal,
		m.ChunksIndexedTotal,
		m.IngestFailuresTotal,
		m.IngestDuration,
		m.SearchesTotal,
		m.SearchLatency,
		m.RerankDegradedTotal,
		m.AnswersTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.IndexChunks,
		m.IndexSaveTotal,
		m.EmbedCallsTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
