package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 问答流水线指标
var (
	IndexBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_index_builds_total",
			Help: "Total number of vector index builds",
		},
		[]string{"result"}, // success, embedding_failed, backend_failed
	)

	IndexBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docqa_index_build_duration_seconds",
			Help:    "Duration of vector index builds including embedding",
			Buckets: prometheus.DefBuckets,
		},
	)

	IndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docqa_index_chunks",
			Help: "Number of chunks in the current index snapshot",
		},
	)

	IndexSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_index_searches_total",
			Help: "Total number of vector index searches",
		},
		[]string{"result"}, // hit, empty, error
	)

	ClauseExtractionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docqa_clause_extraction_failures_total",
			Help: "Clause extractions that failed and returned no clauses",
		},
	)

	Answers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_answers_total",
			Help: "Answers produced by outcome",
		},
		[]string{"outcome"}, // answered, generation_failed, failed
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docqa_pipeline_duration_seconds",
			Help:    "Duration of question answering requests",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	DocumentCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_document_cache_total",
			Help: "Document cache lookups by layer and result",
		},
		[]string{"layer", "result"}, // layer: redis, store; result: hit, miss, stale, error
	)

	HTTPRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docqa_http_request_duration_seconds",
			Help:    "HTTP request duration by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
