// Package telemetry exposes prometheus metrics for the retrieval subsystem.
// The registry is served on /metrics by the HTTP server.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SearchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recall_searches_total",
		Help: "Hybrid search requests served, by mode (search|ask).",
	}, []string{"mode"})

	SearchDegradedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recall_search_degraded_total",
		Help: "Searches that fell back to a single index, by failed index.",
	}, []string{"index"})

	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recall_search_duration_seconds",
		Help:    "End-to-end hybrid search latency.",
		Buckets: prometheus.DefBuckets,
	})

	EmbeddingCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recall_embedding_calls_total",
		Help: "Outbound embedding API calls (one per batch, never per text).",
	})

	EmbeddingTruncationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recall_embedding_truncations_total",
		Help: "Texts truncated before embedding, by severity bucket.",
	}, []string{"severity"})

	IngestSectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recall_ingest_sections_total",
		Help: "Ingested file sections, by result (ok|failed).",
	}, []string{"result"})

	IngestJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recall_ingest_jobs_total",
		Help: "Ingestion jobs reaching a terminal state, by status.",
	}, []string{"status"})
)
