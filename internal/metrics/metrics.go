package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	// Pipeline outcomes, labelled by the last stage reached.
	PipelineTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "chat",
			Name:      "pipeline_total",
			Help:      "Chat pipeline runs by final stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "chat",
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end chat pipeline duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 60},
		},
	)

	EmbeddingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "embedding",
			Name:      "duration_seconds",
			Help:      "Embedding provider call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10},
		},
	)

	EmbeddingCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "embedding",
			Name:      "cache_total",
			Help:      "Embedding cache lookups by result",
		},
		[]string{"result"},
	)

	VectorSearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "retrieval",
			Name:      "vector_search_duration_seconds",
			Help:      "Vector search duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2},
		},
	)

	IngestedChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Chunks processed during ingestion by outcome",
		},
		[]string{"outcome"},
	)

	IngestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Document ingestions by final status",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordRequest(method, route, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, route, status).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(durationSec)
}

func RecordPipeline(stage, outcome string, durationSec float64) {
	PipelineTotal.WithLabelValues(stage, outcome).Inc()
	PipelineDuration.Observe(durationSec)
}

func RecordEmbedding(durationSec float64) {
	EmbeddingDuration.Observe(durationSec)
}

func RecordEmbeddingCache(hit bool) {
	if hit {
		EmbeddingCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	EmbeddingCacheTotal.WithLabelValues("miss").Inc()
}

func RecordVectorSearch(durationSec float64) {
	VectorSearchDuration.Observe(durationSec)
}

func RecordIngestedChunk(outcome string) {
	IngestedChunksTotal.WithLabelValues(outcome).Inc()
}

func RecordIngestion(status string) {
	IngestionsTotal.WithLabelValues(status).Inc()
}
