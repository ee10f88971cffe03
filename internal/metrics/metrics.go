package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DocumentsProcessed tracks finished pipeline invocations by outcome.
	DocumentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_documents_processed_total",
			Help: "Total number of documents processed",
		},
		[]string{"status", "method"},
	)

	// ProviderCalls tracks OCR provider invocations.
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_provider_calls_total",
			Help: "Total number of OCR provider calls",
		},
		[]string{"provider"},
	)

	// ProviderErrors tracks OCR provider failures by classified kind.
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_provider_errors_total",
			Help: "Total number of OCR provider errors",
		},
		[]string{"provider", "kind"},
	)

	// ProviderLatency tracks OCR call latency.
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_provider_latency_seconds",
			Help:    "OCR provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// BreakerState exposes each provider breaker's state
	// (0 = closed, 1 = open, 2 = half-open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_breaker_state",
			Help: "Circuit breaker state per provider (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)

	// BatchJobs exposes the current job count per status.
	BatchJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_batch_jobs",
			Help: "Current number of batch jobs per status",
		},
		[]string{"status"},
	)

	// RetriesScheduled counts backoff waits scheduled by the retry engine.
	RetriesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_retries_scheduled_total",
			Help: "Total number of retries scheduled",
		},
		[]string{"kind"},
	)
)
