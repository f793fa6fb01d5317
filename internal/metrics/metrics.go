// Package metrics defines the prometheus collectors of the text2sql service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Query outcomes.
const (
	OutcomeSuccess        = "success"
	OutcomeExhausted      = "exhausted"
	OutcomeExecutionError = "execution_error"
	OutcomeError          = "error"
)

var (
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_queries_total",
			Help: "Total number of query_to_sql calls by outcome",
		},
		[]string{"outcome"},
	)

	CorrectionAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "text2sql_correction_attempts",
			Help:    "Correction attempts used per query",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_stage_failures_total",
			Help: "Validation failures by stage",
		},
		[]string{"stage"},
	)

	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "text2sql_generation_duration_seconds",
			Help:    "Duration of LLM generation calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	RetrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "text2sql_retrieval_duration_seconds",
			Help: "Duration of schema context retrieval in seconds",
		},
	)

	KnowledgeRebuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_knowledge_rebuilds_total",
			Help: "Knowledge store rebuilds by result",
		},
		[]string{"result"},
	)
)

// ObserveSince records the seconds elapsed since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
