package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finquery_pipeline_runs_total",
			Help: "Total number of pipeline runs by terminal outcome.",
		},
		[]string{"outcome"},
	)
	pipelineStageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finquery_pipeline_stage_duration_seconds",
			Help:    "Pipeline stage latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finquery_query_duration_seconds",
			Help:    "Analytical store query latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	generationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finquery_generation_requests_total",
			Help: "Total number of text-generation requests by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineRunsTotal,
		pipelineStageDurationSeconds,
		queryDurationSeconds,
		generationRequestsTotal,
	)
}

func ObservePipelineRun(outcome string) {
	pipelineRunsTotal.WithLabelValues(outcome).Inc()
}

func ObserveStageDuration(stage string, elapsed time.Duration) {
	pipelineStageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func ObserveQueryDuration(elapsed time.Duration) {
	queryDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveGeneration(result string) {
	generationRequestsTotal.WithLabelValues(result).Inc()
}
