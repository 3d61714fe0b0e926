// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActivityTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_activity_total",
			Help: "Total number of activity log entries",
		},
		[]string{"type", "role"},
	)

	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_submissions_total",
			Help: "Total number of exam submissions",
		},
		[]string{"exam", "trigger"},
	)

	GradingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_grading_duration_seconds",
			Help:    "Time spent grading one submission",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"exam"},
	)

	AIFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_ai_fallbacks_total",
			Help: "AI collaborator calls that fell back to the fixed result",
		},
		[]string{"operation"},
	)

	ScoreHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_exam_score_ratio",
			Help:    "Distribution of final scores as a share of total points",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"exam"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)
