package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Total jobs processed, by queue, kind and outcome.",
		},
		[]string{"queue", "kind", "status"},
	)

	jobsSkippedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "jobs",
			Name:      "skipped_total",
			Help:      "Jobs popped whose descriptor was already deleted (cancelled).",
		},
		[]string{"queue"},
	)

	jobDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Duration of job handler execution.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"queue", "kind"},
	)
)
