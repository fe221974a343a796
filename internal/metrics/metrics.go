// Package metrics provides Prometheus metrics for the matcher service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MatchRunsTotal tracks matching runs by outcome (completed, empty, failed)
	MatchRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matcher",
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Total number of matching runs by outcome",
		},
		[]string{"outcome"},
	)

	// MatchRunDuration tracks matching run duration in seconds
	MatchRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "matcher",
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Duration of matching runs in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// CandidatesScored tracks how many found items were scored per run
	CandidatesScored = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "matcher",
			Subsystem: "engine",
			Name:      "candidates_scored",
			Help:      "Number of found items scored per matching run",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	// MatchesPersisted tracks match records written
	MatchesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "matcher",
			Subsystem: "engine",
			Name:      "matches_persisted_total",
			Help:      "Total number of match records inserted",
		},
	)

	// VisionRequestsTotal tracks image-annotation calls by result
	VisionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matcher",
			Subsystem: "vision",
			Name:      "requests_total",
			Help:      "Total number of image annotation requests by result",
		},
		[]string{"result"},
	)

	// VisionRequestDuration tracks image-annotation call latency
	VisionRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "matcher",
			Subsystem: "vision",
			Name:      "request_duration_seconds",
			Help:      "Duration of image annotation requests in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
	)

	// AnnotationCacheLookups tracks annotation cache hits and misses
	AnnotationCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matcher",
			Subsystem: "cache",
			Name:      "annotation_lookups_total",
			Help:      "Total number of annotation cache lookups by result",
		},
		[]string{"result"},
	)

	// TriggerMessagesTotal tracks broker trigger messages by result
	TriggerMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matcher",
			Subsystem: "queue",
			Name:      "trigger_messages_total",
			Help:      "Total number of lost-item trigger messages by result",
		},
		[]string{"result"},
	)
)
