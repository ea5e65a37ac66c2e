package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quorum_queries_total",
		Help: "Pipeline runs by terminal status.",
	}, []string{"status"})

	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quorum_cache_hits_total",
		Help: "Pipeline results served from cache.",
	})

	stageSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quorum_stage_duration_seconds",
		Help:    "Wall-clock duration per pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})
)
