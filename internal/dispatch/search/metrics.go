package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_searches_started_total",
		Help: "Total driver search runs started.",
	})

	searchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_search_outcomes_total",
		Help: "Terminal search outcomes grouped by result.",
	}, []string{"result"})

	searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_search_duration_seconds",
		Help:    "Time from search start to terminal outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})
)
