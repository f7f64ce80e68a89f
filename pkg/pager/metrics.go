package pager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for pager sessions.
var (
	pagerSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pager_sessions_total",
		Help: "Total number of paging sessions started",
	})

	pagerDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pager_decisions_total",
		Help: "Total debounced scroll decisions by action",
	}, []string{"action"}) // "next", "previous", "none"

	pagerFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pager_fetches_total",
		Help: "Total page fetch calls by direction and outcome",
	}, []string{"direction", "outcome"})

	pagerFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pager_fetch_duration_seconds",
		Help:    "Page fetch duration in seconds by direction",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"direction"})

	pagerCacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pager_cache_hits_total",
		Help: "Total advances served from the cache window by direction",
	}, []string{"direction"})

	pagerEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pager_evictions_total",
		Help: "Total pages evicted from the cache window by end",
	}, []string{"end"}) // "first", "last"

	pagerCachedPages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pager_cached_pages",
		Help: "Number of pages resident in the most recently updated window",
	})

	pagerDiscardedFetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pager_discarded_fetches_total",
		Help: "Total fetch results discarded because their session ended",
	})
)

// Outcome labels for pager_fetches_total.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)
