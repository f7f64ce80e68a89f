package pagecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts pages served from Redis.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagecache_hits_total",
		Help: "Total number of page cache hits",
	})

	// CacheMisses counts absent or expired pages.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagecache_misses_total",
		Help: "Total number of page cache misses",
	})

	// CacheErrors counts failed cache operations.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecache_errors_total",
			Help: "Total number of page cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "decode"
	)

	// StoredBytes counts bytes written to Redis.
	StoredBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagecache_stored_bytes_total",
		Help: "Total bytes of page entries written to the cache",
	})
)
