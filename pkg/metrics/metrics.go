// Package metrics exposes the Prometheus registry that the pager, page cache
// and HTTP source register their collectors with.
//
// Collectors live next to the code they measure (pkg/pager, pkg/pagecache,
// pkg/source) and are registered through promauto on the default registerer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all package collectors use.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics reference
//
// Pager (pkg/pager):
//   - pager_sessions_total (Counter)
//   - pager_decisions_total{action} (Counter): next, previous, none
//   - pager_fetches_total{direction, outcome} (Counter)
//   - pager_fetch_duration_seconds{direction} (Histogram)
//   - pager_cache_hits_total{direction} (Counter): advances served from the window
//   - pager_evictions_total{end} (Counter): first, last
//   - pager_cached_pages (Gauge)
//   - pager_discarded_fetches_total (Counter)
//
// Page cache (pkg/pagecache):
//   - pagecache_hits_total (Counter)
//   - pagecache_misses_total (Counter)
//   - pagecache_errors_total{operation} (Counter): get, set, delete, decode
//   - pagecache_stored_bytes_total (Counter)
//
// HTTP source (pkg/source):
//   - source_requests_total{status} (Counter)
//   - source_request_duration_seconds (Histogram)
//   - source_retries_total{error_class} (Counter)
//   - source_retry_exhausted_total{error_class} (Counter)
//
// Upstream rate limit (pkg/ratelimit):
//   - ratelimit_remaining (Gauge)
//   - ratelimit_blocks_total (Counter)
//   - ratelimit_throttles_total (Counter)
//
// Example queries:
//
//   # Share of advances served without a fetch
//   sum(rate(pager_cache_hits_total[5m])) /
//   (sum(rate(pager_cache_hits_total[5m])) + sum(rate(pager_fetches_total[5m])))
//
//   # Fetch failure rate
//   rate(pager_fetches_total{outcome="failure"}[5m])
//
//   # P95 fetch latency
//   histogram_quantile(0.95, rate(pager_fetch_duration_seconds_bucket[5m]))
