// Package pagecache provides a Redis read-through store for page-fetch
// collaborators.
//
// The pager keeps only a bounded window of pages in memory. ReadThrough wraps
// the session's fetch function so that pages dropped from that window, or
// requested by another pager instance, are served from Redis until their TTL
// runs out.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := pagecache.NewStore(redisClient, 10*time.Minute)
//
//	fetch := pagecache.ReadThrough(store, "recent", nil, api.FetchRecent)
//	stream, err := p.StartSession(fetch)
//
// # Keys
//
// Keys are deterministic: pager:<namespace>:<param=value ...>:page=<n>:size=<m>.
// Parameters are sorted, so equal queries share entries. Purge removes every
// entry of a namespace.
//
// # Failure Handling
//
//   - Redis errors never fail a fetch; ReadThrough logs and calls the wrapped fetch.
//   - Fetch errors are returned unchanged and are never cached.
//   - Concurrent misses for the same key share one fetch (singleflight).
//
// # Metrics
//
//   - pagecache_hits_total - Entries served from Redis
//   - pagecache_misses_total - Absent or expired entries
//   - pagecache_errors_total{operation} - Redis or decode errors
//   - pagecache_stored_bytes_total - Bytes written
package pagecache
