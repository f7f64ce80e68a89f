package pagecache

import (
	"encoding/json"
	"time"
)

// Entry is one cached page.
type Entry struct {
	// Items is the JSON encoding of the page's items.
	Items json.RawMessage `json:"items"`

	// Count is the number of items in the page.
	Count int `json:"count"`

	// CachedAt is when the page was stored.
	CachedAt time.Time `json:"cached_at"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`
}

// IsExpired reports whether the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
