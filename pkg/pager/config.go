package pager

import (
	"fmt"
	"time"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultPageSize         = 100
	DefaultCachedPageLimit  = 10
	DefaultDebounceInterval = 500 * time.Millisecond
	DefaultMaxPages         = 999
	DefaultSubscriberBuffer = 16
)

// Config holds pager configuration.
type Config struct {
	// PageSize is the number of items requested per fetch.
	PageSize int

	// CachedPageLimit bounds Last - First of the cache window.
	CachedPageLimit int

	// DebounceInterval is the quiet period after the last reported index
	// before a decision runs.
	DebounceInterval time.Duration

	// MaxPages is the highest page number that will ever be fetched.
	MaxPages int

	// SubscriberBuffer is the channel capacity of each Stream subscriber.
	SubscriberBuffer int
}

// DefaultConfig returns the default pager configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:         DefaultPageSize,
		CachedPageLimit:  DefaultCachedPageLimit,
		DebounceInterval: DefaultDebounceInterval,
		MaxPages:         DefaultMaxPages,
		SubscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Validate rejects negative settings.
func (c Config) Validate() error {
	if c.PageSize < 0 {
		return fmt.Errorf("page_size must be >= 0 (got %d)", c.PageSize)
	}
	if c.CachedPageLimit < 0 {
		return fmt.Errorf("cached_page_limit must be >= 0 (got %d)", c.CachedPageLimit)
	}
	if c.DebounceInterval < 0 {
		return fmt.Errorf("debounce_interval must be >= 0 (got %s)", c.DebounceInterval)
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max_pages must be >= 0 (got %d)", c.MaxPages)
	}
	if c.SubscriberBuffer < 0 {
		return fmt.Errorf("subscriber_buffer must be >= 0 (got %d)", c.SubscriberBuffer)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.CachedPageLimit == 0 {
		c.CachedPageLimit = DefaultCachedPageLimit
	}
	if c.DebounceInterval == 0 {
		c.DebounceInterval = DefaultDebounceInterval
	}
	if c.MaxPages == 0 {
		c.MaxPages = DefaultMaxPages
	}
	if c.SubscriberBuffer == 0 {
		c.SubscriberBuffer = DefaultSubscriberBuffer
	}
	return c
}
