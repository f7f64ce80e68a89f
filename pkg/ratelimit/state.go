// Package ratelimit tracks an upstream's request quota and gates requests
// before they are sent. State is kept in Redis so every server instance
// talking to the same upstream shares it.
//
// The quota is learned from response headers (X-RateLimit-Remaining and
// X-RateLimit-Reset by default) and from 429 responses, whose Retry-After
// starts a cooldown.
package ratelimit

import (
	"net/http"
	"strconv"
	"time"
)

// Config holds tracker configuration.
type Config struct {
	// Key is the Redis hash holding the shared state.
	Key string

	// RemainingHeader carries the requests left in the current window.
	RemainingHeader string

	// ResetHeader carries the seconds until the window resets.
	ResetHeader string

	// CriticalRemaining blocks requests while fewer remain.
	CriticalRemaining int

	// WarningRemaining throttles requests while fewer remain.
	WarningRemaining int

	// ThrottleDelay is the pause applied to a throttled request.
	ThrottleDelay time.Duration

	// DefaultCooldown applies to a 429 without a usable Retry-After.
	DefaultCooldown time.Duration
}

// DefaultConfig returns the configuration for the upstream called name.
func DefaultConfig(name string) Config {
	return Config{
		Key:               "pager:ratelimit:" + name,
		RemainingHeader:   "X-RateLimit-Remaining",
		ResetHeader:       "X-RateLimit-Reset",
		CriticalRemaining: 5,
		WarningRemaining:  20,
		ThrottleDelay:     time.Second,
		DefaultCooldown:   5 * time.Second,
	}
}

// State is the quota state shared across instances.
type State struct {
	// Remaining is the number of requests left in the window, -1 when unknown.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets. Remaining is meaningless afterwards.
	ResetAt time.Time `json:"reset_at"`

	// CooldownUntil blocks all requests after a 429.
	CooldownUntil time.Time `json:"cooldown_until"`

	// LastUpdate is when a response last changed the state.
	LastUpdate time.Time `json:"last_update"`
}

// unknownState is the state before any response has been observed.
func unknownState() *State {
	return &State{Remaining: -1}
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// TimeUntilReset returns the duration until the window resets, or 0 if it
// already has.
func (s *State) TimeUntilReset(now time.Time) time.Duration {
	if d := s.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// quotaKnown reports whether Remaining applies at now.
func (s *State) quotaKnown(now time.Time) bool {
	return s.Remaining >= 0 && s.ResetAt.After(now)
}

// decision is the gate outcome for one request.
type decision struct {
	// wait > 0 blocks the request for that long.
	wait     time.Duration
	throttle bool
}

func (c Config) decide(s *State, now time.Time) decision {
	if s.CooldownUntil.After(now) {
		return decision{wait: s.CooldownUntil.Sub(now)}
	}
	if !s.quotaKnown(now) {
		return decision{}
	}
	switch {
	case s.Remaining < c.CriticalRemaining:
		return decision{wait: s.TimeUntilReset(now)}
	case s.Remaining < c.WarningRemaining:
		return decision{throttle: true}
	default:
		return decision{}
	}
}

// retryAfter reads a Retry-After header in seconds or HTTP-date form.
func retryAfter(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now), true
	}
	return 0, false
}
