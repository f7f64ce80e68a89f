package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/scroll-pager/pkg/logging"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ratelimit_remaining",
		Help: "Requests remaining in the current upstream rate limit window",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_blocks_total",
		Help: "Total number of requests blocked by an exhausted quota or a 429 cooldown",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_throttles_total",
		Help: "Total number of requests throttled due to a low quota",
	})
)

// Redis hash fields. Times are stored as Unix milliseconds.
const (
	fieldRemaining     = "remaining"
	fieldResetAt       = "reset_at"
	fieldCooldownUntil = "cooldown_until"
	fieldLastUpdate    = "last_update"
)

// Tracker monitors an upstream's quota and gates requests.
type Tracker struct {
	redis  *redis.Client
	config Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, cfg Config) *Tracker {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	defaults := DefaultConfig("upstream")
	if cfg.Key == "" {
		cfg.Key = defaults.Key
	}
	if cfg.RemainingHeader == "" {
		cfg.RemainingHeader = defaults.RemainingHeader
	}
	if cfg.ResetHeader == "" {
		cfg.ResetHeader = defaults.ResetHeader
	}
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = defaults.DefaultCooldown
	}

	return &Tracker{
		redis:  redisClient,
		config: cfg,
		logger: logging.NewLogger("ratelimit").With().Str("key", cfg.Key).Logger(),
		now:    time.Now,
	}
}

// GetState retrieves the shared state from Redis. It returns an unknown
// state, which allows all requests, if nothing has been observed yet.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	fields, err := t.redis.HGetAll(ctx, t.config.Key).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	state := unknownState()
	if v, ok := fields[fieldRemaining]; ok {
		if state.Remaining, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("parse %s: %w", fieldRemaining, err)
		}
	}

	times := []struct {
		field string
		dst   *time.Time
	}{
		{fieldResetAt, &state.ResetAt},
		{fieldCooldownUntil, &state.CooldownUntil},
		{fieldLastUpdate, &state.LastUpdate},
	}
	for _, tf := range times {
		v, ok := fields[tf.field]
		if !ok {
			continue
		}
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", tf.field, err)
		}
		*tf.dst = time.UnixMilli(ms)
	}

	return state, nil
}

// Observe updates the shared state from an upstream response. Responses
// without quota headers and with a status other than 429 change nothing.
func (t *Tracker) Observe(ctx context.Context, status int, headers http.Header) error {
	now := t.now()
	values := map[string]any{}
	remain := -1

	if remainStr := headers.Get(t.config.RemainingHeader); remainStr != "" {
		var err error
		if remain, err = strconv.Atoi(remainStr); err != nil {
			return fmt.Errorf("parse %s header: %w", t.config.RemainingHeader, err)
		}
		resetStr := headers.Get(t.config.ResetHeader)
		if resetStr == "" {
			return fmt.Errorf("%s header missing", t.config.ResetHeader)
		}
		resetSeconds, err := strconv.Atoi(resetStr)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", t.config.ResetHeader, err)
		}

		values[fieldRemaining] = remain
		values[fieldResetAt] = now.Add(time.Duration(resetSeconds) * time.Second).UnixMilli()
	}

	var cooldown time.Duration
	if status == http.StatusTooManyRequests {
		var ok bool
		if cooldown, ok = retryAfter(headers.Get("Retry-After"), now); !ok {
			cooldown = t.config.DefaultCooldown
		}
		values[fieldCooldownUntil] = now.Add(cooldown).UnixMilli()
	}

	if len(values) == 0 {
		return nil
	}
	values[fieldLastUpdate] = now.UnixMilli()

	if err := t.redis.HSet(ctx, t.config.Key, values).Err(); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	if remain >= 0 {
		rateLimitRemaining.Set(float64(remain))
	}

	logEvent := t.logger.Debug()
	if cooldown > 0 || (remain >= 0 && remain < t.config.WarningRemaining) {
		logEvent = t.logger.Warn()
	}
	logEvent.
		Int("status", status).
		Int("remaining", remain).
		Dur("cooldown", cooldown).
		Msg("Rate limit state updated")

	return nil
}

// Allow gates one request. It returns 0 when the request may proceed, after
// pausing for ThrottleDelay if the quota is low, or how long to wait when the
// quota is exhausted or a cooldown is active.
func (t *Tracker) Allow(ctx context.Context) (time.Duration, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return 0, err
	}

	d := t.config.decide(state, t.now())
	if d.wait > 0 {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", d.wait).
			Msg("Upstream quota exhausted - blocking request")
		rateLimitBlocksTotal.Inc()
		return d.wait, nil
	}

	if d.throttle && t.config.ThrottleDelay > 0 {
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Dur("delay", t.config.ThrottleDelay).
			Msg("Upstream quota low - throttling request")
		rateLimitThrottlesTotal.Inc()

		timer := time.NewTimer(t.config.ThrottleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timer.C:
		}
	}

	return 0, nil
}

// Reset clears the shared state.
func (t *Tracker) Reset(ctx context.Context) error {
	if err := t.redis.Del(ctx, t.config.Key).Err(); err != nil {
		return fmt.Errorf("reset rate limit state: %w", err)
	}
	return nil
}
