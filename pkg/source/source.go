// Package source fetches pages of JSON items over HTTP, with error
// classification and retry/backoff. A Source's Fetch method is a
// pager.FetchFunc.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/scroll-pager/pkg/logging"
)

// DefaultMaxBodyBytes bounds a page response when Config.MaxBodyBytes is unset.
const DefaultMaxBodyBytes = 16 << 20

// Config holds the source configuration.
type Config struct {
	// BaseURL is the page endpoint (required).
	BaseURL string

	// PageParam and SizeParam name the 1-based page number and page size
	// query parameters.
	PageParam string
	SizeParam string

	// Params are sent with every request.
	Params url.Values

	// ItemsField is a dotted path to the item array inside a JSON object
	// response, e.g. "photos.photo". Empty means the body is the array.
	ItemsField string

	// UserAgent is sent with every request (required).
	UserAgent string

	// Timeout bounds one HTTP attempt.
	Timeout time.Duration

	// MaxBodyBytes bounds one response body. Larger bodies fail the page.
	MaxBodyBytes int64

	// Retry configures backoff for retryable failures.
	Retry RetryConfig
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		PageParam: "page",
		SizeParam: "per_page",
		UserAgent: "scroll-pager/1.0",
		Timeout:      10 * time.Second,
		MaxBodyBytes: DefaultMaxBodyBytes,
		Retry:        DefaultRetryConfig(),
	}
}

// Gate admits upstream requests and learns from their responses.
// *ratelimit.Tracker implements it.
type Gate interface {
	// Allow returns how long to wait before the upstream may be called, 0
	// when the request may proceed now.
	Allow(ctx context.Context) (time.Duration, error)

	// Observe records the status and headers of a response.
	Observe(ctx context.Context, status int, headers http.Header) error
}

// Source fetches pages of T from an HTTP JSON endpoint.
type Source[T any] struct {
	httpClient *http.Client
	config     Config
	base       *url.URL
	gate       Gate
	logger     zerolog.Logger
}

// New creates a Source.
func New[T any](cfg Config) (*Source[T], error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user agent is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https (got %q)", cfg.BaseURL)
	}
	if cfg.PageParam == "" {
		cfg.PageParam = "page"
	}
	if cfg.SizeParam == "" {
		cfg.SizeParam = "per_page"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	return &Source[T]{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		base:       base,
		logger:     logging.NewLogger("source"),
	}, nil
}

// WithParams returns a copy of s that also sends params, overriding keys
// already present in the configuration.
func (s *Source[T]) WithParams(params url.Values) *Source[T] {
	merged := url.Values{}
	for key, values := range s.config.Params {
		merged[key] = append([]string(nil), values...)
	}
	for key, values := range params {
		merged[key] = append([]string(nil), values...)
	}

	c := *s
	c.config.Params = merged
	return &c
}

// Params returns the query parameters sent with every request.
func (s *Source[T]) Params() url.Values {
	return s.config.Params
}

// SetGate makes every request pass through gate. Copies made by WithParams
// afterwards share it.
func (s *Source[T]) SetGate(gate Gate) {
	s.gate = gate
}

// SetHTTPClient replaces the HTTP client (for testing).
func (s *Source[T]) SetHTTPClient(client *http.Client) {
	s.httpClient = client
}

// Fetch retrieves one page. It has the pager.FetchFunc signature.
func (s *Source[T]) Fetch(ctx context.Context, page, pageSize int) ([]T, error) {
	reqURL := s.pageURL(page, pageSize)
	logger := s.logger.With().Int("page", page).Int("page_size", pageSize).Logger()

	var items []T
	err := retryWithBackoff(ctx, s.config.Retry, logger, func() error {
		body, err := s.get(ctx, reqURL)
		if err != nil {
			return err
		}
		items, err = decodeItems[T](body, s.config.ItemsField)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Debug().Int("count", len(items)).Msg("Page fetched")
	return items, nil
}

func (s *Source[T]) pageURL(page, pageSize int) string {
	query := s.base.Query()
	for key, values := range s.config.Params {
		query[key] = values
	}
	query.Set(s.config.PageParam, strconv.Itoa(page))
	query.Set(s.config.SizeParam, strconv.Itoa(pageSize))

	u := *s.base
	u.RawQuery = query.Encode()
	return u.String()
}

func (s *Source[T]) get(ctx context.Context, reqURL string) ([]byte, error) {
	if s.gate != nil {
		wait, err := s.gate.Allow(ctx)
		switch {
		case ctx.Err() != nil:
			return nil, fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case err != nil:
			s.logger.Warn().Err(err).Msg("Rate limit gate failed, sending request")
		case wait > 0:
			return nil, &SourceError{
				Class:      ErrorClassRateLimit,
				Message:    "upstream quota exhausted",
				RetryAfter: wait,
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	sourceRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		sourceRequestsTotal.WithLabelValues("error").Inc()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		}
		return nil, &SourceError{
			Class:   ErrorClassNetwork,
			Message: "request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	sourceRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if s.gate != nil {
		if err := s.gate.Observe(ctx, resp.StatusCode, resp.Header); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to record rate limit state")
		}
	}

	limit := s.config.MaxBodyBytes
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &SourceError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}
	}
	if int64(len(body)) > limit {
		s.logger.Warn().
			Int("status", resp.StatusCode).
			Int64("limit_bytes", limit).
			Msg("Upstream response body too large")
		return nil, &SourceError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassClient,
			Message:    fmt.Sprintf("response body exceeds %d bytes", limit),
			Err:        ErrBodyTooLarge,
		}
	}

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		s.logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream returned error")
		return nil, &SourceError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    strings.TrimSpace(string(truncate(body, 256))),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	return body, nil
}

// decodeItems decodes a JSON array, descending through field first when set.
func decodeItems[T any](body []byte, field string) ([]T, error) {
	raw := json.RawMessage(body)
	if field != "" {
		for _, name := range strings.Split(field, ".") {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, fmt.Errorf("%w: %q is not an object: %w", ErrDecode, name, err)
			}
			next, ok := obj[name]
			if !ok {
				return nil, fmt.Errorf("%w: field %q not found", ErrDecode, name)
			}
			raw = next
		}
	}

	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// IsRetryable reports whether err is a failure the source would retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrContextCancelled) {
		return false
	}
	return shouldRetry(classOf(err))
}
