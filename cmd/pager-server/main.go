// Command pager-server exposes a scroll pager over HTTP. Clients start a
// search session, report the first visible item index while scrolling, and
// read the resulting window directly or as server-sent events.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/scroll-pager/pkg/logging"
	"github.com/Sternrassler/scroll-pager/pkg/pagecache"
	"github.com/Sternrassler/scroll-pager/pkg/pager"
	"github.com/Sternrassler/scroll-pager/pkg/pagination"
	"github.com/Sternrassler/scroll-pager/pkg/ratelimit"
	"github.com/Sternrassler/scroll-pager/pkg/source"
)

// cacheNamespace names the upstream in page cache and rate limit keys.
const cacheNamespace = "upstream"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func run() error {
	cfg, err := loadConfig(newViper())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srcCfg := source.DefaultConfig(cfg.UpstreamURL)
	srcCfg.ItemsField = cfg.ItemsField
	srcCfg.UserAgent = cfg.UserAgent
	src, err := source.New[json.RawMessage](srcCfg)
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}

	var store *pagecache.Store
	if cfg.RedisURL != "" {
		redisClient, err := newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		store = pagecache.NewStore(redisClient, cfg.CacheTTL)
		logger.Info().Str("redis", cfg.RedisURL).Dur("ttl", cfg.CacheTTL).Msg("Page cache enabled")

		if cfg.RateLimit {
			src.SetGate(ratelimit.NewTracker(redisClient, ratelimit.DefaultConfig(cacheNamespace)))
			logger.Info().Msg("Upstream rate limit tracking enabled")
		}
	}

	p, err := pager.New[json.RawMessage](cfg.Pager)
	if err != nil {
		return fmt.Errorf("create pager: %w", err)
	}
	defer p.Close()

	newFetch := newFetchFactory(src, store)
	handler := newServer(p, newFetch, cfg.SearchParam)
	if store != nil {
		handler.warm = newWarmer(newFetch, p.Config().PageSize)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("upstream", cfg.UpstreamURL).
			Str("user_agent", cfg.UserAgent).
			Msg("Starting pager server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newFetchFactory returns fetch functions for src, read through store when
// store is non-nil.
func newFetchFactory(src *source.Source[json.RawMessage], store *pagecache.Store) fetchFactory {
	return func(params url.Values) pager.FetchFunc[json.RawMessage] {
		fetch := pager.FetchFunc[json.RawMessage](src.WithParams(params).Fetch)
		if store == nil {
			return fetch
		}
		return pagecache.ReadThrough(store, cacheNamespace, params, fetch)
	}
}

// newWarmer fetches pages in parallel through newFetch, which stores them in
// the page cache as a side effect.
func newWarmer(newFetch fetchFactory, pageSize int) warmFunc {
	return func(ctx context.Context, params url.Values, pages int) (int, error) {
		bf := pagination.NewBatchFetcher(newFetch(params), pagination.DefaultConfig())
		fetched, err := bf.FetchPages(ctx, 1, pages, pageSize)
		return len(fetched), err
	}
}

// newRedisClient accepts a redis:// URL or a bare host:port address.
func newRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts := &redis.Options{Addr: redisURL}
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis URL: %w", err)
		}
		opts = parsed
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}
