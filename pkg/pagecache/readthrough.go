package pagecache

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"

	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/scroll-pager/pkg/logging"
	"github.com/Sternrassler/scroll-pager/pkg/pager"
)

// ReadThrough wraps fetch so pages are served from store when cached and
// stored after a successful fetch. params become part of every key and should
// describe the query fetch serves. Concurrent misses on one key through any
// wrapper of the same store run fetch once. The shared fetch outlives a caller
// whose ctx ends; that caller returns ctx.Err() while the rest still wait.
func ReadThrough[T any](store *Store, namespace string, params url.Values, fetch pager.FetchFunc[T]) pager.FetchFunc[T] {
	logger := logging.NewLogger("pagecache").With().Str("namespace", namespace).Logger()

	return func(ctx context.Context, page, pageSize int) ([]T, error) {
		key := Key{Namespace: namespace, Params: params, Page: page, PageSize: pageSize}

		entry, err := store.Get(ctx, key)
		switch {
		case err == nil:
			var items []T
			if err := json.Unmarshal(entry.Items, &items); err == nil {
				logger.Debug().Str("key", key.String()).Int("items", len(items)).Msg("Page cache hit")
				return items, nil
			}
			CacheErrors.WithLabelValues("decode").Inc()
			logger.Warn().Str("key", key.String()).Msg("Cached page does not decode, fetching")
		case errors.Is(err, ErrCacheMiss):
			logger.Debug().Str("key", key.String()).Msg("Page cache miss")
		default:
			logger.Warn().Err(err).Str("key", key.String()).Msg("Page cache get failed, fetching directly")
		}

		flight := store.flights.DoChan(key.String(), func() (any, error) {
			// Followers share this call, so it ignores the leader's cancellation.
			fetchCtx := context.WithoutCancel(ctx)

			items, err := fetch(fetchCtx, page, pageSize)
			if err != nil {
				return nil, err
			}

			if err := store.Put(fetchCtx, key, items, len(items)); err != nil {
				logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to cache page")
			}
			return items, nil
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-flight:
		}
		if res.Err != nil {
			return nil, res.Err
		}

		items, ok := res.Val.([]T)
		if !ok {
			// Another wrapper with a different item type owns this key.
			return fetch(ctx, page, pageSize)
		}
		if res.Shared {
			logger.Debug().Str("key", key.String()).Msg("Shared in-flight page fetch")
		}
		return items, nil
	}
}
