package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/scroll-pager/pkg/logging"
	"github.com/Sternrassler/scroll-pager/pkg/pager"
)

// Config holds batch fetcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel fetches.
	MaxConcurrency int

	// Timeout bounds a single page fetch.
	Timeout time.Duration
}

// DefaultConfig returns the default batch fetcher configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// PageResult is the outcome of fetching a single page.
type PageResult[T any] struct {
	PageNumber int
	Items      []T
	Error      error
}

// BatchFetcher fetches page ranges with a worker pool.
type BatchFetcher[T any] struct {
	fetch  pager.FetchFunc[T]
	config Config
	logger zerolog.Logger
}

// NewBatchFetcher creates a batch fetcher. Zero-valued config fields take
// their defaults.
func NewBatchFetcher[T any](fetch pager.FetchFunc[T], config Config) *BatchFetcher[T] {
	defaults := DefaultConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	return &BatchFetcher[T]{
		fetch:  fetch,
		config: config,
		logger: logging.NewLogger("pagination"),
	}
}

// FetchPages fetches pages first..last inclusive and returns the non-empty
// ones keyed by page number. An empty page marks the end of the data: later
// pages are not requested. On failure the pages fetched so far are returned
// together with the first error.
func (bf *BatchFetcher[T]) FetchPages(ctx context.Context, first, last, pageSize int) (map[int][]T, error) {
	if first < 1 {
		return nil, fmt.Errorf("first page must be >= 1 (got %d)", first)
	}
	if last < first {
		return nil, fmt.Errorf("last page %d is before first page %d", last, first)
	}

	start := time.Now()
	total := last - first + 1

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	bf.logger.Info().
		Int("first", first).
		Int("last", last).
		Int("workers", bf.config.MaxConcurrency).
		Msg("Starting parallel page fetch")

	// end is the lowest page known to be empty.
	var endMu sync.Mutex
	end := last + 1
	pastEnd := func(page int) bool {
		endMu.Lock()
		defer endMu.Unlock()
		return page >= end
	}
	markEnd := func(page int) {
		endMu.Lock()
		defer endMu.Unlock()
		if page < end {
			end = page
		}
	}

	pageQueue := make(chan int)
	pageResults := make(chan PageResult[T], bf.config.MaxConcurrency)

	go func() {
		defer close(pageQueue)
		for page := first; page <= last; page++ {
			if pastEnd(page) {
				return
			}
			select {
			case pageQueue <- page:
			case <-fetchCtx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < bf.config.MaxConcurrency; i++ {
		wg.Add(1)
		go bf.worker(fetchCtx, pageSize, pageQueue, pageResults, markEnd, &wg, i)
	}

	go func() {
		wg.Wait()
		close(pageResults)
	}()

	results := make(map[int][]T)
	var firstErr error
	for result := range pageResults {
		if result.Error != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("page %d: %w", result.PageNumber, result.Error)
				cancel()
			}
			continue
		}
		if len(result.Items) == 0 {
			continue
		}
		results[result.PageNumber] = result.Items
	}

	if firstErr == nil && ctx.Err() != nil {
		firstErr = ctx.Err()
	}

	// Pages fetched concurrently past an empty page are not part of the range.
	for page := range results {
		if pastEnd(page) {
			delete(results, page)
		}
	}

	if firstErr != nil {
		bf.logger.Warn().
			Err(firstErr).
			Int("fetched_pages", len(results)).
			Int("total_pages", total).
			Msg("Batch fetch failed - returning partial results")
		return results, fmt.Errorf("batch fetch (partial data: %d/%d pages): %w", len(results), total, firstErr)
	}

	bf.logger.Info().
		Int("pages", len(results)).
		Int("total", total).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return results, nil
}

// worker processes pages from the queue.
func (bf *BatchFetcher[T]) worker(ctx context.Context, pageSize int, pageQueue <-chan int, results chan<- PageResult[T], markEnd func(int), wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for pageNum := range pageQueue {
		if ctx.Err() != nil {
			break
		}

		pageCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
		items, err := bf.fetch(pageCtx, pageNum, pageSize)
		cancel()

		if err != nil && ctx.Err() != nil {
			// Cancelled by an earlier failure; that error is already reported.
			break
		}
		if err == nil && len(items) == 0 {
			markEnd(pageNum)
		}

		select {
		case results <- PageResult[T]{PageNumber: pageNum, Items: items, Error: err}:
		case <-ctx.Done():
		}
		pagesProcessed++
	}

	bf.logger.Debug().
		Int("worker_id", workerID).
		Int("pages_processed", pagesProcessed).
		Msg("Worker stopped")
}
