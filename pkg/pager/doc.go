// Package pager implements a bidirectional paging and caching engine for
// infinite-scroll views.
//
// A Pager keeps a sliding window of fetched pages around the page the user is
// currently looking at. Scroll positions are reported with ReportVisibleIndex,
// debounced, and turned into one of three decisions: advance to the next page,
// advance to the previous page, or do nothing. Advancing serves neighbours from
// the window when they are resident and calls the session's FetchFunc otherwise.
// Every successful advance publishes the items of the previous, current and next
// pages so a grid can render without gaps.
//
// # Basic Usage
//
//	p, err := pager.New[Photo](pager.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//
//	stream, err := p.StartSession(func(ctx context.Context, page, size int) ([]Photo, error) {
//		return api.Recent(ctx, page, size)
//	})
//	if err != nil {
//		return err
//	}
//
//	for result := range stream.Subscribe(ctx) {
//		if result.Err != nil {
//			// show error state; a later scroll retries the same page
//			continue
//		}
//		render(result.Items)
//	}
//
//	// from the view layer
//	p.ReportVisibleIndex(firstVisible)
//
// # Concurrency
//
// Each session runs a single task goroutine. Decisions, window mutations and
// fetch calls never interleave. Starting a new session cancels the previous
// task, waits for it to exit and closes its Stream; fetch results that arrive
// after cancellation are discarded.
//
// # Metrics
//
//   - pager_sessions_total - Sessions started
//   - pager_decisions_total{action} - Debounced scroll decisions
//   - pager_fetches_total{direction,outcome} - Fetch calls
//   - pager_fetch_duration_seconds{direction} - Fetch latency
//   - pager_cache_hits_total{direction} - Advances served from the window
//   - pager_evictions_total{end} - Pages dropped from the window
//   - pager_cached_pages - Pages resident in the active window
//   - pager_discarded_fetches_total - Fetch results dropped after cancellation
package pager
