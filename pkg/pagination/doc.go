// Package pagination fetches ranges of pages in parallel through a
// pager.FetchFunc.
//
// The pager itself fetches one page at a time as the user scrolls. A
// BatchFetcher is for the opposite case, loading many pages up front, for
// example to warm a read-through page cache before a session starts:
//
//	fetch := pagecache.ReadThrough(store, "photos", params, src.Fetch)
//	bf := pagination.NewBatchFetcher(fetch, pagination.DefaultConfig())
//	pages, err := bf.FetchPages(ctx, 1, 20, 100)
//
// The batch fetcher:
//   - Distributes the pages across a worker pool (default 4 workers)
//   - Stops handing out pages past the first empty page
//   - Returns partial results together with the first error
package pagination
