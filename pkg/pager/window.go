package pager

import "github.com/samber/lo"

// Window ends reported by evictions.
const (
	endFirst = "first"
	endLast  = "last"
)

// WindowState is a snapshot of the cache window indices.
// All fields are zero before the first page is cached.
type WindowState struct {
	First   int `json:"first"`
	Current int `json:"current"`
	Last    int `json:"last"`
	Cached  int `json:"cached"`
}

// Span returns Last - First, the quantity bounded by Config.CachedPageLimit.
func (s WindowState) Span() int {
	return s.Last - s.First
}

// window is an arena of pages keyed by page number. Pages between first and
// last are always resident, so neighbours are found by number, not by link.
type window[T any] struct {
	pages   map[int][]T
	first   int
	current int
	last    int
}

func newWindow[T any]() *window[T] {
	return &window[T]{pages: make(map[int][]T)}
}

func (w *window[T]) empty() bool {
	return w.current == 0
}

// seed caches page 1 as the only page.
func (w *window[T]) seed(items []T) {
	w.pages = map[int][]T{1: items}
	w.first, w.current, w.last = 1, 1, 1
}

// appendNext caches page last+1 and makes it current.
func (w *window[T]) appendNext(items []T) {
	w.last++
	w.pages[w.last] = items
	w.current = w.last
}

// prependPrevious caches page first-1 and makes it current.
func (w *window[T]) prependPrevious(items []T) {
	w.first--
	w.pages[w.first] = items
	w.current = w.first
}

func (w *window[T]) stepNext() {
	w.current++
}

func (w *window[T]) stepPrevious() {
	w.current--
}

// evict drops the end farther from current when the span exceeds limit.
// Ties drop the first page. At most one page is dropped per call.
func (w *window[T]) evict(limit int) (page int, end string, ok bool) {
	if w.last-w.first <= limit {
		return 0, "", false
	}

	if w.last-w.current > w.current-w.first {
		page = w.last
		delete(w.pages, w.last)
		w.last--
		return page, endLast, true
	}

	page = w.first
	delete(w.pages, w.first)
	w.first++
	return page, endFirst, true
}

// items returns the previous, current and next pages concatenated in page
// order, skipping neighbours that are not resident.
func (w *window[T]) items() []T {
	if w.empty() {
		return nil
	}

	parts := make([][]T, 0, 3)
	for page := w.current - 1; page <= w.current+1; page++ {
		if page < w.first || page > w.last {
			continue
		}
		parts = append(parts, w.pages[page])
	}
	return lo.Flatten(parts)
}

func (w *window[T]) state() WindowState {
	if w.empty() {
		return WindowState{}
	}
	return WindowState{
		First:   w.first,
		Current: w.current,
		Last:    w.last,
		Cached:  len(w.pages),
	}
}
