package pager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/scroll-pager/pkg/logging"
)

// FetchFunc loads one page of items. page starts at 1. A nil error is a
// success; any error is reported as a failure for that page. ctx is cancelled
// when the session that issued the call ends.
type FetchFunc[T any] func(ctx context.Context, page, pageSize int) ([]T, error)

// Scroll thresholds on the fraction of the loaded window scrolled past.
const (
	forwardThreshold  = 0.8
	backwardThreshold = 0.2
)

// action labels for pager_decisions_total.
const (
	actionNext     = "next"
	actionPrevious = "previous"
	actionNone     = "none"
)

// Pager pages through a FetchFunc keeping a bounded window of pages cached
// around the current scroll position.
type Pager[T any] struct {
	cfg      Config
	logger   zerolog.Logger
	debounce *debouncer

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	session *session[T]
	nextID  uint64

	state atomic.Pointer[WindowState]
}

// New creates a pager. Zero-valued config fields take their defaults.
func New[T any](cfg Config) (*Pager[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pager[T]{
		cfg:      cfg,
		logger:   logging.NewLogger("pager"),
		debounce: newDebouncer(cfg.DebounceInterval),
		ctx:      ctx,
		cancel:   cancel,
	}
	p.state.Store(&WindowState{})

	return p, nil
}

// Config returns the effective configuration.
func (p *Pager[T]) Config() Config {
	return p.cfg
}

// StartSession discards all cached pages, fetches page 1 with fetch and
// returns the stream of results for the new session. The previous session's
// task is cancelled and joined, and its stream is closed.
func (p *Pager[T]) StartSession(fetch FetchFunc[T]) (*Stream[T], error) {
	if fetch == nil {
		return nil, fmt.Errorf("fetch function is required")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}

	p.endSession()
	p.debounce.discard()
	p.state.Store(&WindowState{})

	p.nextID++
	ctx, cancel := context.WithCancel(p.ctx)
	s := &session[T]{
		id:     p.nextID,
		pager:  p,
		fetch:  fetch,
		win:    newWindow[T](),
		stream: newStream[T](p.cfg.SubscriberBuffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.logger = p.logger.With().Uint64("session", s.id).Logger()
	p.session = s

	pagerSessionsTotal.Inc()
	s.logger.Info().
		Int("page_size", p.cfg.PageSize).
		Int("cached_page_limit", p.cfg.CachedPageLimit).
		Int("max_pages", p.cfg.MaxPages).
		Msg("Paging session started")
	p.mu.Unlock()

	// Page 1 loads without p.mu so Close or a replacing session can cancel it.
	// endSession waits on s.done, which only run closes.
	s.advanceNext()
	go s.run()

	return s.stream, nil
}

// ReportVisibleIndex feeds the first visible item index into the debouncer.
// Only the latest index after a quiet period drives a decision.
func (p *Pager[T]) ReportVisibleIndex(index int) {
	if index < 0 {
		index = 0
	}
	p.debounce.push(index)
}

// State returns a snapshot of the active session's cache window.
func (p *Pager[T]) State() WindowState {
	return *p.state.Load()
}

// Close ends the active session and stops the debouncer. It is safe to call
// more than once.
func (p *Pager[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	p.endSession()
	p.debounce.stop()
	p.cancel()

	p.logger.Debug().Msg("Pager closed")
	return nil
}

// endSession cancels the active session, waits for its task and closes its
// stream. Callers hold p.mu.
func (p *Pager[T]) endSession() {
	s := p.session
	if s == nil {
		return
	}
	p.session = nil

	s.cancel()
	<-s.done
	s.stream.close()

	s.logger.Debug().Msg("Paging session ended")
}

// session is the state owned by one StartSession call. Everything below is
// touched only by the session task, or by StartSession before the task starts.
type session[T any] struct {
	id     uint64
	pager  *Pager[T]
	fetch  FetchFunc[T]
	win    *window[T]
	stream *Stream[T]
	logger zerolog.Logger

	previousIndex int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *session[T]) run() {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			return
		case index := <-s.pager.debounce.C():
			if s.ctx.Err() != nil {
				return
			}
			s.decide(index)
		}
	}
}

// decide maps a debounced visible index to a paging action.
func (s *session[T]) decide(visible int) {
	w := s.win
	pageSize := float64(s.pager.cfg.PageSize)

	// Items loaded around current, used to normalise the visible index.
	var windowSize float64
	switch w.current {
	case 1:
		windowSize = pageSize
	case 2, w.first, w.last:
		windowSize = 2 * pageSize
	default:
		windowSize = 3 * pageSize
	}

	fraction := float64(visible) / windowSize
	forward := visible-s.previousIndex >= 0

	action := actionNone
	switch {
	case fraction > forwardThreshold && forward:
		action = actionNext
	case fraction < backwardThreshold && !forward:
		action = actionPrevious
	}

	pagerDecisionsTotal.WithLabelValues(action).Inc()
	s.logger.Debug().
		Int("visible_index", visible).
		Int("previous_index", s.previousIndex).
		Float64("fraction", fraction).
		Int("first", w.first).
		Int("current", w.current).
		Int("last", w.last).
		Str("action", action).
		Msg("Scroll decision")

	switch action {
	case actionNext:
		s.advanceNext()
	case actionPrevious:
		s.advancePrevious()
	}

	s.previousIndex = visible
}

func (s *session[T]) advanceNext() {
	w := s.win

	switch {
	case w.empty():
		if !s.loadFirst(DirectionNext) {
			return
		}
	case w.current < w.last:
		w.stepNext()
		pagerCacheHitsTotal.WithLabelValues(string(DirectionNext)).Inc()
		s.logger.Debug().Int("page", w.current).Msg("Next page served from window")
	case w.last < s.pager.cfg.MaxPages:
		items, ok := s.load(w.last+1, DirectionNext)
		if !ok {
			return
		}
		w.appendNext(items)
	default:
		s.logger.Debug().Int("max_pages", s.pager.cfg.MaxPages).Msg("At last page, not paging forward")
		return
	}

	s.evict()
	s.emitWindow()
}

func (s *session[T]) advancePrevious() {
	w := s.win

	switch {
	case w.empty():
		if !s.loadFirst(DirectionPrevious) {
			return
		}
	case w.current > w.first:
		w.stepPrevious()
		pagerCacheHitsTotal.WithLabelValues(string(DirectionPrevious)).Inc()
		s.logger.Debug().Int("page", w.current).Msg("Previous page served from window")
	case w.first > 1:
		items, ok := s.load(w.first-1, DirectionPrevious)
		if !ok {
			return
		}
		w.prependPrevious(items)
	default:
		s.logger.Debug().Msg("At first page, not paging backward")
		return
	}

	s.evict()
	s.emitWindow()
}

func (s *session[T]) loadFirst(dir Direction) bool {
	items, ok := s.load(1, dir)
	if !ok {
		return false
	}
	s.win.seed(items)
	return true
}

// load calls the fetch collaborator. On failure it publishes a failure result
// and leaves the window untouched. Results arriving after the session ended
// are dropped without publishing.
func (s *session[T]) load(page int, dir Direction) ([]T, bool) {
	start := time.Now()
	items, err := s.fetch(s.ctx, page, s.pager.cfg.PageSize)
	duration := time.Since(start)
	pagerFetchDuration.WithLabelValues(string(dir)).Observe(duration.Seconds())

	if s.ctx.Err() != nil {
		pagerDiscardedFetchesTotal.Inc()
		s.logger.Debug().
			Int("page", page).
			Str("direction", string(dir)).
			Msg("Discarding fetch result of ended session")
		return nil, false
	}

	if err != nil {
		pagerFetchesTotal.WithLabelValues(string(dir), outcomeFailure).Inc()
		s.logger.Warn().
			Err(err).
			Int("page", page).
			Str("direction", string(dir)).
			Dur("duration", duration).
			Msg("Page fetch failed")

		s.stream.publish(s.ctx, Result[T]{
			Window: s.win.state(),
			Err:    &FetchError{Page: page, Direction: dir, Err: err},
		})
		return nil, false
	}

	pagerFetchesTotal.WithLabelValues(string(dir), outcomeSuccess).Inc()
	s.logger.Info().
		Int("page", page).
		Str("direction", string(dir)).
		Int("items", len(items)).
		Dur("duration", duration).
		Msg("Page fetched")

	return items, true
}

func (s *session[T]) evict() {
	page, end, ok := s.win.evict(s.pager.cfg.CachedPageLimit)
	if !ok {
		return
	}

	pagerEvictionsTotal.WithLabelValues(end).Inc()
	s.logger.Debug().
		Int("page", page).
		Str("end", end).
		Int("current", s.win.current).
		Msg("Evicted page from window")
}

func (s *session[T]) emitWindow() {
	state := s.win.state()
	s.pager.state.Store(&state)
	pagerCachedPages.Set(float64(state.Cached))

	s.stream.publish(s.ctx, Result[T]{
		Items:  s.win.items(),
		Window: state,
	})
}
