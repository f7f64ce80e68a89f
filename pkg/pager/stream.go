package pager

import (
	"context"
	"sync"
)

// Result is one event of a session's result stream.
// A nil Err is a success carrying the window around the current page.
type Result[T any] struct {
	// Items are the previous, current and next pages concatenated in page order.
	Items []T `json:"items"`

	// Window is the cache window at the time of emission.
	Window WindowState `json:"window"`

	// Err is a *FetchError when the fetch collaborator failed.
	Err error `json:"-"`
}

// OK reports whether the result is a success.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Stream broadcasts the results of one session to any number of subscribers.
// Late subscribers first receive the most recent result. A Stream is closed
// when its session is replaced or the pager is closed.
type Stream[T any] struct {
	buffer int

	// sendMu orders publishes. mu guards the fields below and is never held
	// across a channel send.
	sendMu sync.Mutex

	mu        sync.Mutex
	subs      map[*subscription[T]]struct{}
	latest    Result[T]
	hasLatest bool
	closed    bool
	done      chan struct{}
}

type subscription[T any] struct {
	ch   chan Result[T]
	done chan struct{}
	once sync.Once

	// mu serializes sends on ch with its close.
	mu       sync.Mutex
	chClosed bool
}

func (s *subscription[T]) cancel() {
	s.once.Do(func() { close(s.done) })
}

// send blocks until ch accepts r, the subscription is cancelled, or ctx ends.
func (s *subscription[T]) send(ctx context.Context, r Result[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chClosed {
		return true
	}
	select {
	case s.ch <- r:
	case <-s.done:
	case <-ctx.Done():
		return false
	}
	return true
}

// closeCh cancels the subscription, waits out an in-flight send and closes ch.
func (s *subscription[T]) closeCh() {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.chClosed {
		s.chClosed = true
		close(s.ch)
	}
}

func newStream[T any](buffer int) *Stream[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Stream[T]{
		buffer: buffer,
		subs:   make(map[*subscription[T]]struct{}),
		done:   make(chan struct{}),
	}
}

// Subscribe returns a channel receiving every result emitted from now on,
// preceded by the latest result if one exists. The channel is closed when ctx
// ends or the stream closes.
func (s *Stream[T]) Subscribe(ctx context.Context) <-chan Result[T] {
	sub := &subscription[T]{
		ch:   make(chan Result[T], s.buffer),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.hasLatest {
		sub.ch <- s.latest
	}
	if s.closed {
		close(sub.ch)
		s.mu.Unlock()
		return sub.ch
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.remove(sub)
		case <-s.done:
		}
	}()

	return sub.ch
}

// Latest returns the most recent result.
func (s *Stream[T]) Latest() (Result[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.hasLatest
}

// Done is closed when the stream closes.
func (s *Stream[T]) Done() <-chan struct{} {
	return s.done
}

// publish delivers r to every subscriber in emission order. A full subscriber
// buffer blocks the publisher until the subscriber reads, leaves, or ctx ends.
// Latest and Subscribe never wait on a blocked publish.
func (s *Stream[T]) publish(ctx context.Context, r Result[T]) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.latest = r
	s.hasLatest = true
	subs := make([]*subscription[T], 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if !sub.send(ctx, r) {
			return
		}
	}
}

func (s *Stream[T]) remove(sub *subscription[T]) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()

	sub.closeCh()
}

func (s *Stream[T]) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true

	subs := make([]*subscription[T], 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
		delete(s.subs, sub)
	}
	close(s.done)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.closeCh()
	}
}
