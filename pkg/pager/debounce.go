package pager

import (
	"sync"
	"time"
)

// debouncer coalesces visible-index samples. Each push replaces the pending
// value and restarts the quiet period; when the period elapses the latest value
// is placed in a single-slot channel, overwriting any value the consumer has not
// taken yet.
type debouncer struct {
	interval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending int
	stopped bool

	ready chan int
}

func newDebouncer(interval time.Duration) *debouncer {
	return &debouncer{
		interval: interval,
		ready:    make(chan int, 1),
	}
}

// C delivers debounced samples.
func (d *debouncer) C() <-chan int {
	return d.ready
}

func (d *debouncer) push(v int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.pending = v
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.interval, func() { d.fire(gen) })
}

func (d *debouncer) fire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// A later push or a discard superseded this timer.
	if d.stopped || gen != d.gen {
		return
	}

	select {
	case <-d.ready:
	default:
	}
	d.ready <- d.pending
}

// discard drops the pending sample and any sample not yet consumed.
func (d *debouncer) discard() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++

	select {
	case <-d.ready:
	default:
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
