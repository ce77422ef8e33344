// Package throttle rate-limits high-frequency per-key updates.
//
// Throttler bounds ephemeral broadcast volume: at most one send per key per
// interval, carrying the latest submitted value. Debouncer coalesces durable
// writes: a key is sent once the window passes without new submissions.
package throttle

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultInterval is one frame at 60 Hz.
const DefaultInterval = 16 * time.Millisecond

type frame[T any] struct {
	key   string
	value T
}

type pendingFrame[T any] struct {
	value T
	timer *clock.Timer
}

// Throttler sends at most one value per key per interval. Values submitted
// inside a window replace each other; the trailing send carries the last one.
// All sends go through one queue, so per-key submission order is preserved.
type Throttler[T any] struct {
	clock    clock.Clock
	interval time.Duration
	send     func(key string, v T)
	onDrop   func(key string)

	mu      sync.Mutex
	pending map[string]*pendingFrame[T]
	queue   chan frame[T]
	stopped bool
	done    chan struct{}
}

// Option configures a Throttler.
type Option[T any] func(*Throttler[T])

// WithDropHandler is called when the send queue is full and a frame is dropped.
func WithDropHandler[T any](fn func(key string)) Option[T] {
	return func(t *Throttler[T]) { t.onDrop = fn }
}

// WithQueueSize overrides the send queue capacity.
func WithQueueSize[T any](n int) Option[T] {
	return func(t *Throttler[T]) { t.queue = make(chan frame[T], n) }
}

// New starts a throttler. send runs on the throttler's own goroutine.
func New[T any](clk clock.Clock, interval time.Duration, send func(key string, v T), opts ...Option[T]) *Throttler[T] {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := &Throttler[T]{
		clock:    clk,
		interval: interval,
		send:     send,
		pending:  make(map[string]*pendingFrame[T]),
		queue:    make(chan frame[T], 256),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.run()
	return t
}

func (t *Throttler[T]) run() {
	defer close(t.done)
	for f := range t.queue {
		t.send(f.key, f.value)
	}
}

// Submit schedules v for key. Superseded values inside the window are coalesced.
func (t *Throttler[T]) Submit(key string, v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if p, ok := t.pending[key]; ok {
		p.value = v
		return
	}
	p := &pendingFrame[T]{value: v}
	p.timer = t.clock.AfterFunc(t.interval, func() { t.fire(key, p) })
	t.pending[key] = p
}

func (t *Throttler[T]) fire(key string, p *pendingFrame[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.pending[key]; !ok || cur != p {
		return
	}
	delete(t.pending, key)
	t.enqueueLocked(key, p.value)
}

// Flush sends the pending value for key now, if there is one.
func (t *Throttler[T]) Flush(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushLocked(key)
}

// Send flushes any pending value for key and then queues v behind it,
// bypassing the throttle. Used for lock, unlock and tombstone frames that
// must not be coalesced away.
func (t *Throttler[T]) Send(key string, v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.flushLocked(key)
	t.enqueueLocked(key, v)
}

// Cancel drops the pending value for key without sending it.
func (t *Throttler[T]) Cancel(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pending[key]; ok {
		p.timer.Stop()
		delete(t.pending, key)
	}
}

// Pending reports whether key has an unsent value.
func (t *Throttler[T]) Pending(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[key]
	return ok
}

// Stop drops pending values, drains the queue and waits for the sender.
func (t *Throttler[T]) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		<-t.done
		return
	}
	t.stopped = true
	for key, p := range t.pending {
		p.timer.Stop()
		delete(t.pending, key)
	}
	close(t.queue)
	t.mu.Unlock()
	<-t.done
}

func (t *Throttler[T]) flushLocked(key string) {
	p, ok := t.pending[key]
	if !ok {
		return
	}
	p.timer.Stop()
	delete(t.pending, key)
	t.enqueueLocked(key, p.value)
}

func (t *Throttler[T]) enqueueLocked(key string, v T) {
	if t.stopped {
		return
	}
	select {
	case t.queue <- frame[T]{key: key, value: v}:
	default:
		if t.onDrop != nil {
			t.onDrop(key)
		}
	}
}
