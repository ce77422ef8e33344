package throttle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultWindow is the durable write coalescing window.
const DefaultWindow = 300 * time.Millisecond

type debounced[T any] struct {
	value T
	gen   uint64
	timer *clock.Timer
}

// Debouncer coalesces submissions per key and sends the merged value once
// the window elapses without further submissions for that key.
type Debouncer[T any] struct {
	clock  clock.Clock
	window time.Duration
	merge  func(prev, next T) T
	send   func(ctx context.Context, key string, v T) error
	log    *zap.Logger

	mu      sync.Mutex
	pending map[string]*debounced[T]
	gen     uint64
	stopped bool

	// serializes sends so an older value never lands after a newer one
	sendMu sync.Mutex
}

// NewDebouncer builds a debouncer. merge combines an unsent value with a newer
// submission; nil means the newer value replaces the older one.
func NewDebouncer[T any](clk clock.Clock, window time.Duration, merge func(prev, next T) T, send func(ctx context.Context, key string, v T) error, log *zap.Logger) *Debouncer[T] {
	if clk == nil {
		clk = clock.New()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if merge == nil {
		merge = func(_, next T) T { return next }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Debouncer[T]{
		clock:   clk,
		window:  window,
		merge:   merge,
		send:    send,
		log:     log,
		pending: make(map[string]*debounced[T]),
	}
}

// Submit merges v into the pending value for key and restarts its window.
func (d *Debouncer[T]) Submit(key string, v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.gen++
	gen := d.gen
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		p.value = d.merge(p.value, v)
		p.gen = gen
	} else {
		d.pending[key] = &debounced[T]{value: v, gen: gen}
	}
	d.pending[key].timer = d.clock.AfterFunc(d.window, func() { d.fire(key, gen) })
}

func (d *Debouncer[T]) fire(key string, gen uint64) {
	d.mu.Lock()
	p, ok := d.pending[key]
	if !ok || p.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	if err := d.deliver(context.Background(), key, p.value); err != nil {
		d.log.Error("debounced write failed", zap.String("key", key), zap.Error(err))
	}
}

func (d *Debouncer[T]) deliver(ctx context.Context, key string, v T) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	return d.send(ctx, key, v)
}

// Pending reports whether key has an unsent value.
func (d *Debouncer[T]) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Cancel drops the unsent value for key.
func (d *Debouncer[T]) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		delete(d.pending, key)
	}
}

// Rewrite replaces the unsent value for key with fn(value) without
// restarting its window. It reports whether key had an unsent value.
func (d *Debouncer[T]) Rewrite(key string, fn func(T) T) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[key]
	if ok {
		p.value = fn(p.value)
	}
	return ok
}

// Flush sends the pending value for key immediately and returns the send error.
func (d *Debouncer[T]) Flush(ctx context.Context, key string) error {
	d.mu.Lock()
	p, ok := d.pending[key]
	if ok {
		p.timer.Stop()
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return d.deliver(ctx, key, p.value)
}

// FlushAll sends every pending value, in key order, and joins the errors.
func (d *Debouncer[T]) FlushAll(ctx context.Context) error {
	d.mu.Lock()
	keys := make([]string, 0, len(d.pending))
	for key := range d.pending {
		keys = append(keys, key)
	}
	d.mu.Unlock()
	sort.Strings(keys)

	var errs []error
	for _, key := range keys {
		if err := d.Flush(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop drops every unsent value. Call FlushAll first to keep them.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, key)
	}
}
