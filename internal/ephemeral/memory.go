package ephemeral

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("ephemeral: channel closed")

// MemoryHub is an in-process ephemeral transport. Every participant gets its
// own MemoryChannel from Connect; closing it runs the disconnect cleanup.
type MemoryHub struct {
	mu     sync.RWMutex
	values map[string][]byte
	subs   map[uint64]*memorySub
	nextID uint64
}

type memorySub struct {
	id     uint64
	prefix string
	fn     Handler
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		values: make(map[string][]byte),
		subs:   make(map[uint64]*memorySub),
	}
}

// Connect opens a new channel on the hub.
func (h *MemoryHub) Connect() *MemoryChannel {
	return &MemoryChannel{hub: h, onDisconnect: make(map[string]struct{})}
}

// Value returns the current value at path.
func (h *MemoryHub) Value(path string) ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.values[path]
	return v, ok
}

// Paths lists the stored paths under prefix, sorted.
func (h *MemoryHub) Paths(prefix string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0)
	for p := range h.values {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (h *MemoryHub) set(path string, value []byte) {
	v := append([]byte(nil), value...)
	h.mu.Lock()
	h.values[path] = v
	targets := h.matchLocked(path)
	h.mu.Unlock()

	h.deliver(targets, Message{Path: path, Value: v})
}

func (h *MemoryHub) del(path string) {
	h.mu.Lock()
	if _, ok := h.values[path]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.values, path)
	targets := h.matchLocked(path)
	h.mu.Unlock()

	h.deliver(targets, Message{Path: path, Removed: true})
}

func (h *MemoryHub) matchLocked(path string) []Handler {
	ids := make([]uint64, 0, len(h.subs))
	for id, s := range h.subs {
		if strings.HasPrefix(path, s.prefix) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Handler, len(ids))
	for i, id := range ids {
		out[i] = h.subs[id].fn
	}
	return out
}

func (h *MemoryHub) deliver(targets []Handler, m Message) {
	for _, fn := range targets {
		fn(m)
	}
}

func (h *MemoryHub) subscribe(prefix string, fn Handler) *memorySub {
	h.mu.Lock()
	h.nextID++
	s := &memorySub{id: h.nextID, prefix: prefix, fn: fn}
	h.subs[s.id] = s

	paths := make([]string, 0)
	for p := range h.values {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	initial := make([]Message, len(paths))
	for i, p := range paths {
		initial[i] = Message{Path: p, Value: h.values[p]}
	}
	h.mu.Unlock()

	for _, m := range initial {
		fn(m)
	}
	return s
}

func (h *MemoryHub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// MemoryChannel is one connection to a MemoryHub.
type MemoryChannel struct {
	hub *MemoryHub

	mu           sync.Mutex
	subs         []*memorySub
	onDisconnect map[string]struct{}
	closed       bool
}

var _ Channel = (*MemoryChannel)(nil)

func (c *MemoryChannel) Publish(_ context.Context, path string, value []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.hub.set(path, value)
	return nil
}

func (c *MemoryChannel) Remove(_ context.Context, path string) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.hub.del(path)
	return nil
}

func (c *MemoryChannel) Subscribe(_ context.Context, prefix string, fn Handler) (Subscription, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	s := c.hub.subscribe(prefix, fn)
	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()
	return memorySubscription{hub: c.hub, id: s.id}, nil
}

func (c *MemoryChannel) RemoveOnDisconnect(_ context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.onDisconnect[path] = struct{}{}
	return nil
}

// Close cancels subscriptions and removes every path registered with
// RemoveOnDisconnect. It is safe to call more than once.
func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	paths := make([]string, 0, len(c.onDisconnect))
	for p := range c.onDisconnect {
		paths = append(paths, p)
	}
	c.mu.Unlock()

	for _, s := range subs {
		c.hub.unsubscribe(s.id)
	}
	sort.Strings(paths)
	for _, p := range paths {
		c.hub.del(p)
	}
	return nil
}

func (c *MemoryChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type memorySubscription struct {
	hub *MemoryHub
	id  uint64
}

func (s memorySubscription) Unsubscribe() { s.hub.unsubscribe(s.id) }
