package durable

import (
	"context"
	"sync"
)

// Notifier tells subscribers that a board changed. It carries no data;
// listeners reload the board themselves.
type Notifier interface {
	Notify(ctx context.Context, board string) error
	Listen(board string, fn func()) (cancel func())
}

// LocalNotifier fans notifications out inside one process.
type LocalNotifier struct {
	mu        sync.RWMutex
	listeners map[string]map[uint64]func()
	nextID    uint64
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{listeners: make(map[string]map[uint64]func())}
}

func (n *LocalNotifier) Notify(_ context.Context, board string) error {
	n.dispatch(board)
	return nil
}

// NotifyAll wakes every listener, used after a missed-notification window.
func (n *LocalNotifier) NotifyAll() {
	n.mu.RLock()
	fns := make([]func(), 0)
	for _, ls := range n.listeners {
		for _, fn := range ls {
			fns = append(fns, fn)
		}
	}
	n.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func (n *LocalNotifier) dispatch(board string) {
	n.mu.RLock()
	fns := make([]func(), 0, len(n.listeners[board]))
	for _, fn := range n.listeners[board] {
		fns = append(fns, fn)
	}
	n.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// Listen registers fn for board. fn must not block.
func (n *LocalNotifier) Listen(board string, fn func()) func() {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	if n.listeners[board] == nil {
		n.listeners[board] = make(map[uint64]func())
	}
	n.listeners[board][id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners[board], id)
		if len(n.listeners[board]) == 0 {
			delete(n.listeners, board)
		}
	}
}
