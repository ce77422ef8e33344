// Package history keeps per-user bounded undo/redo stacks of invertible
// actions. The engine never mutates the board itself; undo and redo hand a
// Step to the caller's ApplyFunc.
package history

import (
	"context"
	"crypto/rand"
	"io"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/gammazero/deque"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"realtime-canvas/internal/apperr"
	"realtime-canvas/internal/model"
)

// DefaultDepth is the per-user stack bound.
const DefaultDepth = 50

// ApplyFunc performs a replayed step. It must not record history.
type ApplyFunc func(ctx context.Context, step Step) error

type stacks struct {
	undo deque.Deque[model.HistoryAction]
	redo deque.Deque[model.HistoryAction]
}

// Engine holds the undo and redo stacks of every user on a board.
type Engine struct {
	depth int
	clock clock.Clock
	log   *zap.Logger

	mu      sync.Mutex
	users   map[string]*stacks
	entropy io.Reader
}

func New(depth int, clk clock.Clock, log *zap.Logger) *Engine {
	if depth <= 0 {
		depth = DefaultDepth
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		depth:   depth,
		clock:   clk,
		log:     log.Named("history"),
		users:   make(map[string]*stacks),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewAction stamps a new action with a sortable id and the current time.
func (e *Engine) NewAction(user string, typ model.ActionType, objectID string, before, after *model.Patch) model.HistoryAction {
	now := e.clock.Now()
	e.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(now), e.entropy)
	e.mu.Unlock()
	return model.HistoryAction{
		ID:        id.String(),
		UserID:    user,
		Timestamp: now,
		Type:      typ,
		ObjectID:  objectID,
		Before:    before,
		After:     after,
	}
}

func (e *Engine) stacksLocked(user string) *stacks {
	s, ok := e.users[user]
	if !ok {
		s = &stacks{}
		e.users[user] = s
	}
	return s
}

func (e *Engine) pushBounded(d *deque.Deque[model.HistoryAction], a model.HistoryAction) {
	d.PushBack(a)
	for d.Len() > e.depth {
		d.PopFront()
	}
}

// Record pushes a onto its user's undo stack and clears the redo stack.
func (e *Engine) Record(a model.HistoryAction) error {
	if err := a.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stacksLocked(a.UserID)
	e.pushBounded(&s.undo, a)
	s.redo.Clear()
	return nil
}

// Undo pops the user's latest action, moves it to the redo stack and applies
// its inverse. If apply fails the action goes back on the undo stack and the
// error is logged. It reports whether an action was undone.
func (e *Engine) Undo(ctx context.Context, user string, apply ApplyFunc) (model.HistoryAction, bool) {
	return e.move(ctx, user, apply, true)
}

// Redo is the mirror of Undo.
func (e *Engine) Redo(ctx context.Context, user string, apply ApplyFunc) (model.HistoryAction, bool) {
	return e.move(ctx, user, apply, false)
}

func (e *Engine) move(ctx context.Context, user string, apply ApplyFunc, undo bool) (model.HistoryAction, bool) {
	e.mu.Lock()
	s := e.stacksLocked(user)
	from, to := &s.undo, &s.redo
	if !undo {
		from, to = &s.redo, &s.undo
	}
	if from.Len() == 0 {
		e.mu.Unlock()
		return model.HistoryAction{}, false
	}
	a := from.PopBack()
	e.pushBounded(to, a)
	e.mu.Unlock()

	step := Replay(a)
	if undo {
		step = Invert(a)
	}
	err := apply(ctx, step)
	if err == nil {
		return a, true
	}

	e.mu.Lock()
	if to.Len() > 0 && to.Back().ID == a.ID {
		to.PopBack()
	}
	e.pushBounded(from, a)
	e.mu.Unlock()

	fields := []zap.Field{
		zap.String("user", user),
		zap.String("action", a.ID),
		zap.String("type", a.Type.String()),
		zap.String("object", a.ObjectID),
		zap.Bool("undo", undo),
		zap.Error(err),
	}
	if apperr.IsStale(err) {
		e.log.Warn("replay target is gone, action kept for retry", fields...)
	} else {
		e.log.Error("replay failed, action kept for retry", fields...)
	}
	return model.HistoryAction{}, false
}

func (e *Engine) CanUndo(user string) bool { return e.UndoDepth(user) > 0 }

func (e *Engine) CanRedo(user string) bool { return e.RedoDepth(user) > 0 }

func (e *Engine) UndoDepth(user string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.users[user]; ok {
		return s.undo.Len()
	}
	return 0
}

func (e *Engine) RedoDepth(user string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.users[user]; ok {
		return s.redo.Len()
	}
	return 0
}

// Peek returns the action Undo would take next.
func (e *Engine) Peek(user string) (model.HistoryAction, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.users[user]
	if !ok || s.undo.Len() == 0 {
		return model.HistoryAction{}, false
	}
	return s.undo.Back(), true
}

// Clear drops both stacks of user.
func (e *Engine) Clear(user string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.users, user)
}
