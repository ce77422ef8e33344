// Package presence tracks who is on a board, where their cursors are and
// what shapes they are about to place. Everything lives on the ephemeral
// channel; the transport deletes a client's records when it disconnects.
package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"realtime-canvas/internal/ephemeral"
	"realtime-canvas/internal/metrics"
	"realtime-canvas/internal/model"
	"realtime-canvas/internal/throttle"
)

// DefaultHeartbeat 30초마다 lastSeen 갱신
const DefaultHeartbeat = 30 * time.Second

const publishTimeout = 2 * time.Second

var ErrNotJoined = errors.New("presence: not joined")

// Options configure an Engine.
type Options struct {
	Board     string
	User      model.User
	Channel   ephemeral.Channel
	Clock     clock.Clock
	Logger    *zap.Logger
	Heartbeat time.Duration
	// CursorInterval throttles cursor broadcasts. Defaults to 16 ms.
	CursorInterval time.Duration
}

// Engine Presence 관리자 (board 단위)
type Engine struct {
	board     string
	user      model.User
	ch        ephemeral.Channel
	clock     clock.Clock
	log       *zap.Logger
	heartbeat time.Duration
	cursorIvl time.Duration

	life     sync.Mutex // serializes Join and Leave
	mu       sync.RWMutex
	users    map[string]model.PresenceUser
	cursors  map[string]model.Cursor
	previews map[string]model.ShapePreview
	self     model.PresenceUser
	joined   bool

	out    *throttle.Throttler[model.Cursor]
	subs   []ephemeral.Subscription
	ticker *clock.Ticker
	stop   chan struct{}
	done   chan struct{}
}

// New 생성자. Join을 호출해야 보드에 나타난다.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	return &Engine{
		board:     opts.Board,
		user:      opts.User,
		ch:        opts.Channel,
		clock:     opts.Clock,
		log:       opts.Logger.Named("presence").With(zap.String("board", opts.Board), zap.String("user", opts.User.ID)),
		heartbeat: opts.Heartbeat,
		cursorIvl: opts.CursorInterval,
		users:     make(map[string]model.PresenceUser),
		cursors:   make(map[string]model.Cursor),
		previews:  make(map[string]model.ShapePreview),
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// Join subscribes to the board's presence, cursor and preview records,
// registers this user's records for removal on disconnect and publishes the
// presence record. The heartbeat starts here.
func (e *Engine) Join(ctx context.Context) error {
	e.life.Lock()
	defer e.life.Unlock()
	e.mu.RLock()
	joined := e.joined
	e.mu.RUnlock()
	if joined {
		return nil
	}

	subs := make([]ephemeral.Subscription, 0, 3)
	for _, s := range []struct {
		kind ephemeral.Kind
		fn   ephemeral.Handler
	}{
		{ephemeral.KindPresence, e.onPresence},
		{ephemeral.KindCursor, e.onCursor},
		{ephemeral.KindPreview, e.onPreview},
	} {
		sub, err := e.ch.Subscribe(ctx, ephemeral.Prefix(s.kind, e.board), s.fn)
		if err != nil {
			for _, prev := range subs {
				prev.Unsubscribe()
			}
			return err
		}
		subs = append(subs, sub)
	}

	for _, path := range e.ownPaths() {
		if err := e.ch.RemoveOnDisconnect(ctx, path); err != nil {
			e.log.Warn("disconnect cleanup registration failed", zap.String("path", path), zap.Error(err))
		}
	}

	now := e.clock.Now()
	e.mu.Lock()
	e.self = model.PresenceUser{
		ID:          e.user.ID,
		DisplayName: e.user.Name,
		PhotoURL:    e.user.PhotoURL,
		JoinedAt:    now,
		LastSeen:    now,
	}
	e.out = throttle.New(e.clock, e.cursorIvl, e.sendCursor,
		throttle.WithDropHandler[model.Cursor](func(string) {
			metrics.EphemeralDropped.WithLabelValues("queue_full").Inc()
		}))
	e.ticker = e.clock.Ticker(e.heartbeat)
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.subs = subs
	e.joined = true
	e.mu.Unlock()

	e.publishSelf(ctx)
	go e.beat()

	e.log.Info("joined board")
	return nil
}

// Leave removes this user's presence, cursor and preview records right
// away instead of waiting for the disconnect cleanup. Safe to call twice.
func (e *Engine) Leave(ctx context.Context) {
	e.life.Lock()
	defer e.life.Unlock()
	e.mu.Lock()
	if !e.joined {
		e.mu.Unlock()
		return
	}
	e.joined = false
	subs := e.subs
	e.subs = nil
	out := e.out
	e.mu.Unlock()

	close(e.stop)
	<-e.done
	e.ticker.Stop()
	out.Stop()

	for _, path := range e.ownPaths() {
		if err := e.ch.Remove(ctx, path); err != nil {
			e.log.Warn("remove on leave failed", zap.String("path", path), zap.Error(err))
		}
	}
	for _, sub := range subs {
		sub.Unsubscribe()
	}

	e.mu.Lock()
	clear(e.users)
	clear(e.cursors)
	clear(e.previews)
	e.mu.Unlock()
	e.log.Info("left board")
}

func (e *Engine) ownPaths() []string {
	return []string{
		ephemeral.PresencePath(e.board, e.user.ID),
		ephemeral.CursorPath(e.board, e.user.ID),
		ephemeral.PreviewPath(e.board, e.user.ID),
	}
}

// beat refreshes lastSeen on every tick.
func (e *Engine) beat() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return
		case <-e.ticker.C:
			e.mu.Lock()
			e.self.LastSeen = e.clock.Now()
			e.mu.Unlock()
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			e.publishSelf(ctx)
			cancel()
		}
	}
}

func (e *Engine) publishSelf(ctx context.Context) {
	e.mu.RLock()
	self := e.self
	e.mu.RUnlock()
	e.publish(ctx, ephemeral.PresencePath(e.board, e.user.ID), self)
}

func (e *Engine) publish(ctx context.Context, path string, v any) {
	raw, err := ephemeral.Encode(v)
	if err == nil {
		err = e.ch.Publish(ctx, path, raw)
	}
	if err != nil {
		metrics.EphemeralDropped.WithLabelValues("publish").Inc()
		e.log.Warn("presence publish failed", zap.String("path", path), zap.Error(err))
	}
}

// =============================================================================
// Cursor / preview
// =============================================================================

// MoveCursor publishes the local cursor, throttled like transform frames.
func (e *Engine) MoveCursor(pos model.Point) error {
	e.mu.RLock()
	joined, out := e.joined, e.out
	e.mu.RUnlock()
	if !joined {
		return ErrNotJoined
	}
	out.Submit(e.user.ID, model.Cursor{
		UserID:    e.user.ID,
		UserName:  e.user.Name,
		Position:  pos,
		Timestamp: e.clock.Now(),
	})
	return nil
}

func (e *Engine) sendCursor(_ string, c model.Cursor) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	e.publish(ctx, ephemeral.CursorPath(e.board, e.user.ID), c)
}

// SetPreview shows an in-progress placement to everyone else.
func (e *Engine) SetPreview(ctx context.Context, p model.ShapePreview) error {
	e.mu.RLock()
	joined := e.joined
	e.mu.RUnlock()
	if !joined {
		return ErrNotJoined
	}
	p.UserID = e.user.ID
	p.UserName = e.user.Name
	e.publish(ctx, ephemeral.PreviewPath(e.board, e.user.ID), p)
	return nil
}

// ClearPreview removes the placement preview once the shape is committed or abandoned.
func (e *Engine) ClearPreview(ctx context.Context) {
	path := ephemeral.PreviewPath(e.board, e.user.ID)
	if err := e.ch.Remove(ctx, path); err != nil {
		e.log.Warn("preview remove failed", zap.String("path", path), zap.Error(err))
	}
}

// =============================================================================
// Incoming
// =============================================================================

func (e *Engine) onPresence(m ephemeral.Message) {
	user, ok := e.key(m, ephemeral.KindPresence)
	if !ok {
		return
	}
	if m.Removed {
		e.mu.Lock()
		delete(e.users, user)
		e.mu.Unlock()
		return
	}
	var p model.PresenceUser
	if err := ephemeral.Decode(m, &p); err != nil {
		e.log.Debug("bad presence record", zap.String("path", m.Path), zap.Error(err))
		return
	}
	e.mu.Lock()
	e.users[user] = p
	e.mu.Unlock()
}

func (e *Engine) onCursor(m ephemeral.Message) {
	user, ok := e.key(m, ephemeral.KindCursor)
	if !ok {
		return
	}
	if m.Removed {
		e.mu.Lock()
		delete(e.cursors, user)
		e.mu.Unlock()
		return
	}
	var c model.Cursor
	if err := ephemeral.Decode(m, &c); err != nil {
		e.log.Debug("bad cursor record", zap.String("path", m.Path), zap.Error(err))
		return
	}
	e.mu.Lock()
	e.cursors[user] = c
	e.mu.Unlock()
}

func (e *Engine) onPreview(m ephemeral.Message) {
	user, ok := e.key(m, ephemeral.KindPreview)
	if !ok {
		return
	}
	if m.Removed {
		e.mu.Lock()
		delete(e.previews, user)
		e.mu.Unlock()
		return
	}
	var p model.ShapePreview
	if err := ephemeral.Decode(m, &p); err != nil {
		e.log.Debug("bad preview record", zap.String("path", m.Path), zap.Error(err))
		return
	}
	e.mu.Lock()
	e.previews[user] = p
	e.mu.Unlock()
}

// key extracts the user id of a record path on this board.
func (e *Engine) key(m ephemeral.Message, kind ephemeral.Kind) (string, bool) {
	pp, err := ephemeral.ParsePath(m.Path)
	if err != nil || pp.Kind != kind || pp.Board != e.board {
		return "", false
	}
	return pp.Key, true
}

// =============================================================================
// Queries
// =============================================================================

// Cursors returns every other user's cursor, ordered by user id.
func (e *Engine) Cursors() []model.Cursor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.Cursor, 0, len(e.cursors))
	for id, c := range e.cursors {
		if id != e.user.ID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Presence returns everyone on the board, this user included, in join order.
func (e *Engine) Presence() []model.PresenceUser {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.PresenceUser, 0, len(e.users))
	for _, p := range e.users {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OnlineCount is the number of users on the board.
func (e *Engine) OnlineCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.users)
}

// Previews returns every other user's placement preview, ordered by user id.
func (e *Engine) Previews() []model.ShapePreview {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.ShapePreview, 0, len(e.previews))
	for id, p := range e.previews {
		if id != e.user.ID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Stale reports whether user has not sent a heartbeat within threshold.
// Unknown users are stale. Display only.
func (e *Engine) Stale(user string, threshold time.Duration) bool {
	e.mu.RLock()
	p, ok := e.users[user]
	e.mu.RUnlock()
	if !ok {
		return true
	}
	return e.clock.Now().Sub(p.LastSeen) > threshold
}
