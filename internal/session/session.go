// Package session owns everything that lives as long as one open board:
// object store, selection, history, orchestrator and presence. Nothing is
// process-global; opening two boards gives two independent sessions.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"realtime-canvas/internal/boardsync"
	"realtime-canvas/internal/config"
	"realtime-canvas/internal/durable"
	"realtime-canvas/internal/ephemeral"
	"realtime-canvas/internal/history"
	"realtime-canvas/internal/model"
	"realtime-canvas/internal/objectstore"
	"realtime-canvas/internal/presence"
	"realtime-canvas/internal/selection"
)

// State 세션 상태
type State int

const (
	StateOpen   State = iota // 보드 열림
	StateClosed              // 세션 종료
)

// String 상태를 문자열로 반환
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Deps are the transports a session runs on.
type Deps struct {
	Durable   durable.Store
	Ephemeral ephemeral.Channel
	Clock     clock.Clock
	Logger    *zap.Logger
	Sync      config.SyncConfig
	// NewID overrides entity/layer id generation, mainly for tests.
	NewID func() string
}

// Session 보드 세션 (Thread-Safe)
type Session struct {
	ID       string
	Board    string
	User     model.User
	OpenedAt time.Time

	Objects   *objectstore.Store
	Selection *selection.Set
	History   *history.Engine
	Sync      *boardsync.Orchestrator
	Presence  *presence.Engine

	clock  clock.Clock
	log    *zap.Logger
	mu     sync.RWMutex
	state  State
	ctx    context.Context
	cancel context.CancelFunc
}

// Open builds the session, loads the board, starts listening for remote
// changes and joins presence. ctx bounds the board load; the subscriptions
// stay up until Close. A presence failure is logged and the session still
// opens; a failed board load is returned.
func Open(ctx context.Context, d Deps, boardID string, user model.User) (*Session, error) {
	if boardID == "" {
		return nil, errors.New("session: board id is required")
	}
	if user.ID == "" {
		return nil, errors.New("session: user id is required")
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Sync == (config.SyncConfig{}) {
		d.Sync = config.DefaultSync()
	}

	id := uuid.NewString()
	log := d.Logger.With(zap.String("session", id))
	sctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		ID:        id,
		Board:     boardID,
		User:      user,
		OpenedAt:  d.Clock.Now(),
		Objects:   objectstore.New(d.Clock),
		Selection: selection.New(),
		History:   history.New(d.Sync.HistoryDepth, d.Clock, log),
		clock:     d.Clock,
		log:       log.Named("session"),
		state:     StateOpen,
		ctx:       sctx,
		cancel:    cancel,
	}
	s.Sync = boardsync.New(boardsync.Deps{
		Board:            boardID,
		User:             user,
		Objects:          s.Objects,
		Selection:        s.Selection,
		History:          s.History,
		Durable:          d.Durable,
		Ephemeral:        d.Ephemeral,
		Clock:            d.Clock,
		Logger:           log,
		NewID:            d.NewID,
		ThrottleInterval: d.Sync.ThrottleInterval,
		DebounceWindow:   d.Sync.DebounceWindow,
	})
	s.Presence = presence.New(presence.Options{
		Board:          boardID,
		User:           user,
		Channel:        d.Ephemeral,
		Clock:          d.Clock,
		Logger:         log,
		Heartbeat:      d.Sync.PresenceHeartbeat,
		CursorInterval: d.Sync.ThrottleInterval,
	})

	// ctx bounds the initial load only; subscriptions live as long as the session
	if err := s.Sync.Attach(ctx, sctx); err != nil {
		cancel()
		_ = s.Sync.Close(ctx)
		return nil, err
	}
	if err := s.Presence.Join(sctx); err != nil {
		s.log.Warn("presence join failed", zap.Error(err))
	}

	s.log.Info("board opened",
		zap.String("board", boardID),
		zap.String("user", user.ID),
		zap.Int("entities", s.Objects.Len()),
	)
	return s, nil
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

// GetState 현재 상태 조회
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsClosed 세션 종료 여부 확인
func (s *Session) IsClosed() bool {
	return s.GetState() == StateClosed
}

// Duration 연결 유지 시간
func (s *Session) Duration() time.Duration {
	return s.clock.Since(s.OpenedAt)
}

// Close flushes pending durable writes, leaves presence and stops every
// subscription. The flush error is returned; closing again is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	err := s.Sync.Close(ctx)
	s.Presence.Leave(ctx)
	s.cancel()

	fields := []zap.Field{zap.Duration("duration", s.Duration())}
	if err != nil {
		s.log.Error("board closed with unsaved changes", append(fields, zap.Error(err))...)
	} else {
		s.log.Info("board closed", fields...)
	}
	return err
}
