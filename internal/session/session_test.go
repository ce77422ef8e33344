package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"realtime-canvas/internal/apperr"
	"realtime-canvas/internal/boardsync"
	"realtime-canvas/internal/config"
	"realtime-canvas/internal/durable"
	"realtime-canvas/internal/ephemeral"
	"realtime-canvas/internal/model"
)

type env struct {
	clk   *clock.Mock
	hub   *ephemeral.MemoryHub
	store *durable.MemoryStore
}

func newEnv() *env {
	clk := clock.NewMock()
	return &env{clk: clk, hub: ephemeral.NewMemoryHub(), store: durable.NewMemoryStore(clk, nil)}
}

func (e *env) open(t *testing.T, user string) *Session {
	t.Helper()
	ch := e.hub.Connect()
	s, err := Open(context.Background(), Deps{
		Durable:   e.store,
		Ephemeral: ch,
		Clock:     e.clk,
		Logger:    zaptest.NewLogger(t),
		Sync:      config.DefaultSync(),
	}, "b1", model.User{ID: user, Name: user})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close(context.Background())
		_ = ch.Close()
	})
	return s
}

func TestOpenLoadsBoardAndJoinsPresence(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	a := e.open(t, "alice")
	assert.Equal(t, StateOpen, a.GetState())
	assert.NotEmpty(t, a.ID)

	created, err := a.Sync.CreateEntity(ctx, boardsync.CreateParams{}, true)
	require.NoError(t, err)

	b := e.open(t, "bob")
	assert.True(t, b.Objects.Has(created.ID))
	assert.Len(t, b.Objects.Layers(), 1)
	assert.Equal(t, 2, b.Presence.OnlineCount())
	assert.Equal(t, 2, a.Presence.OnlineCount())
	assert.NotEqual(t, a.ID, b.ID)
}

func TestSessionOutlivesOpenContext(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	a := e.open(t, "alice")

	openCtx, cancel := context.WithTimeout(ctx, time.Minute)
	ch := e.hub.Connect()
	b, err := Open(openCtx, Deps{
		Durable:   e.store,
		Ephemeral: ch,
		Clock:     e.clk,
		Logger:    zaptest.NewLogger(t),
	}, "b1", model.User{ID: "bob", Name: "bob"})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = b.Close(ctx)
		_ = ch.Close()
	})
	cancel()

	x, err := a.Sync.CreateEntity(ctx, boardsync.CreateParams{}, true)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.Objects.Has(x.ID) }, time.Second, time.Millisecond)
	assert.Equal(t, StateOpen, b.GetState())
	assert.NoError(t, b.Context().Err())
}

func TestSessionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	a := e.open(t, "alice")
	b := e.open(t, "bob")

	x, err := a.Sync.CreateEntity(ctx, boardsync.CreateParams{}, true)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.Objects.Has(x.ID) }, time.Second, time.Millisecond)

	a.Sync.Select(x.ID)
	assert.Empty(t, b.Selection.IDs(), "selection is never shared")
	assert.True(t, a.Sync.CanUndo())
	assert.False(t, b.Sync.CanUndo(), "history is per user")
}

func TestCloseFlushesAndLeaves(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	a := e.open(t, "alice")
	b := e.open(t, "bob")

	x, err := a.Sync.CreateEntity(ctx, boardsync.CreateParams{}, true)
	require.NoError(t, err)
	require.NoError(t, a.Sync.UpdateEntity(ctx, x.ID, model.Patch{Fill: model.Ptr("#00ff00")}, true))

	require.NoError(t, a.Close(ctx))
	assert.True(t, a.IsClosed())
	assert.Error(t, a.Context().Err())

	snap, err := e.store.Load(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, snap.Entities, 1)
	assert.Equal(t, "#00ff00", snap.Entities[0].Fill)

	assert.Equal(t, 1, b.Presence.OnlineCount())
	assert.NoError(t, a.Close(ctx))
}

func TestCloseReturnsFlushFailure(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	a := e.open(t, "alice")
	x, err := a.Sync.CreateEntity(ctx, boardsync.CreateParams{}, true)
	require.NoError(t, err)
	require.NoError(t, a.Sync.UpdateEntity(ctx, x.ID, model.Patch{Rotation: model.Ptr(15.0)}, true))

	e.store.FailNext(errors.New("disk full"))
	err = a.Close(ctx)
	assert.True(t, apperr.IsPersistence(err))
	assert.True(t, a.IsClosed())
}

type brokenStore struct {
	durable.Store
}

func (brokenStore) Load(context.Context, string) (durable.Snapshot, error) {
	return durable.Snapshot{}, errors.New("connection refused")
}

func TestOpenFailures(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	deps := Deps{Durable: e.store, Ephemeral: e.hub.Connect(), Clock: e.clk}

	_, err := Open(ctx, deps, "", model.User{ID: "alice"})
	assert.Error(t, err)
	_, err = Open(ctx, deps, "b1", model.User{})
	assert.Error(t, err)

	deps.Durable = brokenStore{Store: e.store}
	_, err = Open(ctx, deps, "b1", model.User{ID: "alice"})
	assert.ErrorContains(t, err, "connection refused")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(9).String())
}
