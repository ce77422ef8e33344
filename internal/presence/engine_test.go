package presence

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"realtime-canvas/internal/ephemeral"
	"realtime-canvas/internal/model"
)

type fixture struct {
	t   *testing.T
	clk *clock.Mock
	hub *ephemeral.MemoryHub
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, clk: clock.NewMock(), hub: ephemeral.NewMemoryHub()}
}

func (f *fixture) join(id string) (*Engine, ephemeral.Channel) {
	ch := f.hub.Connect()
	e := New(Options{
		Board:   "b1",
		User:    model.User{ID: id, Name: "User " + id},
		Channel: ch,
		Clock:   f.clk,
		Logger:  zaptest.NewLogger(f.t),
	})
	require.NoError(f.t, e.Join(context.Background()))
	f.t.Cleanup(func() {
		e.Leave(context.Background())
		_ = ch.Close()
	})
	return e, ch
}

func ids(users []model.PresenceUser) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.ID
	}
	return out
}

func TestJoinAndLeave(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.join("alice")
	f.clk.Add(time.Second)
	bob, _ := f.join("bob")

	assert.Equal(t, []string{"alice", "bob"}, ids(alice.Presence()))
	assert.Equal(t, []string{"alice", "bob"}, ids(bob.Presence()), "late joiner sees existing users")
	assert.Equal(t, 2, bob.OnlineCount())

	p := bob.Presence()[0]
	assert.Equal(t, "User alice", p.DisplayName)
	assert.True(t, p.JoinedAt.Equal(f.clk.Now().Add(-time.Second)))

	alice.Leave(context.Background())
	assert.Equal(t, []string{"bob"}, ids(bob.Presence()))
	assert.Zero(t, alice.OnlineCount())
	_, ok := f.hub.Value(ephemeral.PresencePath("b1", "alice"))
	assert.False(t, ok)

	alice.Leave(context.Background())
}

func TestDisconnectRemovesRecords(t *testing.T) {
	f := newFixture(t)
	alice, aliceCh := f.join("alice")
	bob, _ := f.join("bob")

	require.NoError(t, alice.MoveCursor(model.Point{X: 1, Y: 2}))
	f.clk.Add(16 * time.Millisecond)
	require.Eventually(t, func() bool { return len(bob.Cursors()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, aliceCh.Close())
	assert.Equal(t, 1, bob.OnlineCount())
	assert.Empty(t, bob.Cursors())
}

func TestCursorsAreThrottledAndSelfFiltered(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.join("alice")
	bob, _ := f.join("bob")

	for i := 1; i <= 5; i++ {
		require.NoError(t, alice.MoveCursor(model.Point{X: float64(i), Y: 1}))
	}
	assert.Empty(t, bob.Cursors())

	f.clk.Add(16 * time.Millisecond)
	require.Eventually(t, func() bool { return len(bob.Cursors()) == 1 }, time.Second, time.Millisecond)
	c := bob.Cursors()[0]
	assert.Equal(t, "alice", c.UserID)
	assert.Equal(t, "User alice", c.UserName)
	assert.Equal(t, model.Point{X: 5, Y: 1}, c.Position)

	assert.Empty(t, alice.Cursors(), "own cursor is not rendered")
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.join("alice")
	bob, _ := f.join("bob")
	joined := f.clk.Now()

	f.clk.Add(DefaultHeartbeat)
	require.Eventually(t, func() bool {
		for _, p := range bob.Presence() {
			if p.ID == "alice" {
				return p.LastSeen.Equal(joined.Add(DefaultHeartbeat))
			}
		}
		return false
	}, time.Second, time.Millisecond)
	assert.False(t, bob.Stale("alice", 10*time.Second))

	f.clk.Add(20 * time.Second)
	assert.True(t, bob.Stale("alice", 10*time.Second))
	assert.True(t, bob.Stale("nobody", time.Hour))
	assert.False(t, alice.Stale("alice", time.Minute))
}

func TestShapePreviews(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice, _ := f.join("alice")
	bob, _ := f.join("bob")

	require.NoError(t, alice.SetPreview(ctx, model.ShapePreview{
		Type:     model.EntityCircle,
		Position: model.Point{X: 10, Y: 10},
		Width:    50,
		Height:   50,
		Fill:     "#ff0000",
		UserID:   "mallory",
	}))
	got := bob.Previews()
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].UserID, "previews are keyed to the publisher")
	assert.Equal(t, model.EntityCircle, got[0].Type)
	assert.Empty(t, alice.Previews())

	alice.ClearPreview(ctx)
	assert.Empty(t, bob.Previews())
}

func TestNotJoined(t *testing.T) {
	f := newFixture(t)
	e := New(Options{Board: "b1", User: model.User{ID: "alice"}, Channel: f.hub.Connect(), Clock: f.clk})
	assert.ErrorIs(t, e.MoveCursor(model.Point{}), ErrNotJoined)
	assert.ErrorIs(t, e.SetPreview(context.Background(), model.ShapePreview{}), ErrNotJoined)
	e.Leave(context.Background())
}

func TestIgnoresOtherBoards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice, _ := f.join("alice")

	other := f.hub.Connect()
	t.Cleanup(func() { _ = other.Close() })
	raw, err := ephemeral.Encode(model.PresenceUser{ID: "zed"})
	require.NoError(t, err)
	require.NoError(t, other.Publish(ctx, ephemeral.PresencePath("b2", "zed"), raw))

	assert.Equal(t, 1, alice.OnlineCount())
}
