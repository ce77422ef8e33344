package ephemeral

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-canvas/internal/apperr"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisPublishSetsKeyWithTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	ch := NewRedisChannel(client, RedisOptions{TTL: 30 * time.Second})
	defer ch.Close()

	path := CursorPath("b1", "alice")
	require.NoError(t, ch.Publish(ctx, path, []byte(`{"x":3}`)))

	got, err := mr.Get("canvas:" + path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":3}`, got)
	assert.Equal(t, 30*time.Second, mr.TTL("canvas:"+path))

	mr.FastForward(31 * time.Second)
	assert.False(t, mr.Exists("canvas:"+path))
}

func TestRedisSubscribeInitialAndLive(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	pub := NewRedisChannel(client, RedisOptions{})
	sub := NewRedisChannel(client, RedisOptions{})
	defer pub.Close()
	defer sub.Close()

	require.NoError(t, pub.Publish(ctx, PresencePath("b1", "alice"), []byte(`{"id":"alice"}`)))
	require.NoError(t, pub.Publish(ctx, PresencePath("b2", "carol"), []byte(`{"id":"carol"}`)))

	col := &collector{}
	s, err := sub.Subscribe(ctx, Prefix(KindPresence, "b1"), col.handle)
	require.NoError(t, err)

	msgs := col.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "presence/b1/alice", msgs[0].Path)
	assert.JSONEq(t, `{"id":"alice"}`, string(msgs[0].Value))

	require.NoError(t, pub.Publish(ctx, PresencePath("b1", "bob"), []byte(`{"id":"bob"}`)))
	require.NoError(t, pub.Remove(ctx, PresencePath("b1", "alice")))

	require.Eventually(t, func() bool { return len(col.all()) == 3 }, 2*time.Second, 5*time.Millisecond)
	msgs = col.all()
	assert.Equal(t, "presence/b1/bob", msgs[1].Path)
	assert.Equal(t, "presence/b1/alice", msgs[2].Path)
	assert.True(t, msgs[2].Removed)

	s.Unsubscribe()
	s.Unsubscribe()
}

func TestRedisCloseRemovesRegisteredPaths(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	watcher := NewRedisChannel(client, RedisOptions{})
	defer watcher.Close()

	col := &collector{}
	_, err := watcher.Subscribe(ctx, Prefix(KindCursor, "b1"), col.handle)
	require.NoError(t, err)

	alice := NewRedisChannel(client, RedisOptions{})
	path := CursorPath("b1", "alice")
	require.NoError(t, alice.Publish(ctx, path, []byte(`{"x":1}`)))
	require.NoError(t, alice.RemoveOnDisconnect(ctx, path))
	require.NoError(t, alice.Close())

	assert.False(t, mr.Exists("canvas:"+path))
	require.Eventually(t, func() bool {
		msgs := col.all()
		return len(msgs) == 2 && msgs[1].Removed
	}, 2*time.Second, 5*time.Millisecond)

	err = alice.Publish(ctx, path, []byte(`{}`))
	assert.ErrorIs(t, err, ErrClosed)
	var ee *apperr.EphemeralChannelError
	assert.ErrorAs(t, err, &ee)
}

func TestRedisKeepAliveRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	clk := clock.NewMock()
	ch := NewRedisChannel(client, RedisOptions{TTL: 30 * time.Second, Clock: clk})
	defer ch.Close()

	path := PresencePath("b1", "alice")
	require.NoError(t, ch.Publish(ctx, path, []byte(`{}`)))
	require.NoError(t, ch.RemoveOnDisconnect(ctx, path))

	mr.FastForward(20 * time.Second)
	clk.Add(10 * time.Second)
	require.Eventually(t, func() bool {
		return mr.TTL("canvas:"+path) == 30*time.Second
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRedisPublishFailureIsEphemeralError(t *testing.T) {
	mr, client := newRedis(t)
	ch := NewRedisChannel(client, RedisOptions{})
	defer ch.Close()
	mr.Close()

	err := ch.Publish(context.Background(), DeltaPath("b1", "e1"), []byte(`{}`))
	var ee *apperr.EphemeralChannelError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "deltas/b1/e1", ee.Path)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `deltas/b\*1/`, escapeGlob("deltas/b*1/"))
	assert.Equal(t, `a\?\[x\]`, escapeGlob("a?[x]"))
}
