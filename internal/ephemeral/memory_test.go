package ephemeral

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *collector) handle(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *collector) all() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

func TestMemorySubscribeReplaysExistingValues(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	a := hub.Connect()
	b := hub.Connect()

	require.NoError(t, a.Publish(ctx, PresencePath("b1", "alice"), []byte(`{"id":"alice"}`)))
	require.NoError(t, a.Publish(ctx, PresencePath("b2", "alice"), []byte(`{"id":"alice"}`)))

	col := &collector{}
	_, err := b.Subscribe(ctx, Prefix(KindPresence, "b1"), col.handle)
	require.NoError(t, err)

	msgs := col.all()
	require.Len(t, msgs, 1, "late joiner sees current presence on its board only")
	assert.Equal(t, "presence/b1/alice", msgs[0].Path)

	require.NoError(t, a.Publish(ctx, PresencePath("b1", "bob"), []byte(`{"id":"bob"}`)))
	require.NoError(t, a.Remove(ctx, PresencePath("b1", "bob")))
	msgs = col.all()
	require.Len(t, msgs, 3)
	assert.False(t, msgs[1].Removed)
	assert.True(t, msgs[2].Removed)
	assert.Empty(t, msgs[2].Value)
}

func TestMemoryCloseRunsDisconnectCleanup(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	alice := hub.Connect()
	watcher := hub.Connect()

	col := &collector{}
	_, err := watcher.Subscribe(ctx, Prefix(KindCursor, "b1"), col.handle)
	require.NoError(t, err)

	cursor := CursorPath("b1", "alice")
	require.NoError(t, alice.Publish(ctx, cursor, []byte(`{"x":1}`)))
	require.NoError(t, alice.RemoveOnDisconnect(ctx, cursor))

	own := &collector{}
	_, err = alice.Subscribe(ctx, Prefix(KindCursor, "b1"), own.handle)
	require.NoError(t, err)
	require.Len(t, own.all(), 1)

	require.NoError(t, alice.Close())
	require.NoError(t, alice.Close())
	assert.Len(t, own.all(), 1, "closed channel receives nothing more")

	_, ok := hub.Value(cursor)
	assert.False(t, ok)
	msgs := col.all()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].Removed)

	assert.ErrorIs(t, alice.Publish(ctx, cursor, []byte(`{}`)), ErrClosed)
}

func TestMemoryUnsubscribe(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	c := hub.Connect()

	col := &collector{}
	sub, err := c.Subscribe(ctx, Prefix(KindDelta, "b1"), col.handle)
	require.NoError(t, err)
	require.NoError(t, c.Publish(ctx, DeltaPath("b1", "e1"), []byte(`1`)))
	sub.Unsubscribe()
	require.NoError(t, c.Publish(ctx, DeltaPath("b1", "e1"), []byte(`2`)))

	assert.Len(t, col.all(), 1)
	assert.Equal(t, []string{"deltas/b1/e1"}, hub.Paths("deltas/"))
}
