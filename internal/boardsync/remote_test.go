package boardsync

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"realtime-canvas/internal/apperr"
	"realtime-canvas/internal/durable"
	"realtime-canvas/internal/ephemeral"
	"realtime-canvas/internal/model"
)

func TestSnapshotLastWriteWins(t *testing.T) {
	f := newFixture(t)
	o := f.client("alice")
	e := mustCreate(t, o, CreateParams{})

	snap := mustLoad(t, f)
	snap.Entities[0].Fill = "#ff00ff"
	snap.Entities[0].Position = model.Point{X: 3, Y: 4}
	o.HandleSnapshot(snap)

	got, _ := o.objects.Get(e.ID)
	assert.Equal(t, "#ff00ff", got.Fill)
	assert.Equal(t, model.Point{X: 3, Y: 4}, got.Position)
}

func TestSnapshotKeepsUnsavedLocalEdits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.client("alice")
	e := mustCreate(t, o, CreateParams{})
	stale := mustLoad(t, f)

	require.NoError(t, o.UpdateEntity(ctx, e.ID, model.Patch{Fill: model.Ptr("#010101")}, true))
	o.HandleSnapshot(stale)
	got, _ := o.objects.Get(e.ID)
	assert.Equal(t, "#010101", got.Fill, "pending write is not clobbered")

	require.NoError(t, o.Flush(ctx))
	o.HandleSnapshot(mustLoad(t, f))
	got, _ = o.objects.Get(e.ID)
	assert.Equal(t, "#010101", got.Fill)
}

func TestSnapshotKeepsEntityInGesture(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.client("alice")
	e := mustCreate(t, o, CreateParams{})
	require.NoError(t, o.TransformStart(ctx, e.ID))
	require.NoError(t, o.Move(e.ID, model.Point{X: 77}))

	o.HandleSnapshot(durable.Snapshot{Layers: mustLoad(t, f).Layers})
	got, ok := o.objects.Get(e.ID)
	require.True(t, ok)
	assert.Equal(t, 77.0, got.Position.X)
	assert.Equal(t, "alice", got.TransformingBy)
	require.NoError(t, o.TransformEnd(ctx, e.ID))
}

func TestSnapshotDropsRemotelyDeleted(t *testing.T) {
	f := newFixture(t)
	o := f.client("alice")
	a := mustCreate(t, o, CreateParams{})
	b := mustCreate(t, o, CreateParams{})
	o.Select(a.ID, b.ID)
	o.HandleSnapshot(mustLoad(t, f))

	require.NoError(t, f.store.DeleteEntity(context.Background(), board, a.ID))
	o.HandleSnapshot(mustLoad(t, f))

	assert.False(t, o.objects.Has(a.ID))
	assert.Equal(t, []string{b.ID}, o.SelectedIDs())
}

func TestSnapshotKeepsUnconfirmedCreate(t *testing.T) {
	f := newFixture(t)
	o := f.client("alice")
	before := mustLoad(t, f)
	e := mustCreate(t, o, CreateParams{})

	o.HandleSnapshot(before)
	assert.True(t, o.objects.Has(e.ID), "snapshot older than the create does not drop it")

	o.HandleSnapshot(mustLoad(t, f))
	require.NoError(t, f.store.DeleteEntity(context.Background(), board, e.ID))
	o.HandleSnapshot(mustLoad(t, f))
	assert.False(t, o.objects.Has(e.ID))
}

func TestSnapshotDoesNotResurrectPendingDelete(t *testing.T) {
	f := newFixture(t)
	o := f.client("alice")
	e := mustCreate(t, o, CreateParams{})
	before := mustLoad(t, f)

	_, ok := o.objects.Remove(e.ID)
	require.True(t, ok)
	o.mu.Lock()
	o.deleting[e.ID] = struct{}{}
	o.mu.Unlock()

	o.HandleSnapshot(before)
	assert.False(t, o.objects.Has(e.ID))
}

func TestSnapshotPreservesRemoteLock(t *testing.T) {
	f := newFixture(t)
	o := f.client("alice")
	e := mustCreate(t, o, CreateParams{})
	o.HandleDelta(deltaMsg(t, ephemeral.Delta{Kind: ephemeral.DeltaLock, EntityID: e.ID, UserID: "bob", Origin: "peer-bob"}))
	require.Equal(t, "bob", o.LockedBy(e.ID))

	o.HandleSnapshot(mustLoad(t, f))
	assert.Equal(t, "bob", o.LockedBy(e.ID), "the lock lives outside the durable store")
}

func TestHandleDeltaIgnoresOwnAndForeignFrames(t *testing.T) {
	f := newFixture(t)
	o := f.client("alice")
	e := mustCreate(t, o, CreateParams{})

	own := o.delta(ephemeral.DeltaTombstone, e.ID, nil)
	o.HandleDelta(deltaMsg(t, own))
	assert.True(t, o.objects.Has(e.ID))

	raw, err := ephemeral.Encode(ephemeral.Delta{Kind: ephemeral.DeltaTombstone, EntityID: e.ID, Origin: "x"})
	require.NoError(t, err)
	o.HandleDelta(ephemeral.Message{Path: ephemeral.DeltaPath("other-board", e.ID), Value: raw})
	o.HandleDelta(ephemeral.Message{Path: ephemeral.CursorPath(board, "bob"), Value: raw})
	o.HandleDelta(ephemeral.Message{Path: ephemeral.DeltaPath(board, e.ID), Value: []byte("{")})
	assert.True(t, o.objects.Has(e.ID))
}

func TestRemoteTransformIsClamped(t *testing.T) {
	f := newFixture(t)
	o := f.client("alice")
	e := mustCreate(t, o, CreateParams{})

	o.HandleDelta(deltaMsg(t, ephemeral.Delta{
		Kind:     ephemeral.DeltaTransform,
		EntityID: e.ID,
		UserID:   "bob",
		Origin:   "peer-bob",
		Patch:    &model.Patch{Width: model.Ptr(0.5), Fill: model.Ptr("#badbad")},
	}))
	got, _ := o.objects.Get(e.ID)
	assert.Equal(t, model.MinDimension, got.Width)
	assert.Equal(t, model.DefaultFill, got.Fill, "transform frames only carry geometry")
}

func TestAttachConvergesThroughDurableStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.client("alice")
	existing := mustCreate(t, alice, CreateParams{})

	var n atomic.Int64
	bob := New(Deps{
		Board:     board,
		User:      model.User{ID: "bob"},
		Durable:   f.store,
		Ephemeral: f.hub.Connect(),
		Clock:     f.clk,
		Logger:    zaptest.NewLogger(t),
		NewID:     func() string { return fmt.Sprintf("bob-%d", n.Add(1)) },
	})
	require.NoError(t, bob.Attach(ctx, ctx))
	t.Cleanup(func() {
		_ = bob.Close(ctx)
		_ = bob.eph.Close()
	})
	assert.True(t, bob.objects.Has(existing.ID), "attach loads synchronously")

	created := mustCreate(t, alice, CreateParams{Fill: "#0000ff"})
	require.Eventually(t, func() bool { return bob.objects.Has(created.ID) }, time.Second, time.Millisecond)

	require.NoError(t, alice.UpdateEntity(ctx, created.ID, model.Patch{Name: model.Ptr("Banner")}, true))
	require.NoError(t, alice.Flush(ctx))
	require.Eventually(t, func() bool {
		e, _ := bob.objects.Get(created.ID)
		return e.Name == "Banner"
	}, time.Second, time.Millisecond)

	require.NoError(t, alice.DeleteEntity(ctx, existing.ID, true))
	require.Eventually(t, func() bool { return !bob.objects.Has(existing.ID) }, time.Second, time.Millisecond)
}

// attach opens an orchestrator the way a session does: load, then
// subscribe to durable snapshots and ephemeral deltas.
func (f *fixture) attach(user string) *Orchestrator {
	ctx := context.Background()
	var n atomic.Int64
	o := New(Deps{
		Board:     board,
		User:      model.User{ID: user, Name: user},
		Durable:   f.store,
		Ephemeral: f.hub.Connect(),
		Clock:     f.clk,
		Logger:    zaptest.NewLogger(f.t),
		NewID:     func() string { return fmt.Sprintf("%s-%d", user, n.Add(1)) },
	})
	require.NoError(f.t, o.Attach(ctx, ctx))
	f.t.Cleanup(func() {
		_ = o.Close(ctx)
		_ = o.eph.Close()
	})
	return o
}

func TestLateJoinerAfterUndo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.record()
	alice := f.client("alice")
	x := mustCreate(t, alice, CreateParams{})
	y := mustCreate(t, alice, CreateParams{Position: model.Point{X: 10, Y: 10}})

	require.NoError(t, alice.DeleteEntity(ctx, x.ID, true))
	require.True(t, alice.Undo(ctx))

	require.NoError(t, alice.StartDrag(ctx, y.ID))
	require.NoError(t, alice.DragMove(y.ID, model.Point{X: 300, Y: 300}))
	require.NoError(t, alice.FinishDrag(ctx))
	require.True(t, alice.Undo(ctx))
	require.NoError(t, alice.Flush(ctx))

	require.Eventually(t, func() bool {
		return len(rec.kinds(x.ID)) > 0 && rec.last(y.ID).Kind == ephemeral.DeltaUnlock
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return len(f.hub.Paths(ephemeral.Prefix(ephemeral.KindDelta, board))) == 0
	}, time.Second, time.Millisecond, "ended locks and tombstones leave no replayable state")

	stored, ok := f.durableEntity(y.ID)
	require.True(t, ok)
	require.Equal(t, model.Point{X: 10, Y: 10}, stored.Position)

	bob := f.attach("bob")
	assert.Len(t, bob.Objects(), 2)
	assert.True(t, bob.objects.Has(x.ID))
	got, ok := bob.objects.Get(y.ID)
	require.True(t, ok)
	assert.Equal(t, model.Point{X: 10, Y: 10}, got.Position)
	assert.Empty(t, bob.LockedBy(y.ID))
}

func TestAttachSkipsStaleReplayedDeltas(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.clk.Add(time.Hour)
	carol := f.client("carol")
	moved := mustCreate(t, carol, CreateParams{Position: model.Point{X: 1, Y: 1}})
	deleted := mustCreate(t, carol, CreateParams{})
	locked := mustCreate(t, carol, CreateParams{})
	dragging := mustCreate(t, carol, CreateParams{})

	pub := f.hub.Connect()
	t.Cleanup(func() { _ = pub.Close() })
	put := func(kind ephemeral.DeltaKind, id string, at time.Time, p *model.Patch) {
		raw, err := ephemeral.Encode(ephemeral.Delta{Kind: kind, EntityID: id, UserID: "dave", Origin: "peer-dave", Patch: p, Timestamp: at})
		require.NoError(t, err)
		require.NoError(t, pub.Publish(ctx, ephemeral.DeltaPath(board, id), raw))
	}
	old := f.clk.Now().Add(-time.Minute)
	put(ephemeral.DeltaUnlock, moved.ID, old, &model.Patch{Position: &model.Point{X: 300, Y: 300}})
	put(ephemeral.DeltaTombstone, deleted.ID, old, nil)
	put(ephemeral.DeltaLock, locked.ID, old, nil)
	put(ephemeral.DeltaTransform, dragging.ID, f.clk.Now().Add(time.Minute), &model.Patch{Position: &model.Point{X: 50, Y: 50}})

	bob := f.attach("bob")
	got, ok := bob.objects.Get(moved.ID)
	require.True(t, ok)
	assert.Equal(t, model.Point{X: 1, Y: 1}, got.Position)
	assert.True(t, bob.objects.Has(deleted.ID))
	assert.Equal(t, "dave", bob.LockedBy(locked.ID), "a present lock is live")

	assert.Equal(t, "dave", bob.LockedBy(dragging.ID), "a fresh transform frame applies and implies the sender's lock")
}

func TestPeerLockHeldUntilEntityArrives(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	carol := f.client("carol")
	x := mustCreate(t, carol, CreateParams{})
	y := mustCreate(t, carol, CreateParams{})

	alice := f.client("alice")
	require.False(t, alice.objects.Has(x.ID))
	alice.HandleDelta(deltaMsg(t, ephemeral.Delta{Kind: ephemeral.DeltaLock, EntityID: x.ID, UserID: "bob", Origin: "peer-bob"}))
	alice.HandleDelta(deltaMsg(t, ephemeral.Delta{Kind: ephemeral.DeltaLock, EntityID: y.ID, UserID: "bob", Origin: "peer-bob"}))
	alice.HandleDelta(deltaMsg(t, ephemeral.Delta{Kind: ephemeral.DeltaUnlock, EntityID: y.ID, UserID: "bob", Origin: "peer-bob"}))

	alice.HandleSnapshot(mustLoad(t, f))
	assert.Equal(t, "bob", alice.LockedBy(x.ID))
	assert.False(t, alice.CanTransform(x.ID))
	assert.ErrorIs(t, alice.TransformStart(ctx, x.ID), apperr.ErrTransformLocked)
	assert.Empty(t, alice.LockedBy(y.ID), "released before arrival")

	alice.HandleDelta(ephemeral.Message{Path: ephemeral.DeltaPath(board, x.ID), Removed: true})
	assert.Empty(t, alice.LockedBy(x.ID))
	assert.True(t, alice.CanTransform(x.ID))
}
