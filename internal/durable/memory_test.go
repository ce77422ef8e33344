package durable

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-canvas/internal/apperr"
	"realtime-canvas/internal/model"
)

func rect(id string, order float64, layer string) model.Entity {
	e := model.EntityFromPatch(id, model.Patch{})
	e.Type = model.EntityRectangle
	e.Order = order
	e.LayerID = layer
	return e
}

type snapshots struct {
	mu   sync.Mutex
	seen []Snapshot
}

func (s *snapshots) add(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, snap)
}

func (s *snapshots) last() (Snapshot, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seen) == 0 {
		return Snapshot{}, 0
	}
	return s.seen[len(s.seen)-1], len(s.seen)
}

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(clock.NewMock(), nil)

	snap, err := s.Load(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, snap.Entities)
	require.Len(t, snap.Layers, 1)
	assert.True(t, snap.Layers[0].IsDefault())

	e := rect("e1", 2, model.DefaultLayerID)
	e.TransformingBy = "alice"
	got, err := s.CreateEntity(ctx, "b1", e)
	require.NoError(t, err)
	assert.Empty(t, got.TransformingBy)
	_, err = s.CreateEntity(ctx, "b1", rect("e0", 1, model.DefaultLayerID))
	require.NoError(t, err)

	require.NoError(t, s.UpdateEntity(ctx, "b1", "e1", model.Patch{Fill: model.Ptr("#000000")}))
	snap, err = s.Load(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, snap.Entities, 2)
	assert.Equal(t, "e0", snap.Entities[0].ID, "sorted by order")
	assert.Equal(t, "#000000", snap.Entities[1].Fill)

	err = s.UpdateEntity(ctx, "b1", "missing", model.Patch{Fill: model.Ptr("#fff")})
	assert.True(t, apperr.IsPersistence(err))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteEntity(ctx, "b1", "e0"))
	snap, _ = s.Load(ctx, "b1")
	assert.Len(t, snap.Entities, 1)
}

func TestMemoryStoreDeleteLayerReassigns(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(clock.NewMock(), nil)

	_, err := s.CreateLayer(ctx, "b1", model.Layer{ID: "l2", Name: "Sketch", Visible: true})
	require.NoError(t, err)
	_, err = s.CreateEntity(ctx, "b1", rect("e1", 1, "l2"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteLayer(ctx, "b1", "l2"))
	snap, _ := s.Load(ctx, "b1")
	require.Len(t, snap.Layers, 1)
	assert.Equal(t, model.DefaultLayerID, snap.Entities[0].LayerID)

	assert.ErrorIs(t, s.DeleteLayer(ctx, "b1", model.DefaultLayerID), apperr.ErrDefaultLayer)
	assert.ErrorIs(t, s.UpdateLayer(ctx, "b1", model.DefaultLayerID, model.LayerPatch{Name: model.Ptr("x")}), apperr.ErrDefaultLayer)
	assert.NoError(t, s.UpdateLayer(ctx, "b1", model.DefaultLayerID, model.LayerPatch{Locked: model.Ptr(true)}))
}

func TestMemoryStoreFailNext(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(clock.NewMock(), nil)
	boom := errors.New("quota exceeded")

	s.FailNext(boom)
	_, err := s.CreateEntity(ctx, "b1", rect("e1", 1, model.DefaultLayerID))
	var pe *apperr.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "e1", pe.ID)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.Writes())

	_, err = s.CreateEntity(ctx, "b1", rect("e1", 1, model.DefaultLayerID))
	assert.NoError(t, err)
	assert.Equal(t, 1, s.Writes())
}

func TestMemoryStoreSubscribe(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(clock.NewMock(), nil)
	got := &snapshots{}

	cancel, err := s.Subscribe(ctx, "b1", got.add)
	require.NoError(t, err)

	require.Eventually(t, func() bool { _, n := got.last(); return n >= 1 }, time.Second, time.Millisecond)

	_, err = s.CreateEntity(ctx, "b1", rect("e1", 1, model.DefaultLayerID))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, _ := got.last()
		return len(snap.Entities) == 1
	}, time.Second, time.Millisecond)

	cancel()
	_, n := got.last()
	_, err = s.CreateEntity(ctx, "b1", rect("e2", 2, model.DefaultLayerID))
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, after := got.last()
	assert.Equal(t, n, after, "no deliveries after cancel")

	_, err = s.CreateEntity(ctx, "other", rect("x", 1, model.DefaultLayerID))
	require.NoError(t, err)
}

func TestLocalNotifier(t *testing.T) {
	n := NewLocalNotifier()
	var a, b int
	stopA := n.Listen("b1", func() { a++ })
	n.Listen("b2", func() { b++ })

	require.NoError(t, n.Notify(context.Background(), "b1"))
	n.NotifyAll()
	stopA()
	require.NoError(t, n.Notify(context.Background(), "b1"))

	assert.Equal(t, 2, a)
	assert.Equal(t, 1, b)
}
