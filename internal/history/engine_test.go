package history

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"realtime-canvas/internal/apperr"
	"realtime-canvas/internal/model"
)

// board is a minimal entity map driven through history steps.
type board map[string]model.Entity

func (b board) apply(_ context.Context, s Step) error {
	switch s.Kind {
	case StepRecreate:
		b[s.ObjectID] = model.EntityFromPatch(s.ObjectID, s.Patch)
	case StepRemove:
		if _, ok := b[s.ObjectID]; !ok {
			return apperr.StaleEntity(s.ObjectID)
		}
		delete(b, s.ObjectID)
	case StepPatch:
		e, ok := b[s.ObjectID]
		if !ok {
			return apperr.StaleEntity(s.ObjectID)
		}
		s.Patch.ApplyTo(&e)
		b[s.ObjectID] = e
	}
	return nil
}

func (b board) clone() board {
	out := board{}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func newEngine(t *testing.T, depth int) *Engine {
	return New(depth, clock.NewMock(), zaptest.NewLogger(t))
}

func (b board) create(e *Engine, user, id string, at model.Point) {
	ent := model.EntityFromPatch(id, model.Patch{Position: &at})
	b[id] = ent
	after := model.PatchFromEntity(ent)
	_ = e.Record(e.NewAction(user, model.ActionCreate, id, nil, &after))
}

func (b board) update(e *Engine, user, id string, p model.Patch) {
	before := p.CaptureFrom(b[id])
	ent := b[id]
	p.ApplyTo(&ent)
	b[id] = ent
	_ = e.Record(e.NewAction(user, model.ActionUpdate, id, &before, &p))
}

func (b board) remove(e *Engine, user, id string) {
	before := model.PatchFromEntity(b[id])
	delete(b, id)
	_ = e.Record(e.NewAction(user, model.ActionDelete, id, &before, nil))
}

func TestUndoAllRestoresInitialState(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, DefaultDepth)
	b := board{}
	b["seed"] = model.EntityFromPatch("seed", model.Patch{})
	initial := b.clone()

	b.create(eng, "u1", "r1", model.Point{})
	b.update(eng, "u1", "r1", model.Patch{Position: &model.Point{X: 40, Y: 5}})
	b.update(eng, "u1", "seed", model.Patch{Fill: model.Ptr("#ff0000"), Width: model.Ptr(60.0)})
	b.create(eng, "u1", "r2", model.Point{X: 1})
	b.remove(eng, "u1", "seed")
	require.Equal(t, 5, eng.UndoDepth("u1"))

	for i := 0; i < 5; i++ {
		_, ok := eng.Undo(ctx, "u1", b.apply)
		require.True(t, ok, "undo %d", i)
	}
	assert.Equal(t, initial, b)
	assert.False(t, eng.CanUndo("u1"))
	assert.Equal(t, 5, eng.RedoDepth("u1"))

	_, ok := eng.Undo(ctx, "u1", b.apply)
	assert.False(t, ok, "empty undo is a no-op")
}

func TestCreateUndoRedoRoundTrip(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, DefaultDepth)
	b := board{}

	b.create(eng, "u1", "rect", model.Point{})
	applied := b.clone()

	_, ok := eng.Undo(ctx, "u1", b.apply)
	require.True(t, ok)
	assert.Empty(t, b)

	a, ok := eng.Redo(ctx, "u1", b.apply)
	require.True(t, ok)
	assert.Equal(t, model.ActionCreate, a.Type)
	require.Len(t, b, 1)
	got := b["rect"]
	assert.Equal(t, model.Point{}, got.Position)
	assert.Equal(t, 100.0, got.Width)
	assert.Equal(t, 100.0, got.Height)
	assert.Equal(t, applied, b)
	assert.True(t, eng.CanUndo("u1"))
	assert.False(t, eng.CanRedo("u1"))
}

func TestRecordClearsRedo(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, DefaultDepth)
	b := board{}

	b.create(eng, "u1", "a", model.Point{})
	b.update(eng, "u1", "a", model.Patch{Rotation: model.Ptr(45.0)})
	eng.Undo(ctx, "u1", b.apply)
	require.True(t, eng.CanRedo("u1"))

	b.update(eng, "u1", "a", model.Patch{Fill: model.Ptr("#000000")})
	assert.False(t, eng.CanRedo("u1"))
	assert.Equal(t, 2, eng.UndoDepth("u1"))
}

func TestDepthEvictsOldest(t *testing.T) {
	eng := newEngine(t, DefaultDepth)
	b := board{}
	for i := 0; i < DefaultDepth+1; i++ {
		b.create(eng, "u1", fmt.Sprintf("e%02d", i), model.Point{})
	}
	assert.Equal(t, DefaultDepth, eng.UndoDepth("u1"))

	ctx := context.Background()
	var last model.HistoryAction
	for eng.CanUndo("u1") {
		a, ok := eng.Undo(ctx, "u1", b.apply)
		require.True(t, ok)
		last = a
	}
	assert.Equal(t, "e01", last.ObjectID, "e00 was evicted")
	assert.Contains(t, b, "e00")
	assert.Equal(t, DefaultDepth, eng.RedoDepth("u1"))
}

func TestStacksArePerUser(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, DefaultDepth)
	b := board{}
	b.create(eng, "alice", "a", model.Point{})
	b.create(eng, "bob", "b", model.Point{})

	_, ok := eng.Undo(ctx, "alice", b.apply)
	require.True(t, ok)
	assert.NotContains(t, b, "a")
	assert.Contains(t, b, "b")
	assert.True(t, eng.CanUndo("bob"))

	eng.Clear("bob")
	assert.False(t, eng.CanUndo("bob"))
}

func TestFailedUndoIsRequeued(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, DefaultDepth)
	b := board{}
	b.create(eng, "u1", "a", model.Point{})
	b.update(eng, "u1", "a", model.Patch{Fill: model.Ptr("#00ff00")})

	// another user deletes the entity
	delete(b, "a")

	_, ok := eng.Undo(ctx, "u1", b.apply)
	assert.False(t, ok)
	assert.Equal(t, 2, eng.UndoDepth("u1"))
	assert.Equal(t, 0, eng.RedoDepth("u1"))
	top, ok := eng.Peek("u1")
	require.True(t, ok)
	assert.Equal(t, model.ActionUpdate, top.Type)

	boom := errors.New("offline")
	_, ok = eng.Undo(ctx, "u1", func(context.Context, Step) error { return boom })
	assert.False(t, ok)
	assert.Equal(t, 2, eng.UndoDepth("u1"))
}

func TestRecordRejectsInvalid(t *testing.T) {
	eng := newEngine(t, DefaultDepth)
	err := eng.Record(eng.NewAction("u1", model.ActionUpdate, "a", nil, &model.Patch{}))
	assert.True(t, apperr.IsValidation(err))
	assert.False(t, eng.CanUndo("u1"))
}

func TestNewActionIDsAreSortable(t *testing.T) {
	eng := newEngine(t, DefaultDepth)
	after := model.Patch{}
	a := eng.NewAction("u1", model.ActionCreate, "x", nil, &after)
	b := eng.NewAction("u1", model.ActionCreate, "y", nil, &after)
	assert.Len(t, a.ID, 26)
	assert.Less(t, a.ID, b.ID)
}

func TestInvertAndReplay(t *testing.T) {
	before := model.Patch{Fill: model.Ptr("#111111")}
	after := model.Patch{Fill: model.Ptr("#222222")}

	tests := []struct {
		name   string
		action model.HistoryAction
		undo   StepKind
		redo   StepKind
	}{
		{"create", model.HistoryAction{Type: model.ActionCreate, After: &after}, StepRemove, StepRecreate},
		{"delete", model.HistoryAction{Type: model.ActionDelete, Before: &before}, StepRecreate, StepRemove},
		{"update", model.HistoryAction{Type: model.ActionUpdate, Before: &before, After: &after}, StepPatch, StepPatch},
		{"duplicate as create", model.HistoryAction{Type: model.ActionDuplicate, After: &after}, StepRemove, StepRecreate},
		{"paste with before", model.HistoryAction{Type: model.ActionPaste, Before: &before, After: &after}, StepPatch, StepPatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.action.ObjectID = "x"
			u := Invert(tt.action)
			r := Replay(tt.action)
			assert.Equal(t, tt.undo, u.Kind)
			assert.Equal(t, tt.redo, r.Kind)
			assert.Equal(t, "x", u.ObjectID)
			if u.Kind != StepRemove {
				assert.Equal(t, before.Fill, u.Patch.Fill)
			}
			if r.Kind != StepRemove {
				assert.Equal(t, after.Fill, r.Patch.Fill)
			}
		})
	}
}
