package boardsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-canvas/internal/model"
)

func TestBulkDuplicateScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.client("alice")
	src := []model.Entity{
		mustCreate(t, o, CreateParams{Position: model.Point{X: 0, Y: 0}}),
		mustCreate(t, o, CreateParams{Type: model.EntityCircle, Position: model.Point{X: 100, Y: 50}}),
		mustCreate(t, o, CreateParams{Type: model.EntityText, Position: model.Point{X: -10, Y: 5}, Text: "hi"}),
	}
	o.Select(src[0].ID, src[1].ID, src[2].ID)
	depth := o.hist.UndoDepth("alice")

	copies, err := o.BulkDuplicate(ctx)
	require.NoError(t, err)
	require.Len(t, copies, 3)
	assert.Len(t, o.Objects(), 6)
	assert.Equal(t, depth+3, o.hist.UndoDepth("alice"))

	ids := make([]string, 0, 3)
	for i, c := range copies {
		ids = append(ids, c.ID)
		assert.NotEqual(t, src[i].ID, c.ID)
		assert.Equal(t, src[i].Position.Add(20, 20), c.Position)
		assert.Equal(t, "Copy of "+src[i].Name, c.Name)
		assert.Equal(t, src[i].Type, c.Type)
		assert.Greater(t, c.Order, src[2].Order)
	}
	assert.Equal(t, "hi", copies[2].Text)
	assert.ElementsMatch(t, ids, o.SelectedIDs())

	a, _ := o.hist.Peek("alice")
	assert.Equal(t, model.ActionCreate, a.Type)

	require.True(t, o.Undo(ctx))
	assert.Len(t, o.Objects(), 5)
}

func TestDuplicateNamesDoNotStack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.client("alice")
	e := mustCreate(t, o, CreateParams{Name: "Logo"})
	o.Select(e.ID)

	first, err := o.BulkDuplicate(ctx)
	require.NoError(t, err)
	second, err := o.BulkDuplicate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Copy of Logo", first[0].Name)
	assert.Equal(t, "Copy of Logo", second[0].Name)
	assert.Equal(t, model.Point{X: 40, Y: 40}, second[0].Position)
}

func TestDuplicateWithEmptySelection(t *testing.T) {
	f := newFixture(t)
	o := f.client("alice")
	copies, err := o.BulkDuplicate(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, copies)
}

func TestCopyPaste(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.client("alice")
	a := mustCreate(t, o, CreateParams{Position: model.Point{X: 10, Y: 10}})
	b := mustCreate(t, o, CreateParams{Position: model.Point{X: 50, Y: 10}})
	require.NoError(t, o.UpdateEntity(ctx, b.ID, model.Patch{Locked: model.Ptr(true)}, true))
	o.Select(a.ID, b.ID)

	assert.Equal(t, 2, o.BulkCopy())
	pasted, err := o.Paste(ctx, model.Point{X: 100, Y: 0})
	require.NoError(t, err)
	require.Len(t, pasted, 2)

	assert.Equal(t, model.Point{X: 110, Y: 10}, pasted[0].Position)
	assert.Equal(t, model.Point{X: 150, Y: 10}, pasted[1].Position)
	assert.Equal(t, "Rectangle 3", pasted[0].Name)
	assert.Equal(t, "Rectangle 4", pasted[1].Name)
	assert.False(t, pasted[1].Locked, "copies start unlocked")
	assert.ElementsMatch(t, []string{pasted[0].ID, pasted[1].ID}, o.SelectedIDs())

	// clipboard survives the paste
	again, err := o.Paste(ctx, model.Point{})
	require.NoError(t, err)
	assert.Len(t, again, 2)
	assert.Len(t, o.Objects(), 6)
}

func TestPasteEmptyClipboard(t *testing.T) {
	f := newFixture(t)
	o := f.client("alice")
	pasted, err := o.Paste(context.Background(), model.Point{})
	assert.NoError(t, err)
	assert.Empty(t, pasted)
}

func TestBulkDeleteSkipsLocked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.client("alice")
	a := mustCreate(t, o, CreateParams{})
	b := mustCreate(t, o, CreateParams{})
	require.NoError(t, o.UpdateEntity(ctx, b.ID, model.Patch{Locked: model.Ptr(true)}, true))
	o.Select(a.ID, b.ID)

	require.NoError(t, o.BulkDelete(ctx))
	assert.False(t, o.objects.Has(a.ID))
	assert.True(t, o.objects.Has(b.ID))
	assert.Empty(t, o.SelectedIDs())

	// locked entities can still be unlocked
	require.NoError(t, o.UpdateEntity(ctx, b.ID, model.Patch{Locked: model.Ptr(false)}, true))
	assert.NoError(t, o.UpdateEntity(ctx, b.ID, model.Patch{Fill: model.Ptr("#000000")}, true))
}

func TestZOrderScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.client("alice")
	a := mustCreate(t, o, CreateParams{Order: model.Ptr(1.0)})
	b := mustCreate(t, o, CreateParams{Order: model.Ptr(2.0)})
	c := mustCreate(t, o, CreateParams{Order: model.Ptr(3.0)})

	require.NoError(t, o.BringToFront(ctx, a.ID))
	got, _ := o.objects.Get(a.ID)
	assert.Equal(t, 4.0, got.Order)

	require.NoError(t, o.SendToBack(ctx, c.ID))
	got, _ = o.objects.Get(c.ID)
	assert.Equal(t, 1.0, got.Order)

	order := make([]string, 0, 3)
	for _, e := range o.Objects() {
		order = append(order, e.ID)
	}
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, order)

	require.True(t, o.Undo(ctx))
	got, _ = o.objects.Get(c.ID)
	assert.Equal(t, 3.0, got.Order)
}
