package boardsync

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"realtime-canvas/internal/model"
)

// selectedEntities returns the selected entities that still exist, in
// front-to-back order.
func (o *Orchestrator) selectedEntities() []model.Entity {
	ids := o.sel.IDs()
	out := make([]model.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := o.objects.Get(id); ok {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// BulkDelete deletes every selected entity, one history entry each.
// Entities that are not editable are left alone.
func (o *Orchestrator) BulkDelete(ctx context.Context) error {
	var errs []error
	for _, e := range o.selectedEntities() {
		if !o.editable(e) {
			continue
		}
		if err := o.DeleteEntity(ctx, e.ID, true); err != nil {
			errs = append(errs, err)
		}
	}
	o.sel.Clear()
	return errors.Join(errs...)
}

// clone builds a copy of src under a fresh id, shifted by offset and placed
// above everything else.
func (o *Orchestrator) clone(src model.Entity, offset model.Point, name string) model.Entity {
	now := o.clock.Now()
	e := src
	e.ID = o.newID()
	e.Position = src.Position.Add(offset.X, offset.Y)
	e.Order = o.objects.NextOrder()
	e.Name = name
	e.Locked = false
	e.TransformingBy = ""
	e.CreatedBy = o.user.ID
	e.CreatedAt = now
	e.UpdatedAt = now
	if _, ok := o.objects.Layer(e.LayerID); !ok {
		e.LayerID = model.DefaultLayerID
	}
	return e
}

// insertAll creates every entity, recording each as its own create action,
// and selects the ones that were stored.
func (o *Orchestrator) insertAll(ctx context.Context, entities []model.Entity) ([]model.Entity, error) {
	created := make([]model.Entity, 0, len(entities))
	ids := make([]string, 0, len(entities))
	var errs []error
	for _, e := range entities {
		stored, err := o.insert(ctx, e, true, model.ActionCreate)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		created = append(created, stored)
		ids = append(ids, stored.ID)
	}
	if len(ids) > 0 {
		o.sel.Replace(ids...)
	}
	return created, errors.Join(errs...)
}

// BulkDuplicate copies every selected entity offset by (+20,+20) under new
// ids and names. The copies become the selection.
func (o *Orchestrator) BulkDuplicate(ctx context.Context) ([]model.Entity, error) {
	if o.isClosed() {
		return nil, errClosed
	}
	src := o.selectedEntities()
	if len(src) == 0 {
		return nil, nil
	}
	offset := model.Point{X: DuplicateOffset, Y: DuplicateOffset}
	copies := make([]model.Entity, len(src))
	for i, e := range src {
		copies[i] = o.clone(e, offset, CopyName(e.Name))
	}
	return o.insertAll(ctx, copies)
}

// BulkCopy puts the selected entities on the session clipboard and returns
// how many were copied.
func (o *Orchestrator) BulkCopy() int {
	src := o.selectedEntities()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clipboard = src
	return len(src)
}

// Clipboard returns the copied entities.
func (o *Orchestrator) Clipboard() []model.Entity {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]model.Entity(nil), o.clipboard...)
}

// Paste creates the clipboard entities shifted by offset and selects them.
func (o *Orchestrator) Paste(ctx context.Context, offset model.Point) ([]model.Entity, error) {
	if o.isClosed() {
		return nil, errClosed
	}
	src := o.Clipboard()
	if len(src) == 0 {
		return nil, nil
	}
	existing := o.objects.List()
	copies := make([]model.Entity, len(src))
	for i, e := range src {
		name := DisplayName(e.Type, existing)
		copies[i] = o.clone(e, offset, name)
		existing = append(existing, copies[i])
	}
	return o.insertAll(ctx, copies)
}

// BringToFront sets id's order to the highest order on the board plus one.
func (o *Orchestrator) BringToFront(ctx context.Context, id string) error {
	order := o.objects.MaxOrder() + 1
	o.log.Debug("bring to front", zap.String("entity", id), zap.Float64("order", order))
	return o.UpdateEntity(ctx, id, model.Patch{Order: &order}, true)
}

// SendToBack sets id's order to the lowest order on the board minus one.
func (o *Orchestrator) SendToBack(ctx context.Context, id string) error {
	order := o.objects.MinOrder() - 1
	o.log.Debug("send to back", zap.String("entity", id), zap.Float64("order", order))
	return o.UpdateEntity(ctx, id, model.Patch{Order: &order}, true)
}
