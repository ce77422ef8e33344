package boardsync

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"realtime-canvas/internal/apperr"
	"realtime-canvas/internal/ephemeral"
	"realtime-canvas/internal/model"
)

// CreateParams describes a new entity. Zero values take the defaults:
// 100x100, default fill, opacity 1, default layer, next order, generated name.
type CreateParams struct {
	ID       string
	Type     model.EntityType
	Position model.Point
	Width    float64
	Height   float64
	Rotation float64
	Fill     string
	Opacity  *float64
	Order    *float64
	LayerID  string
	Name     string
	Text     string
}

func (o *Orchestrator) buildEntity(p CreateParams) model.Entity {
	now := o.clock.Now()
	e := model.Entity{
		ID:        p.ID,
		Type:      p.Type,
		Position:  p.Position,
		Width:     p.Width,
		Height:    p.Height,
		Rotation:  p.Rotation,
		Fill:      p.Fill,
		Opacity:   model.DefaultOpacity,
		LayerID:   p.LayerID,
		Visible:   true,
		Name:      p.Name,
		Text:      p.Text,
		CreatedBy: o.user.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if e.ID == "" {
		e.ID = o.newID()
	}
	if e.Type == "" {
		e.Type = model.EntityRectangle
	}
	if e.Width == 0 {
		e.Width = model.DefaultDimension
	}
	if e.Height == 0 {
		e.Height = model.DefaultDimension
	}
	if e.Fill == "" {
		e.Fill = model.DefaultFill
	}
	if p.Opacity != nil {
		e.Opacity = *p.Opacity
	}
	if p.Order != nil {
		e.Order = *p.Order
	} else {
		e.Order = o.objects.NextOrder()
	}
	if _, ok := o.objects.Layer(e.LayerID); !ok {
		e.LayerID = model.DefaultLayerID
	}
	if e.Name == "" {
		e.Name = DisplayName(e.Type, o.objects.List())
	}
	return e
}

// CreateEntity validates and fills defaults, writes the entity through the
// durable store and puts the stored result into the object store. A
// persistence failure is returned and nothing is recorded.
func (o *Orchestrator) CreateEntity(ctx context.Context, p CreateParams, record bool) (model.Entity, error) {
	if o.isClosed() {
		return model.Entity{}, errClosed
	}
	e := o.buildEntity(p)
	if err := model.ValidateEntity(e); err != nil {
		return model.Entity{}, err
	}
	return o.insert(ctx, e, record, model.ActionCreate)
}

func (o *Orchestrator) insert(ctx context.Context, e model.Entity, record bool, typ model.ActionType) (model.Entity, error) {
	stored, err := o.store.CreateEntity(ctx, o.board, e)
	if err != nil {
		o.log.Error("create failed", zap.String("entity", e.ID), zap.Error(err))
		return model.Entity{}, err
	}
	o.mu.Lock()
	o.unseen[stored.ID] = struct{}{}
	o.mu.Unlock()
	o.objects.Put(stored)

	if record {
		after := model.PatchFromEntity(stored)
		o.record(typ, stored.ID, nil, &after)
	}
	return stored, nil
}

// mutableOnly reports whether p only touches the lock/visibility flags,
// which stay writable on locked entities so they can be unlocked.
func mutableOnly(p model.Patch) bool {
	for _, f := range p.Fields() {
		if f != model.FieldLocked && f != model.FieldVisible {
			return false
		}
	}
	return true
}

// UpdateEntity applies p optimistically and schedules a debounced durable
// write. An update action holding only the changed fields' previous values is
// recorded if anything actually changed.
func (o *Orchestrator) UpdateEntity(ctx context.Context, id string, p model.Patch, record bool) error {
	if o.isClosed() {
		return errClosed
	}
	if p.IsEmpty() {
		return nil
	}
	if err := model.ValidatePatch(p); err != nil {
		return err
	}
	cur, ok := o.objects.Get(id)
	if !ok {
		o.log.Warn("update of missing entity", zap.String("entity", id))
		return apperr.StaleEntity(id)
	}
	if !mutableOnly(p) && !o.editable(cur) {
		return apperr.ErrNotEditable
	}
	if p.LayerID != nil {
		if _, ok := o.objects.Layer(*p.LayerID); !ok {
			return apperr.StaleLayer(*p.LayerID)
		}
	}

	before := p.CaptureFrom(cur)
	changed := p.DiffersFrom(cur)
	if err := o.patch(id, p); err != nil {
		return err
	}
	if record && changed {
		after := p
		o.record(model.ActionUpdate, id, &before, &after)
	}
	if p.Visible != nil && !*p.Visible {
		o.sel.Remove(id)
	}
	return nil
}

// patch is the unrecorded, ungated mutation primitive.
func (o *Orchestrator) patch(id string, p model.Patch) error {
	if _, err := o.objects.Apply(id, p); err != nil {
		return err
	}
	o.writes.Submit(id, p)
	return nil
}

// DeleteEntity removes id locally, tombstones it on the ephemeral channel and
// deletes it from the durable store. The local removal stands even if the
// durable delete fails; the error is returned.
func (o *Orchestrator) DeleteEntity(ctx context.Context, id string, record bool) error {
	if o.isClosed() {
		return errClosed
	}
	cur, ok := o.objects.Get(id)
	if !ok {
		o.log.Warn("delete of missing entity", zap.String("entity", id))
		return apperr.StaleEntity(id)
	}
	if !o.editable(cur) {
		return apperr.ErrNotEditable
	}
	err := o.remove(ctx, id)
	if record {
		before := model.PatchFromEntity(cur)
		o.record(model.ActionDelete, id, &before, nil)
	}
	return err
}

func (o *Orchestrator) remove(ctx context.Context, id string) error {
	if _, ok := o.objects.Remove(id); !ok {
		return apperr.StaleEntity(id)
	}
	o.sel.Remove(id)
	o.writes.Cancel(id)
	o.mu.Lock()
	delete(o.gestures, id)
	delete(o.unseen, id)
	o.deleting[id] = struct{}{}
	o.mu.Unlock()

	o.deltas.Send(id, o.delta(ephemeral.DeltaTombstone, id, nil))

	err := o.store.DeleteEntity(ctx, o.board, id)
	o.mu.Lock()
	delete(o.deleting, id)
	o.mu.Unlock()
	if err != nil {
		o.log.Error("delete failed", zap.String("entity", id), zap.Error(err))
	}
	return err
}

// SetProperty writes one dynamic field on every id. The field goes through
// the updatable-field allow-list; each entity gets its own history entry.
func (o *Orchestrator) SetProperty(ctx context.Context, ids []string, field model.Field, value any) error {
	p, err := model.FieldPatch(field, value)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		if err := o.UpdateEntity(ctx, id, p, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) record(typ model.ActionType, id string, before, after *model.Patch) {
	a := o.hist.NewAction(o.user.ID, typ, id, before, after)
	if err := o.hist.Record(a); err != nil {
		o.log.Error("history record rejected", zap.String("entity", id), zap.Error(err))
	}
}
