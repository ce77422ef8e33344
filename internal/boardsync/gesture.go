package boardsync

import (
	"context"

	"go.uber.org/zap"

	"realtime-canvas/internal/apperr"
	"realtime-canvas/internal/ephemeral"
	"realtime-canvas/internal/model"
)

// Transform gestures run in three phases: start takes the lock and snapshots
// the entity, frames update locally and go out throttled, end releases the
// lock and records one history entry for the whole gesture.

// geometry is the transform state broadcast on every frame. Frames carry
// all of it so a coalesced frame never loses a field.
func geometry(e model.Entity) *model.Patch {
	return &model.Patch{
		Position: model.Ptr(e.Position),
		Width:    model.Ptr(e.Width),
		Height:   model.Ptr(e.Height),
		Rotation: model.Ptr(e.Rotation),
	}
}

// gestureDiff returns the geometry fields that differ between start and end.
func gestureDiff(start, end model.Entity) model.Patch {
	var p model.Patch
	if start.Position != end.Position {
		p.Position = model.Ptr(end.Position)
	}
	if start.Width != end.Width {
		p.Width = model.Ptr(end.Width)
	}
	if start.Height != end.Height {
		p.Height = model.Ptr(end.Height)
	}
	if start.Rotation != end.Rotation {
		p.Rotation = model.Ptr(end.Rotation)
	}
	return p
}

func (o *Orchestrator) checkTransformable(id string) (model.Entity, error) {
	e, ok := o.objects.Get(id)
	if !ok {
		return model.Entity{}, apperr.StaleEntity(id)
	}
	if o.lockedByOther(e) {
		return e, apperr.ErrTransformLocked
	}
	if !o.editable(e) {
		return e, apperr.ErrNotEditable
	}
	return e, nil
}

// begin takes the transform lock on e. Only the ephemeral channel hears
// about it; the lock is never persisted.
func (o *Orchestrator) begin(ctx context.Context, e model.Entity) {
	o.mu.Lock()
	o.gestures[e.ID] = e
	o.mu.Unlock()

	o.objects.SetTransformingBy(e.ID, o.user.ID)
	o.deltas.Send(e.ID, o.delta(ephemeral.DeltaLock, e.ID, geometry(e)))
	if err := o.eph.RemoveOnDisconnect(ctx, ephemeral.DeltaPath(o.board, e.ID)); err != nil {
		o.log.Warn("lock cleanup registration failed", zap.String("entity", e.ID), zap.Error(err))
	}
}

// end releases the lock on id and records the gesture if it moved anything.
func (o *Orchestrator) end(id string) {
	o.mu.Lock()
	start, ok := o.gestures[id]
	delete(o.gestures, id)
	o.mu.Unlock()
	if !ok {
		return
	}

	cur, exists := o.objects.Get(id)
	if !exists {
		// deleted mid-gesture by someone else
		return
	}
	o.objects.SetTransformingBy(id, "")
	o.deltas.Send(id, o.delta(ephemeral.DeltaUnlock, id, geometry(cur)))

	diff := gestureDiff(start, cur)
	if diff.IsEmpty() {
		return
	}
	before := diff.CaptureFrom(start)
	after := diff
	o.record(model.ActionUpdate, id, &before, &after)
	o.writes.Submit(id, diff)
}

// frame applies a live transform frame locally and queues it for broadcast.
func (o *Orchestrator) frame(id string, p model.Patch) error {
	e, err := o.objects.Apply(id, p)
	if err != nil {
		return err
	}
	o.deltas.Submit(id, o.delta(ephemeral.DeltaTransform, id, geometry(e)))
	return nil
}

func (o *Orchestrator) inGesture(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.gestures[id]
	return ok
}

// TransformStart takes the transform lock on id. It fails with
// ErrTransformLocked while another user holds it.
func (o *Orchestrator) TransformStart(ctx context.Context, id string) error {
	if o.isClosed() {
		return errClosed
	}
	e, err := o.checkTransformable(id)
	if err != nil {
		return err
	}
	if o.inGesture(id) {
		return nil
	}
	o.begin(ctx, e)
	return nil
}

// Move is a transform frame that only changes position.
func (o *Orchestrator) Move(id string, pos model.Point) error {
	return o.Transform(id, model.Patch{Position: &pos})
}

// Transform applies one in-progress frame. Width and height are clamped to
// the minimum dimension rather than rejected.
func (o *Orchestrator) Transform(id string, p model.Patch) error {
	if !o.inGesture(id) {
		return apperr.Validation("id", "no transform in progress for "+id)
	}
	p = model.ClampDimensions(model.Patch{
		Position: p.Position,
		Width:    p.Width,
		Height:   p.Height,
		Rotation: p.Rotation,
	})
	if err := model.ValidatePatch(p); err != nil {
		return err
	}
	return o.frame(id, p)
}

// TransformEnd releases the lock and persists the final geometry.
func (o *Orchestrator) TransformEnd(_ context.Context, id string) error {
	o.end(id)
	return nil
}

// StartDrag begins a drag on id. If id is part of a multi-selection every
// selected entity that can be transformed moves with it; otherwise id alone
// is dragged and becomes the selection.
func (o *Orchestrator) StartDrag(ctx context.Context, id string) error {
	if o.isClosed() {
		return errClosed
	}
	anchor, err := o.checkTransformable(id)
	if err != nil {
		return err
	}

	ids := []string{id}
	if o.sel.Contains(id) && o.sel.Len() > 1 {
		ids = o.sel.IDs()
	} else if !o.sel.Contains(id) {
		o.sel.Replace(id)
	}

	o.mu.Lock()
	active := o.drag != nil
	o.mu.Unlock()
	if active {
		_ = o.FinishDrag(ctx)
	}

	moving := make([]string, 0, len(ids))
	for _, eid := range ids {
		e := anchor
		if eid != id {
			if e, err = o.checkTransformable(eid); err != nil {
				o.log.Debug("skipping entity in drag", zap.String("entity", eid), zap.Error(err))
				continue
			}
		}
		o.begin(ctx, e)
		moving = append(moving, eid)
	}

	o.mu.Lock()
	o.drag = &dragState{anchor: id, start: anchor.Position, ids: moving}
	o.mu.Unlock()
	return nil
}

// DragMove moves the drag anchor to pos and every other dragged entity by
// the same delta from its own start position.
func (o *Orchestrator) DragMove(id string, pos model.Point) error {
	o.mu.Lock()
	d := o.drag
	if d == nil || d.anchor != id {
		o.mu.Unlock()
		return apperr.Validation("id", "no drag in progress for "+id)
	}
	delta := pos.Sub(d.start)
	starts := make(map[string]model.Point, len(d.ids))
	for _, eid := range d.ids {
		if s, ok := o.gestures[eid]; ok {
			starts[eid] = s.Position
		}
	}
	ids := append([]string(nil), d.ids...)
	o.mu.Unlock()

	for _, eid := range ids {
		start, ok := starts[eid]
		if !ok {
			continue
		}
		next := start.Add(delta.X, delta.Y)
		if err := o.frame(eid, model.Patch{Position: &next}); err != nil {
			// removed by a peer mid-drag; the others keep moving
			o.log.Debug("drag frame skipped", zap.String("entity", eid), zap.Error(err))
		}
	}
	return nil
}

// FinishDrag ends the current drag. Each moved entity gets its own history
// entry so undo can restore them individually.
func (o *Orchestrator) FinishDrag(_ context.Context) error {
	o.mu.Lock()
	d := o.drag
	o.drag = nil
	o.mu.Unlock()
	if d == nil {
		return nil
	}
	for _, id := range d.ids {
		o.end(id)
	}
	return nil
}

// releaseGestures ends every open gesture, used on close.
func (o *Orchestrator) releaseGestures(ctx context.Context) {
	_ = o.FinishDrag(ctx)
	o.mu.Lock()
	ids := make([]string, 0, len(o.gestures))
	for id := range o.gestures {
		ids = append(ids, id)
	}
	o.mu.Unlock()
	for _, id := range ids {
		o.end(id)
	}
}
