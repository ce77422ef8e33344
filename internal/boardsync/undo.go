package boardsync

import (
	"context"

	"realtime-canvas/internal/apperr"
	"realtime-canvas/internal/history"
	"realtime-canvas/internal/model"
)

// Undo reverts this user's latest action. It reports whether anything was
// undone; failures leave the action on the stack for a retry.
func (o *Orchestrator) Undo(ctx context.Context) bool {
	if o.isClosed() {
		return false
	}
	_, ok := o.hist.Undo(ctx, o.user.ID, o.applyStep)
	return ok
}

// Redo re-applies this user's latest undone action.
func (o *Orchestrator) Redo(ctx context.Context) bool {
	if o.isClosed() {
		return false
	}
	_, ok := o.hist.Redo(ctx, o.user.ID, o.applyStep)
	return ok
}

// applyStep runs a replay through the unrecorded mutation primitives so the
// stacks are not touched by their own replays.
func (o *Orchestrator) applyStep(ctx context.Context, s history.Step) error {
	switch s.Kind {
	case history.StepRecreate:
		e := model.EntityFromPatch(s.ObjectID, s.Patch)
		now := o.clock.Now()
		e.CreatedBy = o.user.ID
		e.CreatedAt = now
		e.UpdatedAt = now
		if _, ok := o.objects.Layer(e.LayerID); !ok {
			e.LayerID = model.DefaultLayerID
		}
		_, err := o.insert(ctx, e, false, model.ActionCreate)
		return err
	case history.StepRemove:
		return o.remove(ctx, s.ObjectID)
	case history.StepPatch:
		if !o.objects.Has(s.ObjectID) {
			return apperr.StaleEntity(s.ObjectID)
		}
		return o.patch(s.ObjectID, s.Patch)
	}
	return nil
}
