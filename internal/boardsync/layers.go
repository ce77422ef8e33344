package boardsync

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"realtime-canvas/internal/apperr"
	"realtime-canvas/internal/model"
)

// CreateLayer adds a visible, unlocked layer. An empty name becomes "Layer n".
func (o *Orchestrator) CreateLayer(ctx context.Context, name string) (model.Layer, error) {
	if o.isClosed() {
		return model.Layer{}, errClosed
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = LayerName(o.objects.Layers())
	}
	now := o.clock.Now()
	l := model.Layer{
		ID:        o.newID(),
		Name:      name,
		Visible:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	stored, err := o.store.CreateLayer(ctx, o.board, l)
	if err != nil {
		o.log.Error("create layer failed", zap.String("layer", l.ID), zap.Error(err))
		return model.Layer{}, err
	}
	o.objects.PutLayer(stored)
	return stored, nil
}

func (o *Orchestrator) updateLayer(ctx context.Context, id string, p model.LayerPatch) error {
	if o.isClosed() {
		return errClosed
	}
	if _, err := o.objects.ApplyLayer(id, p); err != nil {
		if apperr.IsStale(err) {
			o.log.Warn("update of missing layer", zap.String("layer", id))
		}
		return err
	}
	if p.Visible != nil && !*p.Visible {
		o.pruneSelection()
	}
	if err := o.store.UpdateLayer(ctx, o.board, id, p); err != nil {
		o.log.Error("update layer failed", zap.String("layer", id), zap.Error(err))
		return err
	}
	return nil
}

// RenameLayer renames a user layer. The default layer keeps its name.
func (o *Orchestrator) RenameLayer(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.Validation("name", "is required")
	}
	if id == model.DefaultLayerID {
		return apperr.ErrDefaultLayer
	}
	return o.updateLayer(ctx, id, model.LayerPatch{Name: &name})
}

// SetLayerVisible shows or hides a layer. Hidden entities leave the selection.
func (o *Orchestrator) SetLayerVisible(ctx context.Context, id string, visible bool) error {
	return o.updateLayer(ctx, id, model.LayerPatch{Visible: &visible})
}

// SetLayerLocked locks or unlocks every entity on a layer for editing.
func (o *Orchestrator) SetLayerLocked(ctx context.Context, id string, locked bool) error {
	return o.updateLayer(ctx, id, model.LayerPatch{Locked: &locked})
}

// DeleteLayer removes a user layer; its entities move to the default layer.
func (o *Orchestrator) DeleteLayer(ctx context.Context, id string) error {
	if o.isClosed() {
		return errClosed
	}
	moved, err := o.objects.RemoveLayer(id)
	if err != nil {
		return err
	}
	for _, eid := range moved {
		// queued edits still go out, but not back onto the deleted layer
		o.writes.Rewrite(eid, func(p model.Patch) model.Patch {
			if p.LayerID != nil && *p.LayerID == id {
				p.LayerID = model.Ptr(model.DefaultLayerID)
			}
			return p
		})
	}
	if err := o.store.DeleteLayer(ctx, o.board, id); err != nil {
		o.log.Error("delete layer failed", zap.String("layer", id), zap.Error(err))
		return err
	}
	o.log.Info("layer deleted", zap.String("layer", id), zap.Int("reassigned", len(moved)))
	return nil
}
