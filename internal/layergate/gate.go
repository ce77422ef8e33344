// Package layergate derives selectability and editability of an entity from
// its own flags and the flags of its layer. Everything here is pure.
package layergate

import (
	"realtime-canvas/internal/model"
)

// IsSelectable is false when either the entity or its layer is hidden.
// A nil layer imposes no restriction.
func IsSelectable(e model.Entity, layer *model.Layer) bool {
	if !e.Visible {
		return false
	}
	return layer == nil || layer.Visible
}

// IsEditable is false when either the entity or its layer is locked.
// A locked entity stays selectable so it can be inspected.
func IsEditable(e model.Entity, layer *model.Layer) bool {
	if e.Locked {
		return false
	}
	return layer == nil || !layer.Locked
}

// Rect is an axis-aligned rectangle in canvas coordinates.
type Rect struct {
	MinX, MinY, MaxX, MaxY float64
}

// RectFromPoints normalizes two drag corners into a Rect.
func RectFromPoints(a, b model.Point) Rect {
	r := Rect{MinX: a.X, MinY: a.Y, MaxX: b.X, MaxY: b.Y}
	if r.MinX > r.MaxX {
		r.MinX, r.MaxX = r.MaxX, r.MinX
	}
	if r.MinY > r.MaxY {
		r.MinY, r.MaxY = r.MaxY, r.MinY
	}
	return r
}

// Bounds returns the axis-aligned box of the unrotated entity.
func Bounds(e model.Entity) Rect {
	return Rect{
		MinX: e.Position.X,
		MinY: e.Position.Y,
		MaxX: e.Position.X + e.Width,
		MaxY: e.Position.Y + e.Height,
	}
}

// Intersects reports whether r and o overlap, touching edges included.
func (r Rect) Intersects(o Rect) bool {
	return r.MinX <= o.MaxX && o.MinX <= r.MaxX && r.MinY <= o.MaxY && o.MinY <= r.MaxY
}

// Marquee returns the ids of entities hit by a box selection. Entities that
// fail IsSelectable are excluded before any geometry is tested.
func Marquee(entities []model.Entity, layerOf func(layerID string) *model.Layer, area Rect) []string {
	ids := make([]string, 0)
	for _, e := range entities {
		if !IsSelectable(e, layerOf(e.LayerID)) {
			continue
		}
		if Bounds(e).Intersects(area) {
			ids = append(ids, e.ID)
		}
	}
	return ids
}
