package boardsync

import (
	"realtime-canvas/internal/layergate"
	"realtime-canvas/internal/model"
)

// Select replaces the selection with the selectable entities among ids.
func (o *Orchestrator) Select(ids ...string) {
	keep := make([]string, 0, len(ids))
	for _, id := range ids {
		if e, ok := o.objects.Get(id); ok && o.selectable(e) {
			keep = append(keep, id)
		}
	}
	o.sel.Replace(keep...)
}

// ToggleSelect adds or removes id, the shift-click gesture.
func (o *Orchestrator) ToggleSelect(id string) {
	if o.sel.Contains(id) {
		o.sel.Remove(id)
		return
	}
	if e, ok := o.objects.Get(id); ok && o.selectable(e) {
		o.sel.Add(id)
	}
}

// SelectMarquee selects every selectable entity whose bounds intersect area.
func (o *Orchestrator) SelectMarquee(area layergate.Rect) []string {
	ids := layergate.Marquee(o.objects.List(), func(layerID string) *model.Layer {
		l := o.objects.ResolveLayer(layerID)
		return &l
	}, area)
	o.sel.Replace(ids...)
	return ids
}

// ClearSelection empties the selection.
func (o *Orchestrator) ClearSelection() {
	o.sel.Clear()
}

// pruneSelection drops ids that were deleted or became unselectable.
func (o *Orchestrator) pruneSelection() {
	o.sel.Prune(func(id string) bool {
		e, ok := o.objects.Get(id)
		return ok && o.selectable(e)
	})
}
