package boardsync

import (
	"go.uber.org/zap"

	"realtime-canvas/internal/durable"
	"realtime-canvas/internal/ephemeral"
	"realtime-canvas/internal/model"
)

// HandleSnapshot reconciles the object store with an authoritative durable
// snapshot. The snapshot wins field by field, except for entities this client
// is transforming or still has an unsent write for; those keep their local
// state until the next snapshot. A snapshot taken before a local create or
// delete landed neither drops the new entity nor resurrects the deleted one.
func (o *Orchestrator) HandleSnapshot(snap durable.Snapshot) {
	o.mu.Lock()
	for _, e := range snap.Entities {
		delete(o.unseen, e.ID)
	}
	unseen := make(map[string]struct{}, len(o.unseen))
	for id := range o.unseen {
		unseen[id] = struct{}{}
	}
	deleting := make(map[string]struct{}, len(o.deleting))
	for id := range o.deleting {
		deleting[id] = struct{}{}
	}
	o.mu.Unlock()

	entities := snap.Entities
	if len(deleting) > 0 {
		entities = make([]model.Entity, 0, len(snap.Entities))
		for _, e := range snap.Entities {
			if _, ok := deleting[e.ID]; !ok {
				entities = append(entities, e)
			}
		}
	}

	o.objects.ReplaceAll(entities, snap.Layers, func(id string) bool {
		if _, ok := unseen[id]; ok {
			return true
		}
		return o.inGesture(id) || o.writes.Pending(id)
	})
	o.applyHeldLocks()
	o.pruneSelection()
}

// holdLock remembers a peer lock on an entity this client has not loaded yet.
func (o *Orchestrator) holdLock(id, userID string) {
	o.mu.Lock()
	if userID == "" {
		delete(o.locks, id)
	} else {
		o.locks[id] = userID
	}
	o.mu.Unlock()
}

// applyHeldLocks moves held peer locks onto entities that have arrived.
func (o *Orchestrator) applyHeldLocks() {
	o.mu.Lock()
	if len(o.locks) == 0 {
		o.mu.Unlock()
		return
	}
	held := make(map[string]string, len(o.locks))
	for id, u := range o.locks {
		held[id] = u
	}
	o.mu.Unlock()

	for id, u := range held {
		if o.objects.SetTransformingBy(id, u) {
			o.mu.Lock()
			if o.locks[id] == u {
				delete(o.locks, id)
			}
			o.mu.Unlock()
		}
	}
}

// setPeerLock applies a peer lock now, or holds it until the entity arrives.
func (o *Orchestrator) setPeerLock(id, userID string) {
	if o.objects.SetTransformingBy(id, userID) {
		return
	}
	o.holdLock(id, userID)
}

// staleReplay reports whether a replayed delta predates the entity's last
// durable write. Locks are never stale: the publisher removes the path when
// the lock ends.
func (o *Orchestrator) staleReplay(m ephemeral.Message) bool {
	if m.Removed {
		return false
	}
	var d ephemeral.Delta
	if err := ephemeral.Decode(m, &d); err != nil || d.Kind == ephemeral.DeltaLock {
		return false
	}
	e, ok := o.objects.Get(d.EntityID)
	if !ok {
		return false
	}
	if d.Timestamp.Before(e.UpdatedAt) {
		o.log.Debug("stale delta skipped", zap.String("path", m.Path), zap.String("kind", string(d.Kind)))
		return true
	}
	return false
}

// HandleDelta applies a peer's ephemeral delta. Own frames are ignored. A
// removed delta path means the publisher went away, which releases its lock.
func (o *Orchestrator) HandleDelta(m ephemeral.Message) {
	pp, err := ephemeral.ParsePath(m.Path)
	if err != nil || pp.Kind != ephemeral.KindDelta || pp.Board != o.board {
		return
	}
	id := pp.Key

	if m.Removed {
		o.holdLock(id, "")
		if e, ok := o.objects.Get(id); ok && o.lockedByOther(e) {
			o.objects.SetTransformingBy(id, "")
		}
		return
	}

	var d ephemeral.Delta
	if err := ephemeral.Decode(m, &d); err != nil {
		o.log.Warn("bad delta", zap.String("path", m.Path), zap.Error(err))
		return
	}
	if d.Origin == o.origin {
		return
	}

	switch d.Kind {
	case ephemeral.DeltaLock:
		o.setPeerLock(id, d.UserID)
	case ephemeral.DeltaTransform:
		// frames only flow while the sender holds the lock
		if e, ok := o.objects.Get(id); !ok || e.TransformingBy == "" {
			o.setPeerLock(id, d.UserID)
		}
		o.applyRemoteGeometry(id, d.Patch)
	case ephemeral.DeltaUnlock:
		o.holdLock(id, "")
		o.applyRemoteGeometry(id, d.Patch)
		if e, ok := o.objects.Get(id); ok && e.TransformingBy == d.UserID {
			o.objects.SetTransformingBy(id, "")
		}
	case ephemeral.DeltaTombstone:
		o.holdLock(id, "")
		if _, ok := o.objects.Remove(id); ok {
			o.writes.Cancel(id)
			o.mu.Lock()
			delete(o.gestures, id)
			delete(o.unseen, id)
			o.mu.Unlock()
			o.sel.Remove(id)
		}
	default:
		o.log.Debug("unknown delta kind", zap.String("kind", string(d.Kind)))
	}
}

func (o *Orchestrator) applyRemoteGeometry(id string, p *model.Patch) {
	if p == nil || o.inGesture(id) || !o.objects.Has(id) {
		return
	}
	g := model.ClampDimensions(model.Patch{
		Position: p.Position,
		Width:    p.Width,
		Height:   p.Height,
		Rotation: p.Rotation,
	})
	if _, err := o.objects.Apply(id, g); err != nil {
		o.log.Debug("remote frame for missing entity", zap.String("entity", id))
	}
}
