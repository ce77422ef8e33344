// Package objectstore holds the canonical in-memory entities and layers of
// one open board. It is the single source of truth for rendering; it is
// mutated only by the sync orchestrator and by incoming channel callbacks.
package objectstore

import (
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"realtime-canvas/internal/apperr"
	"realtime-canvas/internal/model"
)

type slot struct {
	entity model.Entity
	seq    uint64 // insertion order, breaks ties between equal orders
}

// Store 보드 단위 객체 저장소
type Store struct {
	mu        sync.RWMutex
	entities  map[string]*slot
	layers    map[string]model.Layer
	seq       uint64
	lastOrder float64
	clock     clock.Clock

	obsMu     sync.Mutex
	observers map[int]func()
	nextObs   int
}

// New creates a store holding only the default layer.
func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	s := &Store{
		entities:  make(map[string]*slot),
		layers:    make(map[string]model.Layer),
		clock:     clk,
		observers: make(map[int]func()),
	}
	s.layers[model.DefaultLayerID] = model.NewDefaultLayer(clk.Now())
	return s
}

// OnChange registers fn to run after every mutation. The returned func unregisters it.
func (s *Store) OnChange(fn func()) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.observers, id)
	}
}

func (s *Store) notify() {
	s.obsMu.Lock()
	fns := make([]func(), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// =============================================================================
// Entities
// =============================================================================

// Get returns a copy of the entity.
func (s *Store) Get(id string) (model.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.entities[id]
	if !ok {
		return model.Entity{}, false
	}
	return sl.entity, true
}

// Has reports whether the entity exists.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entities[id]
	return ok
}

// Len returns the number of entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// List returns all entities back to front.
func (s *Store) List() []model.Entity {
	s.mu.RLock()
	slots := make([]*slot, 0, len(s.entities))
	for _, sl := range s.entities {
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].entity.Order != slots[j].entity.Order {
			return slots[i].entity.Order < slots[j].entity.Order
		}
		return slots[i].seq < slots[j].seq
	})

	out := make([]model.Entity, len(slots))
	for i, sl := range slots {
		out[i] = sl.entity
	}
	return out
}

// Map returns a copy of the entities keyed by id.
func (s *Store) Map() map[string]model.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.Entity, len(s.entities))
	for id, sl := range s.entities {
		out[id] = sl.entity
	}
	return out
}

// Put inserts or replaces an entity. A replaced entity keeps its insertion slot.
func (s *Store) Put(e model.Entity) {
	s.mu.Lock()
	s.putLocked(e)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) putLocked(e model.Entity) {
	if sl, ok := s.entities[e.ID]; ok {
		sl.entity = e
	} else {
		s.seq++
		s.entities[e.ID] = &slot{entity: e, seq: s.seq}
	}
	if e.Order > s.lastOrder {
		s.lastOrder = e.Order
	}
}

// Apply writes p onto the entity and returns the result.
func (s *Store) Apply(id string, p model.Patch) (model.Entity, error) {
	s.mu.Lock()
	sl, ok := s.entities[id]
	if !ok {
		s.mu.Unlock()
		return model.Entity{}, apperr.StaleEntity(id)
	}
	p.ApplyTo(&sl.entity)
	sl.entity.UpdatedAt = s.clock.Now()
	if sl.entity.Order > s.lastOrder {
		s.lastOrder = sl.entity.Order
	}
	e := sl.entity
	s.mu.Unlock()
	s.notify()
	return e, nil
}

// Remove deletes the entity and returns what was removed.
func (s *Store) Remove(id string) (model.Entity, bool) {
	s.mu.Lock()
	sl, ok := s.entities[id]
	if ok {
		delete(s.entities, id)
	}
	s.mu.Unlock()
	if !ok {
		return model.Entity{}, false
	}
	s.notify()
	return sl.entity, true
}

// SetTransformingBy sets or clears (empty user) the advisory transform lock.
func (s *Store) SetTransformingBy(id, userID string) bool {
	s.mu.Lock()
	sl, ok := s.entities[id]
	if ok {
		sl.entity.TransformingBy = userID
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return ok
}

// ReplaceAll reconciles the store with an authoritative snapshot: the
// snapshot wins for every entity unless keep(id) is true, in which case the
// local version survives. Local transform locks are carried over.
func (s *Store) ReplaceAll(entities []model.Entity, layers []model.Layer, keep func(id string) bool) {
	s.mu.Lock()
	incoming := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		incoming[e.ID] = struct{}{}
		if keep != nil && keep(e.ID) {
			if _, ok := s.entities[e.ID]; ok {
				continue
			}
		}
		if sl, ok := s.entities[e.ID]; ok {
			e.TransformingBy = sl.entity.TransformingBy
		}
		s.putLocked(e)
	}
	for id := range s.entities {
		if _, ok := incoming[id]; ok {
			continue
		}
		if keep != nil && keep(id) {
			continue
		}
		delete(s.entities, id)
	}

	if layers != nil {
		next := make(map[string]model.Layer, len(layers)+1)
		for _, l := range layers {
			next[l.ID] = l
		}
		if _, ok := next[model.DefaultLayerID]; !ok {
			next[model.DefaultLayerID] = s.layers[model.DefaultLayerID]
		}
		s.layers = next
	}
	s.mu.Unlock()
	s.notify()
}

// MaxOrder scans every entity for the highest order; 0 on an empty board.
func (s *Store) MaxOrder() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	first := true
	var highest float64
	for _, sl := range s.entities {
		if first || sl.entity.Order > highest {
			highest = sl.entity.Order
			first = false
		}
	}
	return highest
}

// MinOrder scans every entity for the lowest order; 0 on an empty board.
func (s *Store) MinOrder() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	first := true
	var lowest float64
	for _, sl := range s.entities {
		if first || sl.entity.Order < lowest {
			lowest = sl.entity.Order
			first = false
		}
	}
	return lowest
}

// NextOrder hands out a session-scoped, strictly increasing order above
// every order seen so far.
func (s *Store) NextOrder() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOrder++
	return s.lastOrder
}

// =============================================================================
// Layers
// =============================================================================

// Layers returns all layers, default first, then by creation time.
func (s *Store) Layers() []model.Layer {
	s.mu.RLock()
	out := make([]model.Layer, 0, len(s.layers))
	for _, l := range s.layers {
		out = append(out, l)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault() != out[j].IsDefault() {
			return out[i].IsDefault()
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Layer returns the layer with id.
func (s *Store) Layer(id string) (model.Layer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.layers[id]
	return l, ok
}

// ResolveLayer returns the entity's layer, falling back to the default layer.
func (s *Store) ResolveLayer(id string) model.Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.layers[id]; ok {
		return l
	}
	return s.layers[model.DefaultLayerID]
}

// PutLayer inserts or replaces a layer.
func (s *Store) PutLayer(l model.Layer) {
	s.mu.Lock()
	s.layers[l.ID] = l
	s.mu.Unlock()
	s.notify()
}

// ApplyLayer writes p onto a layer. Renaming the default layer is rejected.
func (s *Store) ApplyLayer(id string, p model.LayerPatch) (model.Layer, error) {
	s.mu.Lock()
	l, ok := s.layers[id]
	if !ok {
		s.mu.Unlock()
		return model.Layer{}, apperr.StaleLayer(id)
	}
	if l.IsDefault() && p.Name != nil && *p.Name != l.Name {
		s.mu.Unlock()
		return l, apperr.ErrDefaultLayer
	}
	p.ApplyTo(&l)
	l.UpdatedAt = s.clock.Now()
	s.layers[id] = l
	s.mu.Unlock()
	s.notify()
	return l, nil
}

// RemoveLayer deletes a non-default layer and moves its entities onto the
// default layer. It returns the ids of the reassigned entities.
func (s *Store) RemoveLayer(id string) ([]string, error) {
	if id == model.DefaultLayerID {
		return nil, apperr.ErrDefaultLayer
	}
	s.mu.Lock()
	if _, ok := s.layers[id]; !ok {
		s.mu.Unlock()
		return nil, apperr.StaleLayer(id)
	}
	delete(s.layers, id)
	now := s.clock.Now()
	moved := make([]string, 0)
	for eid, sl := range s.entities {
		if sl.entity.LayerID == id {
			sl.entity.LayerID = model.DefaultLayerID
			sl.entity.UpdatedAt = now
			moved = append(moved, eid)
		}
	}
	s.mu.Unlock()
	sort.Strings(moved)
	s.notify()
	return moved, nil
}

// EntitiesOnLayer lists the ids of entities assigned to a layer.
func (s *Store) EntitiesOnLayer(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for eid, sl := range s.entities {
		if sl.entity.LayerID == id {
			ids = append(ids, eid)
		}
	}
	sort.Strings(ids)
	return ids
}
