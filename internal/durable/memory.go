package durable

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"realtime-canvas/internal/apperr"
	"realtime-canvas/internal/model"
)

// MemoryStore keeps boards in process memory. Used by tests and single-process
// demos; subscribers are woken through a LocalNotifier.
type MemoryStore struct {
	clock    clock.Clock
	log      *zap.Logger
	notifier *LocalNotifier

	mu       sync.Mutex
	boards   map[string]*memoryBoard
	failNext error
	writes   int
}

type memoryBoard struct {
	entities map[string]model.Entity
	layers   map[string]model.Layer
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(clk clock.Clock, log *zap.Logger) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryStore{
		clock:    clk,
		log:      log.Named("memory-store"),
		notifier: NewLocalNotifier(),
		boards:   make(map[string]*memoryBoard),
	}
}

// FailNext makes the next write return err wrapped in a PersistenceError.
func (s *MemoryStore) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// Writes counts successful writes.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *MemoryStore) boardLocked(board string) *memoryBoard {
	b, ok := s.boards[board]
	if !ok {
		b = &memoryBoard{
			entities: make(map[string]model.Entity),
			layers:   map[string]model.Layer{model.DefaultLayerID: model.NewDefaultLayer(s.clock.Now())},
		}
		s.boards[board] = b
	}
	return b
}

// write runs fn under the lock, then wakes subscribers if it succeeded.
func (s *MemoryStore) write(ctx context.Context, board, op, id string, fn func(b *memoryBoard) error) error {
	s.mu.Lock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		s.mu.Unlock()
		return apperr.Persistence(op, id, err)
	}
	if err := fn(s.boardLocked(board)); err != nil {
		s.mu.Unlock()
		return apperr.Persistence(op, id, err)
	}
	s.writes++
	s.mu.Unlock()

	return apperr.Persistence(op, id, s.notifier.Notify(ctx, board))
}

func (s *MemoryStore) Load(_ context.Context, board string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.boardLocked(board)
	snap := Snapshot{
		Entities: make([]model.Entity, 0, len(b.entities)),
		Layers:   make([]model.Layer, 0, len(b.layers)),
	}
	for _, e := range b.entities {
		snap.Entities = append(snap.Entities, e)
	}
	for _, l := range b.layers {
		snap.Layers = append(snap.Layers, l)
	}
	sortSnapshot(&snap)
	return snap, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, board string, fn func(Snapshot)) (func(), error) {
	return watch(ctx, s.notifier, board, s.Load, fn, s.log), nil
}

func (s *MemoryStore) CreateEntity(ctx context.Context, board string, e model.Entity) (model.Entity, error) {
	e.TransformingBy = ""
	err := s.write(ctx, board, "create entity", e.ID, func(b *memoryBoard) error {
		b.entities[e.ID] = e
		return nil
	})
	if err != nil {
		return model.Entity{}, err
	}
	return e, nil
}

func (s *MemoryStore) UpdateEntity(ctx context.Context, board, id string, p model.Patch) error {
	return s.write(ctx, board, "update entity", id, func(b *memoryBoard) error {
		e, ok := b.entities[id]
		if !ok {
			return ErrNotFound
		}
		p.ApplyTo(&e)
		e.UpdatedAt = s.clock.Now()
		b.entities[id] = e
		return nil
	})
}

func (s *MemoryStore) DeleteEntity(ctx context.Context, board, id string) error {
	return s.write(ctx, board, "delete entity", id, func(b *memoryBoard) error {
		delete(b.entities, id)
		return nil
	})
}

func (s *MemoryStore) CreateLayer(ctx context.Context, board string, l model.Layer) (model.Layer, error) {
	err := s.write(ctx, board, "create layer", l.ID, func(b *memoryBoard) error {
		b.layers[l.ID] = l
		return nil
	})
	if err != nil {
		return model.Layer{}, err
	}
	return l, nil
}

func (s *MemoryStore) UpdateLayer(ctx context.Context, board, id string, p model.LayerPatch) error {
	return s.write(ctx, board, "update layer", id, func(b *memoryBoard) error {
		if id == model.DefaultLayerID && p.Name != nil {
			return apperr.ErrDefaultLayer
		}
		l, ok := b.layers[id]
		if !ok {
			return ErrNotFound
		}
		p.ApplyTo(&l)
		l.UpdatedAt = s.clock.Now()
		b.layers[id] = l
		return nil
	})
}

func (s *MemoryStore) DeleteLayer(ctx context.Context, board, id string) error {
	return s.write(ctx, board, "delete layer", id, func(b *memoryBoard) error {
		if id == model.DefaultLayerID {
			return apperr.ErrDefaultLayer
		}
		now := s.clock.Now()
		for eid, e := range b.entities {
			if e.LayerID == id {
				e.LayerID = model.DefaultLayerID
				e.UpdatedAt = now
				b.entities[eid] = e
			}
		}
		delete(b.layers, id)
		return nil
	})
}
