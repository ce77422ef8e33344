// Package durable is the authoritative side of board sync: entity and layer
// persistence keyed by (board, id), plus a live subscription that delivers a
// full snapshot of the board after every change.
package durable

import (
	"context"
	"errors"
	"sort"

	"realtime-canvas/internal/model"
)

// ErrNotFound is wrapped in a PersistenceError when a write targets a missing row.
var ErrNotFound = errors.New("durable: not found")

// Snapshot is the full persisted state of one board.
type Snapshot struct {
	Entities []model.Entity `json:"entities"`
	Layers   []model.Layer  `json:"layers"`
}

// Store persists boards. Every write wakes the board's subscribers, which then
// receive a fresh Snapshot (including the writer's own subscription).
//
// Failed writes return a *apperr.PersistenceError.
type Store interface {
	Load(ctx context.Context, board string) (Snapshot, error)
	Subscribe(ctx context.Context, board string, fn func(Snapshot)) (cancel func(), err error)

	CreateEntity(ctx context.Context, board string, e model.Entity) (model.Entity, error)
	UpdateEntity(ctx context.Context, board, id string, p model.Patch) error
	DeleteEntity(ctx context.Context, board, id string) error

	CreateLayer(ctx context.Context, board string, l model.Layer) (model.Layer, error)
	UpdateLayer(ctx context.Context, board, id string, p model.LayerPatch) error
	// DeleteLayer removes a non-default layer and moves its entities to the
	// default layer in the same write.
	DeleteLayer(ctx context.Context, board, id string) error
}

func sortSnapshot(s *Snapshot) {
	sort.SliceStable(s.Entities, func(i, j int) bool {
		a, b := s.Entities[i], s.Entities[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	sort.SliceStable(s.Layers, func(i, j int) bool {
		a, b := s.Layers[i], s.Layers[j]
		if a.IsDefault() != b.IsDefault() {
			return a.IsDefault()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
