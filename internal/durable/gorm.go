package durable

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"realtime-canvas/internal/apperr"
	"realtime-canvas/internal/metrics"
	"realtime-canvas/internal/model"
)

// GormStore persists boards in the canvas_entities and canvas_layers tables.
// After each successful write it calls Notifier.Notify so every subscriber,
// on this instance or another, reloads the board.
type GormStore struct {
	db       *gorm.DB
	notifier Notifier
	clock    clock.Clock
	log      *zap.Logger
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB, n Notifier, clk clock.Clock, log *zap.Logger) *GormStore {
	if n == nil {
		n = NewLocalNotifier()
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GormStore{db: db, notifier: n, clock: clk, log: log.Named("gorm-store")}
}

func (s *GormStore) finish(ctx context.Context, board, op, id string, start time.Time, err error) error {
	metrics.ObserveDurable(op, start, err)
	if err != nil {
		s.log.Error("durable write failed",
			zap.String("board", board), zap.String("op", op), zap.String("id", id), zap.Error(err))
		return apperr.Persistence(op, id, err)
	}
	if nerr := s.notifier.Notify(ctx, board); nerr != nil {
		s.log.Warn("change notification failed", zap.String("board", board), zap.Error(nerr))
	}
	return nil
}

// Load returns the board, creating its default layer on first access.
func (s *GormStore) Load(ctx context.Context, board string) (Snapshot, error) {
	db := s.db.WithContext(ctx)

	def := model.NewLayerRecord(board, model.NewDefaultLayer(s.clock.Now()))
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&def).Error; err != nil {
		return Snapshot{}, apperr.Persistence("load", board, err)
	}

	var entities []model.EntityRecord
	if err := db.Where("board_id = ?", board).Order("sort_order, created_at, id").Find(&entities).Error; err != nil {
		return Snapshot{}, apperr.Persistence("load", board, err)
	}
	var layers []model.LayerRecord
	if err := db.Where("board_id = ?", board).Order("created_at, id").Find(&layers).Error; err != nil {
		return Snapshot{}, apperr.Persistence("load", board, err)
	}

	snap := Snapshot{
		Entities: make([]model.Entity, len(entities)),
		Layers:   make([]model.Layer, len(layers)),
	}
	for i, r := range entities {
		snap.Entities[i] = r.Entity()
	}
	for i, r := range layers {
		snap.Layers[i] = r.Layer()
	}
	sortSnapshot(&snap)
	return snap, nil
}

func (s *GormStore) Subscribe(ctx context.Context, board string, fn func(Snapshot)) (func(), error) {
	return watch(ctx, s.notifier, board, s.Load, fn, s.log), nil
}

// CreateEntity upserts, so recreating a deleted id (undo of a delete) works.
func (s *GormStore) CreateEntity(ctx context.Context, board string, e model.Entity) (model.Entity, error) {
	start := time.Now()
	rec := model.NewEntityRecord(board, e)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err := s.finish(ctx, board, "create entity", e.ID, start, err); err != nil {
		return model.Entity{}, err
	}
	return rec.Entity(), nil
}

func (s *GormStore) UpdateEntity(ctx context.Context, board, id string, p model.Patch) error {
	start := time.Now()
	cols := model.PatchColumns(p)
	if len(cols) == 0 {
		return nil
	}
	cols["updated_at"] = s.clock.Now()

	res := s.db.WithContext(ctx).Model(&model.EntityRecord{}).
		Where("board_id = ? AND id = ?", board, id).
		Updates(cols)
	err := res.Error
	if err == nil && res.RowsAffected == 0 {
		err = ErrNotFound
	}
	return s.finish(ctx, board, "update entity", id, start, err)
}

func (s *GormStore) DeleteEntity(ctx context.Context, board, id string) error {
	start := time.Now()
	err := s.db.WithContext(ctx).
		Where("board_id = ? AND id = ?", board, id).
		Delete(&model.EntityRecord{}).Error
	return s.finish(ctx, board, "delete entity", id, start, err)
}

func (s *GormStore) CreateLayer(ctx context.Context, board string, l model.Layer) (model.Layer, error) {
	start := time.Now()
	rec := model.NewLayerRecord(board, l)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err := s.finish(ctx, board, "create layer", l.ID, start, err); err != nil {
		return model.Layer{}, err
	}
	return rec.Layer(), nil
}

func (s *GormStore) UpdateLayer(ctx context.Context, board, id string, p model.LayerPatch) error {
	if id == model.DefaultLayerID && p.Name != nil {
		return apperr.Persistence("update layer", id, apperr.ErrDefaultLayer)
	}
	start := time.Now()
	cols := model.LayerPatchColumns(p)
	if len(cols) == 0 {
		return nil
	}
	cols["updated_at"] = s.clock.Now()

	res := s.db.WithContext(ctx).Model(&model.LayerRecord{}).
		Where("board_id = ? AND id = ?", board, id).
		Updates(cols)
	err := res.Error
	if err == nil && res.RowsAffected == 0 {
		err = ErrNotFound
	}
	return s.finish(ctx, board, "update layer", id, start, err)
}

func (s *GormStore) DeleteLayer(ctx context.Context, board, id string) error {
	if id == model.DefaultLayerID {
		return apperr.Persistence("delete layer", id, apperr.ErrDefaultLayer)
	}
	start := time.Now()
	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.EntityRecord{}).
			Where("board_id = ? AND layer_id = ?", board, id).
			Updates(map[string]any{"layer_id": model.DefaultLayerID, "updated_at": now}).Error; err != nil {
			return err
		}
		return tx.Where("board_id = ? AND id = ?", board, id).Delete(&model.LayerRecord{}).Error
	})
	return s.finish(ctx, board, "delete layer", id, start, err)
}
