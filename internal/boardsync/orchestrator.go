// Package boardsync is the synchronization orchestrator of one open board.
//
// Every user gesture is applied optimistically to the object store first.
// Transform frames go to the ephemeral channel through a per-entity 16 ms
// throttle; field edits go to the durable store through a per-entity 300 ms
// debounce. The durable subscription later re-delivers the full board and
// overwrites local state field by field (last write wins), except for
// entities this client is still dragging or has unsaved edits for.
package boardsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"realtime-canvas/internal/durable"
	"realtime-canvas/internal/ephemeral"
	"realtime-canvas/internal/history"
	"realtime-canvas/internal/layergate"
	"realtime-canvas/internal/metrics"
	"realtime-canvas/internal/model"
	"realtime-canvas/internal/objectstore"
	"realtime-canvas/internal/selection"
	"realtime-canvas/internal/throttle"
)

const (
	// DuplicateOffset is added to both coordinates of a duplicated entity.
	DuplicateOffset = 20.0
	// LockedOpacityFactor dims entities another user is transforming.
	LockedOpacityFactor = 0.5

	publishTimeout = 2 * time.Second
)

// Deps are the collaborators of an Orchestrator. Objects, Selection and
// History are created when nil.
type Deps struct {
	Board     string
	User      model.User
	Objects   *objectstore.Store
	Selection *selection.Set
	History   *history.Engine
	Durable   durable.Store
	Ephemeral ephemeral.Channel
	Clock     clock.Clock
	Logger    *zap.Logger
	// NewID generates entity and layer ids. Defaults to uuid.NewString.
	NewID func() string

	ThrottleInterval time.Duration
	DebounceWindow   time.Duration
	HistoryDepth     int
}

// Orchestrator owns the mutation path of one board session.
type Orchestrator struct {
	board   string
	user    model.User
	origin  string
	objects *objectstore.Store
	sel     *selection.Set
	hist    *history.Engine
	store   durable.Store
	eph     ephemeral.Channel
	clock   clock.Clock
	log     *zap.Logger
	newID   func() string

	deltas *throttle.Throttler[ephemeral.Delta]
	writes *throttle.Debouncer[model.Patch]
	seq    atomic.Uint64

	mu        sync.Mutex
	gestures  map[string]model.Entity // start snapshot per entity in a local drag/transform
	drag      *dragState
	deleting  map[string]struct{}
	unseen    map[string]struct{} // created here, not yet in any snapshot
	locks     map[string]string   // peer locks on entities not loaded yet
	clipboard []model.Entity
	unsub     []func()
	closed    bool
}

type dragState struct {
	anchor string
	start  model.Point
	ids    []string
}

// New wires an orchestrator. Call Attach to load the board and start
// receiving remote changes.
func New(d Deps) *Orchestrator {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if d.Objects == nil {
		d.Objects = objectstore.New(d.Clock)
	}
	if d.Selection == nil {
		d.Selection = selection.New()
	}
	if d.History == nil {
		d.History = history.New(d.HistoryDepth, d.Clock, d.Logger)
	}

	o := &Orchestrator{
		board:    d.Board,
		user:     d.User,
		origin:   uuid.NewString(),
		objects:  d.Objects,
		sel:      d.Selection,
		hist:     d.History,
		store:    d.Durable,
		eph:      d.Ephemeral,
		clock:    d.Clock,
		log:      d.Logger.Named("sync").With(zap.String("board", d.Board), zap.String("user", d.User.ID)),
		newID:    d.NewID,
		gestures: make(map[string]model.Entity),
		deleting: make(map[string]struct{}),
		unseen:   make(map[string]struct{}),
		locks:    make(map[string]string),
	}
	o.deltas = throttle.New(d.Clock, d.ThrottleInterval, o.publishDelta,
		throttle.WithDropHandler[ephemeral.Delta](func(id string) {
			metrics.EphemeralDropped.WithLabelValues("queue_full").Inc()
			o.log.Warn("delta queue full, frame dropped", zap.String("entity", id))
		}))
	o.writes = throttle.NewDebouncer(d.Clock, d.DebounceWindow,
		func(prev, next model.Patch) model.Patch { return prev.Merge(next) },
		func(ctx context.Context, id string, p model.Patch) error {
			return o.store.UpdateEntity(ctx, o.board, id, p)
		},
		o.log)
	return o
}

// Attach loads the board snapshot with ctx, then subscribes to durable
// snapshots and ephemeral deltas for as long as subCtx lives. Deltas replayed
// by the subscription that are older than the loaded entity are skipped.
func (o *Orchestrator) Attach(ctx, subCtx context.Context) error {
	snap, err := o.store.Load(ctx, o.board)
	if err != nil {
		return err
	}
	o.HandleSnapshot(snap)

	cancel, err := o.store.Subscribe(subCtx, o.board, o.HandleSnapshot)
	if err != nil {
		return err
	}
	o.addUnsub(cancel)

	var live atomic.Bool
	sub, err := o.eph.Subscribe(subCtx, ephemeral.Prefix(ephemeral.KindDelta, o.board), func(m ephemeral.Message) {
		if !live.Load() && o.staleReplay(m) {
			return
		}
		o.HandleDelta(m)
	})
	live.Store(true)
	if err != nil {
		// deltas are an optimization; the durable stream still converges
		o.log.Warn("delta subscription failed", zap.Error(err))
		return nil
	}
	o.addUnsub(sub.Unsubscribe)
	return nil
}

func (o *Orchestrator) addUnsub(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unsub = append(o.unsub, fn)
}

// Close ends local gestures, flushes pending durable writes and stops
// receiving remote changes. It returns the flush errors.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	unsub := o.unsub
	o.unsub = nil
	o.mu.Unlock()

	o.releaseGestures(ctx)
	for _, fn := range unsub {
		fn()
	}
	err := o.writes.FlushAll(ctx)
	o.writes.Stop()
	o.deltas.Stop()
	return err
}

// Flush forces pending debounced writes and returns their persistence errors.
func (o *Orchestrator) Flush(ctx context.Context) error {
	return o.writes.FlushAll(ctx)
}

// =============================================================================
// Queries
// =============================================================================

func (o *Orchestrator) Board() string                       { return o.board }
func (o *Orchestrator) User() model.User                    { return o.user }
func (o *Orchestrator) Objects() []model.Entity             { return o.objects.List() }
func (o *Orchestrator) ObjectsMap() map[string]model.Entity { return o.objects.Map() }
func (o *Orchestrator) Layers() []model.Layer               { return o.objects.Layers() }
func (o *Orchestrator) SelectedIDs() []string               { return o.sel.IDs() }
func (o *Orchestrator) Store() *objectstore.Store           { return o.objects }
func (o *Orchestrator) CanUndo() bool                       { return o.hist.CanUndo(o.user.ID) }
func (o *Orchestrator) CanRedo() bool                       { return o.hist.CanRedo(o.user.ID) }

// LockedBy returns the user transforming id, or "".
func (o *Orchestrator) LockedBy(id string) string {
	e, _ := o.objects.Get(id)
	return e.TransformingBy
}

// RenderOpacity is the opacity id should be drawn with: dimmed while
// another user holds its transform lock.
func (o *Orchestrator) RenderOpacity(id string) float64 {
	e, ok := o.objects.Get(id)
	if !ok {
		return 0
	}
	if e.TransformingBy != "" && e.TransformingBy != o.user.ID {
		return e.Opacity * LockedOpacityFactor
	}
	return e.Opacity
}

// CanTransform reports whether this user may start a transform on id.
func (o *Orchestrator) CanTransform(id string) bool {
	e, ok := o.objects.Get(id)
	if !ok {
		return false
	}
	return o.editable(e) && !o.lockedByOther(e)
}

func (o *Orchestrator) editable(e model.Entity) bool {
	l := o.objects.ResolveLayer(e.LayerID)
	return layergate.IsEditable(e, &l)
}

func (o *Orchestrator) selectable(e model.Entity) bool {
	l := o.objects.ResolveLayer(e.LayerID)
	return layergate.IsSelectable(e, &l)
}

func (o *Orchestrator) lockedByOther(e model.Entity) bool {
	return e.TransformingBy != "" && e.TransformingBy != o.user.ID
}

// =============================================================================
// Ephemeral output
// =============================================================================

func (o *Orchestrator) delta(kind ephemeral.DeltaKind, id string, p *model.Patch) ephemeral.Delta {
	return ephemeral.Delta{
		Kind:      kind,
		EntityID:  id,
		UserID:    o.user.ID,
		Origin:    o.origin,
		Patch:     p,
		Seq:       o.seq.Add(1),
		Timestamp: o.clock.Now(),
	}
}

// publishDelta runs on the throttler goroutine. Failures are dropped.
// Unlock and tombstone frames end the entity's ephemeral state: once live
// subscribers have them the path is removed, so a later subscriber never
// replays them over a fresher durable snapshot.
func (o *Orchestrator) publishDelta(id string, d ephemeral.Delta) {
	path := ephemeral.DeltaPath(o.board, id)
	raw, err := ephemeral.Encode(d)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = o.eph.Publish(ctx, path, raw)
		if err == nil && d.Kind.Final() {
			err = o.eph.Remove(ctx, path)
		}
		cancel()
	}
	if err != nil {
		metrics.EphemeralDropped.WithLabelValues("publish").Inc()
		o.log.Warn("delta publish failed", zap.String("path", path), zap.Error(err))
	}
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

var errClosed = errors.New("boardsync: session closed")
