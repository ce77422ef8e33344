package durable

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NotifyChannel is the PostgreSQL LISTEN/NOTIFY channel carrying board ids.
const NotifyChannel = "canvas_board_changes"

// PGNotifier publishes board changes with pg_notify and fans incoming
// notifications out to local listeners, so relay instances sharing one
// database wake each other's subscribers.
type PGNotifier struct {
	*LocalNotifier
	db       *gorm.DB
	listener *pq.Listener
	log      *zap.Logger
}

// NewPGNotifier opens a dedicated LISTEN connection on dsn.
func NewPGNotifier(db *gorm.DB, dsn string, log *zap.Logger) (*PGNotifier, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("pg-notifier")

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn("listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := listener.Listen(NotifyChannel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}

	return &PGNotifier{
		LocalNotifier: NewLocalNotifier(),
		db:            db,
		listener:      listener,
		log:           log,
	}, nil
}

// Notify sends the board id through PostgreSQL. Local listeners are woken when
// the notification comes back through Run, like every other instance.
func (n *PGNotifier) Notify(ctx context.Context, board string) error {
	return n.db.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", NotifyChannel, board).Error
}

// Run dispatches notifications until ctx is done, then closes the listener.
func (n *PGNotifier) Run(ctx context.Context) error {
	defer n.listener.Close()

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case note := <-n.listener.Notify:
			if note == nil {
				// reconnected; anything sent meanwhile is lost
				n.log.Info("listener reconnected, reloading all boards")
				n.NotifyAll()
				continue
			}
			n.dispatch(note.Extra)
		case <-ping.C:
			if err := n.listener.Ping(); err != nil {
				n.log.Warn("listener ping failed", zap.Error(err))
			}
		}
	}
}
