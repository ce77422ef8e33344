package durable

import (
	"context"

	"go.uber.org/zap"
)

type loader func(ctx context.Context, board string) (Snapshot, error)

// watch runs a subscription loop: load and deliver once, then again after
// every notification. Notifications that arrive while a load is running
// collapse into one reload, so a slow subscriber only ever sees the latest state.
func watch(ctx context.Context, n Notifier, board string, load loader, fn func(Snapshot), log *zap.Logger) func() {
	ctx, cancel := context.WithCancel(ctx)
	wake := make(chan struct{}, 1)
	wake <- struct{}{}
	stopListen := n.Listen(board, func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-wake:
			}
			snap, err := load(ctx, board)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("snapshot reload failed", zap.String("board", board), zap.Error(err))
				}
				continue
			}
			if ctx.Err() != nil {
				return
			}
			fn(snap)
		}
	}()

	return func() {
		stopListen()
		cancel()
		<-done
	}
}
