package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"realtime-canvas/internal/ephemeral"
	"realtime-canvas/internal/metrics"
)

const opTimeout = 5 * time.Second

var (
	ErrForbiddenPath = errors.New("path not allowed for this connection")
	ErrUnknownSub    = errors.New("unknown subscription")
	ErrDuplicateSub  = errors.New("subscription id already in use")
)

// Client is one relay connection.
type Client struct {
	ID    string
	Board string
	User  string

	hub  *Hub
	conn Conn
	ch   ephemeral.Channel
	log  *zap.Logger

	mu   sync.Mutex
	subs map[uint64]ephemeral.Subscription

	send      chan ephemeral.Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("relay read ended", zap.Error(err))
			}
			return
		}
		var f ephemeral.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.reply(ephemeral.Frame{Op: ephemeral.OpError, Error: "malformed frame"})
			continue
		}
		metrics.RelayFrames.WithLabelValues("in", string(f.Op)).Inc()
		if err := c.handle(ctx, f); err != nil {
			c.log.Debug("frame rejected", zap.String("op", string(f.Op)), zap.String("path", f.Path), zap.Error(err))
			c.reply(ephemeral.Frame{Op: ephemeral.OpError, Sub: f.Sub, Path: f.Path, Error: err.Error()})
		}
	}
}

func (c *Client) handle(ctx context.Context, f ephemeral.Frame) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	switch f.Op {
	case ephemeral.OpPing:
		c.reply(ephemeral.Frame{Op: ephemeral.OpPong})
		return nil
	case ephemeral.OpPublish:
		if err := c.authorize(f.Path); err != nil {
			return err
		}
		if len(f.Value) == 0 {
			return errors.New("publish without value")
		}
		return c.ch.Publish(ctx, f.Path, f.Value)
	case ephemeral.OpRemove:
		if err := c.authorize(f.Path); err != nil {
			return err
		}
		return c.ch.Remove(ctx, f.Path)
	case ephemeral.OpOnDisconnect:
		if err := c.authorize(f.Path); err != nil {
			return err
		}
		return c.ch.RemoveOnDisconnect(ctx, f.Path)
	case ephemeral.OpSubscribe:
		return c.subscribe(ctx, f.Sub, f.Path)
	case ephemeral.OpUnsubscribe:
		c.mu.Lock()
		sub, ok := c.subs[f.Sub]
		delete(c.subs, f.Sub)
		c.mu.Unlock()
		if !ok {
			return ErrUnknownSub
		}
		sub.Unsubscribe()
		return nil
	}
	return fmt.Errorf("unknown op %q", f.Op)
}

// authorize checks that path is on this connection's board and, for
// user-keyed records, belongs to this connection's user.
func (c *Client) authorize(path string) error {
	pp, err := ephemeral.ParsePath(path)
	if err != nil {
		return err
	}
	if pp.Board != c.Board {
		return ErrForbiddenPath
	}
	if pp.Kind.UserKeyed() && pp.Key != c.User {
		return ErrForbiddenPath
	}
	return nil
}

func (c *Client) subscribe(ctx context.Context, id uint64, prefix string) error {
	_, board, err := ephemeral.ParsePrefix(prefix)
	if err != nil {
		return err
	}
	if board != c.Board {
		return ErrForbiddenPath
	}

	c.mu.Lock()
	if _, ok := c.subs[id]; ok || id == 0 {
		c.mu.Unlock()
		return ErrDuplicateSub
	}
	// reserve the id; replayed values are delivered before Subscribe returns
	c.subs[id] = nil
	c.mu.Unlock()

	sub, err := c.ch.Subscribe(ctx, prefix, func(m ephemeral.Message) {
		c.reply(ephemeral.EventFrame(id, m))
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		delete(c.subs, id)
		return err
	}
	if _, ok := c.subs[id]; !ok {
		// unsubscribed while subscribing
		sub.Unsubscribe()
		return nil
	}
	c.subs[id] = sub
	return nil
}

// reply queues f for the writer. A full queue drops the frame: ephemeral
// values are superseded by the next one.
func (c *Client) reply(f ephemeral.Frame) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- f:
	case <-c.done:
	default:
		metrics.EphemeralDropped.WithLabelValues("slow_client").Inc()
		c.log.Warn("send queue full, frame dropped", zap.String("path", f.Path))
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.send:
			raw, err := json.Marshal(f)
			if err != nil {
				c.log.Error("frame encode failed", zap.Error(err))
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.log.Debug("relay write failed", zap.Error(err))
				_ = c.conn.Close()
				return
			}
			metrics.RelayFrames.WithLabelValues("out", string(f.Op)).Inc()
		}
	}
}

// shutdown cancels the client's subscriptions and closes its channel, which
// removes every on_disconnect path.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		subs := c.subs
		c.subs = map[uint64]ephemeral.Subscription{}
		c.mu.Unlock()
		for _, sub := range subs {
			if sub != nil {
				sub.Unsubscribe()
			}
		}
		if err := c.ch.Close(); err != nil {
			c.log.Warn("channel close failed", zap.Error(err))
		}
		_ = c.conn.Close()
	})
}
