package ephemeral

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"realtime-canvas/internal/apperr"
)

// DefaultPingInterval keeps relay connections from idling out.
const DefaultPingInterval = 25 * time.Second

// WSOptions configures a WSChannel.
type WSOptions struct {
	Header       http.Header
	PingInterval time.Duration
	Clock        clock.Clock
	Logger       *zap.Logger
}

// WSChannel is a Channel backed by a relay websocket connection.
// The relay owns the disconnect cleanup, so a dropped socket behaves like Close.
type WSChannel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	log     *zap.Logger

	mu       sync.Mutex
	handlers map[uint64]Handler
	nextSub  uint64
	closed   bool

	stop chan struct{}
	done chan struct{}
}

var _ Channel = (*WSChannel)(nil)

// DialWS connects to a relay endpoint such as ws://host/ws/boards/{board}.
func DialWS(ctx context.Context, url string, opts WSOptions) (*WSChannel, error) {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, apperr.Ephemeral(url, errors.New("dial: "+resp.Status))
		}
		return nil, apperr.Ephemeral(url, err)
	}

	c := &WSChannel{
		conn:     conn,
		log:      opts.Logger.Named("ws-channel"),
		handlers: make(map[uint64]Handler),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	go c.pingLoop(opts.Clock.Ticker(opts.PingInterval))
	return c, nil
}

func (c *WSChannel) write(f Frame) error {
	if c.isClosed() {
		return apperr.Ephemeral(f.Path, ErrClosed)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return apperr.Ephemeral(f.Path, c.conn.WriteJSON(f))
}

func (c *WSChannel) Publish(_ context.Context, path string, value []byte) error {
	return c.write(Frame{Op: OpPublish, Path: path, Value: value})
}

func (c *WSChannel) Remove(_ context.Context, path string) error {
	return c.write(Frame{Op: OpRemove, Path: path})
}

func (c *WSChannel) RemoveOnDisconnect(_ context.Context, path string) error {
	return c.write(Frame{Op: OpOnDisconnect, Path: path})
}

// Subscribe registers fn and asks the relay for prefix. Current values arrive
// as the first events of the subscription.
func (c *WSChannel) Subscribe(_ context.Context, prefix string, fn Handler) (Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, apperr.Ephemeral(prefix, ErrClosed)
	}
	c.nextSub++
	id := c.nextSub
	c.handlers[id] = fn
	c.mu.Unlock()

	if err := c.write(Frame{Op: OpSubscribe, Sub: id, Path: prefix}); err != nil {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
		return nil, err
	}
	return &wsSubscription{c: c, id: id}, nil
}

func (c *WSChannel) readLoop() {
	defer close(c.done)
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if !c.isClosed() {
				c.log.Warn("relay connection lost", zap.Error(err))
			}
			c.markClosed()
			return
		}
		switch f.Op {
		case OpEvent:
			c.mu.Lock()
			fn := c.handlers[f.Sub]
			c.mu.Unlock()
			if fn != nil {
				fn(f.Message())
			}
		case OpError:
			c.log.Warn("relay rejected frame", zap.String("path", f.Path), zap.String("error", f.Error))
		case OpPong:
		default:
			c.log.Debug("unexpected frame", zap.String("op", string(f.Op)))
		}
	}
}

func (c *WSChannel) pingLoop(ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(Frame{Op: OpPing}); err != nil {
				c.log.Debug("ping failed", zap.Error(err))
			}
		}
	}
}

// Done is closed when the connection is gone.
func (c *WSChannel) Done() <-chan struct{} { return c.done }

// Close sends a close frame and waits for the read loop to exit.
func (c *WSChannel) Close() error {
	if !c.markClosed() {
		_ = c.conn.Close()
		<-c.done
		return nil
	}
	close(c.stop)

	c.writeMu.Lock()
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	closeErr := c.conn.Close()
	<-c.done
	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}
	return errors.Join(err, closeErr)
}

// markClosed reports whether this call did the transition.
func (c *WSChannel) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.handlers = map[uint64]Handler{}
	return true
}

func (c *WSChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type wsSubscription struct {
	c  *WSChannel
	id uint64
}

func (s *wsSubscription) Unsubscribe() {
	s.c.mu.Lock()
	_, ok := s.c.handlers[s.id]
	delete(s.c.handlers, s.id)
	s.c.mu.Unlock()
	if ok {
		_ = s.c.write(Frame{Op: OpUnsubscribe, Sub: s.id})
	}
}
