// Package relay is the server side of the ephemeral channel. Each websocket
// connection gets its own ephemeral.Channel; frames from the client are
// authorized against the connection's board and user, then forwarded.
// When the socket goes away the channel is closed, which removes every path
// the client registered with on_disconnect.
package relay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"realtime-canvas/internal/ephemeral"
	"realtime-canvas/internal/metrics"
)

const (
	DefaultSendQueue    = 256
	DefaultWriteTimeout = 10 * time.Second
)

// ChannelFactory opens the ephemeral channel backing one connection.
type ChannelFactory func(ctx context.Context) (ephemeral.Channel, error)

// Conn is the websocket surface the relay needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Options configure a Hub.
type Options struct {
	SendQueue    int
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// =============================================================================
// Hub - board 단위 연결 관리
// =============================================================================

// Hub tracks the open connections per board.
type Hub struct {
	open  ChannelFactory
	rooms *xsync.MapOf[string, *Room]
	log   *zap.Logger

	sendQueue    int
	writeTimeout time.Duration
}

// Room is the set of connections on one board.
type Room struct {
	ID      string
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub creates a hub whose connections use channels from open.
func NewHub(open ChannelFactory, opts Options) *Hub {
	if opts.SendQueue <= 0 {
		opts.SendQueue = DefaultSendQueue
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Hub{
		open:         open,
		rooms:        xsync.NewMapOf[string, *Room](),
		log:          opts.Logger.Named("relay"),
		sendQueue:    opts.SendQueue,
		writeTimeout: opts.WriteTimeout,
	}
}

// join and leave both run inside Compute, so a room is never removed while a
// client is being added to it.
func (h *Hub) join(c *Client) {
	h.rooms.Compute(c.Board, func(room *Room, loaded bool) (*Room, bool) {
		if !loaded {
			h.log.Debug("room created", zap.String("board", c.Board))
			room = &Room{ID: c.Board, clients: make(map[string]*Client)}
		}
		room.mu.Lock()
		room.clients[c.ID] = c
		room.mu.Unlock()
		return room, false
	})
	metrics.RelayConnections.Inc()
}

func (h *Hub) leave(c *Client) {
	h.rooms.Compute(c.Board, func(room *Room, loaded bool) (*Room, bool) {
		if !loaded {
			return room, true
		}
		room.mu.Lock()
		delete(room.clients, c.ID)
		empty := len(room.clients) == 0
		room.mu.Unlock()
		if empty {
			h.log.Debug("room removed", zap.String("board", c.Board))
		}
		return room, empty
	})
	metrics.RelayConnections.Dec()
}

// Serve runs one connection until the socket closes or ctx is done.
func (h *Hub) Serve(ctx context.Context, conn Conn, board, user string) error {
	if board == "" || user == "" {
		return errors.New("relay: board and user are required")
	}
	ch, err := h.open(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Client{
		ID:    uuid.NewString(),
		Board: board,
		User:  user,
		hub:   h,
		conn:  conn,
		ch:    ch,
		subs:  make(map[uint64]ephemeral.Subscription),
		send:  make(chan ephemeral.Frame, h.sendQueue),
		done:  make(chan struct{}),
		log:   h.log.With(zap.String("board", board), zap.String("user", user)),
	}
	h.join(c)
	c.log.Info("relay connected")

	writer := make(chan struct{})
	go func() {
		defer close(writer)
		c.writeLoop()
	}()
	go func() {
		// unblock ReadMessage on shutdown
		<-ctx.Done()
		_ = conn.Close()
	}()

	c.readLoop(ctx)

	cancel()
	c.shutdown()
	<-writer
	h.leave(c)
	c.log.Info("relay disconnected")
	return nil
}

// ConnectedCount returns the number of connections on board.
func (h *Hub) ConnectedCount(board string) int {
	room, ok := h.rooms.Load(board)
	if !ok {
		return 0
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.clients)
}

// Users lists the distinct users connected to board.
func (h *Hub) Users(board string) []string {
	room, ok := h.rooms.Load(board)
	if !ok {
		return nil
	}
	room.mu.RLock()
	seen := make(map[string]struct{}, len(room.clients))
	for _, c := range room.clients {
		seen[c.User] = struct{}{}
	}
	room.mu.RUnlock()
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Boards returns the number of boards with at least one connection.
func (h *Hub) Boards() int {
	return h.rooms.Size()
}
