package ephemeral

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"realtime-canvas/internal/apperr"
)

const (
	// DefaultTTL bounds how long a value outlives a crashed publisher.
	DefaultTTL       = 60 * time.Second
	defaultKeyPrefix = "canvas:"
)

// RedisOptions configures a RedisChannel.
type RedisOptions struct {
	KeyPrefix string
	TTL       time.Duration
	Clock     clock.Clock
	Logger    *zap.Logger
}

// RedisChannel stores each path as a key with a TTL and fans changes out
// with PUBLISH on a channel named after the key. Several relay instances
// sharing one Redis see each other's frames.
//
// Paths registered with RemoveOnDisconnect are kept alive while the channel
// is open and deleted on Close. If the process dies, the TTL removes them.
type RedisChannel struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *zap.Logger

	mu           sync.Mutex
	onDisconnect map[string]struct{}
	subs         map[*redisSubscription]struct{}
	closed       bool

	ticker *clock.Ticker
	stop   chan struct{}
	done   chan struct{}
}

var _ Channel = (*RedisChannel)(nil)

// NewRedisChannel opens a channel on client. The client is shared and is not
// closed by Close.
func NewRedisChannel(client *redis.Client, opts RedisOptions) *RedisChannel {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = defaultKeyPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := &RedisChannel{
		client:       client,
		prefix:       opts.KeyPrefix,
		ttl:          opts.TTL,
		log:          opts.Logger.Named("redis-channel"),
		onDisconnect: make(map[string]struct{}),
		subs:         make(map[*redisSubscription]struct{}),
		ticker:       opts.Clock.Ticker(opts.TTL / 3),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go c.keepAlive()
	return c
}

func (c *RedisChannel) key(path string) string { return c.prefix + path }

func (c *RedisChannel) Publish(ctx context.Context, path string, value []byte) error {
	if c.isClosed() {
		return apperr.Ephemeral(path, ErrClosed)
	}
	payload, err := json.Marshal(Message{Path: path, Value: value})
	if err != nil {
		return apperr.Ephemeral(path, err)
	}
	_, err = c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.key(path), value, c.ttl)
		pipe.Publish(ctx, c.key(path), payload)
		return nil
	})
	return apperr.Ephemeral(path, err)
}

func (c *RedisChannel) Remove(ctx context.Context, path string) error {
	if c.isClosed() {
		return apperr.Ephemeral(path, ErrClosed)
	}
	return c.remove(ctx, path)
}

func (c *RedisChannel) remove(ctx context.Context, path string) error {
	payload, err := json.Marshal(Message{Path: path, Removed: true})
	if err != nil {
		return apperr.Ephemeral(path, err)
	}
	_, err = c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.key(path))
		pipe.Publish(ctx, c.key(path), payload)
		return nil
	})
	return apperr.Ephemeral(path, err)
}

// Subscribe pattern-subscribes to prefix, then replays the keys already
// present. A value can be delivered twice around the replay; handlers treat
// deliveries as idempotent overwrites.
func (c *RedisChannel) Subscribe(ctx context.Context, prefix string, fn Handler) (Subscription, error) {
	if c.isClosed() {
		return nil, apperr.Ephemeral(prefix, ErrClosed)
	}
	pattern := c.key(escapeGlob(prefix)) + "*"
	ps := c.client.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, apperr.Ephemeral(prefix, err)
	}

	initial, err := c.current(ctx, pattern)
	if err != nil {
		_ = ps.Close()
		return nil, apperr.Ephemeral(prefix, err)
	}
	for _, m := range initial {
		fn(m)
	}

	s := &redisSubscription{owner: c, ps: ps, done: make(chan struct{})}
	c.mu.Lock()
	c.subs[s] = struct{}{}
	c.mu.Unlock()

	go s.run(fn, c.log)
	return s, nil
}

func (c *RedisChannel) current(ctx context.Context, pattern string) ([]Message, error) {
	keys := make([]string, 0)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(keys))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		out = append(out, Message{Path: strings.TrimPrefix(keys[i], c.prefix), Value: json.RawMessage(s)})
	}
	return out, nil
}

func (c *RedisChannel) RemoveOnDisconnect(_ context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return apperr.Ephemeral(path, ErrClosed)
	}
	c.onDisconnect[path] = struct{}{}
	return nil
}

func (c *RedisChannel) keepAlive() {
	defer close(c.done)
	defer c.ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-c.ticker.C:
			c.refresh()
		}
	}
}

func (c *RedisChannel) refresh() {
	paths := c.registered()
	if len(paths) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range paths {
			pipe.Expire(ctx, c.key(p), c.ttl)
		}
		return nil
	})
	if err != nil {
		c.log.Warn("ttl refresh failed", zap.Int("paths", len(paths)), zap.Error(err))
	}
}

func (c *RedisChannel) registered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.onDisconnect))
	for p := range c.onDisconnect {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Close removes the registered paths, ends subscriptions and stops the
// keepalive loop.
func (c *RedisChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]*redisSubscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	close(c.stop)
	<-c.done

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var errs []error
	for _, p := range c.registered() {
		if err := c.remove(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range subs {
		s.Unsubscribe()
	}
	return errors.Join(errs...)
}

func (c *RedisChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type redisSubscription struct {
	owner *RedisChannel
	ps    *redis.PubSub
	once  sync.Once
	done  chan struct{}
}

func (s *redisSubscription) run(fn Handler, log *zap.Logger) {
	defer close(s.done)
	for msg := range s.ps.Channel() {
		var m Message
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			log.Warn("bad envelope", zap.String("channel", msg.Channel), zap.Error(err))
			continue
		}
		fn(m)
	}
}

func (s *redisSubscription) Unsubscribe() {
	s.once.Do(func() {
		_ = s.ps.Close()
		<-s.done
		s.owner.mu.Lock()
		delete(s.owner.subs, s)
		s.owner.mu.Unlock()
	})
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
