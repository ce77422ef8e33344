// Package ephemeral is the low-latency, non-durable publish/subscribe side of
// board sync: drag deltas, transform locks, cursors, presence and placement
// previews. Values are disposable; a missed frame is superseded by the next.
package ephemeral

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Message is one value change observed by a subscriber.
// Removed is set when the path was deleted; Value is then empty.
type Message struct {
	Path    string          `json:"path"`
	Value   json.RawMessage `json:"value,omitempty"`
	Removed bool            `json:"removed,omitempty"`
}

// Handler receives messages for a subscription. Handlers must not block.
type Handler func(Message)

// Subscription is a live subscription returned by Channel.Subscribe.
type Subscription interface {
	Unsubscribe()
}

// Channel is one client's connection to the ephemeral transport.
//
// Subscribe first delivers the current value of every existing path under
// prefix, then live changes. RemoveOnDisconnect registers a path that the
// transport deletes when this connection goes away, gracefully or not.
type Channel interface {
	Publish(ctx context.Context, path string, value []byte) error
	Remove(ctx context.Context, path string) error
	Subscribe(ctx context.Context, prefix string, fn Handler) (Subscription, error)
	RemoveOnDisconnect(ctx context.Context, path string) error
	Close() error
}

// Kind is the top-level path namespace.
type Kind string

const (
	KindDelta    Kind = "deltas"
	KindCursor   Kind = "cursors"
	KindPresence Kind = "presence"
	KindPreview  Kind = "shapePreviews"
)

// Valid reports whether k is a known namespace.
func (k Kind) Valid() bool {
	switch k {
	case KindDelta, KindCursor, KindPresence, KindPreview:
		return true
	}
	return false
}

// UserKeyed reports whether the last path segment is a user id.
func (k Kind) UserKeyed() bool {
	return k == KindCursor || k == KindPresence || k == KindPreview
}

// Path builds "{kind}/{board}/{key}".
func Path(kind Kind, board, key string) string {
	return string(kind) + "/" + board + "/" + key
}

// Prefix builds "{kind}/{board}/", matching every key on the board.
func Prefix(kind Kind, board string) string {
	return string(kind) + "/" + board + "/"
}

func DeltaPath(board, entityID string) string  { return Path(KindDelta, board, entityID) }
func CursorPath(board, userID string) string   { return Path(KindCursor, board, userID) }
func PresencePath(board, userID string) string { return Path(KindPresence, board, userID) }
func PreviewPath(board, userID string) string  { return Path(KindPreview, board, userID) }

// ParsedPath is a decomposed ephemeral path.
type ParsedPath struct {
	Kind  Kind
	Board string
	Key   string
}

// ParsePath splits a full path into kind, board and key.
func ParsePath(p string) (ParsedPath, error) {
	parts := strings.Split(p, "/")
	if len(parts) != 3 {
		return ParsedPath{}, fmt.Errorf("ephemeral path %q: want kind/board/key", p)
	}
	kind := Kind(parts[0])
	if !kind.Valid() {
		return ParsedPath{}, fmt.Errorf("ephemeral path %q: unknown kind %q", p, parts[0])
	}
	if parts[1] == "" || parts[2] == "" {
		return ParsedPath{}, fmt.Errorf("ephemeral path %q: empty segment", p)
	}
	return ParsedPath{Kind: kind, Board: parts[1], Key: parts[2]}, nil
}

// ParsePrefix validates a subscription prefix "{kind}/{board}/" and returns
// its kind and board.
func ParsePrefix(prefix string) (Kind, string, error) {
	if !strings.HasSuffix(prefix, "/") {
		return "", "", fmt.Errorf("ephemeral prefix %q: must end with /", prefix)
	}
	parts := strings.Split(strings.TrimSuffix(prefix, "/"), "/")
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("ephemeral prefix %q: want kind/board/", prefix)
	}
	kind := Kind(parts[0])
	if !kind.Valid() {
		return "", "", fmt.Errorf("ephemeral prefix %q: unknown kind %q", prefix, parts[0])
	}
	return kind, parts[1], nil
}

// Encode marshals a value for Publish.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode unmarshals a message value into v.
func Decode(m Message, v any) error {
	if m.Removed || len(m.Value) == 0 {
		return fmt.Errorf("ephemeral %s: no value", m.Path)
	}
	return json.Unmarshal(m.Value, v)
}
