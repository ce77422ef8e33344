package ephemeral

import "encoding/json"

// Op is a relay frame operation.
type Op string

// Client to relay.
const (
	OpPublish      Op = "publish"
	OpRemove       Op = "remove"
	OpSubscribe    Op = "subscribe"
	OpUnsubscribe  Op = "unsubscribe"
	OpOnDisconnect Op = "on_disconnect"
	OpPing         Op = "ping"
)

// Relay to client.
const (
	OpEvent Op = "event"
	OpPong  Op = "pong"
	OpError Op = "error"
)

// Frame is the JSON unit exchanged over the relay websocket.
// Sub identifies a subscription chosen by the client; events echo it.
type Frame struct {
	Op      Op              `json:"op"`
	Sub     uint64          `json:"sub,omitempty"`
	Path    string          `json:"path,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Removed bool            `json:"removed,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Message converts an event frame into a Message.
func (f Frame) Message() Message {
	return Message{Path: f.Path, Value: f.Value, Removed: f.Removed}
}

// EventFrame wraps a message for delivery on subscription sub.
func EventFrame(sub uint64, m Message) Frame {
	return Frame{Op: OpEvent, Sub: sub, Path: m.Path, Value: m.Value, Removed: m.Removed}
}
