package ephemeral

import (
	"time"

	"realtime-canvas/internal/model"
)

// DeltaKind says what a delta frame means. Lock release and deletion have
// their own kinds so no transport has to carry an "absent" value.
type DeltaKind string

const (
	DeltaTransform DeltaKind = "transform"
	DeltaLock      DeltaKind = "lock"
	DeltaUnlock    DeltaKind = "unlock"
	DeltaTombstone DeltaKind = "tombstone"
)

// Final reports whether k ends the entity's ephemeral state. The publisher
// removes the path after a final frame.
func (k DeltaKind) Final() bool {
	return k == DeltaUnlock || k == DeltaTombstone
}

// Delta is the value published at deltas/{board}/{entity}. UserID owns the
// lock; Origin identifies the publishing session so a client can skip its
// own frames even when the same user has the board open twice.
type Delta struct {
	Kind      DeltaKind    `json:"kind"`
	EntityID  string       `json:"entityId"`
	UserID    string       `json:"userId"`
	Origin    string       `json:"origin"`
	Patch     *model.Patch `json:"patch,omitempty"`
	Seq       uint64       `json:"seq"`
	Timestamp time.Time    `json:"timestamp"`
}
