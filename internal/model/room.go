package model

import (
	"time"

	"github.com/google/uuid"
)

// RoomState represents the lifecycle state of an ephemeral room.
// DESTROYED and EXPIRED are terminal and absorbing.
type RoomState string

const (
	RoomStateCreated   RoomState = "CREATED"
	RoomStateActive    RoomState = "ACTIVE"
	RoomStateDestroyed RoomState = "DESTROYED"
	RoomStateExpired   RoomState = "EXPIRED"
)

// Terminal reports whether the state admits no further transitions.
func (s RoomState) Terminal() bool {
	return s == RoomStateDestroyed || s == RoomStateExpired
}

// Room is a TTL-bounded disposable execution context. Rooms never merge
// back into durable state: they dissolve on expiry or explicit destroy.
type Room struct {
	ID        uuid.UUID `json:"room_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Scope     string    `json:"scope"`
	Mode      string    `json:"mode"`
	State     RoomState `json:"state"`
	RequestID string    `json:"request_id"` // back-reference for lookup, not ownership
}

// MinRoomTTL is the floor TTL applied at creation; shorter requests are clamped.
const MinRoomTTL = time.Second

// MaxRoomTTLSeconds bounds ttl_sec at the API edge. The cap keeps the
// seconds-to-Duration conversion far from int64 nanosecond overflow, which
// would wrap a huge request into a negative (then floor-clamped) TTL.
const MaxRoomTTLSeconds int64 = 365 * 24 * 60 * 60
