// Package audit implements the append-only audit trail: one timestamped
// structured event per line, never mutated, never truncated. The log is a
// side-channel of record: no component reads its own writes back to make
// decisions.
package audit

import "time"

// Kind enumerates audit event kinds. Rejection paths get their own kinds so
// the decision can be reconstructed offline without the serving process.
type Kind string

const (
	KindRequestCreated   Kind = "REQUEST_CREATED"
	KindApproved         Kind = "APPROVED"
	KindApproveForbidden Kind = "APPROVE_FORBIDDEN"
	KindApproveBlocked   Kind = "APPROVE_BLOCKED"
	KindExecuted         Kind = "EXECUTED"
	KindExecuteBlocked   Kind = "EXECUTE_BLOCKED"
	KindAdviceCreated    Kind = "ADVICE_CREATED"
	KindAdviceBlocked    Kind = "ADVICE_BLOCKED"
	KindRoomCreated      Kind = "ROOM_CREATED"
	KindRoomActivated    Kind = "ROOM_ACTIVATED"
	KindRoomDestroyed    Kind = "ROOM_DESTROYED"
	KindRoomExpired      Kind = "ROOM_EXPIRED"
)

// Event is one immutable audit record. The zero Timestamp is filled with
// the append time; everything else is set by the emitting component.
type Event struct {
	Kind      Kind      `json:"event"`
	RunID     string    `json:"run_id,omitempty"`
	RoomID    string    `json:"room_id,omitempty"`
	RunKind   string    `json:"kind,omitempty"`
	Hold      bool      `json:"hold,omitempty"`
	Approver  string    `json:"approver,omitempty"`
	Note      string    `json:"note,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Allowlist []string  `json:"allowlist,omitempty"`
	Timestamp time.Time `json:"ts"`
}
