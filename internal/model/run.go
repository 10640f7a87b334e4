// Package model defines the core domain types for Sekimori.
//
// Types use strong typing (UUIDs, time.Time, enums) and avoid
// interface{} wherever possible. The run payload is the one exception:
// it is caller-supplied opaque data the core never interprets.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RunState represents the lifecycle state of a guarded run.
// Transitions are monotonic: HOLD → APPROVED → EXECUTED. BLOCKED is a
// response outcome, never a stored state.
type RunState string

const (
	RunStateHold     RunState = "HOLD"
	RunStateApproved RunState = "APPROVED"
	RunStateExecuted RunState = "EXECUTED"
)

// Run is a unit of proposed work held for human approval. Created in HOLD,
// mutated only by approve and execute, never deleted.
type Run struct {
	ID         uuid.UUID      `json:"run_id"`
	Kind       string         `json:"kind"`
	Payload    map[string]any `json:"payload"`
	State      RunState       `json:"state"`
	Executed   int            `json:"executed"` // 0/1 mirror of State==EXECUTED, kept for API compatibility
	CreatedAt  time.Time      `json:"created_at"`
	ApprovedBy string         `json:"approved_by,omitempty"`
	Note       string         `json:"note,omitempty"`
	ApprovedAt *time.Time     `json:"approved_at,omitempty"`
	ExecutedAt *time.Time     `json:"executed_at,omitempty"`
}

// Terminal reports whether the run has reached its final state.
func (r Run) Terminal() bool {
	return r.State == RunStateExecuted
}

// Reason codes attached to blocked or rejected outcomes. They let auditors
// tell a workflow-ordering error apart from a policy kill-switch offline.
const (
	ReasonOK                = "OK"
	ReasonNotApproved       = "NOT_APPROVED"
	ReasonExecutionDisabled = "EXECUTION_DISABLED"
	ReasonAlreadyExecuted   = "ALREADY_EXECUTED"
	ReasonAlreadyApproved   = "ALREADY_APPROVED"
	ReasonRunNotFound       = "RUN_NOT_FOUND"
)
