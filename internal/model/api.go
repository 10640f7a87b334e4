package model

import (
	"fmt"
	"time"
)

// Field limits for caller-supplied run fields. They keep a single request
// from filling the audit trail or the advice store with unbounded garbage.
const (
	MaxKindLen      = 200
	MaxNoteLen      = 4 * 1024
	MaxApproverLen  = 200
	MaxScopeLen     = 200
	MaxModeLen      = 64
	MaxRequestIDLen = 200
)

// ValidateCreateRun checks field limits on a run creation request.
func ValidateCreateRun(req CreateRunRequest) error {
	if req.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if len(req.Kind) > MaxKindLen {
		return fmt.Errorf("kind exceeds maximum length of %d characters", MaxKindLen)
	}
	return nil
}

// ValidateApprove checks field limits on an approval request.
func ValidateApprove(req ApproveRunRequest) error {
	if req.Approver == "" {
		return fmt.Errorf("approver is required")
	}
	if len(req.Approver) > MaxApproverLen {
		return fmt.Errorf("approver exceeds maximum length of %d characters", MaxApproverLen)
	}
	if len(req.Note) > MaxNoteLen {
		return fmt.Errorf("note exceeds maximum length of %d bytes", MaxNoteLen)
	}
	return nil
}

// ValidateCreateRoom checks field limits on a room creation request.
func ValidateCreateRoom(req CreateRoomRequest) error {
	if len(req.Scope) > MaxScopeLen {
		return fmt.Errorf("scope exceeds maximum length of %d characters", MaxScopeLen)
	}
	if len(req.Mode) > MaxModeLen {
		return fmt.Errorf("mode exceeds maximum length of %d characters", MaxModeLen)
	}
	if len(req.RequestID) > MaxRequestIDLen {
		return fmt.Errorf("request_id exceeds maximum length of %d characters", MaxRequestIDLen)
	}
	if req.TTLSeconds < 0 {
		return fmt.Errorf("ttl_sec must not be negative")
	}
	if req.TTLSeconds > MaxRoomTTLSeconds {
		return fmt.Errorf("ttl_sec exceeds maximum of %d seconds", MaxRoomTTLSeconds)
	}
	return nil
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes. FORBIDDEN and BLOCKED
// are intentional outcomes, not faults; callers must be able to tell
// "blocked by policy" from "bad reference" from "the system broke".
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeBlocked       = "BLOCKED"
	ErrCodeTerminalState = "TERMINAL_STATE"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// CreateRunRequest is the request body for POST /v1/runs.
type CreateRunRequest struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ApproveRunRequest is the request body for POST /v1/runs/{run_id}/approve.
type ApproveRunRequest struct {
	Approver string `json:"approver"`
	Note     string `json:"note,omitempty"`
}

// RunResponse is the workflow response for run mutations.
type RunResponse struct {
	OK       bool     `json:"ok"`
	RunID    string   `json:"run_id"`
	State    RunState `json:"state"`
	Executed int      `json:"executed"`
	Reason   string   `json:"reason,omitempty"`
}

// CreateRoomRequest is the request body for POST /v1/rooms.
type CreateRoomRequest struct {
	Scope      string `json:"scope"`
	Mode       string `json:"mode"`
	TTLSeconds int64  `json:"ttl_sec"`
	RequestID  string `json:"request_id"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	ClientID string `json:"client_id"`
	APIKey   string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres,omitempty"` // Omitted when advice storage is file-backed.
	Uptime   int64  `json:"uptime_seconds"`
}

// StatusResponse is the response for GET /status.
type StatusResponse struct {
	OK        bool      `json:"ok"`
	RID       string    `json:"rid"`
	UptimeSec int64     `json:"uptime_sec"`
	Timestamp time.Time `json:"ts"`
}
