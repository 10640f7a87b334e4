package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCreateRun(t *testing.T) {
	assert.NoError(t, ValidateCreateRun(CreateRunRequest{Kind: "deploy"}))
	assert.Error(t, ValidateCreateRun(CreateRunRequest{}))
	assert.Error(t, ValidateCreateRun(CreateRunRequest{Kind: strings.Repeat("x", MaxKindLen+1)}))
}

func TestValidateApprove(t *testing.T) {
	assert.NoError(t, ValidateApprove(ApproveRunRequest{Approver: "alice"}))
	assert.NoError(t, ValidateApprove(ApproveRunRequest{Approver: "alice", Note: "lgtm"}))
	assert.Error(t, ValidateApprove(ApproveRunRequest{}))
	assert.Error(t, ValidateApprove(ApproveRunRequest{Approver: strings.Repeat("a", MaxApproverLen+1)}))
	assert.Error(t, ValidateApprove(ApproveRunRequest{Approver: "alice", Note: strings.Repeat("n", MaxNoteLen+1)}))
}

func TestValidateCreateRoom(t *testing.T) {
	assert.NoError(t, ValidateCreateRoom(CreateRoomRequest{Scope: "s", Mode: "draft", TTLSeconds: 60}))
	assert.NoError(t, ValidateCreateRoom(CreateRoomRequest{})) // all fields optional
	assert.NoError(t, ValidateCreateRoom(CreateRoomRequest{TTLSeconds: MaxRoomTTLSeconds}))
	assert.Error(t, ValidateCreateRoom(CreateRoomRequest{TTLSeconds: -1}))
	assert.Error(t, ValidateCreateRoom(CreateRoomRequest{TTLSeconds: MaxRoomTTLSeconds + 1}))
	// A ttl_sec large enough to wrap the nanosecond conversion negative must
	// be rejected here, not floor-clamped into a 1-second room downstream.
	assert.Error(t, ValidateCreateRoom(CreateRoomRequest{TTLSeconds: 1 << 62}))
	assert.Error(t, ValidateCreateRoom(CreateRoomRequest{Scope: strings.Repeat("s", MaxScopeLen+1)}))
	assert.Error(t, ValidateCreateRoom(CreateRoomRequest{Mode: strings.Repeat("m", MaxModeLen+1)}))
}

func TestRunTerminal(t *testing.T) {
	assert.False(t, Run{State: RunStateHold}.Terminal())
	assert.False(t, Run{State: RunStateApproved}.Terminal())
	assert.True(t, Run{State: RunStateExecuted}.Terminal())
}

func TestRoomStateTerminal(t *testing.T) {
	assert.False(t, RoomStateCreated.Terminal())
	assert.False(t, RoomStateActive.Terminal())
	assert.True(t, RoomStateDestroyed.Terminal())
	assert.True(t, RoomStateExpired.Terminal())
}
