package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAllowlist(t *testing.T) {
	assert.Nil(t, ParseAllowlist(""))
	assert.Nil(t, ParseAllowlist("   "))
	assert.Equal(t, []string{"alice"}, ParseAllowlist("alice"))
	assert.Equal(t, []string{"alice", "bob"}, ParseAllowlist("alice,bob"))
	assert.Equal(t, []string{"alice", "bob"}, ParseAllowlist(" alice , bob "))
	assert.Equal(t, []string{"alice"}, ParseAllowlist("alice,,"))
}

func TestParseBoolFailsClosed(t *testing.T) {
	assert.False(t, parseBool(""))
	assert.False(t, parseBool("garbage"))
	assert.False(t, parseBool("0"))
	assert.True(t, parseBool("1"))
	assert.True(t, parseBool("true"))
	assert.False(t, parseBool("false"))
}

func TestEnvSourceReadsPerCall(t *testing.T) {
	t.Setenv("TEST_GATE_EXEC", "0")
	t.Setenv("TEST_GATE_ALLOW", "")

	src := EnvSource{
		ExecutionEnabledVar: "TEST_GATE_EXEC",
		AllowlistVar:        "TEST_GATE_ALLOW",
	}

	snap := src.Snapshot()
	assert.False(t, snap.ExecutionEnabled)
	assert.Empty(t, snap.Allowlist)

	// A live environment change is visible on the very next call.
	t.Setenv("TEST_GATE_EXEC", "1")
	t.Setenv("TEST_GATE_ALLOW", "alice,bob")

	snap = src.Snapshot()
	assert.True(t, snap.ExecutionEnabled)
	assert.Equal(t, []string{"alice", "bob"}, snap.Allowlist)
}

func TestGateEmptyAllowlistIsOpen(t *testing.T) {
	gate := NewGate(NewStaticSource(Snapshot{}))
	assert.True(t, gate.AuthorizeApprover(context.Background(), "anyone"))
}

func TestGateAllowlistFiltersApprovers(t *testing.T) {
	gate := NewGate(NewStaticSource(Snapshot{Allowlist: []string{"alice", "bob"}}))

	ctx := context.Background()
	assert.True(t, gate.AuthorizeApprover(ctx, "alice"))
	assert.True(t, gate.AuthorizeApprover(ctx, "bob"))
	assert.False(t, gate.AuthorizeApprover(ctx, "mallory"))
	assert.False(t, gate.AuthorizeApprover(ctx, ""))
}

func TestGateStaticSourceSwap(t *testing.T) {
	src := NewStaticSource(Snapshot{ExecutionEnabled: false})
	gate := NewGate(src)

	ctx := context.Background()
	assert.False(t, gate.ExecutionEnabled(ctx))

	src.Set(Snapshot{ExecutionEnabled: true})
	assert.True(t, gate.ExecutionEnabled(ctx))

	src.Set(Snapshot{ExecutionEnabled: false})
	assert.False(t, gate.ExecutionEnabled(ctx))
}
