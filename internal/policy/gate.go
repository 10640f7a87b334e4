// Package policy implements the execution gate: the pure policy check
// guarding run approval and execution.
//
// The gate has two inputs: a process-wide execution-enabled flag and an
// allowlist of approver identities. Both are read through a Source at call
// time, never cached at construction, so a live policy change takes effect
// on the next call.
package policy

import (
	"context"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Snapshot is one consistent view of the gate policy. Reads through the
// gate always observe a whole snapshot, never a torn value.
type Snapshot struct {
	ExecutionEnabled bool
	Allowlist        []string
}

// Source supplies the current policy snapshot. Implementations must be
// safe for concurrent use.
type Source interface {
	Snapshot() Snapshot
}

// EnvSource reads the policy from environment variables on every call.
// ExecutionEnabledVar holds "0"/"1" (or any strconv boolean); AllowlistVar
// holds a comma-delimited list of approver identities, empty = no gating.
type EnvSource struct {
	ExecutionEnabledVar string
	AllowlistVar        string
}

// DefaultEnvSource reads the standard Sekimori policy variables.
func DefaultEnvSource() EnvSource {
	return EnvSource{
		ExecutionEnabledVar: "SEKIMORI_EXECUTION_ENABLED",
		AllowlistVar:        "SEKIMORI_APPROVER_ALLOWLIST",
	}
}

// Snapshot implements Source.
func (s EnvSource) Snapshot() Snapshot {
	return Snapshot{
		ExecutionEnabled: parseBool(os.Getenv(s.ExecutionEnabledVar)),
		Allowlist:        ParseAllowlist(os.Getenv(s.AllowlistVar)),
	}
}

// StaticSource wraps a snapshot behind an atomic pointer so tests and
// reload hooks can swap the whole policy in one step.
type StaticSource struct {
	snap atomic.Pointer[Snapshot]
}

// NewStaticSource creates a source holding the given snapshot.
func NewStaticSource(snap Snapshot) *StaticSource {
	s := &StaticSource{}
	s.snap.Store(&snap)
	return s
}

// Snapshot implements Source.
func (s *StaticSource) Snapshot() Snapshot {
	return *s.snap.Load()
}

// Set replaces the current snapshot. The next gate call observes it.
func (s *StaticSource) Set(snap Snapshot) {
	s.snap.Store(&snap)
}

// ParseAllowlist splits a comma-delimited identity list, trimming blanks.
func ParseAllowlist(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		// Original deployments used "0"/"1"; anything unparsable fails closed.
		return false
	}
	return b
}

// Gate answers the two policy questions: may this approver approve, and may
// an approved run execute. It is pure and side-effect-free apart from a
// decision counter metric.
type Gate struct {
	source  Source
	counter metric.Int64Counter
}

// NewGate creates a gate over the given policy source.
func NewGate(source Source) *Gate {
	meter := otel.GetMeterProvider().Meter("sekimori/policy")
	counter, _ := meter.Int64Counter("sekimori.gate.decisions",
		metric.WithDescription("Gate decisions by check and outcome"))
	return &Gate{source: source, counter: counter}
}

// AuthorizeApprover reports whether the identity may approve runs under the
// current allowlist. An empty allowlist means no gating is applied: any
// approver is authorized (deliberate default-open policy for bootstrap
// environments).
func (g *Gate) AuthorizeApprover(ctx context.Context, identity string) bool {
	snap := g.source.Snapshot()
	ok := len(snap.Allowlist) == 0 || slices.Contains(snap.Allowlist, identity)
	g.record(ctx, "authorize_approver", ok)
	return ok
}

// ExecutionEnabled returns the current kill-switch flag verbatim.
func (g *Gate) ExecutionEnabled(ctx context.Context) bool {
	ok := g.source.Snapshot().ExecutionEnabled
	g.record(ctx, "execution_enabled", ok)
	return ok
}

// CurrentSnapshot returns the policy as of now, for audit payloads.
func (g *Gate) CurrentSnapshot() Snapshot {
	return g.source.Snapshot()
}

func (g *Gate) record(ctx context.Context, check string, allowed bool) {
	if g.counter == nil {
		return
	}
	g.counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("check", check),
		attribute.Bool("allowed", allowed),
	))
}
