// Package advice composes and stores advisory snapshots for runs.
//
// An advice snapshot is deterministic template text derived from the run
// and the gate policy at generation time; it carries no judgment of its
// own. Storage is last-write-wins, one snapshot per run; a read returns
// exactly the last written snapshot.
package advice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sekimori-ai/sekimori/internal/model"
	"github.com/sekimori-ai/sekimori/internal/policy"
)

// ErrNotFound is returned when no advice has been written for a run.
var ErrNotFound = errors.New("advice: not found")

// Store persists one advice snapshot per run. Put overwrites any prior
// snapshot for the identifier; Get returns the last written snapshot or
// ErrNotFound.
type Store interface {
	Put(ctx context.Context, a model.Advice) error
	Get(ctx context.Context, runID uuid.UUID) (model.Advice, error)
}

// Compose builds the advisory snapshot for a run under the given policy
// snapshot. Output is fully determined by its inputs.
func Compose(run model.Run, snap policy.Snapshot, now time.Time) model.Advice {
	enabled := 0
	if snap.ExecutionEnabled {
		enabled = 1
	}

	var risks []string
	if snap.ExecutionEnabled {
		risks = append(risks, "execution enabled; ensure approvals are strict")
	} else {
		risks = append(risks, "execution disabled by default")
	}
	risks = append(risks, "approval required before execute")

	var counterCases []string
	if len(snap.Allowlist) > 0 {
		counterCases = append(counterCases, "non-allowlisted approver => forbidden")
	} else {
		counterCases = append(counterCases, "allowlist empty => no approver gating")
	}
	counterCases = append(counterCases, "approved but execution disabled => blocked")

	confidence := 0.3
	if snap.ExecutionEnabled {
		confidence = 0.4
	}

	return model.Advice{
		RunID:        run.ID,
		Summary:      fmt.Sprintf("[%s] state=%s exec_enabled=%d", run.Kind, run.State, enabled),
		Risks:        risks,
		CounterCases: counterCases,
		Confidence:   confidence,
		GeneratedAt:  now,
	}
}
