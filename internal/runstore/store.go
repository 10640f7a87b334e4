// Package runstore owns the canonical state machine for guarded runs.
//
// Each run moves monotonically HOLD → APPROVED → EXECUTED and never
// regresses. The store consults the execution gate before approve and
// execute, and emits exactly one audit event per operation; rejection
// paths included. The audit append happens under the store lock before the
// in-memory commit: a reported success therefore always has a durable
// record, and audit order matches the linearization of state changes.
package runstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sekimori-ai/sekimori/internal/audit"
	"github.com/sekimori-ai/sekimori/internal/model"
	"github.com/sekimori-ai/sekimori/internal/policy"
)

// ApproveOutcome classifies the result of an approve call.
type ApproveOutcome string

const (
	ApproveOutcomeApproved        ApproveOutcome = "APPROVED"
	ApproveOutcomeAlreadyApproved ApproveOutcome = "ALREADY_APPROVED"
	ApproveOutcomeForbidden       ApproveOutcome = "FORBIDDEN"
	ApproveOutcomeNotFound        ApproveOutcome = "NOT_FOUND"
	ApproveOutcomeBlocked         ApproveOutcome = "BLOCKED" // run already EXECUTED; approval must not regress it
)

// ExecuteOutcome classifies the result of an execute call.
type ExecuteOutcome string

const (
	ExecuteOutcomeExecuted        ExecuteOutcome = "EXECUTED"
	ExecuteOutcomeAlreadyExecuted ExecuteOutcome = "ALREADY_EXECUTED"
	ExecuteOutcomeNotApproved     ExecuteOutcome = "BLOCKED_NOT_APPROVED"
	ExecuteOutcomeDisabled        ExecuteOutcome = "BLOCKED_DISABLED"
	ExecuteOutcomeNotFound        ExecuteOutcome = "NOT_FOUND"
)

// ApproveResult is the structured outcome of an approve call.
type ApproveResult struct {
	Outcome ApproveOutcome
	Run     model.Run // valid unless Outcome is NOT_FOUND
}

// ExecuteResult is the structured outcome of an execute call.
type ExecuteResult struct {
	Outcome ExecuteOutcome
	Reason  string
	Run     model.Run // valid unless Outcome is NOT_FOUND
}

// Store holds all runs in a mutex-guarded table. Operations are short
// critical sections (a map mutation plus one durable append), so a single
// table lock satisfies per-run linearizability without per-key locks.
type Store struct {
	gate   *policy.Gate
	log    audit.Appender
	logger *slog.Logger

	mu   sync.Mutex
	runs map[uuid.UUID]model.Run

	now func() time.Time
}

// New creates an empty run store.
func New(gate *policy.Gate, log audit.Appender, logger *slog.Logger) *Store {
	return &Store{
		gate:   gate,
		log:    log,
		logger: logger,
		runs:   make(map[uuid.UUID]model.Run),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create allocates a fresh run in state HOLD. It always succeeds unless the
// audit append fails, in which case the run is not created.
func (s *Store) Create(ctx context.Context, kind string, payload map[string]any) (model.Run, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run := model.Run{
		ID:        uuid.New(),
		Kind:      kind,
		Payload:   payload,
		State:     model.RunStateHold,
		CreatedAt: s.now(),
	}

	if err := s.log.Append(ctx, audit.Event{
		Kind:    audit.KindRequestCreated,
		RunID:   run.ID.String(),
		RunKind: kind,
		Hold:    true,
	}); err != nil {
		return model.Run{}, err
	}

	s.runs[run.ID] = run
	s.logger.Info("run created", "run_id", run.ID, "kind", kind)
	return run, nil
}

// Get is a pure lookup with no side effects.
func (s *Store) Get(_ context.Context, id uuid.UUID) (model.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	return run, ok
}

// Approve transitions HOLD → APPROVED after the gate authorizes the
// approver. A forbidden approver is an intentional security signal, audited
// with the allowlist snapshot that rejected it, and never mutates run state.
// Re-approving an APPROVED run is an idempotent success; approving an
// EXECUTED run fails; approval never regresses a terminal run.
func (s *Store) Approve(ctx context.Context, id uuid.UUID, approver, note string) (ApproveResult, error) {
	// Gate check first: the policy answer must not depend on whether the
	// run exists, and the forbidden event carries the allowlist snapshot.
	if !s.gate.AuthorizeApprover(ctx, approver) {
		snap := s.gate.CurrentSnapshot()
		if err := s.log.Append(ctx, audit.Event{
			Kind:      audit.KindApproveForbidden,
			RunID:     id.String(),
			Approver:  approver,
			Allowlist: snap.Allowlist,
		}); err != nil {
			return ApproveResult{}, err
		}
		s.logger.Warn("approve forbidden", "run_id", id, "approver", approver)
		return ApproveResult{Outcome: ApproveOutcomeForbidden}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		if err := s.log.Append(ctx, audit.Event{
			Kind:     audit.KindApproveBlocked,
			RunID:    id.String(),
			Approver: approver,
			Reason:   model.ReasonRunNotFound,
		}); err != nil {
			return ApproveResult{}, err
		}
		return ApproveResult{Outcome: ApproveOutcomeNotFound}, nil
	}

	switch run.State {
	case model.RunStateExecuted:
		if err := s.log.Append(ctx, audit.Event{
			Kind:     audit.KindApproveBlocked,
			RunID:    id.String(),
			Approver: approver,
			Reason:   model.ReasonAlreadyExecuted,
		}); err != nil {
			return ApproveResult{}, err
		}
		return ApproveResult{Outcome: ApproveOutcomeBlocked, Run: run}, nil

	case model.RunStateApproved:
		if err := s.log.Append(ctx, audit.Event{
			Kind:     audit.KindApproved,
			RunID:    id.String(),
			Approver: approver,
			Note:     note,
			Reason:   model.ReasonAlreadyApproved,
		}); err != nil {
			return ApproveResult{}, err
		}
		return ApproveResult{Outcome: ApproveOutcomeAlreadyApproved, Run: run}, nil
	}

	if err := s.log.Append(ctx, audit.Event{
		Kind:     audit.KindApproved,
		RunID:    id.String(),
		Approver: approver,
		Note:     note,
	}); err != nil {
		return ApproveResult{}, err
	}

	now := s.now()
	run.State = model.RunStateApproved
	run.ApprovedBy = approver
	run.Note = note
	run.ApprovedAt = &now
	s.runs[id] = run

	s.logger.Info("run approved", "run_id", id, "approver", approver)
	return ApproveResult{Outcome: ApproveOutcomeApproved, Run: run}, nil
}

// Execute transitions APPROVED → EXECUTED exactly once per run. It requires
// the run's current state to be APPROVED and the gate's execution flag to be
// true at call time. Executing an EXECUTED run reports the terminal state
// without a second transition event.
func (s *Store) Execute(ctx context.Context, id uuid.UUID) (ExecuteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		if err := s.log.Append(ctx, audit.Event{
			Kind:   audit.KindExecuteBlocked,
			RunID:  id.String(),
			Reason: model.ReasonRunNotFound,
		}); err != nil {
			return ExecuteResult{}, err
		}
		return ExecuteResult{Outcome: ExecuteOutcomeNotFound, Reason: model.ReasonRunNotFound}, nil
	}

	if run.State == model.RunStateExecuted {
		if err := s.log.Append(ctx, audit.Event{
			Kind:   audit.KindExecuteBlocked,
			RunID:  id.String(),
			Reason: model.ReasonAlreadyExecuted,
		}); err != nil {
			return ExecuteResult{}, err
		}
		return ExecuteResult{Outcome: ExecuteOutcomeAlreadyExecuted, Reason: model.ReasonAlreadyExecuted, Run: run}, nil
	}

	if run.State != model.RunStateApproved {
		if err := s.log.Append(ctx, audit.Event{
			Kind:   audit.KindExecuteBlocked,
			RunID:  id.String(),
			Reason: model.ReasonNotApproved,
		}); err != nil {
			return ExecuteResult{}, err
		}
		return ExecuteResult{Outcome: ExecuteOutcomeNotApproved, Reason: model.ReasonNotApproved, Run: run}, nil
	}

	// The flag is read at call time, inside the critical section, so a
	// live policy change takes effect on the very next call.
	if !s.gate.ExecutionEnabled(ctx) {
		if err := s.log.Append(ctx, audit.Event{
			Kind:   audit.KindExecuteBlocked,
			RunID:  id.String(),
			Reason: model.ReasonExecutionDisabled,
		}); err != nil {
			return ExecuteResult{}, err
		}
		s.logger.Warn("execute blocked by kill switch", "run_id", id)
		return ExecuteResult{Outcome: ExecuteOutcomeDisabled, Reason: model.ReasonExecutionDisabled, Run: run}, nil
	}

	if err := s.log.Append(ctx, audit.Event{
		Kind:   audit.KindExecuted,
		RunID:  id.String(),
		Reason: model.ReasonOK,
	}); err != nil {
		return ExecuteResult{}, err
	}

	now := s.now()
	run.State = model.RunStateExecuted
	run.Executed = 1
	run.ExecutedAt = &now
	s.runs[id] = run

	s.logger.Info("run executed", "run_id", id)
	return ExecuteResult{Outcome: ExecuteOutcomeExecuted, Reason: model.ReasonOK, Run: run}, nil
}
