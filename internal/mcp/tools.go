package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/sekimori-ai/sekimori/internal/advice"
	"github.com/sekimori-ai/sekimori/internal/audit"
	"github.com/sekimori-ai/sekimori/internal/model"
	"github.com/sekimori-ai/sekimori/internal/runstore"
)

func (s *Server) registerTools() {
	// sekimori_propose_run: submit work for human approval.
	s.mcpServer.AddTool(
		mcplib.NewTool("sekimori_propose_run",
			mcplib.WithDescription(`Propose a unit of work for human approval.

The run is created in HOLD and nothing executes until a human approver
approves it AND the operator-side execution switch is on. Proposing is
always safe: it records intent, it never acts.

WHAT YOU GET BACK: run_id, state (HOLD), executed (0).`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("kind",
				mcplib.Description("Short category of the proposed work, e.g. deploy, payout, delete_data"),
				mcplib.Required(),
			),
			mcplib.WithString("payload",
				mcplib.Description("Optional JSON object with the work's parameters, passed through opaquely"),
			),
		),
		s.handleProposeRun,
	)

	// sekimori_get_run: read back a run's current state.
	s.mcpServer.AddTool(
		mcplib.NewTool("sekimori_get_run",
			mcplib.WithDescription(`Read the current state of a proposed run.

WHEN TO USE: to check whether a human has approved your proposal yet,
or whether it already executed.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("run_id",
				mcplib.Description("The run identifier returned by sekimori_propose_run"),
				mcplib.Required(),
			),
		),
		s.handleGetRun,
	)

	// sekimori_approve_run: approve a held run as a named approver.
	s.mcpServer.AddTool(
		mcplib.NewTool("sekimori_approve_run",
			mcplib.WithDescription(`Approve a held run on behalf of a named approver.

The approver must be on the operator-configured allowlist; a rejected
approval is recorded in the audit trail and changes nothing. Approving
an already-approved run is an idempotent success.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithString("run_id",
				mcplib.Description("The run to approve"),
				mcplib.Required(),
			),
			mcplib.WithString("approver",
				mcplib.Description("Identity of the approving human"),
				mcplib.Required(),
			),
			mcplib.WithString("note",
				mcplib.Description("Optional free-text note recorded with the approval"),
			),
		),
		s.handleApproveRun,
	)

	// sekimori_execute_run: request execution of an approved run.
	s.mcpServer.AddTool(
		mcplib.NewTool("sekimori_execute_run",
			mcplib.WithDescription(`Request execution of an approved run.

Execution happens at most once per run and only while the operator-side
execution switch is on. A blocked request returns the reason
(NOT_APPROVED, EXECUTION_DISABLED, ALREADY_EXECUTED) and is audited.`),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithString("run_id",
				mcplib.Description("The run to execute"),
				mcplib.Required(),
			),
		),
		s.handleExecuteRun,
	)

	// sekimori_get_advice: read the stored advisory snapshot for a run.
	s.mcpServer.AddTool(
		mcplib.NewTool("sekimori_get_advice",
			mcplib.WithDescription(`Fetch the advisory snapshot for a run, generating one if none exists.

The advice is deterministic template text derived from the run state and
the current execution policy. It carries no judgment and no authority.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("run_id",
				mcplib.Description("The run whose advice to fetch"),
				mcplib.Required(),
			),
		),
		s.handleGetAdvice,
	)
}

func (s *Server) handleProposeRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	kind := request.GetString("kind", "")
	if kind == "" {
		return errorResult("kind is required"), nil
	}

	var payload map[string]any
	if raw := request.GetString("payload", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return errorResult(fmt.Sprintf("payload is not valid JSON: %v", err)), nil
		}
	}

	run, err := s.runs.Create(ctx, kind, payload)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to create run: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"run_id":   run.ID.String(),
		"state":    run.State,
		"executed": run.Executed,
	}), nil
}

func (s *Server) handleGetRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, res := s.parseRunID(request)
	if res != nil {
		return res, nil
	}

	run, ok := s.runs.Get(ctx, id)
	if !ok {
		return errorResult("run not found"), nil
	}
	return jsonResult(run), nil
}

func (s *Server) handleApproveRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, res := s.parseRunID(request)
	if res != nil {
		return res, nil
	}
	approver := request.GetString("approver", "")
	if approver == "" {
		return errorResult("approver is required"), nil
	}
	note := request.GetString("note", "")

	result, err := s.runs.Approve(ctx, id, approver, note)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to record approval: %v", err)), nil
	}

	switch result.Outcome {
	case runstore.ApproveOutcomeForbidden:
		return errorResult("approver not in allowlist"), nil
	case runstore.ApproveOutcomeNotFound:
		return errorResult("run not found"), nil
	case runstore.ApproveOutcomeBlocked:
		return errorResult("run already executed"), nil
	}

	return jsonResult(map[string]any{
		"run_id":   result.Run.ID.String(),
		"state":    result.Run.State,
		"executed": result.Run.Executed,
	}), nil
}

func (s *Server) handleExecuteRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, res := s.parseRunID(request)
	if res != nil {
		return res, nil
	}

	result, err := s.runs.Execute(ctx, id)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to record execution: %v", err)), nil
	}

	switch result.Outcome {
	case runstore.ExecuteOutcomeNotFound:
		return errorResult("run not found"), nil
	case runstore.ExecuteOutcomeExecuted:
		return jsonResult(map[string]any{
			"run_id":   result.Run.ID.String(),
			"state":    result.Run.State,
			"executed": result.Run.Executed,
		}), nil
	default:
		return errorResult(fmt.Sprintf("execution blocked: %s", result.Reason)), nil
	}
}

func (s *Server) handleGetAdvice(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, res := s.parseRunID(request)
	if res != nil {
		return res, nil
	}

	a, err := s.adviceStore.Get(ctx, id)
	if err == nil {
		return jsonResult(a), nil
	}
	if !errors.Is(err, advice.ErrNotFound) {
		return errorResult(fmt.Sprintf("failed to load advice: %v", err)), nil
	}

	// No snapshot yet: compose and persist one, same as the HTTP handler.
	// The audit record lands first; an unrecorded snapshot must not exist.
	run, ok := s.runs.Get(ctx, id)
	if !ok {
		if err := s.auditLog.Append(ctx, audit.Event{
			Kind:   audit.KindAdviceBlocked,
			RunID:  id.String(),
			Reason: model.ReasonRunNotFound,
		}); err != nil {
			return errorResult(fmt.Sprintf("failed to record advice rejection: %v", err)), nil
		}
		return errorResult("run not found"), nil
	}
	a = advice.Compose(run, s.gate.CurrentSnapshot(), time.Now().UTC())
	if err := s.auditLog.Append(ctx, audit.Event{
		Kind:   audit.KindAdviceCreated,
		RunID:  id.String(),
		Reason: model.ReasonOK,
	}); err != nil {
		return errorResult(fmt.Sprintf("failed to record advice creation: %v", err)), nil
	}
	if err := s.adviceStore.Put(ctx, a); err != nil {
		return errorResult(fmt.Sprintf("failed to store advice: %v", err)), nil
	}
	return jsonResult(a), nil
}

func (s *Server) parseRunID(request mcplib.CallToolRequest) (uuid.UUID, *mcplib.CallToolResult) {
	raw := request.GetString("run_id", "")
	if raw == "" {
		return uuid.Nil, errorResult("run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errorResult(fmt.Sprintf("invalid run_id: %s", raw))
	}
	return id, nil
}
