package server

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sekimori-ai/sekimori/internal/model"
	"github.com/sekimori-ai/sekimori/internal/runstore"
)

// HandleCreateRun handles POST /v1/runs. New runs always enter HOLD.
func (h *Handlers) HandleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req model.CreateRunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if err := model.ValidateCreateRun(req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sekimori.run_kind", req.Kind))

	run, err := h.runs.Create(r.Context(), req.Kind, req.Payload)
	if err != nil {
		h.writeInternalError(w, r, "failed to create run", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, model.RunResponse{
		OK:       true,
		RunID:    run.ID.String(),
		State:    run.State,
		Executed: run.Executed,
	})
}

// HandleGetRun handles GET /v1/runs/{run_id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	run, ok := h.runs.Get(r.Context(), runID)
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
		return
	}

	writeJSON(w, r, http.StatusOK, run)
}

// HandleApproveRun handles POST /v1/runs/{run_id}/approve.
func (h *Handlers) HandleApproveRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var req model.ApproveRunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateApprove(req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sekimori.approver", req.Approver))

	res, err := h.runs.Approve(r.Context(), runID, req.Approver, req.Note)
	if err != nil {
		h.writeInternalError(w, r, "failed to record approval", err)
		return
	}

	switch res.Outcome {
	case runstore.ApproveOutcomeForbidden:
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "approver not in allowlist")
	case runstore.ApproveOutcomeNotFound:
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
	case runstore.ApproveOutcomeBlocked:
		writeErrorDetails(w, r, http.StatusConflict, model.ErrCodeBlocked, "run already executed",
			map[string]string{"reason": model.ReasonAlreadyExecuted})
	case runstore.ApproveOutcomeAlreadyApproved:
		writeJSON(w, r, http.StatusOK, model.RunResponse{
			OK:       true,
			RunID:    res.Run.ID.String(),
			State:    res.Run.State,
			Executed: res.Run.Executed,
			Reason:   model.ReasonAlreadyApproved,
		})
	default:
		writeJSON(w, r, http.StatusOK, model.RunResponse{
			OK:       true,
			RunID:    res.Run.ID.String(),
			State:    res.Run.State,
			Executed: res.Run.Executed,
		})
	}
}

// HandleExecuteRun handles POST /v1/runs/{run_id}/execute.
func (h *Handlers) HandleExecuteRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	res, err := h.runs.Execute(r.Context(), runID)
	if err != nil {
		h.writeInternalError(w, r, "failed to record execution", err)
		return
	}

	switch res.Outcome {
	case runstore.ExecuteOutcomeNotFound:
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
	case runstore.ExecuteOutcomeExecuted:
		writeJSON(w, r, http.StatusOK, model.RunResponse{
			OK:       true,
			RunID:    res.Run.ID.String(),
			State:    res.Run.State,
			Executed: res.Run.Executed,
		})
	default:
		// ALREADY_EXECUTED, NOT_APPROVED, EXECUTION_DISABLED: the run did
		// not execute on this call.
		writeErrorDetails(w, r, http.StatusConflict, model.ErrCodeBlocked, "execution blocked",
			map[string]string{"reason": res.Reason})
	}
}
