package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/sekimori-ai/sekimori/internal/advice"
	"github.com/sekimori-ai/sekimori/internal/audit"
	"github.com/sekimori-ai/sekimori/internal/model"
)

// HandleCreateAdvice handles POST /v1/runs/{run_id}/advice. It composes a
// fresh snapshot from the run and the current gate policy, persists it
// (overwriting any prior snapshot), and returns it.
func (h *Handlers) HandleCreateAdvice(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	run, ok := h.runs.Get(r.Context(), runID)
	if !ok {
		if err := h.auditAppender.Append(r.Context(), audit.Event{
			Kind:   audit.KindAdviceBlocked,
			RunID:  runID.String(),
			Reason: model.ReasonRunNotFound,
		}); err != nil {
			h.writeInternalError(w, r, "failed to record advice rejection", err)
			return
		}
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
		return
	}

	snap := h.gate.CurrentSnapshot()
	a := advice.Compose(run, snap, time.Now().UTC())

	if err := h.auditAppender.Append(r.Context(), audit.Event{
		Kind:   audit.KindAdviceCreated,
		RunID:  runID.String(),
		Reason: model.ReasonOK,
	}); err != nil {
		h.writeInternalError(w, r, "failed to record advice creation", err)
		return
	}

	if err := h.adviceStore.Put(r.Context(), a); err != nil {
		h.writeInternalError(w, r, "failed to store advice", err)
		return
	}

	writeJSON(w, r, http.StatusOK, a)
}

// HandleGetAdvice handles GET /v1/runs/{run_id}/advice. Returns the last
// written snapshot, which may describe an older run state.
func (h *Handlers) HandleGetAdvice(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	a, err := h.adviceStore.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, advice.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no advice for run")
			return
		}
		h.writeInternalError(w, r, "failed to load advice", err)
		return
	}

	writeJSON(w, r, http.StatusOK, a)
}
