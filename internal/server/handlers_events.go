package server

import (
	"net/http"

	"github.com/sekimori-ai/sekimori/internal/model"
)

// HandleEventsSummary handles GET /v1/events/summary?tail=N&order=asc|desc.
// It reads the last N audit events straight from the log file, so the
// summary reflects exactly what was durably recorded.
func (h *Handlers) HandleEventsSummary(w http.ResponseWriter, r *http.Request) {
	if h.auditLog == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "audit tail not available")
		return
	}

	tail := queryInt(r, "tail", 500)
	if tail < 1 {
		tail = 1
	}
	if tail > maxQueryLimit {
		tail = maxQueryLimit
	}

	order := r.URL.Query().Get("order")
	switch order {
	case "":
		order = "desc"
	case "asc", "desc":
	default:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "order must be asc or desc")
		return
	}

	events, err := h.auditLog.Tail(tail, order)
	if err != nil {
		h.writeInternalError(w, r, "failed to read audit tail", err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"count":  len(events),
		"order":  order,
		"events": events,
	})
}
