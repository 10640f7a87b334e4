package server

import (
	"net/http"

	"github.com/sekimori-ai/sekimori/internal/assistant"
	"github.com/sekimori-ai/sekimori/internal/model"
)

// HandleAssist handles POST /v1/assist. Assist is read/propose only and
// never touches run or room state.
func (h *Handlers) HandleAssist(w http.ResponseWriter, r *http.Request) {
	var req assistant.Request
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.RequestID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "request_id is required")
		return
	}

	writeJSON(w, r, http.StatusOK, assistant.Assist(req))
}
