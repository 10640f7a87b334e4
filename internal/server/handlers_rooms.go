package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/sekimori-ai/sekimori/internal/model"
	"github.com/sekimori-ai/sekimori/internal/room"
)

// HandleCreateRoom handles POST /v1/rooms.
func (h *Handlers) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req model.CreateRoomRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateCreateRoom(req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	rm, err := h.rooms.Create(r.Context(), req.Scope, req.Mode,
		time.Duration(req.TTLSeconds)*time.Second, req.RequestID)
	if err != nil {
		h.writeInternalError(w, r, "failed to create room", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, rm)
}

// HandleGetRoom handles GET /v1/rooms/{room_id}. Reading a room past its
// TTL reports it EXPIRED.
func (h *Handlers) HandleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := parseRoomID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	rm, err := h.rooms.Get(r.Context(), roomID)
	if err != nil {
		h.writeRoomError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, rm)
}

// HandleActivateRoom handles POST /v1/rooms/{room_id}/activate.
func (h *Handlers) HandleActivateRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := parseRoomID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	rm, err := h.rooms.Activate(r.Context(), roomID)
	if err != nil {
		h.writeRoomError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, rm)
}

// HandleDestroyRoom handles DELETE /v1/rooms/{room_id}. Destroy is
// unconditional: it finalizes even an already-expired room as DESTROYED.
func (h *Handlers) HandleDestroyRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := parseRoomID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	rm, err := h.rooms.Destroy(r.Context(), roomID)
	if err != nil {
		h.writeRoomError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, rm)
}

// writeRoomError maps room.Manager errors onto the API error envelope.
func (h *Handlers) writeRoomError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, room.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "room not found")
	case errors.Is(err, room.ErrTerminalState):
		writeError(w, r, http.StatusConflict, model.ErrCodeTerminalState, "room has dissolved")
	default:
		h.writeInternalError(w, r, "room operation failed", err)
	}
}
