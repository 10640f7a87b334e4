package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sekimori-ai/sekimori/internal/advice"
	"github.com/sekimori-ai/sekimori/internal/audit"
	"github.com/sekimori-ai/sekimori/internal/auth"
	"github.com/sekimori-ai/sekimori/internal/model"
	"github.com/sekimori-ai/sekimori/internal/policy"
	"github.com/sekimori-ai/sekimori/internal/room"
	"github.com/sekimori-ai/sekimori/internal/runstore"
	"github.com/sekimori-ai/sekimori/internal/storage"
)

// AuditTailer reads the most recent audit events. Satisfied by *audit.Log.
type AuditTailer interface {
	Tail(n int, order string) ([]audit.Event, error)
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	runs                *runstore.Store
	rooms               *room.Manager
	adviceStore         advice.Store
	auditAppender       audit.Appender
	auditLog            AuditTailer
	gate                *policy.Gate
	db                  *storage.DB
	jwtMgr              *auth.JWTManager
	apiKeyHash          string
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): DB, JWTMgr, AuditLog.
type HandlersDeps struct {
	Runs                *runstore.Store
	Rooms               *room.Manager
	AdviceStore         advice.Store
	AuditAppender       audit.Appender
	AuditLog            AuditTailer
	Gate                *policy.Gate
	DB                  *storage.DB
	JWTMgr              *auth.JWTManager
	APIKeyHash          string
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		runs:                d.Runs,
		rooms:               d.Rooms,
		adviceStore:         d.AdviceStore,
		auditAppender:       d.AuditAppender,
		auditLog:            d.AuditLog,
		gate:                d.Gate,
		db:                  d.DB,
		jwtMgr:              d.JWTMgr,
		apiKeyHash:          d.APIKeyHash,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleAuthToken handles POST /auth/token.
// Verifies the shared API key and issues a JWT carrying the client identity.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.jwtMgr == nil || h.apiKeyHash == "" {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "token auth is not configured")
		return
	}

	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.ClientID == "" || req.APIKey == "" {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyAPIKey(req.APIKey, h.apiKeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(req.ClientID)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	resp := model.HealthResponse{
		Status:  status,
		Version: h.version,
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	}

	if h.db != nil {
		resp.Postgres = "connected"
		if err := h.db.Ping(r.Context()); err != nil {
			resp.Postgres = "disconnected"
			resp.Status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, r, httpStatus, resp)
}

// HandleStatus handles GET /status: a bare liveness echo with the caller's
// request ID, kept separate from /health so probes never touch Postgres.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, model.StatusResponse{
		OK:        true,
		RID:       RequestIDFromContext(r.Context()),
		UptimeSec: int64(time.Since(h.startedAt).Seconds()),
		Timestamp: time.Now().UTC(),
	})
}

// writeInternalError logs the error with request context and writes a
// generic 500 so internals never leak to clients.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		"error", err,
		"path", r.URL.Path,
		"request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
}

// --- Shared helpers ---

func parseRunID(r *http.Request) (uuid.UUID, error) {
	return parsePathUUID(r, "run_id")
}

func parseRoomID(r *http.Request) (uuid.UUID, error) {
	return parsePathUUID(r, "room_id")
}

func parsePathUUID(r *http.Request, key string) (uuid.UUID, error) {
	s := r.PathValue(key)
	if s == "" {
		return uuid.Nil, fmt.Errorf("%s is required", key)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %s", key, s)
	}
	return id, nil
}

// maxQueryLimit is the maximum allowed value for limit query parameters.
const maxQueryLimit = 1000

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
