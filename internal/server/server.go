package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/sekimori-ai/sekimori/internal/advice"
	"github.com/sekimori-ai/sekimori/internal/audit"
	"github.com/sekimori-ai/sekimori/internal/auth"
	"github.com/sekimori-ai/sekimori/internal/policy"
	"github.com/sekimori-ai/sekimori/internal/ratelimit"
	"github.com/sekimori-ai/sekimori/internal/room"
	"github.com/sekimori-ai/sekimori/internal/runstore"
	"github.com/sekimori-ai/sekimori/internal/storage"
)

// Server is the Sekimori HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): DB, JWTMgr, Limiter, MCPServer, AuditLog.
type ServerConfig struct {
	// Required dependencies.
	Runs          *runstore.Store
	Rooms         *room.Manager
	AdviceStore   advice.Store
	AuditAppender audit.Appender
	Gate          *policy.Gate
	Logger        *slog.Logger

	// Optional dependencies (nil = disabled).
	AuditLog  AuditTailer
	DB        *storage.DB
	JWTMgr    *auth.JWTManager
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// Auth settings. Empty APIKeyHash with nil JWTMgr means auth disabled.
	APIKeyHash string

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Runs:                cfg.Runs,
		Rooms:               cfg.Rooms,
		AdviceStore:         cfg.AdviceStore,
		AuditAppender:       cfg.AuditAppender,
		AuditLog:            cfg.AuditLog,
		Gate:                cfg.Gate,
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		APIKeyHash:          cfg.APIKeyHash,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	rl := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Auth endpoint (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", rl(http.HandlerFunc(h.HandleAuthToken)))

	// Guarded run lifecycle.
	mux.Handle("POST /v1/runs", rl(http.HandlerFunc(h.HandleCreateRun)))
	mux.Handle("GET /v1/runs/{run_id}", rl(http.HandlerFunc(h.HandleGetRun)))
	mux.Handle("POST /v1/runs/{run_id}/approve", rl(http.HandlerFunc(h.HandleApproveRun)))
	mux.Handle("POST /v1/runs/{run_id}/execute", rl(http.HandlerFunc(h.HandleExecuteRun)))

	// Advice snapshots.
	mux.Handle("POST /v1/runs/{run_id}/advice", rl(http.HandlerFunc(h.HandleCreateAdvice)))
	mux.Handle("GET /v1/runs/{run_id}/advice", rl(http.HandlerFunc(h.HandleGetAdvice)))

	// Ephemeral rooms.
	mux.Handle("POST /v1/rooms", rl(http.HandlerFunc(h.HandleCreateRoom)))
	mux.Handle("GET /v1/rooms/{room_id}", rl(http.HandlerFunc(h.HandleGetRoom)))
	mux.Handle("POST /v1/rooms/{room_id}/activate", rl(http.HandlerFunc(h.HandleActivateRoom)))
	mux.Handle("DELETE /v1/rooms/{room_id}", rl(http.HandlerFunc(h.HandleDestroyRoom)))

	// Audit tail.
	mux.Handle("GET /v1/events/summary", rl(http.HandlerFunc(h.HandleEventsSummary)))

	// Judgment assist.
	mux.Handle("POST /v1/assist", rl(http.HandlerFunc(h.HandleAssist)))

	// MCP StreamableHTTP transport (auth required when enabled).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", mcpHTTP)
	}

	// Probes (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /status", h.HandleStatus)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handlers returns the underlying Handlers for use in tests.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
