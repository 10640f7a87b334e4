package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/sekimori-ai/sekimori/internal/advice"
	"github.com/sekimori-ai/sekimori/internal/audit"
	"github.com/sekimori-ai/sekimori/internal/auth"
	"github.com/sekimori-ai/sekimori/internal/config"
	"github.com/sekimori-ai/sekimori/internal/mcp"
	"github.com/sekimori-ai/sekimori/internal/policy"
	"github.com/sekimori-ai/sekimori/internal/ratelimit"
	"github.com/sekimori-ai/sekimori/internal/room"
	"github.com/sekimori-ai/sekimori/internal/runstore"
	"github.com/sekimori-ai/sekimori/internal/server"
	"github.com/sekimori-ai/sekimori/internal/storage"
	"github.com/sekimori-ai/sekimori/internal/telemetry"
	"github.com/sekimori-ai/sekimori/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("SEKIMORI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("sekimori starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Open the audit log first and close it last: every component appends to
	// it, and an operation that cannot be recorded must not be reported done.
	auditLog, err := audit.Open(audit.Config{
		Path:         cfg.AuditPath,
		SyncMode:     cfg.AuditSyncMode,
		SyncInterval: cfg.AuditSyncInterval,
	})
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	defer func() { _ = auditLog.Close() }()

	// Gate policy is re-read from the environment on every decision, so an
	// operator can flip the kill switch on a running process.
	gate := policy.NewGate(policy.DefaultEnvSource())

	// Advice storage: Postgres when DATABASE_URL is set, local files otherwise.
	var adviceStore advice.Store
	if cfg.DatabaseURL != "" {
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer db.Close()

		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		adviceStore = db
		logger.Info("advice storage: postgres")
	} else {
		fs, err := advice.NewFileStore(cfg.AdviceDir)
		if err != nil {
			return fmt.Errorf("advice store: %w", err)
		}
		adviceStore = fs
		logger.Info("advice storage: file", "dir", cfg.AdviceDir)
	}

	// JWT auth is enabled only when an API key hash is configured.
	var jwtMgr *auth.JWTManager
	if cfg.APIKeyHash != "" {
		jwtMgr, err = auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	} else {
		logger.Warn("auth disabled: no SEKIMORI_API_KEY_HASH configured")
	}

	// Core stores.
	runs := runstore.New(gate, auditLog, logger)
	rooms := room.NewManager(auditLog, logger)

	// MCP server, mounted at /mcp on the HTTP server.
	mcpSrv := mcp.New(runs, adviceStore, auditLog, gate, logger)

	// Rate limiter.
	limiter := ratelimit.NewMemoryLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst)
	defer func() { _ = limiter.Close() }()

	var db *storage.DB
	if s, ok := adviceStore.(*storage.DB); ok {
		db = s
	}

	srv := server.New(server.ServerConfig{
		Runs:                runs,
		Rooms:               rooms,
		AdviceStore:         adviceStore,
		AuditAppender:       auditLog,
		AuditLog:            auditLog,
		Gate:                gate,
		DB:                  db,
		JWTMgr:              jwtMgr,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		APIKeyHash:          cfg.APIKeyHash,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Serve HTTP and sweep expired rooms until a signal arrives or either
	// worker fails.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := rooms.Sweep(gctx, cfg.RoomSweepInterval); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("room sweeper: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("sekimori stopped")
	return err
}
