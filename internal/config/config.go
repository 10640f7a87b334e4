// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings. Optional: when empty, advice snapshots are kept on
	// the local filesystem instead of Postgres.
	DatabaseURL string

	// Audit log settings.
	AuditPath         string // Path to the append-only audit log file.
	AuditSyncMode     string // "full", "batch", or "none".
	AuditSyncInterval time.Duration

	// Advice settings.
	AdviceDir string // Directory for file-backed advice snapshots.

	// Room settings.
	RoomSweepInterval time.Duration

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// API key auth. Argon2id hash of the shared API key; empty disables
	// authentication entirely (development mode).
	APIKeyHash string

	// Rate limit settings.
	RateLimitRPS   int
	RateLimitBurst int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("SEKIMORI_PORT", 8080),
		ReadTimeout:         envDuration("SEKIMORI_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("SEKIMORI_WRITE_TIMEOUT", 30*time.Second),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		AuditPath:           envStr("SEKIMORI_AUDIT_PATH", "audit.jsonl"),
		AuditSyncMode:       envStr("SEKIMORI_AUDIT_SYNC", "full"),
		AuditSyncInterval:   envDuration("SEKIMORI_AUDIT_SYNC_INTERVAL", 200*time.Millisecond),
		AdviceDir:           envStr("SEKIMORI_ADVICE_DIR", "advice"),
		RoomSweepInterval:   envDuration("SEKIMORI_ROOM_SWEEP_INTERVAL", 30*time.Second),
		JWTPrivateKeyPath:   envStr("SEKIMORI_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:    envStr("SEKIMORI_JWT_PUBLIC_KEY", ""),
		JWTExpiration:       envDuration("SEKIMORI_JWT_EXPIRATION", 24*time.Hour),
		APIKeyHash:          envStr("SEKIMORI_API_KEY_HASH", ""),
		RateLimitRPS:        envInt("SEKIMORI_RATE_LIMIT_RPS", 50),
		RateLimitBurst:      envInt("SEKIMORI_RATE_LIMIT_BURST", 100),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "sekimori"),
		LogLevel:            envStr("SEKIMORI_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("SEKIMORI_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.AuditPath == "" {
		return fmt.Errorf("config: SEKIMORI_AUDIT_PATH is required")
	}
	switch c.AuditSyncMode {
	case "full", "batch", "none":
	default:
		return fmt.Errorf("config: SEKIMORI_AUDIT_SYNC must be full, batch, or none, got %q", c.AuditSyncMode)
	}
	if c.AuditSyncMode == "batch" && c.AuditSyncInterval <= 0 {
		return fmt.Errorf("config: SEKIMORI_AUDIT_SYNC_INTERVAL must be positive in batch mode")
	}
	if c.RoomSweepInterval <= 0 {
		return fmt.Errorf("config: SEKIMORI_ROOM_SWEEP_INTERVAL must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: SEKIMORI_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("config: rate limit rps and burst must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
