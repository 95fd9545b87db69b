// Package config loads the tutoring worker configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// WorkerRole selects which worker identity this process registers as.
type WorkerRole string

const (
	RoleOrchestrator WorkerRole = "orchestrator"
	RoleEnglish      WorkerRole = "english"
)

type Config struct {
	Role WorkerRole

	// Room server connection.
	RoomURL   string
	RoomToken string

	// API credentials signing room-join tokens for escalated teachers.
	APIKey    string
	APISecret string

	// Model providers.
	GeminiAPIKey     string
	ModerationAPIKey string
	ModerationModel  string
	RewriteModel     string

	// DatabaseURL is the transcript store DSN. Empty selects the
	// in-memory store for local development.
	DatabaseURL string

	// RosterPath optionally overlays the built-in specialist roster.
	RosterPath string

	CloseDelay   time.Duration
	PingInterval time.Duration
	WriteTimeout time.Duration

	AuditQueueSize  int
	AuditJobTimeout time.Duration

	LogLevel string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Role:             WorkerRole(envOr("TUTOR_WORKER_ROLE", string(RoleOrchestrator))),
		RoomURL:          envOr("TUTOR_ROOM_URL", "ws://localhost:7880/ws"),
		RoomToken:        envOr("TUTOR_ROOM_TOKEN", ""),
		APIKey:           envOr("TUTOR_API_KEY", ""),
		APISecret:        envOr("TUTOR_API_SECRET", ""),
		GeminiAPIKey:     envOr("GEMINI_API_KEY", ""),
		ModerationAPIKey: envOr("TUTOR_MODERATION_API_KEY", ""),
		ModerationModel:  envOr("TUTOR_MODERATION_MODEL", "omni-moderation-latest"),
		RewriteModel:     envOr("TUTOR_REWRITE_MODEL", "gemini-2.0-flash"),
		DatabaseURL:      envOr("TUTOR_DATABASE_URL", ""),
		RosterPath:       envOr("TUTOR_ROSTER_PATH", ""),
		CloseDelay:       envDurationOr("TUTOR_CLOSE_DELAY", 3*time.Second),
		PingInterval:     envDurationOr("TUTOR_WS_PING_INTERVAL", 20*time.Second),
		WriteTimeout:     envDurationOr("TUTOR_WS_WRITE_TIMEOUT", 5*time.Second),
		AuditQueueSize:   envIntOr("TUTOR_AUDIT_QUEUE_SIZE", 256),
		AuditJobTimeout:  envDurationOr("TUTOR_AUDIT_JOB_TIMEOUT", 10*time.Second),
		LogLevel:         envOr("TUTOR_LOG_LEVEL", "info"),
	}

	switch cfg.Role {
	case RoleOrchestrator, RoleEnglish:
	default:
		return Config{}, fmt.Errorf("TUTOR_WORKER_ROLE must be one of orchestrator|english")
	}

	if strings.TrimSpace(cfg.RoomURL) == "" {
		return Config{}, fmt.Errorf("TUTOR_ROOM_URL must not be empty")
	}
	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY must be set")
	}
	if cfg.CloseDelay <= 0 {
		return Config{}, fmt.Errorf("TUTOR_CLOSE_DELAY must be > 0")
	}
	if cfg.PingInterval <= 0 {
		return Config{}, fmt.Errorf("TUTOR_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WriteTimeout <= 0 {
		return Config{}, fmt.Errorf("TUTOR_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.AuditQueueSize <= 0 {
		return Config{}, fmt.Errorf("TUTOR_AUDIT_QUEUE_SIZE must be > 0")
	}
	if cfg.AuditJobTimeout <= 0 {
		return Config{}, fmt.Errorf("TUTOR_AUDIT_JOB_TIMEOUT must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
