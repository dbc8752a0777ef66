package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// DispatchMode selects how propagation runs after a write commits.
type DispatchMode string

const (
	DispatchInline    DispatchMode = "inline"
	DispatchAsync     DispatchMode = "async"
	DispatchJetStream DispatchMode = "jetstream"
)

type Config struct {
	// DatabaseURL selects the Postgres store. Empty falls back to the
	// in-memory store outside production.
	DatabaseURL  string
	DBMaxConns   int32
	NATSURL      string
	RedisURL     string
	JWTSecret    string
	DispatchMode DispatchMode
	AsyncWorkers int

	LockTTL  time.Duration
	LockWait time.Duration

	ReconcileBatchSize int
	// ReconcileSchedule is a cron spec for progressctl reconcile --schedule.
	ReconcileSchedule string

	// RequireEnrollment rejects progress queries from learners who are not
	// enrolled in the course.
	RequireEnrollment bool
}

func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:         int32(envInt("DB_MAX_CONNS", 10)),
		NATSURL:            strings.TrimSpace(os.Getenv("NATS_URL")),
		RedisURL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
		JWTSecret:          strings.TrimSpace(os.Getenv("JWT_SECRET")),
		DispatchMode:       DispatchMode(strings.ToLower(strings.TrimSpace(os.Getenv("PROGRESS_DISPATCH_MODE")))),
		AsyncWorkers:       envInt("PROGRESS_ASYNC_WORKERS", 4),
		LockTTL:            envDuration("PROGRESS_LOCK_TTL", 30*time.Second),
		LockWait:           envDuration("PROGRESS_LOCK_WAIT", 5*time.Second),
		ReconcileBatchSize: envInt("RECONCILE_BATCH_SIZE", 500),
		ReconcileSchedule:  strings.TrimSpace(os.Getenv("RECONCILE_SCHEDULE")),
		RequireEnrollment:  envBool("PROGRESS_REQUIRE_ENROLLMENT", false),
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}
	switch cfg.DispatchMode {
	case "":
		cfg.DispatchMode = DispatchInline
	case DispatchInline, DispatchAsync:
	case DispatchJetStream:
		if cfg.NATSURL == "" {
			return Config{}, errors.New("PROGRESS_DISPATCH_MODE=jetstream requires NATS_URL")
		}
	default:
		return Config{}, errors.New("PROGRESS_DISPATCH_MODE must be inline, async or jetstream")
	}
	return cfg, nil
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
