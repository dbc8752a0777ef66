package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type HTTPConfig struct {
	Addr string
}

type GRPCConfig struct {
	// Addr serves only the standard gRPC health service. Empty disables it.
	Addr string
}

type AppConfig struct {
	ServiceName string
	LogLevel    string
	Env         string
	HTTP        HTTPConfig
	GRPC        GRPCConfig
	// ShutdownTimeout bounds graceful shutdown of servers and workers.
	ShutdownTimeout time.Duration
}

// IsProduction reports whether APP_ENV is "production".
func (c AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadDotEnv reads .env (or the given files) into the process environment
// without overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

func Load() (AppConfig, error) {
	cfg := AppConfig{
		ServiceName: strings.TrimSpace(os.Getenv("SERVICE_NAME")),
		LogLevel:    strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		Env:         strings.TrimSpace(os.Getenv("APP_ENV")),
		HTTP: HTTPConfig{
			Addr: strings.TrimSpace(os.Getenv("HTTP_ADDR")),
		},
		GRPC: GRPCConfig{
			Addr: strings.TrimSpace(os.Getenv("GRPC_ADDR")),
		},
	}
	if cfg.ServiceName == "" {
		return AppConfig{}, errors.New("SERVICE_NAME is required")
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	cfg.ShutdownTimeout = 10 * time.Second
	if v := strings.TrimSpace(os.Getenv("SHUTDOWN_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return AppConfig{}, fmt.Errorf("invalid SHUTDOWN_TIMEOUT %q", v)
		}
		cfg.ShutdownTimeout = d
	}
	return cfg, nil
}
