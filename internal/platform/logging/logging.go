package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the JSON production logger every service binary uses.
// An unparsable level falls back to info.
func New(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(strings.ToLower(strings.TrimSpace(level))); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.InitialFields = map[string]any{}
	return cfg.Build()
}

// ForService returns a logger tagged with the service name.
func ForService(log *zap.Logger, service string) *zap.Logger {
	if strings.TrimSpace(service) == "" {
		return log
	}
	return log.With(zap.String("service", service))
}
