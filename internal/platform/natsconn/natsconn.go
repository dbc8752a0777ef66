// Package natsconn provides a shared NATS connection factory with
// configurable reconnect behaviour and fail-fast semantics, plus JetStream
// stream provisioning.
package natsconn

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Options configures the NATS connection behaviour.
// Zero values fall back to env vars or built-in defaults.
type Options struct {
	URL           string
	Name          string
	MaxReconnects int           // default from NATS_MAX_RECONNECTS or 5
	ReconnectWait time.Duration // default from NATS_RECONNECT_WAIT or 2s
}

// Connect establishes a NATS connection with the configured retry policy.
// On failure it returns an error so the caller can fail fast or degrade.
func Connect(opts Options) (*nats.Conn, error) {
	if opts.URL == "" {
		opts.URL = strings.TrimSpace(os.Getenv("NATS_URL"))
		if opts.URL == "" {
			opts.URL = "nats://nats:4222"
		}
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = envInt("NATS_MAX_RECONNECTS", 5)
	}
	if opts.ReconnectWait == 0 {
		opts.ReconnectWait = envDuration("NATS_RECONNECT_WAIT", 2*time.Second)
	}

	natsOpts := []nats.Option{
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.RetryOnFailedConnect(false),
	}
	if opts.Name != "" {
		natsOpts = append(natsOpts, nats.Name(opts.Name))
	}

	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s (max_reconnects=%d, wait=%s): %w",
			opts.URL, opts.MaxReconnects, opts.ReconnectWait, err)
	}
	return nc, nil
}

// StreamSpec names a JetStream stream and the subjects it must capture.
type StreamSpec struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
}

// EnsureStream creates the stream or widens its subject list so every
// subject in spec is captured.
func EnsureStream(js nats.JetStreamContext, spec StreamSpec) error {
	info, err := js.StreamInfo(spec.Name)
	if err == nil {
		missing := missingSubjects(info.Config.Subjects, spec.Subjects)
		if len(missing) == 0 {
			return nil
		}
		cfg := info.Config
		cfg.Subjects = append(cfg.Subjects, missing...)
		_, err := js.UpdateStream(&cfg)
		return err
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     spec.Name,
		Subjects: spec.Subjects,
		Storage:  nats.FileStorage,
		MaxAge:   spec.MaxAge,
	})
	return err
}

func missingSubjects(have, want []string) []string {
	seen := make(map[string]struct{}, len(have))
	for _, s := range have {
		seen[s] = struct{}{}
	}
	var out []string
	for _, s := range want {
		if _, ok := seen[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
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
