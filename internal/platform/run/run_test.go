package run

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestUntil_CleanExit(t *testing.T) {
	r := New(zap.NewNop())
	code := r.Until(context.Background(), func(context.Context) error { return nil })
	if code != 0 {
		t.Fatalf("expected 0, got %d", code)
	}
}

func TestUntil_ServerClosedIsClean(t *testing.T) {
	r := New(zap.NewNop())
	code := r.Until(context.Background(), func(context.Context) error { return http.ErrServerClosed })
	if code != 0 {
		t.Fatalf("expected 0, got %d", code)
	}
}

func TestUntil_ErrorExitCode(t *testing.T) {
	r := New(zap.NewNop())
	code := r.Until(context.Background(), func(context.Context) error { return errors.New("boom") })
	if code != 1 {
		t.Fatalf("expected 1, got %d", code)
	}
}

func TestUntil_ContextCancelled(t *testing.T) {
	r := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	code := r.Until(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	if code != 0 {
		t.Fatalf("expected 0, got %d", code)
	}
}

func TestGraceful_CallsShutdown(t *testing.T) {
	r := New(zap.NewNop())
	called := false
	r.Graceful(func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Fatal("expected deadline on shutdown context")
		}
		called = true
		return nil
	})
	if !called {
		t.Fatal("shutdown not called")
	}
}

func TestGraceful_UsesShutdownTimeout(t *testing.T) {
	r := New(zap.NewNop())
	r.ShutdownTimeout = 50 * time.Millisecond
	r.Graceful(func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Fatal("expected deadline on shutdown context")
		}
		if left := time.Until(deadline); left > 50*time.Millisecond {
			t.Fatalf("expected deadline within 50ms, got %s", left)
		}
		return nil
	})
}
