package course

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPercentage(t *testing.T) {
	cases := []struct {
		part, total int
		want        float64
	}{
		{0, 0, 0},
		{3, 0, 0},
		{1, 2, 50},
		{2, 2, 100},
		{1, 3, 33.33},
		{2, 3, 66.67},
	}
	for _, c := range cases {
		if got := Percentage(c.part, c.total); got != c.want {
			t.Fatalf("Percentage(%d, %d) = %v, want %v", c.part, c.total, got, c.want)
		}
	}
}

func TestFirstCompletedAt(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	now := t2.Add(time.Hour)

	if got := FirstCompletedAt(&t1, &t2, now); !got.Equal(t1) {
		t.Fatalf("existing timestamp must win, got %v", got)
	}
	if got := FirstCompletedAt(nil, &t2, now); !got.Equal(t2) {
		t.Fatalf("expected proposed timestamp, got %v", got)
	}
	if got := FirstCompletedAt(nil, nil, now); !got.Equal(now) {
		t.Fatalf("expected now, got %v", got)
	}
}

func TestNotFoundError_Is(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NotFound(KindCourse, uuid.New()))
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected ErrNotFound")
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Kind != KindCourse {
		t.Fatalf("expected course NotFoundError, got %v", err)
	}
}

func TestPropagationError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &PropagationError{Rule: RuleModuleToLesson, UserID: uuid.New(), TargetID: uuid.New(), Err: cause}
	if !errors.Is(err, ErrPropagationWrite) {
		t.Fatal("expected ErrPropagationWrite")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
}
