// Package course holds the course → module → lesson tree, the per-user
// completion facts recorded against it and the roll-ups derived from them.
package course

import (
	"time"

	"github.com/google/uuid"
)

type Course struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
}

// Module belongs to exactly one course. Order sequences modules within it.
type Module struct {
	ID       uuid.UUID `json:"id"`
	CourseID uuid.UUID `json:"course_id"`
	Title    string    `json:"title"`
	Order    int       `json:"order"`
}

// Lesson belongs to exactly one module. IsRequired is informational; the
// aggregator counts every lesson.
type Lesson struct {
	ID         uuid.UUID `json:"id"`
	ModuleID   uuid.UUID `json:"module_id"`
	Title      string    `json:"title"`
	Order      int       `json:"order"`
	IsRequired bool      `json:"is_required"`
}

// LessonCompletion is unique per (user, lesson).
type LessonCompletion struct {
	UserID       uuid.UUID  `json:"user_id"`
	LessonID     uuid.UUID  `json:"lesson_id"`
	IsCompleted  bool       `json:"is_completed"`
	CompletedAt  *time.Time `json:"completed_at"`
	LastAccessed time.Time  `json:"last_accessed"`
}

// ModuleCompletion is unique per (user, module).
type ModuleCompletion struct {
	UserID      uuid.UUID  `json:"user_id"`
	ModuleID    uuid.UUID  `json:"module_id"`
	IsCompleted bool       `json:"is_completed"`
	CompletedAt *time.Time `json:"completed_at"`
}

type Enrollment struct {
	UserID     uuid.UUID `json:"user_id"`
	CourseID   uuid.UUID `json:"course_id"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// FirstCompletedAt applies the completed_at ratchet: an existing timestamp
// always wins, otherwise the proposed one, otherwise now.
func FirstCompletedAt(existing, proposed *time.Time, now time.Time) *time.Time {
	if existing != nil {
		t := *existing
		return &t
	}
	if proposed != nil {
		t := proposed.UTC()
		return &t
	}
	t := now.UTC()
	return &t
}
