// Package store is the Completion Store: the course tree plus per-user
// lesson and module completion records.
//
// Implementations: PostgresStore (production) and InMemoryStore
// (development and tests). Both enforce the completed_at ratchet: the
// timestamp is written the first time a record becomes complete and never
// changes afterwards.
package store

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/example/learning-platform/services/progress/internal/course"
)

// Reader is the read-only view. The aggregator only ever holds a Reader.
type Reader interface {
	GetCourse(ctx context.Context, courseID uuid.UUID) (course.Course, error)
	GetModule(ctx context.Context, moduleID uuid.UUID) (course.Module, error)
	GetLesson(ctx context.Context, lessonID uuid.UUID) (course.Lesson, error)

	// ListModules returns the course's modules ordered by Order.
	ListModules(ctx context.Context, courseID uuid.UUID) ([]course.Module, error)
	// ListCourseLessons returns lessons ordered by module order then lesson order.
	ListCourseLessons(ctx context.Context, courseID uuid.UUID) ([]course.Lesson, error)
	ListModuleLessons(ctx context.Context, moduleID uuid.UUID) ([]course.Lesson, error)

	// GetLessonCompletion returns nil, nil when no record exists.
	GetLessonCompletion(ctx context.Context, userID, lessonID uuid.UUID) (*course.LessonCompletion, error)
	// GetModuleCompletion returns nil, nil when no record exists.
	GetModuleCompletion(ctx context.Context, userID, moduleID uuid.UUID) (*course.ModuleCompletion, error)
	// CountLessonCompletions counts is_completed=true records among lessonIDs.
	CountLessonCompletions(ctx context.Context, userID uuid.UUID, lessonIDs []uuid.UUID) (int, error)
	// ListCompletedModuleIDs returns the subset of moduleIDs with a true
	// module completion, in the order given.
	ListCompletedModuleIDs(ctx context.Context, userID uuid.UUID, moduleIDs []uuid.UUID) ([]uuid.UUID, error)

	IsEnrolled(ctx context.Context, userID, courseID uuid.UUID) (bool, error)
	ListEnrollments(ctx context.Context, courseID uuid.UUID) ([]course.Enrollment, error)
}

// Writer upserts completion records. completedAt is only a proposal: it is
// used when the record becomes complete for the first time.
type Writer interface {
	UpsertLessonCompletion(ctx context.Context, userID, lessonID uuid.UUID, isCompleted bool, completedAt *time.Time) (course.LessonCompletion, error)
	UpsertModuleCompletion(ctx context.Context, userID, moduleID uuid.UUID, isCompleted bool, completedAt *time.Time) (course.ModuleCompletion, error)
}

// Tx is the view handed to a WithModuleLock callback.
type Tx interface {
	Reader
	Writer
}

type Store interface {
	Tx

	// ToggleLessonCompletion atomically inverts is_completed, creating the
	// record as completed when absent.
	ToggleLessonCompletion(ctx context.Context, userID, lessonID uuid.UUID) (course.LessonCompletion, error)

	// WithModuleLock runs fn as one atomic unit serialized per (user, module).
	// Returns course.ErrConcurrentUpdate when the lock cannot be taken in time.
	WithModuleLock(ctx context.Context, userID, moduleID uuid.UUID, fn func(tx Tx) error) error

	// ListModuleCompletions pages through is_completed=true module records
	// ordered by (user_id, module_id), strictly after cursor when non-nil.
	ListModuleCompletions(ctx context.Context, after *Cursor, limit int) ([]course.ModuleCompletion, error)

	Enroll(ctx context.Context, userID, courseID uuid.UUID) (course.Enrollment, error)

	Ping(ctx context.Context) error
}

// Cursor is the keyset position for ListModuleCompletions.
type Cursor struct {
	UserID   uuid.UUID `json:"user_id"`
	ModuleID uuid.UUID `json:"module_id"`
}

// CursorOf returns the position just at mc.
func CursorOf(mc course.ModuleCompletion) *Cursor {
	return &Cursor{UserID: mc.UserID, ModuleID: mc.ModuleID}
}

// Less orders (user_id, module_id) pairs the way Postgres orders uuid columns.
func (c Cursor) Less(o Cursor) bool {
	if n := bytes.Compare(c.UserID[:], o.UserID[:]); n != 0 {
		return n < 0
	}
	return bytes.Compare(c.ModuleID[:], o.ModuleID[:]) < 0
}
