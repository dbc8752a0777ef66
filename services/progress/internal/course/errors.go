package course

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a course, module, lesson or user does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrPropagationWrite marks a derived write the store rejected.
	ErrPropagationWrite = errors.New("propagation write failed")
	// ErrConcurrentUpdate means the per-(user, module) serialization point
	// could not be taken.
	ErrConcurrentUpdate = errors.New("concurrent update conflict")
)

type Kind string

const (
	KindCourse Kind = "course"
	KindModule Kind = "module"
	KindLesson Kind = "lesson"
	KindUser   Kind = "user"
)

type NotFoundError struct {
	Kind Kind
	ID   uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func NotFound(kind Kind, id uuid.UUID) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// Rule identifies a propagation direction.
type Rule string

const (
	RuleLessonToModule Rule = "lesson_to_module"
	RuleModuleToLesson Rule = "module_to_lesson"
)

// PropagationError wraps a store failure hit while writing a derived record.
type PropagationError struct {
	Rule     Rule
	UserID   uuid.UUID
	TargetID uuid.UUID
	Err      error
}

func (e *PropagationError) Error() string {
	return fmt.Sprintf("%s propagation for user %s target %s: %v", e.Rule, e.UserID, e.TargetID, e.Err)
}

func (e *PropagationError) Unwrap() error { return e.Err }

func (e *PropagationError) Is(target error) bool {
	return target == ErrPropagationWrite
}
