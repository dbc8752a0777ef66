package progress

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/learning-platform/services/progress/internal/course"
	"github.com/example/learning-platform/services/progress/internal/store"
)

// Service owns the mutating operations. Each writes its primary record and
// only then dispatches propagation.
type Service struct {
	store      store.Store
	dispatcher Dispatcher
	log        *zap.Logger
}

func NewService(s store.Store, d Dispatcher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: s, dispatcher: d, log: log.With(zap.String("component", "progress_service"))}
}

// ToggleCompletion flips the learner's completion of a lesson. A transition
// to complete triggers Rule A.
func (s *Service) ToggleCompletion(ctx context.Context, userID, lessonID uuid.UUID) (course.LessonCompletion, error) {
	if _, err := s.store.GetLesson(ctx, lessonID); err != nil {
		return course.LessonCompletion{}, err
	}
	lc, err := s.store.ToggleLessonCompletion(ctx, userID, lessonID)
	if err != nil {
		return course.LessonCompletion{}, err
	}
	if lc.IsCompleted {
		s.dispatch(ctx, Job{Kind: JobLessonCompleted, UserID: userID, TargetID: lessonID})
	}
	return lc, nil
}

// MarkModuleCompleted sets the module completion true if it is not already,
// then triggers Rule B. The check and the write share the module lock, so
// only the call that flips the record announces it.
func (s *Service) MarkModuleCompleted(ctx context.Context, userID, moduleID uuid.UUID) (course.ModuleCompletion, error) {
	if _, err := s.store.GetModule(ctx, moduleID); err != nil {
		return course.ModuleCompletion{}, err
	}
	var (
		mc      course.ModuleCompletion
		flipped bool
	)
	err := s.store.WithModuleLock(ctx, userID, moduleID, func(tx store.Tx) error {
		existing, err := tx.GetModuleCompletion(ctx, userID, moduleID)
		if err != nil {
			return err
		}
		if existing != nil && existing.IsCompleted {
			mc = *existing
			return nil
		}
		mc, err = tx.UpsertModuleCompletion(ctx, userID, moduleID, true, nil)
		if err != nil {
			return err
		}
		flipped = true
		return nil
	})
	if err != nil {
		return course.ModuleCompletion{}, err
	}
	s.dispatch(ctx, Job{Kind: JobModuleCompleted, UserID: userID, TargetID: moduleID, Announce: flipped})
	return mc, nil
}

// Enroll registers the learner on a course; repeated calls return the
// original enrollment.
func (s *Service) Enroll(ctx context.Context, userID, courseID uuid.UUID) (course.Enrollment, error) {
	return s.store.Enroll(ctx, userID, courseID)
}

func (s *Service) dispatch(ctx context.Context, job Job) {
	if s.dispatcher == nil {
		s.log.Warn("no dispatcher configured, propagation skipped", zap.String("kind", string(job.Kind)))
		return
	}
	s.dispatcher.Dispatch(ctx, job)
}
