package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/learning-platform/internal/platform/events"
	"github.com/example/learning-platform/services/progress/internal/course"
	"github.com/example/learning-platform/services/progress/internal/lock"
	"github.com/example/learning-platform/services/progress/internal/store"
)

// EventPublisher is satisfied by *events.Publisher.
type EventPublisher interface {
	Publish(subject, eventName string, userID uuid.UUID, props map[string]any)
}

// BackfillResult counts what Rule B did to a module's lessons.
type BackfillResult struct {
	Created        int `json:"created"`
	Updated        int `json:"updated"`
	AlreadyCorrect int `json:"already_correct"`
}

func (r BackfillResult) changed() bool { return r.Created+r.Updated > 0 }

type PropagatorOptions struct {
	Store  store.Store
	Locker lock.Locker
	// LockTTL bounds how long a Locker lease may be held.
	LockTTL time.Duration
	Events  EventPublisher
	Metrics *Metrics
	Logger  *zap.Logger
}

// Propagator keeps lesson and module completion facts consistent.
//
// Rule A (lesson → module): once every lesson of a module is complete the
// module completion is written true.
// Rule B (module → lesson): a true module completion is pushed down to every
// lesson of the module.
//
// Both rules read their target before writing and skip writes that would not
// change anything, so derived writes never cascade.
type Propagator struct {
	store   store.Store
	locker  lock.Locker
	lockTTL time.Duration
	events  EventPublisher
	metrics *Metrics
	log     *zap.Logger
}

func NewPropagator(opts PropagatorOptions) *Propagator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ttl := opts.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Propagator{
		store:   opts.Store,
		locker:  opts.Locker,
		lockTTL: ttl,
		events:  opts.Events,
		metrics: opts.Metrics,
		log:     log.With(zap.String("component", "propagator")),
	}
}

// Handle executes one propagation job. Failures are logged and counted here;
// the returned error only tells queue consumers whether to retry.
func (p *Propagator) Handle(ctx context.Context, job Job) error {
	var err error
	switch job.Kind {
	case JobLessonCompleted:
		err = p.LessonCompleted(ctx, job.UserID, job.TargetID)
	case JobModuleCompleted:
		_, err = p.ModuleCompleted(ctx, job.UserID, job.TargetID, job.Announce)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if err != nil {
		p.log.Warn("propagation failed",
			zap.String("kind", string(job.Kind)),
			zap.String("user_id", job.UserID.String()),
			zap.String("target_id", job.TargetID.String()),
			zap.Error(err))
	}
	return err
}

// LessonCompleted applies Rule A for a lesson completion that is now true.
// A lock conflict is retried once, then logged as a drift candidate.
func (p *Propagator) LessonCompleted(ctx context.Context, userID, lessonID uuid.UUID) error {
	lesson, err := p.store.GetLesson(ctx, lessonID)
	if err != nil {
		return err
	}

	mc, flipped, err := p.lessonToModule(ctx, userID, lesson)
	if errors.Is(err, course.ErrConcurrentUpdate) {
		mc, flipped, err = p.lessonToModule(ctx, userID, lesson)
		if errors.Is(err, course.ErrConcurrentUpdate) {
			p.metrics.driftCandidate(course.RuleLessonToModule)
			p.log.Error("drift candidate: module completion not re-evaluated",
				zap.String("user_id", userID.String()),
				zap.String("module_id", lesson.ModuleID.String()),
				zap.String("lesson_id", lessonID.String()),
				zap.Error(err))
		}
	}
	if err != nil {
		p.metrics.propagation(course.RuleLessonToModule, outcomeFailed)
		return err
	}
	if !flipped {
		p.metrics.propagation(course.RuleLessonToModule, outcomeNoop)
		return nil
	}
	p.metrics.propagation(course.RuleLessonToModule, outcomeApplied)
	p.log.Debug("module completed from lessons",
		zap.String("user_id", userID.String()),
		zap.String("module_id", mc.ModuleID.String()))

	// one hop: the module write feeds Rule B, whose lesson writes stop here
	_, err = p.ModuleCompleted(ctx, userID, mc.ModuleID, true)
	return err
}

func (p *Propagator) lessonToModule(ctx context.Context, userID uuid.UUID, lesson course.Lesson) (course.ModuleCompletion, bool, error) {
	var (
		out     course.ModuleCompletion
		flipped bool
	)
	err := p.withModuleLock(ctx, userID, lesson.ModuleID, func(tx store.Tx) error {
		lessons, err := tx.ListModuleLessons(ctx, lesson.ModuleID)
		if err != nil {
			return err
		}
		if len(lessons) == 0 {
			return nil
		}
		done, err := tx.CountLessonCompletions(ctx, userID, lessonIDs(lessons))
		if err != nil {
			return err
		}
		if done < len(lessons) {
			return nil
		}
		existing, err := tx.GetModuleCompletion(ctx, userID, lesson.ModuleID)
		if err != nil {
			return err
		}
		if existing != nil && existing.IsCompleted {
			return nil
		}

		var completedAt *time.Time
		trigger, err := tx.GetLessonCompletion(ctx, userID, lesson.ID)
		if err != nil {
			return err
		}
		if trigger != nil {
			completedAt = trigger.CompletedAt
		}
		mc, err := tx.UpsertModuleCompletion(ctx, userID, lesson.ModuleID, true, completedAt)
		if err != nil {
			return &course.PropagationError{Rule: course.RuleLessonToModule, UserID: userID, TargetID: lesson.ModuleID, Err: err}
		}
		out, flipped = mc, true
		return nil
	})
	return out, flipped, err
}

// ModuleCompleted applies Rule B. When announce is set the module (and, if
// it was the last one, the course) completion events are published.
func (p *Propagator) ModuleCompleted(ctx context.Context, userID, moduleID uuid.UUID, announce bool) (BackfillResult, error) {
	res, err := p.moduleToLessons(ctx, userID, moduleID)
	switch {
	case err != nil:
		p.metrics.propagation(course.RuleModuleToLesson, outcomeFailed)
		return res, err
	case res.changed():
		p.metrics.propagation(course.RuleModuleToLesson, outcomeApplied)
	default:
		p.metrics.propagation(course.RuleModuleToLesson, outcomeNoop)
	}
	if announce {
		p.announce(ctx, userID, moduleID)
	}
	return res, nil
}

func (p *Propagator) moduleToLessons(ctx context.Context, userID, moduleID uuid.UUID) (BackfillResult, error) {
	var res BackfillResult
	err := p.withModuleLock(ctx, userID, moduleID, func(tx store.Tx) error {
		res = BackfillResult{}
		mc, err := tx.GetModuleCompletion(ctx, userID, moduleID)
		if err != nil {
			return err
		}
		if mc == nil || !mc.IsCompleted {
			return nil
		}
		lessons, err := tx.ListModuleLessons(ctx, moduleID)
		if err != nil {
			return err
		}
		for _, l := range lessons {
			lc, err := tx.GetLessonCompletion(ctx, userID, l.ID)
			if err != nil {
				return err
			}
			if lc != nil && lc.IsCompleted {
				res.AlreadyCorrect++
				continue
			}
			if _, err := tx.UpsertLessonCompletion(ctx, userID, l.ID, true, mc.CompletedAt); err != nil {
				return &course.PropagationError{Rule: course.RuleModuleToLesson, UserID: userID, TargetID: l.ID, Err: err}
			}
			if lc == nil {
				res.Created++
			} else {
				res.Updated++
			}
		}
		return nil
	})
	return res, err
}

// withModuleLock takes the distributed lease (when configured) and then the
// store's own serialization point.
func (p *Propagator) withModuleLock(ctx context.Context, userID, moduleID uuid.UUID, fn func(tx store.Tx) error) error {
	if p.locker != nil {
		release, err := p.locker.Acquire(ctx, lock.ModuleKey(userID, moduleID), p.lockTTL)
		if errors.Is(err, lock.ErrNotAcquired) {
			return fmt.Errorf("module lease %s/%s: %w", userID, moduleID, course.ErrConcurrentUpdate)
		}
		if err != nil {
			return err
		}
		defer release()
	}
	return p.store.WithModuleLock(ctx, userID, moduleID, fn)
}

func (p *Propagator) announce(ctx context.Context, userID, moduleID uuid.UUID) {
	if p.events == nil {
		return
	}
	mod, err := p.store.GetModule(ctx, moduleID)
	if err != nil {
		p.log.Warn("announce: module lookup failed", zap.String("module_id", moduleID.String()), zap.Error(err))
		return
	}
	p.events.Publish(events.SubjectModuleCompleted, "module_completed", userID, map[string]any{
		"module_id": moduleID.String(),
		"course_id": mod.CourseID.String(),
	})

	modules, err := p.store.ListModules(ctx, mod.CourseID)
	if err != nil || len(modules) == 0 {
		return
	}
	done, err := p.store.ListCompletedModuleIDs(ctx, userID, moduleIDs(modules))
	if err != nil || len(done) != len(modules) {
		return
	}
	p.events.Publish(events.SubjectCourseCompleted, "course_completed", userID, map[string]any{
		"course_id": mod.CourseID.String(),
	})
}

func lessonIDs(lessons []course.Lesson) []uuid.UUID {
	ids := make([]uuid.UUID, len(lessons))
	for i, l := range lessons {
		ids[i] = l.ID
	}
	return ids
}

func moduleIDs(modules []course.Module) []uuid.UUID {
	ids := make([]uuid.UUID, len(modules))
	for i, m := range modules {
		ids[i] = m.ID
	}
	return ids
}
