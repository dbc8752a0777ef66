package progress

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/learning-platform/services/progress/internal/course"
	"github.com/example/learning-platform/services/progress/internal/store"
)

const reportConcurrency = 8

// Aggregator computes read-only roll-ups. It never writes.
type Aggregator struct {
	store store.Reader
}

func NewAggregator(r store.Reader) *Aggregator {
	return &Aggregator{store: r}
}

// GetCourseProgress rolls up one learner's lesson and module completions for
// a course. completed_modules reflects stored module completions, which may
// briefly lag the lesson counts while propagation is in flight.
func (a *Aggregator) GetCourseProgress(ctx context.Context, userID, courseID uuid.UUID) (course.CourseProgress, error) {
	if _, err := a.store.GetCourse(ctx, courseID); err != nil {
		return course.CourseProgress{}, err
	}
	return a.courseProgress(ctx, userID, courseID)
}

func (a *Aggregator) courseProgress(ctx context.Context, userID, courseID uuid.UUID) (course.CourseProgress, error) {
	lessons, err := a.store.ListCourseLessons(ctx, courseID)
	if err != nil {
		return course.CourseProgress{}, err
	}
	completed, err := a.store.CountLessonCompletions(ctx, userID, lessonIDs(lessons))
	if err != nil {
		return course.CourseProgress{}, err
	}
	modules, err := a.store.ListModules(ctx, courseID)
	if err != nil {
		return course.CourseProgress{}, err
	}
	done, err := a.store.ListCompletedModuleIDs(ctx, userID, moduleIDs(modules))
	if err != nil {
		return course.CourseProgress{}, err
	}
	if done == nil {
		done = []uuid.UUID{}
	}
	return course.CourseProgress{
		Completed:             completed,
		Total:                 len(lessons),
		Percentage:            course.Percentage(completed, len(lessons)),
		CompletedModules:      done,
		IsCourseCompleted:     len(modules) > 0 && len(done) == len(modules),
		CompletedModulesCount: len(done),
		TotalModulesCount:     len(modules),
	}, nil
}

func (a *Aggregator) GetModuleProgress(ctx context.Context, userID, moduleID uuid.UUID) (course.ModuleProgress, error) {
	if _, err := a.store.GetModule(ctx, moduleID); err != nil {
		return course.ModuleProgress{}, err
	}
	lessons, err := a.store.ListModuleLessons(ctx, moduleID)
	if err != nil {
		return course.ModuleProgress{}, err
	}
	completed, err := a.store.CountLessonCompletions(ctx, userID, lessonIDs(lessons))
	if err != nil {
		return course.ModuleProgress{}, err
	}
	mc, err := a.store.GetModuleCompletion(ctx, userID, moduleID)
	if err != nil {
		return course.ModuleProgress{}, err
	}
	out := course.ModuleProgress{
		ModuleID:   moduleID,
		Completed:  completed,
		Total:      len(lessons),
		Percentage: course.Percentage(completed, len(lessons)),
	}
	if mc != nil {
		out.IsCompleted = mc.IsCompleted
		out.CompletedAt = mc.CompletedAt
	}
	return out, nil
}

// GetCourseReport returns every enrolled learner's progress and the average.
func (a *Aggregator) GetCourseReport(ctx context.Context, courseID uuid.UUID) (course.CourseReport, error) {
	c, err := a.store.GetCourse(ctx, courseID)
	if err != nil {
		return course.CourseReport{}, err
	}
	enrollments, err := a.store.ListEnrollments(ctx, courseID)
	if err != nil {
		return course.CourseReport{}, err
	}

	learners := make([]course.LearnerProgress, len(enrollments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reportConcurrency)
	for i, e := range enrollments {
		g.Go(func() error {
			cp, err := a.courseProgress(gctx, e.UserID, courseID)
			if err != nil {
				return err
			}
			learners[i] = course.LearnerProgress{
				UserID:           e.UserID,
				EnrolledAt:       e.EnrolledAt,
				Progress:         cp.Percentage,
				CompletedLessons: cp.Completed,
				TotalLessons:     cp.Total,
				CourseCompleted:  cp.IsCourseCompleted,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return course.CourseReport{}, err
	}

	var sum float64
	for _, l := range learners {
		sum += l.Progress
	}
	var avg float64
	if len(learners) > 0 {
		avg = course.Round2(sum / float64(len(learners)))
	}
	return course.CourseReport{
		CourseID:         c.ID,
		CourseTitle:      c.Title,
		TotalEnrollments: len(learners),
		AverageProgress:  avg,
		Learners:         learners,
	}, nil
}
