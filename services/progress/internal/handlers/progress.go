package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/example/learning-platform/internal/platform/api"
	"github.com/example/learning-platform/internal/platform/auth"
	"github.com/example/learning-platform/internal/platform/httpserver"
	"github.com/example/learning-platform/services/progress/internal/course"
	"github.com/example/learning-platform/services/progress/internal/progress"
	"github.com/example/learning-platform/services/progress/internal/store"
)

// ProgressReader is implemented by *progress.Aggregator.
type ProgressReader interface {
	GetCourseProgress(ctx context.Context, userID, courseID uuid.UUID) (course.CourseProgress, error)
	GetModuleProgress(ctx context.Context, userID, moduleID uuid.UUID) (course.ModuleProgress, error)
	GetCourseReport(ctx context.Context, courseID uuid.UUID) (course.CourseReport, error)
}

// Mutator is implemented by *progress.Service.
type Mutator interface {
	ToggleCompletion(ctx context.Context, userID, lessonID uuid.UUID) (course.LessonCompletion, error)
	MarkModuleCompleted(ctx context.Context, userID, moduleID uuid.UUID) (course.ModuleCompletion, error)
	Enroll(ctx context.Context, userID, courseID uuid.UUID) (course.Enrollment, error)
}

// Reconciler is implemented by *progress.Reconciler.
type Reconciler interface {
	Run(ctx context.Context, opts progress.ReconcileOptions) (progress.ReconcileReport, error)
}

// EnrollmentGate rejects progress queries from learners who are not
// enrolled when Required is set.
type EnrollmentGate struct {
	Store    store.Reader
	Required bool
}

func (g EnrollmentGate) allowCourse(ctx context.Context, userID, courseID uuid.UUID) (bool, error) {
	if !g.Required || g.Store == nil {
		return true, nil
	}
	return g.Store.IsEnrolled(ctx, userID, courseID)
}

func (g EnrollmentGate) allowModule(ctx context.Context, userID, moduleID uuid.UUID) (bool, error) {
	if !g.Required || g.Store == nil {
		return true, nil
	}
	m, err := g.Store.GetModule(ctx, moduleID)
	if err != nil {
		return false, err
	}
	return g.Store.IsEnrolled(ctx, userID, m.CourseID)
}

// GetCourseProgress handles GET /v1/progress/courses/{course_id}
func GetCourseProgress(pr ProgressReader, gate EnrollmentGate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, courseID, ok := userAndParam(w, r, "course_id")
		if !ok {
			return
		}
		if !checkGate(w, r, gate.allowCourse, userID, courseID) {
			return
		}
		cp, err := pr.GetCourseProgress(r.Context(), userID, courseID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, cp)
	}
}

// GetModuleProgress handles GET /v1/progress/modules/{module_id}
func GetModuleProgress(pr ProgressReader, gate EnrollmentGate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, moduleID, ok := userAndParam(w, r, "module_id")
		if !ok {
			return
		}
		if !checkGate(w, r, gate.allowModule, userID, moduleID) {
			return
		}
		mp, err := pr.GetModuleProgress(r.Context(), userID, moduleID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, mp)
	}
}

// ToggleLesson handles POST /v1/progress/lessons/{lesson_id}/toggle
func ToggleLesson(m Mutator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, lessonID, ok := userAndParam(w, r, "lesson_id")
		if !ok {
			return
		}
		lc, err := m.ToggleCompletion(r.Context(), userID, lessonID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, lc)
	}
}

// CompleteModule handles POST /v1/progress/modules/{module_id}/complete
func CompleteModule(m Mutator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, moduleID, ok := userAndParam(w, r, "module_id")
		if !ok {
			return
		}
		mc, err := m.MarkModuleCompleted(r.Context(), userID, moduleID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, mc)
	}
}

// Enroll handles POST /v1/courses/{course_id}/enroll
func Enroll(m Mutator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, courseID, ok := userAndParam(w, r, "course_id")
		if !ok {
			return
		}
		e, err := m.Enroll(r.Context(), userID, courseID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusCreated, e)
	}
}

func userAndParam(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, uuid.UUID, bool) {
	rid := httpserver.RequestIDFromContext(r.Context())
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		api.Unauthorized(w, "authentication required", rid)
		return uuid.Nil, uuid.Nil, false
	}
	id, ok := pathUUID(w, r, param)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return userID, id, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, param)))
	if err != nil {
		api.InvalidID(w, param, httpserver.RequestIDFromContext(r.Context()))
		return uuid.Nil, false
	}
	return id, true
}

func checkGate(w http.ResponseWriter, r *http.Request, allow func(context.Context, uuid.UUID, uuid.UUID) (bool, error), userID, id uuid.UUID) bool {
	ok, err := allow(r.Context(), userID, id)
	if err != nil {
		writeError(w, r, err)
		return false
	}
	if !ok {
		api.Forbidden(w, api.CodeNotEnrolled, "not enrolled in this course", httpserver.RequestIDFromContext(r.Context()))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	rid := httpserver.RequestIDFromContext(r.Context())
	switch {
	case errors.Is(err, course.ErrNotFound):
		api.NotFound(w, err.Error(), rid)
	case errors.Is(err, course.ErrConcurrentUpdate):
		api.Unavailable(w, "concurrent update, retry", rid)
	default:
		api.Internal(w, rid)
	}
}
