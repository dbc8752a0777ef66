package handlers

import (
	"github.com/go-chi/chi/v5"

	"github.com/example/learning-platform/internal/platform/auth"
)

type Deps struct {
	Verifier   auth.JWTVerifier
	Progress   ProgressReader
	Mutator    Mutator
	Reconciler Reconciler
	Gate       EnrollmentGate
}

// Register mounts every progress route. All of them require a user token;
// /v1/admin additionally requires role=admin.
func Register(r chi.Router, d Deps) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(d.Verifier))

		r.Get("/v1/progress/courses/{course_id}", GetCourseProgress(d.Progress, d.Gate))
		r.Get("/v1/progress/modules/{module_id}", GetModuleProgress(d.Progress, d.Gate))
		r.Post("/v1/progress/lessons/{lesson_id}/toggle", ToggleLesson(d.Mutator))
		r.Post("/v1/progress/modules/{module_id}/complete", CompleteModule(d.Mutator))
		r.Post("/v1/courses/{course_id}/enroll", Enroll(d.Mutator))

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Get("/courses/{course_id}/progress", CourseReport(d.Progress))
			r.Post("/reconcile", Reconcile(d.Reconciler))
		})
	})
}
