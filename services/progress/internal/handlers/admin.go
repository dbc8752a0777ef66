package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/example/learning-platform/internal/platform/api"
	"github.com/example/learning-platform/internal/platform/httpserver"
	"github.com/example/learning-platform/services/progress/internal/progress"
	"github.com/example/learning-platform/services/progress/internal/store"
)

type reconcileRequest struct {
	BatchSize  int           `json:"batch_size"`
	MaxBatches int           `json:"max_batches"`
	After      *store.Cursor `json:"after,omitempty"`
}

// CourseReport handles GET /v1/admin/courses/{course_id}/progress
func CourseReport(pr ProgressReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		courseID, ok := pathUUID(w, r, "course_id")
		if !ok {
			return
		}
		rep, err := pr.GetCourseReport(r.Context(), courseID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, rep)
	}
}

// Reconcile handles POST /v1/admin/reconcile. An empty body runs a full pass.
func Reconcile(rec Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reconcileRequest
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			api.BadRequest(w, api.CodeInvalidJSON, "invalid JSON", httpserver.RequestIDFromContext(r.Context()), nil)
			return
		}
		rep, err := rec.Run(r.Context(), progress.ReconcileOptions{
			BatchSize:  req.BatchSize,
			MaxBatches: req.MaxBatches,
			After:      req.After,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, rep)
	}
}
