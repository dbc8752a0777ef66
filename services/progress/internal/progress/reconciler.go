package progress

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/learning-platform/services/progress/internal/store"
)

const defaultBatchSize = 500

type ReconcileOptions struct {
	BatchSize int
	// After resumes a previous run strictly past this position.
	After *store.Cursor
	// MaxBatches stops after that many pages; zero means until exhausted.
	MaxBatches int
}

type ReconcileReport struct {
	Modules        int           `json:"modules"`
	Created        int           `json:"created"`
	Updated        int           `json:"updated"`
	AlreadyCorrect int           `json:"already_correct"`
	Failed         int           `json:"failed"`
	Cursor         *store.Cursor `json:"cursor,omitempty"`
	Done           bool          `json:"done"`
	Duration       time.Duration `json:"duration_ns"`
}

// Reconciler re-applies Rule B to every completed module. It repairs
// lessons left behind by failed or abandoned propagation and is safe to
// run repeatedly.
type Reconciler struct {
	store      store.Store
	propagator *Propagator
	metrics    *Metrics
	log        *zap.Logger
}

func NewReconciler(s store.Store, p *Propagator, m *Metrics, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{store: s, propagator: p, metrics: m, log: log.With(zap.String("component", "reconciler"))}
}

// Run walks module completions in keyset order. Per-module failures are
// counted and skipped; a context error stops the run and the report's
// cursor tells where to resume.
func (r *Reconciler) Run(ctx context.Context, opts ReconcileOptions) (ReconcileReport, error) {
	start := time.Now()
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	rep := ReconcileReport{Cursor: opts.After}

	for pages := 0; opts.MaxBatches <= 0 || pages < opts.MaxBatches; pages++ {
		page, err := r.store.ListModuleCompletions(ctx, rep.Cursor, batch)
		if err != nil {
			rep.Duration = time.Since(start)
			return rep, err
		}
		for _, mc := range page {
			if err := ctx.Err(); err != nil {
				rep.Duration = time.Since(start)
				return rep, err
			}
			res, err := r.propagator.ModuleCompleted(ctx, mc.UserID, mc.ModuleID, false)
			rep.Modules++
			rep.Created += res.Created
			rep.Updated += res.Updated
			rep.AlreadyCorrect += res.AlreadyCorrect
			r.metrics.reconcile(res)
			if err != nil {
				rep.Failed++
				r.log.Warn("reconcile module failed",
					zap.String("user_id", mc.UserID.String()),
					zap.String("module_id", mc.ModuleID.String()),
					zap.Error(err))
			}
			rep.Cursor = store.CursorOf(mc)
		}
		if len(page) < batch {
			rep.Done = true
			break
		}
	}

	r.log.Info("reconcile finished",
		zap.Int("modules", rep.Modules),
		zap.Int("created", rep.Created),
		zap.Int("updated", rep.Updated),
		zap.Int("already_correct", rep.AlreadyCorrect),
		zap.Int("failed", rep.Failed),
		zap.Bool("done", rep.Done))
	rep.Duration = time.Since(start)
	return rep, nil
}
