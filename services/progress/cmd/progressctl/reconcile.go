package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/learning-platform/services/progress/internal/progress"
	"github.com/example/learning-platform/services/progress/internal/store"
)

type reconcileFlags struct {
	batchSize   int
	maxBatches  int
	afterUser   string
	afterModule string
	schedule    string
}

func newReconcileCmd(a *app) *cobra.Command {
	var f reconcileFlags
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Mark every lesson of each completed module as completed",
		Long: "Re-applies module → lesson propagation to all completed modules. " +
			"Safe to re-run; prints a JSON report with the cursor to resume from.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			after, err := f.cursor()
			if err != nil {
				return err
			}
			st, closeFn, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer closeFn()
			}
			rec := progress.NewReconciler(st, a.propagator(st), nil, a.log)
			opts := progress.ReconcileOptions{BatchSize: f.batchSize, MaxBatches: f.maxBatches, After: after}

			if f.schedule == "" {
				rep, err := rec.Run(cmd.Context(), opts)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rep)
			}
			sw := &sweep{rec: rec, opts: opts}
			return runScheduled(cmd.Context(), a.log, f.schedule, func(ctx context.Context) {
				rep, err := sw.next(ctx)
				if err != nil {
					a.log.Error("scheduled reconcile failed", zap.Error(err))
					return
				}
				_ = printJSON(cmd.OutOrStdout(), rep)
			})
		},
	}
	cmd.Flags().IntVar(&f.batchSize, "batch-size", envInt("RECONCILE_BATCH_SIZE", 500), "module completions per page")
	cmd.Flags().IntVar(&f.maxBatches, "max-batches", 0, "stop after this many pages (0 = all)")
	cmd.Flags().StringVar(&f.afterUser, "after-user", "", "resume cursor user_id")
	cmd.Flags().StringVar(&f.afterModule, "after-module", "", "resume cursor module_id")
	cmd.Flags().StringVar(&f.schedule, "schedule", strings.TrimSpace(os.Getenv("RECONCILE_SCHEDULE")), "cron spec; run repeatedly until interrupted")
	return cmd
}

// sweep carries the reconcile cursor across scheduled runs. Each run resumes
// where the previous one stopped; a finished pass starts over from the top.
type sweep struct {
	rec  *progress.Reconciler
	opts progress.ReconcileOptions
}

func (s *sweep) next(ctx context.Context) (progress.ReconcileReport, error) {
	rep, err := s.rec.Run(ctx, s.opts)
	switch {
	case rep.Done:
		s.opts.After = nil
	case rep.Cursor != nil:
		s.opts.After = rep.Cursor
	}
	return rep, err
}

func (f reconcileFlags) cursor() (*store.Cursor, error) {
	if f.afterUser == "" && f.afterModule == "" {
		return nil, nil
	}
	u, err := uuid.Parse(f.afterUser)
	if err != nil {
		return nil, fmt.Errorf("--after-user: %w", err)
	}
	m, err := uuid.Parse(f.afterModule)
	if err != nil {
		return nil, fmt.Errorf("--after-module: %w", err)
	}
	return &store.Cursor{UserID: u, ModuleID: m}, nil
}

// runScheduled runs job on spec until SIGINT/SIGTERM or ctx ends. Overlapping
// runs are skipped.
func runScheduled(ctx context.Context, log *zap.Logger, spec string, job func(context.Context)) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() { job(ctx) }); err != nil {
		return fmt.Errorf("invalid --schedule %q: %w", spec, err)
	}
	c.Start()
	log.Info("reconcile scheduler started", zap.String("schedule", spec))

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info("reconcile scheduler stopped")
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
