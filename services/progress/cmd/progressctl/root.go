package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/learning-platform/internal/platform/db"
	"github.com/example/learning-platform/internal/platform/logging"
	"github.com/example/learning-platform/services/progress/internal/lock"
	"github.com/example/learning-platform/services/progress/internal/progress"
	"github.com/example/learning-platform/services/progress/internal/store"
)

// opener returns the store to operate on and a close func.
type opener func(ctx context.Context, databaseURL string) (store.Store, func(), error)

func openPostgres(ctx context.Context, databaseURL string) (store.Store, func(), error) {
	pool, err := db.Open(ctx, db.Options{URL: databaseURL, MaxConns: 4})
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}

type app struct {
	open        opener
	databaseURL string
	redisURL    string
	logLevel    string
	log         *zap.Logger
}

func newRootCmd(open opener) *cobra.Command {
	a := &app{open: open}
	root := &cobra.Command{
		Use:          "progressctl",
		Short:        "Learning progress maintenance",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log, err := logging.New(a.logLevel)
			if err != nil {
				return err
			}
			a.log = logging.ForService(log, "progressctl")
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.databaseURL, "database-url", strings.TrimSpace(os.Getenv("DATABASE_URL")), "Postgres DSN (default $DATABASE_URL)")
	root.PersistentFlags().StringVar(&a.redisURL, "redis-url", strings.TrimSpace(os.Getenv("REDIS_URL")), "Redis URL for module leases (default $REDIS_URL)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "debug, info, warn or error")

	root.AddCommand(newMigrateCmd(a))
	root.AddCommand(newReconcileCmd(a))
	root.AddCommand(newProgressCmd(a))
	return root
}

func (a *app) store(ctx context.Context) (store.Store, func(), error) {
	if a.open == nil {
		return nil, nil, errors.New("no store configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return a.open(ctx, a.databaseURL)
}

func (a *app) propagator(st store.Store) *progress.Propagator {
	var locker lock.Locker
	if a.redisURL != "" {
		locker = lock.NewLocker(a.redisURL, 5*time.Second)
	}
	return progress.NewPropagator(progress.PropagatorOptions{Store: st, Locker: locker, Logger: a.log})
}
