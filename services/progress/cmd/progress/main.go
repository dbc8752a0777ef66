package main

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/learning-platform/internal/platform/auth"
	"github.com/example/learning-platform/internal/platform/config"
	"github.com/example/learning-platform/internal/platform/db"
	"github.com/example/learning-platform/internal/platform/events"
	"github.com/example/learning-platform/internal/platform/httpserver"
	"github.com/example/learning-platform/internal/platform/logging"
	"github.com/example/learning-platform/internal/platform/metrics"
	"github.com/example/learning-platform/internal/platform/natsconn"
	"github.com/example/learning-platform/internal/platform/run"
	progresscfg "github.com/example/learning-platform/services/progress/internal/config"
	"github.com/example/learning-platform/services/progress/internal/handlers"
	"github.com/example/learning-platform/services/progress/internal/lock"
	"github.com/example/learning-platform/services/progress/internal/progress"
	"github.com/example/learning-platform/services/progress/internal/store"
	"github.com/example/learning-platform/services/progress/internal/worker"
)

func main() {
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	pcfg, err := progresscfg.Load()
	if err != nil {
		panic(err)
	}
	base, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = base.Sync() }()
	log := logging.ForService(base, cfg.ServiceName)

	st, closeStore := initStore(log, cfg, pcfg)
	if closeStore != nil {
		defer closeStore()
	}

	reg := metrics.NewRegistry()
	m := progress.NewMetrics(reg)

	var js nats.JetStreamContext
	if pcfg.NATSURL != "" {
		nc, err := natsconn.Connect(natsconn.Options{URL: pcfg.NATSURL, Name: cfg.ServiceName})
		if err != nil {
			if pcfg.DispatchMode == progresscfg.DispatchJetStream {
				log.Fatal("nats is required for jetstream dispatch", zap.Error(err))
			}
			log.Warn("nats unavailable, progress events disabled", zap.Error(err))
		} else {
			defer nc.Close()
			js = initJetStream(log, nc)
		}
	}

	locker := lock.NewLocker(pcfg.RedisURL, pcfg.LockWait)
	propagator := progress.NewPropagator(progress.PropagatorOptions{
		Store:   st,
		Locker:  locker,
		LockTTL: pcfg.LockTTL,
		Events:  events.New(js, log),
		Metrics: m,
		Logger:  log,
	})

	runner := run.New(log)
	runner.ShutdownTimeout = cfg.ShutdownTimeout
	inline := progress.InlineDispatcher{Handler: propagator}
	var (
		dispatcher progress.Dispatcher = inline
		async      *progress.AsyncDispatcher
	)
	switch pcfg.DispatchMode {
	case progresscfg.DispatchAsync:
		async = progress.NewAsyncDispatcher(propagator, pcfg.AsyncWorkers, 0, log)
		dispatcher = async
	case progresscfg.DispatchJetStream:
		dispatcher = worker.NewJetStreamDispatcher(js, inline, log)
	}
	log.Info("propagation dispatcher", zap.String("mode", string(pcfg.DispatchMode)))

	agg := progress.NewAggregator(st)
	svc := progress.NewService(st, dispatcher, log)
	rec := progress.NewReconciler(st, propagator, m, log)

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		ReadyFunc: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := st.Ping(ctx); err != nil {
				return err
			}
			return lock.Ping(ctx, locker)
		},
		Gatherer: reg,
		Logger:   log,
	})
	handlers.Register(r, handlers.Deps{
		Verifier:   auth.JWTVerifier{Secret: []byte(pcfg.JWTSecret)},
		Progress:   agg,
		Mutator:    svc,
		Reconciler: rec,
		Gate:       handlers.EnrollmentGate{Store: st, Required: pcfg.RequireEnrollment},
	})
	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, Logger: log, Router: r})

	grpcSrv := startHealth(log, cfg.GRPC.Addr)

	code := runner.WithSignals(func(ctx context.Context) error {
		if pcfg.DispatchMode == progresscfg.DispatchJetStream && js != nil {
			err := worker.StartPropagationConsumer(ctx, js, propagator, log, worker.ConsumerOptions{})
			if err != nil {
				return err
			}
		}
		go func() {
			<-ctx.Done()
			if grpcSrv != nil {
				grpcSrv.GracefulStop()
			}
			runner.Graceful(srv.Shutdown)
		}()
		return srv.Start()
	})

	if async != nil {
		runner.Graceful(async.Close)
	}
	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

// initStore selects the Postgres store, falling back to memory outside
// production when DATABASE_URL is unset or unreachable.
func initStore(log *zap.Logger, cfg config.AppConfig, pcfg progresscfg.Config) (store.Store, func()) {
	if pcfg.DatabaseURL == "" {
		if cfg.IsProduction() {
			log.Fatal("DATABASE_URL is required in production")
		}
		log.Warn("DATABASE_URL not set, using in-memory progress store (development only)")
		return memoryStore(pcfg), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := db.Open(ctx, db.Options{URL: pcfg.DatabaseURL, MaxConns: pcfg.DBMaxConns})
	if err != nil {
		if cfg.IsProduction() {
			log.Fatal("postgres is required in production but unavailable", zap.Error(err))
		}
		log.Warn("postgres unavailable, falling back to in-memory store", zap.Error(err))
		return memoryStore(pcfg), nil
	}
	log.Info("progress store: postgres")
	ps := store.NewPostgresStore(pool)
	ps.LockWait = pcfg.LockWait
	return ps, pool.Close
}

func memoryStore(pcfg progresscfg.Config) *store.InMemoryStore {
	s := store.NewInMemoryStore()
	s.LockWait = pcfg.LockWait
	return s
}

func initJetStream(log *zap.Logger, nc *nats.Conn) nats.JetStreamContext {
	js, err := nc.JetStream()
	if err != nil {
		log.Warn("jetstream unavailable", zap.Error(err))
		return nil
	}
	for _, spec := range []natsconn.StreamSpec{events.Stream, worker.Stream} {
		if err := natsconn.EnsureStream(js, spec); err != nil {
			log.Warn("ensure stream", zap.String("stream", spec.Name), zap.Error(err))
		}
	}
	return js
}

// startHealth serves the standard gRPC health service when addr is set.
func startHealth(log *zap.Logger, addr string) *grpc.Server {
	if addr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("grpc listen", zap.Error(err))
		return nil
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	go func() {
		log.Info("grpc health server starting", zap.String("addr", addr))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("grpc serve", zap.Error(err))
		}
	}()
	return srv
}
