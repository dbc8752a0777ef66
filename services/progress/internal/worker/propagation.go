// Package worker moves propagation jobs through NATS JetStream so they run
// after the triggering request has returned, on any instance.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/learning-platform/internal/platform/natsconn"
	"github.com/example/learning-platform/services/progress/internal/course"
	"github.com/example/learning-platform/services/progress/internal/progress"
)

const (
	subjectPrefix = "progress.propagate."
	durableName   = "progress_propagation"
)

// Stream holds pending propagation jobs.
var Stream = natsconn.StreamSpec{
	Name:     "PROGRESS_PROPAGATION",
	Subjects: []string{subjectPrefix + ">"},
	MaxAge:   72 * time.Hour,
}

func subjectFor(kind progress.JobKind) string {
	return subjectPrefix + string(kind)
}

func encodeJob(job progress.Job) ([]byte, error) {
	if job.Kind == "" {
		return nil, errors.New("job kind is required")
	}
	return json.Marshal(job)
}

func decodeJob(subject string, data []byte) (progress.Job, error) {
	var job progress.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return progress.Job{}, err
	}
	if kind := strings.TrimPrefix(subject, subjectPrefix); kind != subject && job.Kind == "" {
		job.Kind = progress.JobKind(kind)
	}
	if job.Kind == "" {
		return progress.Job{}, fmt.Errorf("job on %s has no kind", subject)
	}
	return job, nil
}

// JetStreamDispatcher enqueues jobs on JetStream. If the publish fails the
// job runs through Fallback so no propagation is silently lost.
type JetStreamDispatcher struct {
	js       nats.JetStreamContext
	fallback progress.Dispatcher
	log      *zap.Logger
}

func NewJetStreamDispatcher(js nats.JetStreamContext, fallback progress.Dispatcher, log *zap.Logger) *JetStreamDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &JetStreamDispatcher{js: js, fallback: fallback, log: log.With(zap.String("component", "jetstream_dispatcher"))}
}

func (d *JetStreamDispatcher) Dispatch(ctx context.Context, job progress.Job) {
	if d.js == nil {
		d.runFallback(ctx, job)
		return
	}
	data, err := encodeJob(job)
	if err != nil {
		d.log.Warn("encode propagation job", zap.Error(err))
		return
	}
	if _, err := d.js.Publish(subjectFor(job.Kind), data, nats.Context(context.WithoutCancel(ctx))); err != nil {
		d.log.Warn("enqueue propagation job failed, running fallback",
			zap.String("kind", string(job.Kind)), zap.Error(err))
		d.runFallback(ctx, job)
	}
}

func (d *JetStreamDispatcher) runFallback(ctx context.Context, job progress.Job) {
	if d.fallback == nil {
		d.log.Error("drift candidate: propagation job dropped",
			zap.String("kind", string(job.Kind)),
			zap.String("user_id", job.UserID.String()),
			zap.String("target_id", job.TargetID.String()))
		return
	}
	d.fallback.Dispatch(ctx, job)
}

type ConsumerOptions struct {
	BatchSize int
	MaxWait   time.Duration
}

// StartPropagationConsumer pulls jobs and hands them to h until ctx is done.
// Lock conflicts are redelivered; every other outcome is acknowledged since
// the propagator has already logged it and reconciliation covers the rest.
func StartPropagationConsumer(ctx context.Context, js nats.JetStreamContext, h progress.Handler, log *zap.Logger, opts ConsumerOptions) error {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 2 * time.Second
	}
	log = log.With(zap.String("component", "propagation_consumer"))

	sub, err := js.PullSubscribe(subjectPrefix+">", durableName)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subjectPrefix+">", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msgs, err := sub.Fetch(opts.BatchSize, nats.MaxWait(opts.MaxWait))
			if err != nil {
				if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				log.Warn("fetch failed", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}
			for _, m := range msgs {
				handleMsg(ctx, h, log, m)
			}
		}
	}()
	return nil
}

func handleMsg(ctx context.Context, h progress.Handler, log *zap.Logger, m *nats.Msg) {
	job, err := decodeJob(m.Subject, m.Data)
	if err != nil {
		log.Warn("invalid propagation job", zap.String("subject", m.Subject), zap.Error(err))
		if err := m.Term(); err != nil {
			log.Warn("term failed", zap.Error(err))
		}
		return
	}
	if err := h.Handle(ctx, job); err != nil && shouldRetry(err) {
		if err := m.Nak(); err != nil {
			log.Warn("nak failed", zap.Error(err))
		}
		return
	}
	if err := m.Ack(); err != nil {
		log.Warn("ack failed", zap.Error(err))
	}
}

func shouldRetry(err error) bool {
	return errors.Is(err, course.ErrConcurrentUpdate) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
