package progress

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type JobKind string

const (
	// JobLessonCompleted runs Rule A; TargetID is the lesson.
	JobLessonCompleted JobKind = "lesson_completed"
	// JobModuleCompleted runs Rule B; TargetID is the module.
	JobModuleCompleted JobKind = "module_completed"
)

// Job is one unit of post-commit propagation work.
type Job struct {
	Kind     JobKind   `json:"kind"`
	UserID   uuid.UUID `json:"user_id"`
	TargetID uuid.UUID `json:"target_id"`
	// Announce publishes completion events once Rule B has run.
	Announce bool `json:"announce,omitempty"`
}

// Dispatcher schedules a job after the triggering write has committed.
// Dispatch never reports propagation failures to the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job)
}

// Handler executes jobs. *Propagator is the production Handler.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// InlineDispatcher runs the job in the calling goroutine, detached from the
// caller's cancellation.
type InlineDispatcher struct {
	Handler Handler
}

func (d InlineDispatcher) Dispatch(ctx context.Context, job Job) {
	_ = d.Handler.Handle(context.WithoutCancel(ctx), job)
}

// AsyncDispatcher hands jobs to a fixed pool of workers. When the queue is
// full the job runs inline.
type AsyncDispatcher struct {
	handler Handler
	log     *zap.Logger
	queue   chan Job
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewAsyncDispatcher(h Handler, workers, queueSize int, log *zap.Logger) *AsyncDispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &AsyncDispatcher{
		handler: h,
		log:     log.With(zap.String("component", "async_dispatcher")),
		queue:   make(chan Job, queueSize),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d
}

func (d *AsyncDispatcher) work() {
	defer d.wg.Done()
	for job := range d.queue {
		_ = d.handler.Handle(context.Background(), job)
	}
}

func (d *AsyncDispatcher) Dispatch(ctx context.Context, job Job) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.closed {
		select {
		case d.queue <- job:
			return
		default:
			d.log.Warn("propagation queue full, running inline", zap.String("kind", string(job.Kind)))
		}
	}
	_ = d.handler.Handle(context.WithoutCancel(ctx), job)
}

// Close stops accepting work and waits for queued jobs or ctx.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
