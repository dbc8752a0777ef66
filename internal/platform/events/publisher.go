// Package events publishes fire-and-forget progress events to NATS JetStream.
// Consumers (notifications, certificates, analytics) live outside this repo.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/learning-platform/internal/platform/natsconn"
)

const (
	SubjectModuleCompleted = "progress.module.completed"
	SubjectCourseCompleted = "progress.course.completed"

	StreamName = "PROGRESS_EVENTS"
)

// Stream is the JetStream stream capturing every subject above.
var Stream = natsconn.StreamSpec{
	Name:     StreamName,
	Subjects: []string{"progress.module.>", "progress.course.>"},
	MaxAge:   7 * 24 * time.Hour,
}

// Event is the envelope sent to all progress.* event subjects.
type Event struct {
	EventID    string         `json:"event_id"`
	EventName  string         `json:"event_name"`
	UserID     string         `json:"user_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Publisher publishes events asynchronously.
// The zero value and a nil pointer are both safe no-op stubs.
type Publisher struct {
	js  nats.JetStreamContext
	log *zap.Logger
}

// New creates a Publisher. Pass js=nil for a no-op stub.
func New(js nats.JetStreamContext, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{js: js, log: log}
}

// Publish sends an event. Failures are logged and never reach the caller.
func (p *Publisher) Publish(subject, eventName string, userID uuid.UUID, props map[string]any) {
	if p == nil || p.js == nil {
		return
	}
	data, err := json.Marshal(NewEvent(eventName, userID, props))
	if err != nil {
		p.log.Warn("events: marshal failed", zap.String("event", eventName), zap.Error(err))
		return
	}
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		p.log.Warn("events: publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

func NewEvent(eventName string, userID uuid.UUID, props map[string]any) Event {
	return Event{
		EventID:    uuid.NewString(),
		EventName:  eventName,
		UserID:     userID.String(),
		OccurredAt: time.Now().UTC(),
		Properties: props,
	}
}
