package interfaces

import (
	"context"

	"github.com/pagewright/pagewright/internal/models"
)

// EventType represents different event types in the system
type EventType string

const (
	EventJobStarted   EventType = "job.started"
	EventJobProgress  EventType = "job.progress"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobCancelled EventType = "job.cancelled"
	EventWorkerOnline EventType = "worker.online"
	EventWorkerDead   EventType = "worker.dead"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages the pub/sub event bus
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes an event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	Close() error
}

// JobEventPublisher emits the per-job event stream (started/progress/terminal)
type JobEventPublisher interface {
	PublishJobEvent(ctx context.Context, event models.JobEvent)
}
