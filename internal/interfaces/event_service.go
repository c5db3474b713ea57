package interfaces

import (
	"context"
	"time"
)

// EventType names a notification; it doubles as the websocket message type
type EventType string

const (
	EventChartRendered     EventType = "chart_rendered"
	EventChartRenderFailed EventType = "chart_render_failed"
	EventChartDeleted      EventType = "chart_deleted"
	EventExportProgress    EventType = "export_progress"
	EventExportCompleted   EventType = "export_completed"
	EventRefreshCompleted  EventType = "refresh_completed"
)

// Event is one notification. Time is stamped at publish when unset.
type Event struct {
	Type    EventType
	Payload interface{}
	Time    time.Time
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService is the in-process event bus
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error
	// Publish delivers without waiting; handlers outlive ctx cancellation
	Publish(ctx context.Context, event Event) error
	// PublishSync waits for every handler and reports their failures
	PublishSync(ctx context.Context, event Event) error
	Close() error
}
