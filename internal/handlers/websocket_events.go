package handlers

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/services/tasks"
)

// broadcastEvents are forwarded to websocket clients
var broadcastEvents = []interfaces.EventType{
	interfaces.EventChartRendered,
	interfaces.EventChartRenderFailed,
	interfaces.EventChartDeleted,
	interfaces.EventExportProgress,
	interfaces.EventExportCompleted,
	interfaces.EventRefreshCompleted,
}

// EventSubscriber relays bus events to the websocket handler, throttling
// high-frequency event types
type EventSubscriber struct {
	handler      *WebSocketHandler
	eventService interfaces.EventService
	logger       arbor.ILogger
	throttlers   map[interfaces.EventType]*rate.Limiter
}

// NewEventSubscriber subscribes to every broadcast event. throttle maps an
// event type to the minimum interval between two forwarded events.
func NewEventSubscriber(handler *WebSocketHandler, eventService interfaces.EventService, throttle map[interfaces.EventType]time.Duration, logger arbor.ILogger) *EventSubscriber {
	s := &EventSubscriber{
		handler:      handler,
		eventService: eventService,
		logger:       logger,
		throttlers:   make(map[interfaces.EventType]*rate.Limiter),
	}
	for eventType, interval := range throttle {
		if interval > 0 {
			s.throttlers[eventType] = rate.NewLimiter(rate.Every(interval), 1)
		}
	}

	if eventService == nil {
		logger.Warn().Msg("EventSubscriber created with nil eventService - subscriptions will be skipped")
		return s
	}
	for _, eventType := range broadcastEvents {
		if err := eventService.Subscribe(eventType, s.forward); err != nil {
			logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to subscribe to event")
		}
	}
	return s
}

func (s *EventSubscriber) forward(_ context.Context, event interfaces.Event) error {
	if !s.allow(event) {
		return nil
	}
	s.handler.Broadcast(WSMessage{Type: string(event.Type), Payload: event.Payload, Time: event.Time})
	return nil
}

// allow applies the throttle. The final progress event of a task always
// passes so clients see 100%.
func (s *EventSubscriber) allow(event interfaces.Event) bool {
	limiter, ok := s.throttlers[event.Type]
	if !ok {
		return true
	}
	if p, ok := event.Payload.(tasks.ProgressPayload); ok && p.Total > 0 && p.Completed >= p.Total {
		return true
	}
	return limiter.Allow()
}
