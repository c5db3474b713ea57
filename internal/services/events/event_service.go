// Package events is the in-process pub/sub bus carrying chart and export
// notifications to websocket clients.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
)

// ErrClosed is returned by Publish and Subscribe after Close
var ErrClosed = errors.New("event service closed")

// Service fans events out to per-type subscribers. Asynchronous deliveries
// are detached from the publisher's cancellation and drained by Close.
type Service struct {
	mu          sync.RWMutex
	subscribers map[interfaces.EventType][]interfaces.EventHandler
	closed      bool
	inflight    sync.WaitGroup
	logger      arbor.ILogger
	now         func() time.Time
}

var _ interfaces.EventService = (*Service)(nil)

// NewService creates a new event service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		subscribers: make(map[interfaces.EventType][]interfaces.EventHandler),
		logger:      logger,
		now:         time.Now,
	}
}

// Subscribe registers a handler for an event type
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.subscribers[eventType] = append(s.subscribers[eventType], handler)

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")
	return nil
}

// snapshot returns the handlers for event and stamps it. The in-flight
// counter is raised under the lock so Close cannot miss a delivery.
func (s *Service) snapshot(event *interfaces.Event, async bool) ([]interfaces.EventHandler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if event.Time.IsZero() {
		event.Time = s.now()
	}
	handlers := append([]interfaces.EventHandler(nil), s.subscribers[event.Type]...)
	if async {
		s.inflight.Add(len(handlers))
	}
	return handlers, nil
}

// Publish delivers event to every subscriber without waiting
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	handlers, err := s.snapshot(&event, true)
	if err != nil || len(handlers) == 0 {
		return err
	}

	s.logger.Debug().
		Str("event_type", string(event.Type)).
		Int("subscriber_count", len(handlers)).
		Msg("Publishing event")

	detached := context.WithoutCancel(ctx)
	for _, handler := range handlers {
		go func(h interfaces.EventHandler) {
			defer s.inflight.Done()
			_ = s.invoke(detached, h, event)
		}(handler)
	}
	return nil
}

// PublishSync delivers event to every subscriber concurrently and waits.
// Handler failures are joined into the returned error.
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	handlers, err := s.snapshot(&event, false)
	if err != nil || len(handlers) == 0 {
		return err
	}

	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, handler := range handlers {
		wg.Add(1)
		go func(i int, h interfaces.EventHandler) {
			defer wg.Done()
			errs[i] = s.invoke(ctx, h, event)
		}(i, handler)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("event handlers failed: %d errors: %w", failed, errors.Join(errs...))
	}
	return nil
}

// invoke runs one handler; a panicking handler is reported as an error.
func (s *Service) invoke(ctx context.Context, h interfaces.EventHandler, event interfaces.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panicked: %v", r)
		}
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("event_type", string(event.Type)).
				Msg("Event handler failed")
		}
	}()
	return h(ctx, event)
}

// Close rejects further events and waits for asynchronous deliveries.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.subscribers = nil
	s.mu.Unlock()

	s.inflight.Wait()
	s.logger.Info().Msg("Event service closed")
	return nil
}
