package data

import (
	"context"
	"sync"

	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/models"
)

// Session is bound to one chart execution. Each code is loaded at most once,
// so every query in the session sees the same snapshot.
type Session struct {
	service *Service

	mu      sync.Mutex
	closed  bool
	queries int
	loaded  map[string]*models.Series
}

var _ interfaces.DataSession = (*Session)(nil)

func newSession(service *Service) *Session {
	return &Session{service: service, loaded: make(map[string]*models.Series)}
}

// FetchSeries returns the series restricted to the query's date range
func (s *Session) FetchSeries(ctx context.Context, query models.SeriesQuery) (*models.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, interfaces.ErrSessionClosed
	}
	s.queries++

	full, ok := s.loaded[query.Code]
	if !ok {
		var err error
		full, err = s.service.load(ctx, query.Code)
		if err != nil {
			return nil, err
		}
		s.loaded[query.Code] = full
	}

	return &models.Series{
		Code:      full.Code,
		Name:      full.Name,
		Points:    full.Slice(query.Start, query.End),
		FetchedAt: full.FetchedAt,
	}, nil
}

// Queries returns the number of FetchSeries calls made so far
func (s *Session) Queries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

// Close releases the session's snapshot. Calling Close twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.loaded = nil
	return nil
}
