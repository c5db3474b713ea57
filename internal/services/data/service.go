// Package data implements the data query layer chart scripts read through.
// Every execution gets its own session; series are read through a cache in
// front of an optional upstream source.
package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/models"
)

// Config controls cache freshness.
type Config struct {
	// MaxAge is how long a cached series is served before the source is
	// asked again. Zero serves cached entries forever.
	MaxAge time.Duration
	// TTL is handed to the cache when a fetched series is stored.
	TTL time.Duration
}

// Service opens data sessions
type Service struct {
	cache  interfaces.SeriesCache
	source interfaces.SeriesSource
	config Config
	logger arbor.ILogger
	now    func() time.Time
}

var _ interfaces.DataService = (*Service)(nil)

// NewService creates a data service. source may be nil, in which case only
// cached series are served.
func NewService(cache interfaces.SeriesCache, source interfaces.SeriesSource, config Config, logger arbor.ILogger) *Service {
	return &Service{
		cache:  cache,
		source: source,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// OpenSession returns a fresh session. The caller must Close it.
func (s *Service) OpenSession(ctx context.Context) (interfaces.DataSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newSession(s), nil
}

// Put stores a series in the cache directly, for imports and tests.
func (s *Service) Put(ctx context.Context, series *models.Series) error {
	if series.FetchedAt.IsZero() {
		series.FetchedAt = s.now().UTC()
	}
	return s.cache.PutSeries(ctx, series, s.config.TTL)
}

// load resolves a full series: fresh cache entry, then source, then a stale
// cache entry when the source is unavailable.
func (s *Service) load(ctx context.Context, code string) (*models.Series, error) {
	cached, err := s.cache.GetSeries(ctx, code)
	if err != nil && !errors.Is(err, interfaces.ErrSeriesNotCached) {
		s.logger.Warn().Err(err).Str("code", code).Msg("Series cache read failed")
		cached = nil
	}
	if cached != nil && s.fresh(cached) {
		return cached, nil
	}

	if s.source == nil {
		if cached != nil {
			return cached, nil
		}
		return nil, fmt.Errorf("%s: %w", code, interfaces.ErrSeriesNotFound)
	}

	fetched, err := s.source.FetchSeries(ctx, code)
	if err != nil {
		if cached != nil && !errors.Is(err, interfaces.ErrSeriesNotFound) && ctx.Err() == nil {
			s.logger.Warn().Err(err).Str("code", code).Msg("Source unavailable, serving stale series")
			return cached, nil
		}
		return nil, err
	}
	if fetched.FetchedAt.IsZero() {
		fetched.FetchedAt = s.now().UTC()
	}
	if err := s.cache.PutSeries(ctx, fetched, s.config.TTL); err != nil {
		s.logger.Warn().Err(err).Str("code", code).Msg("Failed to cache series")
	}
	return fetched, nil
}

func (s *Service) fresh(series *models.Series) bool {
	if s.config.MaxAge <= 0 {
		return true
	}
	return s.now().Sub(series.FetchedAt) < s.config.MaxAge
}
