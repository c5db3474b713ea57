package eodhd

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/models"
)

// Source serves full adjusted-close histories as chart series.
type Source struct {
	client          *Client
	defaultExchange string
	logger          arbor.ILogger
}

var _ interfaces.SeriesSource = (*Source)(nil)

// NewSource creates a series source backed by the client
func NewSource(client *Client, defaultExchange string, logger arbor.ILogger) *Source {
	return &Source{client: client, defaultExchange: defaultExchange, logger: logger}
}

// FetchSeries returns the full daily history for code. Unknown symbols map to
// interfaces.ErrSeriesNotFound.
func (s *Source) FetchSeries(ctx context.Context, code string) (*models.Series, error) {
	symbol := Symbol(code, s.defaultExchange)
	if symbol == "" {
		return nil, fmt.Errorf("empty series code: %w", interfaces.ErrSeriesNotFound)
	}

	bars, err := s.client.GetEOD(ctx, symbol)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%s (%s): %w", code, symbol, interfaces.ErrSeriesNotFound)
		}
		return nil, fmt.Errorf("failed to fetch %s from EODHD: %w", symbol, err)
	}

	series := &models.Series{
		Code:      code,
		Name:      code,
		Points:    make([]models.SeriesPoint, 0, len(bars)),
		FetchedAt: time.Now().UTC(),
	}
	for _, bar := range bars {
		value := bar.AdjustedClose
		if value == 0 {
			value = bar.Close
		}
		series.Points = append(series.Points, models.SeriesPoint{Date: bar.Date, Value: value})
	}

	s.logger.Debug().
		Str("code", code).
		Str("symbol", symbol).
		Int("points", len(series.Points)).
		Msg("Fetched series from EODHD")

	return series, nil
}
