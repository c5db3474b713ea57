package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/HTF1125/investment-x-sub000/internal/models"
)

// ErrChartNotFound is returned when a chart id does not exist
var ErrChartNotFound = errors.New("chart not found")

// ErrSeriesNotCached is returned by a series cache miss
var ErrSeriesNotCached = errors.New("series not cached")

// ChartStorage - interface for chart definition persistence
type ChartStorage interface {
	// SaveChart inserts or replaces the chart keyed by its ID
	SaveChart(ctx context.Context, chart *models.Chart) error

	// GetChart returns ErrChartNotFound when the id is unknown
	GetChart(ctx context.Context, id string) (*models.Chart, error)

	// GetChartByName finds a chart by owner and display name (used by seeding)
	GetChartByName(ctx context.Context, ownerID, name string) (*models.Chart, error)

	// ListCharts returns charts matching the filter ordered by rank ascending, then most recently updated
	ListCharts(ctx context.Context, filter models.ChartFilter) ([]*models.Chart, error)

	// DeleteChart returns ErrChartNotFound when the id is unknown
	DeleteChart(ctx context.Context, id string) error

	CountCharts(ctx context.Context) (int, error)
}

// SeriesCache - interface for cached market/macro series
type SeriesCache interface {
	// GetSeries returns ErrSeriesNotCached on a miss or an expired entry
	GetSeries(ctx context.Context, code string) (*models.Series, error)
	PutSeries(ctx context.Context, series *models.Series, ttl time.Duration) error
	DeleteSeries(ctx context.Context, code string) error
}

// StorageManager - interface for managing all storage backends
type StorageManager interface {
	ChartStorage() ChartStorage
	SeriesCache() SeriesCache
	DB() interface{}
	Close() error
}
