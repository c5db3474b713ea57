package interfaces

import (
	"context"
	"errors"

	"github.com/HTF1125/investment-x-sub000/internal/models"
)

// ErrSessionClosed is returned when a data session is used after Close
var ErrSessionClosed = errors.New("data session closed")

// ErrSeriesNotFound is returned when no source knows the requested code
var ErrSeriesNotFound = errors.New("series not found")

// SeriesSource fetches a full series from an upstream provider
type SeriesSource interface {
	FetchSeries(ctx context.Context, code string) (*models.Series, error)
}

// DataSession is a single scoped connection to the data layer.
// One session serves exactly one chart execution and is never reused.
type DataSession interface {
	// FetchSeries returns the series restricted to the query's date range.
	// Repeated queries within a session observe the same data.
	FetchSeries(ctx context.Context, query models.SeriesQuery) (*models.Series, error)

	// Queries returns the number of FetchSeries calls made so far
	Queries() int

	// Close releases the session. Calling Close twice is a no-op.
	Close() error
}

// DataService opens data sessions
type DataService interface {
	OpenSession(ctx context.Context) (DataSession, error)
}
