package sqlite

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/common"
	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
)

// Manager implements the StorageManager interface
type Manager struct {
	db     *SQLiteDB
	charts interfaces.ChartStorage
	series interfaces.SeriesCache
	logger arbor.ILogger
}

var _ interfaces.StorageManager = (*Manager)(nil)

// NewManager creates a new SQLite storage manager
func NewManager(logger arbor.ILogger, config *common.SQLiteConfig) (*Manager, error) {
	db, err := NewSQLiteDB(logger, config)
	if err != nil {
		return nil, err
	}

	series := NewSeriesCache(db, logger)
	if purged, err := series.PurgeExpired(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("Failed to purge expired series")
	} else if purged > 0 {
		logger.Debug().Int("purged", int(purged)).Msg("Purged expired cached series")
	}

	return &Manager{
		db:     db,
		charts: NewChartStorage(db, logger),
		series: series,
		logger: logger,
	}, nil
}

// ChartStorage returns the Chart storage interface
func (m *Manager) ChartStorage() interfaces.ChartStorage {
	return m.charts
}

// SeriesCache returns the series cache
func (m *Manager) SeriesCache() interfaces.SeriesCache {
	return m.series
}

// DB returns the underlying database connection
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.DB()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
