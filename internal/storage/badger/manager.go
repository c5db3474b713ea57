package badger

import (
	"time"

	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/common"
	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
)

// gcInterval paces value log GC on the shared store
const gcInterval = 10 * time.Minute

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db     *BadgerDB
	charts interfaces.ChartStorage
	series interfaces.SeriesCache
	logger arbor.ILogger
}

var _ interfaces.StorageManager = (*Manager)(nil)

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	db.StartGC(gcInterval)

	manager := &Manager{
		db:     db,
		charts: NewChartStorage(db, logger),
		series: NewSeriesCache(db, logger),
		logger: logger,
	}

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
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
		return m.db.Store()
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
