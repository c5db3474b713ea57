package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/models"
)

// ChartStorage implements the ChartStorage interface for Badger
type ChartStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.ChartStorage = (*ChartStorage)(nil)

// NewChartStorage creates a new ChartStorage instance
func NewChartStorage(db *BadgerDB, logger arbor.ILogger) *ChartStorage {
	return &ChartStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ChartStorage) SaveChart(ctx context.Context, chart *models.Chart) error {
	if chart.ID == "" {
		return fmt.Errorf("chart ID is required")
	}
	if chart.CreatedAt.IsZero() {
		chart.CreatedAt = time.Now().UTC()
	}
	if chart.UpdatedAt.IsZero() {
		chart.UpdatedAt = chart.CreatedAt
	}

	if err := s.db.Store().Upsert(chart.ID, chart); err != nil {
		return fmt.Errorf("failed to save chart: %w", err)
	}
	return nil
}

func (s *ChartStorage) GetChart(ctx context.Context, id string) (*models.Chart, error) {
	var chart models.Chart
	if err := s.db.Store().Get(id, &chart); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", id, interfaces.ErrChartNotFound)
		}
		return nil, fmt.Errorf("failed to get chart: %w", err)
	}
	chart.ID = id
	return &chart, nil
}

func (s *ChartStorage) GetChartByName(ctx context.Context, ownerID, name string) (*models.Chart, error) {
	var charts []models.Chart
	query := badgerhold.Where("OwnerID").Eq(ownerID).And("Name").Eq(name)
	if err := s.db.Store().Find(&charts, query); err != nil {
		return nil, fmt.Errorf("failed to find chart by name: %w", err)
	}
	if len(charts) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", ownerID, name, interfaces.ErrChartNotFound)
	}
	return &charts[0], nil
}

func (s *ChartStorage) ListCharts(ctx context.Context, filter models.ChartFilter) ([]*models.Chart, error) {
	var query *badgerhold.Query
	if filter.Category != "" {
		query = badgerhold.Where("Category").Eq(filter.Category)
	}

	var charts []models.Chart
	if err := s.db.Store().Find(&charts, query); err != nil {
		return nil, fmt.Errorf("failed to list charts: %w", err)
	}

	out := make([]*models.Chart, 0, len(charts))
	for i := range charts {
		if filter.Matches(&charts[i]) {
			out = append(out, &charts[i])
		}
	}
	models.SortCharts(out)
	return filter.Page(out), nil
}

func (s *ChartStorage) DeleteChart(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, models.Chart{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("%s: %w", id, interfaces.ErrChartNotFound)
		}
		return fmt.Errorf("failed to delete chart: %w", err)
	}
	return nil
}

func (s *ChartStorage) CountCharts(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Chart{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count charts: %w", err)
	}
	return int(count), nil
}
