package handlers

import (
	"context"

	"github.com/HTF1125/investment-x-sub000/internal/models"
	"github.com/HTF1125/investment-x-sub000/internal/sandbox"
	"github.com/HTF1125/investment-x-sub000/internal/services/charts"
	"github.com/HTF1125/investment-x-sub000/internal/services/export"
	"github.com/HTF1125/investment-x-sub000/internal/services/tasks"
	"github.com/HTF1125/investment-x-sub000/internal/theme"
)

// ChartService is the chart API the HTTP layer needs. *charts.Service
// satisfies it.
type ChartService interface {
	Create(ctx context.Context, req charts.CreateRequest) (*models.Chart, *charts.RenderOutcome, error)
	GetThemed(ctx context.Context, id string, mode theme.Mode) (*models.Chart, error)
	List(ctx context.Context, filter models.ChartFilter) ([]*models.Chart, error)
	ListSummaries(ctx context.Context, filter models.ChartFilter) ([]models.ChartSummary, error)
	UpdateMetadata(ctx context.Context, id string, meta models.ChartMetadata) (*models.Chart, error)
	UpdateSource(ctx context.Context, id, source string) (*models.Chart, error)
	Refresh(ctx context.Context, id string) (*models.Chart, error)
	Delete(ctx context.Context, id string) error
	Execute(ctx context.Context, source string) (*sandbox.Result, error)
}

// ExportTasks is the task API the HTTP layer needs. *tasks.Manager
// satisfies it.
type ExportTasks interface {
	Start(req tasks.Request) (*models.ExportTask, error)
	Get(id string) (*models.ExportTask, error)
	List() []models.ExportTask
	Document(id string) (*export.Document, error)
}

var (
	_ ChartService = (*charts.Service)(nil)
	_ ExportTasks  = (*tasks.Manager)(nil)
)
