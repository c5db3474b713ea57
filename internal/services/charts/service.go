// Package charts stores custom chart definitions together with their last
// rendered figure. Every write that changes the source re-executes it; a
// failed execution never replaces a good figure.
package charts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/common"
	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/models"
	"github.com/HTF1125/investment-x-sub000/internal/sandbox"
	"github.com/HTF1125/investment-x-sub000/internal/theme"
)

// ErrInvalidChart wraps every input validation failure.
var ErrInvalidChart = errors.New("invalid chart")

// Executor runs chart scripts. *sandbox.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, source string) (*sandbox.Result, error)
}

// CreateRequest carries a new chart definition.
type CreateRequest struct {
	Name        string   `json:"name" validate:"required,max=200"`
	Source      string   `json:"source" validate:"required"`
	Category    string   `json:"category" validate:"max=100"`
	Description string   `json:"description" validate:"max=10000"`
	Tags        []string `json:"tags" validate:"omitempty,dive,min=1,max=50"`
	Public      bool     `json:"public"`
	Rank        int      `json:"rank"`
	OwnerID     string   `json:"owner_id"`
}

// RenderOutcome reports how the execution attached to a write went.
type RenderOutcome struct {
	Rendered bool                    `json:"rendered"`
	Binding  string                  `json:"binding,omitempty"`
	Queries  int                     `json:"queries"`
	Duration time.Duration           `json:"duration"`
	Error    *sandbox.ExecutionError `json:"-"`
}

// RefreshSummary is the result of RefreshAll.
type RefreshSummary struct {
	Total     int               `json:"total"`
	Refreshed int               `json:"refreshed"`
	Failed    int               `json:"failed"`
	Failures  map[string]string `json:"failures,omitempty"`
}

// Service orchestrates chart persistence and execution
type Service struct {
	store    interfaces.ChartStorage
	executor Executor
	events   interfaces.EventService
	locks    *keyedMutex
	validate *validator.Validate
	logger   arbor.ILogger
	now      func() time.Time
}

// NewService creates a chart service. events may be nil.
func NewService(store interfaces.ChartStorage, executor Executor, events interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		store:    store,
		executor: executor,
		events:   events,
		locks:    newKeyedMutex(),
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// Create validates and stores a new chart, rendering it once. A failed
// render still stores the chart, without a figure; the failure is reported
// in the outcome rather than as an error.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Chart, *RenderOutcome, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(req.Source) == "" {
		return nil, nil, fmt.Errorf("%w: source is empty", ErrInvalidChart)
	}

	now := s.now().UTC()
	chart := &models.Chart{
		ID:          common.NewChartID(),
		OwnerID:     req.OwnerID,
		Source:      req.Source,
		Name:        req.Name,
		Category:    req.Category,
		Description: req.Description,
		Tags:        append([]string(nil), req.Tags...),
		Public:      req.Public,
		Rank:        req.Rank,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	outcome := s.render(ctx, chart)
	if err := s.store.SaveChart(ctx, chart); err != nil {
		return nil, nil, err
	}

	s.logger.Info().
		Str("chart_id", chart.ID).
		Str("name", chart.Name).
		Bool("rendered", outcome.Rendered).
		Msg("Chart created")

	return chart, outcome, nil
}

// Get returns the stored chart or interfaces.ErrChartNotFound
func (s *Service) Get(ctx context.Context, id string) (*models.Chart, error) {
	return s.store.GetChart(ctx, id)
}

// GetThemed returns the chart with its figure re-themed for the read. The
// stored figure is not modified.
func (s *Service) GetThemed(ctx context.Context, id string, mode theme.Mode) (*models.Chart, error) {
	chart, err := s.store.GetChart(ctx, id)
	if err != nil {
		return nil, err
	}
	if !chart.HasFigure() || mode == theme.Default {
		return chart, nil
	}
	themed, err := theme.ApplyJSON(chart.Figure, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to theme chart %s: %w", id, err)
	}
	out := chart.Clone()
	out.Figure = themed
	return out, nil
}

// List returns charts ordered by rank ascending, then most recently updated
func (s *Service) List(ctx context.Context, filter models.ChartFilter) ([]*models.Chart, error) {
	return s.store.ListCharts(ctx, filter)
}

// ListSummaries returns the metadata-only projection of List
func (s *Service) ListSummaries(ctx context.Context, filter models.ChartFilter) ([]models.ChartSummary, error) {
	charts, err := s.store.ListCharts(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]models.ChartSummary, len(charts))
	for i, c := range charts {
		out[i] = c.Summary()
	}
	return out, nil
}

// UpdateMetadata applies a partial metadata update. Source and figure are
// untouched.
func (s *Service) UpdateMetadata(ctx context.Context, id string, meta models.ChartMetadata) (*models.Chart, error) {
	if err := s.validateStruct(meta); err != nil {
		return nil, err
	}
	if meta.Name != nil && strings.TrimSpace(*meta.Name) == "" {
		return nil, fmt.Errorf("%w: name is empty", ErrInvalidChart)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	chart, err := s.store.GetChart(ctx, id)
	if err != nil {
		return nil, err
	}
	if meta.IsEmpty() {
		return chart, nil
	}

	meta.Apply(chart)
	s.touch(chart)
	if err := s.store.SaveChart(ctx, chart); err != nil {
		return nil, err
	}
	return chart, nil
}

// UpdateSource always stores the new source. On success the figure is
// replaced; on failure the previous figure is kept and the
// *sandbox.ExecutionError is returned alongside the saved chart.
func (s *Service) UpdateSource(ctx context.Context, id, source string) (*models.Chart, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("%w: source is empty", ErrInvalidChart)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	chart, err := s.store.GetChart(ctx, id)
	if err != nil {
		return nil, err
	}

	chart.Source = source
	outcome := s.render(ctx, chart)
	s.touch(chart)
	if err := s.store.SaveChart(ctx, chart); err != nil {
		return nil, err
	}
	if outcome.Error != nil {
		return chart, outcome.Error
	}
	return chart, nil
}

// Refresh re-executes the stored source. A failure leaves the figure and
// UpdatedAt as they were and is returned; only LastError changes.
func (s *Service) Refresh(ctx context.Context, id string) (*models.Chart, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	chart, err := s.store.GetChart(ctx, id)
	if err != nil {
		return nil, err
	}

	outcome := s.render(ctx, chart)
	if outcome.Error == nil {
		s.touch(chart)
	}
	if err := s.store.SaveChart(ctx, chart); err != nil {
		return nil, err
	}
	if outcome.Error != nil {
		return chart, outcome.Error
	}
	return chart, nil
}

// RefreshAll refreshes every stored chart in order, continuing past
// failures. It stops early only when ctx is done.
func (s *Service) RefreshAll(ctx context.Context) (*RefreshSummary, error) {
	charts, err := s.store.ListCharts(ctx, models.ChartFilter{})
	if err != nil {
		return nil, err
	}

	summary := &RefreshSummary{Total: len(charts), Failures: map[string]string{}}
	for _, c := range charts {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if _, err := s.Refresh(ctx, c.ID); err != nil {
			summary.Failed++
			summary.Failures[c.ID] = err.Error()
			continue
		}
		summary.Refreshed++
	}

	s.logger.Info().
		Int("total", summary.Total).
		Int("refreshed", summary.Refreshed).
		Int("failed", summary.Failed).
		Msg("Refreshed all charts")

	s.publish(ctx, interfaces.EventRefreshCompleted, summary)
	return summary, nil
}

// Delete removes a chart; an unknown id returns interfaces.ErrChartNotFound
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.store.DeleteChart(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("chart_id", id).Msg("Chart deleted")
	s.publish(ctx, interfaces.EventChartDeleted, map[string]string{"chart_id": id})
	return nil
}

// Execute runs a script without persisting anything.
func (s *Service) Execute(ctx context.Context, source string) (*sandbox.Result, error) {
	return s.executor.Execute(ctx, source)
}

// render executes chart.Source and records the outcome on the chart. The
// figure is only ever replaced by a successful execution.
func (s *Service) render(ctx context.Context, chart *models.Chart) *RenderOutcome {
	result, err := s.executor.Execute(ctx, chart.Source)
	if err != nil {
		execErr, ok := sandbox.AsExecutionError(err)
		if !ok {
			execErr = &sandbox.ExecutionError{Code: sandbox.CodeRuntime, Message: err.Error(), Cause: err}
		}
		chart.LastError = execErr.Error()
		chart.LastTrace = execErr.Trace

		s.logger.Warn().
			Str("chart_id", chart.ID).
			Str("code", string(execErr.Code)).
			Str("error", execErr.Message).
			Msg("Chart render failed")
		s.publish(ctx, interfaces.EventChartRenderFailed, map[string]string{
			"chart_id": chart.ID,
			"code":     string(execErr.Code),
			"error":    execErr.Message,
		})
		return &RenderOutcome{Error: execErr}
	}

	renderedAt := s.now().UTC()
	chart.Figure = result.JSON
	chart.RenderedAt = &renderedAt
	chart.LastError = ""
	chart.LastTrace = ""

	s.logger.Info().
		Str("chart_id", chart.ID).
		Str("binding", result.Binding).
		Str("duration", result.Duration.String()).
		Int("queries", result.Queries).
		Msg("Chart rendered")
	s.publish(ctx, interfaces.EventChartRendered, map[string]string{"chart_id": chart.ID})

	return &RenderOutcome{
		Rendered: true,
		Binding:  result.Binding,
		Queries:  result.Queries,
		Duration: result.Duration,
	}
}

// touch advances UpdatedAt, never backwards even if the clock does.
func (s *Service) touch(chart *models.Chart) {
	next := s.now().UTC()
	if !next.After(chart.UpdatedAt) {
		next = chart.UpdatedAt.Add(time.Nanosecond)
	}
	chart.UpdatedAt = next
}

func (s *Service) validateStruct(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChart, err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType interfaces.EventType, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish event")
	}
}
