// Package tasks runs batch exports in the background and tracks their
// progress for polling and websocket clients.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/common"
	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/models"
	"github.com/HTF1125/investment-x-sub000/internal/services/export"
	"github.com/HTF1125/investment-x-sub000/internal/theme"
)

var (
	ErrTaskNotFound = errors.New("export task not found")
	ErrTaskNotReady = errors.New("export task has not completed")
	ErrNoCharts     = errors.New("at least one chart id is required")
)

const DefaultRetention = time.Hour

// Exporter builds documents. *export.Service satisfies it.
type Exporter interface {
	Export(ctx context.Context, charts []*models.Chart, opts export.Options, progress export.ProgressFunc) (*export.Document, error)
}

// ChartGetter loads charts by id
type ChartGetter interface {
	Get(ctx context.Context, id string) (*models.Chart, error)
}

// Request starts one export
type Request struct {
	ChartIDs []string            `json:"ids"`
	Format   models.ExportFormat `json:"format"`
	Theme    string              `json:"theme"`
	Title    string              `json:"title"`
}

// ProgressPayload is published with export_progress events
type ProgressPayload struct {
	TaskID    string `json:"task_id"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Message   string `json:"message"`
}

type entry struct {
	task models.ExportTask
	doc  *export.Document
}

// Manager owns every export task of the process
type Manager struct {
	exporter  Exporter
	charts    ChartGetter
	events    interfaces.EventService
	logger    arbor.ILogger
	retention time.Duration
	now       func() time.Time

	mu    sync.RWMutex
	tasks map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a task manager. events may be nil. Finished tasks
// are dropped once older than retention.
func NewManager(exporter Exporter, charts ChartGetter, events interfaces.EventService, retention time.Duration, logger arbor.ILogger) *Manager {
	if retention <= 0 {
		retention = DefaultRetention
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		exporter:  exporter,
		charts:    charts,
		events:    events,
		logger:    logger,
		retention: retention,
		now:       time.Now,
		tasks:     make(map[string]*entry),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start registers a pending task and runs the export in the background.
// The returned task is a snapshot.
func (m *Manager) Start(req Request) (*models.ExportTask, error) {
	if len(req.ChartIDs) == 0 {
		return nil, ErrNoCharts
	}
	if req.Format == "" {
		req.Format = models.ExportFormatPDF
	}
	if req.Format != models.ExportFormatPDF && req.Format != models.ExportFormatHTML {
		return nil, fmt.Errorf("unsupported export format: %s", req.Format)
	}
	if m.ctx.Err() != nil {
		return nil, fmt.Errorf("task manager is closed")
	}

	now := m.now()
	e := &entry{task: models.ExportTask{
		ID:        common.NewExportID(),
		Format:    req.Format,
		Status:    models.ExportStatusPending,
		Message:   "queued",
		Progress:  "0/0",
		ChartIDs:  append([]string(nil), req.ChartIDs...),
		CreatedAt: now,
		UpdatedAt: now,
	}}

	m.mu.Lock()
	m.pruneLocked(now)
	m.tasks[e.task.ID] = e
	snapshot := e.task
	m.mu.Unlock()

	m.wg.Add(1)
	common.SafeGo(m.logger, "export-"+snapshot.ID, func() {
		defer m.wg.Done()
		m.run(snapshot.ID, req)
	})

	return &snapshot, nil
}

// Get returns a snapshot of the task
func (m *Manager) Get(id string) (*models.ExportTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	task := e.task
	return &task, nil
}

// List returns snapshots of every retained task, newest first
func (m *Manager) List() []models.ExportTask {
	m.mu.RLock()
	out := make([]models.ExportTask, 0, len(m.tasks))
	for _, e := range m.tasks {
		out = append(out, e.task)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Document returns the finished document of a completed task
func (m *Manager) Document(id string) (*export.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if e.task.Status != models.ExportStatusCompleted || e.doc == nil {
		return nil, ErrTaskNotReady
	}
	return e.doc, nil
}

// Close cancels running exports and waits for them to finish
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) run(id string, req Request) {
	m.update(id, func(t *models.ExportTask) {
		t.Status = models.ExportStatusRunning
		t.Message = "loading charts"
	})

	charts := make([]*models.Chart, 0, len(req.ChartIDs))
	for _, chartID := range req.ChartIDs {
		chart, err := m.charts.Get(m.ctx, chartID)
		if err != nil {
			// Unknown ids still get a page so the document matches the request
			m.logger.Warn().Err(err).Str("task_id", id).Str("chart_id", chartID).Msg("Export chart not loaded")
			chart = &models.Chart{ID: chartID, Name: chartID}
		}
		charts = append(charts, chart)
	}

	opts := export.Options{
		Format: req.Format,
		Theme:  theme.ParseMode(req.Theme),
		Title:  req.Title,
	}

	progress := func(completed, total int, message string) {
		m.update(id, func(t *models.ExportTask) {
			t.Completed = completed
			t.Total = total
			t.Progress = fmt.Sprintf("%d/%d", completed, total)
			t.Message = message
		})
		m.publish(interfaces.EventExportProgress, ProgressPayload{TaskID: id, Completed: completed, Total: total, Message: message})
	}

	doc, err := m.exporter.Export(m.ctx, charts, opts, progress)

	var final models.ExportTask
	m.mu.Lock()
	if e, ok := m.tasks[id]; ok {
		if err != nil {
			e.task.Status = models.ExportStatusFailed
			e.task.Error = err.Error()
			e.task.Message = "export failed"
		} else {
			e.doc = doc
			e.task.Status = models.ExportStatusCompleted
			e.task.Message = "export completed"
			e.task.Pages = doc.Pages
			e.task.Placeholders = doc.Placeholders
			e.task.Filename = doc.Filename
			e.task.ArchiveKey = doc.ArchiveKey
		}
		e.task.UpdatedAt = m.now()
		final = e.task
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Error().Err(err).Str("task_id", id).Msg("Export task failed")
	} else {
		m.logger.Info().
			Str("task_id", id).
			Int("pages", doc.Pages).
			Int("placeholders", doc.Placeholders).
			Msg("Export task completed")
	}
	m.publish(interfaces.EventExportCompleted, final)
}

func (m *Manager) update(id string, fn func(*models.ExportTask)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.tasks[id]; ok {
		fn(&e.task)
		e.task.UpdatedAt = m.now()
	}
}

// pruneLocked drops finished tasks past retention. Caller holds mu.
func (m *Manager) pruneLocked(now time.Time) {
	for id, e := range m.tasks {
		if e.task.IsTerminal() && now.Sub(e.task.UpdatedAt) > m.retention {
			delete(m.tasks, id)
		}
	}
}

func (m *Manager) publish(eventType interfaces.EventType, payload any) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(m.ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		m.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to publish export event")
	}
}
