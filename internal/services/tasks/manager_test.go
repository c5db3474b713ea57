package tasks

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/models"
	"github.com/HTF1125/investment-x-sub000/internal/services/events"
	"github.com/HTF1125/investment-x-sub000/internal/services/export"
	"github.com/HTF1125/investment-x-sub000/internal/theme"
)

type fakeExporter struct {
	mu      sync.Mutex
	charts  []*models.Chart
	opts    export.Options
	err     error
	release chan struct{}
}

func (f *fakeExporter) Export(ctx context.Context, charts []*models.Chart, opts export.Options, progress export.ProgressFunc) (*export.Document, error) {
	f.mu.Lock()
	f.charts, f.opts = charts, opts
	f.mu.Unlock()

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	for i := range charts {
		progress(i+1, len(charts), "page")
	}
	return &export.Document{Format: opts.Format, Bytes: []byte("%PDF"), Pages: len(charts), Placeholders: 1, Filename: "out.pdf"}, nil
}

type fakeCharts map[string]*models.Chart

func (f fakeCharts) Get(_ context.Context, id string) (*models.Chart, error) {
	if c, ok := f[id]; ok {
		return c, nil
	}
	return nil, interfaces.ErrChartNotFound
}

func waitTerminal(t *testing.T, m *Manager, id string) *models.ExportTask {
	t.Helper()
	var task *models.ExportTask
	require.Eventually(t, func() bool {
		var err error
		task, err = m.Get(id)
		return err == nil && task.IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)
	return task
}

func TestManager_CompletesAndPublishes(t *testing.T) {
	logger := arbor.NewLogger()
	bus := events.NewService(logger)

	var mu sync.Mutex
	var progress []ProgressPayload
	completed := make(chan models.ExportTask, 1)
	require.NoError(t, bus.Subscribe(interfaces.EventExportProgress, func(_ context.Context, e interfaces.Event) error {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, e.Payload.(ProgressPayload))
		return nil
	}))
	require.NoError(t, bus.Subscribe(interfaces.EventExportCompleted, func(_ context.Context, e interfaces.Event) error {
		completed <- e.Payload.(models.ExportTask)
		return nil
	}))

	exporter := &fakeExporter{}
	store := fakeCharts{"a": {ID: "a", Name: "A", Figure: json.RawMessage(`{}`)}}
	m := NewManager(exporter, store, bus, 0, logger)
	defer m.Close()

	task, err := m.Start(Request{ChartIDs: []string{"a", "missing"}, Theme: "dark"})
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusPending, task.Status)
	assert.Equal(t, models.ExportFormatPDF, task.Format)

	final := waitTerminal(t, m, task.ID)
	assert.Equal(t, models.ExportStatusCompleted, final.Status)
	assert.Equal(t, 2, final.Pages)
	assert.Equal(t, 1, final.Placeholders)
	assert.Equal(t, "2/2", final.Progress)
	assert.Equal(t, "out.pdf", final.Filename)

	exporter.mu.Lock()
	require.Len(t, exporter.charts, 2)
	assert.Equal(t, "missing", exporter.charts[1].ID)
	assert.False(t, exporter.charts[1].HasFigure())
	assert.Equal(t, theme.Dark, exporter.opts.Theme)
	exporter.mu.Unlock()

	doc, err := m.Document(task.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), doc.Bytes)

	select {
	case done := <-completed:
		assert.Equal(t, task.ID, done.ID)
		assert.Equal(t, models.ExportStatusCompleted, done.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("export_completed not published")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(progress) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestManager_FailedExport(t *testing.T) {
	m := NewManager(&fakeExporter{err: export.ErrNothingToRender}, fakeCharts{}, nil, 0, arbor.NewLogger())
	defer m.Close()

	task, err := m.Start(Request{ChartIDs: []string{"x"}, Format: models.ExportFormatHTML})
	require.NoError(t, err)

	final := waitTerminal(t, m, task.ID)
	assert.Equal(t, models.ExportStatusFailed, final.Status)
	assert.Equal(t, export.ErrNothingToRender.Error(), final.Error)

	_, err = m.Document(task.ID)
	assert.ErrorIs(t, err, ErrTaskNotReady)
}

func TestManager_Validation(t *testing.T) {
	m := NewManager(&fakeExporter{}, fakeCharts{}, nil, 0, arbor.NewLogger())
	defer m.Close()

	_, err := m.Start(Request{})
	assert.ErrorIs(t, err, ErrNoCharts)

	_, err = m.Start(Request{ChartIDs: []string{"a"}, Format: "pptx"})
	assert.Error(t, err)

	_, err = m.Get("nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = m.Document("nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestManager_DocumentNotReadyWhileRunning(t *testing.T) {
	exporter := &fakeExporter{release: make(chan struct{})}
	m := NewManager(exporter, fakeCharts{}, nil, 0, arbor.NewLogger())
	defer m.Close()

	task, err := m.Start(Request{ChartIDs: []string{"a"}})
	require.NoError(t, err)

	_, err = m.Document(task.ID)
	assert.ErrorIs(t, err, ErrTaskNotReady)

	close(exporter.release)
	assert.Equal(t, models.ExportStatusCompleted, waitTerminal(t, m, task.ID).Status)
}

func TestManager_CloseCancelsRunning(t *testing.T) {
	exporter := &fakeExporter{release: make(chan struct{})}
	m := NewManager(exporter, fakeCharts{}, nil, 0, arbor.NewLogger())

	task, err := m.Start(Request{ChartIDs: []string{"a"}})
	require.NoError(t, err)
	m.Close()

	final, err := m.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFailed, final.Status)
	assert.Contains(t, final.Error, context.Canceled.Error())

	_, err = m.Start(Request{ChartIDs: []string{"a"}})
	assert.Error(t, err)
}

func TestManager_PrunesFinishedTasks(t *testing.T) {
	m := NewManager(&fakeExporter{}, fakeCharts{}, nil, time.Minute, arbor.NewLogger())
	defer m.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	var clock sync.Mutex
	m.now = func() time.Time {
		clock.Lock()
		defer clock.Unlock()
		return now
	}

	old, err := m.Start(Request{ChartIDs: []string{"a"}})
	require.NoError(t, err)
	waitTerminal(t, m, old.ID)

	clock.Lock()
	now = base.Add(2 * time.Minute)
	clock.Unlock()

	fresh, err := m.Start(Request{ChartIDs: []string{"b"}})
	require.NoError(t, err)

	_, err = m.Get(old.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = m.Get(fresh.ID)
	assert.NoError(t, err)
	assert.Len(t, m.List(), 1)
}
