// Package export renders batches of charts into a single PDF or HTML
// document. One failing chart becomes a placeholder page and never fails
// the batch.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/models"
	"github.com/HTF1125/investment-x-sub000/internal/services/workers"
	"github.com/HTF1125/investment-x-sub000/internal/theme"
)

const (
	DefaultWorkers      = 4
	DefaultBatchTimeout = 120 * time.Second

	placeholderTitle = "Chart could not be rendered"
)

// ProgressFunc receives (completed, total, message) after every image and
// every page. It may be called from several goroutines, one at a time.
type ProgressFunc func(completed, total int, message string)

// Config sizes the render pool
type Config struct {
	Workers      int
	BatchTimeout time.Duration
	// ArchivePrefix is prepended to the filename when archiving.
	ArchivePrefix string
}

// Options selects the output of one export
type Options struct {
	Format   models.ExportFormat
	Theme    theme.Mode
	Title    string
	Filename string
	Image    interfaces.RenderOptions
}

// Document is a finished export
type Document struct {
	Format       models.ExportFormat `json:"format"`
	ContentType  string              `json:"content_type"`
	Filename     string              `json:"filename"`
	Bytes        []byte              `json:"-"`
	Pages        int                 `json:"pages"`
	Placeholders int                 `json:"placeholders"`
	ArchiveKey   string              `json:"archive_key,omitempty"`
}

// Service exports charts to documents
type Service struct {
	renderer interfaces.ImageRenderer
	archive  interfaces.DocumentArchive
	config   Config
	logger   arbor.ILogger
	now      func() time.Time
}

// NewService creates an export service. archive may be nil.
func NewService(renderer interfaces.ImageRenderer, archive interfaces.DocumentArchive, config Config, logger arbor.ILogger) *Service {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = DefaultBatchTimeout
	}
	return &Service{
		renderer: renderer,
		archive:  archive,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// page is one chart's slot in the document, in input order.
type page struct {
	chart *models.Chart
	png   []byte
	err   error
}

// Export rasterizes every chart with a figure on a bounded pool and
// assembles one page per input chart. Charts without a figure, failed
// renders and renders still running at the batch deadline all become
// placeholder pages.
func (s *Service) Export(ctx context.Context, charts []*models.Chart, opts Options, progress ProgressFunc) (*Document, error) {
	if opts.Format == "" {
		opts.Format = models.ExportFormatPDF
	}
	if opts.Format != models.ExportFormatPDF && opts.Format != models.ExportFormatHTML {
		return nil, fmt.Errorf("unsupported export format: %s", opts.Format)
	}

	renderable := 0
	for _, c := range charts {
		if c != nil && c.HasFigure() {
			renderable++
		}
	}
	if renderable == 0 {
		return nil, ErrNothingToRender
	}

	started := s.now()
	report := newProgress(renderable+len(charts), progress, s.logger)

	pages, err := s.renderAll(ctx, charts, opts, report)
	if err != nil {
		return nil, err
	}

	doc := &Document{Format: opts.Format, Filename: opts.Filename}
	if doc.Filename == "" {
		doc.Filename = fmt.Sprintf("charts-%s.%s", started.UTC().Format("20060102-150405"), opts.Format)
	}
	title := opts.Title
	if title == "" {
		title = "Investment-X Charts"
	}

	doc.Pages = len(pages)
	switch opts.Format {
	case models.ExportFormatHTML:
		doc.ContentType = "text/html; charset=utf-8"
		doc.Bytes, err = buildHTML(title, pages, report)
	default:
		doc.ContentType = "application/pdf"
		doc.Bytes, err = buildPDF(title, pages, report)
		if err == nil {
			doc.Pages, err = verifyPDF(doc.Bytes, len(pages))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to assemble %s: %w", opts.Format, err)
	}

	for _, p := range pages {
		if p.err != nil {
			doc.Placeholders++
		}
	}

	if s.archive != nil {
		key := s.config.ArchivePrefix + doc.Filename
		if _, err := s.archive.Put(ctx, key, doc.ContentType, doc.Bytes); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Failed to archive export")
		} else {
			doc.ArchiveKey = key
		}
	}

	s.logger.Info().
		Str("format", string(doc.Format)).
		Int("pages", doc.Pages).
		Int("placeholders", doc.Placeholders).
		Int("bytes", len(doc.Bytes)).
		Str("duration", s.now().Sub(started).String()).
		Msg("Export completed")

	return doc, nil
}

// renderAll fills one page per chart. It returns once every render has
// finished or the batch deadline passed, whichever comes first. The deadline
// only stops the wait: renders already running keep the caller's context and
// end on their own per-image timeout, with their results discarded. Renders
// not yet started when the deadline passes are skipped.
func (s *Service) renderAll(ctx context.Context, charts []*models.Chart, opts Options, report *progress) ([]page, error) {
	pages := make([]page, len(charts))
	done := make([]bool, len(charts))
	var mu sync.Mutex
	sealed := false

	for i, c := range charts {
		pages[i].chart = c
		if c == nil || !c.HasFigure() {
			pages[i].err = errNoFigure
			done[i] = true
		}
	}

	batchCtx, cancel := context.WithTimeout(ctx, s.config.BatchTimeout)
	defer cancel()

	pool := workers.NewPool(ctx, s.config.Workers, s.logger)
	pool.Start()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i, chart := range charts {
			if chart == nil || !chart.HasFigure() {
				continue
			}
			if batchCtx.Err() != nil {
				break
			}
			i, chart := i, chart
			err := pool.Submit(func(jobCtx context.Context) error {
				if batchCtx.Err() != nil {
					return nil
				}
				img, err := s.renderOne(jobCtx, chart, opts)

				mu.Lock()
				defer mu.Unlock()
				if sealed {
					return nil
				}
				pages[i].png = img
				if err != nil {
					pages[i].err = &RenderError{ChartID: chart.ID, Name: chart.Name, Cause: err}
				}
				done[i] = true
				report.step("rendered " + chart.Name)
				return err
			})
			if err != nil {
				break
			}
		}
		_ = pool.Wait() // failures are recorded on their pages
	}()

	select {
	case <-finished:
	case <-batchCtx.Done():
	}

	mu.Lock()
	sealed = true
	mu.Unlock()
	cancel()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	abandoned := 0
	for i := range pages {
		if !done[i] {
			pages[i].err = &RenderError{ChartID: pages[i].chart.ID, Name: pages[i].chart.Name, Cause: ErrRenderTimeout}
			abandoned++
		}
	}
	if abandoned > 0 {
		s.logger.Warn().
			Int("abandoned", abandoned).
			Str("batch_timeout", s.config.BatchTimeout.String()).
			Msg("Export batch deadline passed, using placeholders")
	}
	return pages, nil
}

func (s *Service) renderOne(ctx context.Context, chart *models.Chart, opts Options) (img []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("renderer panicked: %v", r)
		}
	}()

	figure := chart.Figure
	if opts.Theme != "" && opts.Theme != theme.Default {
		themed, err := theme.ApplyJSON(figure, opts.Theme)
		if err != nil {
			return nil, err
		}
		figure = themed
	}

	img, err = s.renderer.RenderPNG(ctx, figure, opts.Image)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrRenderTimeout
		}
		return nil, err
	}
	// A corrupt image would poison the whole PDF
	if _, err := png.DecodeConfig(bytes.NewReader(img)); err != nil {
		return nil, fmt.Errorf("renderer returned an invalid PNG: %w", err)
	}
	return img, nil
}

// progress serializes callbacks and isolates a panicking callback.
type progress struct {
	mu        sync.Mutex
	completed int
	total     int
	fn        ProgressFunc
	logger    arbor.ILogger
}

func newProgress(total int, fn ProgressFunc, logger arbor.ILogger) *progress {
	return &progress{total: total, fn: fn, logger: logger}
}

func (p *progress) step(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	if p.fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn().Str("panic", fmt.Sprintf("%v", r)).Msg("Export progress callback panicked")
		}
	}()
	p.fn(p.completed, p.total, message)
}
