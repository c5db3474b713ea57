package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/common"
	"github.com/HTF1125/investment-x-sub000/internal/eodhd"
	"github.com/HTF1125/investment-x-sub000/internal/handlers"
	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/sandbox"
	"github.com/HTF1125/investment-x-sub000/internal/services/charts"
	"github.com/HTF1125/investment-x-sub000/internal/services/data"
	"github.com/HTF1125/investment-x-sub000/internal/services/events"
	"github.com/HTF1125/investment-x-sub000/internal/services/export"
	"github.com/HTF1125/investment-x-sub000/internal/services/imaging"
	"github.com/HTF1125/investment-x-sub000/internal/services/scheduler"
	"github.com/HTF1125/investment-x-sub000/internal/services/tasks"
	"github.com/HTF1125/investment-x-sub000/internal/storage"
)

// RefreshJobName is the scheduler job that re-executes every chart
const RefreshJobName = "refresh-charts"

// progressThrottle bounds export_progress events forwarded to websockets
const progressThrottle = 250 * time.Millisecond

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ctx            context.Context
	cancelCtx      context.CancelFunc
	StorageManager interfaces.StorageManager

	EventService     interfaces.EventService
	DataService      *data.Service
	Executor         *sandbox.Executor
	ChartService     *charts.Service
	Renderer         *imaging.ChromeRenderer
	ExportService    *export.Service
	TaskManager      *tasks.Manager
	SchedulerService *scheduler.Service

	// HTTP handlers
	APIHandler    *handlers.APIHandler
	ChartHandler  *handlers.ChartHandler
	ExportHandler *handlers.ExportHandler
	WSHandler     *handlers.WebSocketHandler
}

// New initializes all application components
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := app.initDatabase(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("storage", cfg.Storage.Type).
		Bool("eodhd_enabled", cfg.EODHD.APIKey != "").
		Bool("archive_enabled", cfg.Export.Archive.Bucket != "").
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

func (a *App) initDatabase() error {
	manager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return err
	}
	a.StorageManager = manager
	return nil
}

func (a *App) initServices() error {
	cfg := a.Config
	a.EventService = events.NewService(a.Logger)

	// Market data: cache in front of EODHD when a key is configured
	var source interfaces.SeriesSource
	if cfg.EODHD.APIKey != "" {
		client := eodhd.NewClient(cfg.EODHD.APIKey,
			eodhd.WithBaseURL(cfg.EODHD.BaseURL),
			eodhd.WithRateLimit(cfg.EODHD.RateLimit),
			eodhd.WithTimeout(common.Duration(cfg.EODHD.Timeout, 30*time.Second)),
			eodhd.WithLogger(a.Logger),
		)
		source = eodhd.NewSource(client, cfg.EODHD.Exchange, a.Logger)
	} else {
		a.Logger.Warn().Msg("No EODHD api_key configured - charts can only read cached series")
	}
	a.DataService = data.NewService(a.StorageManager.SeriesCache(), source, data.Config{
		MaxAge: common.Duration(cfg.Data.MaxAge, 0),
		TTL:    common.Duration(cfg.Data.CacheTTL, 0),
	}, a.Logger)

	a.Executor = sandbox.NewExecutor(a.DataService, a.Logger, sandbox.Config{
		Timeout:  common.Duration(cfg.Sandbox.Timeout, sandbox.DefaultTimeout),
		MaxSteps: cfg.Sandbox.MaxSteps,
	})
	a.ChartService = charts.NewService(a.StorageManager.ChartStorage(), a.Executor, a.EventService, a.Logger)

	a.Renderer = imaging.NewChromeRenderer(imaging.Config{
		PlotlyURL: cfg.Render.PlotlyURL,
		Width:     cfg.Render.Width,
		Height:    cfg.Render.Height,
		Scale:     cfg.Render.Scale,
		Timeout:   common.Duration(cfg.Render.Timeout, imaging.DefaultTimeout),
		Headless:  cfg.Render.Headless,
	}, a.Logger)
	imaging.SetDefault(a.Renderer)

	var archive interfaces.DocumentArchive
	if cfg.Export.Archive.Bucket != "" {
		s3Archive, err := export.NewS3Archive(a.ctx, export.ArchiveConfig{
			Bucket:          cfg.Export.Archive.Bucket,
			Region:          cfg.Export.Archive.Region,
			Endpoint:        cfg.Export.Archive.Endpoint,
			AccessKeyID:     cfg.Export.Archive.AccessKeyID,
			SecretAccessKey: cfg.Export.Archive.SecretAccessKey,
			UsePathStyle:    cfg.Export.Archive.UsePathStyle,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to configure export archive: %w", err)
		}
		archive = s3Archive
	}
	a.ExportService = export.NewService(a.Renderer, archive, export.Config{
		Workers:       cfg.Export.Workers,
		BatchTimeout:  common.Duration(cfg.Export.BatchTimeout, export.DefaultBatchTimeout),
		ArchivePrefix: cfg.Export.Archive.Prefix,
	}, a.Logger)
	a.TaskManager = tasks.NewManager(a.ExportService, a.ChartService, a.EventService, tasks.DefaultRetention, a.Logger)

	a.SchedulerService = scheduler.NewService(a.Logger)
	if !cfg.Scheduler.Enabled {
		return nil
	}
	if err := a.SchedulerService.RegisterJob(RefreshJobName, cfg.Scheduler.RefreshSchedule, "Re-execute every stored chart", func(ctx context.Context) error {
		_, err := a.ChartService.RefreshAll(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("failed to register refresh job: %w", err)
	}

	return nil
}

func (a *App) initHandlers() {
	a.WSHandler = handlers.NewWebSocketHandler(a.Logger)
	handlers.NewEventSubscriber(a.WSHandler, a.EventService, map[interfaces.EventType]time.Duration{
		interfaces.EventExportProgress: progressThrottle,
	}, a.Logger)

	a.APIHandler = handlers.NewAPIHandler(map[string]handlers.HealthCheck{
		"storage": func(ctx context.Context) error {
			_, err := a.StorageManager.ChartStorage().CountCharts(ctx)
			return err
		},
	}, a.Logger)
	a.ChartHandler = handlers.NewChartHandler(a.ChartService, a.Logger)
	a.ExportHandler = handlers.NewExportHandler(a.TaskManager, a.Logger)
}

// Seed upserts the system charts from [seed] dir and renders the new or
// changed ones in the background.
func (a *App) Seed(ctx context.Context) error {
	seeds, err := storage.LoadSeedDir(a.Config.Seed.Dir)
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		return nil
	}

	pending, err := storage.SeedCharts(ctx, a.StorageManager.ChartStorage(), seeds, a.Logger)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	common.SafeGo(a.Logger, "seed-render", func() {
		for _, id := range pending {
			if a.ctx.Err() != nil {
				return
			}
			if _, err := a.ChartService.Refresh(a.ctx, id); err != nil {
				a.Logger.Warn().Err(err).Str("chart_id", id).Msg("Seeded chart failed to render")
			}
		}
		a.Logger.Info().Int("charts", len(pending)).Msg("Seeded charts rendered")
	})
	return nil
}

// StartScheduler starts the cron runner when [scheduler] enabled is set
func (a *App) StartScheduler() error {
	if !a.Config.Scheduler.Enabled {
		return nil
	}
	return a.SchedulerService.Start()
}

// Close releases every component in reverse dependency order
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.TaskManager != nil {
		a.TaskManager.Close()
		a.Logger.Info().Msg("Export tasks stopped")
	}

	if a.Renderer != nil {
		a.Renderer.Shutdown()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
