// Package app assembles the services, routes and scheduler from a Config.
// main.go and the serverless handler in api/ both build through New.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"market_etl_backend/config"
	"market_etl_backend/controllers"
	"market_etl_backend/middleware"
	"market_etl_backend/models"
	"market_etl_backend/routes"
	"market_etl_backend/scheduler"
	"market_etl_backend/services/batch"
	"market_etl_backend/services/merger"
	"market_etl_backend/services/mirror"
	"market_etl_backend/services/pacer"
	"market_etl_backend/services/progress"
	"market_etl_backend/services/providers"
	"market_etl_backend/services/queue"
	"market_etl_backend/services/runlog"
	"market_etl_backend/services/session"
	"market_etl_backend/services/tagging"
	"market_etl_backend/services/watermark"
)

// Auth lockout policy for the admin guard
const (
	authMaxFailures = 5
	authWindow      = 15 * time.Minute
	authLockout     = 15 * time.Minute
)

// App holds everything with a lifecycle
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	DB        *config.Database
	Hub       *progress.Hub
	Mirror    mirror.Mirror
	Processor *batch.Processor
	Queue     *queue.Control
	Scheduler *scheduler.Scheduler

	runs    *runlog.Store
	limiter *middleware.AuthLimiter
	cancel  context.CancelFunc
}

// New opens the store, migrates it and builds every service. The returned
// App owns the database and must be closed.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	production := cfg.App.Env == "production"
	db, err := config.InitDB(cfg.DB, production, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("running database migrations")
	if err := models.MigrateModels(db.Gorm); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	classifier, err := session.NewClassifier(cfg.Market)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("market sessions: %w", err)
	}

	m, err := mirror.New(ctx, cfg.Mirror, logger)
	if err != nil {
		// The mirror is optional; the queue runs without it
		logger.Warn("mirror disabled", zap.Error(err))
		m = mirror.Nop{}
	}

	lifetime, cancel := context.WithCancel(context.Background())
	a := &App{
		Config: cfg,
		Logger: logger,
		DB:     db,
		Hub:    progress.NewHub(cfg.Progress.MaxClients, logger),
		Mirror: m,
		cancel: cancel,
	}

	gdb := db.Gorm
	marks := watermark.New(gdb)
	runs := runlog.New(gdb)
	a.runs = runs

	a.Processor = batch.NewProcessor(cfg.Batch, batch.Deps{
		DB:         gdb,
		Watermarks: marks,
		Adapters:   providers.FromConfig(cfg.Providers, nil),
		Pacer:      pacer.New(PacerLimits(cfg.Providers)),
		Merger:     merger.New(classifier, nil),
		Tags:       tagging.NewEngine(gdb, logger),
		Runs:       runs,
		Events:     a.Hub,
		Mirror:     m,
		Location:   classifier.Location(),
		Logger:     logger,
	})
	a.Queue = queue.New(cfg.Batch, cfg.Queue, queue.Deps{
		DB:         gdb,
		Watermarks: marks,
		Runs:       runs,
		Events:     a.Hub,
		Location:   classifier.Location(),
		Logger:     logger,
	})

	if cfg.Scheduler.Enabled {
		a.Scheduler, err = scheduler.NewScheduler(cfg.Scheduler, cfg.Batch.Size, a.Queue, a.Processor, classifier.Location(), logger)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	a.limiter = middleware.NewAuthLimiter(authMaxFailures, authWindow, authLockout)
	a.limiter.StartCleanup(lifetime, time.Minute)

	return a, nil
}

// Mount installs middleware and the route table on router
func (a *App) Mount(router *gin.Engine) {
	router.Use(middleware.Recovery(a.Logger))
	router.Use(middleware.RequestLogger(a.Logger))

	routes.SetupRoutes(router, routes.Controllers{
		Queue:       controllers.NewQueueController(a.Queue, a.Processor, a.runs, a.Hub, a.Logger),
		Instruments: controllers.NewInstrumentController(a.DB.Gorm),
		Health:      controllers.NewHealthController(a.DB),
	}, middleware.AdminAuth(a.Config.Auth.AdminSecret, a.limiter, a.Logger))
}

// Start runs the in-process scheduler when it is enabled
func (a *App) Start() error {
	if a.Scheduler == nil {
		a.Logger.Info("in-process scheduler disabled; waiting for external calls")
		return nil
	}
	return a.Scheduler.Start()
}

// Close stops background work and releases the store
func (a *App) Close(ctx context.Context) {
	a.cancel()
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	a.Hub.Shutdown()
	if err := a.Mirror.Close(ctx); err != nil {
		a.Logger.Warn("mirror close failed", zap.Error(err))
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn("database close failed", zap.Error(err))
	}
}

// PacerLimits maps provider settings to pacing limits
func PacerLimits(cfg config.ProvidersConfig) map[string]pacer.Limit {
	return map[string]pacer.Limit{
		providers.Quote:        {MinInterval: cfg.Quote.MinInterval, PerMinute: cfg.Quote.PerMinute},
		providers.Aggregates:   {MinInterval: cfg.Aggregates.MinInterval, PerMinute: cfg.Aggregates.PerMinute},
		providers.Fundamentals: {MinInterval: cfg.Fundamentals.MinInterval, PerMinute: cfg.Fundamentals.PerMinute},
	}
}
