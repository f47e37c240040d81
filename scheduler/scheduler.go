// Package scheduler drives the daily queue from inside the process.
//
// It opens the queue at start_at, runs a batch every batch_every_minutes
// while instruments remain, and stops the queue at stop_at. All times are
// in the exchange time zone. External schedulers calling the HTTP endpoints
// work the same way; this package is optional and off by default.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"market_etl_backend/config"
	"market_etl_backend/services/batch"
	"market_etl_backend/services/queue"
	"market_etl_backend/services/session"
)

// QueueOps is the part of queue.Control the scheduler drives
type QueueOps interface {
	Start(ctx context.Context) (*queue.StartResult, error)
	Stop(ctx context.Context) (*queue.StopResult, error)
	Status(ctx context.Context) (*queue.StatusResult, error)
}

// BatchRunner is the part of batch.Processor the scheduler drives
type BatchRunner interface {
	RunBatch(ctx context.Context, size int) (*batch.Result, error)
}

// Scheduler manages the queue jobs
type Scheduler struct {
	cron      *gocron.Scheduler
	cfg       config.SchedulerConfig
	window    session.Window
	batchSize int
	queue     QueueOps
	batches   BatchRunner
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	drained atomic.Bool
}

// NewScheduler creates a scheduler; call Start to register and run the jobs
func NewScheduler(cfg config.SchedulerConfig, batchSize int, q QueueOps, b BatchRunner, loc *time.Location, logger *zap.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	window, err := session.ParseWindow(fmt.Sprintf("%s-%s", cfg.StartAt, cfg.StopAt))
	if err != nil {
		return nil, fmt.Errorf("scheduler window: %w", err)
	}
	if cfg.BatchEvery <= 0 {
		cfg.BatchEvery = 15
	}

	ctx, cancel := context.WithCancel(context.Background())
	cron := gocron.NewScheduler(loc)
	cron.SingletonModeAll()

	return &Scheduler{
		cron:      cron,
		cfg:       cfg,
		window:    window,
		batchSize: batchSize,
		queue:     q,
		batches:   b,
		loc:       loc,
		now:       time.Now,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}
