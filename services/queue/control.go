// Package queue implements the daily queue lifecycle: Start reopens every
// instrument for the trading day, Stop freezes the queue by marking whatever
// is still pending as done. Neither touches providers.
package queue

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"market_etl_backend/config"
	"market_etl_backend/models"
	"market_etl_backend/services/progress"
	"market_etl_backend/services/runlog"
	"market_etl_backend/services/watermark"
)

// StartResult is returned by Start
type StartResult struct {
	TradingDay          string    `json:"trading_day"`
	Reset               int64     `json:"reset"`
	Pending             int64     `json:"pending"`
	Batches             int64     `json:"batches"`
	EstimatedMinutes    int       `json:"estimated_minutes"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}

// StopResult is returned by Stop
type StopResult struct {
	TradingDay  string `json:"trading_day"`
	Forced      int64  `json:"forced"`
	AlreadyDone int64  `json:"already_done"`
	Total       int64  `json:"total"`
}

// StatusResult is a snapshot of the queue for the current trading day
type StatusResult struct {
	TradingDay string           `json:"trading_day"`
	Pending    int64            `json:"pending"`
	Done       int64            `json:"done"`
	Total      int64            `json:"total"`
	LastRun    *models.BatchRun `json:"last_run"`
}

// Deps are the collaborators of a Control. Events may be nil.
type Deps struct {
	DB         *gorm.DB
	Watermarks *watermark.Store
	Runs       *runlog.Store
	Events     progress.Publisher
	Location   *time.Location
	Now        func() time.Time
	Logger     *zap.Logger
}

// Control starts, stops and reports on the daily queue
type Control struct {
	Deps
	batchSize     int
	batchInterval time.Duration
}

// New creates a Control. The batch size and interval only feed the
// completion estimate.
func New(batchCfg config.BatchConfig, queueCfg config.QueueConfig, deps Deps) *Control {
	if deps.Events == nil {
		deps.Events = progress.Nop{}
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Watermarks == nil {
		deps.Watermarks = watermark.New(deps.DB)
	}

	c := &Control{Deps: deps, batchSize: batchCfg.Size, batchInterval: queueCfg.BatchInterval}
	if c.batchSize <= 0 {
		c.batchSize = 70
	}
	if c.batchInterval <= 0 {
		c.batchInterval = 15 * time.Minute
	}
	return c
}

// Today returns the current trading day in the exchange time zone
func (c *Control) Today() string {
	return watermark.Day(c.Now(), c.Location)
}

// Start clears every watermark so all instruments are pending again
func (c *Control) Start(ctx context.Context) (*StartResult, error) {
	startedAt := c.Now()
	res := &StartResult{TradingDay: watermark.Day(startedAt, c.Location)}

	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marks := c.Watermarks.WithTx(tx)
		var err error
		if res.Reset, err = marks.ResetAll(ctx); err != nil {
			return err
		}
		res.Pending, err = marks.CountPending(ctx, res.TradingDay)
		return err
	})
	run := &models.BatchRun{Operation: models.OperationStart, TradingDay: res.TradingDay, StartedAt: startedAt}
	if err != nil {
		c.finish(run, err)
		return nil, err
	}

	res.Batches = ceilDiv(res.Pending, int64(c.batchSize))
	res.EstimatedMinutes = int(math.Ceil(float64(res.Batches) * c.batchInterval.Minutes()))
	res.EstimatedCompletion = startedAt.Add(time.Duration(res.EstimatedMinutes) * time.Minute)

	run.Remaining = res.Pending
	c.finish(run, nil)

	c.Logger.Info("queue started",
		zap.String("trading_day", res.TradingDay),
		zap.Int64("reset", res.Reset),
		zap.Int64("pending", res.Pending),
		zap.Int("estimated_minutes", res.EstimatedMinutes),
	)
	c.Events.Publish(progress.EventQueueStarted, res)
	return res, nil
}

// Stop marks every pending instrument done for today without fetching anything
func (c *Control) Stop(ctx context.Context) (*StopResult, error) {
	startedAt := c.Now()
	res := &StopResult{TradingDay: watermark.Day(startedAt, c.Location)}

	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marks := c.Watermarks.WithTx(tx)
		var err error
		if res.AlreadyDone, err = marks.CountDone(ctx, res.TradingDay); err != nil {
			return err
		}
		if res.Forced, err = marks.ForceCompleteAllPending(ctx, res.TradingDay); err != nil {
			return err
		}
		res.Total, err = marks.CountAll(ctx)
		return err
	})
	run := &models.BatchRun{Operation: models.OperationStop, TradingDay: res.TradingDay, StartedAt: startedAt}
	if err != nil {
		c.finish(run, err)
		return nil, err
	}

	run.Forced = res.Forced
	run.AlreadyDone = res.AlreadyDone
	c.finish(run, nil)

	c.Logger.Info("queue stopped",
		zap.String("trading_day", res.TradingDay),
		zap.Int64("forced", res.Forced),
		zap.Int64("already_done", res.AlreadyDone),
	)
	c.Events.Publish(progress.EventQueueStopped, res)
	return res, nil
}

// Status reports pending and done counts for today plus the last recorded run
func (c *Control) Status(ctx context.Context) (*StatusResult, error) {
	res := &StatusResult{TradingDay: c.Today()}
	var err error
	if res.Pending, err = c.Watermarks.CountPending(ctx, res.TradingDay); err != nil {
		return nil, err
	}
	if res.Done, err = c.Watermarks.CountDone(ctx, res.TradingDay); err != nil {
		return nil, err
	}
	if res.Total, err = c.Watermarks.CountAll(ctx); err != nil {
		return nil, err
	}
	if c.Runs != nil {
		if res.LastRun, err = c.Runs.Last(ctx); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (c *Control) finish(run *models.BatchRun, err error) {
	run.FinishedAt = c.Now()
	if err != nil {
		run.Error = err.Error()
		c.Logger.Error("queue operation failed", zap.String("operation", run.Operation), zap.Error(err))
	}
	if c.Runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Runs.Record(ctx, run, nil); err != nil {
		c.Logger.Warn("record queue run failed", zap.String("operation", run.Operation), zap.Error(err))
	}
}

func ceilDiv(n, d int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
