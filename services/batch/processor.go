// Package batch refreshes one bounded batch of pending instruments per call.
//
// Each instrument is fetched, merged, written, re-tagged and marked done
// inside its own savepoint, so a failure rolls back only that instrument.
// The surrounding transaction is committed every CheckpointEvery
// instruments; a crash loses at most one checkpoint of work and the lost
// instruments stay pending.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/guregu/null/v6"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"market_etl_backend/config"
	"market_etl_backend/models"
	"market_etl_backend/services/etlerrors"
	"market_etl_backend/services/merger"
	"market_etl_backend/services/mirror"
	"market_etl_backend/services/pacer"
	"market_etl_backend/services/progress"
	"market_etl_backend/services/providers"
	"market_etl_backend/services/runlog"
	"market_etl_backend/services/tagging"
	"market_etl_backend/services/watermark"
)

// ErrBusy is returned when this process is already running a batch
var ErrBusy = errors.New("a batch is already running")

// Instrument outcomes
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Result summarizes one invocation
type Result struct {
	TradingDay  string             `json:"trading_day"`
	Processed   int                `json:"processed"`
	Errors      int                `json:"errors"`
	Remaining   int64              `json:"remaining"`
	Instruments []InstrumentResult `json:"results"`
}

// InstrumentResult is the outcome for one symbol
type InstrumentResult struct {
	Symbol       string   `json:"symbol"`
	Status       string   `json:"status"`
	Provider     string   `json:"provider,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	Error        string   `json:"error,omitempty"`
	MarketStatus string   `json:"market_status,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// Deps are the collaborators of a Processor. Events and Mirror may be nil.
type Deps struct {
	DB         *gorm.DB
	Watermarks *watermark.Store
	Adapters   []providers.Adapter
	Pacer      *pacer.Pacer
	Merger     *merger.Merger
	Tags       *tagging.Engine
	Runs       *runlog.Store
	Events     progress.Publisher
	Mirror     mirror.Mirror
	Location   *time.Location
	Now        func() time.Time
	Logger     *zap.Logger
}

// Processor runs batches
type Processor struct {
	Deps
	defaultSize     int
	maxSize         int
	checkpointEvery int
	running         atomic.Bool
}

// NewProcessor creates a Processor with the batch sizing from cfg
func NewProcessor(cfg config.BatchConfig, deps Deps) *Processor {
	if deps.Events == nil {
		deps.Events = progress.Nop{}
	}
	if deps.Mirror == nil {
		deps.Mirror = mirror.Nop{}
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
	if deps.Pacer == nil {
		deps.Pacer = pacer.New(nil)
	}

	p := &Processor{
		Deps:            deps,
		defaultSize:     cfg.Size,
		maxSize:         cfg.MaxSize,
		checkpointEvery: cfg.CheckpointEvery,
	}
	if p.defaultSize <= 0 {
		p.defaultSize = 70
	}
	if p.maxSize < p.defaultSize {
		p.maxSize = p.defaultSize
	}
	if p.checkpointEvery <= 0 {
		p.checkpointEvery = 10
	}
	return p
}

// ClampSize maps a requested batch size into [1, max]; zero or negative
// selects the configured default
func (p *Processor) ClampSize(size int) int {
	switch {
	case size <= 0:
		return p.defaultSize
	case size > p.maxSize:
		return p.maxSize
	default:
		return size
	}
}

// RunBatch processes up to size pending instruments for today's trading day.
// Instrument failures are counted in the result; the returned error is only
// set for configuration, store or cancellation failures.
func (p *Processor) RunBatch(ctx context.Context, size int) (*Result, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer p.running.Store(false)

	startedAt := p.Now()
	day := watermark.Day(startedAt, p.Location)
	run := &models.BatchRun{Operation: models.OperationBatch, TradingDay: day, StartedAt: startedAt}

	res, err := p.runBatch(ctx, day, p.ClampSize(size))
	run.FinishedAt = p.Now()
	if err != nil {
		run.Error = err.Error()
		p.Logger.Error("batch failed", zap.String("trading_day", day), zap.Error(err))
		p.record(run, nil)
		return nil, err
	}

	run.Processed = res.Processed
	run.Errors = res.Errors
	run.Remaining = res.Remaining
	p.record(run, res.Instruments)

	p.Logger.Info("batch finished",
		zap.String("trading_day", day),
		zap.Int("processed", res.Processed),
		zap.Int("errors", res.Errors),
		zap.Int64("remaining", res.Remaining),
		zap.Duration("took", run.FinishedAt.Sub(startedAt)),
	)
	p.Events.Publish(progress.EventBatchFinished, map[string]any{
		"trading_day": day,
		"processed":   res.Processed,
		"errors":      res.Errors,
		"remaining":   res.Remaining,
	})
	return res, nil
}

func (p *Processor) runBatch(ctx context.Context, day string, size int) (*Result, error) {
	if err := providers.Validate(p.Adapters); err != nil {
		return nil, err
	}

	res := &Result{TradingDay: day, Instruments: []InstrumentResult{}}
	symbols, err := p.Watermarks.ListPending(ctx, day, size)
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return res, nil
	}

	p.Events.Publish(progress.EventBatchStarted, map[string]any{
		"trading_day": day,
		"size":        len(symbols),
	})

	tx := p.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin batch: %w", tx.Error)
	}
	var uncommitted []models.Instrument
	sinceCheckpoint := 0

	for i, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			tx.Rollback()
			return nil, err
		}

		ir, rec, err := p.processInstrument(ctx, tx, symbol, day)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		res.Instruments = append(res.Instruments, ir)
		if ir.Status == StatusOK {
			res.Processed++
			uncommitted = append(uncommitted, *rec)
		} else {
			res.Errors++
		}
		p.Events.Publish(progress.EventInstrument, ir)

		sinceCheckpoint++
		if sinceCheckpoint >= p.checkpointEvery && i < len(symbols)-1 {
			if err := tx.Commit().Error; err != nil {
				return nil, fmt.Errorf("commit checkpoint: %w", err)
			}
			p.saveMirror(ctx, uncommitted)
			p.Events.Publish(progress.EventBatchCheckpoint, map[string]any{
				"trading_day": day,
				"committed":   i + 1,
			})
			uncommitted = uncommitted[:0]
			sinceCheckpoint = 0

			tx = p.DB.WithContext(ctx).Begin()
			if tx.Error != nil {
				return nil, fmt.Errorf("begin checkpoint: %w", tx.Error)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	p.saveMirror(ctx, uncommitted)

	if res.Remaining, err = p.Watermarks.CountPending(ctx, day); err != nil {
		return nil, err
	}
	return res, nil
}

// processInstrument returns an error only when the whole batch must stop
func (p *Processor) processInstrument(ctx context.Context, tx *gorm.DB, symbol, day string) (InstrumentResult, *models.Instrument, error) {
	ir := InstrumentResult{Symbol: symbol, Status: StatusOK}

	payloads := make([]merger.Payload, 0, len(p.Adapters))
	for _, a := range p.Adapters {
		if err := p.Pacer.WaitTurn(ctx, a.Name()); err != nil {
			return ir, nil, err
		}
		r := a.Fetch(ctx, symbol)
		p.Pacer.Done(a.Name())

		if !r.OK() {
			if err := ctx.Err(); err != nil {
				return ir, nil, err
			}
			return p.fail(ir, r.Failure()), nil, nil
		}
		payloads = append(payloads, r.Payload())
	}

	var merged *merger.Merged
	err := tx.Transaction(func(sp *gorm.DB) error {
		var inst models.Instrument
		if err := sp.Where("symbol = ?", symbol).Take(&inst).Error; err != nil {
			return &etlerrors.PersistenceError{Symbol: symbol, Op: "load", Err: err}
		}

		var err error
		if merged, err = p.Merger.Merge(inst, payloads...); err != nil {
			return &etlerrors.PersistenceError{Symbol: symbol, Op: "merge", Err: err}
		}
		if err := sp.Model(&models.Instrument{}).Where("id = ?", inst.ID).Updates(merged.Updates).Error; err != nil {
			return &etlerrors.PersistenceError{Symbol: symbol, Op: "update", Err: err}
		}
		if ir.Tags, err = p.Tags.Recompute(ctx, sp, merged.Record); err != nil {
			return &etlerrors.PersistenceError{Symbol: symbol, Op: "tags", Err: err}
		}
		if err := p.Watermarks.WithTx(sp).MarkDone(ctx, symbol, day); err != nil {
			return &etlerrors.PersistenceError{Symbol: symbol, Op: "watermark", Err: err}
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ir, nil, ctxErr
		}
		var pe *etlerrors.PersistenceError
		if !errors.As(err, &pe) {
			err = &etlerrors.PersistenceError{Symbol: symbol, Op: "savepoint", Err: err}
		}
		return p.fail(ir, err), nil, nil
	}

	rec := merged.Record
	rec.DailyWatermark = null.StringFrom(day)
	ir.MarketStatus = rec.MarketStatus
	return ir, &rec, nil
}

func (p *Processor) fail(ir InstrumentResult, err error) InstrumentResult {
	ir.Status = StatusFailed
	ir.Reason = etlerrors.ReasonOf(err)
	ir.Error = err.Error()
	var pe *etlerrors.ProviderError
	if errors.As(err, &pe) {
		ir.Provider = pe.Provider
	}
	ir.Tags = nil
	p.Logger.Warn("instrument failed",
		zap.String("symbol", ir.Symbol),
		zap.String("provider", ir.Provider),
		zap.String("reason", ir.Reason),
		zap.Error(err),
	)
	return ir
}

func (p *Processor) saveMirror(ctx context.Context, recs []models.Instrument) {
	if len(recs) == 0 {
		return
	}
	if err := p.Mirror.Save(ctx, recs); err != nil {
		p.Logger.Warn("mirror save failed", zap.Int("instruments", len(recs)), zap.Error(err))
	}
}

func (p *Processor) record(run *models.BatchRun, results any) {
	if p.Runs == nil {
		return
	}
	// Recorded even when the request context is gone
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Runs.Record(ctx, run, results); err != nil {
		p.Logger.Warn("record batch run failed", zap.Error(err))
	}
}
