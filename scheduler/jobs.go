package scheduler

import (
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Job tags
const (
	jobStart = "queue_start"
	jobBatch = "queue_batch"
	jobStop  = "queue_stop"
)

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

// Start registers all jobs and starts the scheduler
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler",
		zap.String("start_at", s.cfg.StartAt),
		zap.String("stop_at", s.cfg.StopAt),
		zap.Int("batch_every_minutes", s.cfg.BatchEvery),
		zap.Bool("weekdays_only", s.cfg.WeekdaysOnly),
	)

	// Open the queue at the start of the window
	if _, err := s.daily().At(s.cfg.StartAt).Tag(jobStart).Do(s.startQueue); err != nil {
		return err
	}

	// Work through pending instruments while the window is open
	if _, err := s.cron.Every(s.cfg.BatchEvery).Minutes().Tag(jobBatch).Do(s.processBatch); err != nil {
		return err
	}

	// Freeze whatever is left at the end of the window
	if _, err := s.daily().At(s.cfg.StopAt).Tag(jobStop).Do(s.stopQueue); err != nil {
		return err
	}

	s.cron.StartAsync()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.cron.Jobs())))
	return nil
}

// Stop stops the scheduler and cancels a running job
func (s *Scheduler) Stop() {
	s.cancel()
	s.cron.Stop()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) daily() *gocron.Scheduler {
	if s.cfg.WeekdaysOnly {
		c := s.cron.Every(1).Week()
		for _, wd := range weekdays {
			c = c.Weekday(wd)
		}
		return c
	}
	return s.cron.Every(1).Day()
}

// isTradingDay reports whether t falls on a day the queue runs
func (s *Scheduler) isTradingDay(t time.Time) bool {
	if !s.cfg.WeekdaysOnly {
		return true
	}
	wd := t.In(s.loc).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// inWindow reports whether t is between start_at and stop_at on a trading day
func (s *Scheduler) inWindow(t time.Time) bool {
	if !s.isTradingDay(t) {
		return false
	}
	local := t.In(s.loc)
	return s.window.Contains(local.Hour()*60 + local.Minute())
}

func (s *Scheduler) startQueue() {
	res, err := s.queue.Start(s.ctx)
	if err != nil {
		s.logger.Error("scheduled start failed", zap.Error(err))
		return
	}
	s.drained.Store(res.Pending == 0)
	s.logger.Info("scheduled start",
		zap.Int64("pending", res.Pending),
		zap.Int("estimated_minutes", res.EstimatedMinutes),
	)
}

func (s *Scheduler) processBatch() {
	if !s.inWindow(s.now()) {
		return
	}
	if s.drained.Load() && !s.reopened() {
		return
	}
	res, err := s.batches.RunBatch(s.ctx, s.batchSize)
	if err != nil {
		s.logger.Error("scheduled batch failed", zap.Error(err))
		return
	}
	if res.Remaining == 0 {
		s.drained.Store(true)
		s.logger.Info("queue drained", zap.String("trading_day", res.TradingDay))
	}
}

// reopened reports whether instruments became pending again after the queue
// drained, e.g. after a Start over HTTP
func (s *Scheduler) reopened() bool {
	st, err := s.queue.Status(s.ctx)
	if err != nil {
		s.logger.Warn("queue status failed", zap.Error(err))
		return false
	}
	if st.Pending == 0 {
		return false
	}
	s.drained.Store(false)
	s.logger.Info("queue reopened", zap.String("trading_day", st.TradingDay), zap.Int64("pending", st.Pending))
	return true
}

func (s *Scheduler) stopQueue() {
	res, err := s.queue.Stop(s.ctx)
	if err != nil {
		s.logger.Error("scheduled stop failed", zap.Error(err))
		return
	}
	s.drained.Store(true)
	s.logger.Info("scheduled stop",
		zap.Int64("forced", res.Forced),
		zap.Int64("already_done", res.AlreadyDone),
	)
}
