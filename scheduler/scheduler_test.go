package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"market_etl_backend/config"
	"market_etl_backend/services/batch"
	"market_etl_backend/services/queue"
)

type fakeQueue struct {
	starts, stops int
	pending       int64
}

func (f *fakeQueue) Start(context.Context) (*queue.StartResult, error) {
	f.starts++
	return &queue.StartResult{Pending: f.pending}, nil
}

func (f *fakeQueue) Stop(context.Context) (*queue.StopResult, error) {
	f.stops++
	forced := f.pending
	f.pending = 0
	return &queue.StopResult{Forced: forced}, nil
}

func (f *fakeQueue) Status(context.Context) (*queue.StatusResult, error) {
	return &queue.StatusResult{Pending: f.pending}, nil
}

type fakeBatches struct {
	calls     int
	remaining []int64
	err       error
	queue     *fakeQueue
}

func (f *fakeBatches) RunBatch(_ context.Context, size int) (*batch.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r := f.remaining[0]
	if len(f.remaining) > 1 {
		f.remaining = f.remaining[1:]
	}
	if f.queue != nil {
		f.queue.pending = r
	}
	return &batch.Result{Remaining: r}, nil
}

func newTestScheduler(t *testing.T, q *fakeQueue, b *fakeBatches, now time.Time) *Scheduler {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	s, err := NewScheduler(config.SchedulerConfig{
		StartAt:      "09:00",
		StopAt:       "16:30",
		BatchEvery:   15,
		WeekdaysOnly: true,
	}, 70, q, b, loc, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.now = func() time.Time { return now }
	return s
}

func TestInWindow(t *testing.T) {
	s := newTestScheduler(t, &fakeQueue{}, &fakeBatches{}, time.Time{})
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"monday morning", time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC), true},  // 09:00 NY
		{"before start", time.Date(2026, 3, 2, 13, 59, 0, 0, time.UTC), false}, // 08:59 NY
		{"at stop", time.Date(2026, 3, 2, 21, 30, 0, 0, time.UTC), false},      // 16:30 NY
		{"saturday", time.Date(2026, 3, 7, 16, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.inWindow(tt.at); got != tt.want {
				t.Fatalf("inWindow(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestProcessBatchStopsOnceDrained(t *testing.T) {
	q := &fakeQueue{pending: 150}
	b := &fakeBatches{remaining: []int64{80, 10, 0}, queue: q}
	s := newTestScheduler(t, q, b, time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC))

	s.startQueue()
	for i := 0; i < 6; i++ {
		s.processBatch()
	}
	if b.calls != 3 {
		t.Fatalf("batch calls = %d, want 3", b.calls)
	}

	// a new Start reopens the queue
	q.pending = 40
	b.remaining = []int64{0}
	s.startQueue()
	s.processBatch()
	if b.calls != 4 {
		t.Fatalf("batch calls after restart = %d, want 4", b.calls)
	}
}

func TestProcessBatchResumesAfterExternalStart(t *testing.T) {
	q := &fakeQueue{pending: 10}
	b := &fakeBatches{remaining: []int64{0}, queue: q}
	s := newTestScheduler(t, q, b, time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC))

	s.startQueue()
	s.processBatch()
	s.processBatch()
	if b.calls != 1 {
		t.Fatalf("batch calls = %d, want 1", b.calls)
	}

	// Start over HTTP resets watermarks without going through the scheduler
	q.pending = 25
	b.remaining = []int64{0}
	s.processBatch()
	if b.calls != 2 {
		t.Fatalf("batch calls after external start = %d, want 2", b.calls)
	}
	s.processBatch()
	if b.calls != 2 {
		t.Fatalf("batch ran again after draining: %d calls", b.calls)
	}
}

func TestProcessBatchOutsideWindowDoesNothing(t *testing.T) {
	b := &fakeBatches{remaining: []int64{10}}
	s := newTestScheduler(t, &fakeQueue{pending: 10}, b, time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC))
	s.startQueue()
	s.processBatch()
	if b.calls != 0 {
		t.Fatalf("batch ran outside the window")
	}
}

func TestProcessBatchErrorKeepsTrying(t *testing.T) {
	b := &fakeBatches{err: errors.New("db down")}
	s := newTestScheduler(t, &fakeQueue{pending: 10}, b, time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC))
	s.startQueue()
	s.processBatch()
	s.processBatch()
	if b.calls != 2 {
		t.Fatalf("batch calls = %d, want 2", b.calls)
	}
}

func TestStopQueueDrains(t *testing.T) {
	q := &fakeQueue{pending: 10}
	b := &fakeBatches{remaining: []int64{5}}
	s := newTestScheduler(t, q, b, time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC))
	s.startQueue()
	s.stopQueue()
	s.processBatch()
	if q.stops != 1 || b.calls != 0 {
		t.Fatalf("stops = %d, batch calls = %d", q.stops, b.calls)
	}
}

func TestStartRegistersJobs(t *testing.T) {
	for _, weekdaysOnly := range []bool{true, false} {
		s := newTestScheduler(t, &fakeQueue{}, &fakeBatches{remaining: []int64{0}}, time.Now())
		s.cfg.WeekdaysOnly = weekdaysOnly
		if err := s.Start(); err != nil {
			t.Fatalf("Start (weekdays_only=%v): %v", weekdaysOnly, err)
		}

		tags := map[string]bool{}
		for _, j := range s.cron.Jobs() {
			for _, tag := range j.Tags() {
				tags[tag] = true
			}
		}
		s.Stop()

		for _, want := range []string{jobStart, jobBatch, jobStop} {
			if !tags[want] {
				t.Fatalf("weekdays_only=%v: job %s not registered (got %v)", weekdaysOnly, want, tags)
			}
		}
	}
}

func TestNewSchedulerRejectsBadTimes(t *testing.T) {
	_, err := NewScheduler(config.SchedulerConfig{StartAt: "9am", StopAt: "16:30"}, 70, &fakeQueue{}, &fakeBatches{}, nil, nil)
	if err == nil {
		t.Fatalf("expected error for malformed start_at")
	}
}
