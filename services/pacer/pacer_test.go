package pacer

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return nil
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)}
}

func TestWaitTurnHonorsMinInterval(t *testing.T) {
	clock := newFakeClock()
	p := New(map[string]Limit{"quote": {MinInterval: time.Second}}, WithClock(clock.Now, clock.Sleep))
	ctx := context.Background()

	if err := p.WaitTurn(ctx, "quote"); err != nil {
		t.Fatalf("first WaitTurn: %v", err)
	}
	if len(clock.slept) != 0 {
		t.Fatalf("first call should not wait, slept %v", clock.slept)
	}
	p.Done("quote")

	clock.now = clock.now.Add(300 * time.Millisecond)
	if err := p.WaitTurn(ctx, "quote"); err != nil {
		t.Fatalf("second WaitTurn: %v", err)
	}
	if len(clock.slept) != 1 || clock.slept[0] != 700*time.Millisecond {
		t.Fatalf("slept = %v, want [700ms]", clock.slept)
	}
	p.Done("quote")

	clock.now = clock.now.Add(2 * time.Second)
	if err := p.WaitTurn(ctx, "quote"); err != nil {
		t.Fatalf("third WaitTurn: %v", err)
	}
	if len(clock.slept) != 1 {
		t.Fatalf("call after interval should not wait, slept %v", clock.slept)
	}
}

func TestWaitTurnMeasuresFromReturn(t *testing.T) {
	clock := newFakeClock()
	p := New(map[string]Limit{"quote": {MinInterval: time.Second}}, WithClock(clock.Now, clock.Sleep))
	ctx := context.Background()

	_ = p.WaitTurn(ctx, "quote")
	// a slow call: 5s in flight
	clock.now = clock.now.Add(5 * time.Second)
	p.Done("quote")

	if err := p.WaitTurn(ctx, "quote"); err != nil {
		t.Fatalf("WaitTurn: %v", err)
	}
	if len(clock.slept) != 1 || clock.slept[0] != time.Second {
		t.Fatalf("slept = %v, want [1s]", clock.slept)
	}
}

func TestProvidersPaceIndependently(t *testing.T) {
	clock := newFakeClock()
	p := New(map[string]Limit{
		"quote":        {MinInterval: time.Second},
		"fundamentals": {MinInterval: time.Second},
	}, WithClock(clock.Now, clock.Sleep))
	ctx := context.Background()

	_ = p.WaitTurn(ctx, "quote")
	p.Done("quote")

	if err := p.WaitTurn(ctx, "fundamentals"); err != nil {
		t.Fatalf("WaitTurn: %v", err)
	}
	if len(clock.slept) != 0 {
		t.Fatalf("fundamentals waited on quote: %v", clock.slept)
	}
}

func TestPerMinuteCeiling(t *testing.T) {
	clock := newFakeClock()
	p := New(map[string]Limit{"aggregates": {PerMinute: 2}}, WithClock(clock.Now, clock.Sleep))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := p.WaitTurn(ctx, "aggregates"); err != nil {
			t.Fatalf("WaitTurn %d: %v", i, err)
		}
		p.Done("aggregates")
	}
	want := []time.Duration{30 * time.Second, 30 * time.Second}
	if len(clock.slept) != len(want) {
		t.Fatalf("slept = %v, want %v", clock.slept, want)
	}
	for i := range want {
		if clock.slept[i] != want[i] {
			t.Fatalf("slept = %v, want %v", clock.slept, want)
		}
	}
}

func TestWaitTurnCancelled(t *testing.T) {
	clock := newFakeClock()
	p := New(map[string]Limit{"quote": {MinInterval: time.Minute}}, WithClock(clock.Now, clock.Sleep))

	_ = p.WaitTurn(context.Background(), "quote")
	p.Done("quote")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.WaitTurn(ctx, "quote"); !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitTurn err = %v, want context.Canceled", err)
	}
}

func TestUnknownProviderIsUnpaced(t *testing.T) {
	clock := newFakeClock()
	p := New(nil, WithClock(clock.Now, clock.Sleep))
	for i := 0; i < 3; i++ {
		if err := p.WaitTurn(context.Background(), "other"); err != nil {
			t.Fatalf("WaitTurn: %v", err)
		}
		p.Done("other")
	}
	if len(clock.slept) != 0 {
		t.Fatalf("slept = %v", clock.slept)
	}
}

func TestSleepContextRealTimer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := sleepContext(ctx, time.Minute); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("sleepContext err = %v", err)
	}
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("sleepContext: %v", err)
	}
}
