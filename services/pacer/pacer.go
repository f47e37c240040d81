// Package pacer spaces out calls to external data providers.
//
// Each provider has a minimum interval measured from the moment its previous
// call returned, plus an optional per-minute token bucket. Providers pace
// independently. The pacer assumes one in-flight call per provider; callers
// that fan out across goroutines must not share a provider id.
package pacer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limit is the pacing policy for one provider
type Limit struct {
	MinInterval time.Duration
	PerMinute   int
}

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Pacer enforces per-provider call spacing
type Pacer struct {
	mu       sync.Mutex
	limits   map[string]Limit
	limiters map[string]*rate.Limiter
	lastDone map[string]time.Time

	now   func() time.Time
	sleep SleepFunc
}

// Option customizes a Pacer
type Option func(*Pacer)

// WithClock replaces the wall clock and sleep used by the pacer
func WithClock(now func() time.Time, sleep SleepFunc) Option {
	return func(p *Pacer) {
		if now != nil {
			p.now = now
		}
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// New creates a Pacer for the given provider limits
func New(limits map[string]Limit, opts ...Option) *Pacer {
	p := &Pacer{
		limits:   make(map[string]Limit, len(limits)),
		limiters: make(map[string]*rate.Limiter),
		lastDone: make(map[string]time.Time),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	for id, l := range limits {
		p.limits[id] = l
		if l.PerMinute > 0 {
			p.limiters[id] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.PerMinute)), 1)
		}
	}
	return p
}

// WaitTurn blocks until provider may be called again
func (p *Pacer) WaitTurn(ctx context.Context, provider string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	now := p.now()
	var wait time.Duration
	if last, ok := p.lastDone[provider]; ok {
		if d := p.limits[provider].MinInterval - now.Sub(last); d > 0 {
			wait = d
		}
	}
	var res *rate.Reservation
	if lim := p.limiters[provider]; lim != nil {
		res = lim.ReserveN(now, 1)
		if d := res.DelayFrom(now); d > wait {
			wait = d
		}
	}
	p.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	if err := p.sleep(ctx, wait); err != nil {
		if res != nil {
			res.CancelAt(p.now())
		}
		return err
	}
	return nil
}

// Done records that a call to provider has returned
func (p *Pacer) Done(provider string) {
	p.mu.Lock()
	p.lastDone[provider] = p.now()
	p.mu.Unlock()
}

// Interval returns the configured minimum interval for provider
func (p *Pacer) Interval(provider string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limits[provider].MinInterval
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
