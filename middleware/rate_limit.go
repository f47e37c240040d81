package middleware

import (
	"context"
	"sync"
	"time"
)

// authFailures tracks failed credential checks from one IP
type authFailures struct {
	Count    int
	FirstAt  time.Time
	LockedAt time.Time
	IsLocked bool
}

// AuthLimiter locks out IPs that repeatedly present a wrong admin secret
type AuthLimiter struct {
	mu           sync.Mutex
	attempts     map[string]*authFailures
	maxFailures  int
	windowPeriod time.Duration
	lockDuration time.Duration
	now          func() time.Time
}

// NewAuthLimiter creates a limiter.
// maxFailures: failed checks allowed within the window
// windowPeriod: time window for counting failures
// lockDuration: how long to lock the IP once maxFailures is reached
func NewAuthLimiter(maxFailures int, windowPeriod, lockDuration time.Duration) *AuthLimiter {
	return &AuthLimiter{
		attempts:     make(map[string]*authFailures),
		maxFailures:  maxFailures,
		windowPeriod: windowPeriod,
		lockDuration: lockDuration,
		now:          time.Now,
	}
}

// StartCleanup drops expired entries every interval until ctx is done
func (rl *AuthLimiter) StartCleanup(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup()
			}
		}
	}()
}

func (rl *AuthLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, a := range rl.attempts {
		if a.IsLocked {
			if now.Sub(a.LockedAt) > rl.lockDuration {
				delete(rl.attempts, ip)
			}
		} else if now.Sub(a.FirstAt) > rl.windowPeriod {
			delete(rl.attempts, ip)
		}
	}
}

// Check reports whether ip may attempt authentication, and if not, for how long
func (rl *AuthLimiter) Check(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	a, ok := rl.attempts[ip]
	if !ok {
		return true, 0
	}
	now := rl.now()
	if a.IsLocked {
		if remaining := rl.lockDuration - now.Sub(a.LockedAt); remaining > 0 {
			return false, remaining
		}
		delete(rl.attempts, ip)
		return true, 0
	}
	if now.Sub(a.FirstAt) > rl.windowPeriod {
		delete(rl.attempts, ip)
	}
	return true, 0
}

// RecordFailure counts a failed check and locks ip once the limit is hit
func (rl *AuthLimiter) RecordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	a, ok := rl.attempts[ip]
	if !ok || now.Sub(a.FirstAt) > rl.windowPeriod {
		a = &authFailures{FirstAt: now}
		rl.attempts[ip] = a
	}
	a.Count++
	if a.Count >= rl.maxFailures {
		a.IsLocked = true
		a.LockedAt = now
	}
}

// Reset forgets ip after a successful check
func (rl *AuthLimiter) Reset(ip string) {
	rl.mu.Lock()
	delete(rl.attempts, ip)
	rl.mu.Unlock()
}
