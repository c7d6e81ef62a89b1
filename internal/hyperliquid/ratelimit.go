package hyperliquid

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter that keeps usage below a headroom
// fraction of the exchange's published limit
type RateLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	limit    int // effective limit after headroom
	capacity int // published limit
	grants   []time.Time
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

// NewRateLimiter creates a limiter for maxRequests per window, holding back
// headroom (e.g. 0.30 keeps usage at 70% of the published limit)
func NewRateLimiter(maxRequests int, window time.Duration, headroom float64) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	if headroom < 0 || headroom >= 1 {
		headroom = 0.30
	}
	effective := int(float64(maxRequests) * (1 - headroom))
	if effective < 1 {
		effective = 1
	}
	return &RateLimiter{
		window:   window,
		limit:    effective,
		capacity: maxRequests,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Acquire blocks until a request slot is free or the context is cancelled.
// One acquire serializes against all others.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		now := r.now()
		r.evict(now)

		if len(r.grants) < r.limit {
			r.grants = append(r.grants, now)
			return nil
		}

		wait := r.grants[0].Add(r.window).Sub(now)
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// evict drops grants older than the window; callers hold the mutex
func (r *RateLimiter) evict(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.grants) && !r.grants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.grants = append(r.grants[:0], r.grants[i:]...)
	}
}

// CurrentUsage returns the number of grants in the current window.
// Best-effort: the value may be stale by the time the caller reads it.
func (r *RateLimiter) CurrentUsage() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evict(r.now())
	return len(r.grants)
}

// Capacity returns the published request limit for the window
func (r *RateLimiter) Capacity() int {
	return r.capacity
}

// EffectiveLimit returns the limit actually enforced after headroom
func (r *RateLimiter) EffectiveLimit() int {
	return r.limit
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
