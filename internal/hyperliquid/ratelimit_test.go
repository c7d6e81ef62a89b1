package hyperliquid

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestEffectiveLimitWithHeadroom(t *testing.T) {
	r := NewRateLimiter(100, time.Minute, 0.30)
	if r.EffectiveLimit() != 70 {
		t.Errorf("Expected effective limit 70, got %d", r.EffectiveLimit())
	}
	if r.Capacity() != 100 {
		t.Errorf("Expected capacity 100, got %d", r.Capacity())
	}
}

func TestAcquireUpToLimitNeverSleeps(t *testing.T) {
	r := NewRateLimiter(10, time.Minute, 0.30) // effective limit 7

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	r.sleep = func(_ context.Context, _ time.Duration) error {
		t.Fatal("Acquire under the limit must not sleep")
		return nil
	}

	for i := 0; i < 7; i++ {
		if err := r.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}
	if got := r.CurrentUsage(); got != 7 {
		t.Errorf("Expected usage 7, got %d", got)
	}
}

func TestAcquireBlocksUntilOldestExpires(t *testing.T) {
	r := NewRateLimiter(10, time.Minute, 0.30)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	slept := time.Duration(0)
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept += d
		now = now.Add(d) // the clock advances while sleeping
		return nil
	}

	for i := 0; i < 7; i++ {
		if err := r.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		now = now.Add(time.Second)
	}

	// Window is full; the eighth acquire must wait for the first grant
	if err := r.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if slept <= 0 {
		t.Error("Full window must force a sleep")
	}
	if got := r.CurrentUsage(); got > 7 {
		t.Errorf("Usage must stay within the effective limit, got %d", got)
	}
}

func TestAcquireHonorsCancellation(t *testing.T) {
	r := NewRateLimiter(10, time.Minute, 0.30)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	r.sleep = func(c context.Context, _ time.Duration) error {
		cancel()
		return c.Err()
	}

	for i := 0; i < 7; i++ {
		if err := r.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}
	if err := r.Acquire(ctx); err == nil {
		t.Error("Cancelled acquire must return an error")
	}
}

func TestConcurrentAcquires(t *testing.T) {
	r := NewRateLimiter(100, time.Second, 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := r.CurrentUsage(); got != 50 {
		t.Errorf("Expected 50 grants, got %d", got)
	}
}

func TestOldGrantsEvicted(t *testing.T) {
	r := NewRateLimiter(10, time.Minute, 0.30)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	r.sleep = func(_ context.Context, _ time.Duration) error { return nil }

	for i := 0; i < 7; i++ {
		if err := r.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}

	now = now.Add(2 * time.Minute)
	if got := r.CurrentUsage(); got != 0 {
		t.Errorf("All grants expired, expected 0, got %d", got)
	}
}
