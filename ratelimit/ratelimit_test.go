package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

func TestAcquireImmediate(t *testing.T) {
	l := NewLimiter(cowrieprocessor.ServiceScanner, Config{Rate: 100, Burst: 10}, nil)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := l.Acquire(ctx, 1); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
}

func TestAcquireDeadline(t *testing.T) {
	l := NewLimiter(cowrieprocessor.ServiceScanner, Config{Rate: 0.1, Burst: 1, MaxWait: 10 * time.Millisecond}, nil)
	ctx := context.Background()
	if err := l.Acquire(ctx, 1); err != nil {
		t.Fatal(err)
	}
	// Bucket empty; refill takes 10s, far past the max wait.
	err := l.Acquire(ctx, 1)
	if !errors.Is(err, ErrWaitExceeded) {
		t.Errorf("got %v, want %v", err, ErrWaitExceeded)
	}
}

func TestDailyQuota(t *testing.T) {
	now := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	l := NewLimiter(cowrieprocessor.ServiceBreach, Config{Rate: 1000, Burst: 1000, DailyQuota: 3}, clock)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx, 1); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if err := l.Acquire(ctx, 1); !errors.Is(err, ErrQuotaExhausted) {
		t.Errorf("got %v, want %v", err, ErrQuotaExhausted)
	}
	if got := l.Remaining(); got != 0 {
		t.Errorf("remaining: got %d, want 0", got)
	}

	// Crossing UTC midnight resets the ledger.
	now = now.Add(2 * time.Minute)
	if got := l.Remaining(); got != 3 {
		t.Errorf("remaining after rollover: got %d, want 3", got)
	}
	if err := l.Acquire(ctx, 1); err != nil {
		t.Errorf("acquire after rollover: %v", err)
	}
}

func TestUnlimitedQuota(t *testing.T) {
	l := NewLimiter(cowrieprocessor.ServiceGeoIP, Config{Rate: 1000, Burst: 1000}, nil)
	if got := l.Remaining(); got != -1 {
		t.Errorf("remaining: got %d, want -1", got)
	}
}

func TestAllow(t *testing.T) {
	l := NewLimiter(cowrieprocessor.ServiceWhoisASN, Config{Rate: 1, Burst: 2, DailyQuota: 10}, nil)
	if !l.Allow(1) || !l.Allow(1) {
		t.Error("burst tokens unavailable")
	}
	if l.Allow(1) {
		t.Error("allowed past burst")
	}
	// The failed attempt must not burn quota.
	if got := l.Remaining(); got != 8 {
		t.Errorf("remaining: got %d, want 8", got)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(map[cowrieprocessor.Service]Config{
		cowrieprocessor.ServiceScanner: {Rate: 1, Burst: 1, DailyQuota: 50},
	}, nil)
	if r.Get(cowrieprocessor.ServiceScanner) == nil {
		t.Error("configured limiter missing")
	}
	if r.Get(cowrieprocessor.ServiceGeoIP) != nil {
		t.Error("unconfigured limiter present")
	}
}
