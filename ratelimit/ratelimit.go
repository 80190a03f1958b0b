// Package ratelimit bounds calls to external enrichment services.
//
// Each service gets a token bucket plus an optional hard daily quota. The
// bucket smooths request rate; the quota models providers that cut a key
// off after N calls per UTC day regardless of pacing. Callers are expected
// to check Remaining before spending a network round-trip and to skip the
// source when the quota is exhausted.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

// Reported acquisition failures.
var (
	ErrQuotaExhausted = errors.New("ratelimit: daily quota exhausted")
	ErrWaitExceeded   = errors.New("ratelimit: wait deadline exceeded")
)

// Config describes one service's limits.
type Config struct {
	// Rate is the sustained token refill rate per second.
	Rate float64
	// Burst is the bucket depth.
	Burst int
	// DailyQuota caps calls per UTC day. Zero means unlimited.
	DailyQuota int64
	// MaxWait bounds how long Acquire may block. Zero means no bound
	// beyond the caller's context.
	MaxWait time.Duration
}

// Limiter is the per-service limiter.
type Limiter struct {
	svc     cowrieprocessor.Service
	lim     *rate.Limiter
	maxWait time.Duration
	now     func() time.Time

	mu       sync.Mutex
	quota    int64
	used     int64
	quotaDay time.Time
}

// NewLimiter builds a limiter from a config. The now function is used for
// quota-day bookkeeping; pass nil for the wall clock.
func NewLimiter(svc cowrieprocessor.Service, cfg Config, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	burst := cfg.Burst
	if burst < 1 && cfg.Rate > 0 {
		burst = 1
	}
	return &Limiter{
		svc:     svc,
		lim:     rate.NewLimiter(rate.Limit(cfg.Rate), burst),
		maxWait: cfg.MaxWait,
		now:     now,
		quota:   cfg.DailyQuota,
	}
}

// Acquire blocks until n tokens are available, the configured max wait
// passes, or ctx is canceled. On success the daily quota is debited.
func (l *Limiter) Acquire(ctx context.Context, n int) error {
	if !l.debit(int64(n)) {
		return ErrQuotaExhausted
	}
	if l.maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}
	if err := l.lim.WaitN(ctx, n); err != nil {
		l.credit(int64(n))
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrWaitExceeded
		}
		return err
	}
	return nil
}

// Allow reports whether n tokens are immediately available, debiting the
// quota when they are.
func (l *Limiter) Allow(n int) bool {
	if !l.debit(int64(n)) {
		return false
	}
	if !l.lim.AllowN(l.now(), n) {
		l.credit(int64(n))
		return false
	}
	return true
}

// Remaining reports the quota left for the current UTC day. A negative
// value means the service has no daily quota.
func (l *Limiter) Remaining() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quota == 0 {
		return -1
	}
	l.rollover()
	return l.quota - l.used
}

// debit spends quota, reporting false when exhausted. Always true for
// unlimited services.
func (l *Limiter) debit(n int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quota == 0 {
		return true
	}
	l.rollover()
	if l.used+n > l.quota {
		return false
	}
	l.used += n
	return true
}

func (l *Limiter) credit(n int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quota == 0 {
		return
	}
	l.used -= n
	if l.used < 0 {
		l.used = 0
	}
}

// rollover resets the used counter when the UTC day changes. Callers hold
// l.mu.
func (l *Limiter) rollover() {
	day := l.now().UTC().Truncate(24 * time.Hour)
	if !day.Equal(l.quotaDay) {
		l.quotaDay = day
		l.used = 0
	}
}

// Registry holds one limiter per service.
type Registry struct {
	mu   sync.RWMutex
	lims map[cowrieprocessor.Service]*Limiter
}

// NewRegistry builds a registry from per-service configs.
func NewRegistry(cfgs map[cowrieprocessor.Service]Config, now func() time.Time) *Registry {
	r := Registry{lims: make(map[cowrieprocessor.Service]*Limiter, len(cfgs))}
	for svc, cfg := range cfgs {
		r.lims[svc] = NewLimiter(svc, cfg, now)
	}
	return &r
}

// Get returns the limiter for a service, or nil when the service is not
// limited.
func (r *Registry) Get(svc cowrieprocessor.Service) *Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lims[svc]
}
