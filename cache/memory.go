package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

// Memory is the in-process tier (L1). It is per-process with no
// cross-process coherence; callers needing cluster-visible state read
// through to the database tier.
type Memory struct {
	c   *ristretto.Cache
	now func() time.Time
}

// NewMemory builds the in-process tier bounded to roughly maxEntries live
// entries. Pass nil for the wall clock.
func NewMemory(maxEntries int64, now func() time.Time) (*Memory, error) {
	if now == nil {
		now = time.Now
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Memory{c: c, now: now}, nil
}

// Name implements Tier.
func (m *Memory) Name() string { return "memory" }

func memkey(svc cowrieprocessor.Service, key string) string {
	return string(svc) + "\x00" + key
}

// Get implements Tier.
func (m *Memory) Get(_ context.Context, svc cowrieprocessor.Service, key string) (*cowrieprocessor.CacheEntry, error) {
	v, ok := m.c.Get(memkey(svc, key))
	if !ok {
		return nil, nil
	}
	e := v.(*cowrieprocessor.CacheEntry)
	if e.Expired(m.now()) {
		m.c.Del(memkey(svc, key))
		return nil, nil
	}
	return e, nil
}

// Put implements Tier.
func (m *Memory) Put(_ context.Context, e *cowrieprocessor.CacheEntry) error {
	cp := *e
	if e.ExpiresAt.IsZero() {
		m.c.Set(memkey(e.Service, e.Key), &cp, 1)
	} else {
		m.c.SetWithTTL(memkey(e.Service, e.Key), &cp, 1, e.ExpiresAt.Sub(m.now()))
	}
	return nil
}

// Wait blocks until buffered writes are applied. Only tests need this;
// ristretto applies Set asynchronously.
func (m *Memory) Wait() {
	m.c.Wait()
}

// Close releases the cache's internal goroutines.
func (m *Memory) Close() {
	m.c.Close()
}
