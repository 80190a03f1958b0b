// Package cache implements the three-tier read-through cache in front of
// the enrichment services.
//
// Tier 1 is in-process memory, tier 2 is the shared database, tier 3 is a
// host-local sharded directory. Reads walk L1→L2→L3 and backfill the
// faster tiers on a hit; writes go through to every tier that is up. A
// tier that errors is logged and skipped, so losing the database degrades
// the cache instead of the cascade.
package cache

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

var (
	lookupCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cowrieprocessor",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of cache lookups by service and outcome tier.",
		},
		[]string{"service", "tier"},
	)
	tierErrorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cowrieprocessor",
			Subsystem: "cache",
			Name:      "tier_errors_total",
			Help:      "Total number of tier failures absorbed by the tiered cache.",
		},
		[]string{"tier", "op"},
	)
)

// Tier is one cache level.
type Tier interface {
	Name() string
	// Get returns the entry or nil on miss. Implementations must treat
	// expired entries as misses.
	Get(ctx context.Context, svc cowrieprocessor.Service, key string) (*cowrieprocessor.CacheEntry, error)
	Put(ctx context.Context, e *cowrieprocessor.CacheEntry) error
}

// Tiered composes tiers in lookup order.
type Tiered struct {
	tiers []Tier
	now   func() time.Time
}

// NewTiered builds a tiered cache. Tiers are consulted in the order given;
// nil entries are skipped so callers can wire an optional tier
// unconditionally.
func NewTiered(now func() time.Time, tiers ...Tier) *Tiered {
	if now == nil {
		now = time.Now
	}
	t := Tiered{now: now}
	for _, tier := range tiers {
		if tier != nil {
			t.tiers = append(t.tiers, tier)
		}
	}
	return &t
}

// Get walks the tiers and returns the first live entry, backfilling every
// faster tier on the way out. A nil return with nil error is a miss.
func (t *Tiered) Get(ctx context.Context, svc cowrieprocessor.Service, key string) (*cowrieprocessor.CacheEntry, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "cache/Tiered.Get")
	for i, tier := range t.tiers {
		e, err := tier.Get(ctx, svc, key)
		if err != nil {
			tierErrorCounter.WithLabelValues(tier.Name(), "get").Inc()
			zlog.Debug(ctx).
				Err(err).
				Str("tier", tier.Name()).
				Msg("tier error; degrading")
			continue
		}
		if e == nil || e.Expired(t.now()) {
			continue
		}
		lookupCounter.WithLabelValues(string(svc), tier.Name()).Inc()
		for _, upper := range t.tiers[:i] {
			if err := upper.Put(ctx, e); err != nil {
				tierErrorCounter.WithLabelValues(upper.Name(), "backfill").Inc()
			}
		}
		return e, nil
	}
	lookupCounter.WithLabelValues(string(svc), "miss").Inc()
	return nil, nil
}

// Put writes the entry through every tier. Tier failures are absorbed; Put
// only fails when no tier at all accepted the write.
func (t *Tiered) Put(ctx context.Context, e *cowrieprocessor.CacheEntry) error {
	ctx = zlog.ContextWithValues(ctx, "component", "cache/Tiered.Put")
	var wrote bool
	var last error
	for _, tier := range t.tiers {
		if err := tier.Put(ctx, e); err != nil {
			tierErrorCounter.WithLabelValues(tier.Name(), "put").Inc()
			zlog.Debug(ctx).
				Err(err).
				Str("tier", tier.Name()).
				Msg("tier error on write-through")
			last = err
			continue
		}
		wrote = true
	}
	if !wrote {
		return last
	}
	return nil
}
