package enrich

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
	"github.com/datagen24/cowrieprocessor-sub005/cache"
	"github.com/datagen24/cowrieprocessor-sub005/datastore"
	"github.com/datagen24/cowrieprocessor-sub005/ratelimit"
)

var (
	sourceCallCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cowrieprocessor",
			Subsystem: "enrich",
			Name:      "source_calls_total",
			Help:      "Total enrichment source consultations by service and outcome.",
		},
		[]string{"service", "outcome"},
	)
	sourceSkipCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cowrieprocessor",
			Subsystem: "enrich",
			Name:      "source_skips_total",
			Help:      "Total enrichment source consultations skipped, by service and reason.",
		},
		[]string{"service", "reason"},
	)
	cascadeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cowrieprocessor",
			Subsystem: "enrich",
			Name:      "cascade_duration_seconds",
			Help:      "Time per full cascade run for one key.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)
)

// DefaultTimeout bounds one remote source call.
const DefaultTimeout = 15 * time.Second

// Cascade runs the ordered source consultation for IP addresses and
// writes the merged result to the inventory.
//
// A source failing, being rate limited, or hitting its quota never fails
// the cascade; the row simply carries whatever the surviving sources
// contributed. Only datastore errors propagate.
type Cascade struct {
	store   datastore.InventoryStore
	cache   *cache.Tiered
	limits  *ratelimit.Registry
	sources []Source
	timeout time.Duration
	now     func() time.Time
}

// NewCascade composes the cascade. Sources are consulted in the order
// given; cache, limits, and now may be nil. A zero timeout uses
// [DefaultTimeout].
func NewCascade(store datastore.InventoryStore, c *cache.Tiered, limits *ratelimit.Registry, timeout time.Duration, now func() time.Time, sources ...Source) *Cascade {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &Cascade{
		store:   store,
		cache:   c,
		limits:  limits,
		sources: sources,
		timeout: timeout,
		now:     now,
	}
}

// EnrichIP runs the cascade for one address and upserts the merged row.
// The returned row may satisfy NeverEnriched when every source was
// denied or failed; callers can tell a degraded run from a dead one.
func (c *Cascade) EnrichIP(ctx context.Context, ip string) (*cowrieprocessor.IPInventory, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "enrich/Cascade.EnrichIP",
		"ip", ip)
	timer := prometheus.NewTimer(cascadeDuration)
	defer timer.ObserveDuration()

	now := c.now()
	inv, err := c.store.GetIP(ctx, ip)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		inv = &cowrieprocessor.IPInventory{
			IPAddress: ip,
			FirstSeen: now,
			LastSeen:  now,
		}
	}

	var contribs []Contribution
	for _, src := range c.sources {
		svc := src.Name()
		if !c.needed(inv, svc, contribs, now) {
			sourceSkipCounter.WithLabelValues(string(svc), "fresh").Inc()
			continue
		}
		contrib, err := c.Consult(ctx, src, ip)
		if err != nil {
			zlog.Warn(ctx).
				Err(err).
				Str("service", string(svc)).
				Msg("enrichment source failed; continuing degraded")
			continue
		}
		if contrib != nil {
			contribs = append(contribs, *contrib)
		}
	}
	Merge(inv, contribs, now)
	if err := c.store.UpsertIP(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// needed reports whether a source has anything to add right now. The
// offline database is free and always consulted; remote sources are
// skipped while the fields they feed are still fresh, or when an earlier
// source in this run already produced them.
func (c *Cascade) needed(inv *cowrieprocessor.IPInventory, svc cowrieprocessor.Service, contribs []Contribution, now time.Time) bool {
	switch svc {
	case cowrieprocessor.ServiceGeoIP:
		return true
	case cowrieprocessor.ServiceWhoisASN:
		for i := range contribs {
			r := contribs[i].Result
			if r != nil && r.Status == cowrieprocessor.StatusSuccess && r.ASN != nil {
				return false
			}
		}
		return stale(inv.ASNAt, cache.TTLWhoisASN, now)
	case cowrieprocessor.ServiceScanner:
		return stale(inv.TypeAt, cache.TTLScanner, now)
	}
	return true
}

func stale(at *time.Time, ttl time.Duration, now time.Time) bool {
	return at == nil || now.Sub(*at) >= ttl
}

// Consult fetches one source's view of a key through the cache and the
// service's rate limiter. It is exported for the refresh sweeps, which
// drive single sources outside a full cascade.
func (c *Cascade) Consult(ctx context.Context, src Source, key string) (*Contribution, error) {
	svc := src.Name()
	if c.cache != nil {
		if e, err := c.cache.Get(ctx, svc, key); err == nil && e != nil {
			var r Result
			if err := json.Unmarshal(e.Payload, &r); err == nil {
				sourceCallCounter.WithLabelValues(string(svc), "cached").Inc()
				return &Contribution{Source: svc, Result: &r, FetchedAt: e.FetchedAt}, nil
			}
		}
	}
	if c.limits != nil {
		if lim := c.limits.Get(svc); lim != nil {
			if err := lim.Acquire(ctx, 1); err != nil {
				sourceSkipCounter.WithLabelValues(string(svc), "limited").Inc()
				return nil, err
			}
		}
	}

	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := src.Lookup(tctx, key)
	if err != nil {
		sourceCallCounter.WithLabelValues(string(svc), "error").Inc()
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	sourceCallCounter.WithLabelValues(string(svc), string(res.Status)).Inc()

	now := c.now()
	switch res.Status {
	case cowrieprocessor.StatusSuccess, cowrieprocessor.StatusNotFound:
		if c.cache != nil {
			payload, err := json.Marshal(res)
			if err == nil {
				// A zero TTL is an entry that never expires.
				ttl := cache.TTLFor(svc, res.Status)
				e := cowrieprocessor.CacheEntry{
					Service:   svc,
					Key:       key,
					Payload:   payload,
					Status:    res.Status,
					FetchedAt: now,
					ExpiresAt: cache.Expiry(now, ttl),
				}
				if err := c.cache.Put(ctx, &e); err != nil {
					zlog.Debug(ctx).
						Err(err).
						Str("service", string(svc)).
						Msg("cache write-through failed")
				}
			}
		}
	}
	return &Contribution{Source: svc, Result: res, FetchedAt: now}, nil
}
