// Package snapshot seals enrichment values onto session rows.
//
// Inventory rows are refreshed in place, so a session's analytical
// context would drift if queries joined against live inventory. The
// builder copies the enrichment state once onto each session; sealed
// columns are never overwritten.
package snapshot

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
	"github.com/datagen24/cowrieprocessor-sub005/datastore"
)

var sealedCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "cowrieprocessor",
		Subsystem: "snapshot",
		Name:      "sealed_total",
		Help:      "Total sessions whose snapshot columns were sealed.",
	},
)

// pageSize is sessions fetched and sealed per round trip.
const pageSize = 1000

// Store is the persistence surface the builder needs.
type Store interface {
	datastore.SessionStore
	datastore.InventoryStore
}

// Stats reports what one builder run did.
type Stats struct {
	Scanned int64
	Sealed  int64
	// Deferred counts sessions skipped because their address has no
	// enriched inventory row yet; a later run picks them up.
	Deferred int64
}

// Builder backfills snapshot columns on sessions that have a source
// address but were never sealed.
type Builder struct {
	store Store
	now   func() time.Time
}

// New builds a Builder. now may be nil.
func New(store Store, now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{store: store, now: now}
}

// Run pages through unsealed sessions and seals each one whose address
// has enriched inventory. Re-running is harmless: the store's update
// only touches null columns.
func (b *Builder) Run(ctx context.Context) (Stats, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "snapshot/Builder.Run")
	var stats Stats
	var afterID string
	// Inventory rows repeat heavily across sessions; memoize per run.
	invs := make(map[string]*cowrieprocessor.IPInventory)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		sessions, err := b.store.SessionsMissingSnapshots(ctx, afterID, pageSize)
		if err != nil {
			return stats, err
		}
		if len(sessions) == 0 {
			break
		}
		afterID = sessions[len(sessions)-1].SessionID

		var fills []datastore.SnapshotFill
		for i := range sessions {
			s := &sessions[i]
			stats.Scanned++
			inv, ok := invs[s.SourceIP]
			if !ok {
				inv, err = b.store.GetIP(ctx, s.SourceIP)
				if err != nil {
					return stats, err
				}
				invs[s.SourceIP] = inv
			}
			if inv == nil || inv.EnrichmentTS.IsZero() {
				stats.Deferred++
				continue
			}
			// The seal records when the enrichment was produced, not
			// when the backfill happened to run.
			fills = append(fills, datastore.SnapshotFill{
				SessionID: s.SessionID,
				SourceIP:  s.SourceIP,
				ASN:       inv.ASNNumber,
				Country:   inv.CountryCode,
				IPType:    inv.IPType,
				At:        inv.EnrichmentTS,
			})
		}
		if len(fills) > 0 {
			n, err := b.store.SealSnapshots(ctx, fills)
			if err != nil {
				return stats, err
			}
			stats.Sealed += n
			sealedCounter.Add(float64(n))
		}
	}
	zlog.Info(ctx).
		Int64("scanned", stats.Scanned).
		Int64("sealed", stats.Sealed).
		Int64("deferred", stats.Deferred).
		Msg("snapshot backfill finished")
	return stats, nil
}
