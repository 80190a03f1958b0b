package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/quay/zlog"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
	"github.com/datagen24/cowrieprocessor-sub005/datastore"
	"github.com/datagen24/cowrieprocessor-sub005/ratelimit"
)

// Refresher re-enriches rows whose enrichment has aged out. It only ever
// touches stale rows, so running it on a schedule keeps the inventory
// warm without burning quota on addresses that were just looked up.
type Refresher struct {
	cascade *Cascade
	facts   datastore.FactStore
	breach  Source
	hashrep Source
	now     func() time.Time
}

// NewRefresher wires the refresh sweeps. breach and hashrep may be nil
// to disable the corresponding sweep.
func NewRefresher(cascade *Cascade, facts datastore.FactStore, breach, hashrep Source, now func() time.Time) *Refresher {
	if now == nil {
		now = time.Now
	}
	return &Refresher{
		cascade: cascade,
		facts:   facts,
		breach:  breach,
		hashrep: hashrep,
		now:     now,
	}
}

// RefreshStats reports what a sweep did.
type RefreshStats struct {
	Scanned   int64
	Refreshed int64
	Failed    int64
}

// RefreshIPs re-runs the cascade over addresses whose enrichment
// timestamp is older than maxAge, in pages of pageSize. It stops early
// when a service quota runs dry; the remaining rows are still stale and
// the next sweep picks them up.
func (r *Refresher) RefreshIPs(ctx context.Context, maxAge time.Duration, pageSize int) (RefreshStats, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "enrich/Refresher.RefreshIPs")
	var stats RefreshStats
	cutoff := r.now().Add(-maxAge)
	afterIP := ""
	for {
		ips, err := r.cascade.store.StaleIPs(ctx, cutoff, afterIP, pageSize)
		if err != nil {
			return stats, err
		}
		if len(ips) == 0 {
			break
		}
		for _, ip := range ips {
			stats.Scanned++
			if _, err := r.cascade.EnrichIP(ctx, ip); err != nil {
				stats.Failed++
				if errors.Is(err, ratelimit.ErrQuotaExhausted) || ctx.Err() != nil {
					return stats, err
				}
				continue
			}
			stats.Refreshed++
		}
		afterIP = ips[len(ips)-1]
	}
	zlog.Info(ctx).
		Int64("scanned", stats.Scanned).
		Int64("refreshed", stats.Refreshed).
		Int64("failed", stats.Failed).
		Msg("ip refresh sweep done")
	return stats, nil
}

// RefreshPasswords checks credentials never checked, or last checked
// before maxAge ago, against the breach corpus.
func (r *Refresher) RefreshPasswords(ctx context.Context, maxAge time.Duration, pageSize int) (RefreshStats, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "enrich/Refresher.RefreshPasswords")
	var stats RefreshStats
	if r.breach == nil {
		return stats, nil
	}
	cutoff := r.now().Add(-maxAge)
	for {
		pws, err := r.facts.PasswordsNeedingBreachCheck(ctx, cutoff, pageSize)
		if err != nil {
			return stats, err
		}
		if len(pws) == 0 {
			break
		}
		var progressed bool
		for i := range pws {
			pw := &pws[i]
			stats.Scanned++
			if pw.PasswordText == "" {
				// Cleartext was not retained; nothing to hash for the
				// range query.
				continue
			}
			contrib, err := r.cascade.Consult(ctx, r.breach, pw.PasswordText)
			if err != nil {
				stats.Failed++
				if errors.Is(err, ratelimit.ErrQuotaExhausted) || ctx.Err() != nil {
					return stats, err
				}
				continue
			}
			if contrib == nil || contrib.Result.Flagged == nil {
				continue
			}
			var prevalence int64
			if contrib.Result.Prevalence != nil {
				prevalence = *contrib.Result.Prevalence
			}
			if err := r.facts.UpdateBreachStatus(ctx, pw.PasswordHash, *contrib.Result.Flagged, prevalence, r.now()); err != nil {
				return stats, err
			}
			stats.Refreshed++
			progressed = true
		}
		// A page of rows that cannot be checked (no retained cleartext,
		// lookup failures) would come back verbatim on the next query;
		// stop instead of spinning on it.
		if !progressed || len(pws) < pageSize {
			break
		}
	}
	zlog.Info(ctx).
		Int64("scanned", stats.Scanned).
		Int64("refreshed", stats.Refreshed).
		Int64("failed", stats.Failed).
		Msg("password breach sweep done")
	return stats, nil
}

// RefreshFiles looks up reputation for artifacts with no stored
// analysis.
func (r *Refresher) RefreshFiles(ctx context.Context, pageSize int) (RefreshStats, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "enrich/Refresher.RefreshFiles")
	var stats RefreshStats
	if r.hashrep == nil {
		return stats, nil
	}
	for {
		files, err := r.facts.FilesNeedingAnalysis(ctx, pageSize)
		if err != nil {
			return stats, err
		}
		if len(files) == 0 {
			break
		}
		var progressed bool
		for i := range files {
			f := &files[i]
			stats.Scanned++
			contrib, err := r.cascade.Consult(ctx, r.hashrep, f.SHA256)
			if err != nil {
				stats.Failed++
				if errors.Is(err, ratelimit.ErrQuotaExhausted) || ctx.Err() != nil {
					return stats, err
				}
				continue
			}
			if contrib == nil || contrib.Result.Status != cowrieprocessor.StatusSuccess {
				continue
			}
			flagged := contrib.Result.Flagged != nil && *contrib.Result.Flagged
			if err := r.facts.UpdateFileAnalysis(ctx, f.SHA256, contrib.Result.Raw, flagged, r.now()); err != nil {
				return stats, err
			}
			stats.Refreshed++
			progressed = true
		}
		if !progressed || len(files) < pageSize {
			break
		}
	}
	zlog.Info(ctx).
		Int64("scanned", stats.Scanned).
		Int64("refreshed", stats.Refreshed).
		Int64("failed", stats.Failed).
		Msg("file analysis sweep done")
	return stats, nil
}
