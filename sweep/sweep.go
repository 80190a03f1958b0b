// Package sweep repairs historical raw event payloads that carry
// control characters in their stored text.
//
// Older loaders persisted payloads whose JSON-escape spellings decode
// to disallowed control characters. The sweeper finds those rows with a
// server-side pre-filter, re-parses each payload, scrubs the string
// leaves, and writes the clean form back.
package sweep

import (
	"context"
	"encoding/json"
	"time"

	"github.com/quay/zlog"

	"github.com/datagen24/cowrieprocessor-sub005/cowrie"
	"github.com/datagen24/cowrieprocessor-sub005/datastore"
	"github.com/datagen24/cowrieprocessor-sub005/sanitize"
)

// DefaultBatchSize is rows fetched and rewritten per transaction.
const DefaultBatchSize = 500

// Stats reports what one sweep did.
type Stats struct {
	Scanned   int64
	Rewritten int64
	// Skipped counts candidate rows whose payload would not re-parse;
	// those are left untouched for manual inspection.
	Skipped int64
}

// Sweeper pages through candidate rows and rewrites them in place.
type Sweeper struct {
	store datastore.SweepStore
	batch int
}

// New builds a Sweeper. batchSize <= 0 gets the default.
func New(store datastore.SweepStore, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Sweeper{store: store, batch: batchSize}
}

// Preview reports how many rows a sweep would touch, plus up to
// sampleSize example rows, without modifying anything.
func (s *Sweeper) Preview(ctx context.Context, sampleSize int) (int64, []datastore.SweepRow, error) {
	n, err := s.store.SweepCount(ctx)
	if err != nil || n == 0 || sampleSize <= 0 {
		return n, nil, err
	}
	sample, err := s.store.SweepCandidates(ctx, 0, sampleSize)
	if err != nil {
		return n, nil, err
	}
	return n, sample, nil
}

// Run sweeps the whole table once. Each page of rewrites commits in its
// own transaction, so an interrupted sweep keeps its progress; re-running
// resumes with whatever still matches the pre-filter.
func (s *Sweeper) Run(ctx context.Context) (Stats, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "sweep/Sweeper.Run")
	start := time.Now()
	var stats Stats
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rows, err := s.store.SweepCandidates(ctx, afterID, s.batch)
		if err != nil {
			return stats, err
		}
		if len(rows) == 0 {
			break
		}
		afterID = rows[len(rows)-1].ID

		clean := rows[:0]
		for _, r := range rows {
			stats.Scanned++
			scrubbed, err := scrub(r.Payload)
			if err != nil {
				stats.Skipped++
				zlog.Warn(ctx).
					Int64("id", r.ID).
					Err(err).
					Msg("candidate payload does not re-parse; leaving as is")
				continue
			}
			r.Payload = scrubbed
			clean = append(clean, r)
		}
		if len(clean) == 0 {
			continue
		}
		n, err := s.store.SweepRewrite(ctx, clean)
		if err != nil {
			return stats, err
		}
		stats.Rewritten += n
	}
	zlog.Info(ctx).
		Int64("scanned", stats.Scanned).
		Int64("rewritten", stats.Rewritten).
		Int64("skipped", stats.Skipped).
		Dur("elapsed", time.Since(start)).
		Msg("sanitization sweep finished")
	return stats, nil
}

// scrub re-parses the stored payload, scrubs every string leaf, and
// returns the canonical clean encoding.
func scrub(payload []byte) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	return cowrie.Canonicalize(sanitize.Object(m))
}
