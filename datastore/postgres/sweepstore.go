package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/datagen24/cowrieprocessor-sub005/datastore"
	"github.com/datagen24/cowrieprocessor-sub005/sanitize"
)

var sweepRewriteCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "cowrieprocessor",
		Subsystem: "sweep",
		Name:      "rows_rewritten_total",
		Help:      "Total number of raw event payloads rewritten by the sanitization sweeper.",
	},
)

// SweepCandidates returns rows after the cursor whose payload text
// matches the escaped-control-character pre-filter, in id order. The
// regex runs server side so clean rows never cross the wire.
func (s *Store) SweepCandidates(ctx context.Context, afterID int64, limit int) ([]datastore.SweepRow, error) {
	const query = `
SELECT id, payload::text
FROM raw_events
WHERE id > $1
  AND payload::text ~ $2
ORDER BY id
LIMIT $3;
`
	rows, err := s.pool.Query(ctx, query, afterID, sanitize.EscapePattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweep candidates: %w", err)
	}
	defer rows.Close()
	var out []datastore.SweepRow
	for rows.Next() {
		var r datastore.SweepRow
		if err := rows.Scan(&r.ID, &r.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan sweep candidate: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SweepCount counts matching rows without touching them.
func (s *Store) SweepCount(ctx context.Context) (int64, error) {
	const query = `
SELECT count(*)
FROM raw_events
WHERE payload::text ~ $1;
`
	var n int64
	if err := s.pool.QueryRow(ctx, query, sanitize.EscapePattern).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sweep candidates: %w", err)
	}
	return n, nil
}

// SweepRewrite replaces the payloads of the identified rows with their
// sanitized forms, one transaction per call.
func (s *Store) SweepRewrite(ctx context.Context, rows []datastore.SweepRow) (int64, error) {
	const query = `
UPDATE raw_events
SET payload = $2::jsonb
WHERE id = $1;
`
	tctx, done := context.WithTimeout(ctx, 5*time.Second)
	tx, err := s.pool.Begin(tctx)
	done()
	if err != nil {
		return 0, fmt.Errorf("store:sweepRewrite failed to create transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var n int64
	for i := range rows {
		r := &rows[i]
		tag, err := tx.Exec(ctx, query, r.ID, r.Payload)
		if err != nil {
			return 0, fmt.Errorf("failed to rewrite row %d: %w", r.ID, err)
		}
		n += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("store:sweepRewrite failed to commit tx: %w", err)
	}
	sweepRewriteCounter.Add(float64(n))
	return n, nil
}
