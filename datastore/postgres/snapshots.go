package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
	"github.com/datagen24/cowrieprocessor-sub005/datastore"
)

var sealSnapshotsCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "cowrieprocessor",
		Subsystem: "snapshot",
		Name:      "sessions_sealed_total",
		Help:      "Total number of sessions whose enrichment snapshot was sealed.",
	},
)

// SessionsMissingSnapshots pages through sessions that have a source IP
// but no sealed snapshot, in session id order.
func (s *Store) SessionsMissingSnapshots(ctx context.Context, afterID string, limit int) ([]cowrieprocessor.SessionSummary, error) {
	const query = `
SELECT session_id, source_ip
FROM session_summaries
WHERE source_ip <> ''
  AND enrichment_at IS NULL
  AND session_id > $1
ORDER BY session_id
LIMIT $2;
`
	rows, err := s.pool.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsealed sessions: %w", err)
	}
	defer rows.Close()
	var out []cowrieprocessor.SessionSummary
	for rows.Next() {
		var ss cowrieprocessor.SessionSummary
		if err := rows.Scan(&ss.SessionID, &ss.SourceIP); err != nil {
			return nil, fmt.Errorf("failed to scan unsealed session: %w", err)
		}
		out = append(out, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SealSnapshots fills snapshot columns that are still null. Sessions
// sealed by a concurrent pass are left alone, so the builder can be run
// from several hosts at once.
func (s *Store) SealSnapshots(ctx context.Context, fills []datastore.SnapshotFill) (int64, error) {
	const query = `
UPDATE session_summaries
SET snapshot_asn     = $2,
	snapshot_country = $3,
	snapshot_ip_type = $4,
	enrichment_at    = $5
WHERE session_id = $1
  AND enrichment_at IS NULL;
`
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/SealSnapshots")
	tctx, done := context.WithTimeout(ctx, 5*time.Second)
	tx, err := s.pool.Begin(tctx)
	done()
	if err != nil {
		return 0, fmt.Errorf("store:sealSnapshots failed to create transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var sealed int64
	for i := range fills {
		f := &fills[i]
		tag, err := tx.Exec(ctx, query, f.SessionID, f.ASN, f.Country, string(f.IPType), f.At)
		if err != nil {
			return 0, fmt.Errorf("failed to seal session %q: %w", f.SessionID, err)
		}
		sealed += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("store:sealSnapshots failed to commit tx: %w", err)
	}
	sealSnapshotsCounter.Add(float64(sealed))
	zlog.Debug(ctx).
		Int("candidates", len(fills)).
		Int64("sealed", sealed).
		Msg("snapshots sealed")
	return sealed, nil
}
