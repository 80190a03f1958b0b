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
	"github.com/datagen24/cowrieprocessor-sub005/pkg/microbatch"
)

var (
	commitBatchCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cowrieprocessor",
			Subsystem: "ingest",
			Name:      "commitbatch_total",
			Help:      "Total number of database queries issued in the CommitBatch method.",
		},
		[]string{"query"},
	)

	commitBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cowrieprocessor",
			Subsystem: "ingest",
			Name:      "commitbatch_duration_seconds",
			Help:      "The duration of all queries issued in the CommitBatch method",
		},
		[]string{"query"},
	)
)

// CommitBatch applies one ingest batch and its checkpoint in a single
// transaction.
//
// Event inserts rely on the (source, source_offset, payload_hash) unique
// constraint, so replaying a file is a no-op at the row level. Session
// counters and the fact aggregates are recomputed from the raw_events and
// usage tables rather than folded in additively, which makes the whole
// commit idempotent.
func (s *Store) CommitBatch(ctx context.Context, b *datastore.Batch) (datastore.BatchResult, error) {
	const (
		insertEvent = `
INSERT INTO raw_events (ingest_id, ingest_at, source, source_offset, source_inode,
	payload, payload_hash, session_id, event_type, event_timestamp, risk_score, quarantined)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12)
ON CONFLICT (source, source_offset, payload_hash) DO NOTHING;
`

		upsertSession = `
INSERT INTO session_summaries (session_id, first_event_at, last_event_at, event_count,
	command_count, login_attempts, file_downloads, ssh_key_injections, risk_score,
	source_ip, source_files)
SELECT $1,
	coalesce(min(event_timestamp), now()),
	coalesce(max(event_timestamp), now()),
	count(*),
	count(*) FILTER (WHERE event_type IN ('cowrie.command.input', 'cowrie.command.failed')),
	count(*) FILTER (WHERE event_type LIKE 'cowrie.login.%'),
	count(*) FILTER (WHERE event_type IN ('cowrie.session.file_download', 'cowrie.session.file_upload')),
	count(*) FILTER (WHERE event_type = 'cowrie.client.fingerprint'),
	coalesce(max(risk_score), 0),
	$2, ARRAY[$3]::text[]
FROM raw_events
WHERE session_id = $1
ON CONFLICT (session_id) DO UPDATE
SET first_event_at     = EXCLUDED.first_event_at,
	last_event_at      = EXCLUDED.last_event_at,
	event_count        = EXCLUDED.event_count,
	command_count      = EXCLUDED.command_count,
	login_attempts     = EXCLUDED.login_attempts,
	file_downloads     = EXCLUDED.file_downloads,
	ssh_key_injections = EXCLUDED.ssh_key_injections,
	risk_score         = GREATEST(session_summaries.risk_score, EXCLUDED.risk_score),
	source_ip          = CASE WHEN session_summaries.source_ip = ''
							THEN EXCLUDED.source_ip
							ELSE session_summaries.source_ip END,
	source_files       = (SELECT array_agg(DISTINCT f)
						  FROM unnest(session_summaries.source_files || EXCLUDED.source_files) AS f);
`

		insertKeyUsage = `
INSERT INTO ssh_key_usage (key_hash, session_id, src_ip, seen_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT DO NOTHING;
`

		upsertKeyIntel = `
INSERT INTO ssh_key_intelligence (key_hash, key_type, key_data, key_fingerprint,
	key_comment, key_bits, first_seen, last_seen, total_attempts, unique_sources, unique_sessions)
SELECT $1, $2, $3, $4, $5, $6, min(u.seen_at), max(u.seen_at),
	count(*), count(DISTINCT u.src_ip), count(DISTINCT u.session_id)
FROM ssh_key_usage u
WHERE u.key_hash = $1
ON CONFLICT (key_hash) DO UPDATE
SET first_seen      = LEAST(ssh_key_intelligence.first_seen, EXCLUDED.first_seen),
	last_seen       = GREATEST(ssh_key_intelligence.last_seen, EXCLUDED.last_seen),
	total_attempts  = EXCLUDED.total_attempts,
	unique_sources  = EXCLUDED.unique_sources,
	unique_sessions = EXCLUDED.unique_sessions;
`

		updateUniqueKeys = `
UPDATE session_summaries
SET unique_ssh_keys = (SELECT count(DISTINCT key_hash) FROM ssh_key_usage WHERE session_id = $1)
WHERE session_id = $1;
`

		insertPasswordUsage = `
INSERT INTO password_usage (password_hash, session_id, username, seen_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT DO NOTHING;
`

		upsertPassword = `
INSERT INTO password_tracking (password_hash, password_text, first_seen, last_seen,
	times_seen, unique_sessions)
SELECT $1, $2, min(u.seen_at), max(u.seen_at), count(*), count(DISTINCT u.session_id)
FROM password_usage u
WHERE u.password_hash = $1
ON CONFLICT (password_hash) DO UPDATE
SET password_text   = CASE WHEN password_tracking.password_text = ''
						THEN EXCLUDED.password_text
						ELSE password_tracking.password_text END,
	first_seen      = LEAST(password_tracking.first_seen, EXCLUDED.first_seen),
	last_seen       = GREATEST(password_tracking.last_seen, EXCLUDED.last_seen),
	times_seen      = EXCLUDED.times_seen,
	unique_sessions = EXCLUDED.unique_sessions;
`

		insertFileUsage = `
INSERT INTO file_usage (sha256, session_id, url, seen_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT DO NOTHING;
`

		upsertFile = `
INSERT INTO file_artifacts (sha256, first_seen, last_seen, size, url_samples)
VALUES ($1, $2, $2, $3, array_remove(ARRAY[$4]::text[], ''))
ON CONFLICT (sha256) DO UPDATE
SET first_seen  = LEAST(file_artifacts.first_seen, EXCLUDED.first_seen),
	last_seen   = GREATEST(file_artifacts.last_seen, EXCLUDED.last_seen),
	size        = GREATEST(file_artifacts.size, EXCLUDED.size),
	url_samples = (SELECT (array_agg(DISTINCT u))[1:10]
				   FROM unnest(file_artifacts.url_samples || EXCLUDED.url_samples) AS u
				   WHERE u <> '');
`

		upsertCheckpoint = `
INSERT INTO ingest_checkpoints (phase, source, source_inode, source_offset, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (phase, source) DO UPDATE
SET source_inode  = EXCLUDED.source_inode,
	source_offset = EXCLUDED.source_offset,
	updated_at    = EXCLUDED.updated_at;
`
	)

	var res datastore.BatchResult
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/CommitBatch")
	tctx, done := context.WithTimeout(ctx, 5*time.Second)
	tx, err := s.pool.Begin(tctx)
	done()
	if err != nil {
		return res, fmt.Errorf("store:commitBatch failed to create transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	start := time.Now()
	mBatcher := microbatch.NewInsert(tx, 500, time.Minute)
	for i := range b.Events {
		ev := &b.Events[i]
		err := mBatcher.Queue(ctx, insertEvent,
			ev.IngestID, ev.IngestAt, ev.Source, ev.SourceOffset, ev.SourceInode,
			ev.Payload, ev.PayloadHash, ev.SessionID, ev.EventType, ev.EventAt,
			ev.RiskScore, ev.Quarantined,
		)
		if err != nil {
			return res, fmt.Errorf("batch insert failed for event at %s:%d: %w", ev.Source, ev.SourceOffset, err)
		}
	}
	if err := mBatcher.Done(ctx); err != nil {
		return res, fmt.Errorf("final batch insert failed for events: %w", err)
	}
	res.EventsInserted = mBatcher.Affected()
	res.EventsDeduped = int64(mBatcher.Total()) - res.EventsInserted
	commitBatchCounter.WithLabelValues("insert_events").Add(1)
	commitBatchDuration.WithLabelValues("insert_events").Observe(time.Since(start).Seconds())

	start = time.Now()
	for i := range b.Sessions {
		d := &b.Sessions[i]
		_, err := tx.Exec(ctx, upsertSession, d.SessionID, d.SourceIP, d.SourceFile)
		if err != nil {
			return res, fmt.Errorf("failed to upsert session %q: %w", d.SessionID, err)
		}
	}
	res.SessionsTouched = int64(len(b.Sessions))
	commitBatchCounter.WithLabelValues("upsert_sessions").Add(1)
	commitBatchDuration.WithLabelValues("upsert_sessions").Observe(time.Since(start).Seconds())

	start = time.Now()
	keySessions := make(map[string]struct{})
	for i := range b.SSHKeys {
		k := &b.SSHKeys[i]
		hash := cowrieprocessor.CacheKeyHash(k.KeyData)
		if _, err := tx.Exec(ctx, insertKeyUsage, hash, k.SessionID, k.SrcIP, k.SeenAt); err != nil {
			return res, fmt.Errorf("failed to record ssh key usage: %w", err)
		}
		_, err := tx.Exec(ctx, upsertKeyIntel,
			hash, k.KeyType, k.KeyData, k.Fingerprint, k.Comment, k.Bits,
		)
		if err != nil {
			return res, fmt.Errorf("failed to upsert ssh key intelligence: %w", err)
		}
		keySessions[k.SessionID] = struct{}{}
	}
	for sid := range keySessions {
		if _, err := tx.Exec(ctx, updateUniqueKeys, sid); err != nil {
			return res, fmt.Errorf("failed to update unique key count for session %q: %w", sid, err)
		}
	}
	for i := range b.Passwords {
		p := &b.Passwords[i]
		if _, err := tx.Exec(ctx, insertPasswordUsage, p.PasswordHash, p.SessionID, p.Username, p.SeenAt); err != nil {
			return res, fmt.Errorf("failed to record password usage: %w", err)
		}
		if _, err := tx.Exec(ctx, upsertPassword, p.PasswordHash, p.PasswordText); err != nil {
			return res, fmt.Errorf("failed to upsert password tracking: %w", err)
		}
	}
	for i := range b.Files {
		f := &b.Files[i]
		if _, err := tx.Exec(ctx, insertFileUsage, f.SHA256, f.SessionID, f.URL, f.SeenAt); err != nil {
			return res, fmt.Errorf("failed to record file usage: %w", err)
		}
		if _, err := tx.Exec(ctx, upsertFile, f.SHA256, f.SeenAt, f.Size, f.URL); err != nil {
			return res, fmt.Errorf("failed to upsert file artifact: %w", err)
		}
	}
	commitBatchCounter.WithLabelValues("upsert_facts").Add(1)
	commitBatchDuration.WithLabelValues("upsert_facts").Observe(time.Since(start).Seconds())

	if cp := b.Checkpoint; cp != nil {
		_, err := tx.Exec(ctx, upsertCheckpoint,
			cp.Phase, cp.Source, cp.SourceInode, cp.SourceOffset, cp.UpdatedAt,
		)
		if err != nil {
			return res, fmt.Errorf("failed to upsert checkpoint: %w", err)
		}
		commitBatchCounter.WithLabelValues("upsert_checkpoint").Add(1)
	}

	tctx, done = context.WithTimeout(ctx, 15*time.Second)
	err = tx.Commit(tctx)
	done()
	if err != nil {
		return res, fmt.Errorf("store:commitBatch failed to commit tx: %w", err)
	}
	zlog.Debug(ctx).
		Int64("inserted", res.EventsInserted).
		Int64("deduped", res.EventsDeduped).
		Int64("sessions", res.SessionsTouched).
		Msg("batch committed")
	return res, nil
}
