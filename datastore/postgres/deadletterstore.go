package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

var deadLetterCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cowrieprocessor",
		Subsystem: "deadletter",
		Name:      "events_total",
		Help:      "Total number of dead-letter queue operations by kind.",
	},
	[]string{"op"},
)

// InsertDeadLetter records input that could not be ingested. The id of
// the stored row is written back to dl.
func (s *Store) InsertDeadLetter(ctx context.Context, dl *cowrieprocessor.DeadLetterEvent) error {
	const query = `
INSERT INTO dead_letter_events (source, source_offset, reason, payload, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id;
`
	created := dl.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	err := s.pool.QueryRow(ctx, query,
		dl.Source, dl.SourceOffset, string(dl.Reason), dl.Payload, created,
	).Scan(&dl.ID)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}
	deadLetterCounter.WithLabelValues("insert").Inc()
	return nil
}

// ListDeadLetters pages the queue by id.
func (s *Store) ListDeadLetters(ctx context.Context, afterID int64, limit int) ([]cowrieprocessor.DeadLetterEvent, error) {
	const query = `
SELECT id, source, source_offset, reason, payload, retry_count, created_at, last_retried_at
FROM dead_letter_events
WHERE id > $1
ORDER BY id
LIMIT $2;
`
	rows, err := s.pool.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()
	var out []cowrieprocessor.DeadLetterEvent
	for rows.Next() {
		var dl cowrieprocessor.DeadLetterEvent
		err := rows.Scan(
			&dl.ID, &dl.Source, &dl.SourceOffset, &dl.Reason, &dl.Payload,
			&dl.RetryCount, &dl.CreatedAt, &dl.LastRetriedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

// MarkRetried bumps the retry counter after a failed repair attempt.
func (s *Store) MarkRetried(ctx context.Context, id int64, at time.Time) error {
	const query = `
UPDATE dead_letter_events
SET retry_count     = retry_count + 1,
	last_retried_at = $2
WHERE id = $1;
`
	if _, err := s.pool.Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to mark dead letter %d retried: %w", id, err)
	}
	deadLetterCounter.WithLabelValues("retry").Inc()
	return nil
}

// ResolveDeadLetter removes a row whose payload was promoted into the raw
// event log.
func (s *Store) ResolveDeadLetter(ctx context.Context, id int64) error {
	const query = `DELETE FROM dead_letter_events WHERE id = $1;`
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to resolve dead letter %d: %w", id, err)
	}
	deadLetterCounter.WithLabelValues("resolve").Inc()
	return nil
}

// DeadLetterStats reports the queue depth and the reason of the newest
// entry.
func (s *Store) DeadLetterStats(ctx context.Context) (int64, cowrieprocessor.DeadLetterReason, error) {
	const (
		count  = `SELECT count(*) FROM dead_letter_events;`
		newest = `SELECT reason FROM dead_letter_events ORDER BY id DESC LIMIT 1;`
	)
	var total int64
	if err := s.pool.QueryRow(ctx, count).Scan(&total); err != nil {
		return 0, "", fmt.Errorf("failed to count dead letters: %w", err)
	}
	var reason cowrieprocessor.DeadLetterReason
	err := s.pool.QueryRow(ctx, newest).Scan(&reason)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return 0, "", fmt.Errorf("failed to read newest dead letter: %w", err)
	}
	return total, reason, nil
}
