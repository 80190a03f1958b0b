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

var cachePurgeCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "cowrieprocessor",
		Subsystem: "cache",
		Name:      "db_purged_total",
		Help:      "Total number of expired rows removed from the database cache tier.",
	},
)

// GetCache returns the cached entry for a service and key hash, or nil on
// miss. Expired rows are misses; hits bump the row's hit bookkeeping.
func (s *Store) GetCache(ctx context.Context, svc cowrieprocessor.Service, keyHash string, now time.Time) (*cowrieprocessor.CacheEntry, error) {
	const query = `
UPDATE enrichment_cache
SET hit_count   = hit_count + 1,
	last_hit_at = $3
WHERE service = $1
  AND key_hash = $2
  AND (expires_at IS NULL OR expires_at > $3)
RETURNING key, payload, status, fetched_at, expires_at;
`
	var (
		e       cowrieprocessor.CacheEntry
		expires *time.Time
	)
	e.Service = svc
	err := s.pool.QueryRow(ctx, query, string(svc), keyHash, now).Scan(
		&e.Key, &e.Payload, &e.Status, &e.FetchedAt, &expires,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to retrieve cache entry: %w", err)
	}
	if expires != nil {
		e.ExpiresAt = *expires
	}
	return &e, nil
}

// PutCache writes an entry, replacing any previous answer for the key.
func (s *Store) PutCache(ctx context.Context, e *cowrieprocessor.CacheEntry) error {
	const query = `
INSERT INTO enrichment_cache (service, key_hash, key, payload, status, fetched_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (service, key_hash) DO UPDATE
SET payload    = EXCLUDED.payload,
	status     = EXCLUDED.status,
	fetched_at = EXCLUDED.fetched_at,
	expires_at = EXCLUDED.expires_at;
`
	var expires *time.Time
	if !e.ExpiresAt.IsZero() {
		expires = &e.ExpiresAt
	}
	keyHash := cowrieprocessor.CacheKeyHash(e.Key)
	_, err := s.pool.Exec(ctx, query,
		string(e.Service), keyHash, e.Key, e.Payload, string(e.Status), e.FetchedAt, expires,
	)
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

// PurgeExpiredCache deletes rows past their expiry, reporting the count
// removed.
func (s *Store) PurgeExpiredCache(ctx context.Context, now time.Time) (int64, error) {
	const query = `
DELETE FROM enrichment_cache
WHERE expires_at IS NOT NULL
  AND expires_at <= $1;
`
	tag, err := s.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	n := tag.RowsAffected()
	cachePurgeCounter.Add(float64(n))
	return n, nil
}
