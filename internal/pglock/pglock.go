// Package pglock provides named, cooperative locks backed by PostgreSQL
// advisory locks.
//
// A lock is held on a dedicated connection checked out of the pool for the
// lock's lifetime. Releasing the lock returns the connection. If the
// connection dies the database releases the lock on its own, so a crashed
// process can never wedge the migrator or the enrichment refresher.
package pglock

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quay/zlog"
)

// ErrLockHeld is reported by TryLock when another holder has the key.
var ErrLockHeld = errors.New("pglock: lock held elsewhere")

// Locker hands out advisory locks from a pool.
type Locker struct {
	pool *pgxpool.Pool
}

// New returns a Locker drawing connections from the provided pool.
func New(pool *pgxpool.Pool) *Locker {
	return &Locker{pool: pool}
}

// keyify maps a lock name onto the bigint keyspace Postgres advisory locks
// use. FNV-64a is stable across processes, which is all that is required;
// collisions merely over-serialize.
func keyify(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}

// Unlock releases a held lock. It must be called exactly once.
type Unlock func()

// Lock blocks until the named lock is acquired or the context is canceled.
func (l *Locker) Lock(ctx context.Context, key string) (Unlock, error) {
	return l.acquire(ctx, key, `SELECT pg_advisory_lock($1);`, false)
}

// TryLock acquires the named lock if it is free, reporting ErrLockHeld
// otherwise.
func (l *Locker) TryLock(ctx context.Context, key string) (Unlock, error) {
	return l.acquire(ctx, key, `SELECT pg_try_advisory_lock($1);`, true)
}

func (l *Locker) acquire(ctx context.Context, key, query string, try bool) (Unlock, error) {
	ctx = zlog.ContextWithValues(ctx, "lock", key)
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("pglock: acquiring connection: %w", err)
	}
	k := keyify(key)
	ok := true
	if try {
		if err := conn.QueryRow(ctx, query, k).Scan(&ok); err != nil {
			conn.Release()
			return nil, fmt.Errorf("pglock: taking lock: %w", err)
		}
	} else {
		if _, err := conn.Exec(ctx, query, k); err != nil {
			conn.Release()
			return nil, fmt.Errorf("pglock: taking lock: %w", err)
		}
	}
	if !ok {
		conn.Release()
		return nil, ErrLockHeld
	}
	zlog.Debug(ctx).Msg("lock acquired")
	release := func() {
		// Use a fresh context: the caller's may already be canceled and
		// the unlock still needs to run.
		uctx := context.Background()
		if _, err := conn.Exec(uctx, `SELECT pg_advisory_unlock($1);`, k); err != nil {
			zlog.Warn(uctx).Err(err).Str("lock", key).Msg("error during unlock; dropping connection")
		}
		conn.Release()
	}
	return release, nil
}
