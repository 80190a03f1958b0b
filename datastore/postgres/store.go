// Package postgres implements the datastore interfaces on PostgreSQL.
//
// All the exported store methods live in their own files.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/remind101/migrate"

	"github.com/datagen24/cowrieprocessor-sub005/datastore"
	"github.com/datagen24/cowrieprocessor-sub005/datastore/postgres/migrations"
	"github.com/datagen24/cowrieprocessor-sub005/internal/pglock"
)

var _ datastore.Store = (*Store)(nil)

// InitPostgresStore initializes a datastore.Store given the pgxpool.Pool.
// Migrations run under an advisory lock so concurrently starting
// processes serialize instead of clobbering each other.
func InitPostgresStore(ctx context.Context, pool *pgxpool.Pool, doMigration bool) (*Store, error) {
	if doMigration {
		if err := Migrate(ctx, pool); err != nil {
			return nil, err
		}
	}
	return NewStore(pool), nil
}

// Migrate brings the schema up to date.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	unlock, err := pglock.New(pool).Lock(ctx, "migrations")
	if err != nil {
		return fmt.Errorf("failed to lock for migrations: %w", err)
	}
	defer unlock()

	db := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer db.Close()
	migrator := migrate.NewPostgresMigrator(db)
	migrator.Table = migrations.MigrationTable
	if err := migrator.Exec(migrate.Up, migrations.Migrations...); err != nil {
		return fmt.Errorf("failed to perform migrations: %w", err)
	}
	return nil
}

// Store implements datastore.Store.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
	}
}

func (s *Store) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}
