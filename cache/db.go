package cache

import (
	"context"
	"time"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
	"github.com/datagen24/cowrieprocessor-sub005/datastore"
)

// DB adapts the datastore's cache table into a Tier (L2). It is the only
// tier shared across the cluster.
type DB struct {
	store datastore.CacheStore
	now   func() time.Time
}

// NewDB wraps a cache store. Pass nil for the wall clock.
func NewDB(store datastore.CacheStore, now func() time.Time) *DB {
	if now == nil {
		now = time.Now
	}
	return &DB{store: store, now: now}
}

// Name implements Tier.
func (d *DB) Name() string { return "db" }

// Get implements Tier.
func (d *DB) Get(ctx context.Context, svc cowrieprocessor.Service, key string) (*cowrieprocessor.CacheEntry, error) {
	return d.store.GetCache(ctx, svc, cowrieprocessor.CacheKeyHash(key), d.now())
}

// Put implements Tier.
func (d *DB) Put(ctx context.Context, e *cowrieprocessor.CacheEntry) error {
	return d.store.PutCache(ctx, e)
}
