package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

// Disk is the host-local tier (L3), a sharded directory of JSON files:
//
//	<root>/<service>/<hash[:2]>/<hash>.json
//
// Writes go to a temp file in the final directory followed by a rename, so
// concurrent readers never observe a torn entry.
type Disk struct {
	root string
	now  func() time.Time
}

// NewDisk builds the disk tier rooted at dir, creating it if needed.
func NewDisk(dir string, now func() time.Time) (*Disk, error) {
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: creating disk root: %w", err)
	}
	return &Disk{root: dir, now: now}, nil
}

// Name implements Tier.
func (d *Disk) Name() string { return "disk" }

func (d *Disk) path(svc cowrieprocessor.Service, key string) string {
	h := cowrieprocessor.CacheKeyHash(key)
	return filepath.Join(d.root, string(svc), h[:2], h+".json")
}

// Get implements Tier.
func (d *Disk) Get(_ context.Context, svc cowrieprocessor.Service, key string) (*cowrieprocessor.CacheEntry, error) {
	p := d.path(svc, key)
	b, err := os.ReadFile(p)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("cache: reading %s: %w", p, err)
	}
	var e cowrieprocessor.CacheEntry
	if err := json.Unmarshal(b, &e); err != nil {
		// A torn or corrupt shard is a miss, not an error; the next Put
		// overwrites it.
		return nil, nil
	}
	if e.Expired(d.now()) {
		_ = os.Remove(p)
		return nil, nil
	}
	return &e, nil
}

// Put implements Tier.
func (d *Disk) Put(_ context.Context, e *cowrieprocessor.CacheEntry) error {
	p := d.path(e.Service, e.Key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("cache: creating shard dir: %w", err)
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: encoding entry: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(p), ".tmp.*")
	if err != nil {
		return fmt.Errorf("cache: creating temp file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(name)
		return fmt.Errorf("cache: writing entry: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("cache: closing temp file: %w", err)
	}
	if err := os.Rename(name, p); err != nil {
		os.Remove(name)
		return fmt.Errorf("cache: publishing entry: %w", err)
	}
	return nil
}
