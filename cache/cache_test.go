package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

func entry(svc cowrieprocessor.Service, key string, ttl time.Duration, now time.Time) *cowrieprocessor.CacheEntry {
	return &cowrieprocessor.CacheEntry{
		Service:   svc,
		Key:       key,
		Payload:   json.RawMessage(`{"country":"NL","asn":64496}`),
		Status:    cowrieprocessor.StatusSuccess,
		FetchedAt: now,
		ExpiresAt: Expiry(now, ttl),
	}
}

// fake is an in-memory Tier with scriptable failures.
type fake struct {
	name string
	m    map[string]*cowrieprocessor.CacheEntry
	err  error
	puts int
}

func newFake(name string) *fake {
	return &fake{name: name, m: map[string]*cowrieprocessor.CacheEntry{}}
}

func (f *fake) Name() string { return f.name }

func (f *fake) Get(_ context.Context, svc cowrieprocessor.Service, key string) (*cowrieprocessor.CacheEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.m[string(svc)+"/"+key], nil
}

func (f *fake) Put(_ context.Context, e *cowrieprocessor.CacheEntry) error {
	if f.err != nil {
		return f.err
	}
	f.puts++
	f.m[string(e.Service)+"/"+e.Key] = e
	return nil
}

func TestTieredBackfill(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	l1, l2, l3 := newFake("l1"), newFake("l2"), newFake("l3")
	tc := NewTiered(clock, l1, l2, l3)
	ctx := context.Background()

	e := entry(cowrieprocessor.ServiceWhoisASN, "192.0.2.1", TTLWhoisASN, now)
	if err := l3.Put(ctx, e); err != nil {
		t.Fatal(err)
	}

	got, err := tc.Get(ctx, cowrieprocessor.ServiceWhoisASN, "192.0.2.1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected hit from l3")
	}
	// The hit must have been backfilled into both faster tiers.
	if l1.puts != 1 || l2.puts != 1 {
		t.Errorf("backfill puts: l1=%d l2=%d, want 1 each", l1.puts, l2.puts)
	}
}

func TestTieredDegrade(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	l1, l2, l3 := newFake("l1"), newFake("l2"), newFake("l3")
	l1.err = errors.New("oom")
	l2.err = errors.New("db down")
	tc := NewTiered(clock, l1, l2, l3)
	ctx := context.Background()

	e := entry(cowrieprocessor.ServiceScanner, "192.0.2.2", TTLScanner, now)
	if err := tc.Put(ctx, e); err != nil {
		t.Fatalf("write-through should survive two dead tiers: %v", err)
	}
	got, err := tc.Get(ctx, cowrieprocessor.ServiceScanner, "192.0.2.2")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected hit from surviving tier")
	}

	l3.err = errors.New("disk full")
	if err := tc.Put(ctx, e); err == nil {
		t.Error("expected error when every tier is down")
	}
}

func TestTieredExpiry(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	l1 := newFake("l1")
	tc := NewTiered(clock, l1)
	ctx := context.Background()

	e := entry(cowrieprocessor.ServiceScanner, "192.0.2.3", TTLScanner, now)
	if err := tc.Put(ctx, e); err != nil {
		t.Fatal(err)
	}
	now = now.Add(TTLScanner + time.Hour)
	got, err := tc.Get(ctx, cowrieprocessor.ServiceScanner, "192.0.2.3")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("expired entry served as hit")
	}
}

func TestMemoryTier(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m, err := NewMemory(1024, clock)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	ctx := context.Background()

	e := entry(cowrieprocessor.ServiceBreach, "5baa61e4", TTLBreach, now)
	if err := m.Put(ctx, e); err != nil {
		t.Fatal(err)
	}
	m.Wait()

	got, err := m.Get(ctx, cowrieprocessor.ServiceBreach, "5baa61e4")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected hit")
	}
	if !cmp.Equal(got.Payload, e.Payload) {
		t.Error(cmp.Diff(e.Payload, got.Payload))
	}

	if got, _ := m.Get(ctx, cowrieprocessor.ServiceBreach, "missing"); got != nil {
		t.Error("hit for never-written key")
	}
}

func TestDiskTier(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	root := t.TempDir()
	d, err := NewDisk(root, clock)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	e := entry(cowrieprocessor.ServiceHashRep, "ab54d286", TTLHashRep, now)
	if err := d.Put(ctx, e); err != nil {
		t.Fatal(err)
	}

	// Shard layout: <root>/<service>/<hash[:2]>/<hash>.json.
	h := cowrieprocessor.CacheKeyHash("ab54d286")
	p := filepath.Join(root, "hash_rep", h[:2], h+".json")
	if _, err := os.Stat(p); err != nil {
		t.Errorf("shard file not at expected path: %v", err)
	}

	got, err := d.Get(ctx, cowrieprocessor.ServiceHashRep, "ab54d286")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected hit")
	}
	if !got.ExpiresAt.Equal(e.ExpiresAt) {
		t.Errorf("expires_at: got %v, want %v", got.ExpiresAt, e.ExpiresAt)
	}

	// Corrupt shard reads as a miss.
	if err := os.WriteFile(p, []byte("{torn"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = d.Get(ctx, cowrieprocessor.ServiceHashRep, "ab54d286")
	if err != nil || got != nil {
		t.Errorf("corrupt shard: got (%v, %v), want miss", got, err)
	}
}

func TestTTLFor(t *testing.T) {
	tt := []struct {
		Svc    cowrieprocessor.Service
		Status cowrieprocessor.CacheStatus
		Want   time.Duration
	}{
		{cowrieprocessor.ServiceGeoIP, cowrieprocessor.StatusSuccess, 0},
		{cowrieprocessor.ServiceWhoisASN, cowrieprocessor.StatusSuccess, TTLWhoisASN},
		{cowrieprocessor.ServiceScanner, cowrieprocessor.StatusSuccess, TTLScanner},
		{cowrieprocessor.ServiceHashRep, cowrieprocessor.StatusSuccess, TTLHashRep},
		{cowrieprocessor.ServiceHashRep, cowrieprocessor.StatusNotFound, TTLHashRepMiss},
		{cowrieprocessor.ServiceBreach, cowrieprocessor.StatusSuccess, TTLBreach},
	}
	for _, tc := range tt {
		if got := TTLFor(tc.Svc, tc.Status); got != tc.Want {
			t.Errorf("TTLFor(%s, %s): got %v, want %v", tc.Svc, tc.Status, got, tc.Want)
		}
	}
}
