package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quay/zlog"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
	"github.com/datagen24/cowrieprocessor-sub005/cache"
	"github.com/datagen24/cowrieprocessor-sub005/ratelimit"
)

// fakeSource scripts one source's answers per key.
type fakeSource struct {
	svc     cowrieprocessor.Service
	results map[string]*Result
	err     error
	calls   int
}

func (f *fakeSource) Name() cowrieprocessor.Service { return f.svc }

func (f *fakeSource) Lookup(_ context.Context, key string) (*Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.results[key], nil
}

// fakeInventory is an in-memory InventoryStore.
type fakeInventory struct {
	rows    map[string]cowrieprocessor.IPInventory
	upserts int
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{rows: make(map[string]cowrieprocessor.IPInventory)}
}

func (f *fakeInventory) GetIP(_ context.Context, ip string) (*cowrieprocessor.IPInventory, error) {
	if row, ok := f.rows[ip]; ok {
		return &row, nil
	}
	return nil, nil
}

func (f *fakeInventory) UpsertIP(_ context.Context, inv *cowrieprocessor.IPInventory) error {
	f.upserts++
	f.rows[inv.IPAddress] = *inv
	return nil
}

func (f *fakeInventory) StaleIPs(_ context.Context, olderThan time.Time, afterIP string, limit int) ([]string, error) {
	var out []string
	for ip, row := range f.rows {
		if ip > afterIP && row.EnrichmentTS.Before(olderThan) {
			out = append(out, ip)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestCascadeFreshAddress(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeInventory()
	geo := &fakeSource{
		svc: cowrieprocessor.ServiceGeoIP,
		results: map[string]*Result{
			"192.0.2.7": {Country: "NL", ASN: asn(64496), ASNOrg: "Example", Status: cowrieprocessor.StatusSuccess},
		},
	}
	scanner := &fakeSource{
		svc: cowrieprocessor.ServiceScanner,
		results: map[string]*Result{
			"192.0.2.7": {IPType: cowrieprocessor.IPTypeDatacenter, Confidence: 80, Status: cowrieprocessor.StatusSuccess},
		},
	}
	whois := &fakeSource{svc: cowrieprocessor.ServiceWhoisASN}

	c := NewCascade(store, nil, nil, 0, func() time.Time { return now }, geo, whois, scanner)
	inv, err := c.EnrichIP(ctx, "192.0.2.7")
	if err != nil {
		t.Fatal(err)
	}
	if inv.CountryCode != "NL" || inv.ASNNumber == nil || *inv.ASNNumber != 64496 {
		t.Errorf("bad geo/asn: %+v", inv)
	}
	if inv.IPType != cowrieprocessor.IPTypeDatacenter {
		t.Errorf("got type %q, want datacenter", inv.IPType)
	}
	if whois.calls != 0 {
		t.Errorf("whois consulted %d times despite offline ASN", whois.calls)
	}
	if store.upserts != 1 {
		t.Errorf("got %d upserts, want 1", store.upserts)
	}
}

func TestCascadeWhoisFallback(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeInventory()
	geo := &fakeSource{
		svc: cowrieprocessor.ServiceGeoIP,
		results: map[string]*Result{
			"192.0.2.8": {Country: "DE", Status: cowrieprocessor.StatusSuccess},
		},
	}
	whois := &fakeSource{
		svc: cowrieprocessor.ServiceWhoisASN,
		results: map[string]*Result{
			"192.0.2.8": {ASN: asn(64511), ASNOrg: "Fallback", Status: cowrieprocessor.StatusSuccess},
		},
	}

	c := NewCascade(store, nil, nil, 0, func() time.Time { return now }, geo, whois)
	inv, err := c.EnrichIP(ctx, "192.0.2.8")
	if err != nil {
		t.Fatal(err)
	}
	if whois.calls != 1 {
		t.Fatalf("whois calls: got %d, want 1", whois.calls)
	}
	if inv.ASNNumber == nil || *inv.ASNNumber != 64511 || inv.ASNSource != cowrieprocessor.ServiceWhoisASN {
		t.Errorf("bad asn fallback: %+v", inv)
	}
}

func TestCascadeDegraded(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeInventory()
	geo := &fakeSource{
		svc: cowrieprocessor.ServiceGeoIP,
		results: map[string]*Result{
			"192.0.2.9": {Country: "FR", Status: cowrieprocessor.StatusSuccess},
		},
	}
	scanner := &fakeSource{svc: cowrieprocessor.ServiceScanner, err: errors.New("connection refused")}

	c := NewCascade(store, nil, nil, 0, func() time.Time { return now }, geo, scanner)
	inv, err := c.EnrichIP(ctx, "192.0.2.9")
	if err != nil {
		t.Fatalf("degraded run must not fail: %v", err)
	}
	if inv.CountryCode != "FR" {
		t.Errorf("surviving source lost: %+v", inv)
	}
	if inv.IPType != cowrieprocessor.IPTypeUnknown {
		t.Errorf("got type %q, want unknown", inv.IPType)
	}
}

func TestCascadeTotalFailure(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeInventory()
	geo := &fakeSource{svc: cowrieprocessor.ServiceGeoIP, err: errors.New("db gone")}
	scanner := &fakeSource{svc: cowrieprocessor.ServiceScanner, err: errors.New("connection refused")}

	c := NewCascade(store, nil, nil, 0, func() time.Time { return now }, geo, scanner)
	inv, err := c.EnrichIP(ctx, "192.0.2.10")
	if err != nil {
		t.Fatal(err)
	}
	if !inv.NeverEnriched() {
		t.Errorf("want never-enriched sentinel, got %+v", inv)
	}
	if store.upserts != 1 {
		t.Errorf("sentinel row not persisted")
	}
}

func TestCascadeSkipsFreshFields(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Hour)
	store := newFakeInventory()
	store.rows["192.0.2.11"] = cowrieprocessor.IPInventory{
		IPAddress:    "192.0.2.11",
		IPType:       cowrieprocessor.IPTypeCloud,
		TypeSource:   cowrieprocessor.ServiceScanner,
		TypeAt:       &recent,
		EnrichmentTS: recent,
	}
	geo := &fakeSource{svc: cowrieprocessor.ServiceGeoIP}
	scanner := &fakeSource{svc: cowrieprocessor.ServiceScanner}

	c := NewCascade(store, nil, nil, 0, func() time.Time { return now }, geo, scanner)
	inv, err := c.EnrichIP(ctx, "192.0.2.11")
	if err != nil {
		t.Fatal(err)
	}
	if scanner.calls != 0 {
		t.Errorf("scanner consulted for a fresh classification")
	}
	if inv.IPType != cowrieprocessor.IPTypeCloud {
		t.Errorf("fresh classification lost: %+v", inv)
	}
}

// fakeTier is a map-backed cache tier.
type fakeTier struct {
	entries map[string]*cowrieprocessor.CacheEntry
}

func newFakeTier() *fakeTier {
	return &fakeTier{entries: make(map[string]*cowrieprocessor.CacheEntry)}
}

func (f *fakeTier) Name() string { return "fake" }

func (f *fakeTier) Get(_ context.Context, svc cowrieprocessor.Service, key string) (*cowrieprocessor.CacheEntry, error) {
	return f.entries[string(svc)+"|"+key], nil
}

func (f *fakeTier) Put(_ context.Context, e *cowrieprocessor.CacheEntry) error {
	f.entries[string(e.Service)+"|"+e.Key] = e
	return nil
}

func TestConsultCachesGeoResults(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	geo := &fakeSource{
		svc: cowrieprocessor.ServiceGeoIP,
		results: map[string]*Result{
			"192.0.2.13": {Country: "NL", Status: cowrieprocessor.StatusSuccess},
		},
	}
	tier := newFakeTier()
	tc := cache.NewTiered(func() time.Time { return now }, tier)

	c := NewCascade(newFakeInventory(), tc, nil, 0, func() time.Time { return now }, geo)
	if _, err := c.Consult(ctx, geo, "192.0.2.13"); err != nil {
		t.Fatal(err)
	}
	contrib, err := c.Consult(ctx, geo, "192.0.2.13")
	if err != nil {
		t.Fatal(err)
	}
	if geo.calls != 1 {
		t.Errorf("offline lookup repeated instead of served from cache: %d calls", geo.calls)
	}
	if contrib == nil || contrib.Result.Country != "NL" {
		t.Fatalf("cached contribution lost data: %+v", contrib)
	}
	if len(tier.entries) != 1 {
		t.Fatalf("cache entries: got %d, want 1", len(tier.entries))
	}
	for _, e := range tier.entries {
		if !e.ExpiresAt.IsZero() {
			t.Errorf("offline entry must never expire: %v", e.ExpiresAt)
		}
	}
}

func TestCascadeQuotaDenied(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeInventory()
	geo := &fakeSource{
		svc: cowrieprocessor.ServiceGeoIP,
		results: map[string]*Result{
			"192.0.2.12": {Country: "NL", Status: cowrieprocessor.StatusSuccess},
		},
	}
	scanner := &fakeSource{
		svc: cowrieprocessor.ServiceScanner,
		results: map[string]*Result{
			"192.0.2.12": {IPType: cowrieprocessor.IPTypeTor, Confidence: 80, Status: cowrieprocessor.StatusSuccess},
		},
	}
	limits := ratelimit.NewRegistry(map[cowrieprocessor.Service]ratelimit.Config{
		cowrieprocessor.ServiceScanner: {Rate: 100, Burst: 1, DailyQuota: 1},
	}, func() time.Time { return now })
	lim := limits.Get(cowrieprocessor.ServiceScanner)
	if !lim.Allow(1) {
		t.Fatal("could not exhaust quota")
	}

	c := NewCascade(store, nil, limits, 0, func() time.Time { return now }, geo, scanner)
	inv, err := c.EnrichIP(ctx, "192.0.2.12")
	if err != nil {
		t.Fatal(err)
	}
	if scanner.calls != 0 {
		t.Errorf("scanner called past its quota")
	}
	if inv.CountryCode != "NL" {
		t.Errorf("quota denial dropped other sources: %+v", inv)
	}
}
