package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

var upsertIPCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cowrieprocessor",
		Subsystem: "inventory",
		Name:      "upsertip_total",
		Help:      "Total number of database queries issued in the UpsertIP method.",
	},
	[]string{"query"},
)

// GetIP returns the inventory row for an address, or nil when the address
// has never been seen.
func (s *Store) GetIP(ctx context.Context, ip string) (*cowrieprocessor.IPInventory, error) {
	const query = `
SELECT ip_address, country_code, asn_number, asn_org, ip_type,
	first_seen, last_seen, COALESCE(enrichment_ts, 'epoch'::timestamptz),
	geo_source, geo_at, asn_source, asn_at, type_source, type_at
FROM ip_inventory
WHERE ip_address = $1;
`
	var inv cowrieprocessor.IPInventory
	err := s.pool.QueryRow(ctx, query, ip).Scan(
		&inv.IPAddress, &inv.CountryCode, &inv.ASNNumber, &inv.ASNOrg, &inv.IPType,
		&inv.FirstSeen, &inv.LastSeen, &inv.EnrichmentTS,
		&inv.GeoSource, &inv.GeoAt, &inv.ASNSource, &inv.ASNAt, &inv.TypeSource, &inv.TypeAt,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to retrieve inventory for %q: %w", ip, err)
	}
	return &inv, nil
}

// UpsertIP writes an inventory row. When the row names an ASN, the
// matching asn_inventory row is ensured first under a row-level lock so
// concurrent enrichers cannot race the foreign key.
func (s *Store) UpsertIP(ctx context.Context, inv *cowrieprocessor.IPInventory) error {
	const (
		ensureASN = `
INSERT INTO asn_inventory (asn_number, asn_org, country_hint, first_seen, last_seen)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (asn_number) DO UPDATE
SET asn_org   = CASE WHEN asn_inventory.asn_org = ''
					THEN EXCLUDED.asn_org
					ELSE asn_inventory.asn_org END,
	last_seen = GREATEST(asn_inventory.last_seen, EXCLUDED.last_seen);
`

		lockASN = `
SELECT asn_number FROM asn_inventory WHERE asn_number = $1 FOR UPDATE;
`

		upsert = `
INSERT INTO ip_inventory (ip_address, country_code, asn_number, asn_org, ip_type,
	first_seen, last_seen, enrichment_ts,
	geo_source, geo_at, asn_source, asn_at, type_source, type_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (ip_address) DO UPDATE
SET country_code  = EXCLUDED.country_code,
	asn_number    = EXCLUDED.asn_number,
	asn_org       = EXCLUDED.asn_org,
	ip_type       = EXCLUDED.ip_type,
	first_seen    = LEAST(ip_inventory.first_seen, EXCLUDED.first_seen),
	last_seen     = GREATEST(ip_inventory.last_seen, EXCLUDED.last_seen),
	enrichment_ts = EXCLUDED.enrichment_ts,
	geo_source    = EXCLUDED.geo_source,
	geo_at        = EXCLUDED.geo_at,
	asn_source    = EXCLUDED.asn_source,
	asn_at        = EXCLUDED.asn_at,
	type_source   = EXCLUDED.type_source,
	type_at       = EXCLUDED.type_at;
`
	)
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/UpsertIP")
	tctx, done := context.WithTimeout(ctx, 5*time.Second)
	tx, err := s.pool.Begin(tctx)
	done()
	if err != nil {
		return fmt.Errorf("store:upsertIP failed to create transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if inv.ASNNumber != nil {
		if _, err := tx.Exec(ctx, ensureASN, *inv.ASNNumber, inv.ASNOrg, inv.CountryCode, inv.LastSeen); err != nil {
			return fmt.Errorf("failed to ensure asn %d: %w", *inv.ASNNumber, err)
		}
		upsertIPCounter.WithLabelValues("ensure_asn").Add(1)
		var n int64
		if err := tx.QueryRow(ctx, lockASN, *inv.ASNNumber).Scan(&n); err != nil {
			return fmt.Errorf("failed to lock asn %d: %w", *inv.ASNNumber, err)
		}
	}

	ipType := inv.IPType
	if ipType == "" {
		ipType = cowrieprocessor.IPTypeUnknown
	}
	var ts *time.Time
	if !inv.EnrichmentTS.IsZero() {
		ts = &inv.EnrichmentTS
	}
	_, err = tx.Exec(ctx, upsert,
		inv.IPAddress, inv.CountryCode, inv.ASNNumber, inv.ASNOrg, string(ipType),
		inv.FirstSeen, inv.LastSeen, ts,
		string(inv.GeoSource), inv.GeoAt, string(inv.ASNSource), inv.ASNAt,
		string(inv.TypeSource), inv.TypeAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert inventory for %q: %w", inv.IPAddress, err)
	}
	upsertIPCounter.WithLabelValues("upsert_ip").Add(1)
	return tx.Commit(ctx)
}

// StaleIPs pages through addresses whose enrichment timestamp is older
// than the cutoff, never-enriched addresses included.
func (s *Store) StaleIPs(ctx context.Context, olderThan time.Time, afterIP string, limit int) ([]string, error) {
	const query = `
SELECT ip_address
FROM ip_inventory
WHERE COALESCE(enrichment_ts, 'epoch'::timestamptz) < $1
  AND ip_address > $2
ORDER BY ip_address
LIMIT $3;
`
	rows, err := s.pool.Query(ctx, query, olderThan, afterIP, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale addresses: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("failed to scan stale address: %w", err)
		}
		out = append(out, ip)
	}
	return out, rows.Err()
}
