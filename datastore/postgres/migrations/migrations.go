// Package migrations holds the engine's database schema, applied through
// remind101/migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/remind101/migrate"
)

// MigrationTable is where applied migration ids are recorded.
const MigrationTable = "cowrieprocessor_migrations"

//go:embed *.sql
var fs embed.FS

func runFile(n string) func(*sql.Tx) error {
	b, err := fs.ReadFile(n)
	return func(tx *sql.Tx) error {
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(b)); err != nil {
			return err
		}
		return nil
	}
}

var Migrations = []migrate.Migration{
	{
		ID: 1,
		Up: runFile("01-init.sql"),
	},
	{
		ID: 2,
		Up: inventoryTables,
	},
	{
		ID: 3,
		Up: runFile("03-facts.sql"),
	},
	{
		ID: 4,
		Up: runFile("04-cache.sql"),
	},
	{
		ID: 5,
		Up: snapshotColumns,
	},
	{
		ID: 6,
		Up: schemaState,
	},
}

// inventoryTables creates the per-IP and per-ASN inventory. Deployments
// migrated from the earlier sqlite-era tooling can carry an ip_inventory
// whose asn column is text, which breaks the foreign key; such a table is
// dropped and rebuilt rather than altered in place, since the inventory
// is re-derivable from the enrichment cascade.
func inventoryTables(tx *sql.Tx) error {
	const check = `
SELECT data_type
FROM information_schema.columns
WHERE table_name = 'ip_inventory'
  AND column_name = 'asn_number';`
	var typ string
	err := tx.QueryRow(check).Scan(&typ)
	switch {
	case errors.Is(err, sql.ErrNoRows): // fresh database
	case err != nil:
		return fmt.Errorf("inspecting ip_inventory: %w", err)
	case typ != "bigint":
		if _, err := tx.Exec(`DROP TABLE ip_inventory;`); err != nil {
			return fmt.Errorf("dropping legacy ip_inventory: %w", err)
		}
	}
	return runFile("02-inventory.sql")(tx)
}

// schemaState creates the auxiliary bookkeeping table and validates that
// the session and inventory address columns still agree on type. A
// mismatch means the database was modified outside migrations; refusing
// here is cheaper than corrupt joins later.
func schemaState(tx *sql.Tx) error {
	const create = `
CREATE TABLE IF NOT EXISTS schema_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`
	if _, err := tx.Exec(create); err != nil {
		return fmt.Errorf("creating schema_state: %w", err)
	}
	const check = `
SELECT s.data_type, i.data_type
FROM information_schema.columns s, information_schema.columns i
WHERE s.table_name = 'session_summaries' AND s.column_name = 'source_ip'
  AND i.table_name = 'ip_inventory' AND i.column_name = 'ip_address';`
	var sTyp, iTyp string
	if err := tx.QueryRow(check).Scan(&sTyp, &iTyp); err != nil {
		return fmt.Errorf("inspecting address column types: %w", err)
	}
	if sTyp != iTyp {
		return fmt.Errorf("address column types diverged: session_summaries.source_ip is %s, ip_inventory.ip_address is %s", sTyp, iTyp)
	}
	const record = `
INSERT INTO schema_state (key, value) VALUES ('address_type', $1)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now();`
	if _, err := tx.Exec(record, sTyp); err != nil {
		return fmt.Errorf("recording schema state: %w", err)
	}
	return nil
}

// snapshotColumns adds the sealed enrichment snapshot to sessions and
// backfills it for sessions whose source address is already enriched.
// The backfill pages through candidates so one pass never pins an
// unbounded row set.
func snapshotColumns(tx *sql.Tx) error {
	if err := runFile("05-snapshots.sql")(tx); err != nil {
		return err
	}
	const backfill = `
UPDATE session_summaries s
SET snapshot_asn     = i.asn_number,
	snapshot_country = i.country_code,
	snapshot_ip_type = i.ip_type,
	enrichment_at    = i.enrichment_ts
FROM ip_inventory i
WHERE s.session_id IN (
	SELECT c.session_id
	FROM session_summaries c
	JOIN ip_inventory ci ON ci.ip_address = c.source_ip
	WHERE c.source_ip <> ''
	  AND c.enrichment_at IS NULL
	  AND ci.enrichment_ts IS NOT NULL
	ORDER BY c.session_id
	LIMIT 1000
)
  AND i.ip_address = s.source_ip
  AND i.enrichment_ts IS NOT NULL;`
	for {
		res, err := tx.Exec(backfill)
		if err != nil {
			return fmt.Errorf("backfilling session snapshots: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}
