// Package integration gates tests that need real infrastructure.
package integration

import (
	"os"
	"testing"
)

// EnvDSN is the environment variable holding the test database's
// connection string.
const EnvDSN = "POSTGRES_CONNECTION_STRING"

// NeedDB skips the test unless a database connection string is provided
// in the environment, and returns it. Tests run against the database are
// expected to create and clean their own rows.
func NeedDB(t testing.TB) string {
	t.Helper()
	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skipf("skipping: set %s to run database tests", EnvDSN)
	}
	return dsn
}
