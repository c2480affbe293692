//go:build integration_test

// Package sqltest provides throwaway SQLite and PostgreSQL databases for the
// SQL-backed stores' integration tests.
package sqltest

import (
	"database/sql"
	"fmt"
	"hash/fnv"
	"testing"

	// Register the pgx driver under name "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"

	// Register SQLite driver under name "sqlite".
	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"
)

// DBFactory returns a fresh, isolated database for the test. The database is
// removed when the test ends.
type DBFactory func(t testing.TB) *sql.DB

// DBTestFunc is a test body run once per database backend.
type DBTestFunc func(t *testing.T, dbFactory DBFactory)

// backends lists the databases every store test runs against.
var backends = []struct {
	name    string
	factory DBFactory
}{
	{name: "Postgres", factory: NewPostgresDB},
	{name: "SQLite", factory: NewSQLiteDB},
}

// RunDatabaseTest runs testFunc in parallel against each backend.
func RunDatabaseTest(t *testing.T, testFunc DBTestFunc) {
	t.Helper()

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			testFunc(t, b.factory)
		})
	}
}

// dbName derives a short database name from the test name so repeated runs
// reuse the same name and test caching keeps working.
func dbName(t testing.TB) string {
	t.Helper()

	h := fnv.New32a()
	_, err := h.Write([]byte(t.Name()))
	require.NoError(t, err)

	name := fmt.Sprintf("btcjoin_%08x", h.Sum32())
	t.Logf("test database: %s", name)

	return name
}
