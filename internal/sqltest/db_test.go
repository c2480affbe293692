//go:build integration_test

package sqltest

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	createSQL = `
		CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			makers INTEGER NOT NULL
		);`
	insertSQL = `INSERT INTO attempts (id, makers) VALUES ($1, $2)`
	selectSQL = `SELECT makers FROM attempts WHERE id = $1`
	countSQL  = `SELECT COUNT(*) FROM attempts`
)

// TestDatabaseIsolation checks that parallel tests never see each other's
// rows.
func TestDatabaseIsolation(t *testing.T) {
	RunDatabaseTest(t, func(t *testing.T, dbFactory DBFactory) {
		for i := range 3 {
			t.Run(fmt.Sprintf("db%d", i), func(t *testing.T) {
				t.Parallel()

				db := dbFactory(t)
				_, err := db.Exec(createSQL)
				require.NoError(t, err)

				var count int
				require.NoError(t, db.QueryRow(countSQL).Scan(&count))
				require.Zero(t, count)

				_, err = db.Exec(insertSQL, "attempt", i+2)
				require.NoError(t, err)

				var makers int
				err = db.QueryRow(selectSQL, "attempt").Scan(&makers)
				require.NoError(t, err)
				require.Equal(t, i+2, makers)
			})
		}
	})
}

// TestDatabaseMissingRow checks that both drivers report absent rows the
// same way.
func TestDatabaseMissingRow(t *testing.T) {
	RunDatabaseTest(t, func(t *testing.T, dbFactory DBFactory) {
		db := dbFactory(t)
		_, err := db.Exec(createSQL)
		require.NoError(t, err)

		var makers int
		err = db.QueryRow(selectSQL, "missing").Scan(&makers)
		require.ErrorIs(t, err, sql.ErrNoRows)
	})
}
