//go:build integration_test

package sqltest

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewSQLiteDB opens a file backed SQLite database in the test's temporary
// directory.
func NewSQLiteDB(t testing.TB) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), dbName(t)+".sqlite")
	db, err := sql.Open("sqlite", "file:"+path+"?mode=rwc&_fk=1")
	require.NoError(t, err, "open sqlite database")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		require.NoError(t, err, "ping sqlite database")
	}

	t.Cleanup(func() {
		assert.NoError(t, db.Close(), "close sqlite database")
		assert.NoError(t, os.Remove(path), "remove sqlite database")
	})

	return db
}
