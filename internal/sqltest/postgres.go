//go:build integration_test

package sqltest

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var (
	pgOnce     sync.Once
	pgAdminDSN string
	pgErr      error
)

// adminDSN starts the shared Postgres container on first use and returns the
// DSN of its maintenance database.
func adminDSN(t testing.TB) string {
	t.Helper()

	pgOnce.Do(func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), 2*time.Minute,
		)
		defer cancel()

		var container *postgres.PostgresContainer
		container, pgErr = postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("btcjoin"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			postgres.BasicWaitStrategies(),
		)
		if pgErr != nil {
			return
		}

		pgAdminDSN, pgErr = container.ConnectionString(
			ctx, "sslmode=disable",
		)
	})
	require.NoError(t, pgErr, "start postgres container")

	return pgAdminDSN
}

// adminExec runs a statement on the maintenance database.
func adminExec(ctx context.Context, dsn, stmt string) error {
	admin, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer admin.Close()

	_, err = admin.ExecContext(ctx, stmt)

	return err
}

// NewPostgresDB creates a database inside the shared container and returns a
// connection to it. The database is dropped when the test ends.
func NewPostgresDB(t testing.TB) *sql.DB {
	t.Helper()

	dsn := adminDSN(t)
	name := dbName(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	err := adminExec(ctx, dsn, fmt.Sprintf("CREATE DATABASE %s", name))
	require.NoError(t, err, "create test database")

	u, err := url.Parse(dsn)
	require.NoError(t, err, "parse admin dsn")
	u.Path = "/" + name

	db, err := sql.Open("pgx", u.String())
	require.NoError(t, err, "open test database")
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(30 * time.Second)

	t.Cleanup(func() {
		assert.NoError(t, db.Close(), "close test database")

		ctx, cancel := context.WithTimeout(
			context.Background(), 30*time.Second,
		)
		defer cancel()

		_ = adminExec(ctx, dsn, fmt.Sprintf(
			"DROP DATABASE IF EXISTS %s WITH (FORCE)", name,
		))
	})

	return db
}
