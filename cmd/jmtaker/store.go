// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcjoin/podle"

	// Register the pgx driver under name "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"

	// Register SQLite driver under name "sqlite".
	_ "modernc.org/sqlite"
)

// dbOpenTimeout bounds how long opening the bolt database waits for the
// file lock held by another process.
const dbOpenTimeout = 10 * time.Second

// openStore opens the commitment store selected by the config. The returned
// function closes it.
func openStore(ctx context.Context, cfg *config) (podle.Store, func() error,
	error) {

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, nil, err
	}

	switch cfg.DBType {
	case "bolt":
		path := filepath.Join(cfg.DataDir, commitmentsDBName)
		store, err := podle.OpenBoltStore(path, dbOpenTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", path, err)
		}
		log.Infof("Using commitment database %s", path)

		return store, store.Close, nil

	case "sqlite":
		path := filepath.Join(cfg.DataDir, "commitments.sqlite")
		return openSQLStore(ctx, "sqlite", "file:"+path+"?mode=rwc")

	case "postgres":
		return openSQLStore(ctx, "pgx", cfg.DBDSN)

	default:
		return nil, nil, fmt.Errorf("unknown dbtype %q", cfg.DBType)
	}
}

func openSQLStore(ctx context.Context, driver, dsn string) (podle.Store,
	func() error, error) {

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("connect to %s store: %w", driver,
			err)
	}

	store, err := podle.NewSQLStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	log.Infof("Using %s commitment store", driver)

	return store, db.Close, nil
}
