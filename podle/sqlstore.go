// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package podle

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/wire"
)

// Statements are written so they run unchanged on both SQLite and
// PostgreSQL.
const (
	createUsedSQL = `
		CREATE TABLE IF NOT EXISTS podle_used (
			commitment TEXT PRIMARY KEY
		);`

	createExternalSQL = `
		CREATE TABLE IF NOT EXISTS podle_external (
			outpoint TEXT PRIMARY KEY,
			data TEXT NOT NULL
		);`

	selectUsedSQL = `SELECT 1 FROM podle_used WHERE commitment = $1`

	insertUsedSQL = `
		INSERT INTO podle_used (commitment) VALUES ($1)
		ON CONFLICT (commitment) DO NOTHING`

	selectExternalsSQL = `SELECT data FROM podle_external ORDER BY outpoint`

	upsertExternalSQL = `
		INSERT INTO podle_external (outpoint, data) VALUES ($1, $2)
		ON CONFLICT (outpoint) DO UPDATE SET data = excluded.data`

	deleteExternalSQL = `DELETE FROM podle_external WHERE outpoint = $1`
)

// SQLStore is a Store backed by a SQL database. Any driver accepting
// numbered placeholders works; SQLite and PostgreSQL are tested.
type SQLStore struct {
	db *sql.DB
}

// A compile time check to ensure SQLStore satisfies the Store interface.
var _ Store = (*SQLStore)(nil)

// NewSQLStore creates the commitment tables if needed and returns a store
// using db.
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	for _, stmt := range []string{createUsedSQL, createExternalSQL} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, err
		}
	}

	return &SQLStore{db: db}, nil
}

// IsUsed implements Store.
func (s *SQLStore) IsUsed(c Commitment) (bool, error) {
	var one int
	err := s.db.QueryRow(selectUsedSQL, c.String()).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, err
	}

	return true, nil
}

// MarkUsed implements Store.
func (s *SQLStore) MarkUsed(c Commitment) error {
	_, err := s.db.Exec(insertUsedSQL, c.String())
	return err
}

// Externals implements Store.
func (s *SQLStore) Externals() ([]*External, error) {
	rows, err := s.db.Query(selectExternalsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exts []*External
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}

		raw, err := hex.DecodeString(data)
		if err != nil {
			return nil, err
		}

		e, err := decodeExternal(raw)
		if err != nil {
			return nil, err
		}
		exts = append(exts, e)
	}

	return exts, rows.Err()
}

// AddExternal implements Store.
func (s *SQLStore) AddExternal(e *External) error {
	raw, err := encodeExternal(e)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		upsertExternalSQL, e.OutPoint.String(), hex.EncodeToString(raw),
	)
	return err
}

// RemoveExternal implements Store.
func (s *SQLStore) RemoveExternal(op wire.OutPoint) error {
	_, err := s.db.Exec(deleteExternalSQL, op.String())
	return err
}
