// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package podle

import (
	"encoding/binary"
	"errors"
	"os"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"

	// Register the bbolt backed walletdb driver.
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
)

var (
	// usedBucketKey is the top level bucket holding used commitments as
	// keys with an empty marker value.
	usedBucketKey = []byte("podle-used")

	// externalBucketKey is the top level bucket mapping a serialized
	// outpoint to an encoded External.
	externalBucketKey = []byte("podle-external")

	usedMarker = []byte{1}
)

// errBucketMissing is returned if the store's buckets were not created.
var errBucketMissing = errors.New("commitment bucket not found")

// BoltStore is a Store backed by a walletdb database.
type BoltStore struct {
	db walletdb.DB
}

// A compile time check to ensure BoltStore satisfies the Store interface.
var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens the commitment database at path, creating it if it
// does not exist yet.
func OpenBoltStore(path string, timeout time.Duration) (*BoltStore, error) {
	var (
		db  walletdb.DB
		err error
	)
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		db, err = walletdb.Create("bdb", path, true, timeout, false)
	} else {
		db, err = walletdb.Open("bdb", path, true, timeout, false)
	}
	if err != nil {
		return nil, err
	}

	s, err := NewBoltStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// NewBoltStore wraps an open database, creating the commitment buckets if
// needed.
func NewBoltStore(db walletdb.DB) (*BoltStore, error) {
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		if _, err := tx.CreateTopLevelBucket(usedBucketKey); err != nil {
			return err
		}

		_, err := tx.CreateTopLevelBucket(externalBucketKey)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// IsUsed implements Store.
func (s *BoltStore) IsUsed(c Commitment) (bool, error) {
	var used bool
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		b := tx.ReadBucket(usedBucketKey)
		if b == nil {
			return errBucketMissing
		}

		used = b.Get(c[:]) != nil
		return nil
	})

	return used, err
}

// MarkUsed implements Store.
func (s *BoltStore) MarkUsed(c Commitment) error {
	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		b := tx.ReadWriteBucket(usedBucketKey)
		if b == nil {
			return errBucketMissing
		}

		return b.Put(c[:], usedMarker)
	})
}

// Externals implements Store.
func (s *BoltStore) Externals() ([]*External, error) {
	var exts []*External
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		b := tx.ReadBucket(externalBucketKey)
		if b == nil {
			return errBucketMissing
		}

		return b.ForEach(func(_, v []byte) error {
			e, err := decodeExternal(v)
			if err != nil {
				return err
			}

			exts = append(exts, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return exts, nil
}

// AddExternal implements Store.
func (s *BoltStore) AddExternal(e *External) error {
	v, err := encodeExternal(e)
	if err != nil {
		return err
	}

	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		b := tx.ReadWriteBucket(externalBucketKey)
		if b == nil {
			return errBucketMissing
		}

		return b.Put(outPointKey(e.OutPoint), v)
	})
}

// RemoveExternal implements Store.
func (s *BoltStore) RemoveExternal(op wire.OutPoint) error {
	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		b := tx.ReadWriteBucket(externalBucketKey)
		if b == nil {
			return errBucketMissing
		}

		return b.Delete(outPointKey(op))
	})
}

// outPointKey serializes an outpoint as its 32 byte hash followed by the
// little endian output index.
func outPointKey(op wire.OutPoint) []byte {
	k := make([]byte, 36)
	copy(k, op.Hash[:])
	binary.LittleEndian.PutUint32(k[32:], op.Index)

	return k
}
