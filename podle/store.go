// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package podle

import (
	"sync"

	"github.com/btcsuite/btcd/wire"
)

// Store persists which commitments have been used and the external
// commitments reserved by the operator.
type Store interface {
	// IsUsed reports whether the commitment has been handed out before.
	IsUsed(c Commitment) (bool, error)

	// MarkUsed records the commitment as handed out.
	MarkUsed(c Commitment) error

	// Externals returns every stored external commitment.
	Externals() ([]*External, error)

	// AddExternal stores an external commitment, replacing any existing
	// entry for the same outpoint.
	AddExternal(e *External) error

	// RemoveExternal deletes the external commitment for op, if any.
	RemoveExternal(op wire.OutPoint) error
}

// MemStore is a Store that keeps everything in memory.
type MemStore struct {
	mu        sync.Mutex
	used      map[Commitment]struct{}
	externals map[wire.OutPoint]*External
}

// A compile time check to ensure MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		used:      make(map[Commitment]struct{}),
		externals: make(map[wire.OutPoint]*External),
	}
}

// IsUsed implements Store.
func (m *MemStore) IsUsed(c Commitment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.used[c]
	return ok, nil
}

// MarkUsed implements Store.
func (m *MemStore) MarkUsed(c Commitment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.used[c] = struct{}{}
	return nil
}

// Externals implements Store.
func (m *MemStore) Externals() ([]*External, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exts := make([]*External, 0, len(m.externals))
	for _, e := range m.externals {
		exts = append(exts, e)
	}

	return exts, nil
}

// AddExternal implements Store.
func (m *MemStore) AddExternal(e *External) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.externals[e.OutPoint] = e
	return nil
}

// RemoveExternal implements Store.
func (m *MemStore) RemoveExternal(op wire.OutPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.externals, op)
	return nil
}
