// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"encoding/json"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/mock"
)

// mockBackend is a mock implementation of the rpcBackend interface.
type mockBackend struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockBackend implements the
// rpcBackend interface.
var _ rpcBackend = (*mockBackend)(nil)

// RawRequest implements the rpcBackend interface.
func (m *mockBackend) RawRequest(method string,
	params []json.RawMessage) (json.RawMessage, error) {

	args := m.Called(method, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(json.RawMessage), args.Error(1)
}

// DumpPrivKey implements the rpcBackend interface.
func (m *mockBackend) DumpPrivKey(
	address btcutil.Address) (*btcutil.WIF, error) {

	args := m.Called(address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*btcutil.WIF), args.Error(1)
}

// Shutdown implements the rpcBackend interface.
func (m *mockBackend) Shutdown() {
	m.Called()
}
