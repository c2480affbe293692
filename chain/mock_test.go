// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
)

// mockBackend is a mock implementation of the rpcBackend interface.
type mockBackend struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockBackend implements the
// rpcBackend interface.
var _ rpcBackend = (*mockBackend)(nil)

// GetTxOut implements the rpcBackend interface.
func (m *mockBackend) GetTxOut(txHash *chainhash.Hash, index uint32,
	mempool bool) (*btcjson.GetTxOutResult, error) {

	args := m.Called(*txHash, index, mempool)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*btcjson.GetTxOutResult), args.Error(1)
}

// EstimateSmartFee implements the rpcBackend interface.
func (m *mockBackend) EstimateSmartFee(confTarget int64,
	mode *btcjson.EstimateSmartFeeMode) (*btcjson.EstimateSmartFeeResult,
	error) {

	args := m.Called(confTarget, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*btcjson.EstimateSmartFeeResult), args.Error(1)
}

// SendRawTransaction implements the rpcBackend interface.
func (m *mockBackend) SendRawTransaction(tx *wire.MsgTx,
	allowHighFees bool) (*chainhash.Hash, error) {

	args := m.Called(tx, allowHighFees)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*chainhash.Hash), args.Error(1)
}

// Shutdown implements the rpcBackend interface.
func (m *mockBackend) Shutdown() {
	m.Called()
}
