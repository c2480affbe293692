// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package taker

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/chain"
	"github.com/btcsuite/btcjoin/offer"
	"github.com/btcsuite/btcjoin/pkg/unit"
	"github.com/btcsuite/btcjoin/wallet"
	"github.com/stretchr/testify/mock"
)

// mockWallet is a mock implementation of the wallet.Interface.
type mockWallet struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockWallet implements the
// wallet.Interface.
var _ wallet.Interface = (*mockWallet)(nil)

// NewAddress implements the wallet.Interface.
func (m *mockWallet) NewAddress(ctx context.Context, account uint32,
	change bool) (btcutil.Address, error) {

	args := m.Called(ctx, account, change)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(btcutil.Address), args.Error(1)
}

// SelectUTXOs implements the wallet.Interface.
func (m *mockWallet) SelectUTXOs(ctx context.Context, account uint32,
	target btcutil.Amount) ([]*wallet.Coin, error) {

	args := m.Called(ctx, account, target)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*wallet.Coin), args.Error(1)
}

// PrivKey implements the wallet.Interface.
func (m *mockWallet) PrivKey(ctx context.Context,
	addr btcutil.Address) (*btcec.PrivateKey, error) {

	args := m.Called(ctx, addr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*btcec.PrivateKey), args.Error(1)
}

// SignPsbt implements the wallet.Interface. Without a packet to return the
// given one is returned, so a Run function may sign it in place.
func (m *mockWallet) SignPsbt(ctx context.Context,
	packet *psbt.Packet) (*psbt.Packet, error) {

	args := m.Called(ctx, packet)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	if signed, ok := args.Get(0).(*psbt.Packet); ok {
		return signed, nil
	}

	return packet, nil
}

// ListUnspent implements the wallet.Interface.
func (m *mockWallet) ListUnspent(ctx context.Context) ([]*wallet.Coin,
	error) {

	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*wallet.Coin), args.Error(1)
}

// mockChain is a mock implementation of the chain.Interface.
type mockChain struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockChain implements the
// chain.Interface.
var _ chain.Interface = (*mockChain)(nil)

// QueryUTXOSet implements the chain.Interface.
func (m *mockChain) QueryUTXOSet(ctx context.Context,
	ops []wire.OutPoint) ([]*chain.UTXOInfo, error) {

	args := m.Called(ctx, ops)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*chain.UTXOInfo), args.Error(1)
}

// PushTx implements the chain.Interface.
func (m *mockChain) PushTx(ctx context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	args := m.Called(ctx, tx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*chainhash.Hash), args.Error(1)
}

// EstimateFeeRate implements the chain.Interface.
func (m *mockChain) EstimateFeeRate(ctx context.Context,
	confTarget uint32) (unit.SatPerKVByte, error) {

	args := m.Called(ctx, confTarget)

	return args.Get(0).(unit.SatPerKVByte), args.Error(1)
}

// mockCallbacks is a mock implementation of the Callbacks interface.
type mockCallbacks struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockCallbacks implements the
// Callbacks interface.
var _ Callbacks = (*mockCallbacks)(nil)

// FilterOrders implements the Callbacks interface.
func (m *mockCallbacks) FilterOrders(sel offer.Selection,
	totalFee btcutil.Amount) bool {

	args := m.Called(sel, totalFee)

	return args.Bool(0)
}

// Info implements the Callbacks interface.
func (m *mockCallbacks) Info(kind InfoKind, msg string) {
	m.Called(kind, msg)
}

// Finished implements the Callbacks interface.
func (m *mockCallbacks) Finished(success bool, txid *chainhash.Hash) {
	m.Called(success, txid)
}
