// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testParams = &chaincfg.RegressionNetParams

// testScriptHex is a P2WPKH script paying to a 20 byte hash.
const testScriptHex = "00140300000000000000000000000000000000000000"

func newTestWallet() (*RPCWallet, *mockBackend) {
	m := &mockBackend{}
	w := newRPCWallet(m, &RPCWalletConfig{Chain: testParams})

	return w, m
}

func testAddress(t *testing.T, seed byte) btcutil.Address {
	t.Helper()

	hash := make([]byte, 20)
	hash[0] = seed
	addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, testParams)
	require.NoError(t, err)

	return addr
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()

	b, err := json.Marshal(v)
	require.NoError(t, err)

	return b
}

// TestNewAddress checks that external addresses are requested with the
// account label and that change addresses are labelled afterwards.
func TestNewAddress(t *testing.T) {
	t.Parallel()

	w, m := newTestWallet()
	ext := testAddress(t, 1)
	change := testAddress(t, 2)

	m.On("RawRequest", "getnewaddress", []json.RawMessage{
		mustJSON(t, "jm-account-1"), mustJSON(t, "bech32"),
	}).Return(mustJSON(t, ext.EncodeAddress()), nil).Once()

	m.On("RawRequest", "getrawchangeaddress", []json.RawMessage{
		mustJSON(t, "bech32"),
	}).Return(mustJSON(t, change.EncodeAddress()), nil).Once()

	m.On("RawRequest", "setlabel", []json.RawMessage{
		mustJSON(t, change.EncodeAddress()), mustJSON(t, "jm-account-0"),
	}).Return(json.RawMessage("null"), nil).Once()

	got, err := w.NewAddress(context.Background(), 1, false)
	require.NoError(t, err)
	require.Equal(t, ext.EncodeAddress(), got.EncodeAddress())

	got, err = w.NewAddress(context.Background(), 0, true)
	require.NoError(t, err)
	require.Equal(t, change.EncodeAddress(), got.EncodeAddress())

	m.AssertExpectations(t)
}

// TestListUnspent checks parsing of listunspent results.
func TestListUnspent(t *testing.T) {
	t.Parallel()

	w, m := newTestWallet()
	addr := testAddress(t, 3)

	results := []unspentResult{
		{
			TxID:          chainhash.Hash{1}.String(),
			Vout:          0,
			Address:       addr.EncodeAddress(),
			Label:         "jm-account-2",
			ScriptPubKey:  testScriptHex,
			Amount:        0.5,
			Confirmations: 10,
			Spendable:     true,
		},
		{
			TxID:         chainhash.Hash{2}.String(),
			Vout:         1,
			Address:      addr.EncodeAddress(),
			Label:        "savings",
			ScriptPubKey: testScriptHex,
			Amount:       0.1,
			Spendable:    true,
		},
		{
			TxID:         chainhash.Hash{3}.String(),
			Address:      addr.EncodeAddress(),
			ScriptPubKey: "00",
			Amount:       1,
			Spendable:    false,
		},
	}
	m.On("RawRequest", "listunspent", mock.Anything).Return(
		mustJSON(t, results), nil,
	)

	coins, err := w.ListUnspent(context.Background())
	require.NoError(t, err)
	require.Len(t, coins, 2)

	require.Equal(t, uint32(2), coins[0].Account)
	require.Equal(t, btcutil.Amount(50_000_000), coins[0].Amount)
	require.Equal(t, int64(10), coins[0].Confirmations)
	require.Equal(t, chainhash.Hash{1}, coins[0].OutPoint.Hash)
	require.Len(t, coins[0].PkScript, 22)

	require.Equal(t, uint32(0), coins[1].Account)
	require.Equal(t, uint32(1), coins[1].OutPoint.Index)
}

func testCoin(account uint32, seed byte, amt btcutil.Amount) *Coin {
	return &Coin{
		Credit: wtxmgr.Credit{
			OutPoint: wire.OutPoint{Hash: chainhash.Hash{seed}},
			Amount:   amt,
		},
		Account:       account,
		Confirmations: 6,
	}
}

// TestSelectCoins checks account filtering and insufficient funds.
func TestSelectCoins(t *testing.T) {
	t.Parallel()

	all := []*Coin{
		testCoin(0, 1, 40_000),
		testCoin(0, 2, 70_000),
		testCoin(0, 3, 10_000),
		testCoin(1, 4, 1_000_000),
	}

	coins, err := SelectCoins(all, 0, 100_000, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, TotalValue(coins), btcutil.Amount(100_000))
	for _, c := range coins {
		require.Equal(t, uint32(0), c.Account)
	}
	require.Len(t, coins, 2)

	_, err = SelectCoins(all, 0, 200_000, 0)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = SelectCoins(all, 5, 1, 0)
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

// TestPrivKey checks key lookup and its failure mapping.
func TestPrivKey(t *testing.T) {
	t.Parallel()

	w, m := newTestWallet()
	addr := testAddress(t, 4)
	unknown := testAddress(t, 5)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	wif, err := btcutil.NewWIF(priv, testParams, true)
	require.NoError(t, err)

	m.On("DumpPrivKey", addr).Return(wif, nil)
	m.On("DumpPrivKey", unknown).Return(nil, errors.New("no key"))

	got, err := w.PrivKey(context.Background(), addr)
	require.NoError(t, err)
	require.True(t, got.PubKey().IsEqual(priv.PubKey()))

	_, err = w.PrivKey(context.Background(), unknown)
	require.ErrorIs(t, err, ErrUnknownAddress)
}
