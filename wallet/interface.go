// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet defines the wallet operations a coinjoin taker relies on and
// provides an implementation backed by a bitcoind wallet over JSON-RPC.
//
// Coins are grouped into numbered accounts. A taker spends from one account
// and sends the coinjoin output to the next, so that coins of different
// histories are never merged.
package wallet

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcwallet/wtxmgr"
)

var (
	// ErrInsufficientFunds is returned when the coins of an account cannot
	// cover a requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnknownAddress is returned when the wallet holds no key for an
	// address.
	ErrUnknownAddress = errors.New("address not controlled by wallet")

	// ErrIncompleteSigning is returned when the wallet could not sign every
	// input it was asked to.
	ErrIncompleteSigning = errors.New("wallet did not complete signing")
)

// Coin is an unspent output controlled by the wallet.
type Coin struct {
	wtxmgr.Credit

	// Address is the address the output pays to.
	Address btcutil.Address

	// Account is the account the coin belongs to.
	Account uint32

	// Confirmations is the depth of the coin when it was listed.
	Confirmations int64
}

// Interface is the wallet consumed by the taker. Implementations must be
// safe for use by a single coinjoin attempt at a time; callers running
// attempts concurrently need to serialize access themselves.
type Interface interface {
	// NewAddress derives a fresh address in the account. Change addresses
	// come from the internal branch.
	NewAddress(ctx context.Context, account uint32,
		change bool) (btcutil.Address, error)

	// SelectUTXOs picks coins from the account whose total value covers
	// target. ErrInsufficientFunds is returned if that is not possible.
	SelectUTXOs(ctx context.Context, account uint32,
		target btcutil.Amount) ([]*Coin, error)

	// PrivKey returns the private key for an address of the wallet.
	PrivKey(ctx context.Context,
		addr btcutil.Address) (*btcec.PrivateKey, error)

	// SignPsbt signs every input of the packet the wallet has keys for.
	SignPsbt(ctx context.Context, packet *psbt.Packet) (*psbt.Packet,
		error)

	// ListUnspent returns every unspent coin of the wallet across all
	// accounts.
	ListUnspent(ctx context.Context) ([]*Coin, error)
}

// TotalValue sums the value of the coins.
func TotalValue(coins []*Coin) btcutil.Amount {
	var total btcutil.Amount
	for _, c := range coins {
		total += c.Amount
	}

	return total
}
