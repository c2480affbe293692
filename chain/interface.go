// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain provides the blockchain queries a coinjoin taker depends on:
// looking up unspent outputs, estimating fees and broadcasting the finished
// transaction.
package chain

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/pkg/unit"
)

var (
	// ErrBroadcast is returned when the backend refuses a transaction.
	ErrBroadcast = errors.New("transaction rejected by backend")

	// ErrNoFeeEstimate is returned when the backend cannot estimate a fee
	// rate and no fallback is configured.
	ErrNoFeeEstimate = errors.New("no fee estimate available")
)

// UTXOInfo describes a confirmed unspent output.
type UTXOInfo struct {
	OutPoint wire.OutPoint

	// Value is the amount locked in the output.
	Value btcutil.Amount

	// PkScript is the output script.
	PkScript []byte

	// Address is the address encoded by PkScript, or nil if the script
	// is non-standard.
	Address btcutil.Address

	// Confirmations is the depth of the output in the best chain.
	Confirmations int64
}

// Interface is the blockchain backend consumed by the taker.
type Interface interface {
	// QueryUTXOSet returns the status of each outpoint in order. An
	// entry is nil when the output is spent, unconfirmed or unknown.
	QueryUTXOSet(ctx context.Context,
		ops []wire.OutPoint) ([]*UTXOInfo, error)

	// PushTx broadcasts a fully signed transaction.
	PushTx(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)

	// EstimateFeeRate returns the fee rate expected to confirm within
	// confTarget blocks.
	EstimateFeeRate(ctx context.Context,
		confTarget uint32) (unit.SatPerKVByte, error)
}
