// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package taker

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcjoin/offer"
)

// InfoKind categorizes a message passed to Callbacks.Info.
type InfoKind uint8

const (
	// InfoMessage is an informational progress message.
	InfoMessage InfoKind = iota

	// InfoAbort explains why an attempt is being abandoned.
	InfoAbort
)

// String returns the category name.
func (k InfoKind) String() string {
	if k == InfoAbort {
		return "ABORT"
	}

	return "INFO"
}

// Callbacks lets the application observe and steer a coinjoin attempt.
type Callbacks interface {
	// FilterOrders may veto the selected counterparties before any of
	// them is contacted. Returning false aborts the attempt.
	FilterOrders(sel offer.Selection, totalFee btcutil.Amount) bool

	// Info receives progress and abort messages.
	Info(kind InfoKind, msg string)

	// Finished is invoked once the transaction was broadcast, or failed
	// to be. txid is nil on failure.
	Finished(success bool, txid *chainhash.Hash)
}

// DefaultCallbacks accepts every selection and logs everything else. Embed
// it to override individual callbacks.
type DefaultCallbacks struct{}

// A compile-time check to ensure DefaultCallbacks satisfies Callbacks.
var _ Callbacks = DefaultCallbacks{}

// FilterOrders accepts the selection.
func (DefaultCallbacks) FilterOrders(offer.Selection, btcutil.Amount) bool {
	return true
}

// Info logs the message.
func (DefaultCallbacks) Info(kind InfoKind, msg string) {
	log.Debugf("%v: %s", kind, msg)
}

// Finished logs the outcome.
func (DefaultCallbacks) Finished(success bool, txid *chainhash.Hash) {
	log.Debugf("Taker finished: success=%v txid=%v", success, txid)
}
