// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package taker

import (
	"errors"
	"fmt"
)

var (
	// ErrOrdersRejected is returned when the order filter callback vetoes
	// the selected counterparties.
	ErrOrdersRejected = errors.New("selected orders rejected by filter")

	// ErrAddressDerivation is returned when the wallet fails to provide a
	// destination or change address.
	ErrAddressDerivation = errors.New("address derivation error")

	// ErrNotEnoughCounterparties is returned when fewer counterparties than
	// the configured minimum pass validation.
	ErrNotEnoughCounterparties = errors.New("not enough counterparties " +
		"responded to fill, giving up")

	// ErrCommitmentUnavailable is returned when no commitment could be
	// sourced from the wallet or the external pool.
	ErrCommitmentUnavailable = errors.New("failed to source a commitment")

	// ErrFeeExceedsInputs is returned when the re-estimated network fee
	// leaves the taker with non-positive change.
	ErrFeeExceedsInputs = errors.New("transaction fee too large for " +
		"taker inputs")

	// ErrInconsistentState is returned when signature bookkeeping
	// disagrees with the transaction, which indicates a logic error.
	ErrInconsistentState = errors.New("signature state inconsistent")

	// ErrWrongPhase is returned when an operation is invoked out of order.
	ErrWrongPhase = errors.New("operation not valid in current phase")

	// ErrUnknownCounterparty is returned for messages from a counterparty
	// that is not part of the transaction.
	ErrUnknownCounterparty = errors.New("unknown counterparty")

	// ErrNoSignatureMatch is returned when a signature does not verify
	// against any unsigned input of its sender.
	ErrNoSignatureMatch = errors.New("signature did not match any input")

	// ErrDustAmount is returned when the coinjoin amount itself would be a
	// dust output.
	ErrDustAmount = errors.New("coinjoin amount is dust")

	// ErrAborted is returned by operations on an attempt that was aborted.
	ErrAborted = errors.New("coinjoin attempt aborted")
)

// FatalError marks a condition under which the taker cannot continue with
// any counterparty. The attempt is halted and background monitors stopped
// before a FatalError is returned.
type FatalError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is or wraps a FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
