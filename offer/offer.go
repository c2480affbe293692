// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package offer models the standing offers posted by liquidity providers and
// selects a set of counterparties for a coinjoin from an offer book.
package offer

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcjoin/pkg/unit"
)

var (
	// ErrUnknownFeeModel is returned when an offer carries a fee model tag
	// that is neither relative nor absolute.
	ErrUnknownFeeModel = errors.New("unknown fee model")

	// ErrInvalidOffer is returned when an offer fails basic sanity checks.
	ErrInvalidOffer = errors.New("invalid offer")
)

// FeeModel describes how a liquidity provider charges for participating in a
// coinjoin.
type FeeModel uint8

const (
	// Relative offers charge a proportion of the coinjoin amount.
	Relative FeeModel = iota

	// Absolute offers charge a flat amount regardless of coinjoin size.
	Absolute
)

// String returns the canonical tag of the fee model.
func (m FeeModel) String() string {
	switch m {
	case Relative:
		return "relative"
	case Absolute:
		return "absolute"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ParseFeeModel parses a fee model tag. Both the canonical names and the
// offer-book order type names are accepted.
func ParseFeeModel(s string) (FeeModel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "relative", "reloffer", "swreloffer":
		return Relative, nil
	case "absolute", "absoffer", "swabsoffer":
		return Absolute, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFeeModel, s)
	}
}

// Offer is a single standing offer read from the offer book. Offers are
// immutable once read.
type Offer struct {
	// Counterparty identifies the liquidity provider posting the offer.
	Counterparty string

	// OrderID is the provider's opaque identifier for this offer.
	OrderID uint32

	// Model selects which of RelFee or AbsFee applies.
	Model FeeModel

	// RelFee is the proportion of the coinjoin amount charged by a
	// relative offer.
	RelFee unit.Proportion

	// AbsFee is the flat fee charged by an absolute offer.
	AbsFee btcutil.Amount

	// TxFee is the provider's contribution towards the network fee.
	TxFee btcutil.Amount

	// MinSize and MaxSize bound the coinjoin amounts the provider is
	// willing to take part in.
	MinSize btcutil.Amount
	MaxSize btcutil.Amount
}

// CoinjoinFee returns the fee the counterparty earns for a coinjoin of the
// given amount.
func (o *Offer) CoinjoinFee(amount btcutil.Amount) btcutil.Amount {
	if o.Model == Absolute {
		return o.AbsFee
	}

	return o.RelFee.Of(amount)
}

// FeeString renders the offer's fee in its own model.
func (o *Offer) FeeString() string {
	if o.Model == Absolute {
		return o.AbsFee.String()
	}

	return o.RelFee.String()
}

// Validate performs sanity checks on an offer read from the book.
func (o *Offer) Validate() error {
	switch {
	case o.Counterparty == "":
		return fmt.Errorf("%w: missing counterparty", ErrInvalidOffer)

	case o.Model != Relative && o.Model != Absolute:
		return fmt.Errorf("%w: %v", ErrUnknownFeeModel, o.Model)

	case o.Model == Relative && o.RelFee.Rat == nil:
		return fmt.Errorf("%w: relative offer %s/%d has no fee",
			ErrInvalidOffer, o.Counterparty, o.OrderID)

	case o.TxFee < 0:
		return fmt.Errorf("%w: negative tx fee contribution",
			ErrInvalidOffer)

	case o.MinSize > o.MaxSize:
		return fmt.Errorf("%w: minsize %v above maxsize %v",
			ErrInvalidOffer, o.MinSize, o.MaxSize)
	}

	return nil
}

// String returns a short description of the offer for logging.
func (o *Offer) String() string {
	return fmt.Sprintf("%s/%d %s fee=%s txfee=%v size=[%v, %v]",
		o.Counterparty, o.OrderID, o.Model, o.FeeString(), o.TxFee,
		o.MinSize, o.MaxSize)
}

// Selection maps a counterparty to the single offer chosen from it.
type Selection map[string]Offer

// Counterparties returns the selected counterparty identifiers in
// deterministic order.
func (s Selection) Counterparties() []string {
	cps := make([]string, 0, len(s))
	for cp := range s {
		cps = append(cps, cp)
	}
	slices.Sort(cps)

	return cps
}

// TotalFee sums the coinjoin fees of every selected offer for the amount.
func (s Selection) TotalFee(amount btcutil.Amount) btcutil.Amount {
	var total btcutil.Amount
	for _, o := range s {
		total += o.CoinjoinFee(amount)
	}

	return total
}
