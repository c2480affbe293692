// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package unit provides a set of types for dealing with bitcoin fee units.
package unit

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// SatsPerKilo is the number of satoshis in a kilo-satoshi.
	SatsPerKilo = 1000

	// floatStringPrecision is the number of decimal places to use when
	// converting a fee rate to a string.
	floatStringPrecision = 2
)

var (
	// ErrInvalidProportion is returned when a proportion string cannot be
	// parsed as a finite decimal number.
	ErrInvalidProportion = errors.New("invalid proportion")
)

// VByte defines a unit to express the transaction size. One virtual byte is
// 1/4th of a weight unit.
type VByte uint64

// String returns the string representation of the virtual byte.
func (vb VByte) String() string {
	return fmt.Sprintf("%d vb", uint64(vb))
}

// SatPerKVByte represents a fee rate in sat/kvb. The fee rate is encoded as a
// big.Rat to allow for fractional (sub-satoshi) fee rates.
type SatPerKVByte struct {
	*big.Rat
}

// NewSatPerKVByte creates a new fee rate in sat/kvb. The given fee and vbytes
// are used to calculate the fee rate.
func NewSatPerKVByte(fee btcutil.Amount, vb VByte) SatPerKVByte {
	if vb == 0 {
		return SatPerKVByte{big.NewRat(0, 1)}
	}

	return SatPerKVByte{
		big.NewRat(int64(fee)*SatsPerKilo, safeUint64ToInt64(uint64(vb))),
	}
}

// SatPerKVByteFromAmount interprets the amount as the number of satoshis paid
// per kilo-virtual-byte.
func SatPerKVByteFromAmount(perKVB btcutil.Amount) SatPerKVByte {
	return SatPerKVByte{big.NewRat(int64(perKVB), 1)}
}

// FeeForVSize calculates the fee resulting from this fee rate and the given
// vsize in vbytes.
func (s SatPerKVByte) FeeForVSize(vbytes VByte) btcutil.Amount {
	fee := new(big.Rat).Mul(
		s.Rat,
		big.NewRat(safeUint64ToInt64(uint64(vbytes)), SatsPerKilo),
	)

	return roundToAmount(fee)
}

// Amount returns the fee rate rounded to whole satoshis per kvb.
func (s SatPerKVByte) Amount() btcutil.Amount {
	return roundToAmount(s.Rat)
}

// String returns a human-readable string of the fee rate.
func (s SatPerKVByte) String() string {
	return s.FloatString(floatStringPrecision) + " sat/kvb"
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerKVByte) LessThan(other SatPerKVByte) bool {
	return s.Cmp(other.Rat) < 0
}

// Proportion is an exact decimal fraction, such as the relative fee a
// liquidity provider charges on the coinjoin amount.
type Proportion struct {
	*big.Rat
}

// ParseProportion parses a decimal string such as "0.0003" into an exact
// proportion. Scientific notation is accepted, fractions ("3/10000") are not.
func ParseProportion(s string) (Proportion, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, "/") {
		return Proportion{}, fmt.Errorf("%w: %q", ErrInvalidProportion, s)
	}

	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return Proportion{}, fmt.Errorf("%w: %q", ErrInvalidProportion, s)
	}

	return Proportion{r}, nil
}

// Of returns the proportion of the given amount, rounded to the nearest
// satoshi with ties going to the even neighbour.
func (p Proportion) Of(amt btcutil.Amount) btcutil.Amount {
	if p.Rat == nil {
		return 0
	}

	v := new(big.Rat).Mul(p.Rat, big.NewRat(int64(amt), 1))

	return roundHalfEven(v)
}

// String returns the proportion as a decimal string without trailing zeros.
func (p Proportion) String() string {
	if p.Rat == nil {
		return "0"
	}

	s := p.FloatString(12)
	s = strings.TrimRight(s, "0")

	return strings.TrimSuffix(s, ".")
}

// roundToAmount rounds a big.Rat to the nearest btcutil.Amount (int64),
// with halves rounded away from zero. For example, 2.4 rounds to 2, 2.5
// rounds to 3, and -2.5 rounds to -3.
func roundToAmount(r *big.Rat) btcutil.Amount {
	f, _ := r.Float64()

	return btcutil.Amount(math.Round(f))
}

// roundHalfEven rounds r to the nearest integer, resolving exact halves
// towards the even neighbour.
func roundHalfEven(r *big.Rat) btcutil.Amount {
	num, den := r.Num(), r.Denom()

	q, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() == 0 {
		return btcutil.Amount(q.Int64())
	}

	twice := new(big.Int).Abs(rem)
	twice.Lsh(twice, 1)

	step := big.NewInt(int64(num.Sign()))
	switch twice.Cmp(den) {
	case 1:
		q.Add(q, step)

	case 0:
		if q.Bit(0) == 1 {
			q.Add(q, step)
		}
	}

	return btcutil.Amount(q.Int64())
}

// safeUint64ToInt64 converts a uint64 to an int64, capping at math.MaxInt64.
func safeUint64ToInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(u)
}

// RoundAmount rounds an exact satoshi quantity to a whole amount, resolving
// exact halves towards the even neighbour.
func RoundAmount(r *big.Rat) btcutil.Amount {
	return roundHalfEven(r)
}
