// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package unit

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

// TestFeeForVSize checks fee calculation from a sat/kvb rate.
func TestFeeForVSize(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		rate     SatPerKVByte
		size     VByte
		expected btcutil.Amount
	}{
		{
			name:     "1000 sat/kvb",
			rate:     SatPerKVByteFromAmount(1000),
			size:     250,
			expected: 250,
		},
		{
			name:     "rounds half away from zero",
			rate:     SatPerKVByteFromAmount(1002),
			size:     250,
			expected: 251,
		},
		{
			name:     "derived rate",
			rate:     NewSatPerKVByte(500, 250),
			size:     1000,
			expected: 2000,
		},
		{
			name:     "zero size",
			rate:     NewSatPerKVByte(500, 0),
			size:     1000,
			expected: 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.expected, tc.rate.FeeForVSize(tc.size))
		})
	}
}

// TestProportionOf checks that relative fees are rounded half to even.
func TestProportionOf(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		prop     string
		amount   btcutil.Amount
		expected btcutil.Amount
	}{
		{
			name:     "three basis points",
			prop:     "0.003",
			amount:   100_000,
			expected: 300,
		},
		{
			name:     "half rounds to even down",
			prop:     "0.5",
			amount:   5,
			expected: 2,
		},
		{
			name:     "half rounds to even up",
			prop:     "0.5",
			amount:   7,
			expected: 4,
		},
		{
			name:     "below half rounds down",
			prop:     "0.00026",
			amount:   12_345,
			expected: 3,
		},
		{
			name:     "negative half rounds to even",
			prop:     "-0.5",
			amount:   7,
			expected: -4,
		},
		{
			name:     "scientific notation",
			prop:     "2e-4",
			amount:   1_000_000,
			expected: 200,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p, err := ParseProportion(tc.prop)
			require.NoError(t, err)
			require.Equal(t, tc.expected, p.Of(tc.amount))
		})
	}
}

// TestParseProportionInvalid ensures malformed proportions are rejected.
func TestParseProportionInvalid(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "abc", "1/3", "0.1.2"} {
		_, err := ParseProportion(s)
		require.ErrorIs(t, err, ErrInvalidProportion, s)
	}

	p, err := ParseProportion("0.000300")
	require.NoError(t, err)
	require.Equal(t, "0.0003", p.String())
}
