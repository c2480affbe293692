// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package offer

import (
	"math/rand"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcjoin/pkg/unit"
	"github.com/stretchr/testify/require"
)

func mustProp(t *testing.T, s string) unit.Proportion {
	t.Helper()

	p, err := unit.ParseProportion(s)
	require.NoError(t, err)

	return p
}

func relOffer(t *testing.T, cp string, id uint32, fee string,
	txFee btcutil.Amount) Offer {

	return Offer{
		Counterparty: cp,
		OrderID:      id,
		Model:        Relative,
		RelFee:       mustProp(t, fee),
		TxFee:        txFee,
		MinSize:      100_000,
		MaxSize:      100_000_000,
	}
}

func absOffer(cp string, id uint32, fee, txFee btcutil.Amount) Offer {
	return Offer{
		Counterparty: cp,
		OrderID:      id,
		Model:        Absolute,
		AbsFee:       fee,
		TxFee:        txFee,
		MinSize:      100_000,
		MaxSize:      100_000_000,
	}
}

func testBook(t *testing.T) []Offer {
	return []Offer{
		relOffer(t, "alice", 0, "0.0002", 0),
		relOffer(t, "alice", 1, "0.0001", 0),
		absOffer("bob", 0, 1000, 100),
		absOffer("carol", 0, 250, 0),
		relOffer(t, "dave", 0, "0.00015", 50),
		absOffer("erin", 0, 5000, 0),
	}
}

// TestChooseCount checks that every strategy returns exactly n distinct
// counterparties drawn from the book.
func TestChooseCount(t *testing.T) {
	t.Parallel()

	choosers := map[string]Chooser{
		"weighted":       WeightedChooser,
		"cheapest":       CheapestChooser,
		"random":         RandomChooser,
		"randomundermax": RandomUnderMaxChooser(2000),
	}

	for name, chooser := range choosers {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			rng := rand.New(rand.NewSource(7))
			sel, total, err := Choose(
				testBook(t), 5_000_000, 3, chooser, nil, rng,
			)
			require.NoError(t, err)
			require.Len(t, sel, 3)

			var sum btcutil.Amount
			for cp, o := range sel {
				require.Equal(t, cp, o.Counterparty)
				sum += o.CoinjoinFee(5_000_000)
			}
			require.Equal(t, sum, total)
		})
	}
}

// TestChooseNotEnoughLiquidity checks that a book with too few distinct
// counterparties is rejected, counting several offers from one provider
// only once.
func TestChooseNotEnoughLiquidity(t *testing.T) {
	t.Parallel()

	book := []Offer{
		relOffer(t, "alice", 0, "0.0002", 0),
		relOffer(t, "alice", 1, "0.0001", 0),
		absOffer("bob", 0, 1000, 0),
	}

	_, _, err := Choose(
		book, 1_000_000, 3, WeightedChooser, nil,
		rand.New(rand.NewSource(1)),
	)
	require.ErrorIs(t, err, ErrNotEnoughLiquidity)
}

// TestChooseFilters checks the ignore list and the strict size bounds.
func TestChooseFilters(t *testing.T) {
	t.Parallel()

	small := absOffer("frank", 0, 1, 0)
	small.MaxSize = 1_000_000

	edge := absOffer("grace", 0, 1, 0)
	edge.MinSize = 2_000_000

	book := append(testBook(t), small, edge)

	sel, _, err := Choose(
		book, 2_000_000, 4, CheapestChooser,
		[]string{"carol"}, rand.New(rand.NewSource(1)),
	)
	require.NoError(t, err)
	require.Len(t, sel, 4)
	require.NotContains(t, sel, "carol")
	require.NotContains(t, sel, "frank")
	require.NotContains(t, sel, "grace")

	_, _, err = Choose(
		book, 2_000_000, 5, CheapestChooser,
		[]string{"carol"}, rand.New(rand.NewSource(1)),
	)
	require.ErrorIs(t, err, ErrNotEnoughLiquidity)
}

// TestChooseCheapestPerCounterparty checks that only the cheapest offer of
// a counterparty, net of its network fee contribution, is kept.
func TestChooseCheapestPerCounterparty(t *testing.T) {
	t.Parallel()

	book := []Offer{
		relOffer(t, "alice", 0, "0.0002", 0),
		relOffer(t, "alice", 1, "0.0001", 0),
		absOffer("bob", 0, 1000, 0),
	}

	sel, total, err := Choose(
		book, 1_000_000, 1, CheapestChooser, nil,
		rand.New(rand.NewSource(1)),
	)
	require.NoError(t, err)
	require.Equal(t, uint32(1), sel["alice"].OrderID)
	require.Equal(t, btcutil.Amount(100), total)
}

// TestChooseDeterministic checks that a seeded source reproduces the same
// selection.
func TestChooseDeterministic(t *testing.T) {
	t.Parallel()

	first, _, err := Choose(
		testBook(t), 3_000_000, 3, RandomChooser, nil,
		rand.New(rand.NewSource(42)),
	)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, _, err := Choose(
			testBook(t), 3_000_000, 3, RandomChooser, nil,
			rand.New(rand.NewSource(42)),
		)
		require.NoError(t, err)
		require.Equal(t, first.Counterparties(),
			again.Counterparties())
	}
}

func candidatesWithFees(fees ...btcutil.Amount) []Candidate {
	c := make([]Candidate, len(fees))
	for i, f := range fees {
		c[i] = Candidate{
			Offer: absOffer(string(rune('a'+i)), 0, f, 0),
			Fee:   f,
		}
	}

	return c
}

// TestWeightedChooserBias checks that the weighted strategy prefers cheap
// offers and degrades to a uniform draw when all fees are equal.
func TestWeightedChooserBias(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(3))
	c := candidatesWithFees(0, 100, 200, 300, 400, 500, 600, 700, 800, 900)

	counts := make([]int, len(c))
	for i := 0; i < 2000; i++ {
		idx := WeightedChooser.Choose(rng, c, 1)
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, len(c))
		counts[idx]++
	}
	require.Greater(t, counts[0], counts[9])

	flat := candidatesWithFees(10, 10, 10)
	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		seen[WeightedChooser.Choose(rng, flat, 1)] = true
	}
	require.Len(t, seen, 3)
}

// TestRandomUnderMaxChooser checks that only offers under the cap are
// drawn, and that the cheapest is used when nothing qualifies.
func TestRandomUnderMaxChooser(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(9))
	c := candidatesWithFees(0, 100, 200, 300, 400)

	chooser := RandomUnderMaxChooser(250)
	for i := 0; i < 200; i++ {
		require.LessOrEqual(t, chooser.Choose(rng, c, 2), 2)
	}

	none := RandomUnderMaxChooser(-1)
	require.Equal(t, 0, none.Choose(rng, c, 2))
}

// TestChooseSweep checks that the solved sweep amount leaves no change.
func TestChooseSweep(t *testing.T) {
	t.Parallel()

	const (
		totalInput = btcutil.Amount(10_000_000)
		myTxFee    = btcutil.Amount(10_000)
	)

	book := []Offer{
		relOffer(t, "alice", 0, "0.0002", 0),
		absOffer("bob", 0, 1000, 0),
	}

	res, err := ChooseSweep(
		book, totalInput, myTxFee, 2, WeightedChooser, nil,
		rand.New(rand.NewSource(5)),
	)
	require.NoError(t, err)
	require.Len(t, res.Selection, 2)
	require.Equal(t, btcutil.Amount(9_987_003), res.Amount)
	require.Equal(t, btcutil.Amount(2_997), res.TotalFee)
	require.InDelta(
		t, int64(totalInput),
		int64(res.Amount+res.TotalFee+myTxFee), 1,
	)
}

// TestChooseSweepCreditsTxFees checks that the network fee contributions of
// the chosen offers are deducted from the taker's share of the fee.
func TestChooseSweepCreditsTxFees(t *testing.T) {
	t.Parallel()

	book := []Offer{
		relOffer(t, "alice", 0, "0.0002", 1000),
		absOffer("bob", 0, 1000, 1000),
	}

	res, err := ChooseSweep(
		book, 10_000_000, 12_000, 2, CheapestChooser, nil,
		rand.New(rand.NewSource(5)),
	)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(9_987_003), res.Amount)
	require.Equal(t, btcutil.Amount(2_997), res.TotalFee)
}

// TestChooseSweepReplacesOutOfRange checks that an offer whose size bounds
// exclude the solved amount is swapped for another counterparty.
func TestChooseSweepReplacesOutOfRange(t *testing.T) {
	t.Parallel()

	capped := absOffer("carol", 0, 100, 0)
	capped.MaxSize = 5_000_000

	book := []Offer{
		relOffer(t, "alice", 0, "0.0001", 0),
		absOffer("bob", 0, 1500, 0),
		capped,
	}

	res, err := ChooseSweep(
		book, 10_000_000, 10_000, 2, CheapestChooser, nil,
		rand.New(rand.NewSource(5)),
	)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"},
		res.Selection.Counterparties())
}

// TestChooseSweepErrors covers the failure paths of a sweep selection.
func TestChooseSweepErrors(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))

	_, err := ChooseSweep(
		[]Offer{absOffer("bob", 0, 1000, 0)}, 10_000_000, 1000, 2,
		CheapestChooser, nil, rng,
	)
	require.ErrorIs(t, err, ErrNotEnoughLiquidity)

	_, err = ChooseSweep(
		[]Offer{absOffer("bob", 0, 1000, 0)}, 1500, 1000, 1,
		CheapestChooser, nil, rng,
	)
	require.ErrorIs(t, err, ErrSweepTooSmall)
}
