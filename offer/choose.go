// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package offer

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"math/rand"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcjoin/pkg/unit"
)

var (
	// ErrNotEnoughLiquidity is returned when the offer book does not hold
	// enough distinct counterparties willing to take part in a coinjoin of
	// the requested size.
	ErrNotEnoughLiquidity = errors.New("not enough liquidity in the " +
		"offer book")

	// ErrSweepTooSmall is returned when the fees of a sweep selection
	// would consume the entire input value.
	ErrSweepTooSmall = errors.New("sweep input does not cover fees")
)

// Candidate is an offer together with the fee used to rank it. Choosers
// always receive candidates sorted by ascending fee.
type Candidate struct {
	Offer Offer
	Fee   btcutil.Amount
}

// Chooser picks one candidate from a fee-sorted list. n is the total number
// of counterparties being selected and may be used to shape the choice.
// Implementations must return an index into candidates.
type Chooser interface {
	Choose(rng *rand.Rand, candidates []Candidate, n int) int
}

// ChooserFunc adapts a plain function to the Chooser interface.
type ChooserFunc func(rng *rand.Rand, candidates []Candidate, n int) int

// Choose calls f.
func (f ChooserFunc) Choose(rng *rand.Rand, candidates []Candidate,
	n int) int {

	return f(rng, candidates, n)
}

var (
	// WeightedChooser favours cheap offers without always taking the
	// cheapest, making the selection harder to predict for a provider
	// undercutting the book.
	WeightedChooser Chooser = ChooserFunc(weightedChoose)

	// CheapestChooser always takes the cheapest remaining candidate.
	CheapestChooser Chooser = ChooserFunc(
		func(*rand.Rand, []Candidate, int) int { return 0 },
	)

	// RandomChooser picks uniformly among the remaining candidates.
	RandomChooser Chooser = ChooserFunc(
		func(rng *rand.Rand, c []Candidate, _ int) int {
			return rng.Intn(len(c))
		},
	)
)

// RandomUnderMaxChooser returns a Chooser that picks uniformly among the
// candidates whose fee does not exceed maxFee, falling back to the cheapest
// when none qualify.
func RandomUnderMaxChooser(maxFee btcutil.Amount) Chooser {
	return ChooserFunc(func(rng *rand.Rand, c []Candidate, _ int) int {
		// Candidates are sorted, so the eligible ones form a prefix.
		eligible := sort.Search(len(c), func(i int) bool {
			return c[i].Fee > maxFee
		})
		if eligible == 0 {
			return 0
		}

		return rng.Intn(eligible)
	})
}

// ChooserByName maps a configured strategy name to its Chooser. maxFee is
// only used by the "randomundermax" strategy.
func ChooserByName(name string, maxFee btcutil.Amount) (Chooser, error) {
	switch name {
	case "weighted", "":
		return WeightedChooser, nil
	case "cheapest":
		return CheapestChooser, nil
	case "random":
		return RandomChooser, nil
	case "randomundermax":
		return RandomUnderMaxChooser(maxFee), nil
	default:
		return nil, fmt.Errorf("unknown order chooser %q", name)
	}
}

// weightedChoose draws with probability exp(-(fee-minfee)/phi), where phi is
// the fee spread between the cheapest candidate and the one 3n places up the
// book. A zero spread degrades to a uniform draw.
func weightedChoose(rng *rand.Rand, c []Candidate, n int) int {
	minFee := c[0].Fee

	m := 3 * n
	var phi btcutil.Amount
	if len(c) > m {
		phi = c[m].Fee - minFee
	} else {
		phi = c[len(c)-1].Fee - minFee
	}

	weights := make([]float64, len(c))
	var sum float64
	for i := range c {
		w := 1.0
		if phi > 0 {
			w = math.Exp(-float64(c[i].Fee-minFee) / float64(phi))
		}
		weights[i] = w
		sum += w
	}

	target := rng.Float64() * sum
	for i, w := range weights {
		if target < w {
			return i
		}
		target -= w
	}

	return len(c) - 1
}

// Choose selects n distinct counterparties from the book for a coinjoin of
// the given amount. Offers from ignored counterparties and offers whose size
// bounds do not strictly contain the amount are skipped. Only the cheapest
// offer of each counterparty is considered, ranked by its coinjoin fee less
// its network fee contribution. The returned total is the sum of the coinjoin
// fees owed to the selection.
func Choose(book []Offer, amount btcutil.Amount, n int, chooser Chooser,
	ignored []string, rng *rand.Rand) (Selection, btcutil.Amount, error) {

	skip := toSet(ignored)

	best := make(map[string]Candidate)
	for _, o := range book {
		if _, ok := skip[o.Counterparty]; ok {
			continue
		}
		if o.MinSize >= amount || o.MaxSize <= amount {
			continue
		}

		fee := o.CoinjoinFee(amount) - o.TxFee
		cur, ok := best[o.Counterparty]
		if !ok || fee < cur.Fee {
			best[o.Counterparty] = Candidate{Offer: o, Fee: fee}
		}
	}

	log.Debugf("Found %d counterparties offering %v of %d offers",
		len(best), amount, len(book))

	if len(best) < n {
		return nil, 0, fmt.Errorf("%w: need %d counterparties, have %d",
			ErrNotEnoughLiquidity, n, len(best))
	}

	candidates := make([]Candidate, 0, len(best))
	for _, c := range best {
		candidates = append(candidates, c)
	}
	sortCandidates(candidates)

	sel := make(Selection, n)
	for len(sel) < n {
		i := pick(chooser, rng, candidates, n)
		c := candidates[i]
		log.Debugf("Chose offer %v", &c.Offer)

		sel[c.Offer.Counterparty] = c.Offer
		candidates = append(candidates[:i], candidates[i+1:]...)
	}

	return sel, sel.TotalFee(amount), nil
}

// SweepResult is the outcome of a sweep selection, where the coinjoin amount
// is derived from the fees so that the taker is left with no change.
type SweepResult struct {
	Selection Selection
	Amount    btcutil.Amount
	TotalFee  btcutil.Amount
}

// ChooseSweep selects n counterparties for a coinjoin that spends
// totalInput in full. The coinjoin amount is solved from
//
//	amount = (totalInput - myTxFee - sum(absfee)) / (1 + sum(relfee))
//
// where myTxFee is totalTxFee less the network fee contributions of the
// chosen offers, never below zero. Any chosen offer whose size bounds exclude it is discarded and
// replaced until a consistent selection is found.
func ChooseSweep(book []Offer, totalInput, totalTxFee btcutil.Amount, n int,
	chooser Chooser, ignored []string,
	rng *rand.Rand) (*SweepResult, error) {

	skip := toSet(ignored)

	candidates := make([]Candidate, 0, len(book))
	for _, o := range book {
		if _, ok := skip[o.Counterparty]; ok {
			continue
		}
		candidates = append(candidates, Candidate{
			Offer: o,
			Fee:   o.CoinjoinFee(totalInput),
		})
	}
	sortCandidates(candidates)

	var (
		chosen   []Offer
		amount   btcutil.Amount
		totalFee btcutil.Amount
	)
	for len(chosen) < n {
		for need := n - len(chosen); need > 0; need-- {
			if len(candidates) < need {
				return nil, fmt.Errorf("%w: need %d more "+
					"counterparties, have %d",
					ErrNotEnoughLiquidity, need,
					len(candidates))
			}

			i := pick(chooser, rng, candidates, n)
			o := candidates[i].Offer
			log.Debugf("Chose sweep offer %v", &o)

			candidates = dropCounterparty(candidates, o.Counterparty)
			chosen = append(chosen, o)
		}

		var err error
		amount, totalFee, err = zeroChangeAmount(
			chosen, totalInput, totalTxFee,
		)
		if err != nil {
			return nil, err
		}

		kept := chosen[:0]
		for _, o := range chosen {
			if amount > o.MaxSize || amount < o.MinSize {
				log.Debugf("Sweep amount %v outside range of "+
					"%v, replacing", amount, &o)
				continue
			}
			kept = append(kept, o)
		}
		chosen = kept
	}

	sel := make(Selection, len(chosen))
	for _, o := range chosen {
		sel[o.Counterparty] = o
	}

	log.Debugf("Sweep amount %v with total fee %v", amount, totalFee)

	return &SweepResult{
		Selection: sel,
		Amount:    amount,
		TotalFee:  totalFee,
	}, nil
}

// zeroChangeAmount solves for the coinjoin amount that leaves no change once
// the chosen offers' fees and the taker's network fee are paid.
func zeroChangeAmount(chosen []Offer, totalInput,
	totalTxFee btcutil.Amount) (btcutil.Amount, btcutil.Amount, error) {

	var sumAbs, sumTxFee btcutil.Amount
	sumRel := new(big.Rat)
	for _, o := range chosen {
		sumTxFee += o.TxFee
		switch o.Model {
		case Absolute:
			sumAbs += o.AbsFee
		case Relative:
			if o.RelFee.Rat != nil {
				sumRel.Add(sumRel, o.RelFee.Rat)
			}
		}
	}

	myTxFee := max(totalTxFee-sumTxFee, 0)
	avail := totalInput - myTxFee - sumAbs
	if avail <= 0 {
		return 0, 0, fmt.Errorf("%w: %v available after fees",
			ErrSweepTooSmall, avail)
	}

	denom := new(big.Rat).Add(big.NewRat(1, 1), sumRel)
	amount := unit.RoundAmount(
		new(big.Rat).Quo(big.NewRat(int64(avail), 1), denom),
	)

	relFee := new(big.Rat).Mul(sumRel, big.NewRat(int64(amount), 1))
	relPart := new(big.Int).Quo(relFee.Num(), relFee.Denom())

	return amount, sumAbs + btcutil.Amount(relPart.Int64()), nil
}

// pick asks the chooser for an index and clamps misbehaving results.
func pick(chooser Chooser, rng *rand.Rand, c []Candidate, n int) int {
	i := chooser.Choose(rng, c, n)
	if i < 0 || i >= len(c) {
		log.Warnf("Order chooser returned out of range index %d, "+
			"using cheapest", i)
		return 0
	}

	return i
}

func dropCounterparty(c []Candidate, cp string) []Candidate {
	out := c[:0]
	for _, cand := range c {
		if cand.Offer.Counterparty != cp {
			out = append(out, cand)
		}
	}

	return out
}

// sortCandidates orders by fee, breaking ties on counterparty and order id so
// that a seeded chooser is reproducible.
func sortCandidates(c []Candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Fee != c[j].Fee {
			return c[i].Fee < c[j].Fee
		}
		if c[i].Offer.Counterparty != c[j].Offer.Counterparty {
			return c[i].Offer.Counterparty < c[j].Offer.Counterparty
		}

		return c[i].Offer.OrderID < c[j].Offer.OrderID
	})
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}

	return set
}
