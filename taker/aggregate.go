// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package taker

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/chain"
	"github.com/btcsuite/btcjoin/wallet"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/davecgh/go-spew/spew"
	"golang.org/x/sync/errgroup"
)

// ReceiveUTXOs takes the counterparties' responses to the fill, drops every
// counterparty that fails validation and assembles the unsigned coinjoin
// from the rest. The attempt is aborted with ErrNotEnoughCounterparties if
// fewer than the configured minimum remain.
func (t *Taker) ReceiveUTXOs(ctx context.Context,
	responses map[string]*CounterpartyUTXOData) (*Assembled, error) {

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requirePhase(PhaseCommitted); err != nil {
		return nil, err
	}
	att := t.att

	authed := make(map[string]*CounterpartyUTXOData, len(responses))
	for cp, data := range responses {
		if _, ok := att.orders[cp]; !ok {
			log.Warnf("Ignoring coins from %s: %v", cp,
				ErrUnknownCounterparty)
			continue
		}
		if data == nil || len(data.UTXOs) == 0 {
			log.Warnf("Counterparty %s sent no coins", cp)
			continue
		}
		if err := verifyAuth(data); err != nil {
			log.Warnf("Rejecting counterparty %s: %v", cp, err)
			continue
		}
		authed[cp] = data
	}

	liquid, err := t.queryCounterparties(ctx, authed)
	if err != nil {
		return nil, t.abortErr(err)
	}

	accepted := t.acceptCounterparties(authed, liquid)
	if len(accepted) < t.cfg.MinimumMakers {
		return nil, t.abortErr(fmt.Errorf("%w: %d accepted, %d "+
			"required", ErrNotEnoughCounterparties, len(accepted),
			t.cfg.MinimumMakers))
	}
	att.accepted = accepted

	return t.assemble(ctx)
}

// queryCounterparties looks up every counterparty's coins concurrently. A
// counterparty with any spent or unconfirmed coin maps to nil.
func (t *Taker) queryCounterparties(ctx context.Context,
	authed map[string]*CounterpartyUTXOData) (
	map[string][]*chain.UTXOInfo, error) {

	cps := make([]string, 0, len(authed))
	for cp := range authed {
		cps = append(cps, cp)
	}

	results := make([][]*chain.UTXOInfo, len(cps))
	g, gctx := errgroup.WithContext(ctx)
	for i, cp := range cps {
		g.Go(func() error {
			infos, err := t.deps.Chain.QueryUTXOSet(
				gctx, authed[cp].UTXOs,
			)
			if err != nil {
				return fmt.Errorf("query coins of %s: %w", cp,
					err)
			}
			if slices.Contains(infos, nil) {
				log.Warnf("Counterparty %s offered spent or "+
					"unconfirmed coins", cp)
				return nil
			}
			results[i] = infos

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	liquid := make(map[string][]*chain.UTXOInfo, len(cps))
	for i, cp := range cps {
		liquid[cp] = results[i]
	}

	return liquid, nil
}

// acceptCounterparties applies the key binding, duplicate and change checks
// to the liquid counterparties.
func (t *Taker) acceptCounterparties(authed map[string]*CounterpartyUTXOData,
	liquid map[string][]*chain.UTXOInfo) map[string]*counterparty {

	att := t.att

	seen := make(map[wire.OutPoint]struct{})
	for _, c := range att.coins {
		seen[c.OutPoint] = struct{}{}
	}

	cps := make([]string, 0, len(liquid))
	for cp := range liquid {
		cps = append(cps, cp)
	}
	slices.Sort(cps)

	accepted := make(map[string]*counterparty, len(cps))
	for _, cp := range cps {
		data, utxos := authed[cp], liquid[cp]
		if utxos == nil {
			continue
		}

		err := checkKeyBinding(data.AuthPubKey, utxos, t.cfg.ChainParams)
		if err != nil {
			log.Warnf("Rejecting counterparty %s: %v", cp, err)
			continue
		}

		cjScript, changeScript, err := payoutScripts(data)
		if err != nil {
			log.Warnf("Rejecting counterparty %s: %v", cp, err)
			continue
		}

		if dup := duplicateCoin(seen, data.UTXOs); dup != nil {
			log.Warnf("Rejecting counterparty %s: coin %v offered "+
				"twice", cp, dup)
			continue
		}

		order := att.orders[cp]
		var in btcutil.Amount
		for _, u := range utxos {
			in += u.Value
		}
		fee := order.CoinjoinFee(att.amount)
		change := in - att.amount - order.TxFee + fee
		if change < t.cfg.DustThreshold {
			log.Warnf("Rejecting counterparty %s: change %v below "+
				"dust threshold %v", cp, change,
				t.cfg.DustThreshold)
			continue
		}

		for _, op := range data.UTXOs {
			seen[op] = struct{}{}
		}
		accepted[cp] = &counterparty{
			data:         data,
			utxos:        utxos,
			order:        order,
			fee:          fee,
			change:       change,
			cjScript:     cjScript,
			changeScript: changeScript,
		}
		log.Debugf("Accepted counterparty %s: in=%v fee=%v change=%v",
			cp, in, fee, change)
	}

	return accepted
}

// payoutScripts returns the output scripts of a counterparty's coinjoin and
// change addresses.
func payoutScripts(data *CounterpartyUTXOData) ([]byte, []byte, error) {
	if data.CoinjoinAddr == nil || data.ChangeAddr == nil {
		return nil, nil, errors.New("missing coinjoin or change address")
	}

	cjScript, err := txscript.PayToAddrScript(data.CoinjoinAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("coinjoin address: %w", err)
	}
	changeScript, err := txscript.PayToAddrScript(data.ChangeAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("change address: %w", err)
	}

	return cjScript, changeScript, nil
}

func duplicateCoin(seen map[wire.OutPoint]struct{},
	ops []wire.OutPoint) *wire.OutPoint {

	local := make(map[wire.OutPoint]struct{}, len(ops))
	for i, op := range ops {
		if _, ok := seen[op]; ok {
			return &ops[i]
		}
		if _, ok := local[op]; ok {
			return &ops[i]
		}
		local[op] = struct{}{}
	}

	return nil
}

// assemble settles the taker's fee and change and builds the shuffled
// unsigned transaction.
func (t *Taker) assemble(ctx context.Context) (*Assembled, error) {
	att := t.att

	cps := make([]string, 0, len(att.accepted))
	for cp := range att.accepted {
		cps = append(cps, cp)
	}
	slices.Sort(cps)

	destScript, err := txscript.PayToAddrScript(att.dest)
	if err != nil {
		return nil, t.abortErr(err)
	}

	var (
		outs        []*wire.TxOut
		prevScripts [][]byte
		totalCJFee  btcutil.Amount
		makerTxFee  btcutil.Amount
	)
	for _, cp := range cps {
		c := att.accepted[cp]
		totalCJFee += c.fee
		makerTxFee += c.order.TxFee
		outs = append(outs,
			wire.NewTxOut(int64(att.amount), c.cjScript),
			wire.NewTxOut(int64(c.change), c.changeScript),
		)
		for _, u := range c.utxos {
			prevScripts = append(prevScripts, u.PkScript)
		}
	}
	outs = append(outs, wire.NewTxOut(int64(att.amount), destScript))
	for _, c := range att.coins {
		prevScripts = append(prevScripts, c.PkScript)
	}

	var changeScript []byte
	att.change.WhenSome(func(addr btcutil.Address) {
		changeScript, err = txscript.PayToAddrScript(addr)
	})
	if err != nil {
		return nil, t.abortErr(err)
	}

	// With a change output the fee is re-estimated from the real size.
	// A sweep keeps its estimate, as the amount was solved from it.
	if changeScript != nil {
		estOuts := append(
			slices.Clone(outs), wire.NewTxOut(0, changeScript),
		)
		fee, err := t.estimateFee(ctx, prevScripts, estOuts)
		if err != nil {
			return nil, t.abortErr(err)
		}
		att.totalTxFee = fee
	}

	myIn := wallet.TotalValue(att.coins)
	myTxFee := max(att.totalTxFee-makerTxFee, 0)
	myChange := myIn - att.amount - totalCJFee - myTxFee

	log.Debugf("Taker in=%v cjfee=%v txfee=%v (total %v) change=%v",
		myIn, totalCJFee, myTxFee, att.totalTxFee, myChange)

	switch {
	// A sweep has no change output to settle against, so dropped
	// counterparties move its fee away from the estimate. Outputs
	// exceeding inputs are caught below.
	case changeScript == nil:
		if myChange < -1 || myChange > 1 {
			log.Warnf("Sweep fee deviates from the estimate by %v",
				-myChange)
		}

	case myChange < 0:
		return nil, t.halt(fmt.Errorf("%w: change would be %v",
			ErrFeeExceedsInputs, myChange))

	case myChange < t.cfg.DustThreshold:
		log.Infof("Dropping change %v below dust threshold %v, paid "+
			"as fee", myChange, t.cfg.DustThreshold)

	default:
		outs = append(outs, wire.NewTxOut(int64(myChange), changeScript))
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	var (
		slots   []inputSlot
		values  []btcutil.Amount
		scripts [][]byte
	)
	for _, cp := range cps {
		for _, u := range att.accepted[cp].utxos {
			tx.AddTxIn(wire.NewTxIn(&u.OutPoint, nil, nil))
			slots = append(slots, inputSlot{owner: cp})
			values = append(values, u.Value)
			scripts = append(scripts, u.PkScript)
		}
	}
	for _, c := range att.coins {
		tx.AddTxIn(wire.NewTxIn(&c.OutPoint, nil, nil))
		slots = append(slots, inputSlot{own: true})
		values = append(values, c.Amount)
		scripts = append(scripts, c.PkScript)
	}

	t.rng.Shuffle(len(tx.TxIn), func(i, j int) {
		tx.TxIn[i], tx.TxIn[j] = tx.TxIn[j], tx.TxIn[i]
		slots[i], slots[j] = slots[j], slots[i]
		values[i], values[j] = values[j], values[i]
		scripts[i], scripts[j] = scripts[j], scripts[i]
	})
	t.rng.Shuffle(len(outs), func(i, j int) {
		outs[i], outs[j] = outs[j], outs[i]
	})
	tx.TxOut = outs

	fetcher, err := txauthor.TXPrevOutFetcher(tx, scripts, values)
	if err != nil {
		return nil, t.abortErr(err)
	}

	var totalIn btcutil.Amount
	for _, v := range values {
		totalIn += v
	}
	fee := totalIn - txauthor.SumOutputValues(tx.TxOut)
	if fee < 0 {
		return nil, t.halt(fmt.Errorf("%w: outputs exceed inputs by "+
			"%v", ErrFeeExceedsInputs, -fee))
	}

	remaining := make(map[string]map[wire.OutPoint]struct{}, len(cps))
	for _, cp := range cps {
		set := make(map[wire.OutPoint]struct{})
		for _, op := range att.accepted[cp].data.UTXOs {
			set[op] = struct{}{}
		}
		remaining[cp] = set
	}

	att.tx = tx
	att.prevOuts = fetcher
	att.sigHashes = txscript.NewTxSigHashes(tx, fetcher)
	att.slots = slots
	att.remaining = remaining
	t.phase = PhaseAwaitingSigs

	log.Infof("Assembled coinjoin %v with %d inputs and %d outputs, "+
		"fee %v", tx.TxHash(), len(tx.TxIn), len(tx.TxOut), fee)
	log.Tracef("Unsigned coinjoin: %v", newLogClosure(func() string {
		return spew.Sdump(tx)
	}))

	return &Assembled{
		Tx:             tx.Copy(),
		Counterparties: cps,
		Fee:            fee,
	}, nil
}
