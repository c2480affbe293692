// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package taker

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/pkg/unit"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

// inputCounts tallies inputs by the script type they spend, in the shape
// txsizes.EstimateVirtualSize expects.
type inputCounts struct {
	p2pkh, p2tr, p2wpkh, nested int
}

// add counts an input spending pkScript. Scripts of other types are counted
// as P2PKH, the largest of the supported inputs.
func (c *inputCounts) add(pkScript []byte) {
	switch txscript.GetScriptClass(pkScript) {
	case txscript.WitnessV0PubKeyHashTy:
		c.p2wpkh++
	case txscript.WitnessV1TaprootTy:
		c.p2tr++
	case txscript.ScriptHashTy:
		c.nested++
	default:
		c.p2pkh++
	}
}

// vsize estimates the virtual size of a signed transaction with these inputs
// and the given outputs.
func (c *inputCounts) vsize(outs []*wire.TxOut) unit.VByte {
	return unit.VByte(txsizes.EstimateVirtualSize(
		c.p2pkh, c.p2tr, c.p2wpkh, c.nested, outs, 0,
	))
}

// feeRate returns the chain backend's estimate for the configured target,
// falling back to the configured rate if the backend has none.
func (t *Taker) feeRate(ctx context.Context) (unit.SatPerKVByte, error) {
	rate, err := t.deps.Chain.EstimateFeeRate(ctx, t.cfg.FeeConfTarget)
	if err == nil {
		return rate, nil
	}

	fallback := t.cfg.FallbackFeeRate
	if fallback.Rat == nil || fallback.Sign() <= 0 {
		return unit.SatPerKVByte{}, fmt.Errorf("fee estimate: %w", err)
	}

	log.Warnf("Fee estimation failed (%v), using fallback rate %v", err,
		fallback)

	return fallback, nil
}

// estimateSweepFee estimates the network fee of a sweep before the
// counterparties' coins are known, assuming three inputs and two outputs per
// counterparty.
func (t *Taker) estimateSweepFee(ctx context.Context,
	destScript []byte) (btcutil.Amount, error) {

	rate, err := t.feeRate(ctx)
	if err != nil {
		return 0, err
	}

	var counts inputCounts
	for _, c := range t.att.coins {
		counts.add(c.PkScript)
	}
	n := t.req.Counterparties
	counts.p2wpkh += 3 * n

	outs := make([]*wire.TxOut, 2*n+1)
	for i := range outs {
		outs[i] = wire.NewTxOut(0, destScript)
	}

	vsize := counts.vsize(outs)
	fee := rate.FeeForVSize(vsize)
	log.Debugf("Estimated sweep fee %v for %v at %v", fee, vsize, rate)

	return fee, nil
}

// estimateFee estimates the network fee of the assembled transaction from
// its actual inputs and outputs.
func (t *Taker) estimateFee(ctx context.Context, prevScripts [][]byte,
	outs []*wire.TxOut) (btcutil.Amount, error) {

	rate, err := t.feeRate(ctx)
	if err != nil {
		return 0, err
	}

	var counts inputCounts
	for _, s := range prevScripts {
		counts.add(s)
	}

	vsize := counts.vsize(outs)
	fee := rate.FeeForVSize(vsize)
	log.Debugf("Estimated coinjoin fee %v for %v at %v", fee, vsize, rate)

	return fee, nil
}

// checkDust rejects a coinjoin amount that would itself be a dust output.
func (t *Taker) checkDust(amount btcutil.Amount, script []byte) error {
	if amount <= t.cfg.DustThreshold ||
		txrules.IsDustOutput(wire.NewTxOut(int64(amount), script),
			txrules.DefaultRelayFeePerKb) {

		return fmt.Errorf("%w: %v", ErrDustAmount, amount)
	}

	return nil
}
