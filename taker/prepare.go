// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package taker

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcjoin/offer"
	"github.com/btcsuite/btcjoin/podle"
	"github.com/btcsuite/btcjoin/wallet"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Initialize starts a new attempt. It selects orders from the book, prepares
// the taker's coins and sources a commitment. The returned Fill is what the
// transport sends to the chosen counterparties.
//
// Initialize may be called again after an abort; the previous attempt's
// state is discarded.
func (t *Taker) Initialize(ctx context.Context,
	book []offer.Offer) (*Fill, error) {

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requirePhase(PhaseIdle, PhaseAborted); err != nil {
		return nil, err
	}
	if t.preparing() {
		return nil, fmt.Errorf("%w: attempt %v is being prepared",
			ErrWrongPhase, t.att.id)
	}

	att := &attempt{
		id:     uuid.New(),
		amount: t.req.Amount,
		sweep:  t.req.Amount == 0,
		quit:   make(chan struct{}),
	}
	t.att = att
	defer func() {
		att.quit = nil
	}()
	log.Infof("Starting coinjoin attempt %v: amount=%v counterparties=%d "+
		"sweep=%v", t.att.id, t.req.Amount, t.req.Counterparties,
		t.att.sweep)

	var err error
	if t.att.sweep {
		err = t.prepareSweep(ctx, book)
	} else {
		err = t.prepareCoinjoin(ctx, book)
	}
	if err != nil {
		return nil, t.abortErr(err)
	}
	if err := t.checkNonceCoin(); err != nil {
		return nil, t.abortErr(err)
	}

	proof, err := t.sourceCommitment(ctx)
	if err != nil {
		// Already reported by halt or by an Abort during the wait.
		if IsFatal(err) || errors.Is(err, ErrAborted) {
			return nil, err
		}

		return nil, t.abortErr(err)
	}
	t.att.proof = proof
	t.phase = PhaseCommitted

	log.Infof("Attempt %v committed with %v, filling %v",
		t.att.id, proof.Commitment(), t.att.orders.Counterparties())

	return &Fill{
		AttemptID:  t.att.id,
		Amount:     t.att.amount,
		Orders:     t.att.orders,
		TotalFee:   t.att.totalCJFee,
		Commitment: podle.TaggedCommitment(proof.Commitment()),
		Revelation: proof,
	}, nil
}

// prepareAddresses derives the coinjoin destination and, unless sweeping,
// the change address. It runs only once the orders have passed the gate so
// that a vetoed attempt takes no addresses from the wallet.
func (t *Taker) prepareAddresses(ctx context.Context) error {
	dest, err := t.destination(ctx)
	if err != nil {
		return err
	}
	t.att.dest = dest

	if t.att.sweep {
		t.att.change = fn.None[btcutil.Address]()
		return nil
	}

	change, err := t.deps.Wallet.NewAddress(ctx, t.req.Account, true)
	if err != nil {
		return fmt.Errorf("%w: change: %v", ErrAddressDerivation, err)
	}
	t.att.change = fn.Some(change)

	return nil
}

// destination returns the requested destination, the donation destination
// or a fresh address of the next account, in that order of preference.
func (t *Taker) destination(ctx context.Context) (btcutil.Address, error) {
	if t.req.Destination.IsSome() {
		return t.req.Destination.UnwrapOr(nil), nil
	}

	if t.cfg.Donate {
		addr, nonce, err := donationDestination(t.cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: donation: %v",
				ErrAddressDerivation, err)
		}
		t.att.donationNonce = nonce
		log.Infof("Coinjoin output of attempt %v is a donation to %v",
			t.att.id, addr)

		return addr, nil
	}

	addr, err := t.deps.Wallet.NewAddress(ctx, t.req.Account+1, false)
	if err != nil {
		return nil, fmt.Errorf("%w: destination: %v",
			ErrAddressDerivation, err)
	}

	return addr, nil
}

// prepareCoinjoin selects orders for the requested amount and then the
// taker's coins to cover it.
func (t *Taker) prepareCoinjoin(ctx context.Context, book []offer.Offer) error {
	att := t.att
	n := t.req.Counterparties

	sel, cjFee, err := offer.Choose(
		book, att.amount, n, t.req.Chooser, t.ignored, t.rng,
	)
	if err != nil {
		return fmt.Errorf("order selection: %w", err)
	}
	if err := t.gateOrders(sel, cjFee); err != nil {
		return err
	}
	att.orders, att.totalCJFee = sel, cjFee

	if err := t.prepareAddresses(ctx); err != nil {
		return err
	}
	destScript, err := txscript.PayToAddrScript(att.dest)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAddressDerivation, err)
	}
	if err := t.checkDust(att.amount, destScript); err != nil {
		return err
	}

	// Counterparty input counts are unknown at this point, so the
	// network fee is budgeted twice over and settled in ReceiveUTXOs.
	att.totalTxFee = 2 * t.cfg.TxFeeDefault * btcutil.Amount(n)

	target := att.amount + att.totalCJFee + att.totalTxFee
	coins, err := t.deps.Wallet.SelectUTXOs(ctx, t.req.Account, target)
	if err != nil {
		return fmt.Errorf("coin selection for %v: %w", target, err)
	}
	att.coins = coins

	log.Debugf("Selected %d coins worth %v for target %v", len(coins),
		wallet.TotalValue(coins), target)

	return nil
}

// prepareSweep spends every coin of the account and solves the coinjoin
// amount so that no change remains.
func (t *Taker) prepareSweep(ctx context.Context, book []offer.Offer) error {
	att := t.att

	all, err := t.deps.Wallet.ListUnspent(ctx)
	if err != nil {
		return fmt.Errorf("list unspent: %w", err)
	}
	for _, c := range all {
		if c.Account == t.req.Account {
			att.coins = append(att.coins, c)
		}
	}
	if len(att.coins) == 0 {
		return fmt.Errorf("sweep of account %d: %w", t.req.Account,
			wallet.ErrInsufficientFunds)
	}

	template, err := t.destinationTemplate()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAddressDerivation, err)
	}
	txFee, err := t.estimateSweepFee(ctx, template)
	if err != nil {
		return err
	}

	res, err := offer.ChooseSweep(
		book, wallet.TotalValue(att.coins), txFee,
		t.req.Counterparties, t.req.Chooser, t.ignored, t.rng,
	)
	if err != nil {
		return fmt.Errorf("sweep order selection: %w", err)
	}
	if err := t.gateOrders(res.Selection, res.TotalFee); err != nil {
		return err
	}

	att.orders = res.Selection
	att.amount = res.Amount
	att.totalCJFee = res.TotalFee
	att.totalTxFee = txFee

	if err := t.prepareAddresses(ctx); err != nil {
		return err
	}
	destScript, err := txscript.PayToAddrScript(att.dest)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAddressDerivation, err)
	}

	return t.checkDust(att.amount, destScript)
}

// destinationTemplate returns a script of the same size as the coinjoin
// output's, for fee estimation before the destination is derived. Donations
// pay to P2PKH and fresh wallet addresses are P2WPKH.
func (t *Taker) destinationTemplate() ([]byte, error) {
	var (
		addr btcutil.Address
		err  error
	)
	switch {
	case t.req.Destination.IsSome():
		addr = t.req.Destination.UnwrapOr(nil)

	case t.cfg.Donate:
		addr, err = btcutil.NewAddressPubKeyHash(
			make([]byte, 20), t.cfg.ChainParams,
		)

	default:
		addr, err = btcutil.NewAddressWitnessPubKeyHash(
			make([]byte, 20), t.cfg.ChainParams,
		)
	}
	if err != nil {
		return nil, err
	}

	return txscript.PayToAddrScript(addr)
}

// checkNonceCoin makes sure a donation can be claimed: one of the taker's
// coins must be signed with ECDSA to carry the nonce.
func (t *Taker) checkNonceCoin() error {
	if t.att.donationNonce == nil {
		return nil
	}
	for _, c := range t.att.coins {
		if signsECDSA(c.PkScript) {
			return nil
		}
	}

	return fmt.Errorf("donation: %w", errNonceUnsupported)
}

// gateOrders gives the application a chance to veto the selection.
func (t *Taker) gateOrders(sel offer.Selection, cjFee btcutil.Amount) error {
	if !t.deps.Callbacks.FilterOrders(sel, cjFee) {
		return fmt.Errorf("%w: counterparties %v, total fee %v",
			ErrOrdersRejected, sel.Counterparties(), cjFee)
	}

	return nil
}
