// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcjoin/offer"
	"github.com/btcsuite/btcjoin/taker"
)

// callbacks reports taker progress to the log and the daemon. They are
// invoked from the goroutine driving the taker, which also owns writes to
// the daemon connection.
type callbacks struct {
	maxFee btcutil.Amount
	daemon *bridge
}

// A compile time check to ensure callbacks satisfies taker.Callbacks.
var _ taker.Callbacks = (*callbacks)(nil)

// FilterOrders rejects selections whose total fee exceeds the configured
// maximum.
func (c *callbacks) FilterOrders(sel offer.Selection,
	totalFee btcutil.Amount) bool {

	for _, cp := range sel.Counterparties() {
		o := sel[cp]
		log.Infof("Chose offer %v", &o)
	}
	log.Infof("Total coinjoin fee %v", totalFee)

	if c.maxFee > 0 && totalFee > c.maxFee {
		log.Warnf("Total coinjoin fee %v exceeds maximum %v", totalFee,
			c.maxFee)
		return false
	}

	return true
}

// Info logs taker notifications.
func (c *callbacks) Info(kind taker.InfoKind, msg string) {
	if kind == taker.InfoAbort {
		log.Warnf("Coinjoin aborted: %s", msg)
		return
	}

	log.Info(msg)
}

// Finished logs the outcome and forwards it to the daemon.
func (c *callbacks) Finished(success bool, txid *chainhash.Hash) {
	msg := &finishedMsg{Success: success}
	if success {
		msg.TxID = txid.String()
		log.Infof("Coinjoin %v broadcast", txid)
	} else {
		log.Warnf("Coinjoin failed after signing")
	}

	if err := c.daemon.send(msgFinished, msg); err != nil {
		log.Errorf("Unable to report outcome to daemon: %v", err)
	}
}

// coinjoiner drives a taker through its attempts using the daemon.
type coinjoiner struct {
	taker    *taker.Taker
	daemon   *bridge
	attempts int
}

// run makes up to attempts coinjoin attempts. Counterparties that failed to
// answer or sign are left out of later attempts.
func (c *coinjoiner) run(ctx context.Context) error {
	var err error
	for i := 1; i <= c.attempts; i++ {
		log.Infof("Starting coinjoin attempt %d of %d", i, c.attempts)

		err = c.attempt(ctx)
		switch {
		case err == nil:
			return nil

		case taker.IsFatal(err), ctx.Err() != nil,
			errors.Is(err, errDaemonClosed):

			return err
		}

		log.Warnf("Coinjoin attempt %d failed: %v", i, err)
	}

	return fmt.Errorf("giving up after %d attempts: %w", c.attempts, err)
}

func (c *coinjoiner) attempt(ctx context.Context) error {
	book, err := c.daemon.orderbook(ctx)
	if err != nil {
		return err
	}

	fill, err := c.taker.Initialize(ctx, book)
	if err != nil {
		return err
	}

	answers, err := c.daemon.fill(ctx, fill)
	if err != nil {
		c.taker.Abort(err.Error())
		return err
	}

	asm, err := c.taker.ReceiveUTXOs(ctx, answers)
	if err != nil {
		c.taker.Abort(err.Error())

		var silent []string
		for cp := range fill.Orders {
			if answers[cp] == nil {
				silent = append(silent, cp)
			}
		}
		c.taker.IgnoreCounterparties(silent...)

		return err
	}

	msg, err := encodeTx(asm)
	if err != nil {
		c.taker.Abort(err.Error())
		return err
	}
	if err := c.daemon.send(msgTx, msg); err != nil {
		c.taker.Abort(err.Error())
		return err
	}

	return c.collectSignatures(ctx)
}

// collectSignatures feeds relayed signatures to the taker until the
// transaction is broadcast or the watchdog gives up.
func (c *coinjoiner) collectSignatures(ctx context.Context) error {
	timedOut := make(chan []string, 1)
	err := c.taker.StartWatchdog(func(missing []string) {
		timedOut <- missing
	})
	if err != nil {
		return err
	}

	giveUp := func(missing []string) error {
		c.taker.IgnoreCounterparties(missing...)
		return fmt.Errorf("counterparties %v did not sign in time",
			missing)
	}

	for {
		select {
		case missing := <-timedOut:
			return giveUp(missing)

		case <-ctx.Done():
			c.taker.Abort("interrupted")
			return ctx.Err()

		case env, ok := <-c.daemon.incoming:
			if !ok {
				err := c.daemon.closedErr()
				c.taker.Abort(err.Error())
				return err
			}

			done, err := c.handleSig(ctx, env)
			switch {
			case done:
				return nil

			case errors.Is(err, taker.ErrAborted):
				// The watchdog fired while the signature was
				// in flight.
				select {
				case missing := <-timedOut:
					return giveUp(missing)
				case <-ctx.Done():
					return ctx.Err()
				}

			case err != nil:
				return err
			}
		}
	}
}

// handleSig passes one daemon message to the taker. Malformed or
// mismatching signatures are logged and skipped.
func (c *coinjoiner) handleSig(ctx context.Context, env envelope) (bool,
	error) {

	if env.Type != msgSig {
		log.Debugf("Ignoring %s message while collecting signatures",
			env.Type)
		return false, nil
	}

	var m sigMsg
	if err := json.Unmarshal(env.Body, &m); err != nil {
		log.Warnf("Malformed signature message: %v", err)
		return false, nil
	}
	sig, err := parseSig(&m)
	if err != nil {
		log.Warnf("Malformed signature from %s: %v", m.Counterparty,
			err)
		return false, nil
	}

	done, err := c.taker.OnSig(ctx, m.Counterparty, sig)
	if errors.Is(err, taker.ErrUnknownCounterparty) ||
		errors.Is(err, taker.ErrNoSignatureMatch) {

		log.Warnf("Rejected signature from %s: %v", m.Counterparty, err)
		return false, nil
	}

	return done, err
}
