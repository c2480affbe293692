// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package taker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/podle"
	"github.com/btcsuite/btcjoin/wallet"
)

// commitmentReport explains why no commitment could be sourced.
type commitmentReport struct {
	exhausted []wire.OutPoint
	tooYoung  []wire.OutPoint
	tooSmall  []wire.OutPoint
	minAmount btcutil.Amount
}

// summary is the message reported to the application.
func (r *commitmentReport) summary(path string) string {
	return fmt.Sprintf("Failed to source a commitment: %d coins used up, "+
		"%d with too few confirmations, %d below %v. Details written "+
		"to %s", len(r.exhausted), len(r.tooYoung), len(r.tooSmall),
		r.minAmount, path)
}

// commitmentFilter is the outcome of checking candidate coins against the
// age and size policy.
type commitmentFilter struct {
	eligible map[wire.OutPoint]struct{}
	tooYoung []wire.OutPoint
	tooSmall []wire.OutPoint
}

// filterCommitmentCoins looks up the outpoints on chain and sorts them by
// whether they may back a commitment. Spent or unconfirmed outputs count as
// too young.
func (t *Taker) filterCommitmentCoins(ctx context.Context,
	ops []wire.OutPoint) (*commitmentFilter, error) {

	f := &commitmentFilter{
		eligible: make(map[wire.OutPoint]struct{}, len(ops)),
	}
	if len(ops) == 0 {
		return f, nil
	}

	infos, err := t.deps.Chain.QueryUTXOSet(ctx, ops)
	if err != nil {
		return nil, fmt.Errorf("query commitment coins: %w", err)
	}

	// A coin failing both limits is listed under both.
	minAmount := t.minCommitmentAmount()
	for i, info := range infos {
		eligible := true
		if info == nil || info.Confirmations < t.cfg.UTXOAge {
			f.tooYoung = append(f.tooYoung, ops[i])
			eligible = false
		}
		if info != nil && info.Value < minAmount {
			f.tooSmall = append(f.tooSmall, ops[i])
			eligible = false
		}

		if eligible {
			f.eligible[ops[i]] = struct{}{}
		}
	}

	return f, nil
}

// minCommitmentAmount is the smallest coin value allowed to back a
// commitment for the current coinjoin amount.
func (t *Taker) minCommitmentAmount() btcutil.Amount {
	return t.att.amount * btcutil.Amount(t.cfg.UTXOAmtPercent) / 100
}

// commitmentCandidates pairs the eligible coins with their keys. Coins whose
// key the wallet cannot provide are skipped.
func (t *Taker) commitmentCandidates(ctx context.Context,
	coins []*wallet.Coin, f *commitmentFilter) []podle.Candidate {

	var cands []podle.Candidate
	for _, c := range coins {
		if _, ok := f.eligible[c.OutPoint]; !ok {
			continue
		}

		priv, err := t.deps.Wallet.PrivKey(ctx, c.Address)
		if err != nil {
			log.Warnf("No key for commitment candidate %v: %v",
				c.OutPoint, err)
			continue
		}
		cands = append(cands, podle.Candidate{
			OutPoint: c.OutPoint,
			PrivKey:  priv,
		})
	}

	return cands
}

// makeCommitment sources a commitment, first from the coins spent by this
// coinjoin and then from the whole wallet plus the external pool. When both
// stages are exhausted a report is returned along with
// ErrCommitmentUnavailable.
func (t *Taker) makeCommitment(ctx context.Context) (*podle.Proof,
	*commitmentReport, error) {

	retries := t.cfg.UTXORetries

	ops := make([]wire.OutPoint, len(t.att.coins))
	for i, c := range t.att.coins {
		ops[i] = c.OutPoint
	}
	primary, err := t.filterCommitmentCoins(ctx, ops)
	if err != nil {
		return nil, nil, err
	}

	proof, err := podle.Source(
		t.deps.Store, t.commitmentCandidates(ctx, t.att.coins, primary),
		nil, retries,
	)
	if err == nil {
		return proof, nil, nil
	}
	if !errors.Is(err, podle.ErrCommitmentsExhausted) {
		return nil, nil, err
	}

	log.Infof("Coins of attempt %v cannot back a commitment, trying "+
		"the whole wallet", t.att.id)

	all, err := t.deps.Wallet.ListUnspent(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list unspent: %w", err)
	}
	externals, err := t.deps.Store.Externals()
	if err != nil {
		return nil, nil, fmt.Errorf("external commitments: %w", err)
	}

	ops = make([]wire.OutPoint, 0, len(all)+len(externals))
	for _, c := range all {
		ops = append(ops, c.OutPoint)
	}
	for _, e := range externals {
		ops = append(ops, e.OutPoint)
	}
	fallback, err := t.filterCommitmentCoins(ctx, ops)
	if err != nil {
		return nil, nil, err
	}

	var eligibleExt []*podle.External
	for _, e := range externals {
		if _, ok := fallback.eligible[e.OutPoint]; ok {
			eligibleExt = append(eligibleExt, e)
		}
	}
	cands := t.commitmentCandidates(ctx, all, fallback)

	proof, err = podle.Source(t.deps.Store, cands, eligibleExt, retries)
	if err == nil {
		return proof, nil, nil
	}
	if !errors.Is(err, podle.ErrCommitmentsExhausted) {
		return nil, nil, err
	}

	report := &commitmentReport{
		tooYoung:  fallback.tooYoung,
		tooSmall:  fallback.tooSmall,
		minAmount: t.minCommitmentAmount(),
	}
	for _, c := range cands {
		report.exhausted = append(report.exhausted, c.OutPoint)
	}
	for _, e := range eligibleExt {
		report.exhausted = append(report.exhausted, e.OutPoint)
	}

	return nil, report, ErrCommitmentUnavailable
}

// sourceCommitment runs makeCommitment under the configured failure policy:
// either wait and retry until the context ends or the attempt is aborted, or
// halt.
func (t *Taker) sourceCommitment(ctx context.Context) (*podle.Proof, error) {
	for {
		proof, report, err := t.makeCommitment(ctx)
		if err == nil {
			return proof, nil
		}
		if report == nil {
			return nil, err
		}

		if werr := t.writeReport(report); werr != nil {
			log.Errorf("Unable to write commitment report: %v", werr)
		}
		msg := report.summary(t.cfg.DebugReportPath)

		if !t.cfg.WaitForCommitments {
			return nil, t.halt(fmt.Errorf("%w: %s", err, msg))
		}

		t.deps.Callbacks.Info(InfoMessage, fmt.Sprintf("%s. Retrying "+
			"in %v", msg, t.cfg.CommitmentWait))

		if err := t.waitCommitment(ctx); err != nil {
			return nil, err
		}
	}
}

// waitCommitment sleeps between commitment searches with the lock released,
// so that the attempt can be aborted and inspected meanwhile. It must be
// called with the lock held and returns with it held.
func (t *Taker) waitCommitment(ctx context.Context) error {
	quit := t.att.quit

	t.mu.Unlock()
	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-quit:
	case <-time.After(t.cfg.CommitmentWait):
	}
	t.mu.Lock()

	select {
	case <-quit:
		return ErrAborted
	default:
		return err
	}
}

// writeReport writes the diagnostics of a failed commitment search to the
// debug report file. The file is for operators only and is never read back.
func (t *Taker) writeReport(r *commitmentReport) error {
	var b bytes.Buffer

	b.WriteString("THIS IS A TEMPORARY FILE FOR DEBUGGING; IT CAN BE " +
		"SAFELY DELETED ANY TIME.\n***\n")
	fmt.Fprintf(&b, "Attempt %v at %v\n", t.att.id,
		time.Now().UTC().Format(time.RFC3339))

	section := func(title string, ops []wire.OutPoint) {
		fmt.Fprintf(&b, "%s\n", title)
		for _, op := range ops {
			fmt.Fprintf(&b, "%v\n", op)
		}
	}
	section(fmt.Sprintf("1: Coins that passed age and size limits but "+
		"were used %d times:", t.cfg.UTXORetries), r.exhausted)
	section(fmt.Sprintf("2: Coins with fewer than %d confirmations:",
		t.cfg.UTXOAge), r.tooYoung)
	section(fmt.Sprintf("3: Coins below %d%% of the coinjoin amount "+
		"(%v):", t.cfg.UTXOAmtPercent, r.minAmount), r.tooSmall)

	b.WriteString("***\nAdd reserved coins as external commitments " +
		"with --addutxo, or wait for coins to age.\n")

	return os.WriteFile(t.cfg.DebugReportPath, b.Bytes(), 0600)
}
