// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package taker drives the taker side of a coinjoin. A Taker selects
// counterparties from an offer book, commits to one of its coins, assembles
// the transaction from the counterparties' coins, collects their signatures
// and finally signs and broadcasts the result.
//
// An attempt moves strictly through Initialize, ReceiveUTXOs and OnSig. The
// transport delivering counterparty messages calls into the Taker; all
// methods are safe for concurrent use, but a Taker only ever runs one
// attempt at a time. Callbacks are invoked with the Taker's lock held and
// must not call back into it.
package taker

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/chain"
	"github.com/btcsuite/btcjoin/offer"
	"github.com/btcsuite/btcjoin/podle"
	"github.com/btcsuite/btcjoin/wallet"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Phase is the position of the current attempt in the protocol.
type Phase uint8

const (
	// PhaseIdle means no attempt has been started.
	PhaseIdle Phase = iota

	// PhaseCommitted means orders were selected, coins prepared and a
	// commitment sourced. The taker waits for counterparty coins.
	PhaseCommitted

	// PhaseAwaitingSigs means the unsigned transaction was assembled and
	// counterparty signatures are being collected.
	PhaseAwaitingSigs

	// PhaseComplete means the transaction was signed and broadcast.
	PhaseComplete

	// PhaseAborted means the attempt was abandoned. A new attempt may be
	// started with Initialize.
	PhaseAborted

	// PhaseHalted means a fatal condition stopped the taker.
	PhaseHalted
)

// String returns the name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCommitted:
		return "committed"
	case PhaseAwaitingSigs:
		return "awaiting-sigs"
	case PhaseComplete:
		return "complete"
	case PhaseAborted:
		return "aborted"
	case PhaseHalted:
		return "halted"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// Request describes the coinjoin the caller wants.
type Request struct {
	// Account is the wallet account the taker spends from.
	Account uint32

	// Amount is the coinjoin amount. Zero requests a sweep of the whole
	// account.
	Amount btcutil.Amount

	// Counterparties is the number of counterparties to select.
	Counterparties int

	// Destination receives the coinjoin output. When unset a fresh
	// address of the next account is used, or the donation destination
	// if donating is configured.
	Destination fn.Option[btcutil.Address]

	// Chooser picks among offers. WeightedChooser is used when nil.
	Chooser offer.Chooser

	// Ignored lists counterparties to leave out of order selection.
	Ignored []string

	// Rand drives order choice and transaction shuffling. A time seeded
	// source is used when nil.
	Rand *rand.Rand
}

// Dependencies are the collaborators of a Taker.
type Dependencies struct {
	Wallet    wallet.Interface
	Chain     chain.Interface
	Store     podle.Store
	Callbacks Callbacks
}

// Fill is the outcome of Initialize: the orders to fill and the commitment
// to send to each counterparty.
type Fill struct {
	// AttemptID identifies the attempt in logs and reports.
	AttemptID uuid.UUID

	// Amount is the coinjoin amount, solved from the fees for a sweep.
	Amount btcutil.Amount

	// Orders maps each chosen counterparty to the offer being filled.
	Orders offer.Selection

	// TotalFee is the sum of coinjoin fees owed to the counterparties.
	TotalFee btcutil.Amount

	// Commitment is the type tagged commitment sent with the fill.
	Commitment string

	// Revelation opens the commitment. It is only sent to counterparties
	// that agreed to the fill.
	Revelation *podle.Proof
}

// CounterpartyUTXOData is a counterparty's response to a fill.
type CounterpartyUTXOData struct {
	// UTXOs are the coins the counterparty spends into the coinjoin.
	UTXOs []wire.OutPoint

	// AuthPubKey is the key that signed SessionPubKey. One of UTXOs must
	// pay to an address of this key.
	AuthPubKey *btcec.PublicKey

	// CoinjoinAddr receives the counterparty's coinjoin output.
	CoinjoinAddr btcutil.Address

	// ChangeAddr receives the counterparty's change.
	ChangeAddr btcutil.Address

	// AuthSig is AuthPubKey's signature over SessionPubKey.
	AuthSig []byte

	// SessionPubKey is the counterparty's message channel key.
	SessionPubKey []byte
}

// Assembled is the unsigned coinjoin built by ReceiveUTXOs.
type Assembled struct {
	// Tx is the unsigned transaction. Counterparties sign it as is.
	Tx *wire.MsgTx

	// Counterparties are the accepted counterparties, sorted.
	Counterparties []string

	// Fee is the network fee the transaction pays.
	Fee btcutil.Amount
}

// InputSignature is a counterparty's signature for one of its inputs.
type InputSignature struct {
	SigScript []byte
	Witness   wire.TxWitness
}

// SigState is the signing state of one transaction input.
type SigState uint8

const (
	// Unsigned inputs have no verified signature yet.
	Unsigned SigState = iota

	// Signed inputs carry a verified signature.
	Signed
)

// inputSlot tracks who owns an input and whether it has been signed.
type inputSlot struct {
	owner string
	own   bool
	state SigState
}

// counterparty is an accepted counterparty of the current attempt.
type counterparty struct {
	data   *CounterpartyUTXOData
	utxos  []*chain.UTXOInfo
	order  offer.Offer
	fee    btcutil.Amount
	change btcutil.Amount

	cjScript     []byte
	changeScript []byte
}

// attempt holds everything a single coinjoin attempt accumulates. It is
// replaced wholesale when a new attempt starts.
type attempt struct {
	id uuid.UUID

	orders     offer.Selection
	amount     btcutil.Amount
	sweep      bool
	totalCJFee btcutil.Amount
	totalTxFee btcutil.Amount

	coins  []*wallet.Coin
	dest   btcutil.Address
	change fn.Option[btcutil.Address]

	// donationNonce is set when the coinjoin output goes to the donation
	// destination. The first own input is signed with it.
	donationNonce *btcec.ModNScalar

	proof *podle.Proof

	// quit is open while Initialize prepares the attempt and is closed
	// by an abort.
	quit chan struct{}

	accepted  map[string]*counterparty
	tx        *wire.MsgTx
	prevOuts  *txscript.MultiPrevOutFetcher
	sigHashes *txscript.TxSigHashes
	slots     []inputSlot
	remaining map[string]map[wire.OutPoint]struct{}
}

// Taker runs coinjoin attempts.
type Taker struct {
	cfg  *Config
	deps Dependencies
	req  Request
	rng  *rand.Rand

	mu       sync.Mutex
	phase    Phase
	ignored  []string
	att      *attempt
	watchdog *watchdog
}

// New returns a Taker for the request.
func New(cfg *Config, deps Dependencies, req Request) (*Taker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch {
	case deps.Wallet == nil:
		return nil, errors.New("wallet must be set")
	case deps.Chain == nil:
		return nil, errors.New("chain backend must be set")
	case deps.Store == nil:
		return nil, errors.New("commitment store must be set")
	}
	if deps.Callbacks == nil {
		deps.Callbacks = DefaultCallbacks{}
	}

	if req.Amount < 0 {
		return nil, fmt.Errorf("invalid coinjoin amount %v", req.Amount)
	}
	if req.Counterparties < cfg.MinimumMakers {
		return nil, fmt.Errorf("requested %d counterparties, minimum "+
			"is %d", req.Counterparties, cfg.MinimumMakers)
	}
	if req.Chooser == nil {
		req.Chooser = offer.WeightedChooser
	}

	rng := req.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Taker{
		cfg:     cfg,
		deps:    deps,
		req:     req,
		rng:     rng,
		ignored: slices.Clone(req.Ignored),
	}, nil
}

// Phase returns the phase of the current attempt.
func (t *Taker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.phase
}

// AttemptID returns the id of the current attempt, or the zero UUID if none
// was started.
func (t *Taker) AttemptID() uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.att == nil {
		return uuid.Nil
	}

	return t.att.id
}

// Nonrespondents returns the counterparties that still owe signatures,
// sorted.
func (t *Taker) Nonrespondents() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.nonrespondents()
}

func (t *Taker) nonrespondents() []string {
	if t.att == nil {
		return nil
	}

	cps := make([]string, 0, len(t.att.remaining))
	for cp := range t.att.remaining {
		cps = append(cps, cp)
	}
	slices.Sort(cps)

	return cps
}

// IgnoreCounterparties excludes counterparties from the order selection of
// later attempts.
func (t *Taker) IgnoreCounterparties(cps ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, cp := range cps {
		if !slices.Contains(t.ignored, cp) {
			t.ignored = append(t.ignored, cp)
		}
	}
}

// Abort abandons the current attempt. The reason is reported through
// Callbacks.Info before any state is discarded.
func (t *Taker) Abort(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.phase {
	case PhaseComplete, PhaseHalted:
		return

	// A retry after an abort is still in PhaseAborted while it waits
	// for a commitment.
	case PhaseAborted:
		if !t.preparing() {
			return
		}
	}

	t.abort(reason)
}

// preparing reports whether Initialize is working on the current attempt.
func (t *Taker) preparing() bool {
	return t.att != nil && t.att.quit != nil
}

// abort must be called with the lock held.
func (t *Taker) abort(reason string) {
	log.Infof("Aborting coinjoin attempt %v: %s", t.attemptID(), reason)

	t.deps.Callbacks.Info(InfoAbort, reason)
	t.stopWatchdog()
	if t.preparing() {
		close(t.att.quit)
		t.att.quit = nil
	}
	t.phase = PhaseAborted
}

// abortErr aborts with err as the reason and returns it.
func (t *Taker) abortErr(err error) error {
	t.abort(err.Error())
	return err
}

// halt stops the taker after a fatal condition and returns the wrapped
// error. It must be called with the lock held.
func (t *Taker) halt(err error) error {
	log.Errorf("Halting coinjoin attempt %v: %v", t.attemptID(), err)

	t.deps.Callbacks.Info(InfoAbort, err.Error())
	t.stopWatchdog()
	t.phase = PhaseHalted

	return &FatalError{Err: err}
}

func (t *Taker) attemptID() uuid.UUID {
	if t.att == nil {
		return uuid.Nil
	}

	return t.att.id
}

// requirePhase returns ErrWrongPhase unless the taker is in one of the
// given phases. Errors for an aborted attempt also match ErrAborted.
func (t *Taker) requirePhase(phases ...Phase) error {
	if slices.Contains(phases, t.phase) {
		return nil
	}
	if t.phase == PhaseAborted {
		return fmt.Errorf("%w: %w", ErrWrongPhase, ErrAborted)
	}

	return fmt.Errorf("%w: %v", ErrWrongPhase, t.phase)
}
