// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package taker

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// OnSig takes a counterparty's signature for one of the coinjoin inputs.
// Signatures do not name their input, so each unsigned counterparty input
// is tried in turn and the signature is inserted at the first one it
// verifies against. A signature matching nothing is discarded and
// ErrNoSignatureMatch returned; the attempt carries on.
//
// Once every counterparty input is signed the taker signs its own inputs and
// broadcasts the transaction. OnSig then returns true.
func (t *Taker) OnSig(ctx context.Context, cp string,
	sig *InputSignature) (bool, error) {

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requirePhase(PhaseAwaitingSigs); err != nil {
		return false, err
	}
	att := t.att

	if _, ok := att.accepted[cp]; !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownCounterparty, cp)
	}
	if sig == nil {
		return false, fmt.Errorf("%w: empty signature from %s",
			ErrNoSignatureMatch, cp)
	}

	matched := -1
	for i, slot := range att.slots {
		if slot.own || slot.state == Signed {
			continue
		}
		if t.trySignature(i, sig) {
			matched = i
			break
		}
	}
	if matched < 0 {
		log.Warnf("Signature from %s did not match any input of %v",
			cp, att.tx.TxHash())
		return false, fmt.Errorf("%w: from %s", ErrNoSignatureMatch, cp)
	}

	slot := &att.slots[matched]
	slot.state = Signed
	op := att.tx.TxIn[matched].PreviousOutPoint
	if slot.owner != cp {
		log.Warnf("Signature from %s signed input %v of %s", cp, op,
			slot.owner)
	}

	if set, ok := att.remaining[slot.owner]; ok {
		delete(set, op)
		if len(set) == 0 {
			delete(att.remaining, slot.owner)
			log.Debugf("Counterparty %s has signed all inputs",
				slot.owner)
		}
	}

	allSigned := true
	for _, s := range att.slots {
		if !s.own && s.state == Unsigned {
			allSigned = false
			break
		}
	}

	switch {
	case allSigned && len(att.remaining) != 0:
		return false, t.halt(fmt.Errorf("%w: all inputs signed but "+
			"%v outstanding", ErrInconsistentState,
			t.nonrespondents()))

	case !allSigned && len(att.remaining) == 0:
		return false, t.halt(fmt.Errorf("%w: unsigned inputs but no "+
			"counterparty outstanding", ErrInconsistentState))

	case !allSigned:
		return false, nil
	}

	log.Infof("All counterparty signatures collected for %v",
		att.tx.TxHash())
	t.stopWatchdog()

	return t.complete(ctx)
}

// trySignature inserts sig at input i and keeps it if the input then
// verifies.
func (t *Taker) trySignature(i int, sig *InputSignature) bool {
	in := t.att.tx.TxIn[i]
	in.SignatureScript = sig.SigScript
	in.Witness = sig.Witness

	if err := t.verifyInput(i); err != nil {
		log.Tracef("Signature does not fit input %d: %v", i, err)
		in.SignatureScript = nil
		in.Witness = nil

		return false
	}

	return true
}

// verifyInput runs the script of input i against its previous output.
func (t *Taker) verifyInput(i int) error {
	att := t.att
	prev := att.prevOuts.FetchPrevOutput(att.tx.TxIn[i].PreviousOutPoint)
	if prev == nil {
		return fmt.Errorf("%w: no previous output for input %d",
			ErrInconsistentState, i)
	}

	vm, err := txscript.NewEngine(
		prev.PkScript, att.tx, i, txscript.StandardVerifyFlags, nil,
		att.sigHashes, prev.Value, att.prevOuts,
	)
	if err != nil {
		return err
	}

	return vm.Execute()
}
