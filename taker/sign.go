// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package taker

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/wallet"
	"github.com/davecgh/go-spew/spew"
)

// errNonceUnsupported is returned when a nonce is requested for an input
// type that is not signed with ECDSA.
var errNonceUnsupported = errors.New("nonce signing requires an ECDSA " +
	"input")

// complete signs the taker's inputs, checks the whole transaction and
// broadcasts it.
func (t *Taker) complete(ctx context.Context) (bool, error) {
	att := t.att

	var err error
	switch t.cfg.SignMethod {
	case SignWallet:
		err = t.signWithWallet(ctx)
	default:
		err = t.signDirect(ctx)
	}
	if err != nil {
		return false, t.fail(fmt.Errorf("signing own inputs: %w", err))
	}

	for i := range att.tx.TxIn {
		if err := t.verifyInput(i); err != nil {
			return false, t.fail(fmt.Errorf("input %d does not "+
				"verify: %w", i, err))
		}
	}

	log.Tracef("Signed coinjoin: %v", newLogClosure(func() string {
		return spew.Sdump(att.tx)
	}))

	txid, err := t.deps.Chain.PushTx(ctx, att.tx)
	if err != nil {
		return false, t.fail(err)
	}

	t.phase = PhaseComplete
	log.Infof("Broadcast coinjoin %v", txid)
	t.deps.Callbacks.Finished(true, txid)

	return true, nil
}

// fail aborts after signatures were collected and reports the failure to
// the completion callback.
func (t *Taker) fail(err error) error {
	t.abort(err.Error())
	t.deps.Callbacks.Finished(false, nil)

	return err
}

// signDirect signs each own input with the key the wallet provides. The
// first own ECDSA input is signed with the donation nonce if there is one.
func (t *Taker) signDirect(ctx context.Context) error {
	att := t.att

	coins := make(map[wire.OutPoint]*wallet.Coin, len(att.coins))
	for _, c := range att.coins {
		coins[c.OutPoint] = c
	}

	nonceIdx := -1
	if att.donationNonce != nil {
		nonceIdx = t.nonceInput()
		if nonceIdx < 0 {
			return errNonceUnsupported
		}
	}

	for i, slot := range att.slots {
		if !slot.own {
			continue
		}

		in := att.tx.TxIn[i]
		coin, ok := coins[in.PreviousOutPoint]
		if !ok {
			return fmt.Errorf("%w: no coin for own input %v",
				ErrInconsistentState, in.PreviousOutPoint)
		}
		priv, err := t.deps.Wallet.PrivKey(ctx, coin.Address)
		if err != nil {
			return err
		}

		var nonce *btcec.ModNScalar
		if i == nonceIdx {
			nonce = att.donationNonce
		}

		prev := att.prevOuts.FetchPrevOutput(in.PreviousOutPoint)
		sigScript, witness, err := signInput(
			att.tx, att.sigHashes, i, prev, priv, nonce,
		)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}

		in.SignatureScript = sigScript
		in.Witness = witness
		att.slots[i].state = Signed
	}

	return nil
}

// nonceInput returns the index of the first own input signed with ECDSA, or
// -1 if every own input is a taproot key spend.
func (t *Taker) nonceInput() int {
	for i, slot := range t.att.slots {
		if !slot.own {
			continue
		}
		prev := t.att.prevOuts.FetchPrevOutput(
			t.att.tx.TxIn[i].PreviousOutPoint,
		)
		if prev != nil && signsECDSA(prev.PkScript) {
			return i
		}
	}

	return -1
}

// signsECDSA reports whether spending pkScript takes an ECDSA signature.
func signsECDSA(pkScript []byte) bool {
	return !txscript.IsPayToTaproot(pkScript)
}

// signWithWallet hands the transaction to the wallet as a PSBT. The
// counterparties' inputs are passed finalized so the packet can be
// extracted once the wallet's signatures for its own are finalized.
func (t *Taker) signWithWallet(ctx context.Context) error {
	att := t.att

	unsigned := att.tx.Copy()
	for _, in := range unsigned.TxIn {
		in.SignatureScript = nil
		in.Witness = nil
	}

	packet, err := psbt.NewFromUnsignedTx(unsigned)
	if err != nil {
		return err
	}
	for i, in := range att.tx.TxIn {
		prev := att.prevOuts.FetchPrevOutput(in.PreviousOutPoint)
		packet.Inputs[i].WitnessUtxo = wire.NewTxOut(
			prev.Value, prev.PkScript,
		)

		if att.slots[i].own {
			continue
		}

		packet.Inputs[i].FinalScriptSig = in.SignatureScript
		if len(in.Witness) > 0 {
			var w bytes.Buffer
			if err := psbt.WriteTxWitness(&w, in.Witness); err != nil {
				return err
			}
			packet.Inputs[i].FinalScriptWitness = w.Bytes()
		}
	}

	signed, err := t.deps.Wallet.SignPsbt(ctx, packet)
	if err != nil {
		return err
	}

	// The wallet leaves its inputs with partial signatures only.
	if err := psbt.MaybeFinalizeAll(signed); err != nil {
		return fmt.Errorf("%w: finalize: %v", wallet.ErrIncompleteSigning,
			err)
	}

	final, err := psbt.Extract(signed)
	if err != nil {
		return fmt.Errorf("%w: %v", wallet.ErrIncompleteSigning, err)
	}
	if final.TxHash() != att.tx.TxHash() {
		return fmt.Errorf("%w: wallet returned a different "+
			"transaction", ErrInconsistentState)
	}

	for i, slot := range att.slots {
		if !slot.own {
			continue
		}
		att.tx.TxIn[i].SignatureScript = final.TxIn[i].SignatureScript
		att.tx.TxIn[i].Witness = final.TxIn[i].Witness
		att.slots[i].state = Signed
	}

	return nil
}

// signInput produces the signature script and witness spending prev. A
// non-nil nonce replaces the deterministic ECDSA nonce.
func signInput(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes, idx int,
	prev *wire.TxOut, priv *btcec.PrivateKey,
	nonce *btcec.ModNScalar) ([]byte, wire.TxWitness, error) {

	pkScript := prev.PkScript

	switch {
	case txscript.IsPayToTaproot(pkScript):
		if nonce != nil {
			return nil, nil, errNonceUnsupported
		}
		sig, err := txscript.TaprootWitnessSignature(
			tx, sigHashes, idx, prev.Value, pkScript,
			txscript.SigHashDefault, priv,
		)

		return nil, sig, err

	case txscript.IsPayToWitnessPubKeyHash(pkScript):
		witness, err := witnessSignature(
			tx, sigHashes, idx, prev.Value, pkScript, priv, nonce,
		)

		return nil, witness, err

	case txscript.IsPayToScriptHash(pkScript):
		// Only P2SH wrapped P2WPKH is spendable by the taker.
		pubKeyHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
		witnessProgram, err := txscript.NewScriptBuilder().
			AddOp(txscript.OP_0).AddData(pubKeyHash).Script()
		if err != nil {
			return nil, nil, err
		}
		sigScript, err := txscript.NewScriptBuilder().
			AddData(witnessProgram).Script()
		if err != nil {
			return nil, nil, err
		}
		witness, err := witnessSignature(
			tx, sigHashes, idx, prev.Value, witnessProgram, priv,
			nonce,
		)

		return sigScript, witness, err

	default:
		if nonce == nil {
			sigScript, err := txscript.SignatureScript(
				tx, idx, pkScript, txscript.SigHashAll, priv,
				true,
			)

			return sigScript, nil, err
		}

		hash, err := txscript.CalcSignatureHash(
			pkScript, txscript.SigHashAll, tx, idx,
		)
		if err != nil {
			return nil, nil, err
		}
		sig, err := signWithNonce(priv, nonce, hash)
		if err != nil {
			return nil, nil, err
		}
		sigBytes := append(sig.Serialize(), byte(txscript.SigHashAll))
		sigScript, err := txscript.NewScriptBuilder().
			AddData(sigBytes).
			AddData(priv.PubKey().SerializeCompressed()).
			Script()

		return sigScript, nil, err
	}
}

// witnessSignature signs a P2WPKH witness program.
func witnessSignature(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes,
	idx int, value int64, witnessProgram []byte, priv *btcec.PrivateKey,
	nonce *btcec.ModNScalar) (wire.TxWitness, error) {

	if nonce == nil {
		return txscript.WitnessSignature(
			tx, sigHashes, idx, value, witnessProgram,
			txscript.SigHashAll, priv, true,
		)
	}

	hash, err := txscript.CalcWitnessSigHash(
		witnessProgram, sigHashes, txscript.SigHashAll, tx, idx, value,
	)
	if err != nil {
		return nil, err
	}
	sig, err := signWithNonce(priv, nonce, hash)
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{
		append(sig.Serialize(), byte(txscript.SigHashAll)),
		priv.PubKey().SerializeCompressed(),
	}, nil
}
