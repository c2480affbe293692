// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package taker

import (
	"bytes"
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/chain"
)

var (
	errAuthSignature = errors.New("authorization signature invalid")
	errKeyNotBound   = errors.New("authorization key owns none of the " +
		"counterparty's coins")
)

// messageMagic prefixes signed messages so they cannot be mistaken for
// transactions.
const messageMagic = "Bitcoin Signed Message:\n"

// messageHash returns the hash a Bitcoin signed message commits to.
func messageHash(msg string) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, messageMagic)
	_ = wire.WriteVarString(&buf, 0, msg)

	return chainhash.DoubleHashB(buf.Bytes())
}

// verifyAuth checks that AuthSig is AuthPubKey's signature over the hex
// encoded session key. Both compact signed-message signatures and plain DER
// signatures are accepted.
func verifyAuth(data *CounterpartyUTXOData) error {
	if data.AuthPubKey == nil || len(data.AuthSig) == 0 {
		return errAuthSignature
	}

	hash := messageHash(hex.EncodeToString(data.SessionPubKey))

	if len(data.AuthSig) == 65 {
		pub, _, err := ecdsa.RecoverCompact(data.AuthSig, hash)
		if err != nil || !pub.IsEqual(data.AuthPubKey) {
			return errAuthSignature
		}

		return nil
	}

	sig, err := ecdsa.ParseDERSignature(data.AuthSig)
	if err != nil || !sig.Verify(hash, data.AuthPubKey) {
		return errAuthSignature
	}

	return nil
}

// keyScripts returns the single-key output scripts of pub: P2PKH, P2WPKH and
// P2SH wrapped P2WPKH.
func keyScripts(pub *btcec.PublicKey,
	params *chaincfg.Params) ([][]byte, error) {

	pkHash := btcutil.Hash160(pub.SerializeCompressed())

	p2pkh, err := btcutil.NewAddressPubKeyHash(pkHash, params)
	if err != nil {
		return nil, err
	}
	p2wpkh, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, params)
	if err != nil {
		return nil, err
	}
	witnessProgram, err := txscript.PayToAddrScript(p2wpkh)
	if err != nil {
		return nil, err
	}
	nested, err := btcutil.NewAddressScriptHash(witnessProgram, params)
	if err != nil {
		return nil, err
	}

	scripts := make([][]byte, 0, 3)
	for _, addr := range []btcutil.Address{p2pkh, p2wpkh, nested} {
		s, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, s)
	}

	return scripts, nil
}

// checkKeyBinding requires that at least one of the coins pays to the
// authorization key.
func checkKeyBinding(pub *btcec.PublicKey, utxos []*chain.UTXOInfo,
	params *chaincfg.Params) error {

	scripts, err := keyScripts(pub, params)
	if err != nil {
		return err
	}

	for _, u := range utxos {
		for _, s := range scripts {
			if bytes.Equal(u.PkScript, s) {
				return nil
			}
		}
	}

	return errKeyNotBound
}
