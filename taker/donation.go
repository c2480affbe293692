// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package taker

import (
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// errInvalidNonce is returned when a nonce produces a degenerate signature.
var errInvalidNonce = errors.New("nonce yields invalid signature")

// donationDestination draws a nonce k and returns the P2PKH address of
// D + sha256(k*D)*G, where D is the configured donation key. The first
// taker input is later signed with k, which reveals k*G on chain so that
// the holder of D can derive the destination's key.
func donationDestination(cfg *Config) (btcutil.Address, *btcec.ModNScalar,
	error) {

	donation, err := cfg.donationKey()
	if err != nil {
		return nil, nil, err
	}

	nonce, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, err
	}
	k := nonce.Key

	var d, shared secp256k1.JacobianPoint
	donation.AsJacobian(&d)
	secp256k1.ScalarMultNonConst(&k, &d, &shared)
	tweak := donationTweak(&shared)

	var tweakPoint, dest secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&tweak, &tweakPoint)
	secp256k1.AddNonConst(&d, &tweakPoint, &dest)
	dest.ToAffine()

	pub := secp256k1.NewPublicKey(&dest.X, &dest.Y)
	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(pub.SerializeCompressed()), cfg.ChainParams,
	)
	if err != nil {
		return nil, nil, err
	}

	return addr, &k, nil
}

// donationTweak hashes the shared point into a scalar.
func donationTweak(shared *secp256k1.JacobianPoint) secp256k1.ModNScalar {
	p := *shared
	p.ToAffine()
	h := sha256.Sum256(
		secp256k1.NewPublicKey(&p.X, &p.Y).SerializeCompressed(),
	)

	var c secp256k1.ModNScalar
	c.SetBytes(&h)

	return c
}

// RecoverDonationKey derives the private key of a donation destination from
// the donation private key and the nonce point revealed by the signature of
// the coinjoin's first taker input.
func RecoverDonationKey(donation *btcec.PrivateKey,
	noncePoint *btcec.PublicKey) *btcec.PrivateKey {

	var r, shared secp256k1.JacobianPoint
	noncePoint.AsJacobian(&r)
	secp256k1.ScalarMultNonConst(&donation.Key, &r, &shared)

	c := donationTweak(&shared)
	c.Add(&donation.Key)

	return secp256k1.NewPrivateKey(&c)
}

// signWithNonce returns a low-S ECDSA signature over hash using nonce k in
// place of the RFC6979 nonce.
func signWithNonce(priv *btcec.PrivateKey, k *btcec.ModNScalar,
	hash []byte) (*ecdsa.Signature, error) {

	var kG secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(k, &kG)
	kG.ToAffine()

	var r secp256k1.ModNScalar
	r.SetBytes(kG.X.Bytes())
	if r.IsZero() {
		return nil, errInvalidNonce
	}

	var e secp256k1.ModNScalar
	e.SetByteSlice(hash)

	var kInv secp256k1.ModNScalar
	kInv.InverseValNonConst(k)

	var s secp256k1.ModNScalar
	s.Mul2(&priv.Key, &r).Add(&e).Mul(&kInv)
	if s.IsZero() {
		return nil, errInvalidNonce
	}
	if s.IsOverHalfOrder() {
		s.Negate()
	}

	return ecdsa.NewSignature(&r, &s), nil
}
