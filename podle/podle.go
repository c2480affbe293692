// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package podle implements proofs of discrete logarithm equivalence used by a
// coinjoin taker to commit to ownership of an unspent coin without revealing
// which coin it is until a counterparty agrees to participate.
//
// Given the private key x of a coin with public key P = xG, the taker
// publishes the commitment H(P2) where P2 = xJ for a nothing-up-my-sleeve
// generator J. The opening reveals the coin, P, P2 and a Schnorr-style
// signature (s, e) proving that log_G(P) == log_J(P2). Because each index
// selects a different J, a coin can back at most one commitment per index,
// which lets counterparties rate limit how often a single coin is used.
package podle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/tlv"
)

// TypePoDLE is the one byte discriminator prefixed to a commitment on the
// wire, so that counterparties can reject commitment schemes they do not
// support.
const TypePoDLE byte = 'P'

const (
	typeTxid  tlv.Type = 0
	typeIndex tlv.Type = 1
	typeP     tlv.Type = 2
	typeP2    tlv.Type = 3
	typeS     tlv.Type = 4
	typeE     tlv.Type = 5
)

var (
	// ErrInvalidProof is returned when a revelation does not open the
	// commitment it is checked against.
	ErrInvalidProof = errors.New("invalid PoDLE proof")

	// ErrCommitmentMismatch is returned when the revealed P2 does not hash
	// to the given commitment.
	ErrCommitmentMismatch = errors.New("revealed point does not match " +
		"commitment")
)

// Commitment is the hash of P2 sent to counterparties in the clear.
type Commitment [sha256.Size]byte

// String returns the commitment as hex.
func (c Commitment) String() string {
	return hex.EncodeToString(c[:])
}

// TaggedCommitment returns the wire form of a commitment: the commitment
// type byte followed by the hex encoded commitment.
func TaggedCommitment(c Commitment) string {
	return string(TypePoDLE) + c.String()
}

// ParseTaggedCommitment is the inverse of TaggedCommitment.
func ParseTaggedCommitment(s string) (Commitment, error) {
	var c Commitment
	if len(s) != 1+2*len(c) || s[0] != TypePoDLE {
		return c, fmt.Errorf("malformed tagged commitment %q", s)
	}

	if _, err := hex.Decode(c[:], []byte(s[1:])); err != nil {
		return c, err
	}

	return c, nil
}

// Proof is the opening of a commitment. It is disclosed only to the chosen
// counterparties and never published on chain.
type Proof struct {
	// OutPoint is the coin whose key backs the proof.
	OutPoint wire.OutPoint

	// P is the coin's public key, P = xG.
	P *btcec.PublicKey

	// P2 is the key blinded by the NUMS generator, P2 = xJ.
	P2 *btcec.PublicKey

	// S and E are the signature and challenge scalars.
	S [32]byte
	E [32]byte
}

// Generate creates a proof for the coin at op controlled by priv, using the
// NUMS generator at the given index. A fresh random nonce is drawn for every
// call, while the resulting commitment depends only on priv and index.
func Generate(priv *btcec.PrivateKey, op wire.OutPoint,
	index uint8) (*Proof, error) {

	nonce, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}

	return generate(priv, op, index, &nonce.Key)
}

func generate(priv *btcec.PrivateKey, op wire.OutPoint, index uint8,
	k *btcec.ModNScalar) (*Proof, error) {

	j, err := GetNUMS(index)
	if err != nil {
		return nil, err
	}

	kg := scalarBaseMult(k)
	kj := scalarMult(k, j)
	p := priv.PubKey()
	p2 := scalarMult(&priv.Key, j)

	e := challenge(kg, kj, p, p2)

	var eScalar btcec.ModNScalar
	eScalar.SetBytes(&e)

	// s = k + e*x mod n.
	var s btcec.ModNScalar
	s.Mul2(&eScalar, &priv.Key).Add(k)

	return &Proof{
		OutPoint: op,
		P:        p,
		P2:       p2,
		S:        s.Bytes(),
		E:        e,
	}, nil
}

// Commitment returns H(P2).
func (p *Proof) Commitment() Commitment {
	return sha256.Sum256(p.P2.SerializeCompressed())
}

// Verify checks that the proof opens the commitment for one of the NUMS
// indices below maxIndex.
func (p *Proof) Verify(commitment Commitment, maxIndex int) error {
	if p.P == nil || p.P2 == nil {
		return ErrInvalidProof
	}

	if p.Commitment() != commitment {
		return ErrCommitmentMismatch
	}

	var s, e btcec.ModNScalar
	if s.SetBytes(&p.S) != 0 || e.SetBytes(&p.E) != 0 {
		return fmt.Errorf("%w: scalar overflow", ErrInvalidProof)
	}

	minusE := new(btcec.ModNScalar).NegateVal(&e)
	sg := scalarBaseMult(&s)
	kg := addPoints(sg, scalarMult(minusE, p.P))
	if kg == nil {
		return ErrInvalidProof
	}

	minusEP2 := scalarMult(minusE, p.P2)
	for i := 0; i < maxIndex && i < 256; i++ {
		j, err := GetNUMS(uint8(i))
		if err != nil {
			return err
		}

		kj := addPoints(scalarMult(&s, j), minusEP2)
		if kj == nil {
			continue
		}

		if challenge(kg, kj, p.P, p.P2) == p.E {
			return nil
		}
	}

	return ErrInvalidProof
}

// Encode serializes the proof as a TLV stream.
func (p *Proof) Encode(w io.Writer) error {
	txid := [32]byte(p.OutPoint.Hash)
	index := p.OutPoint.Index
	pBytes := p.P.SerializeCompressed()
	p2Bytes := p.P2.SerializeCompressed()

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeTxid, &txid),
		tlv.MakePrimitiveRecord(typeIndex, &index),
		tlv.MakePrimitiveRecord(typeP, &pBytes),
		tlv.MakePrimitiveRecord(typeP2, &p2Bytes),
		tlv.MakePrimitiveRecord(typeS, &p.S),
		tlv.MakePrimitiveRecord(typeE, &p.E),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// Decode reads a proof previously written by Encode.
func (p *Proof) Decode(r io.Reader) error {
	var (
		txid    [32]byte
		index   uint32
		pBytes  []byte
		p2Bytes []byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeTxid, &txid),
		tlv.MakePrimitiveRecord(typeIndex, &index),
		tlv.MakePrimitiveRecord(typeP, &pBytes),
		tlv.MakePrimitiveRecord(typeP2, &p2Bytes),
		tlv.MakePrimitiveRecord(typeS, &p.S),
		tlv.MakePrimitiveRecord(typeE, &p.E),
	)
	if err != nil {
		return err
	}

	if err := stream.Decode(r); err != nil {
		return err
	}

	p.OutPoint = wire.OutPoint{Hash: chainhash.Hash(txid), Index: index}

	p.P, err = btcec.ParsePubKey(pBytes)
	if err != nil {
		return fmt.Errorf("%w: bad P: %v", ErrInvalidProof, err)
	}

	p.P2, err = btcec.ParsePubKey(p2Bytes)
	if err != nil {
		return fmt.Errorf("%w: bad P2: %v", ErrInvalidProof, err)
	}

	return nil
}

// Bytes returns the TLV encoding of the proof.
func (p *Proof) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// String returns a loggable summary of the revelation.
func (p *Proof) String() string {
	return fmt.Sprintf("utxo=%v P=%x P2=%x s=%x e=%x", p.OutPoint,
		p.P.SerializeCompressed(), p.P2.SerializeCompressed(), p.S,
		p.E)
}

// challenge computes e = H(kG || kJ || P || P2).
func challenge(kg, kj, p, p2 *btcec.PublicKey) [32]byte {
	h := sha256.New()
	for _, pt := range []*btcec.PublicKey{kg, kj, p, p2} {
		h.Write(pt.SerializeCompressed())
	}

	var e [32]byte
	copy(e[:], h.Sum(nil))

	return e
}

func scalarBaseMult(k *btcec.ModNScalar) *btcec.PublicKey {
	var res btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(k, &res)
	res.ToAffine()

	return btcec.NewPublicKey(&res.X, &res.Y)
}

func scalarMult(k *btcec.ModNScalar, pub *btcec.PublicKey) *btcec.PublicKey {
	var pt, res btcec.JacobianPoint
	pub.AsJacobian(&pt)
	btcec.ScalarMultNonConst(k, &pt, &res)
	res.ToAffine()

	return btcec.NewPublicKey(&res.X, &res.Y)
}

// addPoints returns a+b, or nil if the sum is the point at infinity.
func addPoints(a, b *btcec.PublicKey) *btcec.PublicKey {
	var ja, jb, res btcec.JacobianPoint
	a.AsJacobian(&ja)
	b.AsJacobian(&jb)
	btcec.AddNonConst(&ja, &jb, &res)

	if (res.X.IsZero() && res.Y.IsZero()) || res.Z.IsZero() {
		return nil
	}
	res.ToAffine()

	return btcec.NewPublicKey(&res.X, &res.Y)
}
