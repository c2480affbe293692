// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package podle

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	typeExtReveals tlv.Type = 6

	// revealSize is the serialized size of one Reveal: a compressed P2
	// followed by the s and e scalars.
	revealSize = 33 + 32 + 32
)

// Reveal is the index specific part of a proof.
type Reveal struct {
	P2 *btcec.PublicKey
	S  [32]byte
	E  [32]byte
}

// External is a coin outside the taker's wallet reserved for commitments.
// Its proofs are computed up front from the coin's key so that the key
// itself need not be kept around.
type External struct {
	OutPoint wire.OutPoint
	P        *btcec.PublicKey

	// Reveals holds one precomputed opening per NUMS index, starting at
	// zero.
	Reveals []Reveal
}

// NewExternal precomputes openings for indices 0 through retries-1 of the
// coin at op controlled by priv.
func NewExternal(priv *btcec.PrivateKey, op wire.OutPoint,
	retries int) (*External, error) {

	if retries < 1 || retries > 256 {
		return nil, fmt.Errorf("retries must be in [1, 256], got %d",
			retries)
	}

	ext := &External{
		OutPoint: op,
		P:        priv.PubKey(),
		Reveals:  make([]Reveal, 0, retries),
	}
	for i := 0; i < retries; i++ {
		proof, err := Generate(priv, op, uint8(i))
		if err != nil {
			return nil, err
		}

		ext.Reveals = append(ext.Reveals, Reveal{
			P2: proof.P2,
			S:  proof.S,
			E:  proof.E,
		})
	}

	return ext, nil
}

// Proof assembles the full opening for index i.
func (e *External) Proof(i int) *Proof {
	r := e.Reveals[i]

	return &Proof{
		OutPoint: e.OutPoint,
		P:        e.P,
		P2:       r.P2,
		S:        r.S,
		E:        r.E,
	}
}

// Encode serializes the external commitment as a TLV stream.
func (e *External) Encode(w io.Writer) error {
	txid := [32]byte(e.OutPoint.Hash)
	index := e.OutPoint.Index
	pBytes := e.P.SerializeCompressed()

	reveals := make([]byte, 0, len(e.Reveals)*revealSize)
	for _, r := range e.Reveals {
		reveals = append(reveals, r.P2.SerializeCompressed()...)
		reveals = append(reveals, r.S[:]...)
		reveals = append(reveals, r.E[:]...)
	}

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeTxid, &txid),
		tlv.MakePrimitiveRecord(typeIndex, &index),
		tlv.MakePrimitiveRecord(typeP, &pBytes),
		tlv.MakePrimitiveRecord(typeExtReveals, &reveals),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// Decode reads an external commitment written by Encode.
func (e *External) Decode(r io.Reader) error {
	var (
		txid    [32]byte
		index   uint32
		pBytes  []byte
		reveals []byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeTxid, &txid),
		tlv.MakePrimitiveRecord(typeIndex, &index),
		tlv.MakePrimitiveRecord(typeP, &pBytes),
		tlv.MakePrimitiveRecord(typeExtReveals, &reveals),
	)
	if err != nil {
		return err
	}

	if err := stream.Decode(r); err != nil {
		return err
	}

	if len(reveals)%revealSize != 0 {
		return fmt.Errorf("reveal data length %d not a multiple of %d",
			len(reveals), revealSize)
	}

	e.OutPoint = wire.OutPoint{Hash: chainhash.Hash(txid), Index: index}
	e.P, err = btcec.ParsePubKey(pBytes)
	if err != nil {
		return err
	}

	e.Reveals = make([]Reveal, 0, len(reveals)/revealSize)
	for off := 0; off < len(reveals); off += revealSize {
		chunk := reveals[off : off+revealSize]

		p2, err := btcec.ParsePubKey(chunk[:33])
		if err != nil {
			return err
		}

		var rev Reveal
		rev.P2 = p2
		copy(rev.S[:], chunk[33:65])
		copy(rev.E[:], chunk[65:])
		e.Reveals = append(e.Reveals, rev)
	}

	return nil
}

func encodeExternal(e *External) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeExternal(b []byte) (*External, error) {
	e := &External{}
	if err := e.Decode(bytes.NewReader(b)); err != nil {
		return nil, err
	}

	return e, nil
}
