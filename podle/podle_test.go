// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package podle

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T, seed byte) *btcec.PrivateKey {
	t.Helper()

	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	return priv
}

func testOutPoint(seed byte, index uint32) wire.OutPoint {
	var h chainhash.Hash
	h[0] = seed
	h[31] = seed

	return wire.OutPoint{Hash: h, Index: index}
}

// TestGetNUMS checks that generators are distinct per index and cached.
func TestGetNUMS(t *testing.T) {
	t.Parallel()

	j0, err := GetNUMS(0)
	require.NoError(t, err)
	j1, err := GetNUMS(1)
	require.NoError(t, err)
	require.False(t, j0.IsEqual(j1))

	again, err := GetNUMS(0)
	require.NoError(t, err)
	require.True(t, j0.IsEqual(again))

	// Generators are always encoded with an even y coordinate.
	require.Equal(t, byte(0x02), j0.SerializeCompressed()[0])

	j255, err := GetNUMS(255)
	require.NoError(t, err)
	require.True(t, j255.IsOnCurve())
}

// TestGenerateVerify checks that generated proofs open their commitment only
// for the index range they were created in.
func TestGenerateVerify(t *testing.T) {
	t.Parallel()

	priv := testKey(t, 0x11)
	op := testOutPoint(1, 0)

	for _, index := range []uint8{0, 2, 9} {
		proof, err := Generate(priv, op, index)
		require.NoError(t, err)
		require.True(t, proof.P.IsEqual(priv.PubKey()))

		c := proof.Commitment()
		require.NoError(t, proof.Verify(c, int(index)+1))
		require.NoError(t, proof.Verify(c, 10))

		if index > 0 {
			require.ErrorIs(t, proof.Verify(c, int(index)),
				ErrInvalidProof)
		}
	}
}

// TestVerifyRejectsTampering checks that altering any part of the opening
// invalidates it.
func TestVerifyRejectsTampering(t *testing.T) {
	t.Parallel()

	priv := testKey(t, 0x22)
	proof, err := Generate(priv, testOutPoint(2, 1), 1)
	require.NoError(t, err)
	c := proof.Commitment()

	badS := *proof
	badS.S[31] ^= 0x01
	require.ErrorIs(t, badS.Verify(c, 3), ErrInvalidProof)

	badE := *proof
	badE.E[0] ^= 0x80
	require.ErrorIs(t, badE.Verify(c, 3), ErrInvalidProof)

	badP := *proof
	badP.P = testKey(t, 0x23).PubKey()
	require.ErrorIs(t, badP.Verify(c, 3), ErrInvalidProof)

	var other Commitment
	require.ErrorIs(t, proof.Verify(other, 3), ErrCommitmentMismatch)
}

// TestCommitmentDependsOnKeyAndIndex checks that the commitment is fixed by
// the key and index while the signature varies with the nonce.
func TestCommitmentDependsOnKeyAndIndex(t *testing.T) {
	t.Parallel()

	priv := testKey(t, 0x33)
	op := testOutPoint(3, 0)

	a, err := Generate(priv, op, 0)
	require.NoError(t, err)
	b, err := Generate(priv, op, 0)
	require.NoError(t, err)
	require.Equal(t, a.Commitment(), b.Commitment())
	require.NotEqual(t, a.S, b.S)

	c, err := Generate(priv, op, 1)
	require.NoError(t, err)
	require.NotEqual(t, a.Commitment(), c.Commitment())

	d, err := Generate(testKey(t, 0x34), op, 0)
	require.NoError(t, err)
	require.NotEqual(t, a.Commitment(), d.Commitment())
}

// TestProofEncoding checks that a decoded revelation still verifies.
func TestProofEncoding(t *testing.T) {
	t.Parallel()

	proof, err := Generate(testKey(t, 0x44), testOutPoint(4, 7), 2)
	require.NoError(t, err)

	raw, err := proof.Bytes()
	require.NoError(t, err)

	var decoded Proof
	require.NoError(t, decoded.Decode(bytes.NewReader(raw)))
	require.Equal(t, proof.OutPoint, decoded.OutPoint)
	require.NoError(t, decoded.Verify(proof.Commitment(), 3))
}

// TestTaggedCommitment checks the wire form of a commitment.
func TestTaggedCommitment(t *testing.T) {
	t.Parallel()

	proof, err := Generate(testKey(t, 0x55), testOutPoint(5, 0), 0)
	require.NoError(t, err)

	c := proof.Commitment()
	tagged := TaggedCommitment(c)
	require.Len(t, tagged, 65)
	require.Equal(t, byte('P'), tagged[0])

	parsed, err := ParseTaggedCommitment(tagged)
	require.NoError(t, err)
	require.Equal(t, c, parsed)

	_, err = ParseTaggedCommitment("Q" + tagged[1:])
	require.Error(t, err)
}
