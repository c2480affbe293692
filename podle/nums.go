// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package podle

import (
	"crypto/sha256"
	"errors"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
)

// ErrNoNUMSPoint is returned if no curve point could be derived for an index.
// For secp256k1 this cannot happen in practice.
var ErrNoNUMSPoint = errors.New("unable to derive NUMS point")

var (
	numsMtx   sync.Mutex
	numsCache = make(map[uint8]*btcec.PublicKey)
)

// GetNUMS returns the nothing-up-my-sleeve generator J_index. The point is
// derived by hashing the serialized base point G, the index and a counter,
// taking the first digest that is a valid x coordinate with even y. Both the
// compressed and uncompressed encodings of G are tried, in that order.
func GetNUMS(index uint8) (*btcec.PublicKey, error) {
	numsMtx.Lock()
	defer numsMtx.Unlock()

	if p, ok := numsCache[index]; ok {
		return p, nil
	}

	var one btcec.ModNScalar
	one.SetInt(1)
	g := scalarBaseMult(&one)

	for _, seed := range [][]byte{
		g.SerializeCompressed(), g.SerializeUncompressed(),
	} {
		for counter := 0; counter < 256; counter++ {
			preimage := make([]byte, 0, len(seed)+2)
			preimage = append(preimage, seed...)
			preimage = append(preimage, index, byte(counter))
			digest := sha256.Sum256(preimage)

			claimed := append([]byte{0x02}, digest[:]...)
			p, err := btcec.ParsePubKey(claimed)
			if err != nil {
				continue
			}

			numsCache[index] = p
			return p, nil
		}
	}

	return nil, ErrNoNUMSPoint
}
