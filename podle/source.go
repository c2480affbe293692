// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package podle

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

// ErrCommitmentsExhausted is returned by Source when every candidate coin has
// already backed a commitment at each allowed index.
var ErrCommitmentsExhausted = errors.New("no unused commitment available")

// Candidate is a coin eligible to back a commitment together with its key.
type Candidate struct {
	OutPoint wire.OutPoint
	PrivKey  *btcec.PrivateKey
}

// Source produces a proof whose commitment has not been used before. Wallet
// candidates are tried first, each at indices 0 through retries-1, lowest
// index first. External commitments are tried after that; an external entry
// whose every precomputed opening is used up is removed from the store. The
// returned commitment is recorded as used before Source returns.
func Source(store Store, candidates []Candidate, externals []*External,
	retries int) (*Proof, error) {

	if retries > 256 {
		retries = 256
	}

	for _, c := range candidates {
		for i := 0; i < retries; i++ {
			proof, err := Generate(c.PrivKey, c.OutPoint, uint8(i))
			if err != nil {
				return nil, err
			}

			ok, err := claim(store, proof)
			if err != nil {
				return nil, err
			}
			if ok {
				log.Debugf("Sourced commitment from %v at "+
					"index %d", c.OutPoint, i)
				return proof, nil
			}
		}
	}

	for _, ext := range externals {
		m := min(len(ext.Reveals), retries)
		for i := 0; i < m; i++ {
			proof := ext.Proof(i)

			ok, err := claim(store, proof)
			if err != nil {
				return nil, err
			}
			if ok {
				log.Debugf("Sourced external commitment from "+
					"%v at index %d", ext.OutPoint, i)
				return proof, nil
			}
		}

		if m == len(ext.Reveals) {
			log.Infof("External commitment %v exhausted, removing",
				ext.OutPoint)
			if err := store.RemoveExternal(ext.OutPoint); err != nil {
				return nil, fmt.Errorf("remove external: %w",
					err)
			}
		}
	}

	return nil, ErrCommitmentsExhausted
}

// claim marks the proof's commitment as used, reporting false if it already
// was.
func claim(store Store, proof *Proof) (bool, error) {
	c := proof.Commitment()

	used, err := store.IsUsed(c)
	if err != nil {
		return false, err
	}
	if used {
		return false, nil
	}

	if err := store.MarkUsed(c); err != nil {
		return false, err
	}

	return true, nil
}
