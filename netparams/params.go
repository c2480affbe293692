// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package netparams pairs each supported network with the default RPC port
// of its bitcoind node.
package netparams

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	*chaincfg.Params

	// RPCPort is the default JSON-RPC port of bitcoind on the network.
	RPCPort string
}

// MainNetParams contains parameters specific to the main network.
var MainNetParams = Params{
	Params:  &chaincfg.MainNetParams,
	RPCPort: "8332",
}

// TestNet3Params contains parameters specific to the test network (version
// 3).
var TestNet3Params = Params{
	Params:  &chaincfg.TestNet3Params,
	RPCPort: "18332",
}

// TestNet4Params contains parameters specific to the test network (version
// 4).
var TestNet4Params = Params{
	Params:  &TestNet4ChainParams,
	RPCPort: "48332",
}

// RegressionNetParams contains parameters specific to the regression test
// network.
var RegressionNetParams = Params{
	Params:  &chaincfg.RegressionNetParams,
	RPCPort: "18443",
}

// SigNetParams contains parameters specific to the default signet.
var SigNetParams = Params{
	Params:  &chaincfg.SigNetParams,
	RPCPort: "38332",
}

// ByName returns the network with the given chaincfg name.
func ByName(name string) (*Params, error) {
	for _, p := range []*Params{
		&MainNetParams, &TestNet3Params, &TestNet4Params,
		&RegressionNetParams, &SigNetParams,
	} {
		if p.Name == name {
			return p, nil
		}
	}

	return nil, fmt.Errorf("unknown network %q", name)
}
