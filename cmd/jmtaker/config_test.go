// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcjoin/netparams"
	"github.com/btcsuite/btcjoin/taker"
	"github.com/stretchr/testify/require"
)

// writeConfigFile writes contents to a config file in a temporary directory
// and returns its path.
func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), defaultConfigFilename)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))

	return path
}

// TestLoadConfig checks options from the config file and the command line
// are merged, with the command line taking precedence.
func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, "rpcuser=alice\nmakers=6\namount=0.1\n")

	cfg, err := loadConfig([]string{
		"-C", path, "--regtest", "--datadir", dir, "--logdir", dir,
		"--amount", "250000sat", "--responsetimeout", "2m",
		"--signmethod", "wallet",
	})
	require.NoError(t, err)

	require.Equal(t, &netparams.RegressionNetParams, cfg.params)
	require.Equal(t, filepath.Join(dir, "regtest"), cfg.DataDir)
	require.Equal(t, "localhost:18443", cfg.RPCConnect)
	require.Equal(t, "alice", cfg.RPCUser)
	require.Equal(t, 6, cfg.Makers)
	require.Equal(t, btcutil.Amount(250_000), cfg.Amount.Amount)

	takerCfg, err := cfg.takerConfig()
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, takerCfg.ResponseTimeout)
	require.Equal(t, taker.SignWallet, takerCfg.SignMethod)
	require.Equal(t, taker.DefaultUTXORetries, takerCfg.UTXORetries)
	require.Equal(
		t, filepath.Join(dir, "regtest", taker.DefaultDebugReportPath),
		takerCfg.DebugReportPath,
	)
}

// TestLoadConfigErrors checks invalid option combinations are rejected.
func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, "rpcuser=alice\n")
	base := []string{"-C", path, "--datadir", dir, "--logdir", dir}

	testCases := []struct {
		name string
		args []string
	}{
		{
			name: "missing config file",
			args: []string{
				"-C", filepath.Join(dir, "missing.conf"),
				"--rpcuser", "alice",
			},
		},
		{
			name: "two networks",
			args: []string{"--regtest", "--testnet4"},
		},
		{
			name: "tls without certificate",
			args: []string{"--rpctls"},
		},
		{
			name: "no counterparties",
			args: []string{"--makers", "0"},
		},
		{
			name: "unknown chooser",
			args: []string{"--chooser", "fastest"},
		},
		{
			name: "unknown sign method",
			args: []string{"--signmethod", "hsm"},
		},
		{
			name: "destination for another network",
			args: []string{
				"--regtest", "--destaddr",
				"1BoatSLRHtKNngkdXEeobR76b53LETtpyT",
			},
		},
		{
			name: "postgres without dsn",
			args: []string{"--dbtype", "postgres"},
		},
		{
			name: "unknown store",
			args: []string{"--dbtype", "leveldb"},
		},
		{
			name: "bad debug level",
			args: []string{"--debuglevel", "loud"},
		},
		{
			name: "malformed external coin",
			args: []string{"--addutxo", "nope"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			args := tc.args
			if tc.name != "missing config file" {
				args = append(append([]string{}, base...), args...)
			}

			_, err := loadConfig(args)
			require.Error(t, err)
		})
	}
}

// TestParseExternalCoin checks --addutxo values.
func TestParseExternalCoin(t *testing.T) {
	t.Parallel()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	regtestWIF, err := btcutil.NewWIF(
		priv, &chaincfg.RegressionNetParams, true,
	)
	require.NoError(t, err)
	mainnetWIF, err := btcutil.NewWIF(priv, &chaincfg.MainNetParams, true)
	require.NoError(t, err)

	txid := "b1c5e2ba0e5cb4a6bb8b8c94fe2f5d1e2f8b7bdb79e0dc58c61fa8c4c48d0b37"

	op, key, err := parseExternalCoin(
		txid+":2, "+regtestWIF.String(), &netparams.RegressionNetParams,
	)
	require.NoError(t, err)
	require.Equal(t, uint32(2), op.Index)
	require.Equal(t, txid, op.Hash.String())
	require.True(t, key.PubKey().IsEqual(priv.PubKey()))

	invalid := []string{
		txid + ":2",
		"nothex:2," + regtestWIF.String(),
		txid + ":2,notawif",
		txid + ":2," + mainnetWIF.String(),
	}
	for _, arg := range invalid {
		_, _, err := parseExternalCoin(
			arg, &netparams.RegressionNetParams,
		)
		require.Error(t, err, arg)
	}
}
