// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package taker

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcjoin/pkg/unit"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultTxFee is the network fee a counterparty is assumed to
	// contribute when budgeting the taker's coins.
	DefaultTxFee btcutil.Amount = 5000

	// DefaultMinimumMakers is the smallest number of counterparties an
	// attempt may continue with.
	DefaultMinimumMakers = 2

	// DefaultUTXORetries is the number of times a coin may back a
	// commitment.
	DefaultUTXORetries = 3

	// DefaultUTXOAge is the number of confirmations a coin needs before
	// it may back a commitment.
	DefaultUTXOAge = 5

	// DefaultUTXOAmtPercent is the minimum value of a commitment coin, as
	// a percentage of the coinjoin amount.
	DefaultUTXOAmtPercent = 20

	// DefaultDustThreshold is the smallest output value the taker accepts
	// as change, for itself or a counterparty.
	DefaultDustThreshold btcutil.Amount = 2730

	// DefaultFeeConfTarget is the confirmation target used when
	// estimating the final network fee.
	DefaultFeeConfTarget = 3

	// DefaultCommitmentWait is the pause between commitment sourcing
	// attempts when WaitForCommitments is set.
	DefaultCommitmentWait = 3 * time.Minute

	// DefaultResponseTimeout bounds how long the watchdog waits for
	// outstanding signatures.
	DefaultResponseTimeout = 60 * time.Second

	// DefaultDebugReportPath is where the commitment diagnostics are
	// written.
	DefaultDebugReportPath = "commitments_debug.txt"

	// DefaultDonationPubKey is the key the non-interactive donation
	// destination is derived from.
	DefaultDonationPubKey = "02be838257fbfddabaea03afbb9f16e8529dfe2de9" +
		"21260a5c46036d97b5eacf2a"
)

// SignMethod selects how the taker signs its own inputs.
type SignMethod uint8

const (
	// SignDirect signs with private keys obtained from the wallet.
	SignDirect SignMethod = iota

	// SignWallet hands a PSBT to the wallet for signing.
	SignWallet
)

// String returns the name of the sign method.
func (m SignMethod) String() string {
	switch m {
	case SignDirect:
		return "direct"
	case SignWallet:
		return "wallet"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ParseSignMethod parses the name of a sign method.
func ParseSignMethod(s string) (SignMethod, error) {
	switch s {
	case "direct", "":
		return SignDirect, nil
	case "wallet":
		return SignWallet, nil
	default:
		return 0, fmt.Errorf("unknown sign method %q", s)
	}
}

// Config holds the policy of a taker. It is constructed once and shared
// read-only by every phase of an attempt.
type Config struct {
	// ChainParams is the network the coinjoin happens on.
	ChainParams *chaincfg.Params

	// TxFeeDefault is the assumed network fee per counterparty used for
	// the up-front coin budget.
	TxFeeDefault btcutil.Amount

	// MinimumMakers is the quorum below which an attempt is abandoned.
	MinimumMakers int

	// UTXORetries is the number of commitment indices tried per coin.
	UTXORetries int

	// UTXOAge is the minimum number of confirmations of a commitment
	// coin.
	UTXOAge int64

	// UTXOAmtPercent is the minimum commitment coin value as a
	// percentage of the coinjoin amount.
	UTXOAmtPercent int64

	// DustThreshold is the smallest acceptable change output.
	DustThreshold btcutil.Amount

	// FeeConfTarget is passed to the fee estimator.
	FeeConfTarget uint32

	// FallbackFeeRate is used when the chain backend cannot produce an
	// estimate. A zero rate disables the fallback.
	FallbackFeeRate unit.SatPerKVByte

	// WaitForCommitments makes the taker retry commitment sourcing every
	// CommitmentWait instead of halting.
	WaitForCommitments bool

	// CommitmentWait is the pause between commitment sourcing attempts.
	CommitmentWait time.Duration

	// SignMethod selects how the taker's own inputs are signed.
	SignMethod SignMethod

	// Donate sends the coinjoin output to a key derived from
	// DonationPubKey when no destination is requested.
	Donate bool

	// DonationPubKey is the hex encoded compressed donation key.
	DonationPubKey string

	// DebugReportPath is the file commitment diagnostics are written to.
	DebugReportPath string

	// ResponseTimeout is how long the watchdog waits for signatures.
	ResponseTimeout time.Duration

	// WatchdogTicker overrides the ticker driving the watchdog. When nil
	// a ticker firing every ResponseTimeout is used.
	WatchdogTicker ticker.Ticker
}

// DefaultConfig returns a configuration with the stock policy for the given
// network.
func DefaultConfig(params *chaincfg.Params) *Config {
	return &Config{
		ChainParams:     params,
		TxFeeDefault:    DefaultTxFee,
		MinimumMakers:   DefaultMinimumMakers,
		UTXORetries:     DefaultUTXORetries,
		UTXOAge:         DefaultUTXOAge,
		UTXOAmtPercent:  DefaultUTXOAmtPercent,
		DustThreshold:   DefaultDustThreshold,
		FeeConfTarget:   DefaultFeeConfTarget,
		CommitmentWait:  DefaultCommitmentWait,
		SignMethod:      SignDirect,
		DonationPubKey:  DefaultDonationPubKey,
		DebugReportPath: DefaultDebugReportPath,
		ResponseTimeout: DefaultResponseTimeout,
	}
}

// Validate checks the configuration for values no attempt could run with.
func (c *Config) Validate() error {
	switch {
	case c.ChainParams == nil:
		return errors.New("chain params must be set")

	case c.MinimumMakers < 1:
		return fmt.Errorf("minimum makers must be positive, got %d",
			c.MinimumMakers)

	case c.UTXORetries < 1 || c.UTXORetries > 256:
		return fmt.Errorf("utxo retries must be within 1..256, got %d",
			c.UTXORetries)

	case c.UTXOAmtPercent < 0 || c.UTXOAmtPercent > 100:
		return fmt.Errorf("utxo amount percent must be within "+
			"0..100, got %d", c.UTXOAmtPercent)

	case c.TxFeeDefault < 0 || c.DustThreshold < 0:
		return errors.New("fee default and dust threshold must not " +
			"be negative")

	case c.WaitForCommitments && c.CommitmentWait <= 0:
		return errors.New("commitment wait interval must be positive")

	case c.ResponseTimeout <= 0 && c.WatchdogTicker == nil:
		return errors.New("response timeout must be positive")
	}

	if c.Donate {
		if c.SignMethod != SignDirect {
			return errors.New("donations require the direct sign " +
				"method")
		}
		if _, err := c.donationKey(); err != nil {
			return err
		}
	}

	return nil
}

// donationKey parses DonationPubKey.
func (c *Config) donationKey() (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(c.DonationPubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid donation pubkey: %w", err)
	}
	key, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("invalid donation pubkey: %w", err)
	}

	return key, nil
}
