// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/coinset"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wtxmgr"
)

const (
	// DefaultLabelPrefix is prepended to the account number to form the
	// bitcoind address label of an account.
	DefaultLabelPrefix = "jm-account-"

	// defaultAddressType is requested for fresh addresses.
	defaultAddressType = "bech32"
)

// rpcBackend is the subset of rpcclient.Client used by RPCWallet.
type rpcBackend interface {
	RawRequest(method string,
		params []json.RawMessage) (json.RawMessage, error)

	DumpPrivKey(address btcutil.Address) (*btcutil.WIF, error)

	Shutdown()
}

// RPCWalletConfig configures an RPCWallet.
type RPCWalletConfig struct {
	// Conn describes the connection to bitcoind. For multiwallet nodes the
	// host should include the /wallet/<name> path.
	Conn *rpcclient.ConnConfig

	// Chain is the network the wallet operates on.
	Chain *chaincfg.Params

	// LabelPrefix overrides DefaultLabelPrefix.
	LabelPrefix string

	// MaxInputs bounds the number of coins SelectUTXOs may return. Zero
	// means no limit.
	MaxInputs int
}

// RPCWallet implements Interface on top of a bitcoind wallet. Accounts are
// mapped to address labels.
type RPCWallet struct {
	backend     rpcBackend
	chainParams *chaincfg.Params
	labelPrefix string
	maxInputs   int
}

// A compile-time check to ensure that RPCWallet satisfies the Interface.
var _ Interface = (*RPCWallet)(nil)

// NewRPCWallet creates an HTTP POST mode client for the bitcoind wallet.
func NewRPCWallet(cfg *RPCWalletConfig) (*RPCWallet, error) {
	if cfg == nil || cfg.Conn == nil || cfg.Chain == nil {
		return nil, errors.New("wallet rpc config requires conn and " +
			"chain params")
	}

	conn := *cfg.Conn
	conn.HTTPPostMode = true

	client, err := rpcclient.New(&conn, nil)
	if err != nil {
		return nil, err
	}

	return newRPCWallet(client, cfg), nil
}

func newRPCWallet(backend rpcBackend, cfg *RPCWalletConfig) *RPCWallet {
	prefix := cfg.LabelPrefix
	if prefix == "" {
		prefix = DefaultLabelPrefix
	}

	return &RPCWallet{
		backend:     backend,
		chainParams: cfg.Chain,
		labelPrefix: prefix,
		maxInputs:   cfg.MaxInputs,
	}
}

// Stop shuts down the RPC client.
func (w *RPCWallet) Stop() {
	w.backend.Shutdown()
}

func (w *RPCWallet) label(account uint32) string {
	return w.labelPrefix + strconv.FormatUint(uint64(account), 10)
}

// accountOf parses the account from a label. Unlabelled coins and coins with
// foreign labels are treated as belonging to account zero.
func (w *RPCWallet) accountOf(label string) uint32 {
	if !strings.HasPrefix(label, w.labelPrefix) {
		return 0
	}

	n, err := strconv.ParseUint(
		strings.TrimPrefix(label, w.labelPrefix), 10, 32,
	)
	if err != nil {
		return 0
	}

	return uint32(n)
}

func (w *RPCWallet) call(ctx context.Context, method string, result any,
	params ...any) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return err
		}
		raw = append(raw, b)
	}

	resp, err := w.backend.RawRequest(method, raw)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	if result == nil {
		return nil
	}

	return json.Unmarshal(resp, result)
}

// NewAddress implements Interface. Change addresses are labelled too so that
// they are attributed to the right account once funded.
func (w *RPCWallet) NewAddress(ctx context.Context, account uint32,
	change bool) (btcutil.Address, error) {

	var encoded string
	if change {
		err := w.call(
			ctx, "getrawchangeaddress", &encoded,
			defaultAddressType,
		)
		if err != nil {
			return nil, err
		}

		err = w.call(ctx, "setlabel", nil, encoded, w.label(account))
		if err != nil {
			return nil, err
		}
	} else {
		err := w.call(
			ctx, "getnewaddress", &encoded, w.label(account),
			defaultAddressType,
		)
		if err != nil {
			return nil, err
		}
	}

	return btcutil.DecodeAddress(encoded, w.chainParams)
}

// unspentResult is a listunspent entry as returned by bitcoind.
type unspentResult struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Address       string  `json:"address"`
	Label         string  `json:"label"`
	ScriptPubKey  string  `json:"scriptPubKey"`
	Amount        float64 `json:"amount"`
	Confirmations int64   `json:"confirmations"`
	Spendable     bool    `json:"spendable"`
}

// ListUnspent implements Interface.
func (w *RPCWallet) ListUnspent(ctx context.Context) ([]*Coin, error) {
	var results []unspentResult
	if err := w.call(ctx, "listunspent", &results, 0); err != nil {
		return nil, err
	}

	coins := make([]*Coin, 0, len(results))
	for _, r := range results {
		if !r.Spendable {
			continue
		}

		coin, err := w.toCoin(r)
		if err != nil {
			log.Warnf("Skipping unspent output %s:%d: %v", r.TxID,
				r.Vout, err)
			continue
		}
		coins = append(coins, coin)
	}

	return coins, nil
}

func (w *RPCWallet) toCoin(r unspentResult) (*Coin, error) {
	hash, err := chainhash.NewHashFromStr(r.TxID)
	if err != nil {
		return nil, err
	}

	amt, err := btcutil.NewAmount(r.Amount)
	if err != nil {
		return nil, err
	}

	script, err := hex.DecodeString(r.ScriptPubKey)
	if err != nil {
		return nil, err
	}

	addr, err := btcutil.DecodeAddress(r.Address, w.chainParams)
	if err != nil {
		return nil, err
	}

	return &Coin{
		Credit: wtxmgr.Credit{
			OutPoint: wire.OutPoint{Hash: *hash, Index: r.Vout},
			Amount:   amt,
			PkScript: script,
		},
		Address:       addr,
		Account:       w.accountOf(r.Label),
		Confirmations: r.Confirmations,
	}, nil
}

// selectable adapts a Coin to coinset.Coin.
type selectable struct {
	coin *Coin
}

func (s selectable) Hash() *chainhash.Hash {
	return &s.coin.OutPoint.Hash
}

func (s selectable) Index() uint32 {
	return s.coin.OutPoint.Index
}

func (s selectable) Value() btcutil.Amount {
	return s.coin.Amount
}

func (s selectable) PkScript() []byte {
	return s.coin.Credit.PkScript
}

func (s selectable) NumConfs() int64 {
	return s.coin.Confirmations
}

func (s selectable) ValueAge() int64 {
	return int64(s.coin.Amount) * s.coin.Confirmations
}

// SelectUTXOs implements Interface using the fewest coins that cover the
// target.
func (w *RPCWallet) SelectUTXOs(ctx context.Context, account uint32,
	target btcutil.Amount) ([]*Coin, error) {

	all, err := w.ListUnspent(ctx)
	if err != nil {
		return nil, err
	}

	return SelectCoins(all, account, target, w.maxInputs)
}

// SelectCoins picks the fewest coins of the account covering target.
func SelectCoins(all []*Coin, account uint32, target btcutil.Amount,
	maxInputs int) ([]*Coin, error) {

	var (
		candidates []coinset.Coin
		byOutPoint = make(map[wire.OutPoint]*Coin)
		available  btcutil.Amount
	)
	for _, c := range all {
		if c.Account != account {
			continue
		}

		candidates = append(candidates, selectable{coin: c})
		byOutPoint[c.OutPoint] = c
		available += c.Amount
	}

	if maxInputs <= 0 {
		maxInputs = len(candidates)
	}

	selector := coinset.MinNumberCoinSelector{
		MaxInputs:       maxInputs,
		MinChangeAmount: 0,
	}
	chosen, err := selector.CoinSelect(target, candidates)
	if err != nil {
		return nil, fmt.Errorf("%w: need %v in account %d, have %v",
			ErrInsufficientFunds, target, account, available)
	}

	coins := make([]*Coin, 0, len(chosen.Coins()))
	for _, c := range chosen.Coins() {
		op := wire.OutPoint{Hash: *c.Hash(), Index: c.Index()}
		coins = append(coins, byOutPoint[op])
	}

	log.Debugf("Selected %d coins totalling %v for %v from account %d",
		len(coins), TotalValue(coins), target, account)

	return coins, nil
}

// PrivKey implements Interface via dumpprivkey.
func (w *RPCWallet) PrivKey(ctx context.Context,
	addr btcutil.Address) (*btcec.PrivateKey, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wif, err := w.backend.DumpPrivKey(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrUnknownAddress, addr,
			err)
	}

	return wif.PrivKey, nil
}

// processPsbtResult is the walletprocesspsbt response.
type processPsbtResult struct {
	Psbt     string `json:"psbt"`
	Complete bool   `json:"complete"`
}

// SignPsbt implements Interface via walletprocesspsbt. The packet is not
// finalized so that signatures from other parties can still be merged.
func (w *RPCWallet) SignPsbt(ctx context.Context,
	packet *psbt.Packet) (*psbt.Packet, error) {

	encoded, err := packet.B64Encode()
	if err != nil {
		return nil, err
	}

	var res processPsbtResult
	err = w.call(
		ctx, "walletprocesspsbt", &res, encoded, true, "ALL", true,
		false,
	)
	if err != nil {
		return nil, err
	}

	return psbt.NewFromRawBytes(strings.NewReader(res.Psbt), true)
}
