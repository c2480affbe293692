// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/pkg/unit"
	"golang.org/x/sync/errgroup"
)

// maxParallelQueries bounds the number of gettxout calls in flight.
const maxParallelQueries = 8

// rpcBackend is the subset of rpcclient.Client used by RPCClient.
type rpcBackend interface {
	GetTxOut(txHash *chainhash.Hash, index uint32,
		mempool bool) (*btcjson.GetTxOutResult, error)

	EstimateSmartFee(confTarget int64,
		mode *btcjson.EstimateSmartFeeMode) (
		*btcjson.EstimateSmartFeeResult, error)

	SendRawTransaction(tx *wire.MsgTx,
		allowHighFees bool) (*chainhash.Hash, error)

	Shutdown()
}

// RPCClient is an Interface backed by a bitcoind or btcd JSON-RPC server.
type RPCClient struct {
	backend     rpcBackend
	chainParams *chaincfg.Params
	fallbackFee unit.SatPerKVByte
}

// A compile-time check to ensure that RPCClient satisfies the chain.Interface
// interface.
var _ Interface = (*RPCClient)(nil)

// RPCClientConfig defines the config options used when initializing the RPC
// Client.
type RPCClientConfig struct {
	// Conn describes the connection configuration parameters for the
	// client.
	Conn *rpcclient.ConnConfig

	// Chain defines a Bitcoin network by its parameters.
	Chain *chaincfg.Params

	// FallbackFeeRate is used when the backend has no fee estimate, as
	// happens on fresh regtest chains. Zero disables the fallback.
	FallbackFeeRate btcutil.Amount
}

// validate checks the required config options are set.
func (r *RPCClientConfig) validate() error {
	if r == nil {
		return errors.New("missing rpc config")
	}

	// Make sure the chain params are configed.
	if r.Chain == nil {
		return errors.New("missing chain params config")
	}

	// Make sure connection config is supplied.
	if r.Conn == nil {
		return errors.New("missing conn config")
	}

	if r.FallbackFeeRate < 0 {
		return errors.New("fallback fee rate must not be negative")
	}

	return nil
}

// NewRPCClient creates an HTTP POST mode client for the server described by
// cfg.Conn.
func NewRPCClient(cfg *RPCClientConfig) (*RPCClient, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	conn := *cfg.Conn
	conn.HTTPPostMode = true

	client, err := rpcclient.New(&conn, nil)
	if err != nil {
		return nil, err
	}

	return newRPCClient(client, cfg), nil
}

func newRPCClient(backend rpcBackend, cfg *RPCClientConfig) *RPCClient {
	return &RPCClient{
		backend:     backend,
		chainParams: cfg.Chain,
		fallbackFee: unit.SatPerKVByteFromAmount(cfg.FallbackFeeRate),
	}
}

// Stop shuts down the underlying RPC client.
func (c *RPCClient) Stop() {
	c.backend.Shutdown()
}

// QueryUTXOSet looks up each outpoint with gettxout, excluding the mempool,
// so that unconfirmed outputs are reported as nil alongside spent ones.
func (c *RPCClient) QueryUTXOSet(ctx context.Context,
	ops []wire.OutPoint) ([]*UTXOInfo, error) {

	results := make([]*UTXOInfo, len(ops))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelQueries)
	for i := range ops {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			info, err := c.queryOutPoint(ops[i])
			if err != nil {
				return fmt.Errorf("gettxout %v: %w", ops[i], err)
			}
			results[i] = info

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (c *RPCClient) queryOutPoint(op wire.OutPoint) (*UTXOInfo, error) {
	res, err := c.backend.GetTxOut(&op.Hash, op.Index, false)
	if err != nil {
		return nil, err
	}

	// A nil result means the output is spent or never existed.
	if res == nil {
		return nil, nil
	}

	value, err := btcutil.NewAmount(res.Value)
	if err != nil {
		return nil, err
	}

	script, err := hex.DecodeString(res.ScriptPubKey.Hex)
	if err != nil {
		return nil, err
	}

	info := &UTXOInfo{
		OutPoint:      op,
		Value:         value,
		PkScript:      script,
		Confirmations: res.Confirmations,
	}

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(
		script, c.chainParams,
	)
	if err == nil && len(addrs) == 1 {
		info.Address = addrs[0]
	}

	return info, nil
}

// PushTx broadcasts tx with sendrawtransaction.
func (c *RPCClient) PushTx(ctx context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	txid, err := c.backend.SendRawTransaction(tx, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBroadcast, err)
	}

	log.Infof("Broadcast transaction %v", txid)

	return txid, nil
}

// EstimateFeeRate queries estimatesmartfee in conservative mode, using the
// configured fallback rate when the backend has no estimate.
func (c *RPCClient) EstimateFeeRate(ctx context.Context,
	confTarget uint32) (unit.SatPerKVByte, error) {

	if err := ctx.Err(); err != nil {
		return unit.SatPerKVByte{}, err
	}

	mode := btcjson.EstimateModeConservative
	res, err := c.backend.EstimateSmartFee(int64(confTarget), &mode)
	switch {
	case err != nil:
		log.Warnf("estimatesmartfee failed: %v", err)

	case res == nil || res.FeeRate == nil || *res.FeeRate <= 0:
		log.Warnf("estimatesmartfee returned no rate for target %d",
			confTarget)

	default:
		perKVB, err := btcutil.NewAmount(*res.FeeRate)
		if err != nil {
			return unit.SatPerKVByte{}, err
		}

		return unit.SatPerKVByteFromAmount(perKVB), nil
	}

	if c.fallbackFee.Amount() == 0 {
		return unit.SatPerKVByte{}, ErrNoFeeEstimate
	}

	log.Infof("Using fallback fee rate %v", c.fallbackFee)

	return c.fallbackFee, nil
}
