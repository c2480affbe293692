// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// jmtaker runs the taker side of a coinjoin. It reads offers from and relays
// protocol messages through a messaging daemon reached over a websocket,
// spends from a bitcoind wallet, and queries bitcoind for chain data.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/chain"
	"github.com/btcsuite/btcjoin/offer"
	"github.com/btcsuite/btcjoin/podle"
	"github.com/btcsuite/btcjoin/taker"
	"github.com/btcsuite/btcjoin/wallet"
	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/term"
)

func main() {
	if err := jmtakerMain(); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			return
		}

		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// jmtakerMain is the real main function. It is necessary to work around the
// fact that deferred functions do not run when os.Exit() is called.
func jmtakerMain() error {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
	if err := initLogRotator(logFile); err != nil {
		return err
	}
	defer logRotator.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addInterruptHandler(cancel)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Errorf("Unable to close commitment store: %v", err)
		}
	}()

	conn, err := rpcConnConfig(cfg)
	if err != nil {
		return err
	}

	chainClient, err := chain.NewRPCClient(&chain.RPCClientConfig{
		Conn:            conn,
		Chain:           cfg.params.Params,
		FallbackFeeRate: cfg.FallbackFee.Amount,
	})
	if err != nil {
		return err
	}
	defer chainClient.Stop()

	if len(cfg.AddUTXO) > 0 {
		return addExternalCoins(ctx, cfg, chainClient, store)
	}

	walletConn := *conn
	if cfg.WalletName != "" {
		walletConn.Host += "/wallet/" + cfg.WalletName
	}
	w, err := wallet.NewRPCWallet(&wallet.RPCWalletConfig{
		Conn:  &walletConn,
		Chain: cfg.params.Params,
	})
	if err != nil {
		return err
	}
	defer w.Stop()

	daemon, err := dialDaemon(cfg.DaemonURL, cfg.params.Params)
	if err != nil {
		return err
	}
	defer daemon.Close()

	tk, err := newTaker(cfg, taker.Dependencies{
		Wallet: w,
		Chain:  chainClient,
		Store:  store,
		Callbacks: &callbacks{
			maxFee: cfg.MaxCJFee.Amount,
			daemon: daemon,
		},
	})
	if err != nil {
		return err
	}

	cj := &coinjoiner{
		taker:    tk,
		daemon:   daemon,
		attempts: cfg.Attempts,
	}

	return cj.run(ctx)
}

// newTaker creates the taker for the configured request.
func newTaker(cfg *config, deps taker.Dependencies) (*taker.Taker, error) {
	takerCfg, err := cfg.takerConfig()
	if err != nil {
		return nil, err
	}

	chooser, err := offer.ChooserByName(cfg.Chooser, cfg.MaxCJFee.Amount)
	if err != nil {
		return nil, err
	}

	req := taker.Request{
		Account:        cfg.MixDepth,
		Amount:         cfg.Amount.Amount,
		Counterparties: cfg.Makers,
		Chooser:        chooser,
	}

	dest, err := cfg.destination()
	if err != nil {
		return nil, err
	}
	if dest != nil {
		req.Destination = fn.Some(dest)
	}

	return taker.New(takerCfg, deps, req)
}

// rpcConnConfig returns the bitcoind connection settings, prompting for the
// password if none was configured.
func rpcConnConfig(cfg *config) (*rpcclient.ConnConfig, error) {
	if cfg.RPCPass == "" {
		pass, err := promptPassword("bitcoind RPC password: ")
		if err != nil {
			return nil, err
		}
		cfg.RPCPass = pass
	}

	conn := &rpcclient.ConnConfig{
		Host:       cfg.RPCConnect,
		User:       cfg.RPCUser,
		Pass:       cfg.RPCPass,
		DisableTLS: !cfg.RPCTLS,
	}
	if cfg.RPCTLS {
		certs, err := os.ReadFile(cleanAndExpandPath(cfg.RPCCert))
		if err != nil {
			return nil, fmt.Errorf("read rpc certificate: %w", err)
		}
		conn.Certificates = certs
	}

	return conn, nil
}

// promptPassword reads a password from the terminal without echoing it.
func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("rpcpass is required when stdin is not " +
			"a terminal")
	}

	fmt.Print(prompt)
	pass, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}

	return string(pass), nil
}

// addExternalCoins registers the --addutxo coins as external commitment
// sources.
func addExternalCoins(ctx context.Context, cfg *config,
	chainClient chain.Interface, store podle.Store) error {

	for _, arg := range cfg.AddUTXO {
		op, priv, err := parseExternalCoin(arg, cfg.params)
		if err != nil {
			return err
		}

		infos, err := chainClient.QueryUTXOSet(
			ctx, []wire.OutPoint{op},
		)
		if err != nil {
			return err
		}
		info := infos[0]
		if info == nil {
			return fmt.Errorf("coin %v is not in the utxo set", op)
		}
		if info.Confirmations < cfg.UTXOAge {
			log.Warnf("Coin %v has %d confirmations, it is usable "+
				"for commitments from %d", op,
				info.Confirmations, cfg.UTXOAge)
		}

		ext, err := podle.NewExternal(priv, op, cfg.UTXORetries)
		if err != nil {
			return err
		}
		if err := store.AddExternal(ext); err != nil {
			return err
		}

		log.Infof("Added external commitment coin %v worth %v", op,
			info.Value)
	}

	return nil
}
