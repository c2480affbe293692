// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/internal/cfgutil"
	"github.com/btcsuite/btcjoin/netparams"
	"github.com/btcsuite/btcjoin/offer"
	"github.com/btcsuite/btcjoin/pkg/unit"
	"github.com/btcsuite/btcjoin/taker"
	"github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "jmtaker.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "jmtaker.log"
	defaultDaemonURL      = "ws://127.0.0.1:27183/taker"
	defaultMakers         = 4
	defaultAttempts       = 3
	defaultDBType         = "bolt"

	commitmentsDBName = "commitments.db"
)

var (
	appHomeDir        = btcutil.AppDataDir("jmtaker", false)
	defaultConfigFile = filepath.Join(appHomeDir, defaultConfigFilename)
	defaultDataDir    = appHomeDir
	defaultLogDir     = filepath.Join(appHomeDir, defaultLogDirname)
)

type config struct {
	// General application behavior
	ConfigFile *cfgutil.ExplicitString `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string                  `short:"b" long:"datadir" description:"Directory to store commitment data and debug reports"`
	LogDir     string                  `long:"logdir" description:"Directory to log output"`
	DebugLevel string                  `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	TestNet3   bool                    `long:"testnet" description:"Use the test Bitcoin network (version 3)"`
	TestNet4   bool                    `long:"testnet4" description:"Use the test Bitcoin network (version 4)"`
	RegTest    bool                    `long:"regtest" description:"Use the regression test network"`
	SigNet     bool                    `long:"signet" description:"Use the default signet network"`

	// Bitcoin node options
	RPCConnect  string              `short:"c" long:"rpcconnect" description:"Hostname/IP and port of the bitcoind RPC server"`
	RPCUser     string              `short:"u" long:"rpcuser" description:"bitcoind RPC username"`
	RPCPass     string              `short:"P" long:"rpcpass" default-mask:"-" description:"bitcoind RPC password, prompted for when empty"`
	RPCTLS      bool                `long:"rpctls" description:"Connect to the RPC server using TLS"`
	RPCCert     string              `long:"rpccert" description:"Certificate of the RPC server when --rpctls is set"`
	WalletName  string              `long:"wallet" description:"Name of the bitcoind wallet to spend from"`
	FallbackFee *cfgutil.AmountFlag `long:"fallbackfee" description:"Fee rate per 1000 vbytes used when the node has no estimate"`

	// Messaging daemon
	DaemonURL string `long:"daemon" description:"Websocket URL of the messaging daemon"`

	// Coinjoin request
	Amount      *cfgutil.AmountFlag `short:"a" long:"amount" description:"Coinjoin amount in BTC, or with a sat suffix; zero sweeps the mixdepth"`
	MixDepth    uint32              `short:"m" long:"mixdepth" description:"Wallet account to spend from"`
	Makers      int                 `short:"N" long:"makers" description:"Number of counterparties"`
	Destination string              `long:"destaddr" description:"Address receiving the coinjoin output"`
	Chooser     string              `long:"chooser" description:"Order choice {weighted, cheapest, random, randomundermax}"`
	MaxCJFee    *cfgutil.AmountFlag `long:"maxcjfee" description:"Largest total coinjoin fee to pay, zero for no limit"`
	Attempts    int                 `long:"attempts" description:"Number of attempts before giving up"`

	// Taker policy
	TxFee           *cfgutil.AmountFlag `long:"txfee" description:"Assumed network fee per counterparty for coin selection"`
	MinMakers       int                 `long:"minmakers" description:"Fewest counterparties to proceed with"`
	UTXORetries     int                 `long:"utxoretries" description:"Commitments allowed per coin"`
	UTXOAge         int64               `long:"utxoage" description:"Confirmations required of a commitment coin"`
	UTXOAmtPercent  int64               `long:"utxoamtpercent" description:"Smallest commitment coin as a percentage of the amount"`
	DustThreshold   *cfgutil.AmountFlag `long:"dust" description:"Smallest change output"`
	ConfTarget      uint32              `long:"conftarget" description:"Confirmation target of the fee estimate"`
	WaitCommitments bool                `long:"waitcommitments" description:"Wait for coins to mature instead of giving up when no commitment is available"`
	CommitmentWait  time.Duration       `long:"commitmentwait" description:"Pause between commitment attempts with --waitcommitments"`
	SignMethod      string              `long:"signmethod" description:"How own inputs are signed {direct, wallet}"`
	Donate          bool                `long:"donate" description:"Send the coinjoin output to the donation key when no destination is set"`
	DonationPubKey  string              `long:"donationpubkey" description:"Hex encoded donation public key"`
	ResponseTimeout time.Duration       `long:"responsetimeout" description:"Time counterparties have to sign"`

	// Commitment store
	DBType  string   `long:"dbtype" description:"Commitment store backend {bolt, sqlite, postgres}"`
	DBDSN   string   `long:"dbdsn" description:"Connection string of the postgres commitment store"`
	AddUTXO []string `long:"addutxo" description:"Register an external commitment coin given as <txid>:<index>,<wif> and exit"`

	params *netparams.Params
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(appHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	return filepath.Clean(os.ExpandEnv(path))
}

// defaultConfig returns the configuration before any file or flag is read.
func defaultConfig() config {
	return config{
		ConfigFile:      cfgutil.NewExplicitString(defaultConfigFile),
		DataDir:         defaultDataDir,
		LogDir:          defaultLogDir,
		DebugLevel:      defaultLogLevel,
		RPCConnect:      "localhost",
		FallbackFee:     cfgutil.NewAmountFlag(0),
		DaemonURL:       defaultDaemonURL,
		Amount:          cfgutil.NewAmountFlag(0),
		Makers:          defaultMakers,
		Chooser:         "weighted",
		MaxCJFee:        cfgutil.NewAmountFlag(0),
		Attempts:        defaultAttempts,
		TxFee:           cfgutil.NewAmountFlag(taker.DefaultTxFee),
		MinMakers:       taker.DefaultMinimumMakers,
		UTXORetries:     taker.DefaultUTXORetries,
		UTXOAge:         taker.DefaultUTXOAge,
		UTXOAmtPercent:  taker.DefaultUTXOAmtPercent,
		DustThreshold:   cfgutil.NewAmountFlag(taker.DefaultDustThreshold),
		ConfTarget:      taker.DefaultFeeConfTarget,
		CommitmentWait:  taker.DefaultCommitmentWait,
		SignMethod:      taker.SignDirect.String(),
		DonationPubKey:  taker.DefaultDonationPubKey,
		ResponseTimeout: taker.DefaultResponseTimeout,
		DBType:          defaultDBType,
	}
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func loadConfig(args []string) (*config, error) {
	cfg := defaultConfig()

	preCfg := cfg
	preCfg.ConfigFile = cfgutil.NewExplicitString(defaultConfigFile)
	preParser := flags.NewParser(&preCfg, flags.Default)
	if _, err := preParser.ParseArgs(args); err != nil {
		return nil, err
	}

	parser := flags.NewParser(&cfg, flags.Default)
	configFile := cleanAndExpandPath(preCfg.ConfigFile.Value)
	exists, err := cfgutil.FileExists(configFile)
	if err != nil {
		return nil, err
	}
	switch {
	case exists:
		err := flags.NewIniParser(parser).ParseFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("config file %s: %w", configFile,
				err)
		}

	case preCfg.ConfigFile.ExplicitlySet():
		return nil, fmt.Errorf("config file %s does not exist",
			configFile)
	}

	// Command line options take precedence over the file.
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate checks option combinations and fills in the derived fields.
func (c *config) validate() error {
	numNets := 0
	c.params = &netparams.MainNetParams
	for _, net := range []struct {
		set    bool
		params *netparams.Params
	}{
		{c.TestNet3, &netparams.TestNet3Params},
		{c.TestNet4, &netparams.TestNet4Params},
		{c.RegTest, &netparams.RegressionNetParams},
		{c.SigNet, &netparams.SigNetParams},
	} {
		if net.set {
			numNets++
			c.params = net.params
		}
	}
	if numNets > 1 {
		return errors.New("the testnet, testnet4, regtest and signet " +
			"params can't be used together -- choose one")
	}

	c.DataDir = filepath.Join(cleanAndExpandPath(c.DataDir), c.params.Name)
	c.LogDir = filepath.Join(cleanAndExpandPath(c.LogDir), c.params.Name)

	if err := parseAndSetDebugLevels(c.DebugLevel); err != nil {
		return err
	}

	rpcConnect, err := cfgutil.NormalizeAddress(
		c.RPCConnect, c.params.RPCPort,
	)
	if err != nil {
		return fmt.Errorf("invalid rpcconnect address %q: %w",
			c.RPCConnect, err)
	}
	c.RPCConnect = rpcConnect

	switch {
	case c.RPCUser == "":
		return errors.New("rpcuser is required")

	case c.RPCTLS && c.RPCCert == "":
		return errors.New("rpccert is required with rpctls")

	case c.Amount.Amount < 0:
		return errors.New("amount must not be negative")

	case c.Makers < 1:
		return errors.New("at least one counterparty is required")

	case c.Attempts < 1:
		return errors.New("at least one attempt is required")
	}

	if _, err := offer.ChooserByName(c.Chooser, c.MaxCJFee.Amount); err != nil {
		return err
	}
	if _, err := taker.ParseSignMethod(c.SignMethod); err != nil {
		return err
	}
	if _, err := c.destination(); err != nil {
		return err
	}

	switch c.DBType {
	case "bolt", "sqlite":
	case "postgres":
		if c.DBDSN == "" {
			return errors.New("dbdsn is required for the postgres " +
				"store")
		}
	default:
		return fmt.Errorf("unknown dbtype %q", c.DBType)
	}

	for _, arg := range c.AddUTXO {
		if _, _, err := parseExternalCoin(arg, c.params); err != nil {
			return err
		}
	}

	_, err = c.takerConfig()

	return err
}

// destination decodes the requested destination address, if any.
func (c *config) destination() (btcutil.Address, error) {
	if c.Destination == "" {
		return nil, nil
	}

	addr, err := btcutil.DecodeAddress(c.Destination, c.params.Params)
	if err != nil {
		return nil, fmt.Errorf("invalid destination address: %w", err)
	}
	if !addr.IsForNet(c.params.Params) {
		return nil, fmt.Errorf("destination address %s is not for %s",
			c.Destination, c.params.Name)
	}

	return addr, nil
}

// takerConfig builds the taker policy from the options.
func (c *config) takerConfig() (*taker.Config, error) {
	signMethod, err := taker.ParseSignMethod(c.SignMethod)
	if err != nil {
		return nil, err
	}

	cfg := taker.DefaultConfig(c.params.Params)
	cfg.TxFeeDefault = c.TxFee.Amount
	cfg.MinimumMakers = c.MinMakers
	cfg.UTXORetries = c.UTXORetries
	cfg.UTXOAge = c.UTXOAge
	cfg.UTXOAmtPercent = c.UTXOAmtPercent
	cfg.DustThreshold = c.DustThreshold.Amount
	cfg.FeeConfTarget = c.ConfTarget
	cfg.FallbackFeeRate = unit.SatPerKVByteFromAmount(c.FallbackFee.Amount)
	cfg.WaitForCommitments = c.WaitCommitments
	cfg.CommitmentWait = c.CommitmentWait
	cfg.SignMethod = signMethod
	cfg.Donate = c.Donate
	cfg.DonationPubKey = c.DonationPubKey
	cfg.DebugReportPath = filepath.Join(
		c.DataDir, taker.DefaultDebugReportPath,
	)
	cfg.ResponseTimeout = c.ResponseTimeout

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseExternalCoin parses an --addutxo value of the form
// <txid>:<index>,<wif>.
func parseExternalCoin(arg string,
	params *netparams.Params) (wire.OutPoint, *btcec.PrivateKey, error) {

	opStr, wifStr, ok := strings.Cut(arg, ",")
	if !ok {
		return wire.OutPoint{}, nil, fmt.Errorf("addutxo %q: expected "+
			"<txid>:<index>,<wif>", arg)
	}

	op, err := wire.NewOutPointFromString(strings.TrimSpace(opStr))
	if err != nil {
		return wire.OutPoint{}, nil, fmt.Errorf("addutxo %q: %w", arg,
			err)
	}

	wif, err := btcutil.DecodeWIF(strings.TrimSpace(wifStr))
	if err != nil {
		return wire.OutPoint{}, nil, fmt.Errorf("addutxo %q: %w", arg,
			err)
	}
	if !wif.IsForNet(params.Params) {
		return wire.OutPoint{}, nil, fmt.Errorf("addutxo %q: key is "+
			"not for %s", arg, params.Name)
	}

	return *op, wif.PrivKey, nil
}
