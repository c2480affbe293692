// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/offer"
	"github.com/btcsuite/btcjoin/pkg/unit"
	"github.com/btcsuite/btcjoin/taker"
	"github.com/btcsuite/websocket"
)

// Message types exchanged with the messaging daemon.
const (
	msgOrderbookRequest = "orderbook_request"
	msgOrderbook        = "orderbook"
	msgFill             = "fill"
	msgFillResponse     = "fill_response"
	msgTx               = "tx"
	msgSig              = "sig"
	msgFinished         = "finished"
)

// errDaemonClosed is returned once the daemon connection has gone away.
var errDaemonClosed = errors.New("daemon connection closed")

// envelope frames every message on the daemon connection.
type envelope struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

// offerMsg is an offer as relayed from the orderbook.
type offerMsg struct {
	Counterparty string `json:"counterparty"`
	OrderID      uint32 `json:"oid"`
	OrderType    string `json:"ordertype"`
	CJFee        string `json:"cjfee"`
	TxFee        int64  `json:"txfee"`
	MinSize      int64  `json:"minsize"`
	MaxSize      int64  `json:"maxsize"`
}

// fillMsg asks the daemon to fill the chosen orders. The daemon discloses
// Revelation only to counterparties that accepted the commitment.
type fillMsg struct {
	Attempt    string            `json:"attempt"`
	Amount     int64             `json:"amount"`
	Orders     map[string]uint32 `json:"orders"`
	Commitment string            `json:"commitment"`
	Revelation string            `json:"revelation"`
}

// utxoMsg is a counterparty's answer to a fill.
type utxoMsg struct {
	UTXOs         []string `json:"utxos"`
	AuthPubKey    string   `json:"authpub"`
	CoinjoinAddr  string   `json:"cjaddr"`
	ChangeAddr    string   `json:"changeaddr"`
	AuthSig       string   `json:"authsig"`
	SessionPubKey string   `json:"sessionpub"`
}

// txMsg carries the unsigned coinjoin to the accepted counterparties.
type txMsg struct {
	Tx             string   `json:"tx"`
	Counterparties []string `json:"counterparties"`
}

// sigMsg is one input signature relayed from a counterparty.
type sigMsg struct {
	Counterparty string   `json:"counterparty"`
	SigScript    string   `json:"sigscript"`
	Witness      []string `json:"witness"`
}

// finishedMsg reports the outcome of an attempt to the daemon.
type finishedMsg struct {
	Success bool   `json:"success"`
	TxID    string `json:"txid,omitempty"`
}

// parseOffer converts a relayed offer.
func parseOffer(m *offerMsg) (offer.Offer, error) {
	model, err := offer.ParseFeeModel(m.OrderType)
	if err != nil {
		return offer.Offer{}, err
	}

	o := offer.Offer{
		Counterparty: m.Counterparty,
		OrderID:      m.OrderID,
		Model:        model,
		TxFee:        btcutil.Amount(m.TxFee),
		MinSize:      btcutil.Amount(m.MinSize),
		MaxSize:      btcutil.Amount(m.MaxSize),
	}

	switch model {
	case offer.Relative:
		o.RelFee, err = unit.ParseProportion(m.CJFee)
	default:
		var fee int64
		fee, err = strconv.ParseInt(m.CJFee, 10, 64)
		o.AbsFee = btcutil.Amount(fee)
	}
	if err != nil {
		return offer.Offer{}, fmt.Errorf("offer %s/%d: invalid cjfee "+
			"%q: %w", m.Counterparty, m.OrderID, m.CJFee, err)
	}

	if err := o.Validate(); err != nil {
		return offer.Offer{}, err
	}

	return o, nil
}

// encodeFill converts a fill for the daemon.
func encodeFill(f *taker.Fill) (*fillMsg, error) {
	revelation, err := f.Revelation.Bytes()
	if err != nil {
		return nil, err
	}

	orders := make(map[string]uint32, len(f.Orders))
	for cp, o := range f.Orders {
		orders[cp] = o.OrderID
	}

	return &fillMsg{
		Attempt:    f.AttemptID.String(),
		Amount:     int64(f.Amount),
		Orders:     orders,
		Commitment: f.Commitment,
		Revelation: hex.EncodeToString(revelation),
	}, nil
}

// parseUTXOData converts a counterparty's answer to a fill.
func parseUTXOData(m *utxoMsg,
	params *chaincfg.Params) (*taker.CounterpartyUTXOData, error) {

	data := &taker.CounterpartyUTXOData{
		UTXOs: make([]wire.OutPoint, 0, len(m.UTXOs)),
	}
	for _, s := range m.UTXOs {
		op, err := wire.NewOutPointFromString(s)
		if err != nil {
			return nil, fmt.Errorf("utxo %q: %w", s, err)
		}
		data.UTXOs = append(data.UTXOs, *op)
	}

	pub, err := hex.DecodeString(m.AuthPubKey)
	if err != nil {
		return nil, fmt.Errorf("auth pubkey: %w", err)
	}
	if data.AuthPubKey, err = btcec.ParsePubKey(pub); err != nil {
		return nil, fmt.Errorf("auth pubkey: %w", err)
	}

	data.CoinjoinAddr, err = decodeAddress(m.CoinjoinAddr, params)
	if err != nil {
		return nil, fmt.Errorf("coinjoin address: %w", err)
	}
	data.ChangeAddr, err = decodeAddress(m.ChangeAddr, params)
	if err != nil {
		return nil, fmt.Errorf("change address: %w", err)
	}

	data.AuthSig, err = hex.DecodeString(m.AuthSig)
	if err != nil {
		return nil, fmt.Errorf("auth signature: %w", err)
	}
	data.SessionPubKey, err = hex.DecodeString(m.SessionPubKey)
	if err != nil {
		return nil, fmt.Errorf("session pubkey: %w", err)
	}

	return data, nil
}

func decodeAddress(s string, params *chaincfg.Params) (btcutil.Address,
	error) {

	addr, err := btcutil.DecodeAddress(s, params)
	if err != nil {
		return nil, err
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("%s is not for %s", s, params.Name)
	}

	return addr, nil
}

// encodeTx converts the assembled coinjoin for the daemon.
func encodeTx(asm *taker.Assembled) (*txMsg, error) {
	var buf bytes.Buffer
	if err := asm.Tx.Serialize(&buf); err != nil {
		return nil, err
	}

	return &txMsg{
		Tx:             hex.EncodeToString(buf.Bytes()),
		Counterparties: asm.Counterparties,
	}, nil
}

// parseSig converts a relayed input signature.
func parseSig(m *sigMsg) (*taker.InputSignature, error) {
	sigScript, err := hex.DecodeString(m.SigScript)
	if err != nil {
		return nil, fmt.Errorf("signature script: %w", err)
	}

	var witness wire.TxWitness
	for _, item := range m.Witness {
		b, err := hex.DecodeString(item)
		if err != nil {
			return nil, fmt.Errorf("witness: %w", err)
		}
		witness = append(witness, b)
	}

	return &taker.InputSignature{
		SigScript: sigScript,
		Witness:   witness,
	}, nil
}

// bridge is the websocket connection to the messaging daemon. Messages are
// read by a single goroutine and delivered on incoming. Writes must come
// from one goroutine at a time.
type bridge struct {
	conn   *websocket.Conn
	params *chaincfg.Params

	incoming chan envelope
	readErr  error

	quit      chan struct{}
	closeOnce sync.Once
}

// dialDaemon connects to the daemon at url.
func dialDaemon(url string, params *chaincfg.Params) (*bridge, error) {
	var dialer websocket.Dialer
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", url, err)
	}
	log.Infof("Connected to messaging daemon at %s", url)

	b := &bridge{
		conn:     conn,
		params:   params,
		incoming: make(chan envelope),
		quit:     make(chan struct{}),
	}
	go b.readLoop()

	return b, nil
}

func (b *bridge) readLoop() {
	defer close(b.incoming)

	for {
		var env envelope
		if err := b.conn.ReadJSON(&env); err != nil {
			b.readErr = err
			return
		}
		log.Tracef("Received %s message", env.Type)

		select {
		case b.incoming <- env:
		case <-b.quit:
			return
		}
	}
}

// Close shuts the connection down.
func (b *bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.quit)
		err = b.conn.Close()
	})

	return err
}

// closedErr describes why incoming was closed. It may only be called after
// incoming has been closed.
func (b *bridge) closedErr() error {
	if b.readErr != nil {
		return fmt.Errorf("%w: %v", errDaemonClosed, b.readErr)
	}

	return errDaemonClosed
}

// send writes a message of the given type.
func (b *bridge) send(typ string, body any) error {
	env := envelope{Type: typ}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		env.Body = raw
	}

	return b.conn.WriteJSON(&env)
}

// next returns the next message from the daemon.
func (b *bridge) next(ctx context.Context) (envelope, error) {
	select {
	case env, ok := <-b.incoming:
		if !ok {
			return envelope{}, b.closedErr()
		}
		return env, nil

	case <-ctx.Done():
		return envelope{}, ctx.Err()
	}
}

// await skips messages until one of type typ arrives and decodes its body
// into v.
func (b *bridge) await(ctx context.Context, typ string, v any) error {
	for {
		env, err := b.next(ctx)
		if err != nil {
			return err
		}
		if env.Type != typ {
			log.Debugf("Ignoring %s message while waiting for %s",
				env.Type, typ)
			continue
		}

		return json.Unmarshal(env.Body, v)
	}
}

// orderbook requests and parses the current offers. Malformed offers are
// skipped.
func (b *bridge) orderbook(ctx context.Context) ([]offer.Offer, error) {
	if err := b.send(msgOrderbookRequest, nil); err != nil {
		return nil, err
	}

	var msgs []*offerMsg
	if err := b.await(ctx, msgOrderbook, &msgs); err != nil {
		return nil, err
	}

	book := make([]offer.Offer, 0, len(msgs))
	for _, m := range msgs {
		o, err := parseOffer(m)
		if err != nil {
			log.Debugf("Skipping offer: %v", err)
			continue
		}
		book = append(book, o)
	}
	log.Infof("Received %d offers", len(book))

	return book, nil
}

// fill sends the fill and returns the parsed answers of the chosen
// counterparties. Counterparties whose answer cannot be parsed map to nil.
func (b *bridge) fill(ctx context.Context,
	f *taker.Fill) (map[string]*taker.CounterpartyUTXOData, error) {

	msg, err := encodeFill(f)
	if err != nil {
		return nil, err
	}
	if err := b.send(msgFill, msg); err != nil {
		return nil, err
	}

	var answers map[string]*utxoMsg
	if err := b.await(ctx, msgFillResponse, &answers); err != nil {
		return nil, err
	}

	data := make(map[string]*taker.CounterpartyUTXOData, len(answers))
	for cp, m := range answers {
		if _, ok := f.Orders[cp]; !ok {
			log.Debugf("Ignoring fill answer of unsolicited %s", cp)
			continue
		}

		d, err := parseUTXOData(m, b.params)
		if err != nil {
			log.Warnf("Malformed fill answer from %s: %v", cp, err)
		}
		data[cp] = d
	}

	return data, nil
}
