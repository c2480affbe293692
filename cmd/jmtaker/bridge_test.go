// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/offer"
	"github.com/btcsuite/btcjoin/podle"
	"github.com/btcsuite/btcjoin/taker"
	"github.com/btcsuite/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var testParams = &chaincfg.RegressionNetParams

// testAnswer builds a well formed fill answer and returns it along with the
// auth key.
func testAnswer(t *testing.T) (*utxoMsg, *btcec.PrivateKey) {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pub := priv.PubKey().SerializeCompressed()

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pub), testParams,
	)
	require.NoError(t, err)

	op := wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 3}

	return &utxoMsg{
		UTXOs:         []string{op.String()},
		AuthPubKey:    hex.EncodeToString(pub),
		CoinjoinAddr:  addr.EncodeAddress(),
		ChangeAddr:    addr.EncodeAddress(),
		AuthSig:       "3006020101020101",
		SessionPubKey: hex.EncodeToString(pub),
	}, priv
}

// testFill builds a fill of the given orders with a real revelation.
func testFill(t *testing.T, cps ...string) *taker.Fill {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	proof, err := podle.Generate(
		priv, wire.OutPoint{Hash: chainhash.Hash{0x02}}, 0,
	)
	require.NoError(t, err)

	sel := make(offer.Selection, len(cps))
	for i, cp := range cps {
		sel[cp] = offer.Offer{
			Counterparty: cp,
			OrderID:      uint32(i),
			Model:        offer.Absolute,
			AbsFee:       1000,
			MaxSize:      btcutil.SatoshiPerBitcoin,
		}
	}

	return &taker.Fill{
		AttemptID:  uuid.New(),
		Amount:     5_000_000,
		Orders:     sel,
		Commitment: podle.TaggedCommitment(proof.Commitment()),
		Revelation: proof,
	}
}

// TestParseOffer checks relayed offers are converted by fee model.
func TestParseOffer(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		msg     offerMsg
		wantErr bool
		check   func(t *testing.T, o offer.Offer)
	}{
		{
			name: "relative",
			msg: offerMsg{
				Counterparty: "alice",
				OrderID:      7,
				OrderType:    "swreloffer",
				CJFee:        "0.0002",
				TxFee:        500,
				MinSize:      100_000,
				MaxSize:      1_000_000,
			},
			check: func(t *testing.T, o offer.Offer) {
				require.Equal(t, offer.Relative, o.Model)
				require.Equal(t, btcutil.Amount(200),
					o.RelFee.Of(1_000_000))
				require.Equal(t, btcutil.Amount(500), o.TxFee)
				require.Equal(t, uint32(7), o.OrderID)
			},
		},
		{
			name: "absolute",
			msg: offerMsg{
				Counterparty: "bob",
				OrderType:    "absoffer",
				CJFee:        "1500",
				MaxSize:      1_000_000,
			},
			check: func(t *testing.T, o offer.Offer) {
				require.Equal(t, offer.Absolute, o.Model)
				require.Equal(t, btcutil.Amount(1500), o.AbsFee)
			},
		},
		{
			name: "unknown order type",
			msg: offerMsg{
				Counterparty: "carol",
				OrderType:    "limitoffer",
				CJFee:        "1",
			},
			wantErr: true,
		},
		{
			name: "malformed relative fee",
			msg: offerMsg{
				Counterparty: "dave",
				OrderType:    "reloffer",
				CJFee:        "1/2",
				MaxSize:      1,
			},
			wantErr: true,
		},
		{
			name: "malformed absolute fee",
			msg: offerMsg{
				Counterparty: "erin",
				OrderType:    "absoffer",
				CJFee:        "0.5",
				MaxSize:      1,
			},
			wantErr: true,
		},
		{
			name: "inverted size range",
			msg: offerMsg{
				Counterparty: "frank",
				OrderType:    "absoffer",
				CJFee:        "0",
				MinSize:      10,
				MaxSize:      1,
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			o, err := parseOffer(&tc.msg)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.check(t, o)
		})
	}
}

// TestEncodeFill checks the revelation survives the trip to the daemon.
func TestEncodeFill(t *testing.T) {
	t.Parallel()

	f := testFill(t, "alice", "bob")
	msg, err := encodeFill(f)
	require.NoError(t, err)

	require.Equal(t, f.AttemptID.String(), msg.Attempt)
	require.Equal(t, int64(5_000_000), msg.Amount)
	require.Equal(t, map[string]uint32{"alice": 0, "bob": 1}, msg.Orders)
	require.Equal(t, f.Commitment, msg.Commitment)

	raw, err := hex.DecodeString(msg.Revelation)
	require.NoError(t, err)

	var proof podle.Proof
	require.NoError(t, proof.Decode(bytes.NewReader(raw)))
	require.Equal(t, f.Revelation.Commitment(), proof.Commitment())
	require.Equal(t, f.Revelation.OutPoint, proof.OutPoint)
}

// TestParseUTXOData checks fill answers are decoded and that malformed
// fields are rejected.
func TestParseUTXOData(t *testing.T) {
	t.Parallel()

	good, priv := testAnswer(t)

	data, err := parseUTXOData(good, testParams)
	require.NoError(t, err)
	require.Len(t, data.UTXOs, 1)
	require.Equal(t, uint32(3), data.UTXOs[0].Index)
	require.True(t, data.AuthPubKey.IsEqual(priv.PubKey()))
	require.Equal(t, good.CoinjoinAddr, data.CoinjoinAddr.EncodeAddress())
	require.Equal(
		t, priv.PubKey().SerializeCompressed(), data.SessionPubKey,
	)

	mainnetAddr, err := btcutil.NewAddressPubKeyHash(
		make([]byte, 20), &chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	testCases := []struct {
		name   string
		modify func(m *utxoMsg)
	}{
		{
			name:   "bad outpoint",
			modify: func(m *utxoMsg) { m.UTXOs = []string{"nope"} },
		},
		{
			name:   "bad auth key",
			modify: func(m *utxoMsg) { m.AuthPubKey = "02abcd" },
		},
		{
			name:   "bad coinjoin address",
			modify: func(m *utxoMsg) { m.CoinjoinAddr = "garbage" },
		},
		{
			name: "change address for another network",
			modify: func(m *utxoMsg) {
				m.ChangeAddr = mainnetAddr.EncodeAddress()
			},
		},
		{
			name:   "bad auth signature",
			modify: func(m *utxoMsg) { m.AuthSig = "zz" },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			m := *good
			tc.modify(&m)
			_, err := parseUTXOData(&m, testParams)
			require.Error(t, err)
		})
	}
}

// TestTxAndSigMessages checks the unsigned transaction and relayed
// signatures are hex encoded.
func TestTxAndSigMessages(t *testing.T) {
	t.Parallel()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 1}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))

	msg, err := encodeTx(&taker.Assembled{
		Tx:             tx,
		Counterparties: []string{"alice"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, msg.Counterparties)

	raw, err := hex.DecodeString(msg.Tx)
	require.NoError(t, err)
	var decoded wire.MsgTx
	require.NoError(t, decoded.Deserialize(bytes.NewReader(raw)))
	require.Equal(t, tx.TxHash(), decoded.TxHash())

	sig, err := parseSig(&sigMsg{
		Counterparty: "alice",
		SigScript:    "",
		Witness:      []string{"3001", "02ff"},
	})
	require.NoError(t, err)
	require.Empty(t, sig.SigScript)
	require.Equal(t, wire.TxWitness{{0x30, 0x01}, {0x02, 0xff}},
		sig.Witness)

	_, err = parseSig(&sigMsg{Witness: []string{"x"}})
	require.Error(t, err)
	_, err = parseSig(&sigMsg{SigScript: "0"})
	require.Error(t, err)
}

// writeMsg writes a typed message to a test daemon connection. Write
// errors surface as missing replies on the client side.
func writeMsg(conn *websocket.Conn, typ string, body any) {
	raw, _ := json.Marshal(body)
	_ = conn.WriteJSON(&envelope{Type: typ, Body: raw})
}

// TestBridgeRoundTrip runs the orderbook and fill exchanges against a test
// daemon.
func TestBridgeRoundTrip(t *testing.T) {
	t.Parallel()

	answer, _ := testAnswer(t)
	received := make(chan envelope, 2)

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			upgrader := websocket.Upgrader{
				CheckOrigin: func(*http.Request) bool {
					return true
				},
			}
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()

			var env envelope
			if conn.ReadJSON(&env) != nil {
				return
			}
			received <- env

			// Unrelated traffic is skipped by the client.
			writeMsg(conn, msgSig, &sigMsg{})
			writeMsg(conn, msgOrderbook, []*offerMsg{{
				Counterparty: "alice",
				OrderType:    "absoffer",
				CJFee:        "1000",
				MaxSize:      10_000_000,
			}, {
				Counterparty: "bob",
				OrderType:    "bogus",
			}, {
				Counterparty: "carol",
				OrderType:    "reloffer",
				CJFee:        "0.001",
				MaxSize:      10_000_000,
			}})

			if conn.ReadJSON(&env) != nil {
				return
			}
			received <- env

			bad := *answer
			bad.AuthPubKey = "00"
			writeMsg(conn, msgFillResponse, map[string]*utxoMsg{
				"alice":   answer,
				"carol":   &bad,
				"mallory": answer,
			})

			// Hold the connection until the client hangs up.
			_ = conn.ReadJSON(&env)
		},
	))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	b, err := dialDaemon(url, testParams)
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	book, err := b.orderbook(ctx)
	require.NoError(t, err)
	require.Len(t, book, 2)
	require.Equal(t, "alice", book[0].Counterparty)
	require.Equal(t, "carol", book[1].Counterparty)
	require.Equal(t, msgOrderbookRequest, (<-received).Type)

	f := testFill(t, "alice", "carol")
	answers, err := b.fill(ctx, f)
	require.NoError(t, err)

	env := <-received
	require.Equal(t, msgFill, env.Type)
	var sent fillMsg
	require.NoError(t, json.Unmarshal(env.Body, &sent))
	require.Equal(t, f.Commitment, sent.Commitment)
	require.NotEmpty(t, sent.Revelation)

	require.Len(t, answers, 2)
	require.NotNil(t, answers["alice"])
	require.Len(t, answers["alice"].UTXOs, 1)
	require.Contains(t, answers, "carol")
	require.Nil(t, answers["carol"])
	require.NotContains(t, answers, "mallory")
}

// TestBridgeClosed checks pending reads fail once the daemon hangs up.
func TestBridgeClosed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			upgrader := websocket.Upgrader{
				CheckOrigin: func(*http.Request) bool {
					return true
				},
			}
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			conn.Close()
		},
	))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	b, err := dialDaemon(url, testParams)
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = b.next(ctx)
	require.ErrorIs(t, err, errDaemonClosed)
}
