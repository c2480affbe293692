// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package taker

import (
	"context"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// awaitingSigs returns a taker that has assembled the transaction with alice
// and bob, together with its forceable watchdog ticker.
func awaitingSigs(t *testing.T) (*harness, *Taker, *Assembled,
	*ticker.Force, *maker, *maker) {

	t.Helper()

	ctx := context.Background()
	alice := newMaker(t, "alice", 1, 150_000, "0.003", 500)
	bob := newMaker(t, "bob", 2, 150_000, "0.003", 500)

	h := newHarness(t, alice, bob)
	h.expectCoins(alice)
	h.expectCoins(bob)

	force := ticker.NewForce(time.Hour)
	h.cfg.WatchdogTicker = force

	tk := h.newTaker(Request{Amount: 100_000})
	require.ErrorIs(t, tk.StartWatchdog(nil), ErrWrongPhase)

	_, err := tk.Initialize(ctx, h.book())
	require.NoError(t, err)
	asm, err := tk.ReceiveUTXOs(ctx, map[string]*CounterpartyUTXOData{
		"alice": alice.response(t),
		"bob":   bob.response(t),
	})
	require.NoError(t, err)

	return h, tk, asm, force, alice, bob
}

// TestWatchdogTimeout checks that outstanding signatures abort the attempt
// and are reported once the timeout fires.
func TestWatchdogTimeout(t *testing.T) {
	t.Parallel()

	h, tk, asm, force, alice, _ := awaitingSigs(t)

	ctx := context.Background()
	_, err := tk.OnSig(ctx, "alice", h.sign(asm.Tx, alice))
	require.NoError(t, err)

	timedOut := make(chan []string, 1)
	require.NoError(t, tk.StartWatchdog(func(missing []string) {
		timedOut <- missing
	}))
	require.ErrorIs(t, tk.StartWatchdog(nil), errWatchdogRunning)

	force.Force <- time.Now()

	select {
	case missing := <-timedOut:
		require.Equal(t, []string{"bob"}, missing)

	case <-time.After(5 * time.Second):
		t.Fatal("watchdog did not fire")
	}

	require.Equal(t, PhaseAborted, tk.Phase())
	h.cb.AssertCalled(t, "Info", InfoAbort, hasSubstring("bob"))

	_, err = tk.OnSig(ctx, "bob", h.sign(asm.Tx, h.makers[1]))
	require.ErrorIs(t, err, ErrAborted)
	h.chain.AssertNotCalled(t, "PushTx", mock.Anything, mock.Anything)
}

// TestWatchdogStopsOnCompletion checks that a completed attempt is left alone
// by its watchdog.
func TestWatchdogStopsOnCompletion(t *testing.T) {
	t.Parallel()

	h, tk, asm, force, alice, bob := awaitingSigs(t)
	ctx := context.Background()

	require.NoError(t, tk.StartWatchdog(func([]string) {
		t.Error("watchdog fired after completion")
	}))

	txid := asm.Tx.TxHash()
	h.chain.On("PushTx", mock.Anything, mock.Anything).Return(&txid, nil)

	_, err := tk.OnSig(ctx, "alice", h.sign(asm.Tx, alice))
	require.NoError(t, err)
	done, err := tk.OnSig(ctx, "bob", h.sign(asm.Tx, bob))
	require.NoError(t, err)
	require.True(t, done)

	// The watchdog has exited or sees a finished attempt.
	select {
	case force.Force <- time.Now():
	case <-time.After(100 * time.Millisecond):
	}

	require.Equal(t, PhaseComplete, tk.Phase())
	h.cb.AssertNotCalled(t, "Info", InfoAbort, mock.Anything)
}
