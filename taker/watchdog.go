// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package taker

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/ticker"
)

// errWatchdogRunning is returned when a second watchdog is started for the
// same attempt.
var errWatchdogRunning = errors.New("watchdog already running")

// watchdog aborts an attempt whose counterparties do not sign in time.
type watchdog struct {
	ticker ticker.Ticker
	quit   chan struct{}
}

// StartWatchdog monitors the signature phase of the current attempt. If
// signatures are still outstanding when the response timeout elapses, the
// attempt is aborted and onTimeout, if set, receives the counterparties that
// failed to sign. The watchdog stops by itself once the attempt ends.
func (t *Taker) StartWatchdog(onTimeout func(nonrespondents []string)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requirePhase(PhaseAwaitingSigs); err != nil {
		return err
	}
	if t.watchdog != nil {
		return errWatchdogRunning
	}

	tk := t.cfg.WatchdogTicker
	if tk == nil {
		tk = ticker.New(t.cfg.ResponseTimeout)
	}
	w := &watchdog{
		ticker: tk,
		quit:   make(chan struct{}),
	}
	t.watchdog = w

	go t.watch(w, t.att.id, onTimeout)

	return nil
}

// watch is the watchdog's goroutine.
func (t *Taker) watch(w *watchdog, id uuid.UUID,
	onTimeout func([]string)) {

	w.ticker.Resume()
	defer w.ticker.Stop()

	for {
		select {
		case <-w.ticker.Ticks():
			t.mu.Lock()
			if t.phase != PhaseAwaitingSigs || t.attemptID() != id {
				t.mu.Unlock()
				return
			}

			missing := t.nonrespondents()
			if len(missing) == 0 {
				t.mu.Unlock()
				continue
			}

			t.abort(fmt.Sprintf("timed out waiting for signatures "+
				"from %v", missing))
			t.mu.Unlock()

			if onTimeout != nil {
				onTimeout(missing)
			}

			return

		case <-w.quit:
			return
		}
	}
}

// stopWatchdog signals the running watchdog to exit. It must be called with
// the lock held.
func (t *Taker) stopWatchdog() {
	if t.watchdog == nil {
		return
	}

	close(t.watchdog.quit)
	t.watchdog = nil
}
