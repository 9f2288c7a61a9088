// Tftpget
// Copyright (C) tftpget contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package retry implements the engine's single-shot, reschedulable
// retransmission timer: start_nodelay fires at the next quantum, start
// fires after the current backoff, and each expiry doubles the backoff
// up to a cap, eventually firing with Fail=true to signal a terminal
// timeout. A Stop that cancels the timer before it has expired since the
// last Start (a reply arrived in time) resets the backoff and the expiry
// count; a Stop+Start that follows an expiry (a retransmission) keeps
// them.
package retry

import (
	"sync"
	"time"
)

// Defaults mirror a conservative UDP retransmission schedule: start
// small, back off quickly, give up on the seventh expiry, roughly one to
// one and a half minutes of silence.
const (
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 32 * time.Second
	// DefaultMaxExpiries is how many consecutive expiries (counted since
	// the last reset, see Stop) are tolerated before Fail is set.
	DefaultMaxExpiries = 6
)

// Expiry is delivered to the callback on every timer firing.
type Expiry struct {
	// Fail is true once the timer has expired more times in a row than
	// its configured cap allows; this firing is terminal.
	Fail bool
}

// Timer is a single-shot reschedulable backoff timer.
type Timer struct {
	initial     time.Duration
	max         time.Duration
	maxExpiries int
	callback    func(Expiry)

	mu       sync.Mutex
	t        *time.Timer
	delay    time.Duration
	expiries int
	fired    bool // expired since the last Start/StartNoDelay
}

// New builds a Timer that invokes callback on every firing. Pass zero
// values to use the package defaults.
func New(initial, max time.Duration, maxExpiries int, callback func(Expiry)) *Timer {
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if maxExpiries <= 0 {
		maxExpiries = DefaultMaxExpiries
	}
	return &Timer{
		initial:     initial,
		max:         max,
		maxExpiries: maxExpiries,
		callback:    callback,
	}
}

// StartNoDelay (re)arms the timer to fire at the next scheduler quantum,
// resetting the backoff and expiry count as if this were a fresh timer.
func (tm *Timer) StartNoDelay() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.stopLocked()
	tm.delay = 0
	tm.expiries = 0
	tm.fired = false
	tm.armLocked(time.Nanosecond)
}

// Start (re)arms the timer to fire after the current backoff delay. If
// the backoff is unset (fresh timer, StartNoDelay, or a resetting Stop),
// it uses the initial delay.
func (tm *Timer) Start() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.stopLocked()
	tm.fired = false
	if tm.delay <= 0 {
		tm.delay = tm.initial
	}
	tm.armLocked(tm.delay)
}

// Stop cancels any pending firing. Safe to call even if not armed. If the
// timer has not expired since the last Start/StartNoDelay, the backoff
// and the expiry count are reset as well.
func (tm *Timer) Stop() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.stopLocked()
	if !tm.fired {
		tm.delay = 0
		tm.expiries = 0
	}
}

func (tm *Timer) stopLocked() {
	if tm.t != nil {
		tm.t.Stop()
		tm.t = nil
	}
}

func (tm *Timer) armLocked(d time.Duration) {
	tm.t = time.AfterFunc(d, tm.fire)
}

func (tm *Timer) fire() {
	tm.mu.Lock()
	tm.fired = true
	tm.expiries++
	fail := tm.expiries > tm.maxExpiries
	if !fail {
		// double the backoff for the next unacknowledged retry, ramping
		// up from initial and capped at max
		next := tm.delay * 2
		if next < tm.initial {
			next = tm.initial
		}
		if next > tm.max {
			next = tm.max
		}
		tm.delay = next
		tm.armLocked(tm.delay)
	}
	tm.mu.Unlock()

	tm.callback(Expiry{Fail: fail})
}
