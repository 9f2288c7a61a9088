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

package retry

import (
	"testing"
	"time"
)

func TestStartNoDelayFiresQuickly(t *testing.T) {
	done := make(chan Expiry, 1)
	tm := New(50*time.Millisecond, 200*time.Millisecond, 3, func(e Expiry) {
		done <- e
	})
	tm.StartNoDelay()
	select {
	case e := <-done:
		if e.Fail {
			t.Errorf("expected non-terminal firing")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timer never fired")
	}
}

func TestStopCancelsPendingFiring(t *testing.T) {
	fired := make(chan struct{}, 1)
	tm := New(30*time.Millisecond, 100*time.Millisecond, 5, func(Expiry) {
		fired <- struct{}{}
	})
	tm.Start()
	tm.Stop()
	select {
	case <-fired:
		t.Fatal("timer fired after Stop")
	case <-time.After(150 * time.Millisecond):
		// expected: nothing fired
	}
}

func TestRepeatedExpiryEventuallyFails(t *testing.T) {
	results := make(chan Expiry, 10)
	tm := New(5*time.Millisecond, 10*time.Millisecond, 2, func(e Expiry) {
		results <- e
	})
	tm.Start()

	var got []Expiry
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-results:
			got = append(got, e)
			if e.Fail {
				goto done
			}
		case <-timeout:
			t.Fatal("never reached terminal failure")
		}
	}
done:
	if len(got) < 2 {
		t.Fatalf("expected at least 2 expiries before failure, got %d", len(got))
	}
	for _, e := range got[:len(got)-1] {
		if e.Fail {
			t.Errorf("non-terminal expiry incorrectly marked Fail")
		}
	}
	if !got[len(got)-1].Fail {
		t.Errorf("final expiry should be terminal")
	}
}

func TestStartAfterStopResetsCleanly(t *testing.T) {
	fired := make(chan Expiry, 1)
	tm := New(20*time.Millisecond, 40*time.Millisecond, 5, func(e Expiry) {
		select {
		case fired <- e:
		default:
		}
	})
	tm.Start()
	time.Sleep(10 * time.Millisecond)
	tm.Stop()
	tm.StartNoDelay()
	select {
	case e := <-fired:
		if e.Fail {
			t.Errorf("expected a fresh, non-terminal firing after restart")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timer never fired after restart")
	}
}
