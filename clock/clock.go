// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package clock provides the time/event collaborator used by the page
// cache's background worker: wall time plus a soft-wake timer that can be
// reset or cancelled without leaking the underlying runtime timer.
package clock

import (
	"sync"
	"time"
)

// Clock is satisfied by RealClock, FakeClock and SimulatedClock.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Timer is a cancellable, resettable soft-wake timer built on top of a
// Clock. The background worker uses one to implement its clean delay:
// scheduling arms it after the first dirty page, a full clean cycle
// cancels it.
//
// A zero Timer is not usable; construct with NewTimer.
type Timer struct {
	clock Clock

	mu      sync.Mutex
	ch      chan time.Time
	version uint64
}

// NewTimer returns a Timer that fires on the channel returned by C using
// the given Clock for its notion of time.
func NewTimer(clock Clock) *Timer {
	return &Timer{clock: clock}
}

// Reset (re)arms the timer to fire after d, superseding any previous
// pending fire. The channel returned by C is replaced.
func (t *Timer) Reset(d time.Duration) <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.version++
	version := t.version
	out := make(chan time.Time, 1)
	t.ch = out

	// Register with the clock before returning so that time advanced
	// right after Reset is seen by this request.
	after := t.clock.After(d)
	go func() {
		fired := <-after

		t.mu.Lock()
		defer t.mu.Unlock()
		if t.version != version {
			// Superseded by a later Reset or a Cancel; drop the fire.
			return
		}
		out <- fired
	}()

	return out
}

// Cancel prevents any in-flight Reset from firing. It is a no-op if the
// timer is idle.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.version++
	t.ch = nil
}

// C returns the channel most recently handed out by Reset, or nil if the
// timer has never been armed or has been cancelled.
func (t *Timer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ch
}
