// Copyright 2019 eBay Inc.
// Primary authors: Simon Fell, Diego Ongaro,
//                  Raymond Kroeker, and Sathish Kandasamy.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package clocks

import (
	"sync"
	"time"
)

// Mock is a Source that does not advance on its own. It can be used to control
// a clock for unit tests.
type Mock struct {
	// Protects all the fields below.
	lock sync.Mutex
	now  time.Time
	// Alarms that have been Set and have not yet beeped or been stopped.
	pending map[*mockAlarm]time.Time
}

// Ensures that Mock implements Source.
var _ Source = NewMock()

// NewMock returns a new mock clock that is initialized to the Unix epoch.
// Note that this is not the zero value for time.Time.
func NewMock() *Mock {
	return &Mock{
		now:     time.Unix(0, 0),
		pending: make(map[*mockAlarm]time.Time),
	}
}

// Now implements Source.Now.
func (c *Mock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

// Advance moves the clock forward by the given amount. Any alarms whose wakeup
// time has been reached beep before Advance returns.
func (c *Mock) Advance(amount time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(amount)
	for alarm, wake := range c.pending {
		if !wake.After(c.now) {
			delete(c.pending, alarm)
			alarm.beepLocked()
		}
	}
}

// NewAlarm implements Source.NewAlarm.
func (c *Mock) NewAlarm() Alarm {
	return &mockAlarm{
		clock: c,
		beep:  make(chan struct{}, 1),
	}
}

// mockAlarm state is protected by the clock's lock.
type mockAlarm struct {
	clock *Mock
	beep  chan struct{}
}

func (alarm *mockAlarm) WaitCh() <-chan struct{} {
	return alarm.beep
}

func (alarm *mockAlarm) Set(wake time.Time) {
	c := alarm.clock
	c.lock.Lock()
	defer c.lock.Unlock()
	if !wake.After(c.now) {
		delete(c.pending, alarm)
		alarm.beepLocked()
		return
	}
	c.pending[alarm] = wake
}

func (alarm *mockAlarm) Stop() {
	c := alarm.clock
	c.lock.Lock()
	delete(c.pending, alarm)
	c.lock.Unlock()
}

func (alarm *mockAlarm) beepLocked() {
	select {
	case alarm.beep <- struct{}{}:
	default: // a beep is already pending
	}
}
