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

// Package clocks provides a mockable source of time. Window boundaries, rate
// limits and tick scheduling all read the time through a Source so that unit
// tests can drive them with the Mock clock.
package clocks

import (
	"sync"
	"time"
)

// A Source tells the passage of time. This package provides two sources: Wall
// and Mock.
type Source interface {
	// Now returns the current time.
	Now() time.Time
	// NewAlarm creates an alarm that won't yet fire.
	NewAlarm() Alarm
}

// An Alarm alerts the user when a given time is reached.
type Alarm interface {
	// Set schedules the alarm to beep at or shortly after the given time. Any
	// previously scheduled wakeup is lost. Set is thread-safe.
	Set(wake time.Time)
	// Stop unschedules the alarm. It is safe to call Stop multiple times.
	Stop()
	// WaitCh returns a channel that receives a value each time the alarm
	// beeps. The alarm sends at most once per call to Set and never closes the
	// channel.
	WaitCh() <-chan struct{}
}

type wallClock struct{}

// Wall is the normal clock, as provided by time.Now().
var Wall Source = wallClock{}

func (wallClock) Now() time.Time {
	return time.Now()
}

func (wallClock) NewAlarm() Alarm {
	return &wallAlarm{
		beep: make(chan struct{}, 1),
	}
}

type wallAlarm struct {
	beep chan struct{}
	// Protects the fields below.
	lock  sync.Mutex
	timer *time.Timer
	// Incremented by every Set and Stop, so that a timer that already fired
	// for an older wakeup doesn't beep.
	generation uint64
}

func (alarm *wallAlarm) WaitCh() <-chan struct{} {
	return alarm.beep
}

func (alarm *wallAlarm) Set(wake time.Time) {
	alarm.lock.Lock()
	defer alarm.lock.Unlock()
	alarm.stopLocked()
	gen := alarm.generation
	alarm.timer = time.AfterFunc(time.Until(wake), func() {
		alarm.lock.Lock()
		defer alarm.lock.Unlock()
		if alarm.generation != gen {
			return
		}
		select {
		case alarm.beep <- struct{}{}:
		default: // a beep is already pending
		}
	})
}

func (alarm *wallAlarm) Stop() {
	alarm.lock.Lock()
	alarm.stopLocked()
	alarm.lock.Unlock()
}

func (alarm *wallAlarm) stopLocked() {
	alarm.generation++
	if alarm.timer != nil {
		alarm.timer.Stop()
		alarm.timer = nil
	}
}
