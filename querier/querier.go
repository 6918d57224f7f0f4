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

// Package querier runs a single query: it validates the query, feeds it
// records, enforces its rate limit, and decides when its windows close and when
// it's finished.
//
// A Querier is not safe for concurrent use. Each one belongs to a single
// filter engine, which serializes all calls.
package querier

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ebay/sieve/aggregation"
	"github.com/ebay/sieve/query"
	"github.com/ebay/sieve/record"
	"github.com/ebay/sieve/util/clocks"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// State is a step in a Querier's lifecycle:
//
//	Created -> Validating -> Failed
//	                      -> Active <-> WindowClosed -> Retired
type State int

// The possible states.
const (
	Created State = iota
	Validating
	Failed
	Active
	WindowClosed
	Retired
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Validating:
		return "Validating"
	case Failed:
		return "Failed"
	case Active:
		return "Active"
	case WindowClosed:
		return "WindowClosed"
	case Retired:
		return "Retired"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options contains optional settings for a Querier.
type Options struct {
	// Used for query durations, time windows, and rate limits. Defaults to
	// clocks.Wall.
	Clock clocks.Source
}

// Querier is one running query.
type Querier struct {
	id       string
	text     string
	defaults query.Defaults
	clock    clocks.Source
	state    State

	// Set by Initialize.
	spec     *query.Spec
	strategy aggregation.Strategy

	// When the query became Active.
	start time.Time
	// The current window's number (starting at 0), start, and record count.
	window        int
	windowStart   time.Time
	windowRecords int64

	// Nil if the query has no rate limit.
	limiter *rate.Limiter
	// The number of records seen in the current rate limit window, including
	// those refused.
	rateCount       int
	rateWindowStart time.Time
	// Sticky: once set, it stays set until the window resets.
	exceeded bool

	// True once a non-repeating query's only window has been reset; the
	// query has nothing more to emit.
	done bool
	// Set if consuming a record failed; the query is finished.
	fault error
}

// newStrategy is swapped out in unit tests.
var newStrategy = aggregation.New

// New returns a Querier in the Created state. Call Initialize before using it.
func New(id, text string, defaults query.Defaults, opts Options) *Querier {
	if opts.Clock == nil {
		opts.Clock = clocks.Wall
	}
	return &Querier{
		id:       id,
		text:     text,
		defaults: defaults,
		clock:    opts.Clock,
		state:    Created,
	}
}

// ID returns the query's identifier.
func (q *Querier) ID() string {
	return q.id
}

// State returns the query's current lifecycle state.
func (q *Querier) State() State {
	return q.state
}

// Spec returns the parsed query, or nil if it hasn't been successfully
// initialized.
func (q *Querier) Spec() *query.Spec {
	return q.spec
}

// Err returns the failure that finished the query while consuming records, if
// any.
func (q *Querier) Err() error {
	return q.fault
}

// Initialize parses and validates the query. On success, the query becomes
// Active and nil is returned. Otherwise, the query becomes Failed and a
// *query.ValidationError is returned. Initialize never panics: unexpected
// failures are reported as validation errors too.
func (q *Querier) Initialize() (err error) {
	if q.state != Created {
		return fmt.Errorf("querier %v: Initialize called in state %v", q.id, q.state)
	}
	q.state = Validating
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"id":    q.id,
				"panic": r,
			}).Warn("Unexpected failure initializing query")
			err = query.NewValidationError(fmt.Errorf("unable to initialize query: %v", r))
		}
		if err != nil {
			q.state = Failed
			q.spec = nil
			q.strategy = nil
		}
	}()
	spec, err := query.Parse(q.text, q.defaults)
	if err != nil {
		return err
	}
	strategy, err := newStrategy(spec)
	if err != nil {
		return err
	}
	if errs := strategy.Initialize(); len(errs) > 0 {
		return query.NewValidationError(errs...)
	}
	q.spec = spec
	q.strategy = strategy
	now := q.clock.Now()
	q.start = now
	q.windowStart = now
	q.resetRateLimit(now)
	q.state = Active
	return nil
}

func (q *Querier) resetRateLimit(now time.Time) {
	q.exceeded = false
	q.limiter = nil
	if q.spec.RateLimit.Enabled() {
		q.startRateWindow(now)
	}
}

// startRateWindow begins a fixed rate limit window. The limiter never refills:
// it allows MaxCount records and refuses the rest until the next window.
func (q *Querier) startRateWindow(now time.Time) {
	q.rateCount = 0
	q.rateWindowStart = now
	q.limiter = rate.NewLimiter(0, q.spec.RateLimit.MaxCount)
}

// Consume feeds a record to an Active query; it does nothing in other states.
// The rate limit is checked first. A record over the limit is not aggregated,
// but records aggregated earlier in the window stay aggregated.
func (q *Querier) Consume(rec record.Record) {
	if q.state != Active || q.fault != nil {
		return
	}
	if q.limiter != nil {
		now := q.clock.Now()
		if !q.exceeded && now.Sub(q.rateWindowStart) >= q.spec.RateLimit.Window {
			q.startRateWindow(now)
		}
		q.rateCount++
		if !q.limiter.AllowN(now, 1) {
			q.exceeded = true
		}
		if q.exceeded {
			return
		}
	}
	q.windowRecords++
	defer func() {
		if r := recover(); r != nil {
			q.fault = fmt.Errorf("querier %v: failed to consume record: %v", q.id, r)
		}
	}()
	q.strategy.Consume(rec)
}

// IsExceedingRateLimit returns true if the query has consumed records faster
// than its rate limit allows during the current window.
func (q *Querier) IsExceedingRateLimit() bool {
	return q.exceeded
}

// RateLimitError describes the query's rate limit violation. It returns nil if
// the query isn't exceeding its rate limit.
func (q *Querier) RateLimitError() *RateLimitError {
	if !q.exceeded {
		return nil
	}
	return &RateLimitError{
		Count:     q.rateCount,
		Threshold: q.spec.RateLimit.MaxCount,
		Window:    q.spec.RateLimit.Window,
	}
}

// IsDone returns true if the query has permanently finished and should be
// retired: a failed or retired query, a non-repeating query whose window has
// been emitted and reset, or a repeating query that has run for its full
// duration.
func (q *Querier) IsDone() bool {
	switch q.state {
	case Created, Validating:
		return false
	case Failed, Retired:
		return true
	}
	if q.done || q.fault != nil {
		return true
	}
	return q.spec.Window.Repeating() && q.elapsed() >= q.spec.Duration
}

func (q *Querier) elapsed() time.Duration {
	return q.clock.Now().Sub(q.start)
}

// IsClosed returns true if the query's current window has ended by time. It's
// the check used on periodic ticks.
func (q *Querier) IsClosed() bool {
	switch q.state {
	case WindowClosed:
		return true
	case Active:
	default:
		return false
	}
	switch q.spec.Window.Type {
	case query.NoWindow:
		return q.elapsed() >= q.spec.Duration
	case query.TimeWindow:
		return q.clock.Now().Sub(q.windowStart) >= q.spec.Window.Every
	}
	return false
}

// IsClosedForPartition returns true if this partition's contribution to the
// current window is complete, by time or by record count. It's the check used
// after each record.
func (q *Querier) IsClosedForPartition() bool {
	if q.IsClosed() {
		return true
	}
	return q.state == Active &&
		q.spec.Window.Type == query.RecordWindow &&
		q.windowRecords >= q.spec.Window.Records
}

// CloseWindow finalizes the current window so that its data can be emitted.
func (q *Querier) CloseWindow() {
	if q.state == Active {
		q.state = WindowClosed
	}
}

// Output is the serialized form of a window's result.
type Output struct {
	// The query's identifier.
	ID string `json:"id"`
	// The window number, starting at 0. Results from different partitions
	// with the same ID and window may be merged.
	Window int `json:"window"`
	// The number of records aggregated in the window.
	Records int64               `json:"records"`
	Result  *aggregation.Result `json:"result"`
}

// Data returns the serialized result of the current window, or nil if there is
// nothing to emit: the query never became Active, it failed while consuming,
// or it's a non-repeating query whose only window was already emitted.
func (q *Querier) Data() []byte {
	if q.strategy == nil || q.done || q.fault != nil {
		return nil
	}
	res, err := q.strategy.Result()
	if err != nil {
		log.WithFields(log.Fields{
			"id":    q.id,
			"error": err,
		}).Warn("Unable to produce query result")
		return nil
	}
	data, err := json.Marshal(Output{
		ID:      q.id,
		Window:  q.window,
		Records: q.windowRecords,
		Result:  res,
	})
	if err != nil {
		log.WithFields(log.Fields{
			"id":    q.id,
			"error": err,
		}).Warn("Unable to serialize query result")
		return nil
	}
	return data
}

// Reset starts the next window after a closed one. For repeating queries,
// the aggregation and rate limit are cleared and the query becomes Active
// again. A non-repeating query has no next window: it is marked done and stays
// WindowClosed until retired.
func (q *Querier) Reset() {
	if q.state != WindowClosed {
		return
	}
	if !q.spec.Window.Repeating() {
		q.done = true
		return
	}
	now := q.clock.Now()
	q.strategy.Reset()
	q.window++
	q.windowStart = now
	q.windowRecords = 0
	q.resetRateLimit(now)
	q.state = Active
}

// Retire permanently ends the query.
func (q *Querier) Retire() {
	q.state = Retired
}
