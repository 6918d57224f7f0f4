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

package filter

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ebay/sieve/querier"
	"github.com/ebay/sieve/query"
	"github.com/ebay/sieve/record"
	"github.com/ebay/sieve/util/clocks"
	"github.com/ebay/sieve/util/tracing"
	opentracing "github.com/opentracing/opentracing-go"
	log "github.com/sirupsen/logrus"
)

// An Emitter receives an engine's output. Calls come from the engine's
// goroutine.
type Emitter interface {
	// EmitData delivers a serialized query result.
	EmitData(id string, data []byte)
	// EmitError delivers a query failure: a *query.ValidationError for
	// rejected submissions, or a *querier.RateLimitError for evicted queries.
	EmitError(id string, err error)
}

// Options define optional arguments to NewEngine. The zero value of Options is
// usable.
type Options struct {
	// Identifies the engine in logs and metrics.
	Partition int
	// Used for query timing and the tick alarm. Defaults to clocks.Wall.
	Clock clocks.Source
	// How often Run generates ticks. If zero, Run generates no ticks of its
	// own and relies on TickSignals.
	TickInterval time.Duration
}

// Engine runs the queries of one partition. Except where noted, its methods
// must be called from a single goroutine, either directly or through Run.
type Engine struct {
	partition    int
	label        string
	defaults     query.Defaults
	clock        clocks.Source
	tickInterval time.Duration
	emitter      Emitter
	registry     *Registry
	// Protects locked.
	lock sync.Mutex
	// These fields are protected by lock.
	locked struct {
		ids []string
	}
}

// NewEngine constructs an Engine with an empty registry. Queries submitted to
// it are parsed with the given defaults, and all output goes to emitter.
func NewEngine(defaults query.Defaults, emitter Emitter, options Options) *Engine {
	if options.Clock == nil {
		options.Clock = clocks.Wall
	}
	return &Engine{
		partition:    options.Partition,
		label:        strconv.Itoa(options.Partition),
		defaults:     defaults,
		clock:        options.Clock,
		tickInterval: options.TickInterval,
		emitter:      emitter,
		registry:     NewRegistry(),
	}
}

// AlreadyRunningError is returned when submitting a query whose ID is already
// running.
type AlreadyRunningError struct {
	ID string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("query %v is already running", e.ID)
}

// Submit validates a query and, if valid, starts running it. A validation
// failure is emitted as an error and also returned. Submitting an ID that is
// already running returns an *AlreadyRunningError without emitting anything.
func (e *Engine) Submit(id, text string) error {
	metrics.queriesSubmitted.Inc()
	if e.registry.Get(id) != nil {
		log.WithFields(log.Fields{
			"partition": e.partition,
			"id":        id,
		}).Warn("Ignoring duplicate query submission")
		return &AlreadyRunningError{ID: id}
	}
	q := querier.New(id, text, e.defaults, querier.Options{Clock: e.clock})
	if err := q.Initialize(); err != nil {
		log.WithFields(log.Fields{
			"partition": e.partition,
			"id":        id,
			"error":     err,
		}).Info("Rejected query")
		metrics.queriesRejected.Inc()
		e.emitter.EmitError(id, err)
		return err
	}
	e.registry.Insert(q)
	log.WithFields(log.Fields{
		"partition": e.partition,
		"id":        id,
	}).Debug("Started query")
	e.updateQueries()
	return nil
}

// Cancel stops a running query without emitting anything. It returns false if
// no such query is running.
func (e *Engine) Cancel(id string) bool {
	q := e.registry.Get(id)
	if q == nil {
		return false
	}
	q.Retire()
	e.registry.Remove(id)
	metrics.queriesCanceled.Inc()
	e.updateQueries()
	return true
}

// Consume feeds a record to every active query, then categorizes and handles
// the results.
func (e *Engine) Consume(rec record.Record) {
	start := e.clock.Now()
	metrics.records.Inc()
	e.handle(CategorizeRecord(rec, e.registry, ClosedForPartition))
	metrics.recordLatencySeconds.Observe(e.clock.Now().Sub(start).Seconds())
}

// ConsumeFor feeds a record to the single query with the given ID, then
// categorizes and handles the results. Records for unknown IDs are dropped.
func (e *Engine) ConsumeFor(id string, rec record.Record) {
	q := e.registry.Get(id)
	if q == nil {
		metrics.recordsDropped.Inc()
		return
	}
	start := e.clock.Now()
	metrics.records.Inc()
	q.Consume(rec)
	e.handle(Categorize(e.registry, ClosedForPartition))
	metrics.recordLatencySeconds.Observe(e.clock.Now().Sub(start).Seconds())
}

// Tick re-evaluates time-based windows and rate limits for every query.
func (e *Engine) Tick() {
	span := opentracing.StartSpan("filter tick")
	span.SetTag("partition", e.partition)
	tracing.UpdateMetric(span, metrics.tickLatencySeconds)
	defer span.Finish()
	c := Categorize(e.registry, ClosedOnTick)
	span.SetTag("queries", c.Len())
	e.handle(c)
}

// handle applies the side effects of a categorization: retired queries emit
// their remaining data and are removed, rate-limited queries emit an error and
// are removed, and closed queries emit their window's data and are reset.
func (e *Engine) handle(c Category) {
	for _, id := range sortedIDs(c.Retired) {
		q := c.Retired[id]
		if data := q.Data(); data != nil {
			e.emitter.EmitData(id, data)
		}
		if err := q.Err(); err != nil {
			log.WithFields(log.Fields{
				"partition": e.partition,
				"id":        id,
				"error":     err,
			}).Warn("Dropped failed query")
		}
		q.Retire()
		e.registry.Remove(id)
	}
	for _, id := range sortedIDs(c.RateLimited) {
		q := c.RateLimited[id]
		e.emitter.EmitError(id, q.RateLimitError())
		q.Retire()
		e.registry.Remove(id)
	}
	for _, id := range sortedIDs(c.Closed) {
		q := c.Closed[id]
		q.CloseWindow()
		if data := q.Data(); data != nil {
			e.emitter.EmitData(id, data)
		}
		q.Reset()
	}
	metrics.categorized.WithLabelValues("retired").Add(float64(len(c.Retired)))
	metrics.categorized.WithLabelValues("rateLimited").Add(float64(len(c.RateLimited)))
	metrics.categorized.WithLabelValues("closed").Add(float64(len(c.Closed)))
	if len(c.Retired)+len(c.RateLimited)+len(c.Closed) > 0 {
		log.WithFields(log.Fields{
			"partition":   e.partition,
			"retired":     len(c.Retired),
			"rateLimited": len(c.RateLimited),
			"closed":      len(c.Closed),
			"active":      len(c.Active),
		}).Debug("Categorized queries")
	}
	if len(c.Retired)+len(c.RateLimited) > 0 {
		e.updateQueries()
	}
}

// Len returns the number of running queries.
func (e *Engine) Len() int {
	return e.registry.Len()
}

// Queries returns the IDs of the running queries, in order.
// This method is thread safe.
func (e *Engine) Queries() []string {
	e.lock.Lock()
	ids := e.locked.ids
	e.lock.Unlock()
	return append([]string(nil), ids...)
}

func (e *Engine) updateQueries() {
	ids := e.registry.IDs()
	e.lock.Lock()
	e.locked.ids = ids
	e.lock.Unlock()
	metrics.queries.WithLabelValues(e.label).Set(float64(len(ids)))
}

// A Signal is an input to Run: a SubmitSignal, RecordSignal, TickSignal, or
// CancelSignal.
type Signal interface {
	isSignal()
}

// SubmitSignal starts a query.
type SubmitSignal struct {
	ID   string
	Text string
	// If not nil, receives the result of Submit. The channel must have room
	// for it, since the engine won't block.
	Result chan<- error
}

// RecordSignal delivers a record. If ID is empty, the record goes to every
// query; otherwise, only to the query with that ID.
type RecordSignal struct {
	ID     string
	Record record.Record
	// When the record was produced, if known. Used to measure the end-to-end
	// latency of records.
	Produced time.Time
}

// TickSignal forces a tick.
type TickSignal struct{}

// CancelSignal stops a query without emitting its results.
type CancelSignal struct {
	ID string
}

func (SubmitSignal) isSignal() {}
func (RecordSignal) isSignal() {}
func (TickSignal) isSignal()   {}
func (CancelSignal) isSignal() {}

// Apply handles one signal.
func (e *Engine) Apply(sig Signal) {
	switch sig := sig.(type) {
	case SubmitSignal:
		err := e.Submit(sig.ID, sig.Text)
		if sig.Result != nil {
			select {
			case sig.Result <- err:
			default:
				log.WithFields(log.Fields{
					"partition": e.partition,
					"id":        sig.ID,
				}).Warn("Dropped submission result: channel full")
			}
		}
	case RecordSignal:
		if sig.ID == "" {
			e.Consume(sig.Record)
		} else {
			e.ConsumeFor(sig.ID, sig.Record)
		}
		if !sig.Produced.IsZero() {
			latency := e.clock.Now().Sub(sig.Produced)
			if latency < 0 {
				latency = 0
			}
			metrics.recordEndToEndSeconds.Observe(latency.Seconds())
		}
	case TickSignal:
		e.Tick()
	case CancelSignal:
		e.Cancel(sig.ID)
	default:
		log.WithFields(log.Fields{
			"partition": e.partition,
			"type":      fmt.Sprintf("%T", sig),
		}).Panic("Unexpected signal type")
	}
}

// Run is a blocking call that applies signals and generates ticks every
// TickInterval. It returns nil once signals is closed, or the context's error
// once it's canceled. Run may only be called once per Engine.
func (e *Engine) Run(ctx context.Context, signals <-chan Signal) error {
	alarm := e.clock.NewAlarm()
	defer alarm.Stop()
	var nextTick time.Time
	if e.tickInterval > 0 {
		nextTick = e.clock.Now().Add(e.tickInterval)
		alarm.Set(nextTick)
	}
	for {
		// Records and submissions take priority over ticks, but Go select
		// statements are randomized. As a workaround, this loop applies all the
		// ready signals without blocking first.
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case sig, ok := <-signals:
				if !ok {
					return nil
				}
				e.Apply(sig)
			default:
				goto doneApplying
			}
		}
	doneApplying:

		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			e.Apply(sig)
		case <-alarm.WaitCh():
			e.Tick()
			// Ticks stay on a fixed schedule. If the engine fell behind, the
			// alarm fires right away.
			nextTick = nextTick.Add(e.tickInterval)
			alarm.Set(nextTick)
		}
	}
}
