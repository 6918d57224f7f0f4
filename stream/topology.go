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

// Package stream wires filter engines together into a topology: it runs one
// engine per partition, broadcasts query signals to all of them, routes each
// record to exactly one of them, and publishes their output.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ebay/sieve/config"
	"github.com/ebay/sieve/filter"
	"github.com/ebay/sieve/querier"
	"github.com/ebay/sieve/query"
	"github.com/ebay/sieve/record"
	"github.com/ebay/sieve/util/clocks"
	"github.com/ebay/sieve/util/parallel"
	log "github.com/sirupsen/logrus"
)

// Options define optional arguments to New. The zero value of Options is
// usable.
type Options struct {
	// Passed to every engine. Defaults to clocks.Wall.
	Clock clocks.Source
}

// Topology runs cfg.Filter.Partitions engines. Its methods are safe for
// concurrent use, but signals sent from different goroutines have no
// ordering guarantees relative to each other.
type Topology struct {
	defaults query.Defaults
	clock    clocks.Source
	emitter  filter.Emitter
	engines  []*filter.Engine
	signals  []chan filter.Signal
	routeKey string
	// Held for the duration of Submit.
	submitLock sync.Mutex
	// Used to spread records round-robin when there's no route key.
	next uint64
}

// New constructs a Topology. The engines do nothing until Run is called.
// emitter must be safe for concurrent use, since every engine calls it.
func New(cfg *config.Sieve, emitter filter.Emitter, options Options) *Topology {
	if options.Clock == nil {
		options.Clock = clocks.Wall
	}
	n := cfg.Filter.Partitions
	if n < 1 {
		n = 1
	}
	t := &Topology{
		defaults: query.DefaultsFromConfig(cfg),
		clock:    options.Clock,
		emitter:  emitter,
		engines:  make([]*filter.Engine, n),
		signals:  make([]chan filter.Signal, n),
		routeKey: cfg.Filter.RouteKey,
	}
	for i := range t.engines {
		t.engines[i] = filter.NewEngine(t.defaults, emitter, filter.Options{
			Partition:    i,
			Clock:        options.Clock,
			TickInterval: time.Duration(cfg.Filter.TickInterval),
		})
		t.signals[i] = make(chan filter.Signal, cfg.Filter.QueueSize)
	}
	return t
}

// Partitions returns the number of engines.
func (t *Topology) Partitions() int {
	return len(t.engines)
}

// Run is a blocking call that runs every engine. It returns once Close is
// called and the engines have drained their signals, or once the context is
// canceled.
func (t *Topology) Run(ctx context.Context) error {
	log.WithFields(log.Fields{
		"partitions": len(t.engines),
		"routeKey":   t.routeKey,
	}).Info("Starting filter engines")
	return parallel.InvokeN(ctx, len(t.engines), func(ctx context.Context, i int) error {
		return t.engines[i].Run(ctx, t.signals[i])
	})
}

// Close stops accepting signals. Engines finish the signals already queued,
// then Run returns. No other methods may be called after Close.
func (t *Topology) Close() {
	for _, ch := range t.signals {
		close(ch)
	}
}

// send delivers a signal to one engine, blocking while its queue is full.
func (t *Topology) send(ctx context.Context, partition int, sig filter.Signal) error {
	select {
	case t.signals[partition] <- sig:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Topology) broadcast(ctx context.Context, sig filter.Signal) error {
	for i := range t.signals {
		if err := t.send(ctx, i, sig); err != nil {
			return err
		}
	}
	return nil
}

// Submit validates a query once and, if it's valid, starts it on every engine.
// It returns once every engine has applied the submission. An invalid query,
// or one whose ID is already running, is reported to the emitter once, and its
// *query.ValidationError is returned.
func (t *Topology) Submit(ctx context.Context, id, text string) error {
	if id == "" {
		err := query.NewValidationError(fmt.Errorf("query has no identifier"))
		t.emitter.EmitError(id, err)
		return err
	}
	q := querier.New(id, text, t.defaults, querier.Options{Clock: t.clock})
	if err := q.Initialize(); err != nil {
		log.WithFields(log.Fields{
			"id":    id,
			"error": err,
		}).Info("Rejected query")
		t.emitter.EmitError(id, err)
		return err
	}
	// Submissions are serialized so that every engine sees them in the same
	// order, and agrees on which of two submissions of an ID came first.
	t.submitLock.Lock()
	defer t.submitLock.Unlock()
	results := make([]chan error, len(t.engines))
	for i := range t.signals {
		results[i] = make(chan error, 1)
		err := t.send(ctx, i, filter.SubmitSignal{ID: id, Text: text, Result: results[i]})
		if err != nil {
			return err
		}
	}
	var accepted []int
	var dup error
	for i, ch := range results {
		select {
		case err := <-ch:
			var running *filter.AlreadyRunningError
			switch {
			case err == nil:
				accepted = append(accepted, i)
			case errors.As(err, &running):
				dup = err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if dup == nil {
		return nil
	}
	// Engines that had already finished the earlier query started this one;
	// stop it there so that the partitions stay consistent.
	for _, i := range accepted {
		if err := t.send(ctx, i, filter.CancelSignal{ID: id}); err != nil {
			return err
		}
	}
	err := query.NewValidationError(dup)
	log.WithFields(log.Fields{
		"id": id,
	}).Info("Rejected duplicate query")
	t.emitter.EmitError(id, err)
	return err
}

// Cancel stops a query on every engine without emitting its results.
func (t *Topology) Cancel(ctx context.Context, id string) error {
	return t.broadcast(ctx, filter.CancelSignal{ID: id})
}

// Tick forces every engine to re-evaluate its windows now.
func (t *Topology) Tick(ctx context.Context) error {
	return t.broadcast(ctx, filter.TickSignal{})
}

// Record routes a record to one engine. If id is non-empty, only that query
// consumes it.
func (t *Topology) Record(ctx context.Context, id string, rec record.Record) error {
	return t.RecordAt(ctx, id, rec, time.Time{})
}

// RecordAt is like Record for a record produced at the given time, which the
// engine uses to measure end-to-end latency. A zero time means unknown.
func (t *Topology) RecordAt(ctx context.Context, id string, rec record.Record, produced time.Time) error {
	return t.send(ctx, t.route(rec), filter.RecordSignal{ID: id, Record: rec, Produced: produced})
}

// route picks the engine for a record: by the hash of the route key field if
// one is configured, otherwise round-robin.
func (t *Topology) route(rec record.Record) int {
	n := uint64(len(t.engines))
	if n == 1 {
		return 0
	}
	if t.routeKey != "" {
		return int(xxhash.Sum64String(rec.String(t.routeKey)) % n)
	}
	return int((atomic.AddUint64(&t.next, 1) - 1) % n)
}

// Queries returns the IDs of the queries running on each engine.
func (t *Topology) Queries() [][]string {
	res := make([][]string, len(t.engines))
	for i, e := range t.engines {
		res[i] = e.Queries()
	}
	return res
}
