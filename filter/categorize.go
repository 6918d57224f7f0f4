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

// Package filter runs queries over a stream of records. An Engine owns one
// Registry of queries and applies every signal for it in a single goroutine.
// After each record or tick, the engine categorizes every query as retired,
// rate-limited, closed, or active, and emits and evicts accordingly.
package filter

import (
	"sort"

	"github.com/ebay/sieve/querier"
	"github.com/ebay/sieve/record"
)

// A ClosePredicate decides whether a query's current window has closed.
type ClosePredicate func(q *querier.Querier) bool

// The two window-closing checks. ClosedForPartition is used after records
// arrive; it also closes record-count windows. ClosedOnTick is used on
// periodic ticks and considers only time.
var (
	ClosedForPartition ClosePredicate = (*querier.Querier).IsClosedForPartition
	ClosedOnTick       ClosePredicate = (*querier.Querier).IsClosed
)

// Category is the result of a categorization scan. Every query in the
// registry at the time of the scan appears in exactly one of the maps, keyed
// by ID.
type Category struct {
	// Permanently finished. Their remaining data should be emitted and they
	// should be removed.
	Retired map[string]*querier.Querier
	// Over their rate limit. An error should be emitted and they should be
	// removed.
	RateLimited map[string]*querier.Querier
	// Their current window closed. Their data should be emitted and they
	// should be reset.
	Closed map[string]*querier.Querier
	// Nothing to do.
	Active map[string]*querier.Querier
}

// Len returns the total number of queries categorized.
func (c Category) Len() int {
	return len(c.Retired) + len(c.RateLimited) + len(c.Closed) + len(c.Active)
}

// Categorize sorts every query in the registry into one bucket. The checks run
// in a fixed order: rate-limited, then retired, then closed, otherwise active.
// Categorize doesn't modify the registry or the queries.
func Categorize(reg *Registry, closed ClosePredicate) Category {
	c := Category{
		Retired:     make(map[string]*querier.Querier),
		RateLimited: make(map[string]*querier.Querier),
		Closed:      make(map[string]*querier.Querier),
		Active:      make(map[string]*querier.Querier),
	}
	reg.Ascend(func(q *querier.Querier) bool {
		switch {
		case q.IsExceedingRateLimit():
			c.RateLimited[q.ID()] = q
		case q.IsDone():
			c.Retired[q.ID()] = q
		case closed(q):
			c.Closed[q.ID()] = q
		default:
			c.Active[q.ID()] = q
		}
		return true
	})
	return c
}

// CategorizeRecord feeds the record to every Active query, then categorizes
// the registry.
func CategorizeRecord(rec record.Record, reg *Registry, closed ClosePredicate) Category {
	reg.Ascend(func(q *querier.Querier) bool {
		if q.State() == querier.Active {
			q.Consume(rec)
		}
		return true
	})
	return Categorize(reg, closed)
}

// sortedIDs returns the map's keys in order.
func sortedIDs(queries map[string]*querier.Querier) []string {
	ids := make([]string, 0, len(queries))
	for id := range queries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
