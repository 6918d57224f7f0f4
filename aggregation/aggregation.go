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

// Package aggregation contains the aggregations that queries compute over the
// records they consume.
package aggregation

import (
	"fmt"

	"github.com/ebay/sieve/query"
	"github.com/ebay/sieve/record"
)

// A Strategy computes one query's aggregation. Implementations are not safe for
// concurrent use.
type Strategy interface {
	// Initialize checks that the query suits the aggregation. It returns nil
	// if the strategy is ready to consume records.
	Initialize() []error
	// Consume folds one record into the aggregation.
	Consume(rec record.Record)
	// Result returns the aggregation so far. It does not modify the strategy.
	Result() (*Result, error)
	// Reset discards everything consumed, keeping the configuration.
	Reset()
}

// New returns the strategy for the query's aggregation type. It returns a
// *query.ValidationError for unknown types.
func New(spec *query.Spec) (Strategy, error) {
	switch spec.Type {
	case query.CountDistinct:
		return NewCountDistinct(spec), nil
	default:
		return nil, query.NewValidationError(
			fmt.Errorf("unsupported aggregation type %q", spec.Type))
	}
}
