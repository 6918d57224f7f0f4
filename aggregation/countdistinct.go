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

package aggregation

import (
	"errors"
	"fmt"

	"github.com/ebay/sieve/query"
	"github.com/ebay/sieve/record"
	"github.com/ebay/sieve/sketch"
	"github.com/golang/snappy"
)

// ErrRequiresField is returned by CountDistinct.Initialize when the query names
// no fields.
var ErrRequiresField = errors.New("COUNT DISTINCT requires at least one field")

// CountDistinct estimates the number of distinct combinations of a query's
// fields. Each record's field values are joined by the separator into one
// key, so a single sketch covers any number of fields.
type CountDistinct struct {
	fields    []string
	separator string
	newName   string
	sketch    *sketch.Sketch
}

// NewCountDistinct returns a CountDistinct strategy for the query.
func NewCountDistinct(spec *query.Spec) *CountDistinct {
	name := spec.NewName
	if name == "" {
		name = query.CountDistinct
	}
	return &CountDistinct{
		fields:    spec.Fields,
		separator: spec.Separator,
		newName:   name,
		sketch:    sketch.New(spec.Sketch),
	}
}

// Initialize implements Strategy.Initialize.
func (cd *CountDistinct) Initialize() []error {
	if len(cd.fields) == 0 {
		return []error{ErrRequiresField}
	}
	return nil
}

// Consume implements Strategy.Consume. Missing and null fields contribute
// "null" to the key.
func (cd *CountDistinct) Consume(rec record.Record) {
	cd.sketch.Update(rec.Join(cd.fields, cd.separator))
}

// Result implements Strategy.Result.
func (cd *CountDistinct) Result() (*Result, error) {
	compact := cd.sketch.Compact()
	data, err := compact.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("unable to serialize sketch: %v", err)
	}
	res := newResult(cd.newName, cd.sketch.Result())
	res.Sketch = snappy.Encode(nil, data)
	return res, nil
}

// Reset implements Strategy.Reset.
func (cd *CountDistinct) Reset() {
	cd.sketch.Reset()
}
