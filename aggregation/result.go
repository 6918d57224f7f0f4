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
	"fmt"

	"github.com/ebay/sieve/sketch"
	"github.com/golang/snappy"
)

// Result is the serializable output of an aggregation.
type Result struct {
	// The label the query gave the aggregation.
	Name     string   `json:"name"`
	Estimate float64  `json:"estimate"`
	Meta     Metadata `json:"meta"`
	// The snappy-compressed binary form of the compact sketch, so that
	// results from several partitions can be merged downstream with
	// sketch.Union. Empty for aggregations that don't use sketches.
	Sketch []byte `json:"sketch,omitempty"`
}

// Metadata describes how the estimate was obtained.
type Metadata struct {
	Family         string  `json:"family"`
	Theta          float64 `json:"theta"`
	Retained       int     `json:"retained"`
	EstimationMode bool    `json:"estimationMode"`
	Bounds         []Bound `json:"bounds"`
}

// Bound is a confidence interval around the estimate.
type Bound struct {
	StdDevs int     `json:"stdDevs"`
	Lower   float64 `json:"lower"`
	Upper   float64 `json:"upper"`
}

func newResult(name string, res sketch.Result) *Result {
	bounds := make([]Bound, len(res.Bounds))
	for i, b := range res.Bounds {
		bounds[i] = Bound{StdDevs: b.StdDevs, Lower: b.Lower, Upper: b.Upper}
	}
	return &Result{
		Name:     name,
		Estimate: res.Estimate,
		Meta: Metadata{
			Family:         res.Family.String(),
			Theta:          res.Theta,
			Retained:       res.Retained,
			EstimationMode: res.EstimationMode,
			Bounds:         bounds,
		},
	}
}

// DecodeSketch returns the compact sketch carried in the result.
func (r *Result) DecodeSketch() (*sketch.Compact, error) {
	if len(r.Sketch) == 0 {
		return nil, fmt.Errorf("result %q carries no sketch", r.Name)
	}
	data, err := snappy.Decode(nil, r.Sketch)
	if err != nil {
		return nil, fmt.Errorf("unable to decompress sketch: %v", err)
	}
	return sketch.UnmarshalCompact(data)
}

// Merge combines results for the same query from several partitions into one,
// using the union of their sketches. It returns an error if any of the results
// lacks a sketch.
func Merge(nominalEntries int, results ...*Result) (*Result, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("no results to merge")
	}
	compacts := make([]*sketch.Compact, len(results))
	for i, r := range results {
		c, err := r.DecodeSketch()
		if err != nil {
			return nil, err
		}
		compacts[i] = c
	}
	union := sketch.Union(nominalEntries, compacts...)
	data, err := union.MarshalBinary()
	if err != nil {
		return nil, err
	}
	merged := newResult(results[0].Name, union.Result())
	merged.Sketch = snappy.Encode(nil, data)
	return merged, nil
}
