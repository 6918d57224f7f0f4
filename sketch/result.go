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

package sketch

import "math"

// Result describes a sketch's estimate.
type Result struct {
	// The family of the sketch that produced the result.
	Family Family
	// The estimated number of distinct keys.
	Estimate float64
	// The fraction of the hash space still sampled, in (0, 1].
	Theta float64
	// The number of hashes the sketch holds.
	Retained int
	// False if the estimate is an exact count.
	EstimationMode bool
	// Bounds on the estimate at 1, 2 and 3 standard deviations, in that
	// order.
	Bounds []Bound
}

// Bound is an approximate confidence interval around an estimate.
type Bound struct {
	StdDevs int
	Lower   float64
	Upper   float64
}

func newResult(family Family, retained int, theta uint64) Result {
	res := Result{
		Family:         family,
		Theta:          float64(theta) / float64(MaxTheta),
		Retained:       retained,
		EstimationMode: theta < MaxTheta,
		Bounds:         make([]Bound, 3),
	}
	n := float64(retained)
	if !res.EstimationMode {
		res.Estimate = n
	} else {
		res.Estimate = n / res.Theta
	}
	// Each distinct key was kept with probability theta, so the retained count
	// is binomial with variance estimate*theta*(1-theta).
	stdDev := 0.0
	if res.EstimationMode {
		stdDev = math.Sqrt(n*(1-res.Theta)) / res.Theta
	}
	for i := range res.Bounds {
		devs := float64(i + 1)
		res.Bounds[i] = Bound{
			StdDevs: i + 1,
			Lower:   math.Max(n, res.Estimate-devs*stdDev),
			Upper:   res.Estimate + devs*stdDev,
		}
	}
	return res
}
