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

// Package sketch implements theta sketches: mergeable probabilistic structures
// that estimate the number of distinct string keys in a stream within a
// configured error bound.
//
// A Sketch keeps the hashes of the smallest distinct keys it has seen, along
// with theta, the fraction of the hash space it still samples. Its estimate is
// the number of retained hashes divided by theta. The relative standard error
// is about 1/sqrt(k), where k is the nominal entry count, regardless of the
// number of distinct keys once it exceeds k.
package sketch

import "math/bits"

// Family selects how an update sketch discards hashes once it is full.
type Family int

const (
	// Alpha keeps exactly the k smallest hashes at all times, lowering theta
	// on every insert past k. It is the recommended family for real-time use.
	Alpha Family = iota
	// QuickSelect buffers up to 2k hashes, then keeps the k smallest in one
	// rebuild. Updates are cheaper on average; results may retain up to 2k
	// hashes.
	QuickSelect
)

func (f Family) String() string {
	switch f {
	case Alpha:
		return "ALPHA"
	case QuickSelect:
		return "QUICKSELECT"
	default:
		return "UNKNOWN"
	}
}

// FamilyFromString recognizes a user-supplied family name. Only "QUICKSELECT"
// selects QuickSelect; every other string, including the empty string, selects
// Alpha.
func FamilyFromString(family string) Family {
	if family == QuickSelect.String() {
		return QuickSelect
	}
	return Alpha
}

// ResizeFactor controls how quickly the sketch's hash table grows towards its
// maximum size. It is stored as the base-2 logarithm of the growth multiple.
type ResizeFactor uint8

// The supported resize factors. X1 allocates the full table up front.
const (
	X1 ResizeFactor = 0
	X2 ResizeFactor = 1
	X4 ResizeFactor = 2
	X8 ResizeFactor = 3
)

func (rf ResizeFactor) String() string {
	switch rf {
	case X1:
		return "X1"
	case X2:
		return "X2"
	case X4:
		return "X4"
	case X8:
		return "X8"
	default:
		return "UNKNOWN"
	}
}

// ResizeFactorFromString recognizes "X1", "X2", "X4" and "X8". Every other
// string selects X8.
func ResizeFactorFromString(rf string) ResizeFactor {
	for _, candidate := range []ResizeFactor{X1, X2, X4} {
		if rf == candidate.String() {
			return candidate
		}
	}
	return X8
}

// Defaults, matching the recommended tuning for real-time systems. With 16384
// nominal entries the estimate is within about 2.3% at three standard
// deviations.
const (
	DefaultFamily              = Alpha
	DefaultResizeFactor        = X8
	DefaultSamplingProbability = 1.0
	DefaultNominalEntries      = 16384
	// Smaller nominal entry counts are raised to this.
	MinNominalEntries = 16
)

// Config describes a sketch. The zero value is usable: it selects the default
// family, sampling probability and nominal entries, with resize factor X1.
type Config struct {
	Family       Family
	ResizeFactor ResizeFactor
	// The probability in (0, 1] that any given distinct key is kept before the
	// sketch fills up. Out-of-range values mean 1.
	SamplingProbability float64
	// Rounded up to a power of two, at least MinNominalEntries. Zero means
	// DefaultNominalEntries.
	NominalEntries int
}

// normalize returns the config with defaults filled in and values brought into
// range.
func (cfg Config) normalize() Config {
	if cfg.Family != Alpha && cfg.Family != QuickSelect {
		cfg.Family = DefaultFamily
	}
	if cfg.ResizeFactor > X8 {
		cfg.ResizeFactor = DefaultResizeFactor
	}
	if cfg.SamplingProbability <= 0 || cfg.SamplingProbability > 1 {
		cfg.SamplingProbability = DefaultSamplingProbability
	}
	switch {
	case cfg.NominalEntries == 0:
		cfg.NominalEntries = DefaultNominalEntries
	case cfg.NominalEntries < MinNominalEntries:
		cfg.NominalEntries = MinNominalEntries
	}
	cfg.NominalEntries = 1 << lg(cfg.NominalEntries)
	return cfg
}

// lg returns the base-2 logarithm of n rounded up.
func lg(n int) uint8 {
	if n <= 1 {
		return 0
	}
	return uint8(bits.Len(uint(n - 1)))
}
