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

import (
	"container/heap"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Hashes live in [1, MaxTheta); 63 bits are used so that theta can always
// exceed every hash.
const MaxTheta = uint64(math.MaxInt64)

// The smallest hash table allocated, before any growth.
const minLgTableSize = 5

// A Sketch is an update theta sketch. It is not safe for concurrent use.
type Sketch struct {
	cfg Config
	// The theta a freshly constructed or reset sketch starts at, derived from
	// the sampling probability.
	startTheta uint64
	// Only hashes below theta are retained.
	theta uint64
	// The number of retained hashes below theta.
	retained int
	table    hashTable
	// For Alpha sketches, a max-heap of the retained hashes. Unused for
	// QuickSelect.
	largest maxHeap
}

// New constructs an empty sketch. Out-of-range configuration values are
// replaced with defaults, so New never fails.
func New(cfg Config) *Sketch {
	cfg = cfg.normalize()
	s := &Sketch{
		cfg:        cfg,
		startTheta: uint64(cfg.SamplingProbability * float64(MaxTheta)),
	}
	if cfg.SamplingProbability == 1 {
		s.startTheta = MaxTheta
	}
	s.Reset()
	return s
}

// Config returns the sketch's normalized configuration.
func (s *Sketch) Config() Config {
	return s.cfg
}

// Reset clears all keys, restoring the sketch to its just-constructed state.
// The configuration is unchanged.
func (s *Sketch) Reset() {
	s.theta = s.startTheta
	s.retained = 0
	s.largest = s.largest[:0]
	s.table = newHashTable(s.initialLgTableSize())
}

// maxLgTableSize returns the size of the table once fully grown. Alpha
// sketches retain at most k+1 hashes and QuickSelect sketches at most 2k+1,
// and both keep the table at most about half full with live hashes.
func (s *Sketch) maxLgTableSize() uint8 {
	lgK := lg(s.cfg.NominalEntries)
	if s.cfg.Family == QuickSelect {
		return lgK + 2
	}
	return lgK + 1
}

func (s *Sketch) initialLgTableSize() uint8 {
	max := s.maxLgTableSize()
	if s.cfg.ResizeFactor == X1 || max <= minLgTableSize {
		return max
	}
	return minLgTableSize
}

// Update inserts a key. Any string is a valid key, including the empty string.
func (s *Sketch) Update(key string) {
	s.updateHash(xxhash.Sum64String(key) >> 1)
}

func (s *Sketch) updateHash(h uint64) {
	if h == 0 || h >= s.theta || s.table.contains(h) {
		return
	}
	if s.table.full() {
		s.grow()
	}
	s.table.insert(h)
	s.retained++
	k := s.cfg.NominalEntries
	switch s.cfg.Family {
	case Alpha:
		heap.Push(&s.largest, h)
		if s.retained > k {
			// The evicted hash stays in the table, but it's dead now that
			// it's not below theta.
			s.theta = heap.Pop(&s.largest).(uint64)
			s.retained--
		}
	case QuickSelect:
		if s.retained > 2*k {
			s.quickSelectRebuild()
		}
	}
}

// grow rebuilds the hash table without its dead hashes, enlarging it by the
// resize factor if it hasn't reached its maximum size.
func (s *Sketch) grow() {
	lgSize := s.table.lgSize
	if max := s.maxLgTableSize(); lgSize < max {
		step := uint8(s.cfg.ResizeFactor)
		if step == 0 {
			step = 1
		}
		lgSize += step
		if lgSize > max {
			lgSize = max
		}
	}
	s.table.rebuild(lgSize, s.table.live(s.theta, make([]uint64, 0, s.retained)))
}

// quickSelectRebuild keeps the k smallest retained hashes and sets theta to the
// next one.
func (s *Sketch) quickSelectRebuild() {
	k := s.cfg.NominalEntries
	hashes := s.table.live(s.theta, make([]uint64, 0, s.retained))
	s.theta = selectKth(hashes, k)
	s.retained = k
	s.table.rebuild(s.table.lgSize, hashes[:k])
}

// Result returns the current estimate and summary. It does not modify the
// sketch and may be called any number of times.
func (s *Sketch) Result() Result {
	return newResult(s.cfg.Family, s.retained, s.theta)
}

// Compact returns an immutable copy of the retained hashes, suitable for
// serialization and merging.
func (s *Sketch) Compact() *Compact {
	hashes := s.table.live(s.theta, make([]uint64, 0, s.retained))
	sortHashes(hashes)
	return &Compact{
		Family:         s.cfg.Family,
		NominalEntries: s.cfg.NominalEntries,
		Theta:          s.theta,
		Hashes:         hashes,
	}
}

// maxHeap implements heap.Interface, ordering the largest hash first.
type maxHeap []uint64

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i] > h[j] }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(uint64)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
