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
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// Compact is an immutable, serializable snapshot of a sketch. Compacts from
// different sketches, such as those built over separate partitions of a
// stream, can be merged with Union.
type Compact struct {
	Family         Family
	NominalEntries int
	Theta          uint64
	// Sorted in increasing order, all below Theta.
	Hashes []uint64
}

// Result returns the compact sketch's estimate.
func (c *Compact) Result() Result {
	return newResult(c.Family, len(c.Hashes), c.Theta)
}

// Binary layout, little-endian:
//
//	magic     uint16
//	version   uint8
//	family    uint8
//	lgK       uint8
//	reserved  [3]byte
//	theta     uint64
//	count     uint32
//	hashes    [count]uint64
const (
	compactMagic      = uint16(0x7e7a)
	compactVersion    = uint8(1)
	compactHeaderSize = 2 + 1 + 1 + 1 + 3 + 8 + 4
)

// ErrCorrupt is returned by UnmarshalCompact for malformed input.
var ErrCorrupt = errors.New("sketch: corrupt compact sketch")

// MarshalBinary implements encoding.BinaryMarshaler.
func (c *Compact) MarshalBinary() ([]byte, error) {
	buf := make([]byte, compactHeaderSize+8*len(c.Hashes))
	binary.LittleEndian.PutUint16(buf[0:], compactMagic)
	buf[2] = compactVersion
	buf[3] = uint8(c.Family)
	buf[4] = lg(c.NominalEntries)
	binary.LittleEndian.PutUint64(buf[8:], c.Theta)
	binary.LittleEndian.PutUint32(buf[16:], uint32(len(c.Hashes)))
	pos := compactHeaderSize
	for _, h := range c.Hashes {
		binary.LittleEndian.PutUint64(buf[pos:], h)
		pos += 8
	}
	return buf, nil
}

// UnmarshalCompact decodes the output of MarshalBinary.
func UnmarshalCompact(data []byte) (*Compact, error) {
	if len(data) < compactHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrCorrupt, len(data))
	}
	if magic := binary.LittleEndian.Uint16(data[0:]); magic != compactMagic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrCorrupt, magic)
	}
	if data[2] != compactVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, data[2])
	}
	c := &Compact{
		Family:         Family(data[3]),
		NominalEntries: 1 << data[4],
		Theta:          binary.LittleEndian.Uint64(data[8:]),
	}
	if c.Family != Alpha && c.Family != QuickSelect {
		return nil, fmt.Errorf("%w: unknown family %d", ErrCorrupt, data[3])
	}
	if data[4] > 30 {
		return nil, fmt.Errorf("%w: lgK %d out of range", ErrCorrupt, data[4])
	}
	if c.Theta == 0 || c.Theta > MaxTheta {
		return nil, fmt.Errorf("%w: theta %d out of range", ErrCorrupt, c.Theta)
	}
	count := int(binary.LittleEndian.Uint32(data[16:]))
	if len(data) != compactHeaderSize+8*count {
		return nil, fmt.Errorf("%w: expected %d hashes in %d bytes",
			ErrCorrupt, count, len(data))
	}
	c.Hashes = make([]uint64, count)
	pos := compactHeaderSize
	for i := range c.Hashes {
		c.Hashes[i] = binary.LittleEndian.Uint64(data[pos:])
		if c.Hashes[i] >= c.Theta {
			return nil, fmt.Errorf("%w: hash %#x is not below theta %#x", ErrCorrupt, c.Hashes[i], c.Theta)
		}
		pos += 8
	}
	return c, nil
}

// Union merges compact sketches into one holding at most nominalEntries
// hashes. The result's theta is the smallest of the inputs' thetas, lowered
// further if more than nominalEntries hashes remain. Union of no sketches is
// empty. The result uses the first input's family, or Alpha if there are none.
func Union(nominalEntries int, sketches ...*Compact) *Compact {
	k := Config{NominalEntries: nominalEntries}.normalize().NominalEntries
	res := &Compact{
		Family:         Alpha,
		NominalEntries: k,
		Theta:          MaxTheta,
	}
	total := 0
	for i, c := range sketches {
		if i == 0 {
			res.Family = c.Family
		}
		if c.Theta < res.Theta {
			res.Theta = c.Theta
		}
		total += len(c.Hashes)
	}
	hashes := make([]uint64, 0, total)
	for _, c := range sketches {
		for _, h := range c.Hashes {
			if h < res.Theta {
				hashes = append(hashes, h)
			}
		}
	}
	sortHashes(hashes)
	hashes = dedupe(hashes)
	if len(hashes) > k {
		res.Theta = hashes[k]
		hashes = hashes[:k]
	}
	res.Hashes = hashes
	return res
}

func sortHashes(hashes []uint64) {
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
}

// dedupe removes adjacent duplicates from a sorted slice in place.
func dedupe(hashes []uint64) []uint64 {
	if len(hashes) == 0 {
		return hashes
	}
	out := hashes[:1]
	for _, h := range hashes[1:] {
		if h != out[len(out)-1] {
			out = append(out, h)
		}
	}
	return out
}

// selectKth partially orders the distinct hashes so that the k smallest
// occupy hashes[:k] and hashes[k] is the next smallest, which it returns. It
// requires len(hashes) > k.
func selectKth(hashes []uint64, k int) uint64 {
	lo, hi := 0, len(hashes)-1
	for lo < hi {
		p := partition(hashes, lo, hi)
		switch {
		case p == k:
			return hashes[k]
		case p < k:
			lo = p + 1
		default:
			hi = p - 1
		}
	}
	return hashes[k]
}

// partition uses the middle element as pivot and returns its final index.
func partition(hashes []uint64, lo, hi int) int {
	mid := lo + (hi-lo)/2
	hashes[mid], hashes[hi] = hashes[hi], hashes[mid]
	pivot := hashes[hi]
	i := lo
	for j := lo; j < hi; j++ {
		if hashes[j] < pivot {
			hashes[i], hashes[j] = hashes[j], hashes[i]
			i++
		}
	}
	hashes[i], hashes[hi] = hashes[hi], hashes[i]
	return i
}
