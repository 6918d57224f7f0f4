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

// hashTable is an open-addressing set of non-zero hashes with linear probing.
// It never deletes: hashes at or above the sketch's theta are dead and are
// dropped the next time the table is rebuilt.
type hashTable struct {
	slots  []uint64
	lgSize uint8
	// The number of occupied slots, counting dead hashes.
	used int
}

// The table is rebuilt once more than 3/4 of its slots are occupied.
func (t *hashTable) full() bool {
	return 4*(t.used+1) > 3*len(t.slots)
}

func newHashTable(lgSize uint8) hashTable {
	return hashTable{
		slots:  make([]uint64, 1<<lgSize),
		lgSize: lgSize,
	}
}

// find returns the slot index holding h, or the empty slot where h belongs.
func (t *hashTable) find(h uint64) int {
	mask := len(t.slots) - 1
	i := int(h & uint64(mask))
	for {
		if t.slots[i] == 0 || t.slots[i] == h {
			return i
		}
		i = (i + 1) & mask
	}
}

func (t *hashTable) contains(h uint64) bool {
	return t.slots[t.find(h)] == h
}

// insert adds h, which must not already be present, and the table must not be
// full.
func (t *hashTable) insert(h uint64) {
	t.slots[t.find(h)] = h
	t.used++
}

// live appends the hashes below theta to 'into' and returns it.
func (t *hashTable) live(theta uint64, into []uint64) []uint64 {
	for _, h := range t.slots {
		if h != 0 && h < theta {
			into = append(into, h)
		}
	}
	return into
}

// rebuild replaces the table with one of the given size holding only the
// given hashes.
func (t *hashTable) rebuild(lgSize uint8, hashes []uint64) {
	*t = newHashTable(lgSize)
	for _, h := range hashes {
		t.insert(h)
	}
}
