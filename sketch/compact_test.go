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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_CompactMatchesSketch(t *testing.T) {
	assert := assert.New(t)
	s := New(Config{NominalEntries: 256})
	fill(s, "c", 3000)
	c := s.Compact()
	assert.Equal(s.Result(), c.Result())
	assert.Len(c.Hashes, 256)
	assert.IsIncreasing(c.Hashes)
	for _, h := range c.Hashes {
		assert.True(h < c.Theta)
	}
}

func Test_CompactBinaryRoundTrip(t *testing.T) {
	s := New(Config{Family: QuickSelect, NominalEntries: 64})
	fill(s, "r", 777)
	c := s.Compact()
	data, err := c.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, data, compactHeaderSize+8*len(c.Hashes))
	decoded, err := UnmarshalCompact(data)
	require.NoError(t, err)
	assert.Equal(t, c, decoded)
}

func Test_UnmarshalCompactErrors(t *testing.T) {
	c := New(Config{}).Compact()
	c.Hashes = []uint64{5, 7}
	good, err := c.MarshalBinary()
	require.NoError(t, err)
	corrupt := func(f func([]byte) []byte) []byte {
		return f(append([]byte(nil), good...))
	}
	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"short", good[:10]},
		{"magic", corrupt(func(b []byte) []byte { b[0]++; return b })},
		{"version", corrupt(func(b []byte) []byte { b[2] = 9; return b })},
		{"family", corrupt(func(b []byte) []byte { b[3] = 9; return b })},
		{"lgK", corrupt(func(b []byte) []byte { b[4] = 40; return b })},
		{"zeroTheta", corrupt(func(b []byte) []byte { binary.LittleEndian.PutUint64(b[8:], 0); return b })},
		{"thetaTooBig", corrupt(func(b []byte) []byte { binary.LittleEndian.PutUint64(b[8:], MaxTheta+1); return b })},
		{"hashAboveTheta", corrupt(func(b []byte) []byte { binary.LittleEndian.PutUint64(b[8:], 6); return b })},
		{"truncated", good[:len(good)-1]},
		{"trailing", append(append([]byte(nil), good...), 0)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := UnmarshalCompact(test.input)
			assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
		})
	}
}

func Test_UnionDisjointPartitions(t *testing.T) {
	assert := assert.New(t)
	whole := New(Config{NominalEntries: 1024})
	var parts []*Compact
	for p := 0; p < 4; p++ {
		s := New(Config{NominalEntries: 1024})
		for i := 0; i < 20000; i++ {
			key := fmt.Sprintf("p%d-%d", p, i)
			s.Update(key)
			whole.Update(key)
		}
		parts = append(parts, s.Compact())
	}
	u := Union(1024, parts...)
	// A union of Alpha sketches over a partitioned stream retains the same k
	// smallest hashes as one sketch over the whole stream.
	assert.Equal(whole.Compact().Hashes, u.Hashes)
	assert.Equal(whole.Result().Estimate, u.Result().Estimate)
	assert.True(u.Result().EstimationMode)

	reversed := make([]*Compact, len(parts))
	for i, p := range parts {
		reversed[len(parts)-1-i] = p
	}
	assert.Equal(u, Union(1024, reversed...))
	assert.Equal(Union(1024, parts[0], parts[1]), Union(1024, parts[1], parts[0]))
}

func Test_UnionOverlapping(t *testing.T) {
	assert := assert.New(t)
	a := New(Config{})
	b := New(Config{})
	fill(a, "", 600)
	for i := 400; i < 1000; i++ {
		b.Update(fmt.Sprint(i))
	}
	ab := Union(0, a.Compact(), b.Compact())
	ba := Union(0, b.Compact(), a.Compact())
	assert.Equal(1000.0, ab.Result().Estimate)
	assert.Equal(ab, ba)
}

func Test_UnionEmpty(t *testing.T) {
	u := Union(16)
	assert.Equal(t, 0.0, u.Result().Estimate)
	assert.Equal(t, MaxTheta, u.Theta)
	assert.Equal(t, Alpha, u.Family)
}
