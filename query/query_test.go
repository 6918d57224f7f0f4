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

package query

import (
	"errors"
	"testing"
	"time"

	"github.com/ebay/sieve/config"
	"github.com/ebay/sieve/sketch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefaults() Defaults {
	return DefaultsFromConfig(config.Default())
}

func Test_DefaultsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.CountDistinct.Family = "QUICKSELECT"
	cfg.CountDistinct.ResizeFactor = "X2"
	cfg.RateLimit.MaxCount = 100
	d := DefaultsFromConfig(cfg)
	assert.Equal(t, Defaults{
		Separator: "|",
		NewName:   "COUNT DISTINCT",
		Sketch: sketch.Config{
			Family:              sketch.QuickSelect,
			ResizeFactor:        sketch.X2,
			SamplingProbability: 1,
			NominalEntries:      16384,
		},
		DefaultDuration: 30 * time.Second,
		MaxDuration:     120 * time.Second,
		RateLimit:       RateLimit{MaxCount: 100, Window: time.Second},
	}, d)
	cfg.CountDistinct.Family = "bogus"
	assert.Equal(t, sketch.Alpha, DefaultsFromConfig(cfg).Sketch.Family)
}

func Test_ParseFull(t *testing.T) {
	spec, err := Parse(`{
		"aggregation": {"type": "count distinct", "fields": ["userId", "page"],
		                "attributes": {"newName": "users"}},
		"duration": 5000,
		"window": {"type": "TIME", "every": 1000}
	}`, testDefaults())
	require.NoError(t, err)
	assert := assert.New(t)
	assert.Equal(CountDistinct, spec.Type)
	assert.Equal([]string{"userId", "page"}, spec.Fields)
	assert.Equal("users", spec.NewName)
	assert.Equal("|", spec.Separator)
	assert.Equal(5*time.Second, spec.Duration)
	assert.Equal(Window{Type: TimeWindow, Every: time.Second}, spec.Window)
	assert.True(spec.Window.Repeating())
	assert.Equal(16384, spec.Sketch.NominalEntries)
	assert.False(spec.RateLimit.Enabled())
}

func Test_ParseDefaults(t *testing.T) {
	spec, err := Parse(`{"aggregation": {"type": "COUNT DISTINCT", "fields": ["a"]}}`, testDefaults())
	require.NoError(t, err)
	assert.Equal(t, "COUNT DISTINCT", spec.NewName)
	assert.Equal(t, 30*time.Second, spec.Duration)
	assert.Equal(t, Window{}, spec.Window)
	assert.False(t, spec.Window.Repeating())
}

func Test_ParseClampsDuration(t *testing.T) {
	spec, err := Parse(`{"aggregation": {"type": "COUNT DISTINCT", "fields": ["a"]}, "duration": 999999999}`,
		testDefaults())
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, spec.Duration)

	spec, err = Parse(`{"aggregation": {"type": "COUNT DISTINCT", "fields": ["a"]}, "duration": 9223372036854}`,
		testDefaults())
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, spec.Duration)
}

func Test_ParseRecordWindow(t *testing.T) {
	spec, err := Parse(`{"aggregation": {"type": "COUNT DISTINCT", "fields": ["a"]},
		"window": {"type": "record", "every": 10}}`, testDefaults())
	require.NoError(t, err)
	assert.Equal(t, Window{Type: RecordWindow, Records: 10}, spec.Window)
}

func Test_ParseZeroFieldsIsNotAParseError(t *testing.T) {
	spec, err := Parse(`{"aggregation": {"type": "COUNT DISTINCT"}}`, testDefaults())
	require.NoError(t, err)
	assert.Empty(t, spec.Fields)
}

func Test_ParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		causes []string
	}{
		{"notJSON", `{`, []string{"query is not valid JSON: unexpected EOF"}},
		{"trailing", `{"aggregation": {"type": "COUNT DISTINCT"}} {}`,
			[]string{"found unexpected data after query"}},
		{"unknownKey", `{"bogus": 1}`,
			[]string{`query is not valid JSON: json: unknown field "bogus"`}},
		{"noAggregation", `{}`, []string{"query has no aggregation"}},
		{"several", `{"duration": -1, "window": {"type": "TIME", "every": 0}}`, []string{
			"query has no aggregation",
			"duration must not be negative, got -1",
			"window every must be positive, got 0",
		}},
		{"windowType", `{"aggregation": {"type": "COUNT DISTINCT"}, "window": {"type": "SLIDING", "every": 5}}`,
			[]string{`unknown window type "SLIDING"`}},
		{"recordEvery", `{"aggregation": {"type": "COUNT DISTINCT"}, "window": {"type": "RECORD", "every": -2}}`,
			[]string{"window every must be positive, got -2"}},
		{"hugeDuration", `{"aggregation": {"type": "COUNT DISTINCT"}, "duration": 9223372036855}`,
			[]string{"duration must be at most 9223372036854, got 9223372036855"}},
		{"hugeEvery", `{"aggregation": {"type": "COUNT DISTINCT"}, "window": {"type": "TIME", "every": 9000000000000000000}}`,
			[]string{"window every must be at most 9223372036854, got 9000000000000000000"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			spec, err := Parse(test.text, testDefaults())
			assert.Nil(t, spec)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			var msgs []string
			for _, cause := range verr.Causes {
				msgs = append(msgs, cause.Error())
			}
			assert.Equal(t, test.causes, msgs)
		})
	}
}

func Test_ValidationError(t *testing.T) {
	cause := errors.New("b")
	err := NewValidationError(errors.New("a"), cause)
	assert.EqualError(t, err, "invalid query: a; b")
	assert.True(t, errors.Is(err, cause))
	js, jerr := err.MarshalJSON()
	require.NoError(t, jerr)
	assert.JSONEq(t, `{"type": "validation", "errors": ["a", "b"]}`, string(js))
}
