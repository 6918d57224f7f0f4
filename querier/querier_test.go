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

package querier

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ebay/sieve/aggregation"
	"github.com/ebay/sieve/config"
	"github.com/ebay/sieve/query"
	"github.com/ebay/sieve/record"
	"github.com/ebay/sieve/util/clocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults(maxCount int) query.Defaults {
	cfg := config.Default()
	cfg.RateLimit.MaxCount = maxCount
	return query.DefaultsFromConfig(cfg)
}

func newActive(t *testing.T, text string, maxCount int) (*Querier, *clocks.Mock) {
	clock := clocks.NewMock()
	q := New("q1", text, defaults(maxCount), Options{Clock: clock})
	require.NoError(t, q.Initialize())
	require.Equal(t, Active, q.State())
	return q, clock
}

func output(t *testing.T, q *Querier) Output {
	data := q.Data()
	require.NotNil(t, data)
	var out Output
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

const simpleQuery = `{"aggregation": {"type": "COUNT DISTINCT", "fields": ["userId"]}, "duration": 5000}`

func Test_InitializeSuccess(t *testing.T) {
	q, _ := newActive(t, simpleQuery, 0)
	assert := assert.New(t)
	assert.Equal("q1", q.ID())
	assert.Equal([]string{"userId"}, q.Spec().Fields)
	assert.False(q.IsDone())
	assert.False(q.IsClosed())
	assert.False(q.IsExceedingRateLimit())
	assert.Nil(q.RateLimitError())
	assert.EqualError(q.Initialize(), "querier q1: Initialize called in state Active")
}

func Test_InitializeFailures(t *testing.T) {
	tests := []struct {
		name string
		text string
		is   error
	}{
		{"noFields", `{"aggregation": {"type": "COUNT DISTINCT", "fields": []}}`, aggregation.ErrRequiresField},
		{"badJSON", `{"aggregation":`, nil},
		{"badType", `{"aggregation": {"type": "SUM", "fields": ["a"]}}`, nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			q := New("q", test.text, defaults(0), Options{})
			err := q.Initialize()
			var verr *query.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			if test.is != nil {
				assert.True(t, errors.Is(err, test.is))
			}
			assert.Equal(t, Failed, q.State())
			assert.Nil(t, q.Spec())
			assert.Nil(t, q.Data())
			assert.True(t, q.IsDone())
			assert.False(t, q.IsClosed())
		})
	}
}

type panicky struct {
	onInit    bool
	onConsume bool
}

func (p *panicky) Initialize() []error {
	if p.onInit {
		panic("init boom")
	}
	return nil
}

func (p *panicky) Consume(record.Record) {
	if p.onConsume {
		panic("consume boom")
	}
}

func (p *panicky) Result() (*aggregation.Result, error) {
	return &aggregation.Result{Name: "panicky"}, nil
}

func (p *panicky) Reset() {}

func withStrategy(t *testing.T, s aggregation.Strategy) {
	old := newStrategy
	newStrategy = func(*query.Spec) (aggregation.Strategy, error) { return s, nil }
	t.Cleanup(func() { newStrategy = old })
}

func Test_InitializeRecoversPanic(t *testing.T) {
	withStrategy(t, &panicky{onInit: true})
	q := New("q", simpleQuery, defaults(0), Options{})
	err := q.Initialize()
	var verr *query.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.EqualError(t, err, "invalid query: unable to initialize query: init boom")
	assert.Equal(t, Failed, q.State())
}

func Test_ConsumePanicFinishesQuery(t *testing.T) {
	withStrategy(t, &panicky{onConsume: true})
	q, _ := newActive(t, simpleQuery, 0)
	q.Consume(record.Record{"userId": "a"})
	assert.EqualError(t, q.Err(), "querier q1: failed to consume record: consume boom")
	assert.True(t, q.IsDone())
	assert.Nil(t, q.Data())
	// further records are ignored
	q.Consume(record.Record{"userId": "b"})
}

func Test_ConsumeOnlyWhenActive(t *testing.T) {
	q := New("q", simpleQuery, defaults(0), Options{})
	q.Consume(record.Record{"userId": "a"})
	assert.Nil(t, q.Data())

	q, _ = newActive(t, simpleQuery, 0)
	q.Consume(record.Record{"userId": "a"})
	q.CloseWindow()
	q.Consume(record.Record{"userId": "b"})
	out := output(t, q)
	assert.Equal(t, int64(1), out.Records)
	assert.Equal(t, 1.0, out.Result.Estimate)
}

func Test_RateLimit(t *testing.T) {
	q, clock := newActive(t, simpleQuery, 100)
	for i := 0; i < 100; i++ {
		q.Consume(record.Record{"userId": i})
	}
	assert.False(t, q.IsExceedingRateLimit())
	q.Consume(record.Record{"userId": 100})
	assert.True(t, q.IsExceedingRateLimit())
	for i := 101; i < 150; i++ {
		q.Consume(record.Record{"userId": i})
	}
	assert.Equal(t, &RateLimitError{Count: 150, Threshold: 100, Window: time.Second},
		q.RateLimitError())
	out := output(t, q)
	assert.Equal(t, int64(100), out.Records)
	assert.Equal(t, 100.0, out.Result.Estimate)

	// sticky, even after the limiter refills
	clock.Advance(2 * time.Second)
	q.Consume(record.Record{"userId": "late"})
	assert.True(t, q.IsExceedingRateLimit())
}

func Test_RateLimitSpreadOut(t *testing.T) {
	q, clock := newActive(t, simpleQuery, 10)
	for i := 0; i < 40; i++ {
		q.Consume(record.Record{"userId": i})
		clock.Advance(100 * time.Millisecond)
	}
	assert.False(t, q.IsExceedingRateLimit())
	assert.Nil(t, q.RateLimitError())
}

func Test_RateLimitEvenlySpacedInOneWindow(t *testing.T) {
	q, clock := newActive(t, simpleQuery, 100)
	for i := 0; i < 150; i++ {
		q.Consume(record.Record{"userId": i})
		if i == 99 {
			assert.False(t, q.IsExceedingRateLimit())
		}
		clock.Advance(time.Second / 151)
	}
	assert.True(t, q.IsExceedingRateLimit())
	assert.Equal(t, 150, q.RateLimitError().Count)
	assert.Equal(t, int64(100), output(t, q).Records)
}

func Test_RateLimitManyPerNanosecond(t *testing.T) {
	d := defaults(5)
	d.RateLimit.Window = time.Nanosecond
	q := New("q", simpleQuery, d, Options{Clock: clocks.NewMock()})
	require.NoError(t, q.Initialize())
	for i := 0; i < 6; i++ {
		q.Consume(record.Record{"userId": i})
	}
	assert.True(t, q.IsExceedingRateLimit())
}

func Test_NonRepeatingLifecycle(t *testing.T) {
	assert := assert.New(t)
	q, clock := newActive(t, simpleQuery, 0)
	q.Consume(record.Record{"userId": "a"})
	q.Consume(record.Record{"userId": nil})
	clock.Advance(4999 * time.Millisecond)
	assert.False(q.IsClosed())
	assert.False(q.IsClosedForPartition())
	clock.Advance(time.Millisecond)
	assert.True(q.IsClosed())
	assert.True(q.IsClosedForPartition())
	assert.False(q.IsDone())

	q.CloseWindow()
	assert.Equal(WindowClosed, q.State())
	out := output(t, q)
	assert.Equal("q1", out.ID)
	assert.Equal(0, out.Window)
	assert.Equal(2.0, out.Result.Estimate)

	q.Reset()
	assert.Equal(WindowClosed, q.State())
	assert.True(q.IsDone())
	assert.Nil(q.Data())
	q.Retire()
	assert.Equal(Retired, q.State())
	assert.True(q.IsDone())
}

func Test_TimeWindows(t *testing.T) {
	assert := assert.New(t)
	q, clock := newActive(t, `{"aggregation": {"type": "COUNT DISTINCT", "fields": ["userId"]},
		"duration": 3000, "window": {"type": "TIME", "every": 1000}}`, 0)
	for w := 0; w < 3; w++ {
		for i := 0; i <= w; i++ {
			q.Consume(record.Record{"userId": fmt.Sprintf("%d-%d", w, i)})
		}
		assert.False(q.IsClosed())
		clock.Advance(time.Second)
		assert.True(q.IsClosed(), "window %d", w)
		q.CloseWindow()
		out := output(t, q)
		assert.Equal(w, out.Window)
		assert.Equal(float64(w+1), out.Result.Estimate)
		assert.Equal(int64(w+1), out.Records)
		if w < 2 {
			assert.False(q.IsDone())
		} else {
			assert.True(q.IsDone())
		}
		q.Reset()
		assert.Equal(Active, q.State())
		assert.False(q.IsClosed())
	}
}

func Test_RecordWindows(t *testing.T) {
	assert := assert.New(t)
	q, _ := newActive(t, `{"aggregation": {"type": "COUNT DISTINCT", "fields": ["userId"]},
		"window": {"type": "RECORD", "every": 3}}`, 0)
	q.Consume(record.Record{"userId": "a"})
	q.Consume(record.Record{"userId": "b"})
	assert.False(q.IsClosedForPartition())
	q.Consume(record.Record{"userId": "a"})
	assert.True(q.IsClosedForPartition())
	assert.False(q.IsClosed())
	q.CloseWindow()
	assert.Equal(2.0, output(t, q).Result.Estimate)
	q.Reset()
	assert.False(q.IsClosedForPartition())
	assert.Equal(1, output(t, q).Window)
	assert.Equal(0.0, output(t, q).Result.Estimate)
}

func Test_ResetClearsRateLimit(t *testing.T) {
	q, clock := newActive(t, `{"aggregation": {"type": "COUNT DISTINCT", "fields": ["userId"]},
		"window": {"type": "TIME", "every": 1000}}`, 5)
	for i := 0; i < 6; i++ {
		q.Consume(record.Record{"userId": i})
	}
	require.True(t, q.IsExceedingRateLimit())
	clock.Advance(time.Second)
	q.CloseWindow()
	q.Reset()
	assert.False(t, q.IsExceedingRateLimit())
	q.Consume(record.Record{"userId": "x"})
	assert.False(t, q.IsExceedingRateLimit())
}

func Test_RateLimitError(t *testing.T) {
	err := &RateLimitError{Count: 150, Threshold: 100, Window: time.Second}
	assert.Equal(t, 150.0, err.Rate())
	assert.Equal(t, 100.0, err.MaxRate())
	assert.EqualError(t, err, "query exceeded its rate limit: received 150 records in 1s, "+
		"limit is 100 (150.00/s vs 100.00/s); the query was stopped")
	js, jerr := json.Marshal(err)
	require.NoError(t, jerr)
	assert.JSONEq(t, `{
		"type": "rateLimit",
		"error": "query exceeded its rate limit: received 150 records in 1s, limit is 100 (150.00/s vs 100.00/s); the query was stopped",
		"count": 150,
		"threshold": 100,
		"windowMillis": 1000,
		"rate": 150,
		"maxRate": 100
	}`, string(js))
	assert.Equal(t, 0.0, (&RateLimitError{}).Rate())
}

func Test_StateString(t *testing.T) {
	assert.Equal(t, "WindowClosed", WindowClosed.String())
	assert.Equal(t, "State(42)", State(42).String())
}
