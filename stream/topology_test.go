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

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ebay/sieve/aggregation"
	"github.com/ebay/sieve/config"
	"github.com/ebay/sieve/querier"
	"github.com/ebay/sieve/query"
	"github.com/ebay/sieve/record"
	"github.com/ebay/sieve/util/clocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	id   string
	data []byte
	err  error
}

type recorder struct {
	lock sync.Mutex
	out  []emitted
}

func (r *recorder) EmitData(id string, data []byte) {
	r.lock.Lock()
	r.out = append(r.out, emitted{id: id, data: data})
	r.lock.Unlock()
}

func (r *recorder) EmitError(id string, err error) {
	r.lock.Lock()
	r.out = append(r.out, emitted{id: id, err: err})
	r.lock.Unlock()
}

func (r *recorder) all() []emitted {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]emitted(nil), r.out...)
}

func testConfig(partitions int) *config.Sieve {
	cfg := config.Default()
	cfg.Filter.Partitions = partitions
	// Ticks are sent explicitly in these tests.
	cfg.Filter.TickInterval = config.Duration(time.Hour)
	// Unbuffered, so a send returns only after the engine has applied the
	// previous signal.
	cfg.Filter.QueueSize = 0
	return cfg
}

// start runs the topology in the background and returns a function that
// closes it and waits for Run to return.
func start(t *testing.T, topo *Topology) (stop func()) {
	done := make(chan error, 1)
	go func() { done <- topo.Run(context.Background()) }()
	return func() {
		topo.Close()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Run didn't return after Close")
		}
	}
}

func Test_SubmitInvalidReportedOnce(t *testing.T) {
	rec := &recorder{}
	topo := New(testConfig(4), rec, Options{Clock: clocks.NewMock()})
	stop := start(t, topo)
	ctx := context.Background()
	err := topo.Submit(ctx, "q", `{"aggregation": {"type": "COUNT DISTINCT", "fields": []}}`)
	var verr *query.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, errors.Is(err, aggregation.ErrRequiresField))
	err = topo.Submit(ctx, "", `{"aggregation": {"type": "COUNT DISTINCT", "fields": ["a"]}}`)
	assert.EqualError(t, err, "invalid query: query has no identifier")
	stop()
	out := rec.all()
	require.Len(t, out, 2)
	assert.Equal(t, "q", out[0].id)
	for _, queries := range topo.Queries() {
		assert.Empty(t, queries)
	}
}

func Test_SubmitDuplicateRejected(t *testing.T) {
	rec := &recorder{}
	topo := New(testConfig(2), rec, Options{Clock: clocks.NewMock()})
	stop := start(t, topo)
	ctx := context.Background()
	text := `{"aggregation": {"type": "COUNT DISTINCT", "fields": ["a"]}, "duration": 1000}`
	require.NoError(t, topo.Submit(ctx, "dup", text))
	// Submit returns once the engines have applied it.
	assert.Equal(t, [][]string{{"dup"}, {"dup"}}, topo.Queries())
	err := topo.Submit(ctx, "dup", text)
	var verr *query.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.EqualError(t, err, "invalid query: query dup is already running")
	assert.Equal(t, [][]string{{"dup"}, {"dup"}}, topo.Queries())
	stop()
	out := rec.all()
	require.Len(t, out, 1)
	assert.Equal(t, "dup", out[0].id)
	assert.Equal(t, err, out[0].err)
}

func Test_PartitionedCountDistinct(t *testing.T) {
	rec := &recorder{}
	clock := clocks.NewMock()
	cfg := testConfig(3)
	cfg.Filter.RouteKey = "userId"
	topo := New(cfg, rec, Options{Clock: clock})
	assert.Equal(t, 3, topo.Partitions())
	stop := start(t, topo)
	ctx := context.Background()
	require.NoError(t, topo.Submit(ctx, "q",
		`{"aggregation": {"type": "COUNT DISTINCT", "fields": ["userId"]}, "duration": 1000}`))
	// 1000 records, 950 distinct users
	for i := 0; i < 1000; i++ {
		require.NoError(t, topo.Record(ctx, "", record.Record{"userId": fmt.Sprintf("u%d", i%950)}))
	}
	// Wait for the records to be applied.
	require.NoError(t, topo.Tick(ctx))
	clock.Advance(time.Second)
	require.NoError(t, topo.Tick(ctx))
	stop()

	out := rec.all()
	require.Len(t, out, 3)
	var results []*aggregation.Result
	total := int64(0)
	for _, e := range out {
		require.NoError(t, e.err)
		var o querier.Output
		require.NoError(t, json.Unmarshal(e.data, &o))
		assert.Equal(t, "q", o.ID)
		total += o.Records
		results = append(results, o.Result)
	}
	assert.Equal(t, int64(1000), total)
	merged, err := aggregation.Merge(16384, results...)
	require.NoError(t, err)
	// Records were routed by userId, so partitions saw disjoint users.
	assert.Equal(t, 950.0, merged.Estimate)
	sum := 0.0
	for _, r := range results {
		sum += r.Estimate
	}
	assert.Equal(t, 950.0, sum)
}

func Test_CancelAndTargetedRecords(t *testing.T) {
	rec := &recorder{}
	clock := clocks.NewMock()
	topo := New(testConfig(2), rec, Options{Clock: clock})
	stop := start(t, topo)
	ctx := context.Background()
	text := `{"aggregation": {"type": "COUNT DISTINCT", "fields": ["a"]}, "duration": 1000}`
	require.NoError(t, topo.Submit(ctx, "keep", text))
	require.NoError(t, topo.Submit(ctx, "drop", text))
	require.NoError(t, topo.Tick(ctx))
	assert.Equal(t, [][]string{{"drop", "keep"}, {"drop", "keep"}}, topo.Queries())
	require.NoError(t, topo.Cancel(ctx, "drop"))
	for i := 0; i < 10; i++ {
		require.NoError(t, topo.Record(ctx, "keep", record.Record{"a": i}))
	}
	require.NoError(t, topo.Tick(ctx))
	assert.Equal(t, [][]string{{"keep"}, {"keep"}}, topo.Queries())
	clock.Advance(time.Second)
	require.NoError(t, topo.Tick(ctx))
	stop()
	out := rec.all()
	require.Len(t, out, 2)
	total := int64(0)
	for _, e := range out {
		assert.Equal(t, "keep", e.id)
		var o querier.Output
		require.NoError(t, json.Unmarshal(e.data, &o))
		total += o.Records
	}
	// round-robin spreads the records evenly
	assert.Equal(t, int64(10), total)
}

func Test_Route(t *testing.T) {
	cfg := testConfig(4)
	topo := New(cfg, &recorder{}, Options{})
	counts := make([]int, 4)
	for i := 0; i < 8; i++ {
		counts[topo.route(record.Record{})]++
	}
	assert.Equal(t, []int{2, 2, 2, 2}, counts)

	cfg.Filter.RouteKey = "user"
	topo = New(cfg, &recorder{}, Options{})
	for i := 0; i < 20; i++ {
		r := record.Record{"user": fmt.Sprint(i)}
		assert.Equal(t, topo.route(r), topo.route(r))
	}
	single := New(testConfig(1), &recorder{}, Options{})
	assert.Equal(t, 0, single.route(record.Record{}))
}

func Test_SendCanceled(t *testing.T) {
	topo := New(testConfig(1), &recorder{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// nothing is running, so the unbuffered send can't proceed
	assert.Equal(t, context.Canceled, topo.Tick(ctx))
}
