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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ebay/sieve/aggregation"
	"github.com/ebay/sieve/config"
	"github.com/ebay/sieve/pubsub"
	"github.com/ebay/sieve/querier"
	"github.com/ebay/sieve/stream"
	"github.com/ebay/sieve/util/parallel"
	log "github.com/sirupsen/logrus"
)

// results prints query results from the result topic. Every filter partition
// reports each window separately; once all of them have, the partial results
// are merged and printed.
func results(ctx context.Context, ps pubsub.PubSub, cfg *config.Sieve, options *options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m := newMerger(cfg.Filter.Partitions, cfg.CountDistinct.NominalEntries)
	printed := 0
	msgsCh := make(chan []pubsub.Message, 16)
	wait := parallel.Go(func() {
		for msgs := range msgsCh {
			for _, msg := range msgs {
				if options.QueryID != "" && msg.Key != options.QueryID {
					continue
				}
				line, err := m.apply(msg)
				if err != nil {
					log.WithFields(log.Fields{
						"id":    msg.Key,
						"error": err,
					}).Warn("Unable to decode result")
					continue
				}
				if line == "" {
					continue
				}
				fmt.Println(line)
				printed++
				if options.Count > 0 && printed >= options.Count {
					cancel()
				}
			}
		}
	})
	err := ps.Subscribe(ctx, cfg.PubSub.ResultTopic, msgsCh)
	wait()
	for _, line := range m.flush() {
		fmt.Println(line)
	}
	return err
}

type windowKey struct {
	id     string
	window int
}

// merger collects per-partition outputs until every partition has reported a
// window.
type merger struct {
	partitions     int
	nominalEntries int
	pending        map[windowKey][]*querier.Output
}

func newMerger(partitions, nominalEntries int) *merger {
	if partitions < 1 {
		partitions = 1
	}
	return &merger{
		partitions:     partitions,
		nominalEntries: nominalEntries,
		pending:        make(map[windowKey][]*querier.Output),
	}
}

// apply processes one result message. It returns the line to print, or ""
// if the message completed nothing yet.
func (m *merger) apply(msg pubsub.Message) (string, error) {
	if msg.Headers[stream.KindHeader] == stream.KindError {
		return fmt.Sprintf("%v: %s", msg.Key, msg.Value), nil
	}
	var out querier.Output
	if err := json.Unmarshal(msg.Value, &out); err != nil {
		return "", err
	}
	merged, err := m.add(&out)
	if err != nil || merged == nil {
		return "", err
	}
	return formatOutput(merged), nil
}

// add records a partition's output. Once all partitions have reported the
// window, it returns their merged output.
func (m *merger) add(out *querier.Output) (*querier.Output, error) {
	key := windowKey{id: out.ID, window: out.Window}
	outs := append(m.pending[key], out)
	if len(outs) < m.partitions {
		m.pending[key] = outs
		return nil, nil
	}
	delete(m.pending, key)
	return m.merge(outs)
}

func (m *merger) merge(outs []*querier.Output) (*querier.Output, error) {
	merged := &querier.Output{ID: outs[0].ID, Window: outs[0].Window}
	var results []*aggregation.Result
	for _, out := range outs {
		merged.Records += out.Records
		if out.Result != nil {
			results = append(results, out.Result)
		}
	}
	if len(results) > 0 {
		res, err := aggregation.Merge(m.nominalEntries, results...)
		if err != nil {
			return nil, err
		}
		merged.Result = res
	}
	return merged, nil
}

// flush merges and formats the windows that some partitions never reported,
// in ID and window order.
func (m *merger) flush() []string {
	keys := make([]windowKey, 0, len(m.pending))
	for key := range m.pending {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].id != keys[j].id {
			return keys[i].id < keys[j].id
		}
		return keys[i].window < keys[j].window
	})
	var lines []string
	for _, key := range keys {
		outs := m.pending[key]
		delete(m.pending, key)
		merged, err := m.merge(outs)
		if err != nil {
			log.WithFields(log.Fields{
				"id":     key.id,
				"window": key.window,
				"error":  err,
			}).Warn("Unable to merge partial results")
			continue
		}
		lines = append(lines, fmtr.Sprintf("%s (partial: %d of %d partitions)",
			formatOutput(merged), len(outs), m.partitions))
	}
	return lines
}

// formatOutput renders a merged output on one line, like:
//
//	q1 window 2: COUNT DISTINCT = 1,234 from 5,000 records
func formatOutput(out *querier.Output) string {
	var b strings.Builder
	fmtr.Fprintf(&b, "%v window %d: ", out.ID, out.Window)
	if out.Result == nil {
		fmtr.Fprintf(&b, "no result from %d records", out.Records)
		return b.String()
	}
	res := out.Result
	fmtr.Fprintf(&b, "%v = %.0f", res.Name, res.Estimate)
	if res.Meta.EstimationMode && len(res.Meta.Bounds) > 1 {
		bound := res.Meta.Bounds[1]
		fmtr.Fprintf(&b, " [%.0f, %.0f at %d std devs]", bound.Lower, bound.Upper, bound.StdDevs)
	}
	fmtr.Fprintf(&b, " from %d records", out.Records)
	return b.String()
}
