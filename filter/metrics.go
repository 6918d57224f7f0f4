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

package filter

import (
	metricsutil "github.com/ebay/sieve/util/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type filterMetrics struct {
	queriesSubmitted      prometheus.Counter
	queriesRejected       prometheus.Counter
	queriesCanceled       prometheus.Counter
	records               prometheus.Counter
	recordsDropped        prometheus.Counter
	categorized           *prometheus.CounterVec
	queries               *prometheus.GaugeVec
	recordLatencySeconds  prometheus.Summary
	recordEndToEndSeconds prometheus.Summary
	tickLatencySeconds    prometheus.Summary
}

var metrics filterMetrics

func init() {
	mr := metricsutil.Registry{R: prometheus.DefaultRegisterer}
	metrics = filterMetrics{
		queriesSubmitted: mr.NewCounter(prometheus.CounterOpts{
			Namespace: "sieve",
			Subsystem: "filter",
			Name:      "queries_submitted_total",
			Help:      `The number of query submissions received, including rejected ones.`,
		}),
		queriesRejected: mr.NewCounter(prometheus.CounterOpts{
			Namespace: "sieve",
			Subsystem: "filter",
			Name:      "queries_rejected_total",
			Help:      `The number of query submissions that failed validation.`,
		}),
		queriesCanceled: mr.NewCounter(prometheus.CounterOpts{
			Namespace: "sieve",
			Subsystem: "filter",
			Name:      "queries_canceled_total",
			Help:      `The number of running queries stopped by a cancel signal.`,
		}),
		records: mr.NewCounter(prometheus.CounterOpts{
			Namespace: "sieve",
			Subsystem: "filter",
			Name:      "records_total",
			Help:      `The number of records consumed.`,
		}),
		recordsDropped: mr.NewCounter(prometheus.CounterOpts{
			Namespace: "sieve",
			Subsystem: "filter",
			Name:      "records_dropped_total",
			Help:      `The number of records addressed to a query that isn't running.`,
		}),
		categorized: mr.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sieve",
			Subsystem: "filter",
			Name:      "categorized_total",
			Help:      `The number of times a query was categorized as retired, rateLimited, or closed.`,
		}, []string{"bucket"}),
		queries: mr.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sieve",
			Subsystem: "filter",
			Name:      "queries",
			Help:      `The number of queries currently running in each partition.`,
		}, []string{"partition"}),
		recordLatencySeconds: mr.NewSummary(prometheus.SummaryOpts{
			Namespace:  "sieve",
			Subsystem:  "filter",
			Name:       "record_latency_seconds",
			Help:       `The time taken to consume one record and categorize the queries.`,
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}),
		recordEndToEndSeconds: mr.NewSummary(prometheus.SummaryOpts{
			Namespace:  "sieve",
			Subsystem:  "filter",
			Name:       "record_end_to_end_latency_seconds",
			Help:       `The time from when a record was produced until it was consumed, for records that carry a timestamp.`,
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}),
		tickLatencySeconds: mr.NewSummary(prometheus.SummaryOpts{
			Namespace:  "sieve",
			Subsystem:  "filter",
			Name:       "tick_latency_seconds",
			Help:       `The time taken to re-evaluate windows on a tick.`,
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}),
	}
}
