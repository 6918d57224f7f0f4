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
	metricsutil "github.com/ebay/sieve/util/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type streamMetrics struct {
	queryMessages    prometheus.Counter
	recordMessages   prometheus.Counter
	malformedRecords prometheus.Counter
	published        *prometheus.CounterVec
	publishErrors    prometheus.Counter
}

var metrics streamMetrics

func init() {
	mr := metricsutil.Registry{R: prometheus.DefaultRegisterer}
	metrics = streamMetrics{
		queryMessages: mr.NewCounter(prometheus.CounterOpts{
			Namespace: "sieve",
			Subsystem: "stream",
			Name:      "query_messages_total",
			Help:      `The number of messages read from the query topic.`,
		}),
		recordMessages: mr.NewCounter(prometheus.CounterOpts{
			Namespace: "sieve",
			Subsystem: "stream",
			Name:      "record_messages_total",
			Help:      `The number of messages read from the record topic.`,
		}),
		malformedRecords: mr.NewCounter(prometheus.CounterOpts{
			Namespace: "sieve",
			Subsystem: "stream",
			Name:      "malformed_records_total",
			Help:      `The number of record messages dropped because they weren't JSON objects.`,
		}),
		published: mr.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sieve",
			Subsystem: "stream",
			Name:      "results_published_total",
			Help:      `The number of result messages published, by kind (data or error).`,
		}, []string{"kind"}),
		publishErrors: mr.NewCounter(prometheus.CounterOpts{
			Namespace: "sieve",
			Subsystem: "stream",
			Name:      "publish_errors_total",
			Help:      `The number of result messages that could not be published.`,
		}),
	}
}
