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

// Package config contains the configuration for a sieve filter daemon. The
// configuration is typically loaded from a JSON or YAML file on disk.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Sieve describes the configuration for a sieve filter daemon. Fields left out
// of a configuration file keep the values from Default.
type Sieve struct {
	// The string placed between field values when several fields form one
	// composite key.
	FieldSeparator string `json:"fieldSeparator" yaml:"fieldSeparator"`

	// Sketch tuning for COUNT DISTINCT queries.
	CountDistinct CountDistinct `json:"countDistinct" yaml:"countDistinct"`

	// Per-query limits on the number of records consumed.
	RateLimit RateLimit `json:"rateLimit" yaml:"rateLimit"`

	// Query durations.
	Query Query `json:"query" yaml:"query"`

	// How the filter engines are laid out and scheduled.
	Filter Filter `json:"filter" yaml:"filter"`

	// Where queries and records come from and where results go.
	PubSub PubSub `json:"pubsub" yaml:"pubsub"`

	// If non-empty, the host:port or :port on which to serve Prometheus metrics
	// and the admin endpoints over HTTP. If empty (or unset), nothing is served.
	MetricsAddress string `json:"metricsAddress" yaml:"metricsAddress"`

	// If non-nil, the configuration for distributed tracing (OpenTracing). If
	// nil, the daemon will not collect traces.
	Tracing *Tracing `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// CountDistinct contains the theta sketch tuning used by COUNT DISTINCT
// queries.
type CountDistinct struct {
	// One of "X1", "X2", "X4", or "X8". Unrecognized values mean "X8".
	ResizeFactor string `json:"resizeFactor" yaml:"resizeFactor"`
	// The probability with which a distinct key is kept, in (0, 1].
	SamplingProbability float64 `json:"samplingProbability" yaml:"samplingProbability"`
	// Either "ALPHA" or "QUICKSELECT". Unrecognized values mean "ALPHA".
	Family string `json:"family" yaml:"family"`
	// Controls the accuracy and size of the sketch. Rounded up to a power of
	// two.
	NominalEntries int `json:"nominalEntries" yaml:"nominalEntries"`
	// The name given to the estimate in results, unless the query names it.
	NewName string `json:"newName" yaml:"newName"`
}

// RateLimit caps the number of records each query may consume per window.
type RateLimit struct {
	// The number of records a query may consume per Window. 0 disables rate
	// limiting.
	MaxCount int `json:"maxCount" yaml:"maxCount"`
	// The length of a rate limit window.
	Window Duration `json:"window" yaml:"window"`
}

// Query contains query duration settings.
type Query struct {
	// Used when a query doesn't specify a duration.
	DefaultDuration Duration `json:"defaultDuration" yaml:"defaultDuration"`
	// Longer query durations are clamped to this.
	MaxDuration Duration `json:"maxDuration" yaml:"maxDuration"`
}

// Filter describes the filter engines.
type Filter struct {
	// The number of independent engines (and query registries) to run.
	Partitions int `json:"partitions" yaml:"partitions"`
	// How often each engine re-evaluates windows and rate limits.
	TickInterval Duration `json:"tickInterval" yaml:"tickInterval"`
	// If non-empty, records are routed to engines by the hash of this field.
	// Otherwise they are spread round-robin.
	RouteKey string `json:"routeKey" yaml:"routeKey"`
	// The capacity of each engine's signal channel.
	QueueSize int `json:"queueSize" yaml:"queueSize"`
}

// PubSub describes how signals enter and leave the daemon.
type PubSub struct {
	// Either "memory" or "kafka".
	Type string `json:"type" yaml:"type"`
	// The Kafka broker host:port endpoints. Required for "kafka".
	Brokers []string `json:"brokers,omitempty" yaml:"brokers,omitempty"`
	// Topic names for the three streams.
	QueryTopic  string `json:"queryTopic" yaml:"queryTopic"`
	RecordTopic string `json:"recordTopic" yaml:"recordTopic"`
	ResultTopic string `json:"resultTopic" yaml:"resultTopic"`
	// The Kafka client ID.
	ClientID string `json:"clientID" yaml:"clientID"`
}

// Tracing contains configuration related to distributed execution tracing.
type Tracing struct {
	// Must be "jaeger" (for now).
	Type string `json:"type" yaml:"type"`
	// The URL of a collector that accepts jaeger.thrift over HTTP.
	CollectorEndpoint string `json:"collectorEndpoint" yaml:"collectorEndpoint"`
}

// Default returns the configuration used for any settings not given in a
// configuration file.
func Default() *Sieve {
	return &Sieve{
		FieldSeparator: "|",
		CountDistinct: CountDistinct{
			ResizeFactor:        "X8",
			SamplingProbability: 1.0,
			Family:              "ALPHA",
			NominalEntries:      16384,
			NewName:             "COUNT DISTINCT",
		},
		RateLimit: RateLimit{
			MaxCount: 0,
			Window:   Duration(time.Second),
		},
		Query: Query{
			DefaultDuration: Duration(30 * time.Second),
			MaxDuration:     Duration(120 * time.Second),
		},
		Filter: Filter{
			Partitions:   1,
			TickInterval: Duration(time.Second),
			QueueSize:    1024,
		},
		PubSub: PubSub{
			Type:        "memory",
			QueryTopic:  "sieve-queries",
			RecordTopic: "sieve-records",
			ResultTopic: "sieve-results",
			ClientID:    "sieve",
		},
	}
}

// Validate returns an error describing the first invalid setting, or nil.
func (cfg *Sieve) Validate() error {
	switch {
	case cfg.CountDistinct.NominalEntries <= 0:
		return fmt.Errorf("countDistinct.nominalEntries must be positive, got %v",
			cfg.CountDistinct.NominalEntries)
	case cfg.CountDistinct.SamplingProbability <= 0 || cfg.CountDistinct.SamplingProbability > 1:
		return fmt.Errorf("countDistinct.samplingProbability must be in (0, 1], got %v",
			cfg.CountDistinct.SamplingProbability)
	case cfg.RateLimit.MaxCount < 0:
		return fmt.Errorf("rateLimit.maxCount must not be negative, got %v", cfg.RateLimit.MaxCount)
	case cfg.RateLimit.MaxCount > 0 && cfg.RateLimit.Window <= 0:
		return fmt.Errorf("rateLimit.window must be positive, got %v", cfg.RateLimit.Window)
	case cfg.Query.DefaultDuration <= 0 || cfg.Query.MaxDuration <= 0:
		return fmt.Errorf("query durations must be positive")
	case cfg.Filter.Partitions < 1:
		return fmt.Errorf("filter.partitions must be at least 1, got %v", cfg.Filter.Partitions)
	case cfg.Filter.TickInterval <= 0:
		return fmt.Errorf("filter.tickInterval must be positive, got %v", cfg.Filter.TickInterval)
	case cfg.Filter.QueueSize < 0:
		return fmt.Errorf("filter.queueSize must not be negative, got %v", cfg.Filter.QueueSize)
	}
	switch cfg.PubSub.Type {
	case "memory":
	case "kafka":
		if len(cfg.PubSub.Brokers) == 0 {
			return fmt.Errorf("pubsub.brokers is required for kafka")
		}
	default:
		return fmt.Errorf("pubsub.type must be \"memory\" or \"kafka\", got %q", cfg.PubSub.Type)
	}
	if cfg.Tracing != nil && cfg.Tracing.Type != "jaeger" {
		return fmt.Errorf("tracing.type must be \"jaeger\", got %q", cfg.Tracing.Type)
	}
	return nil
}

// Duration is a time.Duration that is written in configuration files as a
// string such as "1.5s" or "250ms".
type Duration time.Duration

// String returns the duration formatted like time.Duration.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"1s\": %v", err)
	}
	return d.parse(s)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"1s\": %v", err)
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
