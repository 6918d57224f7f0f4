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

// Package query parses and validates the text of user-submitted queries.
//
// Query text is a JSON object such as:
//
//	{
//	  "aggregation": {"type": "COUNT DISTINCT", "fields": ["userId"],
//	                  "attributes": {"newName": "users"}},
//	  "duration": 30000,
//	  "window": {"type": "TIME", "every": 1000}
//	}
//
// Durations and time windows are in milliseconds. Settings the text leaves out
// come from Defaults.
package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ebay/sieve/config"
	"github.com/ebay/sieve/sketch"
)

// CountDistinct is the aggregation type name for approximate distinct counts.
const CountDistinct = "COUNT DISTINCT"

// WindowType selects when a query's results are emitted.
type WindowType int

const (
	// NoWindow emits one result, when the query's duration elapses.
	NoWindow WindowType = iota
	// TimeWindow emits a result every Window.Every, and resets in between.
	TimeWindow
	// RecordWindow emits a result after every Window.Records consumed
	// records, and resets in between.
	RecordWindow
)

func (t WindowType) String() string {
	switch t {
	case NoWindow:
		return "NONE"
	case TimeWindow:
		return "TIME"
	case RecordWindow:
		return "RECORD"
	default:
		return fmt.Sprintf("WindowType(%d)", int(t))
	}
}

// Window describes a query's emission policy.
type Window struct {
	Type WindowType
	// The length of a TimeWindow.
	Every time.Duration
	// The number of records in a RecordWindow.
	Records int64
}

// Repeating returns true if the query emits more than one result over its
// lifetime.
func (w Window) Repeating() bool {
	return w.Type != NoWindow
}

// RateLimit caps how many records a query may consume per window. A MaxCount
// of 0 disables rate limiting.
type RateLimit struct {
	MaxCount int
	Window   time.Duration
}

// Enabled returns true if the rate limit applies.
func (r RateLimit) Enabled() bool {
	return r.MaxCount > 0 && r.Window > 0
}

// Spec is a parsed query. It is not modified after Parse returns.
type Spec struct {
	// The aggregation type, normalized to upper case.
	Type string
	// The record fields that together form each key, in order.
	Fields []string
	// Placed between field values in composite keys.
	Separator string
	// The label for the aggregation's result.
	NewName string
	// Tuning for COUNT DISTINCT sketches.
	Sketch sketch.Config
	// How long the query runs for.
	Duration  time.Duration
	Window    Window
	RateLimit RateLimit
}

// Defaults supplies the settings not carried in query text.
type Defaults struct {
	Separator       string
	NewName         string
	Sketch          sketch.Config
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	RateLimit       RateLimit
}

// DefaultsFromConfig converts the daemon's configuration into query Defaults.
// Unrecognized sketch family and resize factor names fall back to Alpha and
// X8.
func DefaultsFromConfig(cfg *config.Sieve) Defaults {
	return Defaults{
		Separator: cfg.FieldSeparator,
		NewName:   cfg.CountDistinct.NewName,
		Sketch: sketch.Config{
			Family:              sketch.FamilyFromString(cfg.CountDistinct.Family),
			ResizeFactor:        sketch.ResizeFactorFromString(cfg.CountDistinct.ResizeFactor),
			SamplingProbability: cfg.CountDistinct.SamplingProbability,
			NominalEntries:      cfg.CountDistinct.NominalEntries,
		},
		DefaultDuration: time.Duration(cfg.Query.DefaultDuration),
		MaxDuration:     time.Duration(cfg.Query.MaxDuration),
		RateLimit: RateLimit{
			MaxCount: cfg.RateLimit.MaxCount,
			Window:   time.Duration(cfg.RateLimit.Window),
		},
	}
}

// jsonQuery is the wire format of query text.
type jsonQuery struct {
	Aggregation *struct {
		Type       string            `json:"type"`
		Fields     []string          `json:"fields"`
		Attributes map[string]string `json:"attributes"`
	} `json:"aggregation"`
	Duration *int64 `json:"duration"`
	Window   *struct {
		Type  string `json:"type"`
		Every int64  `json:"every"`
	} `json:"window"`
}

// maxMillis is the longest duration, in milliseconds, that fits in a
// time.Duration.
const maxMillis = math.MaxInt64 / int64(time.Millisecond)

// Parse decodes and checks query text. It returns a *ValidationError listing
// every problem it finds. Whether the fields suit the aggregation is left to
// the aggregation itself.
func Parse(text string, defaults Defaults) (*Spec, error) {
	var q jsonQuery
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&q); err != nil {
		return nil, NewValidationError(fmt.Errorf("query is not valid JSON: %v", err))
	}
	if dec.More() {
		return nil, NewValidationError(fmt.Errorf("found unexpected data after query"))
	}
	spec := &Spec{
		Separator: defaults.Separator,
		NewName:   defaults.NewName,
		Sketch:    defaults.Sketch,
		Duration:  defaults.DefaultDuration,
		RateLimit: defaults.RateLimit,
	}
	var causes []error
	if q.Aggregation == nil {
		causes = append(causes, fmt.Errorf("query has no aggregation"))
	} else {
		spec.Type = strings.ToUpper(strings.TrimSpace(q.Aggregation.Type))
		spec.Fields = q.Aggregation.Fields
		if name, ok := q.Aggregation.Attributes["newName"]; ok && name != "" {
			spec.NewName = name
		}
	}
	if q.Duration != nil {
		if *q.Duration < 0 {
			causes = append(causes, fmt.Errorf("duration must not be negative, got %d", *q.Duration))
		} else if *q.Duration > maxMillis {
			causes = append(causes, fmt.Errorf("duration must be at most %d, got %d", maxMillis, *q.Duration))
		} else {
			spec.Duration = time.Duration(*q.Duration) * time.Millisecond
		}
	}
	if defaults.MaxDuration > 0 && spec.Duration > defaults.MaxDuration {
		spec.Duration = defaults.MaxDuration
	}
	if q.Window != nil {
		switch strings.ToUpper(q.Window.Type) {
		case "", "NONE":
		case "TIME":
			if q.Window.Every > maxMillis {
				causes = append(causes, fmt.Errorf("window every must be at most %d, got %d", maxMillis, q.Window.Every))
			} else {
				spec.Window = Window{Type: TimeWindow, Every: time.Duration(q.Window.Every) * time.Millisecond}
			}
		case "RECORD":
			spec.Window = Window{Type: RecordWindow, Records: q.Window.Every}
		default:
			causes = append(causes, fmt.Errorf("unknown window type %q", q.Window.Type))
		}
		if spec.Window.Repeating() && q.Window.Every <= 0 {
			causes = append(causes, fmt.Errorf("window every must be positive, got %d", q.Window.Every))
		}
	}
	if len(causes) > 0 {
		return nil, NewValidationError(causes...)
	}
	return spec, nil
}
