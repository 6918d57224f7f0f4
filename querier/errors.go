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
	"fmt"
	"time"
)

// RateLimitError reports that a query consumed more records than its rate
// limit allows. The query is evicted when this is reported.
type RateLimitError struct {
	// The number of records the query received in the window.
	Count int
	// The number of records allowed per Window.
	Threshold int
	Window    time.Duration
}

// Rate returns the observed rate in records per second.
func (e *RateLimitError) Rate() float64 {
	if e.Window <= 0 {
		return 0
	}
	return float64(e.Count) / e.Window.Seconds()
}

// MaxRate returns the allowed rate in records per second.
func (e *RateLimitError) MaxRate() float64 {
	if e.Window <= 0 {
		return 0
	}
	return float64(e.Threshold) / e.Window.Seconds()
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("query exceeded its rate limit: received %d records in %v, "+
		"limit is %d (%.2f/s vs %.2f/s); the query was stopped",
		e.Count, e.Window, e.Threshold, e.Rate(), e.MaxRate())
}

// MarshalJSON renders the error for result consumers.
func (e *RateLimitError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string  `json:"type"`
		Error     string  `json:"error"`
		Count     int     `json:"count"`
		Threshold int     `json:"threshold"`
		WindowMS  int64   `json:"windowMillis"`
		Rate      float64 `json:"rate"`
		MaxRate   float64 `json:"maxRate"`
	}{
		Type:      "rateLimit",
		Error:     e.Error(),
		Count:     e.Count,
		Threshold: e.Threshold,
		WindowMS:  e.Window.Nanoseconds() / 1e6,
		Rate:      e.Rate(),
		MaxRate:   e.MaxRate(),
	})
}
