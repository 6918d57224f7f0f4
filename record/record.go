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

// Package record defines the records that flow through the filter engines and
// how query fields are read out of them.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// A Record is one event from the input stream: a mapping from field names to
// values. Values are typically the types produced by encoding/json, including
// nested maps.
type Record map[string]interface{}

// Get returns the value of the named field, or nil if it's not present. A
// dotted name such as "a.b" reaches into a nested map: it first looks for a
// top-level field named "a.b", then for field "b" within the map at field "a".
func (r Record) Get(field string) interface{} {
	if v, ok := r[field]; ok {
		return v
	}
	dot := strings.IndexByte(field, '.')
	if dot < 0 {
		return nil
	}
	switch inner := r[field[:dot]].(type) {
	case Record:
		return inner.Get(field[dot+1:])
	case map[string]interface{}:
		return Record(inner).Get(field[dot+1:])
	default:
		return nil
	}
}

// String returns the string form of the named field's value. Missing and nil
// fields are "null", so they are counted as a value rather than dropped.
func (r Record) String(field string) string {
	return Stringify(r.Get(field))
}

// Stringify converts a field value to the form used in composite keys.
func Stringify(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		// JSON numbers decode to float64; whole numbers print without an
		// exponent so that 1e6 and 1000000 agree.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprint(v)
	default:
		return fmt.Sprint(v)
	}
}

// Join returns the values of the given fields, in order, joined by sep.
func (r Record) Join(fields []string, sep string) string {
	if len(fields) == 1 {
		return r.String(fields[0])
	}
	var b strings.Builder
	for i, field := range fields {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(r.String(field))
	}
	return b.String()
}

// Parse decodes a JSON object into a Record. Numbers are kept as json.Number
// so large integer IDs don't lose precision.
func Parse(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("invalid record: %v", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("invalid record: not a JSON object")
	}
	return rec, nil
}
