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
	"encoding/json"
	"fmt"
	"strings"
)

// ValidationError is returned when a query is rejected at submission time. The
// query never runs.
type ValidationError struct {
	Causes []error
}

// NewValidationError returns a ValidationError with the given causes.
func NewValidationError(causes ...error) *ValidationError {
	return &ValidationError{Causes: causes}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Causes))
	for i, cause := range e.Causes {
		msgs[i] = cause.Error()
	}
	return fmt.Sprintf("invalid query: %s", strings.Join(msgs, "; "))
}

// Unwrap returns the causes so that errors.Is and errors.As can match them.
func (e *ValidationError) Unwrap() []error {
	return e.Causes
}

// MarshalJSON renders the error for the submitter.
func (e *ValidationError) MarshalJSON() ([]byte, error) {
	msgs := make([]string, len(e.Causes))
	for i, cause := range e.Causes {
		msgs[i] = cause.Error()
	}
	return json.Marshal(struct {
		Type   string   `json:"type"`
		Errors []string `json:"errors"`
	}{"validation", msgs})
}
