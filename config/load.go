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

package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load parses the configuration from the given file. Files ending in ".yaml" or
// ".yml" are parsed as YAML, everything else as JSON. Settings that the file
// doesn't mention keep their Default values. Upon success, it returns a
// non-nil, validated configuration. Otherwise, it returns an error, which
// already includes the filename.
func Load(filename string) (*Sieve, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cfg := Default()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		cfg, err = decodeYAML(bufio.NewReader(f), cfg)
	default:
		cfg, err = decodeJSON(bufio.NewReader(f), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("error decoding %v: %v", filename, err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("loading %v resulted in nil config", filename)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config in %v: %v", filename, err)
	}
	return cfg, nil
}

func decodeJSON(r io.Reader, cfg *Sieve) (*Sieve, error) {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	// This **Sieve double-pointer is required to detect an input of "null".
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	if decoder.More() {
		return nil, fmt.Errorf("found unexpected data after config")
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Sieve) (*Sieve, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
