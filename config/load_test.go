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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func Test_Load(t *testing.T) {
	dir := t.TempDir()

	t.Run("file not found", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "404.json"))
		if assert.Error(t, err) {
			assert.Contains(t, err.Error(), "404.json")
		}
	})

	t.Run("file contains garbage", func(t *testing.T) {
		_, err := Load(writeFile(t, dir, "garbage.json", "koala"))
		if assert.Error(t, err) {
			assert.Regexp(t, `^error decoding .*/garbage\.json: `, err.Error())
		}
	})

	t.Run("file contains null", func(t *testing.T) {
		_, err := Load(writeFile(t, dir, "null.json", "null"))
		if assert.Error(t, err) {
			assert.Regexp(t, `^loading .*/null\.json resulted in nil config$`, err.Error())
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := Load(writeFile(t, dir, "unknown.json", `{"roflcopter": true}`))
		if assert.Error(t, err) {
			assert.Regexp(t, `^error decoding .*/unknown\.json: `, err.Error())
		}
	})

	t.Run("more", func(t *testing.T) {
		_, err := Load(writeFile(t, dir, "more.json", "{}{}"))
		if assert.Error(t, err) {
			assert.Contains(t, err.Error(), "unexpected data after config")
		}
	})

	t.Run("empty object keeps defaults", func(t *testing.T) {
		cfg, err := Load(writeFile(t, dir, "empty.json", "{}"))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("json overrides", func(t *testing.T) {
		cfg, err := Load(writeFile(t, dir, "sieve.json", `{
			"fieldSeparator": ",",
			"countDistinct": {"family": "QUICKSELECT", "nominalEntries": 4096},
			"rateLimit": {"maxCount": 100, "window": "500ms"},
			"filter": {"partitions": 4, "routeKey": "userId"}
		}`))
		require.NoError(t, err)
		assert.Equal(t, ",", cfg.FieldSeparator)
		assert.Equal(t, "QUICKSELECT", cfg.CountDistinct.Family)
		assert.Equal(t, 4096, cfg.CountDistinct.NominalEntries)
		// Fields of a partially given section keep their defaults.
		assert.Equal(t, "X8", cfg.CountDistinct.ResizeFactor)
		assert.Equal(t, 100, cfg.RateLimit.MaxCount)
		assert.Equal(t, Duration(500*time.Millisecond), cfg.RateLimit.Window)
		assert.Equal(t, 4, cfg.Filter.Partitions)
		assert.Equal(t, Duration(time.Second), cfg.Filter.TickInterval)
	})

	t.Run("yaml", func(t *testing.T) {
		cfg, err := Load(writeFile(t, dir, "sieve.yaml", `
countDistinct:
  samplingProbability: 0.5
query:
  maxDuration: 10m
pubsub:
  type: kafka
  brokers: ["kafka-1:9092", "kafka-2:9092"]
tracing:
  type: jaeger
  collectorEndpoint: http://jaeger:14268/api/traces
`))
		require.NoError(t, err)
		assert.Equal(t, 0.5, cfg.CountDistinct.SamplingProbability)
		assert.Equal(t, Duration(10*time.Minute), cfg.Query.MaxDuration)
		assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.PubSub.Brokers)
		assert.Equal(t, "sieve-records", cfg.PubSub.RecordTopic)
		if assert.NotNil(t, cfg.Tracing) {
			assert.Equal(t, "jaeger", cfg.Tracing.Type)
		}
	})

	t.Run("yaml unknown field", func(t *testing.T) {
		_, err := Load(writeFile(t, dir, "unknown.yml", "roflcopter: true\n"))
		if assert.Error(t, err) {
			assert.Regexp(t, `^error decoding .*/unknown\.yml: `, err.Error())
		}
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := Load(writeFile(t, dir, "duration.json", `{"rateLimit": {"window": 5}}`))
		assert.Error(t, err)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := Load(writeFile(t, dir, "invalid.json", `{"filter": {"partitions": 0}}`))
		if assert.Error(t, err) {
			assert.Regexp(t, `^invalid config in .*/invalid\.json: filter.partitions`, err.Error())
		}
	})
}

func Test_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *Sieve)
		errMsg string
	}{
		{"defaults", func(*Sieve) {}, ""},
		{"nominal entries", func(cfg *Sieve) { cfg.CountDistinct.NominalEntries = 0 }, "nominalEntries"},
		{"sampling zero", func(cfg *Sieve) { cfg.CountDistinct.SamplingProbability = 0 }, "samplingProbability"},
		{"sampling above one", func(cfg *Sieve) { cfg.CountDistinct.SamplingProbability = 1.5 }, "samplingProbability"},
		{"negative rate", func(cfg *Sieve) { cfg.RateLimit.MaxCount = -1 }, "maxCount"},
		{"rate window", func(cfg *Sieve) {
			cfg.RateLimit.MaxCount = 10
			cfg.RateLimit.Window = 0
		}, "rateLimit.window"},
		{"tick", func(cfg *Sieve) { cfg.Filter.TickInterval = 0 }, "tickInterval"},
		{"pubsub type", func(cfg *Sieve) { cfg.PubSub.Type = "carrier-pigeon" }, "pubsub.type"},
		{"kafka brokers", func(cfg *Sieve) { cfg.PubSub.Type = "kafka" }, "pubsub.brokers"},
		{"tracing", func(cfg *Sieve) { cfg.Tracing = &Tracing{Type: "zipkin"} }, "tracing.type"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.modify(cfg)
			err := cfg.Validate()
			if test.errMsg == "" {
				assert.NoError(t, err)
			} else if assert.Error(t, err) {
				assert.Contains(t, err.Error(), test.errMsg)
			}
		})
	}
}
