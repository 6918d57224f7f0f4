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
	"context"
	"encoding/json"

	"github.com/ebay/sieve/filter"
	"github.com/ebay/sieve/pubsub"
	log "github.com/sirupsen/logrus"
)

// The "kind" header on result messages.
const (
	KindHeader = "kind"
	KindData   = "data"
	KindError  = "error"
)

// Publisher is a filter.Emitter that publishes engine output to a topic. It's
// safe for concurrent use if the underlying PubSub is.
type Publisher struct {
	ctx   context.Context
	ps    pubsub.PubSub
	topic string
}

// Ensures that Publisher implements filter.Emitter.
var _ filter.Emitter = (*Publisher)(nil)

// NewPublisher returns a Publisher. The given context is used for every
// publish, not just for the call to NewPublisher.
func NewPublisher(ctx context.Context, ps pubsub.PubSub, topic string) *Publisher {
	return &Publisher{ctx: ctx, ps: ps, topic: topic}
}

// EmitData implements filter.Emitter.EmitData.
func (p *Publisher) EmitData(id string, data []byte) {
	p.publish(pubsub.Message{
		Key:     id,
		Value:   data,
		Headers: map[string]string{KindHeader: KindData},
	})
}

// EmitError implements filter.Emitter.EmitError.
func (p *Publisher) EmitError(id string, err error) {
	p.publish(pubsub.Message{
		Key:     id,
		Value:   EncodeError(err),
		Headers: map[string]string{KindHeader: KindError},
	})
}

func (p *Publisher) publish(msg pubsub.Message) {
	err := p.ps.Publish(p.ctx, p.topic, msg)
	if err != nil {
		log.WithFields(log.Fields{
			"topic": p.topic,
			"id":    msg.Key,
			"kind":  msg.Headers[KindHeader],
			"error": err,
		}).Warn("Unable to publish result")
		metrics.publishErrors.Inc()
		return
	}
	metrics.published.WithLabelValues(msg.Headers[KindHeader]).Inc()
}

// EncodeError renders an error as JSON. Errors that know how to marshal
// themselves do so; others become {"type": "error", "error": "<message>"}.
func EncodeError(err error) []byte {
	if m, ok := err.(json.Marshaler); ok {
		if data, merr := m.MarshalJSON(); merr == nil {
			return data
		}
	}
	data, _ := json.Marshal(struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}{"error", err.Error()})
	return data
}
