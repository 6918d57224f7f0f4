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

	"github.com/ebay/sieve/config"
	"github.com/ebay/sieve/pubsub"
	"github.com/ebay/sieve/record"
	"github.com/ebay/sieve/util/parallel"
	log "github.com/sirupsen/logrus"
)

// The "action" header on query topic messages. Messages without it submit a
// query.
const (
	ActionHeader = "action"
	ActionSubmit = "submit"
	ActionCancel = "cancel"
)

// Serve is a blocking call that feeds the topology from the query and record
// topics. Query messages carry the query ID as their key and the query text as
// their value. Record messages carry a JSON object, and optionally the ID of
// the one query that should consume it as their key. Serve returns when the
// context is canceled or a subscription fails.
func (t *Topology) Serve(ctx context.Context, ps pubsub.PubSub, topics config.PubSub) error {
	return parallel.InvokeN(ctx, 2, func(ctx context.Context, i int) error {
		if i == 0 {
			return t.pump(ctx, ps, topics.QueryTopic, t.applyQueryMessage)
		}
		return t.pump(ctx, ps, topics.RecordTopic, t.applyRecordMessage)
	})
}

// pump subscribes to the topic and applies every message it receives.
func (t *Topology) pump(ctx context.Context, ps pubsub.PubSub, topic string,
	apply func(context.Context, pubsub.Message)) error {

	msgsCh := make(chan []pubsub.Message, 16)
	wait := parallel.Go(func() {
		// This drains msgsCh even after ctx is canceled, so that Subscribe
		// can return.
		for msgs := range msgsCh {
			for _, msg := range msgs {
				apply(ctx, msg)
			}
		}
	})
	err := ps.Subscribe(ctx, topic, msgsCh)
	wait()
	return err
}

// applyQueryMessage submits or cancels a query. Validation failures are
// reported by Submit.
func (t *Topology) applyQueryMessage(ctx context.Context, msg pubsub.Message) {
	metrics.queryMessages.Inc()
	switch msg.Headers[ActionHeader] {
	case ActionCancel:
		t.Cancel(ctx, msg.Key)
	case "", ActionSubmit:
		t.Submit(ctx, msg.Key, string(msg.Value))
	default:
		log.WithFields(log.Fields{
			"id":     msg.Key,
			"action": msg.Headers[ActionHeader],
		}).Warn("Ignoring query message with unknown action")
	}
}

func (t *Topology) applyRecordMessage(ctx context.Context, msg pubsub.Message) {
	metrics.recordMessages.Inc()
	rec, err := record.Parse(msg.Value)
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Debug("Dropping malformed record")
		metrics.malformedRecords.Inc()
		return
	}
	t.RecordAt(ctx, msg.Key, rec, msg.Timestamp)
}
