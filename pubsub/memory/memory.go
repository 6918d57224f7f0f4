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

// Package memory implements an in-process pubsub.PubSub. It's used in tests
// and for running the filter daemon standalone.
package memory

import (
	"context"
	"sync"

	"github.com/ebay/sieve/config"
	"github.com/ebay/sieve/pubsub"
)

func init() {
	pubsub.Factories["memory"] = func(context.Context, *config.Sieve) (pubsub.PubSub, error) {
		return New(), nil
	}
}

// PubSub keeps every published message in memory. Each topic is a log:
// subscribers start reading from its first message, even if it was published
// before they subscribed.
type PubSub struct {
	lock   sync.Mutex
	closed bool
	topics map[string]*topicLog
}

// Ensures that PubSub implements pubsub.PubSub.
var _ pubsub.PubSub = (*PubSub)(nil)

type topicLog struct {
	msgs []pubsub.Message
	// Closed and replaced whenever msgs grows or the PubSub is closed.
	changed chan struct{}
}

// New returns an empty PubSub.
func New() *PubSub {
	return &PubSub{topics: make(map[string]*topicLog)}
}

// topicLocked returns the named topic, creating it if needed. The caller must
// hold the lock.
func (ps *PubSub) topicLocked(topic string) *topicLog {
	t, ok := ps.topics[topic]
	if !ok {
		t = &topicLog{changed: make(chan struct{})}
		ps.topics[topic] = t
	}
	return t
}

// Publish implements pubsub.PubSub.Publish.
func (ps *PubSub) Publish(ctx context.Context, topic string, msgs ...pubsub.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ps.lock.Lock()
	defer ps.lock.Unlock()
	if ps.closed {
		return pubsub.ErrClosed
	}
	t := ps.topicLocked(topic)
	t.msgs = append(t.msgs, msgs...)
	close(t.changed)
	t.changed = make(chan struct{})
	return nil
}

// Subscribe implements pubsub.PubSub.Subscribe.
func (ps *PubSub) Subscribe(ctx context.Context, topic string, msgsCh chan<- []pubsub.Message) error {
	defer close(msgsCh)
	next := 0
	for {
		ps.lock.Lock()
		if ps.closed {
			ps.lock.Unlock()
			return pubsub.ErrClosed
		}
		t := ps.topicLocked(topic)
		batch := t.msgs[next:len(t.msgs):len(t.msgs)]
		changed := t.changed
		ps.lock.Unlock()

		if len(batch) > 0 {
			select {
			case msgsCh <- batch:
				next += len(batch)
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Len returns the number of messages published to the topic so far.
func (ps *PubSub) Len(topic string) int {
	ps.lock.Lock()
	defer ps.lock.Unlock()
	if t, ok := ps.topics[topic]; ok {
		return len(t.msgs)
	}
	return 0
}

// Close implements pubsub.PubSub.Close.
func (ps *PubSub) Close() error {
	ps.lock.Lock()
	defer ps.lock.Unlock()
	if ps.closed {
		return nil
	}
	ps.closed = true
	for _, t := range ps.topics {
		close(t.changed)
	}
	return nil
}
