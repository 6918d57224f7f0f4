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

// Package pubsub defines how query submissions and records reach the filter
// daemon, and how results leave it. Implementations register themselves in
// Factories from their init functions; import them for their side effects.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ebay/sieve/config"
)

// Message is one unit of data on a topic.
type Message struct {
	// Identifies the query the message is about. May be empty for records.
	Key string
	// The payload, typically JSON.
	Value []byte
	// Optional metadata, such as the kind of a result message.
	Headers map[string]string
	// When the message was produced. Zero if unknown.
	Timestamp time.Time
}

// PubSub publishes to and subscribes to named topics.
type PubSub interface {
	// Publish appends the messages to the topic, in order. It returns once
	// the messages are accepted by the transport.
	Publish(ctx context.Context, topic string, msgs ...Message) error
	// Subscribe is a blocking call that delivers batches of messages from the
	// topic to msgsCh until the context is canceled or the PubSub is closed.
	// It closes msgsCh before returning, and returns the context's error, or
	// ErrClosed, or a transport error.
	Subscribe(ctx context.Context, topic string, msgsCh chan<- []Message) error
	// Close releases the PubSub's resources. Pending and future calls fail
	// with ErrClosed.
	Close() error
}

// ErrClosed is returned by PubSub methods after Close.
var ErrClosed = errors.New("pubsub: closed")

// Factory constructs a PubSub from configuration.
type Factory func(ctx context.Context, cfg *config.Sieve) (PubSub, error)

// Factories maps from the pubsub type in the configuration to a constructor.
// It's populated by the init functions of the implementation packages.
var Factories = make(map[string]Factory)

// New constructs the PubSub named by cfg.PubSub.Type.
func New(ctx context.Context, cfg *config.Sieve) (PubSub, error) {
	factory, ok := Factories[cfg.PubSub.Type]
	if !ok {
		return nil, fmt.Errorf("pubsub type %q not registered (forgot to import its package?)",
			cfg.PubSub.Type)
	}
	return factory(ctx, cfg)
}
