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

// Package kafka implements pubsub.PubSub on Kafka topics.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/ebay/sieve/config"
	"github.com/ebay/sieve/pubsub"
	"github.com/ebay/sieve/util/parallel"
	log "github.com/sirupsen/logrus"
)

func init() {
	pubsub.Factories["kafka"] = func(ctx context.Context, cfg *config.Sieve) (pubsub.PubSub, error) {
		return New(ctx, cfg)
	}
}

// PubSub is a client to Kafka. Subscriptions read every partition of a topic,
// starting from the newest messages.
type PubSub struct {
	client   sarama.Client
	producer sarama.SyncProducer
	consumer sarama.Consumer
}

// Ensures that PubSub implements pubsub.PubSub.
var _ pubsub.PubSub = (*PubSub)(nil)

// newConfig returns the sarama configuration used for all connections.
func newConfig(cfg *config.Sieve) *sarama.Config {
	kconfig := sarama.NewConfig()
	kconfig.Version = sarama.V0_11_0_0                // need 0.11 for record headers
	kconfig.Producer.RequiredAcks = sarama.WaitForAll // Wait for all in-sync replicas to ack the message
	kconfig.Producer.Retry.Max = 10                   // Retry up to 10 times to produce the message
	kconfig.Producer.Return.Successes = true
	kconfig.Consumer.Return.Errors = true
	kconfig.Consumer.Fetch.Min = 1
	kconfig.Consumer.MaxProcessingTime = time.Second / 2
	kconfig.ClientID = cfg.PubSub.ClientID
	return kconfig
}

// New connects to the Kafka brokers in the configuration.
func New(ctx context.Context, cfg *config.Sieve) (*PubSub, error) {
	if len(cfg.PubSub.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers configured")
	}
	start := time.Now()
	client, err := sarama.NewClient(cfg.PubSub.Brokers, newConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("unable to create Kafka client: %v", err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to start kafka producer: %v", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		producer.Close()
		client.Close()
		return nil, fmt.Errorf("unable to start kafka consumer: %v", err)
	}
	log.WithFields(log.Fields{
		"brokers":  cfg.PubSub.Brokers,
		"duration": time.Since(start),
	}).Info("Connected to Kafka")
	return newPubSub(client, producer, consumer), nil
}

// newPubSub is also used by unit tests to inject mocks. client may be nil.
func newPubSub(client sarama.Client, producer sarama.SyncProducer, consumer sarama.Consumer) *PubSub {
	return &PubSub{
		client:   client,
		producer: producer,
		consumer: consumer,
	}
}

// toProducerMessage converts a message for sending.
func toProducerMessage(topic string, msg pubsub.Message) *sarama.ProducerMessage {
	pm := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(msg.Value),
		Timestamp: msg.Timestamp,
	}
	if msg.Key != "" {
		pm.Key = sarama.StringEncoder(msg.Key)
	}
	for k, v := range msg.Headers {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return pm
}

// fromConsumerMessage converts a received message.
func fromConsumerMessage(km *sarama.ConsumerMessage) pubsub.Message {
	msg := pubsub.Message{
		Key:       string(km.Key),
		Value:     km.Value,
		Timestamp: km.Timestamp,
	}
	if len(km.Headers) > 0 {
		msg.Headers = make(map[string]string, len(km.Headers))
		for _, h := range km.Headers {
			msg.Headers[string(h.Key)] = string(h.Value)
		}
	}
	return msg
}

// Publish implements pubsub.PubSub.Publish.
func (ps *PubSub) Publish(ctx context.Context, topic string, msgs ...pubsub.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pms := make([]*sarama.ProducerMessage, len(msgs))
	for i, msg := range msgs {
		pms[i] = toProducerMessage(topic, msg)
	}
	err := ps.producer.SendMessages(pms)
	if err == sarama.ErrClosedClient || err == sarama.ErrShuttingDown {
		return pubsub.ErrClosed
	}
	return err
}

// Subscribe implements pubsub.PubSub.Subscribe.
func (ps *PubSub) Subscribe(ctx context.Context, topic string, msgsCh chan<- []pubsub.Message) error {
	defer close(msgsCh)
	partitions, err := ps.consumer.Partitions(topic)
	if err != nil {
		return fmt.Errorf("unable to list partitions for topic %v: %v", topic, err)
	}
	if len(partitions) == 0 {
		return fmt.Errorf("topic %v has no partitions", topic)
	}
	return parallel.InvokeN(ctx, len(partitions), func(ctx context.Context, i int) error {
		return ps.consumePartition(ctx, topic, partitions[i], msgsCh)
	})
}

func (ps *PubSub) consumePartition(ctx context.Context, topic string, partition int32,
	msgsCh chan<- []pubsub.Message) error {

	pc, err := ps.consumer.ConsumePartition(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("unable to start partition consumer for topic %v partition %v: %v",
			topic, partition, err)
	}
	defer func() {
		// Close PartitionConsumer, silently ignore any error returned.
		pc.Close()
		log.WithFields(log.Fields{
			"topic":     topic,
			"partition": partition,
		}).Debug("Closed Kafka partition consumer")
	}()
	for {
		select {
		case km, ok := <-pc.Messages():
			if !ok {
				return pubsub.ErrClosed
			}
			batch := []pubsub.Message{fromConsumerMessage(km)}
			// Batch up whatever else is immediately available.
		more:
			for len(batch) < 64 {
				select {
				case km, ok := <-pc.Messages():
					if !ok {
						break more
					}
					batch = append(batch, fromConsumerMessage(km))
				default:
					break more
				}
			}
			select {
			case msgsCh <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		case kerr, ok := <-pc.Errors():
			if !ok {
				return pubsub.ErrClosed
			}
			return fmt.Errorf("error reading from Kafka consumer: %v", kerr)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close implements pubsub.PubSub.Close.
func (ps *PubSub) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(ps.consumer.Close())
	record(ps.producer.Close())
	if ps.client != nil && !ps.client.Closed() {
		record(ps.client.Close())
	}
	return firstErr
}
