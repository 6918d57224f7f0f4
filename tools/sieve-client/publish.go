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

package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cheggaaa/pb"
	"github.com/ebay/sieve/config"
	"github.com/ebay/sieve/pubsub"
	"github.com/ebay/sieve/query"
	"github.com/ebay/sieve/record"
	"github.com/ebay/sieve/stream"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// recordBatchSize is the number of records sent per Publish call.
const recordBatchSize = 256

// submit publishes a query to the query topic, after checking that it parses
// with the daemons' defaults.
func submit(ctx context.Context, ps pubsub.PubSub, cfg *config.Sieve, options *options) error {
	input, err := readFile(options.Filename)
	if err != nil {
		return err
	}
	msg, err := submitMessage(options.QueryID, input, query.DefaultsFromConfig(cfg))
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"id":    msg.Key,
		"topic": cfg.PubSub.QueryTopic,
	}).Info("Submitting query")
	if err := ps.Publish(ctx, cfg.PubSub.QueryTopic, msg); err != nil {
		return err
	}
	fmt.Println(msg.Key)
	return nil
}

// submitMessage builds the query topic message for a submission. If id is
// empty, a random one is generated.
func submitMessage(id string, text []byte, defaults query.Defaults) (pubsub.Message, error) {
	if _, err := query.Parse(string(text), defaults); err != nil {
		return pubsub.Message{}, err
	}
	if id == "" {
		id = uuid.New().String()
	}
	return pubsub.Message{
		Key:     id,
		Value:   text,
		Headers: map[string]string{stream.ActionHeader: stream.ActionSubmit},
	}, nil
}

// cancel publishes a cancellation to the query topic.
func cancel(ctx context.Context, ps pubsub.PubSub, topics config.PubSub, options *options) error {
	log.WithFields(log.Fields{
		"id":    options.CancelID,
		"topic": topics.QueryTopic,
	}).Info("Canceling query")
	return ps.Publish(ctx, topics.QueryTopic, cancelMessage(options.CancelID))
}

func cancelMessage(id string) pubsub.Message {
	return pubsub.Message{
		Key:     id,
		Headers: map[string]string{stream.ActionHeader: stream.ActionCancel},
	}
}

// send publishes newline-delimited JSON records to the record topic.
func send(ctx context.Context, ps pubsub.PubSub, topics config.PubSub, options *options) error {
	input, err := readFile(options.Filename)
	if err != nil {
		return err
	}
	msgs, err := recordMessages(options.QueryID, bytes.NewReader(input))
	if err != nil {
		return err
	}
	bar := pb.New(len(msgs)).Prefix("Records ")
	bar.Output = os.Stderr
	bar.Start()
	defer bar.Finish()
	for start := 0; start < len(msgs); start += recordBatchSize {
		end := start + recordBatchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		now := time.Now()
		for i := start; i < end; i++ {
			msgs[i].Timestamp = now
		}
		if err := ps.Publish(ctx, topics.RecordTopic, msgs[start:end]...); err != nil {
			return err
		}
		bar.Add(end - start)
	}
	log.Info(fmtr.Sprintf("Sent %d records to %v", len(msgs), topics.RecordTopic))
	return nil
}

// recordMessages reads one JSON object per line, skipping blank lines. Every
// message is keyed by id, which may be empty.
func recordMessages(id string, r io.Reader) ([]pubsub.Message, error) {
	var msgs []pubsub.Message
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		if _, err := record.Parse(data); err != nil {
			return nil, fmt.Errorf("line %d: %v", line, err)
		}
		msgs = append(msgs, pubsub.Message{
			Key:   id,
			Value: append([]byte(nil), data...),
		})
	}
	return msgs, scanner.Err()
}

// readFile returns the contents of the file. filename may be "-" to read from
// stdin.
func readFile(filename string) ([]byte, error) {
	if filename == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(filename)
}
