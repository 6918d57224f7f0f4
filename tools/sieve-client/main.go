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

// Command sieve-client submits queries and records to sieve filter daemons
// through their pubsub, and prints the query results.
package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	docopt "github.com/docopt/docopt-go"
	"github.com/ebay/sieve/config"
	"github.com/ebay/sieve/pubsub"
	_ "github.com/ebay/sieve/pubsub/kafka" // side-effect: registers "kafka" pubsub implementation
	"github.com/ebay/sieve/util/debuglog"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var fmtr = message.NewPrinter(language.English)

const usage = `sieve-client is a command-line tool for talking to sieve filter daemons.

Usage:
  sieve-client [--cfg=FILE -t=DUR] submit [--id=ID] FILE
  sieve-client [--cfg=FILE -t=DUR] cancel ID
  sieve-client [--cfg=FILE -t=DUR] send [--id=ID] FILE
  sieve-client [--cfg=FILE] results [--id=ID] [-n=NUM]

Options:
  --cfg=FILE               The daemons' config file, for the pubsub settings [default: sieve.json]
  -t=DUR, --timeout=DUR    Timeout for publishing [default: 10s]
  --id=ID                  The query ID. submit generates one if it's not given.
                           send and results use it to target a single query.
  -n=NUM, --count=NUM      Exit after printing this many results [default: 0]

Examples:
  # Count distinct users, in one minute windows, for ten minutes.
  sieve-client submit - <<END
  {"aggregation": {"type": "COUNT DISTINCT", "fields": ["user"]},
   "duration": 600000,
   "window": {"type": "TIME", "every": 60000}}
END

  # Send newline-delimited JSON records.
  sieve-client send records.json

  # Print merged results as they arrive.
  sieve-client results

  # Stop a query early without emitting its results.
  sieve-client cancel 0b6f4e3e-9c1a-4d38-a0c5-6a4c2b4c3f1e

`

type options struct {
	ConfigFile    string `docopt:"--cfg"`
	Timeout       time.Duration
	TimeoutString string `docopt:"--timeout"`
	QueryID       string `docopt:"--id"`
	Count         int    `docopt:"--count"`

	Submit   bool   `docopt:"submit"`
	Cancel   bool   `docopt:"cancel"`
	Send     bool   `docopt:"send"`
	Results  bool   `docopt:"results"`
	Filename string `docopt:"FILE"`
	CancelID string `docopt:"ID"`
}

func parseArgs() *options {
	opts, err := docopt.ParseDoc(usage)
	if err != nil {
		log.Fatalf("Error parsing command-line arguments: %v", err)
	}
	var options options
	err = opts.Bind(&options)
	if err != nil {
		log.Fatalf("Error binding command-line arguments: %v\nfrom: %+v", err, opts)
	}
	if options.TimeoutString != "" {
		options.Timeout, err = time.ParseDuration(options.TimeoutString)
		if err != nil {
			log.Fatalf("Unable to parse timeout value: %v", err)
		}
	}
	if options.Timeout == 0 {
		options.Timeout = time.Hour
	}
	return &options
}

func main() {
	debuglog.Configure(debuglog.Options{})
	options := parseArgs()
	cfg, err := config.Load(options.ConfigFile)
	if err != nil {
		log.Fatalf("Unable to load configuration: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ps, err := pubsub.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Unable to connect to %v pubsub: %v", cfg.PubSub.Type, err)
	}
	defer ps.Close()

	// Publishing subcommands run under timeoutCtx. results runs until it's
	// interrupted or has printed enough.
	timeoutCtx, cancelFunc := context.WithTimeout(ctx, options.Timeout)
	defer cancelFunc()

	switch {
	case options.Submit:
		if err := submit(timeoutCtx, ps, cfg, options); err != nil {
			log.Fatalf("Error submitting query: %v", err)
		}
	case options.Cancel:
		if err := cancel(timeoutCtx, ps, cfg.PubSub, options); err != nil {
			log.Fatalf("Error canceling query: %v", err)
		}
	case options.Send:
		if err := send(timeoutCtx, ps, cfg.PubSub, options); err != nil {
			log.Fatalf("Error sending records: %v", err)
		}
	case options.Results:
		if err := results(ctx, ps, cfg, options); err != nil && err != context.Canceled {
			log.Fatalf("Error reading results: %v", err)
		}
	default:
		log.Fatalf("command not implemented")
	}
}
