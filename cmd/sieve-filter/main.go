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

// Command sieve-filter runs the filter daemon: it reads query submissions and
// records from the configured pubsub, runs the queries, and publishes their
// results.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ebay/sieve/config"
	"github.com/ebay/sieve/pubsub"
	_ "github.com/ebay/sieve/pubsub/kafka"  // side-effect: registers "kafka" pubsub implementation
	_ "github.com/ebay/sieve/pubsub/memory" // side-effect: registers "memory" pubsub implementation
	"github.com/ebay/sieve/stream"
	"github.com/ebay/sieve/util/debuglog"
	"github.com/ebay/sieve/util/parallel"
	"github.com/ebay/sieve/util/tracing"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfgFile := flag.String("cfg", "sieve.json", "Config file (.json, .yaml, or .yml)")
	logLevel := flag.String("log", "info", "Initial logging level [can be changed later via POST /logLevel/:level]")
	colors := flag.Bool("colors", false, "Force colored log output")
	flag.Parse()
	debuglog.Configure(debuglog.Options{
		ForceColors: *colors,
		Level:       *logLevel,
	})

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Fatalf("Unable to load configuration: %v", err)
	}
	log.Infof("Using config: %+v", cfg)

	tracer, err := tracing.New("sieve-filter", cfg.Tracing)
	if err != nil {
		log.Fatalf("Unable to initialize distributed tracing: %v", err)
	}
	defer tracer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ps, err := pubsub.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Unable to connect to %v pubsub: %v", cfg.PubSub.Type, err)
	}
	defer ps.Close()

	topo := stream.New(cfg, stream.NewPublisher(ctx, ps, cfg.PubSub.ResultTopic), stream.Options{})
	startHTTPServer(cfg.MetricsAddress, topo)

	err = parallel.InvokeN(ctx, 2, func(ctx context.Context, i int) error {
		if i == 0 {
			return topo.Run(ctx)
		}
		return topo.Serve(ctx, ps, cfg.PubSub)
	})
	if err != nil && err != context.Canceled {
		log.WithError(err).Error("Filter stopped unexpectedly")
		tracer.Close()
		os.Exit(1)
	}
	log.Info("Sieve filter exiting")
}
