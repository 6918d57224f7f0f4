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
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/ebay/sieve/query"
	"github.com/ebay/sieve/util/web"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// topology is the part of stream.Topology the admin endpoints use.
type topology interface {
	Submit(ctx context.Context, id, text string) error
	Cancel(ctx context.Context, id string) error
	Queries() [][]string
}

// adminServer serves metrics and lets operators inspect, submit, and cancel
// queries over HTTP.
type adminServer struct {
	topo topology
}

func (s *adminServer) handler() http.Handler {
	m := httprouter.New()
	m.Handler("GET", "/metrics", promhttp.Handler())
	m.GET("/queries", s.listQueries)
	m.PUT("/queries/:id", s.submitQuery)
	m.DELETE("/queries/:id", s.cancelQuery)
	m.POST("/logLevel/:level", s.setLogLevel)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debugf("[HTTP] %v %v", r.Method, r.URL)
		m.ServeHTTP(w, r)
	})
}

func (s *adminServer) listQueries(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	web.Write(w, s.topo.Queries())
}

func (s *adminServer) submitQuery(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	text, err := io.ReadAll(r.Body)
	if err != nil {
		web.WriteError(w, http.StatusBadRequest, "Unable to read query: %v", err)
		return
	}
	err = s.topo.Submit(r.Context(), ps.ByName("id"), string(text))
	var verr *query.ValidationError
	if errors.As(err, &verr) {
		web.WriteError(w, http.StatusBadRequest, "%v", verr)
		return
	}
	web.Write(w, err)
}

func (s *adminServer) cancelQuery(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	web.Write(w, s.topo.Cancel(r.Context(), ps.ByName("id")))
}

func (s *adminServer) setLogLevel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	level, err := log.ParseLevel(ps.ByName("level"))
	if err != nil {
		web.WriteError(w, http.StatusBadRequest, "%v", err)
		return
	}
	log.SetLevel(level)
	log.Infof("Log level changed to %v", level)
	web.Write(w, "Log level set to "+level.String()+"\n")
}

// startHTTPServer serves the admin endpoints in the background, unless address
// is empty.
func startHTTPServer(address string, topo topology) {
	if address == "" {
		log.Warnf("Cannot start HTTP server as 'metricsAddress' configuration not set")
		return
	}
	s := &adminServer{topo: topo}
	log.Infof("Starting HTTP server for metrics and admin on %v", address)
	go func() {
		err := http.ListenAndServe(address, s.handler())
		if err != nil {
			log.WithError(err).Panic("Failed to start HTTP server")
		}
	}()
}
