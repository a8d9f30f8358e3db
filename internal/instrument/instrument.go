// instrument.go - Prometheus metrics.
// Copyright (C) 2026  Katzenpost Developers.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package instrument exports delivery metrics to Prometheus.
package instrument

import (
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sendOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_send_outcomes_total",
			Help: "Number of per recipient send outcomes by kind",
		},
		[]string{"kind"},
	)
	fanoutDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_swarm_fanout_seconds",
			Help:    "Time until a swarm fan-out was decided",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"result"},
	)
	nodeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_swarm_node_failures_total",
			Help: "Number of storage node requests counted as node failures",
		},
	)
	channelPosts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_public_channel_posts_total",
			Help: "Number of public channel posts by result",
		},
		[]string{"result"},
	)
	syncDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_sync_dispatches_total",
			Help: "Number of transcripts mirrored to linked devices by result",
		},
		[]string{"result"},
	)
	uploadedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_attachment_uploaded_bytes_total",
			Help: "Number of attachment bytes uploaded, after padding",
		},
	)
)

var registerOnce sync.Once

func register(r prometheus.Registerer) {
	r.MustRegister(sendOutcomes)
	r.MustRegister(fanoutDuration)
	r.MustRegister(nodeFailures)
	r.MustRegister(channelPosts)
	r.MustRegister(syncDispatches)
	r.MustRegister(uploadedBytes)
}

// Init registers the metrics and, if addr is not empty, serves them on
// http://addr/metrics.  The returned server is nil when nothing is served.
func Init(addr string, errorLog *log.Logger) (*http.Server, error) {
	registerOnce.Do(func() { register(prometheus.DefaultRegisterer) })
	if addr == "" {
		return nil, nil
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ErrorLog:          errorLog,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) && errorLog != nil {
			errorLog.Printf("metrics listener: %v", err)
		}
	}()
	return srv, nil
}

// Outcome counts one per recipient send outcome.
func Outcome(kind string) {
	sendOutcomes.With(prometheus.Labels{"kind": kind}).Inc()
}

// FanoutFinished observes the time a swarm fan-out took to be decided.
func FanoutFinished(d time.Duration, ok bool) {
	fanoutDuration.With(prometheus.Labels{"result": resultLabel(ok)}).Observe(d.Seconds())
}

// NodeFailed counts a failed storage node request.
func NodeFailed() {
	nodeFailures.Inc()
}

// ChannelPost counts a public channel post.
func ChannelPost(ok bool) {
	channelPosts.With(prometheus.Labels{"result": resultLabel(ok)}).Inc()
}

// SyncDispatch counts a transcript delivery to a linked device.
func SyncDispatch(ok bool) {
	syncDispatches.With(prometheus.Labels{"result": resultLabel(ok)}).Inc()
}

// Uploaded counts uploaded attachment bytes.
func Uploaded(n int) {
	uploadedBytes.Add(float64(n))
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
