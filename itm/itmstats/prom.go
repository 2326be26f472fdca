/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package itmstats

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/facebookincubator/itm-trace/itm"
)

// PromExporter mirrors a StatsCollector's counters onto its own private
// Prometheus registry, rather than the global default registry, so a
// decode session embedded in a larger process never collides with that
// process's own metric names.
type PromExporter struct {
	collector *StatsCollector
	registry  *prometheus.Registry

	packets          *prometheus.CounterVec
	malformed        *prometheus.CounterVec
	ioErrors         prometheus.Counter
	overflows        prometheus.Counter
	timestampQuality *prometheus.CounterVec
	consumedPackets  prometheus.Counter

	mu            sync.Mutex
	lastPackets   map[itm.PacketKind]uint64
	lastMalformed map[itm.MalformedCategory]uint64
	lastQuality   map[itm.TimestampDataRelation]uint64
	lastIO        uint64
	lastOvf       uint64
	lastConsumed  uint64
}

// NewPromExporter registers counters for c against a fresh private
// registry and returns the exporter wrapping it.
func NewPromExporter(c *StatsCollector) *PromExporter {
	reg := prometheus.NewRegistry()

	e := &PromExporter{
		collector:     c,
		registry:      reg,
		lastPackets:   make(map[itm.PacketKind]uint64),
		lastMalformed: make(map[itm.MalformedCategory]uint64),
		lastQuality:   make(map[itm.TimestampDataRelation]uint64),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itm_packets_total",
			Help: "Total ITM/DWT packets decoded, by kind.",
		}, []string{"kind"}),
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itm_malformed_packets_total",
			Help: "Total malformed packets rejected, by category.",
		}, []string{"category"}),
		ioErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "itm_io_errors_total",
			Help: "Total underlying read faults, including mid-packet truncation.",
		}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "itm_overflow_total",
			Help: "Total Overflow packets observed, signaling trace FIFO saturation.",
		}),
		timestampQuality: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itm_timestamp_quality_total",
			Help: "Total timestamp groups closed, by data-relation quality grade.",
		}, []string{"relation"}),
		consumedPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "itm_consumed_packets_total",
			Help: "Total underlying packets consumed across all timestamp groups.",
		}),
	}

	reg.MustRegister(e.packets, e.malformed, e.ioErrors, e.overflows, e.timestampQuality, e.consumedPackets)
	return e
}

// Registry returns the private Prometheus registry this exporter
// populates, for callers that want to merge it with other collectors.
func (e *PromExporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler returns an http.Handler serving this exporter's registry in the
// standard Prometheus exposition format.
func (e *PromExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Sync copies the collector's current snapshot onto the Prometheus
// counters. Counters only ever increase, so Sync computes the delta since
// its previous call against a monotonically growing StatsCollector
// (StatsCollector never resets its own counters).
func (e *PromExporter) Sync() {
	snap := e.collector.Snapshot()

	e.mu.Lock()
	defer e.mu.Unlock()

	for kind, n := range snap.PacketsByKind {
		if n > e.lastPackets[kind] {
			e.packets.WithLabelValues(kind.String()).Add(float64(n - e.lastPackets[kind]))
			e.lastPackets[kind] = n
		}
	}
	for category, n := range snap.MalformedByCategory {
		if n > e.lastMalformed[category] {
			e.malformed.WithLabelValues(category.String()).Add(float64(n - e.lastMalformed[category]))
			e.lastMalformed[category] = n
		}
	}

	for relation, n := range snap.TimestampQuality {
		if n > e.lastQuality[relation] {
			e.timestampQuality.WithLabelValues(relation.String()).Add(float64(n - e.lastQuality[relation]))
			e.lastQuality[relation] = n
		}
	}

	if snap.IOErrors > e.lastIO {
		e.ioErrors.Add(float64(snap.IOErrors - e.lastIO))
		e.lastIO = snap.IOErrors
	}
	if snap.OverflowCount > e.lastOvf {
		e.overflows.Add(float64(snap.OverflowCount - e.lastOvf))
		e.lastOvf = snap.OverflowCount
	}
	if snap.ConsumedPackets > e.lastConsumed {
		e.consumedPackets.Add(float64(snap.ConsumedPackets - e.lastConsumed))
		e.lastConsumed = snap.ConsumedPackets
	}
}
