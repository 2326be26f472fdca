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

// Package itmstats accumulates counters describing a decoded trace
// session: packets seen per kind, malformed packets per category, overflow
// events, timestamp-quality-grade distribution, and throughput. It exposes
// a plain in-memory Stats snapshot for direct inspection, and a Prometheus
// collector (see prom.go) for exporting the same counters over HTTP.
package itmstats

import (
	"sync"

	"github.com/facebookincubator/itm-trace/itm"
)

// Stats is a point-in-time snapshot of everything a StatsCollector has
// observed.
type Stats struct {
	PacketsByKind       map[itm.PacketKind]uint64
	MalformedByCategory map[itm.MalformedCategory]uint64
	IOErrors            uint64
	OverflowCount       uint64

	// TimestampQuality counts emitted timestamp groups by the quality
	// grade (itm.TimestampDataRelation) of the LocalTimestamp that closed
	// them -- a downgrade towards UnknownDelay/UnknownAssocEventDelay
	// signals trace-pipeline congestion.
	TimestampQuality map[itm.TimestampDataRelation]uint64

	// ConsumedPackets is the cumulative count of underlying packets
	// consumed across every observed timestamp group, a throughput metric
	// for a caller tailing a live stream.
	ConsumedPackets uint64
}

// StatsCollector accumulates counters from a running decode loop. It is
// safe for concurrent use: a typical deployment feeds it from the
// goroutine driving itm.Decoder.Next or tstrace.Engine.Next while an HTTP
// handler reads a Snapshot concurrently.
type StatsCollector struct {
	mu sync.Mutex
	s  Stats
}

// NewStatsCollector returns a StatsCollector ready to accumulate.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		s: Stats{
			PacketsByKind:       make(map[itm.PacketKind]uint64),
			MalformedByCategory: make(map[itm.MalformedCategory]uint64),
			TimestampQuality:    make(map[itm.TimestampDataRelation]uint64),
		},
	}
}

// ObservePacket records a successfully decoded packet.
func (c *StatsCollector) ObservePacket(pkt itm.TracePacket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.PacketsByKind[pkt.Kind]++
	if pkt.Kind == itm.KindOverflow {
		c.s.OverflowCount++
	}
}

// ObserveMalformed records a malformed packet rejected by the decoder.
func (c *StatsCollector) ObserveMalformed(err *itm.MalformedPacketError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.MalformedByCategory[err.Category]++
}

// ObserveIOError records an underlying read fault.
func (c *StatsCollector) ObserveIOError(*itm.IOError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.IOErrors++
}

// ObserveGroup records a timestamp group produced by tstrace.Engine.Next:
// every packet it accumulated (itm.TracePacket stats), every malformed
// marker it tolerated, the quality grade of the timestamp that closed it,
// and the group's contribution to overall throughput.
func (c *StatsCollector) ObserveGroup(relation itm.TimestampDataRelation, consumed int, packets []itm.TracePacket, malformed []*itm.MalformedPacketError) {
	for _, pkt := range packets {
		c.ObservePacket(pkt)
	}
	for _, m := range malformed {
		c.ObserveMalformed(m)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.TimestampQuality[relation]++
	c.s.ConsumedPackets += uint64(consumed)
}

// Snapshot returns a copy of the counters accumulated so far.
func (c *StatsCollector) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Stats{
		PacketsByKind:       make(map[itm.PacketKind]uint64, len(c.s.PacketsByKind)),
		MalformedByCategory: make(map[itm.MalformedCategory]uint64, len(c.s.MalformedByCategory)),
		TimestampQuality:    make(map[itm.TimestampDataRelation]uint64, len(c.s.TimestampQuality)),
		IOErrors:            c.s.IOErrors,
		OverflowCount:       c.s.OverflowCount,
		ConsumedPackets:     c.s.ConsumedPackets,
	}
	for k, v := range c.s.PacketsByKind {
		out.PacketsByKind[k] = v
	}
	for k, v := range c.s.MalformedByCategory {
		out.MalformedByCategory[k] = v
	}
	for k, v := range c.s.TimestampQuality {
		out.TimestampQuality[k] = v
	}
	return out
}
