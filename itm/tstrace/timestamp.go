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

package tstrace

import (
	"time"

	"github.com/facebookincubator/itm-trace/itm"
)

// Timestamp is the engine's estimate of wall-clock-relative time for the
// group of packets it closes, carrying the quality grade decoded off the
// LocalTimestamp that closed the group.
//
// Curr is the running offset after folding in this group's LocalTimestamp
// delta; when a GlobalTimestamp merge happened since the previous group, the
// delta is added to that merged absolute value. Prev is only meaningful for
// RelationUnknownDelay and RelationUnknownAssocEventDelay: the offset as of
// the previous emitted group, which a GlobalTimestamp reset may leave
// stale relative to Curr -- that staleness is intentional, see Engine.
type Timestamp struct {
	Relation itm.TimestampDataRelation `json:"relation"`
	Prev     time.Duration            `json:"prev"`
	Curr     time.Duration            `json:"curr"`
}

// TimestampedTracePackets is one closed group from Engine.Next: every
// non-timestamp packet the decoder produced since the previous group,
// stamped with the Timestamp the closing LocalTimestamp computed.
type TimestampedTracePackets struct {
	// Timestamp is derived from the LocalTimestamp1/LocalTimestamp2 packet
	// that closed this group.
	Timestamp Timestamp

	// Packets holds every non-timestamp packet accumulated since the
	// previous group, in the order the decoder produced them.
	// GlobalTimestamp1/GlobalTimestamp2 packets are applied to internal
	// engine state and never appear here.
	Packets []itm.TracePacket

	// MalformedPackets holds markers for malformed packets tolerated
	// during accumulation (Config.ExpectMalformed); empty unless that
	// option is set and a malformed header was seen mid-group.
	MalformedPackets []*itm.MalformedPacketError

	// ConsumedPackets counts every underlying decoder read that produced
	// this group, including the packets in Packets, the malformed markers
	// in MalformedPackets, any GlobalTimestamp packets folded into engine
	// state along the way, and the closing LocalTimestamp itself.
	ConsumedPackets int
}

// TimestampedTracePacket pairs a single data packet with the Timestamp of
// the group it belongs to, for callers (like itmdump's JSON output) that
// want one record per packet rather than per group.
type TimestampedTracePacket struct {
	Packet    itm.TracePacket `json:"packet"`
	Timestamp Timestamp       `json:"timestamp"`
}
