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

// Package tstrace reconstructs wall-clock-relative timestamps from a
// decoded ITM/DWT packet stream, combining LocalTimestamp and
// GlobalTimestamp packets the way the debug unit intends them to be
// combined: ticks scaled by the target's clock frequency and the DWT
// timestamp prescaler, with global timestamps periodically re-anchoring
// the running offset.
package tstrace

import (
	"errors"
	"io"
	"math"
	"math/bits"
	"time"

	"github.com/facebookincubator/itm-trace/itm"
)

// gtsLowerBits is the width, in bits, of the tick value carried by a
// GlobalTimestamp1 packet (Appendix D4.2.5: 26 significant bits once the
// Wrap/ClockChange flags are excluded from the terminal payload byte).
const gtsLowerBits = 26

// gtsState tracks the two compressed-overlay halves of the reconstructed
// global timestamp. A nil half means that half has never been reported (or
// was just reset by Wrap/ClockChange): the merge is only performed, and
// currentOffset only overwritten, once both halves are known.
type gtsState struct {
	lower *uint64
	upper *uint64
}

// Engine consumes packets from an itm.Decoder and groups them the way
// next_group() does: non-timestamp packets accumulate into a buffer until a
// LocalTimestamp packet closes the group, with GlobalTimestamp packets
// folded into the running offset along the way but never appearing in the
// buffer themselves. It is stateful across calls to Next and, like
// itm.Decoder, is not safe for concurrent use.
type Engine struct {
	dec *itm.Decoder
	cfg Config

	// currentOffset is the single running wall-clock offset every emitted
	// Timestamp.Curr is read from. A LocalTimestamp delta adds to it; a
	// GlobalTimestamp merge overwrites it absolutely.
	currentOffset time.Duration

	// prevLTS is currentOffset as of the previously emitted group. Only a
	// LocalTimestamp emission updates it -- a GlobalTimestamp merge never
	// touches it, so the next LocalTimestamp-driven group's Prev can
	// predate a GlobalTimestamp reset of Curr. That is intentional: it
	// mirrors this package's upstream reference behavior verbatim.
	prevLTS time.Duration

	gts gtsState
}

// NewEngine constructs an Engine reading packets from dec, scaling ticks
// according to cfg. It returns an error if cfg is not usable.
func NewEngine(dec *itm.Decoder, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{dec: dec, cfg: cfg}, nil
}

// Next drains the underlying decoder, accumulating packets into a group
// until a LocalTimestamp1/LocalTimestamp2 packet closes it. GlobalTimestamp
// packets encountered along the way update the engine's offset but never
// close a group and never appear in the returned group's Packets.
//
// Next returns io.EOF the moment the underlying decoder reports a clean
// end of stream, even mid-accumulation: per this package's group contract,
// no partial group is ever emitted. An *itm.IOError propagates the same
// way. An *itm.MalformedPacketError aborts Next unless cfg.ExpectMalformed
// is set, in which case it is appended to the group's MalformedPackets and
// accumulation continues.
func (e *Engine) Next() (TimestampedTracePackets, error) {
	var group TimestampedTracePackets

	for {
		pkt, err := e.dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return TimestampedTracePackets{}, io.EOF
			}
			var malformed *itm.MalformedPacketError
			if errors.As(err, &malformed) && e.cfg.ExpectMalformed {
				group.MalformedPackets = append(group.MalformedPackets, malformed)
				group.ConsumedPackets++
				continue
			}
			return TimestampedTracePackets{}, err
		}

		group.ConsumedPackets++

		switch pkt.Kind {
		case itm.KindLocalTimestamp1:
			group.Timestamp = e.applyLocalTimestamp(pkt.Ts, pkt.DataRelation)
			return group, nil
		case itm.KindLocalTimestamp2:
			group.Timestamp = e.applyLocalTimestamp(pkt.Ts, itm.RelationSync)
			return group, nil
		case itm.KindGlobalTimestamp1:
			e.applyGlobalTimestamp1(pkt)
		case itm.KindGlobalTimestamp2:
			e.applyGlobalTimestamp2(pkt)
		default:
			group.Packets = append(group.Packets, pkt)
		}
	}
}

// applyLocalTimestamp folds a tick count into the running offset and
// reports the Timestamp for the group it closes. After computing the
// Timestamp, prevLTS is advanced to the new currentOffset so the next
// group's Prev (when its relation calls for one) reads from here.
func (e *Engine) applyLocalTimestamp(ts uint32, relation itm.TimestampDataRelation) Timestamp {
	delta := ticksToDuration(uint64(ts), e.cfg)
	e.currentOffset += delta

	out := Timestamp{Relation: relation, Prev: e.prevLTS, Curr: e.currentOffset}
	e.prevLTS = e.currentOffset
	return out
}

// applyGlobalTimestamp1 folds a GlobalTimestamp1 packet's lower tick bits
// into the reconstructed global offset, per Appendix D4.2.5: if Wrap is
// set, the upper half is about to be superseded by an incoming
// GlobalTimestamp2, so it is cleared pending that report; else if
// ClockChange is set, both halves reset (the target will follow with a
// full GTS2, per the standing open question on clkch reset timing); else
// the two halves are merged and currentOffset is overwritten absolutely.
//
// GlobalTimestamp1/2 packets are emitted in a compressed form: once the
// upper bits of a half stop changing relative to the previous report, the
// target may omit them from the wire encoding entirely. mergeCompressed
// reconstructs the omitted high bits from the previously known value:
// anything above the new value's highest set bit is taken from the old
// value unchanged, and everything up to and including it is replaced
// outright.
func (e *Engine) applyGlobalTimestamp1(pkt itm.TracePacket) {
	lower := mergeCompressedOptional(e.gts.lower, pkt.GTSLower)
	e.gts.lower = &lower

	switch {
	case pkt.Wrap:
		e.gts.upper = nil
	case pkt.ClockChange:
		e.gts.lower = nil
		e.gts.upper = nil
	default:
		e.mergeGTS()
	}
}

// applyGlobalTimestamp2 sets the upper global-timestamp half and merges.
func (e *Engine) applyGlobalTimestamp2(pkt itm.TracePacket) {
	upper := pkt.GTSUpper
	e.gts.upper = &upper
	e.mergeGTS()
}

// mergeGTS combines the two known GTS halves into an absolute tick count
// and overwrites currentOffset with it, leaving prevLTS untouched. A merge
// only happens once both halves are known; otherwise the previous
// currentOffset carries forward implicitly. Global timestamp ticks are
// converted by clock frequency alone (ceiling-rounded); the local timestamp
// prescaler does not apply to them.
func (e *Engine) mergeGTS() {
	if e.gts.lower == nil || e.gts.upper == nil {
		return
	}
	ticks := *e.gts.upper<<gtsLowerBits | *e.gts.lower
	ns := math.Ceil(float64(ticks) / float64(e.cfg.ClockFrequencyHz) * 1e9)
	e.currentOffset = time.Duration(ns)
}

// mergeCompressedOptional applies mergeCompressed against old if old is
// known, or takes new verbatim as the first report of this half.
func mergeCompressedOptional(old *uint64, new uint64) uint64 {
	if old == nil {
		return new
	}
	return mergeCompressed(*old, new)
}

// mergeCompressed reconstructs a full tick value from a new, possibly
// truncated report laid over an old one: every bit of old above new's
// highest set bit is preserved; that bit and every bit below it come from
// new.
// A new value of zero carries no information and old passes through
// unchanged, matching a continuation-coded zero-length omission.
func mergeCompressed(old, new uint64) uint64 {
	if new == 0 {
		return old
	}
	shift := uint(64 - bits.LeadingZeros64(new))
	return (old>>shift)<<shift | new
}

// ticksToDuration converts a raw tick count to a duration, applying the
// configured timestamp prescaler and clock frequency. Conversion rounds up
// (ceiling), matching the reference implementation this engine is modeled
// on: a fractional remainder is never silently truncated away.
func ticksToDuration(ticks uint64, cfg Config) time.Duration {
	scaled := float64(ticks) * float64(cfg.LTSPrescaler.divisor())
	ns := math.Ceil(scaled / float64(cfg.ClockFrequencyHz) * 1e9)
	return time.Duration(ns)
}
