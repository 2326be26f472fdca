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

// Package itm decodes the ARM Cortex-M Instrumentation Trace Macrocell (ITM)
// and Data Watchpoint and Trace (DWT) byte stream, as emitted over SWO/TPIU
// by an ARMv7-M/ARMv8-M debug unit, into a sequence of TracePacket values.
package itm

import (
	"fmt"

	"github.com/facebookincubator/itm-trace/itm/exception"
)

// PacketKind identifies which variant of the ITM/DWT packet union a
// TracePacket carries. All references are to ARMv7-M Architecture Reference
// Manual, Appendix D4.
type PacketKind uint8

// Packet kinds, see Appendix D4.2.
const (
	KindSync PacketKind = iota
	KindOverflow
	KindLocalTimestamp1
	KindLocalTimestamp2
	KindGlobalTimestamp1
	KindGlobalTimestamp2
	KindExtension
	KindItmData
	KindEventCounterWrap
	KindExceptionTrace
	KindPCSample
	KindDataTrace
)

// String renders a PacketKind for logging and debug output.
func (k PacketKind) String() string {
	switch k {
	case KindSync:
		return "Sync"
	case KindOverflow:
		return "Overflow"
	case KindLocalTimestamp1:
		return "LocalTimestamp1"
	case KindLocalTimestamp2:
		return "LocalTimestamp2"
	case KindGlobalTimestamp1:
		return "GlobalTimestamp1"
	case KindGlobalTimestamp2:
		return "GlobalTimestamp2"
	case KindExtension:
		return "Extension"
	case KindItmData:
		return "ItmData"
	case KindEventCounterWrap:
		return "EventCounterWrap"
	case KindExceptionTrace:
		return "ExceptionTrace"
	case KindPCSample:
		return "PCSample"
	case KindDataTrace:
		return "DataTrace"
	default:
		return fmt.Sprintf("PacketKind(%d)", uint8(k))
	}
}

// TimestampDataRelation describes how closely a local timestamp reflects
// the associated ITM/DWT event in wall-clock time. Ordered by decreasing
// quality; a downgrade heralds trace-pipeline congestion or an impending
// Overflow.
type TimestampDataRelation uint8

// Data relation quality grades, decoded from the TC field of a
// LocalTimestamp1 packet header (Appendix D4.2.4).
const (
	RelationSync TimestampDataRelation = iota
	RelationAssocEventDelay
	RelationUnknownDelay
	RelationUnknownAssocEventDelay
)

func (r TimestampDataRelation) String() string {
	switch r {
	case RelationSync:
		return "Sync"
	case RelationAssocEventDelay:
		return "AssocEventDelay"
	case RelationUnknownDelay:
		return "UnknownDelay"
	case RelationUnknownAssocEventDelay:
		return "UnknownAssocEventDelay"
	default:
		return fmt.Sprintf("TimestampDataRelation(%d)", uint8(r))
	}
}

// ExceptionAction is the transition reported by an ExceptionTrace packet.
type ExceptionAction uint8

// Exception actions, see Appendix D4.2.7.
const (
	ExceptionActionEntered ExceptionAction = iota + 1
	ExceptionActionExited
	ExceptionActionReturned
)

func (a ExceptionAction) String() string {
	switch a {
	case ExceptionActionEntered:
		return "Entered"
	case ExceptionActionExited:
		return "Exited"
	case ExceptionActionReturned:
		return "Returned"
	default:
		return fmt.Sprintf("ExceptionAction(%d)", uint8(a))
	}
}

// DataTraceKind identifies which DWT comparator event a DataTrace packet
// carries.
type DataTraceKind uint8

// Data trace sub-kinds, see Appendix D4.2.8-D4.2.9.
const (
	DataTracePCValue DataTraceKind = iota
	DataTraceAddress
	DataTraceWriteValue
	DataTraceReadValue
)

func (k DataTraceKind) String() string {
	switch k {
	case DataTracePCValue:
		return "PCValue"
	case DataTraceAddress:
		return "Address"
	case DataTraceWriteValue:
		return "WriteValue"
	case DataTraceReadValue:
		return "ReadValue"
	default:
		return fmt.Sprintf("DataTraceKind(%d)", uint8(k))
	}
}

// TracePacket is a tagged union over every ITM/DWT packet family. Only the
// fields relevant to Kind are populated; callers switch on Kind before
// reading variant-specific fields.
type TracePacket struct {
	Kind PacketKind `json:"kind"`

	// LocalTimestamp1 / LocalTimestamp2: Ts holds the raw tick count
	// (up to 27 bits for LTS1, up to 7 for LTS2). DataRelation is only
	// meaningful for LocalTimestamp1; LocalTimestamp2 is always
	// RelationSync.
	Ts           uint32                `json:"ts,omitempty"`
	DataRelation TimestampDataRelation `json:"data_relation,omitempty"`

	// GlobalTimestamp1
	GTSLower    uint64 `json:"gts_lower,omitempty"`
	Wrap        bool   `json:"wrap,omitempty"`
	ClockChange bool   `json:"clkch,omitempty"`

	// GlobalTimestamp2
	GTSUpper uint64 `json:"gts_upper,omitempty"`

	// Extension
	Page uint8 `json:"page,omitempty"`

	// ItmData
	Port    uint8  `json:"port,omitempty"`
	Payload []byte `json:"payload,omitempty"`

	// EventCounterWrap: each field is true if the corresponding DWT
	// counter wrapped since the last report.
	CPIWrap   bool `json:"cpi_wrap,omitempty"`
	ExcWrap   bool `json:"exc_wrap,omitempty"`
	SleepWrap bool `json:"sleep_wrap,omitempty"`
	LSUWrap   bool `json:"lsu_wrap,omitempty"`
	FoldWrap  bool `json:"fold_wrap,omitempty"`
	CycWrap   bool `json:"cyc_wrap,omitempty"`

	// ExceptionTrace: ExceptionNumber is the raw 9-bit VectActive value off
	// the wire; Exception is that value resolved through the architectural
	// lookup table (itm/exception), the same value a caller would get from
	// exception.FromIRQn(ExceptionNumber).
	ExceptionNumber uint16               `json:"exception_number,omitempty"`
	Exception       exception.VectActive `json:"exception,omitempty"`
	ExceptionAction ExceptionAction      `json:"exception_action,omitempty"`

	// PCSample: nil when the core was asleep when sampled.
	PC *uint32 `json:"pc,omitempty"`

	// DataTrace
	Comparator    uint8         `json:"comparator,omitempty"`
	DataTraceKind DataTraceKind `json:"data_trace_kind,omitempty"`
	Value         uint32        `json:"value,omitempty"`
}
