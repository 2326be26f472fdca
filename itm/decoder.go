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

package itm

import (
	"io"

	"github.com/facebookincubator/itm-trace/itm/exception"
)

// maxSyncZeroBytes bounds how many leading zero bytes the Sync scanner will
// drain before giving up and reporting a malformed packet. A real target
// never emits more than a handful; this only guards against a stuck/noisy
// link feeding an unbounded run of zero bytes.
const maxSyncZeroBytes = 1 << 16

// The *MaxPayloadBytes constants bound multi-byte continuation-coded packets
// (LocalTimestamp1, GlobalTimestamp1, GlobalTimestamp2) so a header with its
// continuation bit pinned high cannot read forever.
const (
	ltsMaxPayloadBytes  = 4
	gts1MaxPayloadBytes = 4
	gts2MaxPayloadBytes = 8
)

// DecoderOptions configures a Decoder at construction time.
type DecoderOptions struct {
	// IgnoreEOF, when true, retries a zero-byte read at a packet
	// boundary instead of reporting io.EOF. Intended for tailing a live
	// device that is momentarily idle between trace bursts.
	IgnoreEOF bool
}

// Decoder recognizes one ITM/DWT TracePacket at a time from an underlying
// byte stream. It is stateless between packets: internal state only exists
// within the bytes of a single Next() call. A Decoder exclusively owns its
// io.Reader for its lifetime and is not safe for concurrent use.
type Decoder struct {
	r    io.Reader
	opts DecoderOptions
}

// NewDecoder constructs a Decoder reading from r. r need only implement a
// blocking Read; a live serial port, a file, or an in-memory buffer all
// suffice.
func NewDecoder(r io.Reader, opts DecoderOptions) *Decoder {
	return &Decoder{r: r, opts: opts}
}

// readRaw reads exactly one byte, or reports io.EOF if the underlying
// reader has nothing left to give. It tolerates the (0, nil) Read result
// some implementations return by treating it the same as an exhausted
// source, which keeps callers from spinning forever on a misbehaving
// io.Reader.
func (d *Decoder) readRaw() (byte, error) {
	var buf [1]byte
	n, err := d.r.Read(buf[:])
	if n == 1 {
		return buf[0], nil
	}
	if err != nil {
		return 0, err
	}
	return 0, io.EOF
}

// readHeaderByte reads the first byte of a new packet. A clean end of
// stream here is reported as io.EOF (or retried, if IgnoreEOF is set); any
// other read fault is wrapped in IOError.
func (d *Decoder) readHeaderByte() (byte, error) {
	for {
		b, err := d.readRaw()
		if err == nil {
			return b, nil
		}
		if err == io.EOF {
			if d.opts.IgnoreEOF {
				continue
			}
			return 0, io.EOF
		}
		return 0, &IOError{Err: err}
	}
}

// readPayloadByte reads a byte once a packet has already started. A clean
// end of stream here means the stream was truncated mid-packet: that is
// reported as io.ErrUnexpectedEOF wrapped in IOError, never as io.EOF, per
// the load-bearing Eof-vs-Io distinction this decoder's contract requires.
func (d *Decoder) readPayloadByte() (byte, error) {
	b, err := d.readRaw()
	if err == nil {
		return b, nil
	}
	if err == io.EOF {
		return 0, &IOError{Err: io.ErrUnexpectedEOF}
	}
	return 0, &IOError{Err: err}
}

// Next advances the stream by exactly one packet's worth of octets. It
// returns (pkt, nil) on success, (TracePacket{}, io.EOF) when the stream
// ends cleanly on a packet boundary, (TracePacket{}, *IOError) for an
// underlying read fault (including mid-packet truncation), or
// (TracePacket{}, *MalformedPacketError) when a header is recognized but
// its payload violates the protocol.
func (d *Decoder) Next() (TracePacket, error) {
	header, err := d.readHeaderByte()
	if err != nil {
		return TracePacket{}, err
	}

	switch {
	case header == 0x00:
		return d.parseSync()
	case header == 0x70:
		return TracePacket{Kind: KindOverflow}, nil
	case header&0xCF == 0xC0:
		return d.parseLocalTimestamp1(header)
	case header == 0x94:
		return d.parseGlobalTimestamp1(header)
	case header == 0xB4:
		return d.parseGlobalTimestamp2(header)
	case header&0x0F == 0 && header&0x80 == 0:
		// header != 0 is implied: the all-zero header is handled above.
		return d.parseLocalTimestamp2(header)
	case header&0x0B == 0x08:
		return d.parseExtension(header)
	case header&0x03 != 0:
		return d.parseDataPacket(header)
	default:
		return TracePacket{}, &MalformedPacketError{
			Header:   header,
			Category: CategoryUnknown,
			Reason:   "header matches no known ITM/DWT packet family",
		}
	}
}

// parseSync drains the leading run of zero bytes that makes up a
// Synchronization packet, per Appendix D4.2.1: at least five 0x00 bytes
// followed by a single terminating byte with only bit 7 set (0x80).
func (d *Decoder) parseSync() (TracePacket, error) {
	zeroes := 1 // the header byte itself
	for {
		b, err := d.readPayloadByte()
		if err != nil {
			return TracePacket{}, err
		}
		if b == 0x00 {
			zeroes++
			if zeroes > maxSyncZeroBytes {
				return TracePacket{}, &MalformedPacketError{
					Header:   0x00,
					Category: CategorySync,
					Reason:   "sync run exceeded maximum length without a terminator",
				}
			}
			continue
		}
		if zeroes < 5 || b != 0x80 {
			return TracePacket{}, &MalformedPacketError{
				Header:   0x00,
				Category: CategorySync,
				Payload:  []byte{b},
				Reason:   "sync run did not end in a valid 0x80 terminator",
			}
		}
		return TracePacket{Kind: KindSync}, nil
	}
}

// parseLocalTimestamp1 decodes a multi-byte LocalTimestamp1 packet. The TC
// field (header bits [5:4]) selects the quality grade; the payload is a
// continuation-coded tick count of up to ltsMaxPayloadBytes septets.
func (d *Decoder) parseLocalTimestamp1(header byte) (TracePacket, error) {
	relation := localTimestampRelation((header >> 4) & 0x3)

	ts, payload, err := d.readContinuation(ltsMaxPayloadBytes)
	if err != nil {
		return TracePacket{}, err
	}
	if ts == nil {
		return TracePacket{}, &MalformedPacketError{
			Header:   header,
			Category: CategoryLocalTimestamp1,
			Payload:  payload,
			Reason:   "continuation bit still set after maximum payload length",
		}
	}

	return TracePacket{
		Kind:         KindLocalTimestamp1,
		Ts:           uint32(*ts),
		DataRelation: relation,
	}, nil
}

func localTimestampRelation(tc byte) TimestampDataRelation {
	switch tc {
	case 0:
		return RelationSync
	case 1:
		return RelationAssocEventDelay
	case 2:
		return RelationUnknownDelay
	default:
		return RelationUnknownAssocEventDelay
	}
}

// parseLocalTimestamp2 decodes a single-byte compressed local timestamp.
// Its tick count (header bits [6:4]) is always Sync quality.
func (d *Decoder) parseLocalTimestamp2(header byte) (TracePacket, error) {
	ts := (header >> 4) & 0x7
	return TracePacket{
		Kind:         KindLocalTimestamp2,
		Ts:           uint32(ts),
		DataRelation: RelationSync,
	}, nil
}

// parseGlobalTimestamp1 decodes the lower global-timestamp half. Per this
// decoder's reconstruction of Appendix D4.2.5 (the vendor's exact bit
// assignment for the status flags was not available in this project's
// reference material): continuation bytes contribute 7 tick bits each; the
// final (non-continuation) byte reserves bit 6 for Wrap and bit 5 for
// ClockChange, contributing only its low 5 bits to the tick value.
func (d *Decoder) parseGlobalTimestamp1(header byte) (TracePacket, error) {
	var value uint64
	var payload []byte
	var wrap, clkch bool

	for i := 0; i < gts1MaxPayloadBytes; i++ {
		b, err := d.readPayloadByte()
		if err != nil {
			return TracePacket{}, err
		}
		payload = append(payload, b)

		more := b&0x80 != 0
		if more {
			value |= uint64(b&0x7F) << (7 * uint(i))
			continue
		}

		wrap = b&0x40 != 0
		clkch = b&0x20 != 0
		value |= uint64(b&0x1F) << (7 * uint(i))
		return TracePacket{
			Kind:        KindGlobalTimestamp1,
			GTSLower:    value,
			Wrap:        wrap,
			ClockChange: clkch,
		}, nil
	}

	return TracePacket{}, &MalformedPacketError{
		Header:   header,
		Category: CategoryGlobalTimestamp1,
		Payload:  payload,
		Reason:   "continuation bit still set after maximum payload length",
	}
}

// parseGlobalTimestamp2 decodes the upper global-timestamp half, 48- or
// 64-bit capable depending on how many continuation bytes are present.
func (d *Decoder) parseGlobalTimestamp2(header byte) (TracePacket, error) {
	value, payload, err := d.readContinuation(gts2MaxPayloadBytes)
	if err != nil {
		return TracePacket{}, err
	}
	if value == nil {
		return TracePacket{}, &MalformedPacketError{
			Header:   header,
			Category: CategoryGlobalTimestamp2,
			Payload:  payload,
			Reason:   "continuation bit still set after maximum payload length",
		}
	}
	return TracePacket{Kind: KindGlobalTimestamp2, GTSUpper: *value}, nil
}

// parseExtension decodes a stimulus-port page-select packet. Page occupies
// header bits [6:4]; if the header's continuation bit (bit 7) is set, one
// further continuation byte extends the page value.
func (d *Decoder) parseExtension(header byte) (TracePacket, error) {
	page := uint32((header >> 4) & 0x7)
	if header&0x80 == 0 {
		return TracePacket{Kind: KindExtension, Page: uint8(page)}, nil
	}

	b, err := d.readPayloadByte()
	if err != nil {
		return TracePacket{}, err
	}
	if b&0x80 != 0 {
		return TracePacket{}, &MalformedPacketError{
			Header:   header,
			Category: CategoryExtension,
			Payload:  []byte{b},
			Reason:   "extension packet exceeded maximum length",
		}
	}
	page |= uint32(b&0x7F) << 3
	return TracePacket{Kind: KindExtension, Page: uint8(page)}, nil
}

// readContinuation reads a plain continuation-coded value: each byte
// contributes 7 bits (bits [6:0]), with bit 7 signaling that another byte
// follows. It returns nil if the continuation bit is still set after
// maxBytes, leaving the caller to raise a category-specific
// MalformedPacketError.
func (d *Decoder) readContinuation(maxBytes int) (*uint64, []byte, error) {
	var value uint64
	var payload []byte

	for i := 0; i < maxBytes; i++ {
		b, err := d.readPayloadByte()
		if err != nil {
			return nil, payload, err
		}
		payload = append(payload, b)
		value |= uint64(b&0x7F) << (7 * uint(i))
		if b&0x80 == 0 {
			return &value, payload, nil
		}
	}
	return nil, payload, nil
}

// parseDataPacket decodes an ITM stimulus-port packet or a DWT
// hardware-source packet. Both families share a header layout: bits [1:0]
// select the payload size (01->1 byte, 10->2 bytes, 11->4 bytes); bit 2
// selects the family (0 = ITM software source, 1 = DWT hardware source);
// bits [7:3] carry the stimulus port number (ITM) or the source
// discriminator ID (DWT).
func (d *Decoder) parseDataPacket(header byte) (TracePacket, error) {
	size, err := dataPacketSize(header)
	if err != nil {
		return TracePacket{}, &MalformedPacketError{
			Header:   header,
			Category: CategoryDataPacket,
			Reason:   err.Error(),
		}
	}

	payload := make([]byte, size)
	for i := range payload {
		b, err := d.readPayloadByte()
		if err != nil {
			return TracePacket{}, err
		}
		payload[i] = b
	}

	id := (header >> 3) & 0x1F
	if header&0x04 == 0 {
		return TracePacket{Kind: KindItmData, Port: id, Payload: payload}, nil
	}
	return d.parseDwtPacket(header, id, payload)
}

func dataPacketSize(header byte) (int, error) {
	switch header & 0x03 {
	case 0x01:
		return 1, nil
	case 0x02:
		return 2, nil
	case 0x03:
		return 4, nil
	default:
		return 0, errUnreachable
	}
}

var errUnreachable = &MalformedPacketError{Reason: "unreachable data packet size"}

// parseDwtPacket dispatches a DWT hardware-source packet by its
// discriminator ID, per this decoder's reconstruction of Appendix D4.2.6-9
// (ID 0 = event counter wrap, ID 1 = exception trace, ID 2 = PC sample,
// IDs 8-31 = per-comparator data trace packets grouped in fours: PC value,
// address, write value, read value).
func (d *Decoder) parseDwtPacket(header byte, id byte, payload []byte) (TracePacket, error) {
	switch {
	case id == 0:
		return parseEventCounterWrap(payload), nil
	case id == 1:
		return parseExceptionTrace(header, payload)
	case id == 2:
		return parsePCSample(payload), nil
	case id >= 8 && id <= 31:
		comparator := (id - 8) / 4
		kind := dataTraceKindOf((id - 8) % 4)
		return TracePacket{
			Kind:          KindDataTrace,
			Comparator:    comparator,
			DataTraceKind: kind,
			Value:         littleEndian(payload),
		}, nil
	default:
		return TracePacket{}, &MalformedPacketError{
			Header:   header,
			Category: CategoryDataPacket,
			Payload:  payload,
			Reason:   "unrecognized DWT source discriminator ID",
		}
	}
}

func dataTraceKindOf(sub byte) DataTraceKind {
	switch sub {
	case 0:
		return DataTracePCValue
	case 1:
		return DataTraceAddress
	case 2:
		return DataTraceWriteValue
	default:
		return DataTraceReadValue
	}
}

func parseEventCounterWrap(payload []byte) TracePacket {
	var b byte
	if len(payload) > 0 {
		b = payload[0]
	}
	return TracePacket{
		Kind:      KindEventCounterWrap,
		CPIWrap:   b&0x01 != 0,
		ExcWrap:   b&0x02 != 0,
		SleepWrap: b&0x04 != 0,
		LSUWrap:   b&0x08 != 0,
		FoldWrap:  b&0x10 != 0,
		CycWrap:   b&0x20 != 0,
	}
}

func parseExceptionTrace(header byte, payload []byte) (TracePacket, error) {
	if len(payload) != 2 {
		return TracePacket{}, &MalformedPacketError{
			Header:   header,
			Category: CategoryDataPacket,
			Payload:  payload,
			Reason:   "exception trace packet requires a 2-byte payload",
		}
	}
	raw := uint16(payload[0]) | uint16(payload[1])<<8
	action := exceptionActionOf((raw >> 10) & 0x3)
	if action == 0 {
		return TracePacket{}, &MalformedPacketError{
			Header:   header,
			Category: CategoryDataPacket,
			Payload:  payload,
			Reason:   "reserved exception action code",
		}
	}
	excNumber := raw & 0x1FF
	va, ok := exception.FromIRQn(excNumber)
	if !ok {
		return TracePacket{}, &MalformedPacketError{
			Header:   header,
			Category: CategoryDataPacket,
			Payload:  payload,
			Reason:   "reserved exception number",
		}
	}
	return TracePacket{
		Kind:            KindExceptionTrace,
		ExceptionNumber: excNumber,
		Exception:       va,
		ExceptionAction: action,
	}, nil
}

func exceptionActionOf(code uint16) ExceptionAction {
	switch code {
	case 1:
		return ExceptionActionEntered
	case 2:
		return ExceptionActionExited
	case 3:
		return ExceptionActionReturned
	default:
		return 0
	}
}

func parsePCSample(payload []byte) TracePacket {
	if len(payload) == 1 {
		return TracePacket{Kind: KindPCSample, PC: nil}
	}
	pc := littleEndian(payload)
	return TracePacket{Kind: KindPCSample, PC: &pc}
}

func littleEndian(b []byte) uint32 {
	var v uint32
	for i, c := range b {
		v |= uint32(c) << (8 * uint(i))
	}
	return v
}
