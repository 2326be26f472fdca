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
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_EmptyStreamIsCleanEOF(t *testing.T) {
	d := NewDecoder(bytes.NewReader(nil), DecoderOptions{})
	_, err := d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_TruncatedMidPacketIsIOError(t *testing.T) {
	// LocalTimestamp2 header with no following byte needed -- instead
	// truncate a LocalTimestamp1 (0xC0) which always needs a payload byte.
	d := NewDecoder(bytes.NewReader([]byte{0xC0}), DecoderOptions{})
	_, err := d.Next()
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.ErrorIs(t, ioErr, io.ErrUnexpectedEOF)
}

func TestDecoder_Overflow(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{0x70}), DecoderOptions{})
	pkt, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, KindOverflow, pkt.Kind)
}

func TestDecoder_Sync(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x80}), DecoderOptions{})
	pkt, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, KindSync, pkt.Kind)
}

func TestDecoder_SyncRejectsShortRun(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{0x00, 0x00, 0x80}), DecoderOptions{})
	_, err := d.Next()
	require.Error(t, err)
	var malformed *MalformedPacketError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, CategorySync, malformed.Category)
}

// TestDecoder_LocalTimestamp2_BitExact pins down header 0x60, which this
// decoder's bit-accurate reading resolves to ts=6 (375ns at 16MHz), matching
// the upstream gts_compression reference fixture byte-for-byte.
func TestDecoder_LocalTimestamp2_BitExact(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{0x60}), DecoderOptions{})
	pkt, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, KindLocalTimestamp2, pkt.Kind)
	assert.EqualValues(t, 6, pkt.Ts)
	assert.Equal(t, RelationSync, pkt.DataRelation)
}

// TestDecoder_LocalTimestamp1_AssocEventDelay pins down header 0xD0 (TC=1),
// which decodes as RelationAssocEventDelay.
func TestDecoder_LocalTimestamp1_AssocEventDelay(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{0xD0, 0x05}), DecoderOptions{})
	pkt, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, KindLocalTimestamp1, pkt.Kind)
	assert.Equal(t, RelationAssocEventDelay, pkt.DataRelation)
	assert.EqualValues(t, 5, pkt.Ts)
}

func TestDecoder_LocalTimestamp1_TCMapping(t *testing.T) {
	cases := []struct {
		header byte
		want   TimestampDataRelation
	}{
		{0xC0, RelationSync},
		{0xD0, RelationAssocEventDelay},
		{0xE0, RelationUnknownDelay},
		{0xF0, RelationUnknownAssocEventDelay},
	}
	for _, tc := range cases {
		d := NewDecoder(bytes.NewReader([]byte{tc.header, 0x01}), DecoderOptions{})
		pkt, err := d.Next()
		require.NoError(t, err)
		assert.Equal(t, tc.want, pkt.DataRelation)
	}
}

func TestDecoder_LocalTimestamp1_MultiByteContinuation(t *testing.T) {
	// 0x85, 0x02 -> (0x05) | (0x02 << 7) = 0x105
	d := NewDecoder(bytes.NewReader([]byte{0xC0, 0x85, 0x02}), DecoderOptions{})
	pkt, err := d.Next()
	require.NoError(t, err)
	assert.EqualValues(t, 0x105, pkt.Ts)
}

func TestDecoder_GlobalTimestamp2(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{0xB4, 0x85, 0x02}), DecoderOptions{})
	pkt, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, KindGlobalTimestamp2, pkt.Kind)
	assert.EqualValues(t, 0x105, pkt.GTSUpper)
}

func TestDecoder_GlobalTimestamp1_WrapAndClockChange(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{0x94, 0x60}), DecoderOptions{})
	pkt, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, KindGlobalTimestamp1, pkt.Kind)
	assert.True(t, pkt.Wrap)
	assert.True(t, pkt.ClockChange)
	assert.EqualValues(t, 0, pkt.GTSLower)
}

func TestDecoder_Extension(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{0x28}), DecoderOptions{})
	pkt, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, KindExtension, pkt.Kind)
	assert.EqualValues(t, 2, pkt.Page)
}

func TestDecoder_ItmData(t *testing.T) {
	// port 5, 1-byte payload
	d := NewDecoder(bytes.NewReader([]byte{0x29, 0x7A}), DecoderOptions{})
	pkt, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, KindItmData, pkt.Kind)
	assert.EqualValues(t, 5, pkt.Port)
	assert.Equal(t, []byte{0x7A}, pkt.Payload)
}

func TestDecoder_PCSample_Sleeping(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{0x15, 0x00}), DecoderOptions{})
	pkt, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, KindPCSample, pkt.Kind)
	assert.Nil(t, pkt.PC)
}

func TestDecoder_PCSample_Value(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{0x17, 0x00, 0x00, 0x00, 0x08}), DecoderOptions{})
	pkt, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, KindPCSample, pkt.Kind)
	require.NotNil(t, pkt.PC)
	assert.EqualValues(t, 0x08000000, *pkt.PC)
}

func TestDecoder_ExceptionTrace(t *testing.T) {
	// id=1, size=2 -> header 0b0000_1110 = 0x0E
	// header bits: [7:3]=id, [2]=SH(1), [1:0]=size(10=2 bytes)
	header := byte(1<<3 | 1<<2 | 0x02)
	// exception number 15, action entered(1): raw = 15 | (1<<10)
	raw := uint16(15) | uint16(1)<<10
	d := NewDecoder(bytes.NewReader([]byte{header, byte(raw), byte(raw >> 8)}), DecoderOptions{})
	pkt, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, KindExceptionTrace, pkt.Kind)
	assert.EqualValues(t, 15, pkt.ExceptionNumber)
	assert.EqualValues(t, 15, pkt.Exception)
	assert.Equal(t, ExceptionActionEntered, pkt.ExceptionAction)
}

func TestDecoder_ExceptionTrace_ReservedNumberIsMalformed(t *testing.T) {
	header := byte(1<<3 | 1<<2 | 0x02)
	raw := uint16(8) | uint16(1)<<10 // 8 is a reserved VectActive value
	d := NewDecoder(bytes.NewReader([]byte{header, byte(raw), byte(raw >> 8)}), DecoderOptions{})
	_, err := d.Next()
	var malformed *MalformedPacketError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, CategoryDataPacket, malformed.Category)
}

func TestDecoder_DataTrace(t *testing.T) {
	// comparator 0, subtype WriteValue(2) -> id = 8 + 0*4 + 2 = 10
	id := byte(10)
	header := id<<3 | 1<<2 | 0x03
	d := NewDecoder(bytes.NewReader([]byte{header, 0xEF, 0xBE, 0xAD, 0xDE}), DecoderOptions{})
	pkt, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, KindDataTrace, pkt.Kind)
	assert.EqualValues(t, 0, pkt.Comparator)
	assert.Equal(t, DataTraceWriteValue, pkt.DataTraceKind)
	assert.EqualValues(t, 0xDEADBEEF, pkt.Value)
}

func TestDecoder_MalformedThenResumes(t *testing.T) {
	// A bad exception trace (reserved action code 0) followed by a clean
	// Overflow packet: the decoder must report the malformed packet without
	// disturbing the stream position for the next Next() call.
	header := byte(1<<3 | 1<<2 | 0x02)
	raw := uint16(3) // action bits = 00, reserved
	d := NewDecoder(bytes.NewReader([]byte{header, byte(raw), byte(raw >> 8), 0x70}), DecoderOptions{})

	_, err := d.Next()
	require.Error(t, err)
	var malformed *MalformedPacketError
	require.ErrorAs(t, err, &malformed)

	pkt, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, KindOverflow, pkt.Kind)
}

func TestDecoder_IgnoreEOFRetriesAtBoundary(t *testing.T) {
	r := &stutteringReader{chunks: [][]byte{nil, nil, {0x70}}}
	d := NewDecoder(r, DecoderOptions{IgnoreEOF: true})
	pkt, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, KindOverflow, pkt.Kind)
}

// stutteringReader returns io.EOF between chunks without permanently
// exhausting the stream, modeling a live device that is momentarily idle.
type stutteringReader struct {
	chunks [][]byte
	i      int
}

func (r *stutteringReader) Read(p []byte) (int, error) {
	if r.i >= len(r.chunks) {
		return 0, io.EOF
	}
	c := r.chunks[r.i]
	r.i++
	if len(c) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c)
	return n, nil
}
