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

import "fmt"

// MalformedCategory classifies the header family a MalformedPacketError
// was raised against, so callers can assess link quality statistically
// without parsing the Reason string.
type MalformedCategory uint8

// Malformed packet categories.
const (
	CategoryUnknown MalformedCategory = iota
	CategorySync
	CategoryLocalTimestamp1
	CategoryGlobalTimestamp1
	CategoryGlobalTimestamp2
	CategoryExtension
	CategoryDataPacket
)

func (c MalformedCategory) String() string {
	switch c {
	case CategorySync:
		return "Sync"
	case CategoryLocalTimestamp1:
		return "LocalTimestamp1"
	case CategoryGlobalTimestamp1:
		return "GlobalTimestamp1"
	case CategoryGlobalTimestamp2:
		return "GlobalTimestamp2"
	case CategoryExtension:
		return "Extension"
	case CategoryDataPacket:
		return "DataPacket"
	default:
		return "Unknown"
	}
}

// MalformedPacketError reports a recognized header whose payload violated
// the protocol: a bad continuation sequence, a reserved bit set, or a
// length beyond what the packet family allows. It is data first, error
// second -- it satisfies the error interface only so it composes with
// errors.As/errors.Is in the Next() call chain; callers operating in
// tolerant mode should inspect its fields, not just its Error() string.
type MalformedPacketError struct {
	Header   byte
	Category MalformedCategory
	Payload  []byte
	Reason   string
}

func (e *MalformedPacketError) Error() string {
	return fmt.Sprintf("itm: malformed %s packet (header=0x%02x): %s", e.Category, e.Header, e.Reason)
}

// IOError wraps a read fault (or a mid-packet end-of-stream) from the
// underlying byte source. It is distinct from io.EOF, which is only ever
// returned for a clean stream termination on a packet boundary.
type IOError struct {
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("itm: i/o error: %s", e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
