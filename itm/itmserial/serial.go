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

// Package itmserial opens a serial-port SWO byte source for itm.Decoder,
// the way a debug probe exposes a target's trace output as a UART-framed
// device node.
package itmserial

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Open opens device (e.g. "/dev/ttyACM0") as an SWO trace source at the
// given baud rate, 8 data bits, no parity, one stop bit -- the framing
// every SWO-over-UART debug probe this package has been tested against
// uses. The returned io.ReadCloser feeds itm.NewDecoder directly.
func Open(device string, baud uint32) (io.ReadCloser, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: int(baud),
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("itmserial: opening %s: %w", device, err)
	}
	return port, nil
}
