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

// Package exception maps ARMv7-M/ARMv8-M exception numbers (as reported in
// an ITM ExceptionTrace packet's ExceptionNumber field) onto the named
// system exceptions defined by the architecture, plus external interrupt
// numbering (IRQn) for anything outside that fixed set.
package exception

import "fmt"

// VectActive is the raw value ARM's ICSR.VECTACTIVE field (and this
// package, by convention, an ExceptionTrace packet's ExceptionNumber)
// uses to identify the currently active exception. 0 means "no exception",
// 1-15 are the fixed system exceptions, 16+ are external interrupts
// (IRQn = VectActive - 16).
type VectActive uint16

// Exception identifies one of the architecturally fixed system exceptions.
type Exception int8

// System exceptions and their IRQn numbering, per ARMv7-M Architecture
// Reference Manual B1.5.2, Table B1-4. Negative IRQn values are the
// convention CMSIS uses for system exceptions, to keep them in the same
// numbering space as external interrupts (which start at 0).
const (
	NonMaskableInt    Exception = -14
	HardFault         Exception = -13
	MemoryManagement  Exception = -12
	BusFault          Exception = -11
	UsageFault        Exception = -10
	SecureFault       Exception = -9
	SVCall            Exception = -5
	DebugMonitor      Exception = -4
	PendSV            Exception = -2
	SysTick           Exception = -1
)

func (e Exception) String() string {
	switch e {
	case NonMaskableInt:
		return "NonMaskableInt"
	case HardFault:
		return "HardFault"
	case MemoryManagement:
		return "MemoryManagement"
	case BusFault:
		return "BusFault"
	case UsageFault:
		return "UsageFault"
	case SecureFault:
		return "SecureFault"
	case SVCall:
		return "SVCall"
	case DebugMonitor:
		return "DebugMonitor"
	case PendSV:
		return "PendSV"
	case SysTick:
		return "SysTick"
	default:
		return fmt.Sprintf("Exception(%d)", int8(e))
	}
}

// IRQn returns the CMSIS-style interrupt number for e: negative for every
// fixed system exception.
func (e Exception) IRQn() int8 {
	return int8(e)
}

// vectActiveToException maps the VectActive encoding (exception number,
// 1-based: VectActive-16 is the external IRQn) onto its Exception, for the
// fixed subset that names a system exception.
var vectActiveToException = map[VectActive]Exception{
	2:  NonMaskableInt,
	3:  HardFault,
	4:  MemoryManagement,
	5:  BusFault,
	6:  UsageFault,
	7:  SecureFault,
	11: SVCall,
	12: DebugMonitor,
	14: PendSV,
	15: SysTick,
}

var exceptionToVectActive = func() map[Exception]VectActive {
	m := make(map[Exception]VectActive, len(vectActiveToException))
	for va, e := range vectActiveToException {
		m[e] = va
	}
	return m
}()

// FromVectActive looks up the named Exception for a raw VectActive value.
// It reports false for 0 (no exception active), for the reserved range,
// and for any value >= 16 (an external interrupt, not a system exception).
func FromVectActive(va VectActive) (Exception, bool) {
	e, ok := vectActiveToException[va]
	return e, ok
}

// ToVectActive returns the raw VectActive encoding for a named system
// exception. Every Exception constant round-trips through ToVectActive and
// FromVectActive.
func ToVectActive(e Exception) (VectActive, bool) {
	va, ok := exceptionToVectActive[e]
	return va, ok
}

// IsExternalInterrupt reports whether va encodes an external interrupt
// (IRQn >= 0) rather than one of the fixed system exceptions.
func IsExternalInterrupt(va VectActive) bool {
	return va >= 16
}

// IRQn returns the external interrupt number encoded by va. Only
// meaningful when IsExternalInterrupt(va) is true.
func IRQn(va VectActive) int32 {
	return int32(va) - 16
}

// FromIRQn validates a raw 9-bit exception number as decoded off an
// ExceptionTrace packet and returns the VectActive it encodes: ThreadMode
// (0), one of the ten fixed system exceptions, or an external interrupt
// (16-511, IRQn = va-16). It reports false for the reserved values that
// name no exception (1, 8, 9, 10, 13).
func FromIRQn(irqn uint16) (VectActive, bool) {
	va := VectActive(irqn)
	if va == 0 || IsExternalInterrupt(va) {
		return va, true
	}
	if _, ok := vectActiveToException[va]; ok {
		return va, true
	}
	return 0, false
}
