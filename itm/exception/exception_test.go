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

package exception

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromVectActive_RoundTrip(t *testing.T) {
	all := []Exception{
		NonMaskableInt, HardFault, MemoryManagement, BusFault, UsageFault,
		SecureFault, SVCall, DebugMonitor, PendSV, SysTick,
	}
	for _, e := range all {
		va, ok := ToVectActive(e)
		require.True(t, ok, "%s has no VectActive encoding", e)

		got, ok := FromVectActive(va)
		require.True(t, ok, "VectActive %d did not round-trip", va)
		assert.Equal(t, e, got)
	}
}

func TestFromVectActive_NoExceptionAndReserved(t *testing.T) {
	for _, va := range []VectActive{0, 1, 8, 9, 10, 13} {
		_, ok := FromVectActive(va)
		assert.False(t, ok, "VectActive %d unexpectedly resolved", va)
	}
}

func TestIsExternalInterrupt(t *testing.T) {
	assert.False(t, IsExternalInterrupt(15))
	assert.True(t, IsExternalInterrupt(16))
	assert.EqualValues(t, 0, IRQn(16))
	assert.EqualValues(t, 5, IRQn(21))
}

func TestException_IRQn(t *testing.T) {
	assert.EqualValues(t, -13, HardFault.IRQn())
	assert.EqualValues(t, -1, SysTick.IRQn())
}

func TestFromIRQn_ThreadModeNamedAndExternal(t *testing.T) {
	va, ok := FromIRQn(0)
	require.True(t, ok)
	assert.EqualValues(t, 0, va)

	va, ok = FromIRQn(15)
	require.True(t, ok)
	assert.Equal(t, SysTick, vectActiveToException[va])

	va, ok = FromIRQn(21)
	require.True(t, ok)
	assert.True(t, IsExternalInterrupt(va))
	assert.EqualValues(t, 5, IRQn(va))
}

func TestFromIRQn_ReservedIsRejected(t *testing.T) {
	for _, n := range []uint16{1, 8, 9, 10, 13} {
		_, ok := FromIRQn(n)
		assert.False(t, ok, "irqn %d unexpectedly resolved", n)
	}
}

func TestFromIRQn_RoundTripsWithIRQnPlusSixteen(t *testing.T) {
	// Round-trip law: FromIRQn(e.IRQn()+16) recovers e for every named
	// exception, since the fixed exceptions occupy VectActive 2-15.
	all := []Exception{
		NonMaskableInt, HardFault, MemoryManagement, BusFault, UsageFault,
		SecureFault, SVCall, DebugMonitor, PendSV, SysTick,
	}
	for _, e := range all {
		va, ok := FromIRQn(uint16(int16(e.IRQn()) + 16))
		require.True(t, ok)
		got, ok := FromVectActive(va)
		require.True(t, ok)
		assert.Equal(t, e, got)
	}
}
