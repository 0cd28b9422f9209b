// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tco

// HWBufferSize is the size, in frames, of the hardware buffer the audio
// pointer runs over.
const HWBufferSize = 16384

// PeriodSize returns the period size, in frames, of a latency setting
// in [0, 7].
func PeriodSize(lat int) int {
	return 1 << (uint(lat&0x7) + 6)
}

// FrameCounter turns the wrapping hardware buffer pointer into a monotonic
// frame counter, aligned on period boundaries.
//
// The counter is correct as long as the pointer wraps at most once between
// two updates.
type FrameCounter struct {
	BufferSize int // hardware buffer size in frames, HWBufferSize if zero

	last  uint32 // last hardware pointer
	wraps uint64 // number of pointer wraps
	count uint64
}

// Update records a new hardware pointer reading and returns the frame count
// at the start of the current period.
func (fc *FrameCounter) Update(hwptr uint32, period int) uint64 {
	if hwptr < fc.last {
		fc.wraps++
	}
	fc.last = hwptr

	size := fc.BufferSize
	if size <= 0 {
		size = HWBufferSize
	}
	fc.count = fc.wraps*uint64(size) + uint64(hwptr&^uint32(period-1))
	return fc.count
}

// Count returns the last computed frame count.
func (fc *FrameCounter) Count() uint64 { return fc.count }

// Reset restarts counting from zero.
func (fc *FrameCounter) Reset() {
	*fc = FrameCounter{BufferSize: fc.BufferSize}
}
