// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ltc implements 32-bit packed BCD linear time codes and the
// frame-accurate day arithmetic on them, for 24, 25 and 30 fps (and 30 fps
// drop-frame) time codes.
package ltc // import "github.com/go-lpc/hdspe/ltc"

import (
	"fmt"
	"strings"

	"github.com/wunderbarb/timecode"
)

// Mask selects the bits of a Timecode that carry its value.
// The remaining bits are flags and must be ignored.
const Mask = 0x3f7f7f3f

// Timecode is a 32-bit packed BCD linear time code.
//
//	bits 28-29: hours tens     bits 24-27: hours units
//	bits 20-22: minutes tens   bits 16-19: minutes units
//	bits 12-14: seconds tens   bits  8-11: seconds units
//	bits  4- 5: frames tens    bits  0- 3: frames units
//
// Timecodes are built with Compose or with the Rate arithmetic methods.
type Timecode uint32

// Compose packs hours, minutes, seconds and frames into a Timecode.
// Flag bits are zero.
func Compose(h, m, s, f int) Timecode {
	var (
		H = h / 10
		M = m / 10
		S = s / 10
		F = f / 10
	)
	h -= H * 10
	m -= M * 10
	s -= S * 10
	f -= F * 10
	return Timecode(uint32(H&0x03)<<28 | uint32(h&0x0f)<<24 |
		uint32(M&0x07)<<20 | uint32(m&0x0f)<<16 |
		uint32(S&0x07)<<12 | uint32(s&0x0f)<<8 |
		uint32(F&0x03)<<4 | uint32(f&0x0f))
}

// Fields extracts hours, minutes, seconds and frames from tc.
// No range validation is performed.
func (tc Timecode) Fields() (h, m, s, f int) {
	v := uint32(tc)
	h = int((v>>28)&0x03)*10 + int((v>>24)&0x0f)
	m = int((v>>20)&0x07)*10 + int((v>>16)&0x0f)
	s = int((v>>12)&0x07)*10 + int((v>>8)&0x0f)
	f = int((v>>4)&0x03)*10 + int(v&0x0f)
	return h, m, s, f
}

// Masked returns tc with all flag bits cleared.
func (tc Timecode) Masked() Timecode { return tc & Mask }

// Equal reports whether tc and o hold the same time code value,
// regardless of flag bits.
func (tc Timecode) Equal(o Timecode) bool { return Cmp(tc, o) == 0 }

// Cmp compares the values of two time codes, ignoring flag bits.
// It returns a negative number when a < b, zero when a == b and a
// positive number when a > b.
func Cmp(a, b Timecode) int {
	return int(int64(a&Mask) - int64(b&Mask))
}

func (tc Timecode) String() string {
	return tc.format(':')
}

func (tc Timecode) format(sep byte) string {
	h, m, s, f := tc.Fields()
	return fmt.Sprintf("%02d:%02d:%02d%c%02d", h, m, s, sep, f)
}

// Uint64 expands tc into the 64-bit LTC word layout, where each time
// code digit is followed by a 4-bit user-bits group. User bits are zero.
func (tc Timecode) Uint64() uint64 {
	var (
		v = uint64(tc & Mask)
		o uint64
	)
	for i := uint(0); i < 8; i++ {
		o |= ((v >> (4 * i)) & 0xf) << (8 * i)
	}
	return o
}

// FromUint64 packs a 64-bit LTC word into a Timecode, discarding the
// user bits.
func FromUint64(v uint64) Timecode {
	var o uint32
	for i := uint(0); i < 8; i++ {
		o |= uint32((v>>(8*i))&0xf) << (4 * i)
	}
	return Timecode(o) & Mask
}

// ParseString parses a "hh:mm:ss:ff" time code.
// A ';' or '.' before the frames denotes a drop-frame time code and
// is accepted as a separator.
func ParseString(s string) (Timecode, error) {
	s = strings.Replace(strings.TrimSpace(s), ".", ";", 1)

	// at 30 fps non-drop, frame counts map one to one onto the fields.
	const fps = 30
	ref, err := timecode.NewFromString(fps, s)
	if err != nil {
		return 0, fmt.Errorf("ltc: invalid time code %q: %w", s, err)
	}

	n := ref.Frame()
	h := n / (fps * 3600)
	if h >= 24 {
		return 0, fmt.Errorf("ltc: invalid time code %q: hours out of range", s)
	}
	return Compose(h, n/(fps*60)%60, n/fps%60, n%fps), nil
}
