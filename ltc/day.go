// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ltc

// FramesPerDay returns the number of frames in a full day.
func (r Rate) FramesPerDay() int {
	r.check()
	if r.drop {
		return framesPerDayDF
	}
	return 24 * 60 * 60 * int(r.fps)
}

func (r Rate) check() {
	if r.fps == 0 {
		panic(ErrInvalidRate)
	}
}

// Frames converts tc to the number of frames since midnight.
func (r Rate) Frames(tc Timecode) int {
	r.check()
	v := uint32(tc)
	if r.drop {
		return int((v>>28)&0x3)*framesPer10HoursDF +
			int((v>>24)&0xf)*framesPerHourDF +
			int((v>>20)&0x7)*framesPer10MinDF +
			int((v>>16)&0xf)*framesPerMinDF +
			int((v>>12)&0x7)*300 +
			int((v>>8)&0xf)*30 +
			int((v>>4)&0x3)*10 +
			int(v&0xf)
	}
	return (int((v>>28)&0x3)*36000+
		int((v>>24)&0xf)*3600+
		int((v>>20)&0x7)*600+
		int((v>>16)&0xf)*60+
		int((v>>12)&0x7)*10+
		int((v>>8)&0xf))*int(r.fps) +
		int((v>>4)&0x3)*10 +
		int(v&0xf)
}

// Timecode converts a number of frames since midnight to a time code.
// frames is first brought into the [0, FramesPerDay) range.
func (r Rate) Timecode(frames int) Timecode {
	var (
		fpd = r.FramesPerDay()
		f   = frames % fpd

		H, h, M, m, S, s, F int
	)
	if f < 0 {
		f += fpd
	}

	switch {
	case !r.drop:
		fps := int(r.fps)
		s = f / fps
		f -= s * fps
		F = f / 10
		f -= F * 10
		m = s / 60
		s -= m * 60
		S = s / 10
		s -= S * 10
		h = m / 60
		m -= h * 60
		M = m / 10
		m -= M * 10
		H = h / 10
		h -= H * 10

	default:
		H = f / framesPer10HoursDF
		f -= H * framesPer10HoursDF
		h = f / framesPerHourDF
		f -= h * framesPerHourDF
		M = f / framesPer10MinDF
		f -= M * framesPer10MinDF
		if f >= 1800 {
			// minutes 1-9 of a 10 minute block start at frame 2.
			f -= 1800
			m = f / framesPerMinDF
			f -= m*framesPerMinDF - 2
			m++
		}
		S = f / 300
		f -= S * 300
		s = f / 30
		f -= s * 30
		F = f / 10
		f -= F * 10
	}

	return Timecode(uint32(H&3)<<28 | uint32(h)<<24 | uint32(M)<<20 | uint32(m)<<16 |
		uint32(S)<<12 | uint32(s)<<8 | uint32(F)<<4 | uint32(f))
}

// Incr returns tc advanced by one frame. 23:59:59:(fps-1) wraps to
// 00:00:00:00. Drop-frame time codes skip frames 0 and 1 at the start of
// every minute that is not a multiple of ten.
func (r Rate) Incr(tc Timecode) Timecode {
	r.check()
	var (
		v   = uint32(tc)
		o   uint32
		f   = (v >> 0) & 0xf
		F   = (v >> 4) & 0x3
		fps = uint32(r.fps)
	)

	f++
	if f >= 10 {
		F++
		f = 0
	}
	if 10*F+f < fps {
		o = v & 0x3f7f7f00
		return Timecode(o | F<<4 | f)
	}

	F, f = 0, 0
	s := (v>>8)&0xf + 1
	if s < 10 {
		o = v&0x3f7f7000 | s<<8
		return Timecode(o | F<<4 | f)
	}

	s = 0
	S := (v>>12)&0x7 + 1
	if S < 6 {
		o = v&0x3f7f0000 | S<<12 | s<<8
		return Timecode(o | F<<4 | f)
	}

	S = 0
	m := (v>>16)&0xf + 1
	if m < 10 {
		if r.drop {
			f = 2
		}
		o = v&0x3f700000 | m<<16 | S<<12 | s<<8
		return Timecode(o | F<<4 | f)
	}

	m = 0
	M := (v>>20)&0x7 + 1
	if M < 6 {
		o = v&0x3f000000 | M<<20 | m<<16 | S<<12 | s<<8
		return Timecode(o | F<<4 | f)
	}

	M = 0
	var (
		h = (v>>24)&0xf + 1
		H = (v >> 28) & 0x3
	)
	if h >= 10 {
		H++
		h = 0
	}
	if 10*H+h >= 24 {
		H, h = 0, 0
	}
	o = H<<28 | h<<24 | M<<20 | m<<16 | S<<12 | s<<8
	return Timecode(o | F<<4 | f)
}

// Decr returns tc moved back by one frame. 00:00:00:00 wraps to
// 23:59:59:(fps-1).
func (r Rate) Decr(tc Timecode) Timecode {
	r.check()
	var (
		v   = uint32(tc)
		fps = int(r.fps)
		f   = int(v&0xf) - 1
	)

	// second 0 of a minute not a multiple of ten: frames 0 and 1 do not
	// exist in drop-frame counting.
	if r.drop && f < 2 && v&0x00007ff0 == 0 && v&0x000f0000 != 0 {
		f -= 2
	}
	if f >= 0 {
		return Timecode(v&0x3f7f7f30 | uint32(f))
	}

	f = 9
	F := int((v>>4)&0x3) - 1
	if F >= 0 {
		return Timecode(v&0x3f7f7f00 | uint32(F)<<4 | uint32(f))
	}

	F = (fps - 1) / 10
	f = fps - 1 - F*10
	tail := uint32(F)<<4 | uint32(f)

	s := int((v>>8)&0xf) - 1
	if s >= 0 {
		return Timecode(v&0x3f7f7000 | uint32(s)<<8 | tail)
	}

	s = 9
	tail |= uint32(s) << 8
	S := int((v>>12)&0x7) - 1
	if S >= 0 {
		return Timecode(v&0x3f7f0000 | uint32(S)<<12 | tail)
	}

	S = 5
	tail |= uint32(S) << 12
	m := int((v>>16)&0xf) - 1
	if m >= 0 {
		return Timecode(v&0x3f700000 | uint32(m)<<16 | tail)
	}

	m = 9
	tail |= uint32(m) << 16
	M := int((v>>20)&0x7) - 1
	if M >= 0 {
		return Timecode(v&0x3f000000 | uint32(M)<<20 | tail)
	}

	M = 5
	tail |= uint32(M) << 20
	h := int((v>>24)&0xf) - 1
	if h >= 0 {
		return Timecode(v&0x30000000 | uint32(h)<<24 | tail)
	}

	h = 9
	H := int((v>>28)&0x3) - 1
	if H < 0 {
		H, h = 2, 3
	}
	return Timecode(uint32(H)<<28 | uint32(h)<<24 | tail)
}

// Add returns tc moved by n frames, forward if n is positive and backward
// if n is negative. The result wraps around midnight.
func (r Rate) Add(tc Timecode, n int) Timecode {
	return r.Timecode(r.Frames(tc) + n)
}

// Diff returns a - b in frames, in the [0, FramesPerDay) range.
func (r Rate) Diff(a, b Timecode) int {
	var (
		fpd  = r.FramesPerDay()
		diff = (r.Frames(a) - r.Frames(b)) % fpd
	)
	if diff < 0 {
		diff += fpd
	}
	return diff
}

// Running returns the running direction from a to b: +1 if b is one
// frame ahead of a, -1 if b is one frame behind a and 0 otherwise
// (stationary or jumping).
func (r Rate) Running(a, b Timecode) int {
	switch {
	case (a+1)&Mask == b&Mask, Cmp(r.Incr(a), b) == 0:
		return +1
	case Cmp(r.Incr(b), a) == 0:
		return -1
	}
	return 0
}
