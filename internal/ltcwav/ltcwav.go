// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ltcwav renders LTC frames as biphase-mark audio, and reads them
// back.
package ltcwav // import "github.com/go-lpc/hdspe/internal/ltcwav"

import (
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/go-lpc/hdspe/ltc"
)

const (
	// FrameBits is the number of bit cells of an LTC frame.
	FrameBits = 80

	// SyncWord is the sync word closing each LTC frame, in transmission
	// order.
	SyncWord uint16 = 0x3ffd

	dropBit = 10
)

// Signal describes an LTC audio signal.
type Signal struct {
	Rate       ltc.Rate
	Scale      int // 1000, or 999 for 29.97 fps
	SampleRate int
	Amplitude  int // peak value, in 16-bit samples
}

func (sig Signal) scale() int {
	if sig.Scale <= 0 {
		return 1000
	}
	return sig.Scale
}

func (sig Signal) amplitude() int {
	if sig.Amplitude <= 0 {
		return 0x2000
	}
	return sig.Amplitude
}

// cell returns the sample index at which half bit cell i starts.
func (sig Signal) cell(i int) int {
	num := int64(i) * int64(sig.SampleRate) * 1000
	den := int64(2*FrameBits) * int64(sig.Rate.FPS()) * int64(sig.scale())
	return int(num / den)
}

// FrameSamples returns the number of samples spanned by n frames.
func (sig Signal) FrameSamples(n int) int {
	return sig.cell(2 * FrameBits * n)
}

// Bits returns the bits of the LTC frame for tc, in transmission order.
// User bits are zero.
func (sig Signal) Bits(tc ltc.Timecode) [FrameBits]byte {
	var (
		bits [FrameBits]byte
		v    = uint32(tc.Masked())
		put  = func(pos, n int, x uint32) {
			for i := 0; i < n; i++ {
				bits[pos+i] = byte(x>>uint(i)) & 1
			}
		}
	)
	put(0, 4, v&0xf)        // frame units
	put(8, 2, (v>>4)&0x3)   // frame tens
	put(16, 4, (v>>8)&0xf)  // seconds units
	put(24, 3, (v>>12)&0x7) // seconds tens
	put(32, 4, (v>>16)&0xf) // minutes units
	put(40, 3, (v>>20)&0x7) // minutes tens
	put(48, 4, (v>>24)&0xf) // hours units
	put(56, 2, (v>>28)&0x3) // hours tens
	if sig.Rate.Drop() {
		bits[dropBit] = 1
	}
	for i := 0; i < 16; i++ {
		bits[64+i] = byte(SyncWord>>uint(15-i)) & 1
	}

	// polarity correction: an even number of zeros per frame.
	pol := 27
	if sig.Rate.FPS() == 25 {
		pol = 59
	}
	ones := 0
	for _, b := range bits {
		ones += int(b)
	}
	if ones%2 != 0 {
		bits[pol] = 1
	}
	return bits
}

// Render renders n consecutive frames starting at tc, preceded by offset
// samples of silence.
func (sig Signal) Render(tc ltc.Timecode, n, offset int) []int {
	if offset < 0 {
		offset = 0
	}
	var (
		amp   = sig.amplitude()
		level = -amp
		out   = make([]int, offset+sig.FrameSamples(n))
		half  = 0
	)
	for k := 0; k < n; k++ {
		bits := sig.Bits(tc)
		for _, b := range bits {
			// a transition at every cell boundary, and one more in the
			// middle of the cell for a one.
			level = -level
			beg, mid, end := sig.cell(half), sig.cell(half+1), sig.cell(half+2)
			fill(out[offset+beg:offset+mid], level)
			if b == 1 {
				level = -level
			}
			fill(out[offset+mid:offset+end], level)
			half += 2
		}
		tc = sig.Rate.Incr(tc)
	}
	return out
}

func fill(vs []int, v int) {
	for i := range vs {
		vs[i] = v
	}
}

// WriteWAV writes n frames starting at tc, preceded by offset samples of
// silence, as a mono 16-bit WAV file.
func (sig Signal) WriteWAV(w io.WriteSeeker, tc ltc.Timecode, n, offset int) error {
	enc := wav.NewEncoder(w, sig.SampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  sig.SampleRate,
		},
		Data:           sig.Render(tc, n, offset),
		SourceBitDepth: 16,
	}
	err := enc.Write(buf)
	if err != nil {
		return fmt.Errorf("ltcwav: could not write samples: %w", err)
	}
	err = enc.Close()
	if err != nil {
		return fmt.Errorf("ltcwav: could not close WAV encoder: %w", err)
	}
	return nil
}

// ReadWAV reads back the samples of a mono WAV file.
func ReadWAV(r io.ReadSeeker) ([]int, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("ltcwav: invalid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("ltcwav: could not read samples: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels != 1 {
		return nil, 0, fmt.Errorf("ltcwav: not a mono WAV file")
	}
	return buf.Data, buf.Format.SampleRate, nil
}

// Frame is an LTC frame decoded from audio samples.
type Frame struct {
	Timecode ltc.Timecode
	Drop     bool
	Sample   int // index of the first sample of the frame
}

// Decode decodes the LTC frames found in samples.
func (sig Signal) Decode(samples []int) []Frame {
	// transitions, the first non-silent sample opening the first cell.
	var (
		edges []int
		prev  = 0
	)
	for i, v := range samples {
		switch {
		case v == 0:
			continue
		case prev == 0, (v > 0) != (prev > 0):
			edges = append(edges, i)
		}
		prev = v
	}
	if prev != 0 {
		edges = append(edges, len(samples))
	}

	var (
		cell  = float64(sig.SampleRate) * 1000 / float64(FrameBits*sig.Rate.FPS()*sig.scale())
		bits  []byte
		start []int
		half  = false
	)
	for i := 1; i < len(edges); i++ {
		d := float64(edges[i] - edges[i-1])
		switch {
		case d >= 0.75*cell:
			bits = append(bits, 0)
			start = append(start, edges[i-1])
			half = false
		case half:
			bits = append(bits, 1)
			start = append(start, edges[i-2])
			half = false
		default:
			half = true
		}
	}

	var frames []Frame
	for i := FrameBits; i <= len(bits); i++ {
		if !isSync(bits[i-16 : i]) {
			continue
		}
		var (
			fb = bits[i-FrameBits : i]
			v  uint32
			at = func(pos, n int) uint32 {
				var x uint32
				for j := 0; j < n; j++ {
					x |= uint32(fb[pos+j]) << uint(j)
				}
				return x
			}
		)
		v |= at(0, 4)
		v |= at(8, 2) << 4
		v |= at(16, 4) << 8
		v |= at(24, 3) << 12
		v |= at(32, 4) << 16
		v |= at(40, 3) << 20
		v |= at(48, 4) << 24
		v |= at(56, 2) << 28
		frames = append(frames, Frame{
			Timecode: ltc.Timecode(v),
			Drop:     fb[dropBit] == 1,
			Sample:   start[i-FrameBits],
		})
	}
	return frames
}

func isSync(bits []byte) bool {
	for i, b := range bits {
		if b != byte(SyncWord>>uint(15-i))&1 {
			return false
		}
	}
	return true
}
