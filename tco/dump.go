// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tco

import (
	"fmt"
	"io"

	"github.com/go-lpc/hdspe/ltc"
)

// DumpRegisters writes the content of the control and status registers of
// a TCO register window to w, without modifying them.
func DumpRegisters(w io.Writer, r io.ReaderAt) error {
	var (
		dev  = new(Device)
		ctrl [4]uint32
		stat [4]uint32
	)
	for i := range ctrl {
		ctrl[i] = newReg32(dev, readOnly{r}, RegControl+4*int64(i)).r()
		stat[i] = newReg32(dev, readOnly{r}, RegStatus+4*int64(i)).r()
	}
	if dev.err != nil {
		return dev.err
	}

	for i, v := range ctrl {
		fmt.Fprintf(w, "ctrl[%d]= 0x%08x\n", i, v)
	}
	for i, v := range stat {
		fmt.Fprintf(w, "stat[%d]= 0x%08x\n", i, v)
	}

	snap := decodeStatus(stat[0], stat[1])
	f := snap.Format()
	in := snap.Timecode.String()
	if rate, err := f.Context(); err == nil {
		in = rate.Format(snap.Timecode)
	}
	fmt.Fprintf(w, "input:  %s (%v) offset=%d valid=%v lock=%v\n",
		in, f, snap.Offset, snap.Valid, snap.Lock,
	)

	l, set := DecodeControl(ctrl[0], ctrl[1])
	out := ltc.Format{
		Rate: ltc.FrameRate((ctrl[1] & (tco1FmtLSB | tco1FmtMSB)) >> tco1FmtShift),
		Drop: ctrl[1]&tco1Drop != 0,
	}
	rate := 44100
	if ctrl[2]&tco2SetFreq != 0 {
		rate = 48000
	}
	fmt.Fprintf(w, "output: %v run=%v set=%v rate=%d\n",
		out, ctrl[2]&tco2Run != 0, set, rate,
	)
	fmt.Fprintf(w, "latch:  %v offset=%d\n", l.Timecode, l.Offset)
	return nil
}

type readOnly struct {
	io.ReaderAt
}

func (readOnly) WriteAt(p []byte, off int64) (int, error) {
	return 0, fmt.Errorf("tco: read-only register window")
}
