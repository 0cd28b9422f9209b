// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tco

import (
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/hdspe/ltc"
	"golang.org/x/xerrors"
)

// Register window layout of the TCO module, in bytes.
const (
	RegControl = 128 // control registers, write only
	RegStatus  = 256 // status registers, read only
	RegSize    = 16  // 4 registers of 32 bits

	WindowSize = RegStatus + RegSize
)

// status register 1.
const (
	tco1Lock     = 0x00000001
	tco1LTCValid = 0x00000008
	tco1SetTC    = 0x00000100
	tco1Drop     = 0x00000200
	tco1FmtLSB   = 0x00000400
	tco1FmtMSB   = 0x00000800
	tco1FmtShift = 10
)

// control register 2.
const (
	tco2Run     = 0x00010000
	tco2SetFreq = 0x08000000
)

type rwer interface {
	io.ReaderAt
	io.WriterAt
}

type reg32 struct {
	r func() uint32
	w func(v uint32)
}

func newReg32(dev *Device, rw rwer, offset int64) reg32 {
	return reg32{
		r: func() uint32 {
			return dev.readU32(rw, offset)
		},
		w: func(v uint32) {
			dev.writeU32(rw, offset, v)
		},
	}
}

// Device binds a Session to the register window of a TCO module.
type Device struct {
	msg  log.MsgStream
	sess *Session

	buf [4]byte
	err error

	ctrl [4]reg32
	stat [4]reg32

	settings uint32 // low 16 bits of control register 1
	reg2     uint32 // control register 2
}

// NewDevice creates a new TCO device from its register window.
// rate48k selects the 48 kHz family of single-speed sample rates.
func NewDevice(rw interface {
	io.ReaderAt
	io.WriterAt
}, sess *Session, rate48k bool) (*Device, error) {
	dev := &Device{
		msg:  sess.msg,
		sess: sess,
	}
	for i := range dev.ctrl {
		dev.ctrl[i] = newReg32(dev, rw, RegControl+4*int64(i))
		dev.stat[i] = newReg32(dev, rw, RegStatus+4*int64(i))
	}

	if rate48k {
		dev.reg2 |= tco2SetFreq
	}
	err := dev.Configure(sess.sched.Format())
	if err != nil {
		return nil, xerrors.Errorf("tco: could not configure device: %w", err)
	}
	return dev, nil
}

// Configure writes the output LTC format settings.
func (dev *Device) Configure(f ltc.Format) error {
	err := dev.sess.SetFormat(f)
	if err != nil {
		return err
	}

	dev.settings = uint32(f.Rate&0x3) << tco1FmtShift
	if f.Drop {
		dev.settings |= tco1Drop
	}

	dev.ctrl[0].w(0)
	dev.ctrl[1].w(dev.settings)
	dev.ctrl[2].w(dev.reg2)
	dev.ctrl[3].w(0)

	if dev.err != nil {
		return xerrors.Errorf("tco: could not write settings: %w", dev.err)
	}
	return nil
}

// SampleRate returns the single-speed sample rate of the TCO.
func (dev *Device) SampleRate() int {
	if dev.reg2&tco2SetFreq != 0 {
		return 48000
	}
	return 44100
}

// Snapshot reads the incoming time code and its status.
func (dev *Device) Snapshot() (Snapshot, error) {
	tc := dev.stat[0].r()
	st := dev.stat[1].r()
	if v := dev.stat[0].r(); v != tc {
		// time code changed while reading the status.
		tc = v
		st = dev.stat[1].r()
	}
	if dev.err != nil {
		return Snapshot{}, xerrors.Errorf("tco: could not read incoming time code: %w", dev.err)
	}
	return decodeStatus(tc, st), nil
}

func decodeStatus(tc, st uint32) Snapshot {
	return Snapshot{
		Timecode: ltc.Timecode(tc).Masked(),
		// the offset comes in two groups of 7 bits.
		Offset: int((st>>16)&0x7f | (st>>17)&0x3f80),
		Rate:   ltc.FrameRate((st & (tco1FmtLSB | tco1FmtMSB)) >> tco1FmtShift),
		Drop:   st&tco1Drop != 0,
		Valid:  st&tco1LTCValid != 0,
		Lock:   st&tco1Lock != 0,
	}
}

// FrameReceived signals a new incoming frame.
func (dev *Device) FrameReceived(now time.Time) {
	dev.sess.FrameReceived(now)
}

// Request stages a start request for the output time code.
func (dev *Device) Request(req Request) {
	dev.sess.Request(req)
}

// Stop stops the output time code.
func (dev *Device) Stop() error {
	dev.sess.Stop()
	dev.reg2 &^= tco2Run
	dev.ctrl[2].w(dev.reg2)
	if dev.err != nil {
		return xerrors.Errorf("tco: could not stop time code: %w", dev.err)
	}
	return nil
}

// PeriodElapsed runs the session at a period interrupt and applies the
// resulting action to the control registers.
// A zero p.SampleRate is replaced by the sample rate of the device.
func (dev *Device) PeriodElapsed(p Period) (Action, error) {
	if p.SampleRate == 0 {
		p.SampleRate = dev.SampleRate()
	}

	var (
		snap *Snapshot
		rerr error
	)
	if dev.sess.Changed() {
		v, err := dev.Snapshot()
		switch err {
		case nil:
			snap = &v
		default:
			// the incoming frame is read again at the next period.
			// control registers are still written.
			rerr = err
			dev.err = nil
		}
	}

	act, err := dev.sess.PeriodElapsed(p, snap)
	err = errors.Join(rerr, err)
	if act.Release {
		dev.ctrl[1].w(dev.settings &^ tco1SetTC)
	}
	if act.Load {
		dev.ctrl[0].w(uint32(act.Latch.Timecode))
		dev.ctrl[1].w(uint32(act.Latch.Offset&0xffff)<<16 | tco1SetTC | dev.settings)
		dev.reg2 |= tco2Run
		dev.ctrl[2].w(dev.reg2)
		dev.msg.Debugf(
			"latch: tc=%v, offset=%d",
			act.Latch.Timecode, act.Latch.Offset,
		)
	}
	if dev.err != nil {
		err = errors.Join(err, xerrors.Errorf("tco: could not write control registers: %w", dev.err))
	}
	return act, err
}

// Err returns the first register access error, if any.
func (dev *Device) Err() error { return dev.err }

func (dev *Device) readU32(r io.ReaderAt, off int64) uint32 {
	if dev.err != nil {
		return 0
	}
	_, dev.err = r.ReadAt(dev.buf[:4], off)
	if dev.err != nil {
		dev.err = xerrors.Errorf("tco: could not read register 0x%x: %w", off, dev.err)
		return 0
	}
	return binary.LittleEndian.Uint32(dev.buf[:4])
}

func (dev *Device) writeU32(w io.WriterAt, off int64, v uint32) {
	if dev.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(dev.buf[:4], v)
	_, dev.err = w.WriteAt(dev.buf[:4], off)
	if dev.err != nil {
		dev.err = xerrors.Errorf("tco: could not write register 0x%x: %w", off, dev.err)
		return
	}
}

// EncodeStatus builds the values of the status registers 0 and 1 for an
// incoming time code, as found in the register window of a TCO module.
func EncodeStatus(snap Snapshot) (tc, st uint32) {
	tc = uint32(snap.Timecode.Masked())
	off := uint32(snap.Offset) & 0x3fff
	st = (off&0x7f)<<16 | (off&0x3f80)<<17
	st |= uint32(snap.Rate&0x3) << tco1FmtShift
	if snap.Drop {
		st |= tco1Drop
	}
	if snap.Valid {
		st |= tco1LTCValid
	}
	if snap.Lock {
		st |= tco1Lock
	}
	return tc, st
}

// DecodeControl decodes the output latch from the values of the control
// registers 0 and 1. ok reports whether the set_TC bit is raised.
func DecodeControl(reg0, reg1 uint32) (l Latch, ok bool) {
	l.Timecode = ltc.Timecode(reg0).Masked()
	l.Offset = int(reg1 >> 16)
	return l, reg1&tco1SetTC != 0
}
