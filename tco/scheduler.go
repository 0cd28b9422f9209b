// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tco

import (
	"fmt"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/hdspe/ltc"
)

type startKind uint8

const (
	startNow startKind = iota
	startAt
	startWall
)

// Start describes the reference frame at which a requested output time code
// should begin.
type Start struct {
	kind  startKind
	frame uint64
	secs  int64
}

// Now starts the output time code at the current frame count.
func Now() Start { return Start{kind: startNow} }

// At starts the output time code at the given frame count.
func At(frame uint64) Start { return Start{kind: startAt, frame: frame} }

// WallClock starts the output time code from the real-time clock, shifted
// by offset seconds (typically the time zone offset east of UTC).
// The requested time code is ignored.
func WallClock(offset int64) Start { return Start{kind: startWall, secs: offset} }

func (s Start) String() string {
	switch s.kind {
	case startAt:
		return fmt.Sprintf("at(%d)", s.frame)
	case startWall:
		return fmt.Sprintf("wall(%+ds)", s.secs)
	default:
		return "now"
	}
}

// Request is a start request for the output time code.
type Request struct {
	Timecode ltc.Timecode
	Start    Start
}

// Period describes the state of the audio stream at a period interrupt.
type Period struct {
	FrameCount uint64    // current frame count, at the active speed
	PeriodSize int       // period size in frames, at the active speed
	Speed      int       // speed multiplier: 1, 2 or 4
	SampleRate int       // single-speed sample rate of the TCO
	Wall       time.Time // real-time clock reading, zero for time.Now
}

func (p Period) valid() error {
	switch p.Speed {
	case 1, 2, 4:
	default:
		return fmt.Errorf("tco: invalid speed %d: %w", p.Speed, ErrInvalidPeriod)
	}
	if p.PeriodSize < p.Speed {
		return fmt.Errorf("tco: invalid period size %d: %w", p.PeriodSize, ErrInvalidPeriod)
	}
	// an LTC frame spans at least one sample, and a sample at most one
	// nanosecond.
	if p.SampleRate < 30 || p.SampleRate > 1e9 {
		return fmt.Errorf("tco: invalid sample rate %d: %w", p.SampleRate, ErrInvalidPeriod)
	}
	return nil
}

// Latch is a (time code, offset) pair staged for the output generator.
type Latch struct {
	Timecode    ltc.Timecode
	Offset      int    // samples into the next period where the time code starts
	Frame       uint64 // single-speed frame count of the time code start
	Compensated int    // number of LTC frames added to the requested time code
	Correction  int    // pipeline latency correction subtracted from Offset
}

// InRange reports whether the offset fits the 14 bits of the offset register.
func (l Latch) InRange() bool {
	return l.Offset >= 0 && l.Offset <= maxOffset
}

// Action is what the register layer must do at the end of a period.
type Action struct {
	Release bool  // clear the set_TC control bit
	Load    bool  // write Latch and start the output
	Latch   Latch // staged latch, valid when Load is set

	InChanged   bool // a new incoming time code was decoded
	PullChanged bool // the incoming pull factor changed
}

// Scheduler computes when and with which time code the output generator
// has to be (re)started.
type Scheduler struct {
	msg  log.MsgStream
	fmt  ltc.Format
	rate ltc.Rate

	req     Request
	pending bool
	set     bool // a latch was written and not yet picked up
	run     bool // output is running
	last    Latch
}

// NewScheduler creates a new output scheduler.
func NewScheduler(opts ...Option) (*Scheduler, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newScheduler(cfg)
}

func newScheduler(cfg config) (*Scheduler, error) {
	s := &Scheduler{msg: cfg.msg}
	err := s.SetFormat(cfg.fmt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SetFormat changes the output LTC format.
func (s *Scheduler) SetFormat(f ltc.Format) error {
	rate, err := f.Context()
	if err != nil {
		return fmt.Errorf("tco: could not set output format %v: %w", f, err)
	}
	s.fmt = f
	s.rate = rate
	return nil
}

// Format returns the output LTC format.
func (s *Scheduler) Format() ltc.Format { return s.fmt }

// Request stages a start request, replacing any pending one.
func (s *Scheduler) Request(req Request) {
	s.req = req
	s.pending = true
}

// Stop stops the output time code.
func (s *Scheduler) Stop() {
	s.run = false
}

// Pending reports whether a start request waits for the next period.
func (s *Scheduler) Pending() bool { return s.pending }

// Running reports whether the output time code runs.
func (s *Scheduler) Running() bool { return s.run }

// Set reports whether a latch was staged at the last period and is still
// to be released.
func (s *Scheduler) Set() bool { return s.set }

// Last returns the last latch issued.
func (s *Scheduler) Last() Latch { return s.last }

// Period runs the scheduler at a period interrupt.
// A latch issued at the previous period is released first, then a pending
// request, if any, is turned into a new latch.
func (s *Scheduler) Period(p Period) (Action, error) {
	var act Action
	if s.set {
		act.Release = true
		s.set = false
	}

	if !s.pending {
		return act, nil
	}

	err := p.valid()
	if err != nil {
		return act, err
	}

	act.Latch = s.start(p)
	act.Load = true
	if !act.Latch.InRange() {
		s.msg.Warnf("offset %d out of range 0..%d: %v", act.Latch.Offset, maxOffset, ErrOffsetRange)
	}

	s.last = act.Latch
	s.pending = false
	s.set = true
	s.run = true
	return act, nil
}

func (s *Scheduler) start(p Period) Latch {
	var (
		speed = int64(p.Speed)
		cfc   = int64(p.FrameCount) / speed // current frame count
		ps    = int64(p.PeriodSize) / speed // period size
		fps   = s.fmt.Rate.FPS()
		scale = s.fmt.Rate.Scale()
		fs    = int64(p.SampleRate) * 1000 / int64(fps*scale) // LTC frame size in samples

		tc = s.req.Timecode
		fc int64 // frame count at which tc starts
	)

	switch s.req.Start.kind {
	case startNow:
		fc = cfc
	case startAt:
		fc = int64(s.req.Start.frame) / speed
	case startWall:
		now := p.Wall
		if now.IsZero() {
			now = time.Now()
		}
		t := now.UTC().Add(time.Duration(s.req.Start.secs) * time.Second)
		tc = ltc.Compose(t.Hour(), t.Minute(), t.Second(), 0)
		fc = cfc - int64(now.Nanosecond())/int64(1000000000/p.SampleRate)
	}

	// the hardware picks the latch up at the next period and applies it
	// one period later.
	var (
		horizon = cfc + 2*ps
		n       int64
	)
	switch {
	case fc > horizon+fs:
		n = -((fc - horizon) / fs)
	case fc < horizon:
		n = (horizon-fc)/fs + 1
	}
	fc += n * fs
	tc = s.rate.Add(tc, int(n))

	var (
		corr   = correction(fps, freqClass(p.SampleRate))
		offset = fc - (cfc + ps) - int64(corr)
	)
	s.msg.Debugf(
		"compensate %d frames: tc=%v, fc=%d, offset=%d, start=%v",
		n, s.rate.Format(tc), fc, offset, s.req.Start,
	)

	return Latch{
		Timecode:    tc.Masked(),
		Offset:      int(offset),
		Frame:       uint64(fc),
		Compensated: int(n),
		Correction:  corr,
	}
}

// freqClass returns the nominal frequency class of a sample rate:
// 1, 2 and 3 for 32, 44.1 and 48 kHz, plus 3 at double speed and 6 at
// quad speed.
func freqClass(rate int) int {
	class := 0
	switch {
	case rate >= 112000:
		rate /= 4
		class = 6
	case rate >= 56000:
		rate /= 2
		class = 3
	}
	switch {
	case rate < 38050:
		return class + 1
	case rate < 46050:
		return class + 2
	default:
		return class + 3
	}
}

// correction returns the output pipeline latency, in samples, for an LTC
// frame rate and a frequency class.
// Values were measured on hardware at single speed only.
func correction(fps, class int) int {
	switch fps {
	case 24:
		switch class {
		case 2:
			return 13
		case 3:
			return 16
		}
	case 25:
		switch class {
		case 2:
			return 15
		case 3:
			return 16
		}
	case 30:
		switch class {
		case 2:
			return 13
		case 3:
			return 14
		}
	}
	return 0
}
