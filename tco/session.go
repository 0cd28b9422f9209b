// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tco

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/hdspe/ltc"
)

// Snapshot is an incoming time code as decoded by the hardware.
type Snapshot struct {
	Timecode ltc.Timecode
	Offset   int // frames since Timecode began, at single speed
	Rate     ltc.FrameRate
	Drop     bool
	Valid    bool // LTC input valid
	Lock     bool // TCO locked
}

// Format returns the LTC format of the snapshot.
func (snap Snapshot) Format() ltc.Format {
	return ltc.Format{Rate: snap.Rate, Drop: snap.Drop}
}

// Status is the state of a session, for display.
type Status struct {
	In        ltc.Timecode // current incoming time code
	InFrame   uint64       // frame count at which In started
	InFormat  ltc.Format
	InValid   bool
	Lock      bool
	Direction int // +1 forward, -1 backward, 0 stopped or jumping

	Pull      int // incoming pull factor, 1000 at nominal speed
	PullValid bool

	Out     ltc.Format
	Run     bool
	Set     bool
	Pending bool

	PeriodFrame uint64 // frame count at the last period
	Last        Latch
}

// Session tracks the incoming time code and drives the output time code of
// a single card.
type Session struct {
	msg   log.MsgStream
	est   PullEstimator
	sched *Scheduler

	changed bool // a new incoming frame was received

	raw    ltc.Timecode // last time code read from the hardware
	in     ltc.Timecode
	inFC   uint64
	inFmt  ltc.Format
	valid  bool
	lock   bool
	dir    int
	seen   bool
	pull   int
	pullOK bool

	frame uint64 // frame count at last period
}

// NewSession creates a new session.
func NewSession(opts ...Option) (*Session, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	sched, err := newScheduler(cfg)
	if err != nil {
		return nil, err
	}

	return &Session{
		msg:   cfg.msg,
		sched: sched,
	}, nil
}

// FrameReceived signals a new incoming frame, fully received at time now.
func (sess *Session) FrameReceived(now time.Time) {
	sess.est.Observe(now)
	sess.changed = true
}

// Request stages a start request for the output time code.
func (sess *Session) Request(req Request) {
	sess.msg.Debugf("start request: tc=%v, start=%v", req.Timecode, req.Start)
	sess.sched.Request(req)
}

// Stop stops the output time code.
func (sess *Session) Stop() {
	sess.sched.Stop()
}

// SetFormat changes the output LTC format.
func (sess *Session) SetFormat(f ltc.Format) error {
	return sess.sched.SetFormat(f)
}

// Changed reports whether a new incoming frame was received since the last
// period.
func (sess *Session) Changed() bool { return sess.changed }

// PeriodElapsed runs the session at a period interrupt.
// snap is the incoming time code read from the hardware; it is only
// consumed when a new frame was received since the last period.
// An invalid snapshot is reported with the returned error, but the
// scheduler step is always run and its action returned.
func (sess *Session) PeriodElapsed(p Period, snap *Snapshot) (Action, error) {
	sess.frame = p.FrameCount

	var (
		act  Action
		uerr error
	)
	if sess.changed && snap != nil {
		sess.changed = false
		act.InChanged, act.PullChanged, uerr = sess.update(p, *snap)
	}

	// the output side runs whatever the state of the input: a latch set
	// at the previous period must be released now.
	sa, err := sess.sched.Period(p)
	act.Release = sa.Release
	act.Load = sa.Load
	act.Latch = sa.Latch
	if err != nil {
		err = fmt.Errorf("tco: could not schedule output: %w", err)
	}
	return act, errors.Join(uerr, err)
}

func (sess *Session) update(p Period, snap Snapshot) (inChanged, pullChanged bool, err error) {
	f := snap.Format()
	rate, err := f.Context()
	if err != nil {
		sess.msg.Errorf("invalid incoming LTC format %v", f)
		return false, false, fmt.Errorf("tco: could not decode incoming time code: %w", err)
	}

	dir := 0
	if sess.seen && sess.inFmt == f {
		dir = rate.Running(sess.raw, snap.Timecode)
	}

	// the snapshot holds the last fully received frame: the current one is
	// the next one along the running direction.
	cur := rate.Incr(snap.Timecode)
	if dir < 0 {
		cur = rate.Decr(snap.Timecode)
	}

	speed := uint64(p.Speed)
	if speed == 0 {
		speed = 1
	}
	var (
		delta = uint64(snap.Offset) * speed
		fc    uint64
	)
	if delta < p.FrameCount {
		fc = p.FrameCount - delta
	}

	sess.raw = snap.Timecode.Masked()
	sess.in = cur.Masked()
	sess.inFC = fc
	sess.inFmt = f
	sess.valid = snap.Valid
	sess.lock = snap.Lock
	sess.dir = dir
	sess.seen = true

	pull, ok := sess.est.PullFactor(rate.FPS())
	pullChanged = pull != sess.pull || ok != sess.pullOK
	sess.pull = pull
	sess.pullOK = ok
	if pullChanged {
		sess.msg.Debugf("incoming pull factor: %d (valid=%v)", pull, ok)
	}

	return true, pullChanged, nil
}

// Status returns the current state of the session.
func (sess *Session) Status() Status {
	return Status{
		In:          sess.in,
		InFrame:     sess.inFC,
		InFormat:    sess.inFmt,
		InValid:     sess.valid,
		Lock:        sess.lock,
		Direction:   sess.dir,
		Pull:        sess.pull,
		PullValid:   sess.pullOK,
		Out:         sess.sched.Format(),
		Run:         sess.sched.Running(),
		Set:         sess.sched.Set(),
		Pending:     sess.sched.Pending(),
		PeriodFrame: sess.frame,
		Last:        sess.sched.Last(),
	}
}

// Estimator returns the pull factor estimator of the session.
func (sess *Session) Estimator() *PullEstimator { return &sess.est }
