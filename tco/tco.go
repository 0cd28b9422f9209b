// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tco holds the synchronization engine of the Time Code Option (TCO)
// module: incoming LTC tracking, pull factor estimation and scheduling of
// the output time code.
//
// A Session is owned by exactly one card. Its two entry points,
// Session.FrameReceived and Session.PeriodElapsed, must be serialized by
// the caller: the engine holds no locks and performs no I/O.
package tco // import "github.com/go-lpc/hdspe/tco"

import (
	"errors"
	"os"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/hdspe/ltc"
)

var (
	// ErrInvalidPeriod is returned when the period parameters handed to the
	// scheduler are not usable (speed, period size or sample rate).
	ErrInvalidPeriod = errors.New("tco: invalid period parameters")

	// ErrOffsetRange flags a latch offset that does not fit in the 14 bits
	// of the offset register. It is a warning: the latch is still issued.
	ErrOffsetRange = errors.New("tco: latch offset out of range")
)

const (
	// NumDurations is the number of incoming frame durations averaged by
	// the pull factor estimator.
	NumDurations = 60

	maxOffset = 0x3fff
)

type config struct {
	msg log.MsgStream
	fmt ltc.Format
}

func newConfig() config {
	return config{
		msg: log.NewMsgStream("tco", log.LvlInfo, os.Stdout),
		fmt: ltc.Format{Rate: ltc.FPS25},
	}
}

// Option configures a Session.
type Option func(*config)

// WithMsgStream sets the message stream used for diagnostics.
func WithMsgStream(msg log.MsgStream) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithFormat sets the LTC output format.
func WithFormat(f ltc.Format) Option {
	return func(cfg *config) {
		cfg.fmt = f
	}
}
