// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tco

import (
	"time"
)

// PullEstimator estimates the actual frame rate of the incoming time code
// from the arrival times of its frames, relative to the nominal frame rate.
//
// The durations of the last NumDurations frames are kept in a ring buffer
// along with their running sum.
type PullEstimator struct {
	prev  time.Time // arrival time of the previous frame
	durs  [NumDurations]time.Duration
	sum   time.Duration
	count uint64 // number of frame events received
	n     int    // number of durations stored, up to NumDurations
}

// Observe records the arrival of a new incoming frame at time now.
// The first observation only sets the time reference.
func (est *PullEstimator) Observe(now time.Time) {
	if !est.prev.IsZero() {
		est.store(now.Sub(est.prev))
	}
	est.prev = now
	est.count++
}

// AddDuration records an inter-frame duration directly.
func (est *PullEstimator) AddDuration(d time.Duration) {
	est.store(d)
	est.count++
}

func (est *PullEstimator) store(d time.Duration) {
	i := est.count % NumDurations
	est.sum -= est.durs[i]
	est.durs[i] = d
	est.sum += d
	if est.n < NumDurations {
		est.n++
	}
}

// Count returns the number of frame events received.
func (est *PullEstimator) Count() uint64 { return est.count }

// Full reports whether enough durations were collected for an estimate.
func (est *PullEstimator) Full() bool { return est.n == NumDurations }

// FPS1k returns the observed frame rate, in frames per 1000 seconds.
// It returns false when no estimate is available yet.
func (est *PullEstimator) FPS1k() (int, bool) {
	if !est.Full() {
		return 0, false
	}
	// average frame duration, in micro-seconds.
	avg := int64(est.sum) / (NumDurations * 1000)
	if avg <= 0 {
		return 0, false
	}
	return int(1000000000 / avg), true
}

// PullFactor returns the ratio of the observed to the nominal frame rate,
// times 1000: 1000 at nominal speed, 999 for NTSC pull-down.
// It returns false when no estimate is available yet.
func (est *PullEstimator) PullFactor(fps int) (int, bool) {
	fps1k, ok := est.FPS1k()
	if !ok || fps <= 0 {
		return 0, false
	}
	return (fps1k + fps/2) / fps, true
}

// Reset discards all observations.
func (est *PullEstimator) Reset() {
	*est = PullEstimator{}
}
