// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/hdspe/internal/ltcwav"
	"github.com/go-lpc/hdspe/internal/mmap"
	"github.com/go-lpc/hdspe/ltc"
	"github.com/go-lpc/hdspe/tco"
	"go-hep.org/x/hep/hbook"
	"golang.org/x/sync/errgroup"
)

var errQuit = errors.New("tco-sim: quit")

// sim simulates a card with a TCO module: its audio interrupts and an
// incoming LTC source.
type sim struct {
	mu  sync.Mutex
	msg log.MsgStream
	out io.Writer

	win  *mmap.Window
	sess *tco.Session
	dev  *tco.Device
	cnt  tco.FrameCounter

	speed  int // speed multiplier
	period int // period size, in frames
	wall   int64

	samples uint64 // audio frames elapsed

	in struct {
		on   bool
		fmt  ltc.Format
		rate ltc.Rate
		tc   ltc.Timecode
		pull int
		beg  uint64 // frame count at the start of tc
		last time.Time
	}

	hist  *hbook.H1D // incoming frame durations, in ms
	mon   *metrics
	wav   string
	latch *tco.Latch
}

func newSim(cfg config, msg log.MsgStream, out io.Writer) (*sim, error) {
	ofmt, err := ltc.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, fmt.Errorf("could not parse output format: %w", err)
	}
	ifmt, err := ltc.ParseFormat(cfg.Input.Format)
	if err != nil {
		return nil, fmt.Errorf("could not parse input format: %w", err)
	}
	irate, err := ifmt.Context()
	if err != nil {
		return nil, fmt.Errorf("could not create input context: %w", err)
	}
	start, err := ltc.ParseString(cfg.Input.Start)
	if err != nil {
		return nil, fmt.Errorf("could not parse input time code: %w", err)
	}

	win, err := mmap.Anon(tco.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("could not create register window: %w", err)
	}

	sess, err := tco.NewSession(tco.WithMsgStream(msg), tco.WithFormat(ofmt))
	if err != nil {
		_ = win.Close()
		return nil, fmt.Errorf("could not create session: %w", err)
	}

	dev, err := tco.NewDevice(win, sess, cfg.Output.Rate48k)
	if err != nil {
		_ = win.Close()
		return nil, fmt.Errorf("could not create device: %w", err)
	}

	s := &sim{
		msg:    msg,
		out:    out,
		win:    win,
		sess:   sess,
		dev:    dev,
		speed:  cfg.Audio.Speed,
		period: tco.PeriodSize(cfg.Audio.Latency),
		wall:   cfg.Output.Wall,
		hist:   hbook.NewH1D(100, 0, 50),
		mon:    newMetrics(),
		wav:    cfg.WAV,
	}
	s.cnt.BufferSize = tco.HWBufferSize
	s.mon.addr = cfg.Metrics
	s.in.on = !cfg.Input.Off
	s.in.fmt = ifmt
	s.in.rate = irate
	s.in.tc = irate.Decr(start)
	s.in.pull = cfg.Input.Pull

	return s, nil
}

func (s *sim) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.wav != "" && s.latch != nil {
		err = s.dump(s.wav, *s.latch)
	}

	if e := s.win.Close(); e != nil && err == nil {
		err = fmt.Errorf("could not close register window: %w", e)
	}
	return err
}

// interrupt returns the interval between two audio interrupts.
func (s *sim) interrupt() time.Duration {
	sr := s.dev.SampleRate() * s.speed
	return time.Duration(s.period) * time.Second / time.Duration(sr)
}

// frameDuration returns the interval between two incoming LTC frames.
func (s *sim) frameDuration() time.Duration {
	var (
		fps   = int64(s.in.fmt.Rate.FPS())
		scale = int64(s.in.fmt.Rate.Scale())
		pull  = int64(s.in.pull)
	)
	return time.Duration(1e15 / (fps * scale * pull))
}

// periodElapsed simulates an audio interrupt.
func (s *sim) periodElapsed(now time.Time) (tco.Action, error) {
	s.samples += uint64(s.period)
	hwptr := uint32(s.samples % tco.HWBufferSize)
	fc := s.cnt.Update(hwptr, s.period)

	if s.in.on {
		off := 0
		if fc > s.in.beg {
			off = int((fc - s.in.beg) / uint64(s.speed))
		}
		if off > 0x3fff {
			off = 0x3fff
		}
		s.writeStatus(off)
	}

	act, err := s.dev.PeriodElapsed(tco.Period{
		FrameCount: fc,
		PeriodSize: s.period,
		Speed:      s.speed,
		Wall:       now,
	})
	switch {
	case err == nil:
	case errors.Is(err, ltc.ErrInvalidRate), errors.Is(err, tco.ErrInvalidPeriod):
		// the action is still valid.
		s.msg.Errorf("period %d: %+v", fc, err)
	default:
		return act, err
	}

	if act.Load {
		l := act.Latch
		s.latch = &l
		s.msg.Infof(
			"latch: tc=%s, offset=%d, compensated=%+d frames",
			s.fmtOut(l.Timecode), l.Offset, l.Compensated,
		)
		s.mon.latches.Inc()
		if !l.InRange() {
			s.mon.warnings.Inc()
		}
	}
	s.mon.update(s.sess.Status())
	return act, nil
}

// frameReceived simulates the decoding of a new incoming LTC frame.
func (s *sim) frameReceived(now time.Time) {
	if !s.in.on {
		return
	}
	if !s.in.last.IsZero() {
		dt := now.Sub(s.in.last)
		s.hist.Fill(float64(dt)/float64(time.Millisecond), 1)
	}
	s.in.last = now
	s.in.tc = s.in.rate.Incr(s.in.tc)
	s.in.beg = s.samples
	s.writeStatus(0)
	s.dev.FrameReceived(now)
}

func (s *sim) writeStatus(offset int) {
	tc, st := tco.EncodeStatus(tco.Snapshot{
		Timecode: s.in.tc,
		Offset:   offset,
		Rate:     s.in.fmt.Rate,
		Drop:     s.in.fmt.Drop,
		Valid:    true,
		Lock:     true,
	})
	for i, v := range []uint32{tc, st} {
		err := s.win.PutUint32(tco.RegStatus+4*int64(i), v)
		if err != nil {
			s.msg.Errorf("could not write status register %d: %+v", i, err)
		}
	}
}

func (s *sim) fmtOut(tc ltc.Timecode) string {
	r, err := s.sess.Status().Out.Context()
	if err != nil {
		return tc.String()
	}
	return r.Format(tc)
}

// run runs the interrupt and incoming LTC loops until ctx is done.
func (s *sim) run(ctx context.Context) error {
	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		tck := time.NewTicker(s.interrupt())
		defer tck.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-tck.C:
				s.mu.Lock()
				_, err := s.periodElapsed(now)
				s.mu.Unlock()
				if err != nil {
					return fmt.Errorf("could not process period: %w", err)
				}
			}
		}
	})
	grp.Go(func() error {
		s.mu.Lock()
		cur := s.frameDuration()
		s.mu.Unlock()

		tck := time.NewTicker(cur)
		defer tck.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-tck.C:
				s.mu.Lock()
				s.frameReceived(now)
				d := s.frameDuration()
				s.mu.Unlock()
				if d != cur {
					// pull factor changed.
					tck.Reset(d)
					cur = d
				}
			}
		}
	})
	if s.mon.addr != "" {
		grp.Go(func() error {
			return s.mon.serve(ctx)
		})
	}
	return grp.Wait()
}

// exec executes a console command.
func (s *sim) exec(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}

	switch args[0] {
	case "start":
		req, err := s.parseStart(args[1:])
		if err != nil {
			return fmt.Errorf("could not parse start request: %w", err)
		}
		s.dev.Request(req)
	case "stop":
		return s.dev.Stop()
	case "status":
		s.status()
	case "format":
		f, err := ltc.ParseFormat(strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		return s.dev.Configure(f)
	case "pull":
		if len(args) != 2 {
			return fmt.Errorf("usage: pull <factor>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil || v <= 0 {
			return fmt.Errorf("invalid pull factor %q", args[1])
		}
		s.in.pull = v
	case "help":
		fmt.Fprintf(s.out, `commands:
  start <hh:mm:ss:ff|wall> [now|at <frame>|+<seconds>]
  stop
  status
  format <name>
  pull <factor>
  quit
`)
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}

func (s *sim) parseStart(args []string) (tco.Request, error) {
	var req tco.Request
	if len(args) == 0 {
		return req, fmt.Errorf("missing time code")
	}

	wall := args[0] == "wall"
	if !wall {
		tc, err := ltc.ParseString(args[0])
		if err != nil {
			return req, err
		}
		req.Timecode = tc
	}

	args = args[1:]
	switch {
	case len(args) == 0, args[0] == "now":
		req.Start = tco.Now()
		if wall {
			req.Start = tco.WallClock(s.wall)
		}
	case args[0] == "at" && len(args) == 2 && !wall:
		v, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return req, fmt.Errorf("invalid frame %q: %w", args[1], err)
		}
		req.Start = tco.At(v)
	case strings.HasPrefix(args[0], "+") && len(args) == 1:
		v, err := strconv.ParseInt(args[0][1:], 10, 64)
		if err != nil {
			return req, fmt.Errorf("invalid delay %q: %w", args[0], err)
		}
		if wall {
			req.Start = tco.WallClock(v)
			break
		}
		sr := uint64(s.dev.SampleRate() * s.speed)
		req.Start = tco.At(s.cnt.Count() + uint64(v)*sr)
	default:
		return req, fmt.Errorf("invalid start %q", strings.Join(args, " "))
	}
	return req, nil
}

func (s *sim) status() {
	var (
		st   = s.sess.Status()
		in   = st.InFormat
		dir  = map[int]string{-1: "backward", 0: "stopped", +1: "forward"}[st.Direction]
		pull = "n/a"
	)
	if st.PullValid {
		pull = strconv.Itoa(st.Pull)
	}
	if fps1k, ok := s.sess.Estimator().FPS1k(); ok {
		pull += fmt.Sprintf(" (%d.%03d fps)", fps1k/1000, fps1k%1000)
	}
	inr, err := in.Context()
	inTC := st.In.String()
	if err == nil {
		inTC = inr.Format(st.In)
	}

	fmt.Fprintf(s.out, "input:  %s (%v) valid=%v lock=%v %s pull=%s frame=%d\n",
		inTC, in, st.InValid, st.Lock, dir, pull, st.InFrame,
	)
	fmt.Fprintf(s.out, "output: %v run=%v set=%v pending=%v\n",
		st.Out, st.Run, st.Set, st.Pending,
	)
	if s.latch != nil {
		fmt.Fprintf(s.out, "latch:  %s offset=%d frame=%d compensated=%+d\n",
			s.fmtOut(st.Last.Timecode), st.Last.Offset, st.Last.Frame, st.Last.Compensated,
		)
	}
	fmt.Fprintf(s.out, "period: frame=%d size=%d speed=%d rate=%d\n",
		st.PeriodFrame, s.period, s.speed, s.dev.SampleRate(),
	)
}

// histo prints a summary of the incoming frame durations.
func (s *sim) histo() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hist.Entries() == 0 {
		return
	}
	fmt.Fprintf(s.out, "incoming frames: n=%d, mean=%.3f ms, std-dev=%.3f ms\n",
		s.hist.Entries(), s.hist.XMean(), s.hist.XStdDev(),
	)
}

// dump writes one second of the output LTC, starting at latch, as a WAV file.
func (s *sim) dump(fname string, latch tco.Latch) error {
	out := s.sess.Status().Out
	rate, err := out.Context()
	if err != nil {
		return fmt.Errorf("could not create output context: %w", err)
	}
	sig := ltcwav.Signal{
		Rate:       rate,
		Scale:      out.Rate.Scale(),
		SampleRate: s.dev.SampleRate(),
	}

	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("could not create WAV file: %w", err)
	}
	defer f.Close()

	offset := latch.Offset + latch.Correction
	if offset < 0 {
		offset = 0
	}
	err = sig.WriteWAV(f, latch.Timecode, rate.FPS(), offset)
	if err != nil {
		return fmt.Errorf("could not write WAV file: %w", err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close WAV file: %w", err)
	}
	return nil
}
