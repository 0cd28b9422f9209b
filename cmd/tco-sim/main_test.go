// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/hdspe/internal/ltcwav"
	"github.com/go-lpc/hdspe/ltc"
	"github.com/go-lpc/hdspe/tco"
)

func newTestSim(t *testing.T, cfg config, out io.Writer) *sim {
	t.Helper()
	if out == nil {
		out = io.Discard
	}
	msg := tlog.NewMsgStream("tco-sim", tlog.LvlWarning, io.Discard)
	s, err := newSim(cfg, msg, out)
	if err != nil {
		t.Fatalf("could not create simulator: %+v", err)
	}
	return s
}

func TestLoadConfig(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "tco.yaml")
	err := os.WriteFile(fname, []byte(`
output:
  format: "29.97 dfps"
  rate-48k: false
  wall-offset: 3600
audio:
  speed: 2
  latency: 3
input:
  format: "24 fps"
  start: "01:02:03:04"
  pull: 999
metrics: ":9090"
`), 0644)
	if err != nil {
		t.Fatalf("could not write config file: %+v", err)
	}

	cfg, err := loadConfig(fname)
	if err != nil {
		t.Fatalf("could not load config: %+v", err)
	}
	if got, want := cfg.Output.Format, "29.97 dfps"; got != want {
		t.Fatalf("invalid output format: got=%q, want=%q", got, want)
	}
	if cfg.Output.Rate48k {
		t.Fatalf("invalid sample rate family")
	}
	if got, want := cfg.Output.Wall, int64(3600); got != want {
		t.Fatalf("invalid wall-clock offset: got=%d, want=%d", got, want)
	}
	if got, want := cfg.Audio.Speed, 2; got != want {
		t.Fatalf("invalid speed: got=%d, want=%d", got, want)
	}
	if got, want := cfg.Audio.Latency, 3; got != want {
		t.Fatalf("invalid latency: got=%d, want=%d", got, want)
	}
	if got, want := cfg.Input.Pull, 999; got != want {
		t.Fatalf("invalid pull factor: got=%d, want=%d", got, want)
	}
	if got, want := cfg.Metrics, ":9090"; got != want {
		t.Fatalf("invalid metrics address: got=%q, want=%q", got, want)
	}

	def, err := loadConfig("")
	if err != nil {
		t.Fatalf("could not load default config: %+v", err)
	}
	if def != newConfig() {
		t.Fatalf("invalid default config: %+v", def)
	}

	_, err = loadConfig(filepath.Join(t.TempDir(), "not-there.yaml"))
	if err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		mod  func(cfg *config)
		err  string
	}{
		{"output-format", func(cfg *config) { cfg.Output.Format = "60 fps" }, "invalid output format"},
		{"output-df-25", func(cfg *config) { cfg.Output.Format = "25 dfps" }, "invalid output format"},
		{"input-format", func(cfg *config) { cfg.Input.Format = "" }, "invalid input format"},
		{"input-start", func(cfg *config) { cfg.Input.Start = "10:00" }, "invalid input start time code"},
		{"speed", func(cfg *config) { cfg.Audio.Speed = 3 }, "invalid speed 3"},
		{"latency", func(cfg *config) { cfg.Audio.Latency = 8 }, "invalid latency 8"},
		{"pull", func(cfg *config) { cfg.Input.Pull = 0 }, "invalid pull factor 0"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := newConfig()
			tc.mod(&cfg)
			err := cfg.validate()
			if err == nil {
				t.Fatalf("expected an error")
			}
			if got, want := err.Error(), tc.err; !strings.HasPrefix(got, want) {
				t.Fatalf("invalid error: got=%q, want=%q", got, want)
			}
		})
	}

	cfg := newConfig()
	cfg.Audio.Speed = 3
	if err := cfg.validate(); !errors.Is(err, tco.ErrInvalidPeriod) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, tco.ErrInvalidPeriod)
	}
}

func TestParseStart(t *testing.T) {
	s := newTestSim(t, newConfig(), nil)
	defer s.close()

	tc := ltc.Compose(10, 0, 0, 0)
	for _, test := range []struct {
		args string
		want tco.Request
		err  bool
	}{
		{args: "10:00:00:00", want: tco.Request{Timecode: tc, Start: tco.Now()}},
		{args: "10:00:00:00 now", want: tco.Request{Timecode: tc, Start: tco.Now()}},
		{args: "10:00:00:00 at 1234", want: tco.Request{Timecode: tc, Start: tco.At(1234)}},
		{args: "10:00:00:00 +2", want: tco.Request{Timecode: tc, Start: tco.At(96000)}},
		{args: "wall", want: tco.Request{Start: tco.WallClock(0)}},
		{args: "wall +5", want: tco.Request{Start: tco.WallClock(5)}},
		{args: "", err: true},
		{args: "10:00", err: true},
		{args: "wall at 3", err: true},
		{args: "10:00:00:00 at", err: true},
		{args: "10:00:00:00 at x", err: true},
		{args: "10:00:00:00 +x", err: true},
		{args: "10:00:00:00 later", err: true},
	} {
		t.Run(test.args, func(t *testing.T) {
			got, err := s.parseStart(strings.Fields(test.args))
			switch {
			case test.err:
				if err == nil {
					t.Fatalf("expected an error, got=%+v", got)
				}
				return
			case err != nil:
				t.Fatalf("could not parse start: %+v", err)
			}
			if got != test.want {
				t.Fatalf("invalid request: got=%+v, want=%+v", got, test.want)
			}
		})
	}
}

func TestExec(t *testing.T) {
	out := new(bytes.Buffer)
	s := newTestSim(t, newConfig(), out)
	defer s.close()

	for _, tc := range []struct {
		line string
		err  bool
	}{
		{line: ""},
		{line: "help"},
		{line: "status"},
		{line: "pull 999"},
		{line: "pull", err: true},
		{line: "pull -3", err: true},
		{line: "format 24 fps"},
		{line: "format 25 dfps", err: true},
		{line: "start 10:00:00:00"},
		{line: "start", err: true},
		{line: "stop"},
		{line: "bogus", err: true},
	} {
		err := s.exec(tc.line)
		switch {
		case tc.err && err == nil:
			t.Fatalf("%q: expected an error", tc.line)
		case !tc.err && err != nil:
			t.Fatalf("%q: could not execute command: %+v", tc.line, err)
		}
	}

	if got, want := s.in.pull, 999; got != want {
		t.Fatalf("invalid pull factor: got=%d, want=%d", got, want)
	}
	if got, want := s.sess.Status().Out.String(), "24 fps"; got != want {
		t.Fatalf("invalid output format: got=%q, want=%q", got, want)
	}
	if !s.sess.Status().Pending {
		t.Fatalf("start request not staged")
	}
	for _, want := range []string{"commands:", "input:", "output: 25 fps", "period: frame=0 size=256 speed=1 rate=48000"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("missing %q in output:\n%s", want, out.String())
		}
	}

	for _, line := range []string{"quit", "exit"} {
		if err := s.exec(line); !errors.Is(err, errQuit) {
			t.Fatalf("%q: invalid error: got=%+v, want=%+v", line, err, errQuit)
		}
	}
}

func TestSimLatch(t *testing.T) {
	out := new(bytes.Buffer)
	cfg := newConfig()
	cfg.WAV = filepath.Join(t.TempDir(), "out.wav")
	s := newTestSim(t, cfg, out)

	err := s.exec("start 10:00:00:00")
	if err != nil {
		t.Fatalf("could not request start: %+v", err)
	}

	now := time.Date(2021, 4, 1, 11, 20, 29, 0, time.UTC)
	act, err := s.periodElapsed(now)
	if err != nil {
		t.Fatalf("could not run period: %+v", err)
	}
	if !act.Load {
		t.Fatalf("latch not issued")
	}
	if got, want := act.Latch.Timecode, ltc.Compose(10, 0, 0, 1); got != want {
		t.Fatalf("invalid latch time code: got=%v, want=%v", got, want)
	}
	if got, want := act.Latch.Offset, 1648; got != want {
		t.Fatalf("invalid latch offset: got=%d, want=%d", got, want)
	}

	reg0, err := s.win.Uint32(tco.RegControl)
	if err != nil {
		t.Fatalf("could not read control register 0: %+v", err)
	}
	reg1, err := s.win.Uint32(tco.RegControl + 4)
	if err != nil {
		t.Fatalf("could not read control register 1: %+v", err)
	}
	l, ok := tco.DecodeControl(reg0, reg1)
	if !ok {
		t.Fatalf("set_TC not raised")
	}
	if l.Timecode != act.Latch.Timecode || l.Offset != act.Latch.Offset {
		t.Fatalf("invalid control registers: got=%+v, want=%+v", l, act.Latch)
	}

	// next period releases the latch.
	act, err = s.periodElapsed(now.Add(s.interrupt()))
	if err != nil {
		t.Fatalf("could not run period: %+v", err)
	}
	if !act.Release || act.Load {
		t.Fatalf("invalid action: %+v", act)
	}
	reg1, err = s.win.Uint32(tco.RegControl + 4)
	if err != nil {
		t.Fatalf("could not read control register 1: %+v", err)
	}
	if _, ok := tco.DecodeControl(reg0, reg1); ok {
		t.Fatalf("set_TC not released")
	}

	s.mu.Lock()
	s.status()
	s.mu.Unlock()
	if want := "latch:  10:00:00:01 offset=1648"; !strings.Contains(out.String(), want) {
		t.Fatalf("missing %q in output:\n%s", want, out.String())
	}

	err = s.close()
	if err != nil {
		t.Fatalf("could not close simulator: %+v", err)
	}

	f, err := os.Open(cfg.WAV)
	if err != nil {
		t.Fatalf("could not open WAV file: %+v", err)
	}
	defer f.Close()

	samples, sr, err := ltcwav.ReadWAV(f)
	if err != nil {
		t.Fatalf("could not read WAV file: %+v", err)
	}
	if got, want := sr, 48000; got != want {
		t.Fatalf("invalid sample rate: got=%d, want=%d", got, want)
	}
	sig := ltcwav.Signal{Rate: ltc.Rate25, SampleRate: sr}
	frames := sig.Decode(samples)
	if got, want := len(frames), 25; got != want {
		t.Fatalf("invalid number of frames: got=%d, want=%d", got, want)
	}
	if got, want := frames[0].Timecode, ltc.Compose(10, 0, 0, 1); got != want {
		t.Fatalf("invalid first frame: got=%v, want=%v", got, want)
	}
	if got, want := frames[0].Sample, 1648+16; got != want {
		t.Fatalf("invalid first frame sample: got=%d, want=%d", got, want)
	}
}

func TestSimIncoming(t *testing.T) {
	s := newTestSim(t, newConfig(), nil)
	defer s.close()

	var (
		t0 = time.Date(2021, 4, 1, 10, 0, 0, 0, time.UTC)
		dt = 40 * time.Millisecond
	)

	act, err := s.periodElapsed(t0)
	if err != nil {
		t.Fatalf("could not run period: %+v", err)
	}
	if act.InChanged {
		t.Fatalf("unexpected input change")
	}

	s.frameReceived(t0)
	act, err = s.periodElapsed(t0)
	if err != nil {
		t.Fatalf("could not run period: %+v", err)
	}
	if !act.InChanged {
		t.Fatalf("input change not reported")
	}
	st := s.sess.Status()
	if got, want := st.In, ltc.Compose(10, 0, 0, 1); got != want {
		t.Fatalf("invalid incoming time code: got=%v, want=%v", got, want)
	}
	if got, want := st.InFrame, uint64(256); got != want {
		t.Fatalf("invalid incoming frame: got=%d, want=%d", got, want)
	}
	if !st.InValid || !st.Lock {
		t.Fatalf("invalid status flags: %+v", st)
	}

	for i := 1; i <= tco.NumDurations; i++ {
		s.frameReceived(t0.Add(time.Duration(i) * dt))
		act, err = s.periodElapsed(t0)
		if err != nil {
			t.Fatalf("could not run period: %+v", err)
		}
	}
	if !act.PullChanged {
		t.Fatalf("pull factor change not reported")
	}
	st = s.sess.Status()
	if !st.PullValid || st.Pull != 1000 {
		t.Fatalf("invalid pull factor: got=%d (valid=%v), want=1000", st.Pull, st.PullValid)
	}
	if got, want := s.hist.Entries(), int64(tco.NumDurations); got != want {
		t.Fatalf("invalid number of histogram entries: got=%d, want=%d", got, want)
	}

	out := new(bytes.Buffer)
	s.out = out
	s.histo()
	s.status()
	for _, want := range []string{
		"incoming frames: n=60, mean=40.000 ms",
		"pull=1000 (25.000 fps)",
	} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("missing %q in output:\n%s", want, out.String())
		}
	}
}

func TestFrameDuration(t *testing.T) {
	cfg := newConfig()
	cfg.Input.Format = "29.97 dfps"
	cfg.Input.Pull = 1001
	s := newTestSim(t, cfg, nil)
	defer s.close()

	if got, want := s.frameDuration(), time.Duration(int64(1e15)/(30*999*1001)); got != want {
		t.Fatalf("invalid frame duration: got=%v, want=%v", got, want)
	}
	if got, want := s.interrupt(), 256*time.Second/48000; got != want {
		t.Fatalf("invalid interrupt interval: got=%v, want=%v", got, want)
	}
}

type script struct {
	lines []string
	hist  []string
	delay time.Duration
}

func (sc *script) Prompt(p string) (string, error) {
	time.Sleep(sc.delay)
	if len(sc.lines) == 0 {
		return "", io.EOF
	}
	line := sc.lines[0]
	sc.lines = sc.lines[1:]
	return line, nil
}

func (sc *script) AppendHistory(item string) { sc.hist = append(sc.hist, item) }
func (sc *script) Close() error              { return nil }

func TestRun(t *testing.T) {
	for _, tc := range []struct {
		name  string
		lines []string
	}{
		{"quit", []string{"start 10:00:00:00", "", "status", "quit"}},
		{"eof", []string{"status"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var (
				out = new(bytes.Buffer)
				cfg = newConfig()
				sc  = &script{lines: tc.lines, delay: 20 * time.Millisecond}
			)
			err := run(context.Background(), cfg, sc, out)
			if err != nil {
				t.Fatalf("could not run simulator: %+v", err)
			}
			for _, want := range []string{"input:", "output:"} {
				if !strings.Contains(out.String(), want) {
					t.Fatalf("missing %q in output:\n%s", want, out.String())
				}
			}
			var want []string
			for _, line := range tc.lines {
				if line != "" {
					want = append(want, line)
				}
			}
			if got := sc.hist; strings.Join(got, "|") != strings.Join(want, "|") {
				t.Fatalf("invalid history: got=%q, want=%q", got, want)
			}
		})
	}
}

// stalled is a console whose prompt only returns once closed.
type stalled struct {
	quit chan struct{}
}

func (c *stalled) Prompt(p string) (string, error) {
	<-c.quit
	return "", io.EOF
}

func (c *stalled) AppendHistory(item string) {}
func (c *stalled) Close() error {
	close(c.quit)
	return nil
}

func TestRunFailure(t *testing.T) {
	var (
		cfg  = newConfig()
		term = &stalled{quit: make(chan struct{})}
		errc = make(chan error, 1)
	)
	cfg.Metrics = "127.0.0.1:99999"

	go func() {
		errc <- run(context.Background(), cfg, term, io.Discard)
	}()

	select {
	case err := <-errc:
		if err == nil {
			t.Fatalf("expected an error")
		}
		if got, want := err.Error(), "could not serve metrics"; !strings.Contains(got, want) {
			t.Fatalf("invalid error: got=%q, want=%q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("simulator failure not noticed while prompting")
	}
}
