// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command tco-sim simulates a sound card fitted with a Time Code Option
// module, driving the output time code from an interactive console.
//
// Usage: tco-sim [OPTIONS]
//
// Example:
//
//	$> tco-sim -cfg ./tco.yaml -metrics :9090 -wav ./out.wav
//	tco> start 10:00:00:00 +2
//	tco> status
//	tco> quit
package main // import "github.com/go-lpc/hdspe/cmd/tco-sim"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/peterh/liner"
)

func main() {
	var (
		fname   = flag.String("cfg", "", "path to YAML configuration file")
		addr    = flag.String("metrics", "", "address of the metrics endpoint (e.g. :9090)")
		wav     = flag.String("wav", "", "path to WAV file for the last output LTC")
		verbose = flag.Bool("v", false, "enable verbose mode")
	)

	flag.Parse()

	log.SetPrefix("tco-sim: ")
	log.SetFlags(0)

	cfg, err := loadConfig(*fname)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}
	if *addr != "" {
		cfg.Metrics = *addr
	}
	if *wav != "" {
		cfg.WAV = *wav
	}
	if *verbose {
		cfg.Verbose = true
	}

	term := liner.NewLiner()
	term.SetCtrlCAborts(true)

	err = run(context.Background(), cfg, term, os.Stdout)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

type console interface {
	Prompt(p string) (string, error)
	AppendHistory(item string)
	Close() error
}

type prompt struct {
	line string
	err  error
}

func run(ctx context.Context, cfg config, term console, stdout io.Writer) error {
	defer term.Close()

	lvl := tlog.LvlInfo
	if cfg.Verbose {
		lvl = tlog.LvlDebug
	}
	msg := tlog.NewMsgStream("tco-sim", lvl, stdout)

	s, err := newSim(cfg, msg, stdout)
	if err != nil {
		return fmt.Errorf("could not create simulator: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- s.run(ctx)
	}()

	// the console is read from its own goroutine so a failing simulator
	// is noticed while a prompt is pending.
	var (
		lines = make(chan prompt)
		next  = make(chan struct{})
		done  = make(chan struct{})
	)
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-next:
			}
			line, err := term.Prompt("tco> ")
			select {
			case <-done:
				return
			case lines <- prompt{line, err}:
			}
		}
	}()

loop:
	for {
		next <- struct{}{}

		var in prompt
		select {
		case err := <-errc:
			_ = s.close()
			return err
		case in = <-lines:
		}

		line, err := in.line, in.err
		switch {
		case err == nil:
		case errors.Is(err, liner.ErrPromptAborted), errors.Is(err, io.EOF):
			break loop
		default:
			log.Printf("could not read command: %+v", err)
			break loop
		}
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		err = s.exec(line)
		switch {
		case err == nil:
		case errors.Is(err, errQuit):
			break loop
		default:
			fmt.Fprintf(stdout, "error: %+v\n", err)
		}
	}

	cancel()
	err = <-errc
	s.histo()
	if e := s.close(); e != nil && err == nil {
		err = e
	}
	return err
}
