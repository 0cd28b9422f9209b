// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command tco-spy spies the content of the TCO registers.
//
// Usage: tco-spy [OPTIONS]
//
// Example:
//
//	$> tco-spy -dev /dev/mem -offset 0xfe000000
package main // import "github.com/go-lpc/hdspe/cmd/tco-spy"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-lpc/hdspe/internal/mmap"
	"github.com/go-lpc/hdspe/tco"
)

func main() {
	var (
		fname  = flag.String("dev", "/dev/mem", "path to the device memory")
		offset = flag.Int64("offset", 0, "offset of the TCO register window")
	)

	flag.Parse()

	log.SetPrefix("tco-spy: ")
	log.SetFlags(0)

	err := spy(os.Stdout, *fname, *offset, time.Now())
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func spy(w io.Writer, fname string, offset int64, now time.Time) error {
	win, err := mmap.Open(fname, offset, tco.WindowSize)
	if err != nil {
		return fmt.Errorf("could not open device: %w", err)
	}
	defer win.Close()

	fmt.Fprintf(w, "------------------------------------------------\n")
	const layout = "2006-01-02 15:04:05 MST"
	fmt.Fprintf(w, "%v\n", now.Format(layout))

	err = tco.DumpRegisters(w, win)
	if err != nil {
		return fmt.Errorf("could not dump registers: %w", err)
	}
	return win.Close()
}
