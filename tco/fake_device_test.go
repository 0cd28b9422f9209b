// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tco

import (
	"encoding/binary"
	"fmt"
	"io"
)

// fakeWindow is an in-memory TCO register window.
type fakeWindow struct {
	mem [WindowSize]byte

	reads  int
	onRead func(w *fakeWindow, off int64) // called before each read
	fail   error
	rfail  error // read-only failure
}

func (w *fakeWindow) ReadAt(p []byte, off int64) (int, error) {
	if w.fail != nil {
		return 0, w.fail
	}
	if w.rfail != nil {
		return 0, w.rfail
	}
	if off < 0 || off+int64(len(p)) > int64(len(w.mem)) {
		return 0, fmt.Errorf("fake: invalid read offset %d", off)
	}
	w.reads++
	if w.onRead != nil {
		w.onRead(w, off)
	}
	return copy(p, w.mem[off:]), nil
}

func (w *fakeWindow) WriteAt(p []byte, off int64) (int, error) {
	if w.fail != nil {
		return 0, w.fail
	}
	if off < 0 || off+int64(len(p)) > int64(len(w.mem)) {
		return 0, fmt.Errorf("fake: invalid write offset %d", off)
	}
	return copy(w.mem[off:], p), nil
}

func (w *fakeWindow) u32(off int64) uint32 {
	return binary.LittleEndian.Uint32(w.mem[off:])
}

func (w *fakeWindow) setU32(off int64, v uint32) {
	binary.LittleEndian.PutUint32(w.mem[off:], v)
}

func (w *fakeWindow) ctrl(i int) uint32 { return w.u32(RegControl + 4*int64(i)) }

func (w *fakeWindow) setStatus(snap Snapshot) {
	tc, st := EncodeStatus(snap)
	w.setU32(RegStatus+0, tc)
	w.setU32(RegStatus+4, st)
}

var (
	_ io.ReaderAt = (*fakeWindow)(nil)
	_ io.WriterAt = (*fakeWindow)(nil)
)
