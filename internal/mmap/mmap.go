// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap gives access to memory-mapped register windows.
package mmap // import "github.com/go-lpc/hdspe/internal/mmap"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")
)

// Window is a memory-mapped register window.
type Window struct {
	data []byte
}

// Open maps size bytes of the named device file, starting at offset.
func Open(fname string, offset int64, size int) (*Window, error) {
	f, err := os.OpenFile(fname, os.O_RDWR|os.O_SYNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not open %q: %w", fname, err)
	}
	defer f.Close()

	data, err := unix.Mmap(
		int(f.Fd()), offset, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not mmap %q: %w", fname, err)
	}
	if len(data) != size {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("mmap: invalid mmap'd data: %d", len(data))
	}
	return newWindow(data), nil
}

// Anon creates an anonymous, zero-filled, window of size bytes.
func Anon(size int) (*Window, error) {
	data, err := unix.Mmap(
		-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_SHARED,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not create anonymous mapping: %w", err)
	}
	return newWindow(data), nil
}

func newWindow(data []byte) *Window {
	w := &Window{data: data}
	runtime.SetFinalizer(w, (*Window).Close)
	return w
}

// Close unmaps the window.
func (w *Window) Close() error {
	if w == nil {
		return os.ErrInvalid
	}

	if w.data == nil {
		return nil
	}
	data := w.data
	w.data = nil
	runtime.SetFinalizer(w, nil)

	return unix.Munmap(data)
}

// Len returns the size of the window.
func (w *Window) Len() int {
	return len(w.data)
}

func (w *Window) check(off int64, n int, op string) error {
	if w == nil {
		return os.ErrInvalid
	}
	if w.data == nil {
		return errClosed
	}
	if off < 0 || int64(len(w.data)) < off+int64(n) {
		return fmt.Errorf("mmap: invalid %s offset %d", op, off)
	}
	return nil
}

// ReadAt implements the io.ReaderAt interface.
func (w *Window) ReadAt(p []byte, off int64) (int, error) {
	err := w.check(off, 0, "ReadAt")
	if err != nil {
		return 0, err
	}
	n := copy(p, w.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements the io.WriterAt interface.
func (w *Window) WriteAt(p []byte, off int64) (int, error) {
	err := w.check(off, 0, "WriteAt")
	if err != nil {
		return 0, err
	}
	n := copy(w.data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Uint32 reads the little-endian 32-bit register at off.
func (w *Window) Uint32(off int64) (uint32, error) {
	err := w.check(off, 4, "Uint32")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(w.data[off:]), nil
}

// PutUint32 writes v to the little-endian 32-bit register at off.
func (w *Window) PutUint32(off int64, v uint32) error {
	err := w.check(off, 4, "PutUint32")
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(w.data[off:], v)
	return nil
}

var (
	_ io.ReaderAt = (*Window)(nil)
	_ io.WriterAt = (*Window)(nil)
	_ io.Closer   = (*Window)(nil)
)
