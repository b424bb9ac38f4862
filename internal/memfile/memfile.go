// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package memfile owns a file descriptor plus a writable shared mmap of
// its contents.  Growth and truncation always land on page multiples;
// a failed grow leaves the previous mapping and size intact.
package memfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var pageSize = int64(os.Getpagesize())

// PageSize reports the system page size used for rounding.
func PageSize() int64 {
	return pageSize
}

// RoundPage rounds n up to the next multiple of the page size.  Zero
// rounds to one page.
func RoundPage(n int64) int64 {
	if n <= 0 {
		return pageSize
	}
	return (n + pageSize - 1) / pageSize * pageSize
}

// File is a memory-mapped file open for reading and writing.
type File struct {
	f    *os.File
	data []byte
	size int64
	path string
}

// Open opens (creating if necessary) path and maps it.  The file is
// extended to at least minSize, rounded up to a page multiple.
func Open(path string, minSize int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("os.OpenFile(%s): %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("f.Stat: %w", err)
	}

	size := st.Size()
	if want := RoundPage(minSize); size < want {
		// ftruncate extension zero-fills the new tail
		if err := f.Truncate(want); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("f.Truncate(%d): %w", want, err)
		}
		size = want
	} else if size%pageSize != 0 {
		want := RoundPage(size)
		if err := f.Truncate(want); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("f.Truncate(%d): %w", want, err)
		}
		size = want
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("unix.Mmap(%s, %d): %w", path, size, err)
	}

	return &File{f: f, data: data, size: size, path: path}, nil
}

// Bytes returns the mapped window.  The slice is invalidated by
// EnsureSize, Truncate and Close.
func (m *File) Bytes() []byte {
	return m.data
}

// Size returns the current mapped length, always a page multiple.
func (m *File) Size() int64 {
	return m.size
}

// Fd returns the underlying descriptor; the advisory file lock lives on
// the meta file's fd.
func (m *File) Fd() int {
	return int(m.f.Fd())
}

// Path returns the file's path.
func (m *File) Path() string {
	return m.path
}

// EnsureSize grows the file and remaps so that at least needed bytes
// are addressable.  No-op when needed already fits.
func (m *File) EnsureSize(needed int64) error {
	if needed <= m.size {
		return nil
	}
	return m.remap(RoundPage(needed))
}

// Truncate resizes the file to newSize rounded up to a page multiple
// and remaps.  Used by compaction to give space back.
func (m *File) Truncate(newSize int64) error {
	return m.remap(RoundPage(newSize))
}

// Remap refreshes the mapping after another process resized the backing
// file.  No-op when the on-disk size still matches the mapped size.
func (m *File) Remap() error {
	st, err := m.f.Stat()
	if err != nil {
		return fmt.Errorf("f.Stat: %w", err)
	}
	target := st.Size()
	if target == m.size || target == 0 {
		return nil
	}
	if err := unix.Munmap(m.data); err != nil {
		return fmt.Errorf("unix.Munmap: %w", err)
	}
	data, err := unix.Mmap(int(m.f.Fd()), 0, int(target), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		m.data = nil
		m.size = 0
		return fmt.Errorf("unix.Mmap(%s, %d): %w", m.path, target, err)
	}
	m.data = data
	m.size = target
	return nil
}

func (m *File) remap(target int64) error {
	if target == m.size {
		return nil
	}
	// grow the backing file first: if this fails the old mapping is
	// still fully valid
	if err := m.f.Truncate(target); err != nil {
		return fmt.Errorf("f.Truncate(%d): %w", target, err)
	}
	if target > m.size {
		// map the grown file before dropping the old window, so a failed
		// mmap also leaves the previous mapping and size intact
		data, err := unix.Mmap(int(m.f.Fd()), 0, int(target), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return fmt.Errorf("unix.Mmap(%s, %d): %w", m.path, target, err)
		}
		if err := unix.Munmap(m.data); err != nil {
			_ = unix.Munmap(data)
			return fmt.Errorf("unix.Munmap: %w", err)
		}
		m.data = data
		m.size = target
		return nil
	}
	if err := unix.Munmap(m.data); err != nil {
		return fmt.Errorf("unix.Munmap: %w", err)
	}
	data, err := unix.Mmap(int(m.f.Fd()), 0, int(target), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		m.data = nil
		m.size = 0
		return fmt.Errorf("unix.Mmap(%s, %d): %w", m.path, target, err)
	}
	m.data = data
	m.size = target
	return nil
}

// Msync flushes dirty pages.  async selects MS_ASYNC.
func (m *File) Msync(async bool) error {
	flag := unix.MS_SYNC
	if async {
		flag = unix.MS_ASYNC
	}
	if err := unix.Msync(m.data, flag); err != nil {
		return fmt.Errorf("unix.Msync: %w", err)
	}
	return nil
}

// Valid reports whether the mapping is usable.
func (m *File) Valid() bool {
	return m.data != nil
}

// Close unmaps and closes the file.  Dirty pages are flushed first.
func (m *File) Close() error {
	if m.data != nil {
		_ = unix.Msync(m.data, unix.MS_SYNC)
		if err := unix.Munmap(m.data); err != nil {
			return fmt.Errorf("unix.Munmap: %w", err)
		}
		m.data = nil
	}
	if m.f != nil {
		if err := m.f.Close(); err != nil {
			return fmt.Errorf("f.Close: %w", err)
		}
		m.f = nil
	}
	return nil
}
