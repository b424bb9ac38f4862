// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package filelock wraps an advisory whole-file lock with per-mode
// recursion counters.  Kernel advisory locks are per-process and do not
// nest, so the counters bracket every acquire/release: re-entering
// Shared while holding Exclusive is a no-op, and the kernel lock is
// released only by the outermost holder.
package filelock

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Mode selects shared (reader) or exclusive (writer) locking.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Shared {
		return "shared"
	}
	return "exclusive"
}

// Lock is an advisory whole-file lock on one descriptor.  A disabled
// Lock counts recursion but never touches the kernel; stores opened in
// single-process mode use that form.
type Lock struct {
	fd      int
	enabled bool

	mu             sync.Mutex
	sharedCount    int
	exclusiveCount int
}

// New returns a lock over fd.  When enabled is false every operation
// succeeds without issuing syscalls.
func New(fd int, enabled bool) *Lock {
	return &Lock{fd: fd, enabled: enabled}
}

// Lock acquires the lock in the given mode, blocking until available.
func (l *Lock) Lock(mode Mode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lock(mode, true)
}

// TryLock attempts to acquire without blocking and reports success.
func (l *Lock) TryLock(mode Mode) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lock(mode, false) == nil
}

func (l *Lock) lock(mode Mode, wait bool) error {
	if mode == Shared {
		l.sharedCount++
		// an exclusive holder already covers shared access, and a
		// second shared holder rides the first one's kernel lock
		if l.exclusiveCount > 0 || l.sharedCount > 1 {
			return nil
		}
		return l.flock(unix.LOCK_SH, wait, func() { l.sharedCount-- })
	}

	l.exclusiveCount++
	if l.exclusiveCount > 1 {
		return nil
	}
	// upgrading from shared: flock converts the existing lock, but not
	// atomically; the shared lock is dropped before the exclusive one is
	// granted, so another process may take the lock in between
	return l.flock(unix.LOCK_EX, wait, func() { l.exclusiveCount-- })
}

// Unlock releases one level of the given mode.  The kernel lock is
// dropped (or downgraded back to shared) when the outermost holder of
// that mode releases.
func (l *Lock) Unlock(mode Mode) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if mode == Shared {
		if l.sharedCount == 0 {
			return fmt.Errorf("filelock: unbalanced shared unlock")
		}
		l.sharedCount--
		if l.sharedCount > 0 || l.exclusiveCount > 0 {
			return nil
		}
		return l.flock(unix.LOCK_UN, true, nil)
	}

	if l.exclusiveCount == 0 {
		return fmt.Errorf("filelock: unbalanced exclusive unlock")
	}
	l.exclusiveCount--
	if l.exclusiveCount > 0 {
		return nil
	}
	if l.sharedCount > 0 {
		// restore the shared lock an upgrader converted away
		return l.flock(unix.LOCK_SH, true, nil)
	}
	return l.flock(unix.LOCK_UN, true, nil)
}

func (l *Lock) flock(how int, wait bool, undo func()) error {
	if !l.enabled {
		return nil
	}
	if !wait {
		how |= unix.LOCK_NB
	}
	for {
		err := unix.Flock(l.fd, how)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if undo != nil {
				undo()
			}
			return fmt.Errorf("unix.Flock(%d): %w", how, err)
		}
		return nil
	}
}
