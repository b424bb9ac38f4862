// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package pagekv

import (
	"errors"
)

var (
	// ErrEmptyID is returned by Open when the instance id is empty.
	ErrEmptyID = errors.New("pagekv: empty instance id")
	// ErrKeyEmpty is returned by operations given an empty key.
	ErrKeyEmpty = errors.New("pagekv: empty key")
	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("pagekv: store is closed")
	// ErrFileInvalid is returned when the mapping is unusable after an
	// I/O failure.
	ErrFileInvalid = errors.New("pagekv: data file invalid")
)

// ErrorKind identifies a recoverable load-time corruption.
type ErrorKind int

const (
	// CRCCheckFail means the payload CRC did not match the sidecar.
	CRCCheckFail ErrorKind = iota
	// FileLengthError means the recorded payload length exceeds the file.
	FileLengthError
)

func (k ErrorKind) String() string {
	switch k {
	case CRCCheckFail:
		return "crc-check-fail"
	case FileLengthError:
		return "file-length-error"
	default:
		return "unknown"
	}
}

// RecoverStrategy is an error handler's verdict on a corrupted store.
type RecoverStrategy int

const (
	// OnErrorDiscard resets the store to empty.
	OnErrorDiscard RecoverStrategy = iota
	// OnErrorContinue keeps whatever prefix of the log still parses.
	OnErrorContinue
)

// ErrorHandler decides how to recover a store whose on-disk state
// failed validation at load time.
type ErrorHandler func(id string, kind ErrorKind) RecoverStrategy

// ContentChangeHandler is invoked with the store id after this process
// appends or rewrites the store.
type ContentChangeHandler func(id string)
