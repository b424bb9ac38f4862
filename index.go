// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package pagekv

import (
	"github.com/pagekv/pagekv/internal/aescfb"
)

// The key index comes in two shapes, one per store mode.  Exactly one
// of Store.plain / Store.crypt is non-nil; read and write paths
// dispatch on which.

// plainEntry locates one live record inside the payload.  The value
// bytes always end the record, so their start is size-valueLen.
type plainEntry struct {
	offset   int // payload-relative record start
	size     int // total encoded record length
	valueLen int // decoded value payload length
}

// cryptEntry additionally carries the cipher stream state at the
// record's payload offset, so decrypting this one record never replays
// the log, plus an inline plaintext copy for small values.
type cryptEntry struct {
	offset   int
	size     int
	valueLen int
	state    aescfb.Checkpoint
	cached   []byte // decrypted value bytes, only for records <= smallValueCacheLimit
}

// records at or under this total length keep their plaintext inline in
// the index, skipping per-get decryption
const smallValueCacheLimit = 32
