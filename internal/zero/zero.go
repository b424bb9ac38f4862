// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package zero scrubs byte slices.  Used to clear the reclaimed tail of
// the mapping after a write-back shrinks the payload, so stale records
// never survive past the recorded size.
package zero

// Bytes overwrites b with zeroes.
func Bytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
