// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package unsafestring

import (
	"unsafe"
)

// ToBytes returns a byte slice referring to the contents of the input
// string, avoiding a copy on the hot set/get paths.
// SAFETY: the returned byte slice must never be written to, only read.
func ToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
