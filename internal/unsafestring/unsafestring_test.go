// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package unsafestring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToBytes(t *testing.T) {
	for _, input := range []string{
		"",
		"abc",
		"null \x00 byte",
		"smiley ☺",
	} {
		allocs := testing.AllocsPerRun(1, func() {
			b := ToBytes(input)
			if input != string(b) {
				t.Fatal("expected contents equal")
			}
			// len and cap should match the string
			if len(input) != len(b) || len(input) != cap(b) {
				t.Fatal("expected len and cap to match the string")
			}
		})
		require.Zero(t, allocs)
	}
}

func TestToBytesEmptyIsNil(t *testing.T) {
	require.Nil(t, ToBytes(""))
}
