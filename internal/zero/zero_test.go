// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package zero

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytes(t *testing.T) {
	for _, input := range [][]byte{
		nil,
		{},
		{'a', 'b', 'c'},
		make([]byte, 4096),
	} {
		initialLen := len(input)
		initialCap := cap(input)
		Bytes(input)
		want := make([]byte, initialLen)
		if input == nil {
			// Bytes cannot change a nil slice into a non-nil one
			want = nil
		}
		require.Equal(t, want, input)
		// len and cap should be unchanged
		require.Equal(t, initialLen, len(input))
		require.Equal(t, initialCap, cap(input))
	}
}

func TestBytesLeavesNeighbors(t *testing.T) {
	buf := []byte("abcdef")
	Bytes(buf[2:4])
	require.Equal(t, []byte{'a', 'b', 0, 0, 'e', 'f'}, buf)
}
