// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package meta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundtrip(t *testing.T) {
	in := Info{
		CRC:      0xdeadbeef,
		Version:  Version3,
		Sequence: 42,
	}
	for i := range in.IV {
		in.IV[i] = byte(i)
		in.BackupIV[i] = byte(0xf0 + i)
	}

	buf := make([]byte, Size)
	require.NoError(t, in.MarshalBytes(buf))

	var out Info
	require.NoError(t, out.UnmarshalBytes(buf))
	require.Equal(t, in, out)
}

func TestOlderVersionsGateFields(t *testing.T) {
	full := Info{CRC: 7, Version: Version3, Sequence: 9}
	full.IV[0] = 1
	full.BackupIV[0] = 2
	buf := make([]byte, Size)
	require.NoError(t, full.MarshalBytes(buf))

	// a v1 writer never stored sequence or IVs
	v1 := buf
	v1[4] = Version1
	var out Info
	require.NoError(t, out.UnmarshalBytes(v1))
	require.Equal(t, uint32(7), out.CRC)
	require.Zero(t, out.Sequence)
	require.Equal(t, [IVSize]byte{}, out.IV)
	require.Equal(t, [IVSize]byte{}, out.BackupIV)

	v1[4] = Version2
	require.NoError(t, out.UnmarshalBytes(v1))
	require.Zero(t, out.Sequence)
	require.Equal(t, byte(1), out.IV[0])
	require.Equal(t, [IVSize]byte{}, out.BackupIV)
}

func TestShortBuffer(t *testing.T) {
	var i Info
	require.Error(t, i.MarshalBytes(make([]byte, Size-1)))
	require.Error(t, i.UnmarshalBytes(make([]byte, Size-1)))
}
