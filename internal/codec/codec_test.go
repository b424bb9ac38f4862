// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScalarRoundtrip(t *testing.T) {
	size := UvarintSize(300) + VarintSize(-7) + BoolSize + FloatSize + DoubleSize +
		UvarintSize(1<<40) + VarintSize(-1<<40)
	buf := make([]byte, size)
	out := NewOutput(buf)
	out.WriteUvarint(300)
	out.WriteVarint(-7)
	out.WriteBool(true)
	out.WriteFloat(3.5)
	out.WriteDouble(-0.25)
	out.WriteUint64(1 << 40)
	out.WriteInt64(-1 << 40)
	require.Equal(t, size, out.Pos())

	in := NewInput(buf)
	u, err := in.ReadUvarint()
	require.NoError(t, err)
	require.Equal(t, uint64(300), u)
	v, err := in.ReadVarint()
	require.NoError(t, err)
	require.Equal(t, int64(-7), v)
	b, err := in.ReadBool()
	require.NoError(t, err)
	require.True(t, b)
	f, err := in.ReadFloat()
	require.NoError(t, err)
	require.Equal(t, float32(3.5), f)
	d, err := in.ReadDouble()
	require.NoError(t, err)
	require.Equal(t, -0.25, d)
	u64, err := in.ReadUint64()
	require.NoError(t, err)
	require.Equal(t, uint64(1<<40), u64)
	i64, err := in.ReadInt64()
	require.NoError(t, err)
	require.Equal(t, int64(-1<<40), i64)
	require.Zero(t, in.Remaining())
}

func TestBytesRoundtrip(t *testing.T) {
	payload := []byte("hello, mapped world")
	buf := make([]byte, BytesSize(len(payload)))
	out := NewOutput(buf)
	out.WriteBytes(payload)
	require.Equal(t, len(buf), out.Pos())

	in := NewInput(buf)
	got, err := in.ReadBytes()
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Zero(t, in.Remaining())
}

func TestBytesAliasesInput(t *testing.T) {
	buf := make([]byte, BytesSize(3))
	NewOutput(buf).WriteBytes([]byte{1, 2, 3})

	got, err := NewInput(buf).ReadBytes()
	require.NoError(t, err)
	buf[1] = 9
	require.Equal(t, byte(9), got[0])
}

func TestTruncatedReads(t *testing.T) {
	_, err := NewInput(nil).ReadUvarint()
	require.ErrorIs(t, err, ErrTruncated)

	_, err = NewInput([]byte{0x80}).ReadUvarint()
	require.ErrorIs(t, err, ErrTruncated)

	_, err = NewInput([]byte{1, 2, 3}).ReadFixed32()
	require.ErrorIs(t, err, ErrTruncated)

	// declared length runs past the buffer
	buf := make([]byte, 2)
	NewOutput(buf).WriteUvarint(200)
	_, err = NewInput(buf).ReadBytes()
	require.ErrorIs(t, err, ErrTruncated)
}

func TestSizeHelpersMatchEncoders(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 21, 1<<63 - 1} {
		buf := make([]byte, UvarintSize(v))
		out := NewOutput(buf)
		out.WriteUvarint(v)
		require.Equal(t, len(buf), out.Pos(), "uvarint %d", v)
	}
	for _, v := range []int64{0, -1, 1, 63, -64, 64, 1 << 40, -1 << 40} {
		buf := make([]byte, VarintSize(v))
		out := NewOutput(buf)
		out.WriteVarint(v)
		require.Equal(t, len(buf), out.Pos(), "varint %d", v)
	}
}
