// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package codec implements the scalar wire encoding used inside store
// records: varints (zig-zag for signed types), fixed-width words, and
// length-prefixed byte strings.  Every encoder has a matching size
// helper so callers can allocate an exact buffer up front.
package codec

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrTruncated is returned when a decode would read past the end of its
// input.  Callers treat it as "this record is malformed" and fall back to
// their typed default.
var ErrTruncated = errors.New("codec: truncated input")

const (
	BoolSize    = 1
	Fixed32Size = 4
	Fixed64Size = 8
	FloatSize   = Fixed32Size
	DoubleSize  = Fixed64Size
)

// UvarintSize returns the encoded length of v as an unsigned varint.
func UvarintSize(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// VarintSize returns the encoded length of v as a zig-zag varint.
func VarintSize(v int64) int {
	uv := uint64(v) << 1
	if v < 0 {
		uv = ^uv
	}
	return UvarintSize(uv)
}

// BytesSize returns the encoded length of a length-prefixed byte string
// of n bytes.
func BytesSize(n int) int {
	return UvarintSize(uint64(n)) + n
}

// Output encodes scalars into a caller-supplied buffer.  Scalar and
// length-prefix writes past the end of the buffer panic, while the byte
// payloads of WriteBytes and WriteRaw are copied only as far as they
// fit; callers size the buffer with the *Size helpers before encoding.
type Output struct {
	buf []byte
	pos int
}

func NewOutput(buf []byte) *Output {
	return &Output{buf: buf}
}

// Pos returns the number of bytes written so far.
func (o *Output) Pos() int {
	return o.pos
}

func (o *Output) WriteUvarint(v uint64) {
	o.pos += binary.PutUvarint(o.buf[o.pos:], v)
}

func (o *Output) WriteVarint(v int64) {
	o.pos += binary.PutVarint(o.buf[o.pos:], v)
}

func (o *Output) WriteUint32(v uint32) {
	o.WriteUvarint(uint64(v))
}

func (o *Output) WriteUint64(v uint64) {
	o.WriteUvarint(v)
}

func (o *Output) WriteInt32(v int32) {
	o.WriteVarint(int64(v))
}

func (o *Output) WriteInt64(v int64) {
	o.WriteVarint(v)
}

func (o *Output) WriteBool(v bool) {
	if v {
		o.buf[o.pos] = 1
	} else {
		o.buf[o.pos] = 0
	}
	o.pos++
}

func (o *Output) WriteFixed32(v uint32) {
	binary.LittleEndian.PutUint32(o.buf[o.pos:], v)
	o.pos += Fixed32Size
}

func (o *Output) WriteFixed64(v uint64) {
	binary.LittleEndian.PutUint64(o.buf[o.pos:], v)
	o.pos += Fixed64Size
}

func (o *Output) WriteFloat(v float32) {
	o.WriteFixed32(math.Float32bits(v))
}

func (o *Output) WriteDouble(v float64) {
	o.WriteFixed64(math.Float64bits(v))
}

// WriteBytes writes a length-prefixed byte string.
func (o *Output) WriteBytes(b []byte) {
	o.WriteUvarint(uint64(len(b)))
	o.pos += copy(o.buf[o.pos:], b)
}

// WriteRaw writes b with no length prefix.
func (o *Output) WriteRaw(b []byte) {
	o.pos += copy(o.buf[o.pos:], b)
}

// Input decodes scalars from a byte slice, typically a view over one
// live record in the mapping.
type Input struct {
	buf []byte
	pos int
}

func NewInput(buf []byte) *Input {
	return &Input{buf: buf}
}

// Pos returns the number of bytes consumed so far.
func (in *Input) Pos() int {
	return in.pos
}

// Remaining returns the number of unread bytes.
func (in *Input) Remaining() int {
	return len(in.buf) - in.pos
}

func (in *Input) ReadUvarint() (uint64, error) {
	v, n := binary.Uvarint(in.buf[in.pos:])
	if n <= 0 {
		return 0, ErrTruncated
	}
	in.pos += n
	return v, nil
}

func (in *Input) ReadVarint() (int64, error) {
	v, n := binary.Varint(in.buf[in.pos:])
	if n <= 0 {
		return 0, ErrTruncated
	}
	in.pos += n
	return v, nil
}

func (in *Input) ReadUint32() (uint32, error) {
	v, err := in.ReadUvarint()
	return uint32(v), err
}

func (in *Input) ReadUint64() (uint64, error) {
	return in.ReadUvarint()
}

func (in *Input) ReadInt32() (int32, error) {
	v, err := in.ReadVarint()
	return int32(v), err
}

func (in *Input) ReadInt64() (int64, error) {
	return in.ReadVarint()
}

func (in *Input) ReadBool() (bool, error) {
	if in.pos >= len(in.buf) {
		return false, ErrTruncated
	}
	b := in.buf[in.pos]
	in.pos++
	return b != 0, nil
}

func (in *Input) ReadFixed32() (uint32, error) {
	if in.Remaining() < Fixed32Size {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint32(in.buf[in.pos:])
	in.pos += Fixed32Size
	return v, nil
}

func (in *Input) ReadFixed64() (uint64, error) {
	if in.Remaining() < Fixed64Size {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint64(in.buf[in.pos:])
	in.pos += Fixed64Size
	return v, nil
}

func (in *Input) ReadFloat() (float32, error) {
	v, err := in.ReadFixed32()
	return math.Float32frombits(v), err
}

func (in *Input) ReadDouble() (float64, error) {
	v, err := in.ReadFixed64()
	return math.Float64frombits(v), err
}

// ReadBytes reads a length-prefixed byte string.  The returned slice
// aliases the input buffer.
func (in *Input) ReadBytes() ([]byte, error) {
	n, err := in.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(in.Remaining()) {
		return nil, ErrTruncated
	}
	b := in.buf[in.pos : in.pos+int(n)]
	in.pos += int(n)
	return b, nil
}
