// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package meta defines the fixed-layout sidecar record stored next to a
// data file (the ".crc" file).  The record describes the live payload
// prefix: its CRC, the format version, a write-back sequence number and
// the AES-CFB IVs.  On disk the record occupies one page; only the
// first Size bytes carry data and all integers are little-endian.
package meta

import (
	"encoding/binary"
	"fmt"
)

const (
	// Version1 has no IV, Version2 adds the random IV, Version3 adds
	// the backup IV and the write-back sequence.
	Version1 = 1
	Version2 = 2
	Version3 = 3

	IVSize = 16

	// Size is the packed byte length:
	// crc(4) | version(4) | sequence(4) | iv(16) | backupIV(16)
	Size = 4 + 4 + 4 + IVSize + IVSize
)

// Info is the decoded sidecar record.
type Info struct {
	CRC      uint32
	Version  uint32
	Sequence uint32
	IV       [IVSize]byte
	BackupIV [IVSize]byte
}

// MarshalBytes packs the record into buf.
func (i *Info) MarshalBytes(buf []byte) error {
	if len(buf) < Size {
		return fmt.Errorf("meta buffer too short: %d < %d", len(buf), Size)
	}
	binary.LittleEndian.PutUint32(buf[0:4], i.CRC)
	binary.LittleEndian.PutUint32(buf[4:8], i.Version)
	binary.LittleEndian.PutUint32(buf[8:12], i.Sequence)
	copy(buf[12:12+IVSize], i.IV[:])
	copy(buf[12+IVSize:Size], i.BackupIV[:])
	return nil
}

// UnmarshalBytes unpacks the record from buf.  Fields beyond the stored
// version are left zero.
func (i *Info) UnmarshalBytes(buf []byte) error {
	if len(buf) < Size {
		return fmt.Errorf("meta buffer too short: %d < %d", len(buf), Size)
	}
	i.CRC = binary.LittleEndian.Uint32(buf[0:4])
	i.Version = binary.LittleEndian.Uint32(buf[4:8])
	i.Sequence = 0
	i.IV = [IVSize]byte{}
	i.BackupIV = [IVSize]byte{}
	if i.Version >= Version3 {
		i.Sequence = binary.LittleEndian.Uint32(buf[8:12])
	}
	if i.Version >= Version2 {
		copy(i.IV[:], buf[12:12+IVSize])
	}
	if i.Version >= Version3 {
		copy(i.BackupIV[:], buf[12+IVSize:Size])
	}
	return nil
}
