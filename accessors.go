// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package pagekv

import (
	"github.com/golang/snappy"

	"github.com/pagekv/pagekv/internal/codec"
	"github.com/pagekv/pagekv/internal/filelock"
	"github.com/pagekv/pagekv/internal/unsafestring"
)

// setValue appends one encoded value under key.  An empty value removes
// the key.
func (kv *Store) setValue(key string, value []byte) error {
	if key == "" {
		return ErrKeyEmpty
	}
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.checkValid(); err != nil {
		return err
	}
	return kv.withExclusiveLock(func() error {
		if err := kv.checkLoadData(); err != nil {
			return err
		}
		return kv.setDataForKey(key, value)
	})
}

// getValue returns a private copy of the encoded value for key.  The
// second return is false when the key is absent or the store unusable.
func (kv *Store) getValue(key string) ([]byte, bool) {
	if key == "" {
		return nil, false
	}
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.checkValid() != nil {
		return nil, false
	}
	if kv.multiProcess {
		if err := kv.procLock.Lock(filelock.Shared); err != nil {
			return nil, false
		}
		defer kv.procLock.Unlock(filelock.Shared)
	}
	if err := kv.checkLoadData(); err != nil {
		log.Errorf("store %s: load before read: %v", kv.id, err)
		return nil, false
	}
	data := kv.getDataForKey(key)
	if data == nil {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

func (kv *Store) SetBool(key string, value bool) error {
	buf := make([]byte, codec.BoolSize)
	codec.NewOutput(buf).WriteBool(value)
	return kv.setValue(key, buf)
}

func (kv *Store) SetInt32(key string, value int32) error {
	buf := make([]byte, codec.VarintSize(int64(value)))
	codec.NewOutput(buf).WriteInt32(value)
	return kv.setValue(key, buf)
}

func (kv *Store) SetUint32(key string, value uint32) error {
	buf := make([]byte, codec.UvarintSize(uint64(value)))
	codec.NewOutput(buf).WriteUint32(value)
	return kv.setValue(key, buf)
}

func (kv *Store) SetInt64(key string, value int64) error {
	buf := make([]byte, codec.VarintSize(value))
	codec.NewOutput(buf).WriteInt64(value)
	return kv.setValue(key, buf)
}

func (kv *Store) SetUint64(key string, value uint64) error {
	buf := make([]byte, codec.UvarintSize(value))
	codec.NewOutput(buf).WriteUint64(value)
	return kv.setValue(key, buf)
}

func (kv *Store) SetFloat32(key string, value float32) error {
	buf := make([]byte, codec.FloatSize)
	codec.NewOutput(buf).WriteFloat(value)
	return kv.setValue(key, buf)
}

func (kv *Store) SetFloat64(key string, value float64) error {
	buf := make([]byte, codec.DoubleSize)
	codec.NewOutput(buf).WriteDouble(value)
	return kv.setValue(key, buf)
}

// SetString stores value under key.  An empty string removes the key.
func (kv *Store) SetString(key, value string) error {
	return kv.setValue(key, unsafestring.ToBytes(value))
}

// SetBytes stores value under key.  An empty or nil value removes the
// key.
func (kv *Store) SetBytes(key string, value []byte) error {
	return kv.setValue(key, value)
}

// SetStringSlice stores values as concatenated length-prefixed strings.
func (kv *Store) SetStringSlice(key string, values []string) error {
	total := 0
	for _, s := range values {
		total += codec.BytesSize(len(s))
	}
	buf := make([]byte, total)
	out := codec.NewOutput(buf)
	for _, s := range values {
		out.WriteBytes(unsafestring.ToBytes(s))
	}
	return kv.setValue(key, buf)
}

// SetBytesCompressed snappy-compresses value before storing it.  Read
// it back with GetBytesCompressed.
func (kv *Store) SetBytesCompressed(key string, value []byte) error {
	if len(value) == 0 {
		return kv.setValue(key, nil)
	}
	return kv.setValue(key, snappy.Encode(nil, value))
}

func (kv *Store) GetBool(key string) bool {
	return kv.GetBoolWithDefault(key, false)
}

func (kv *Store) GetBoolWithDefault(key string, def bool) bool {
	data, ok := kv.getValue(key)
	if !ok {
		return def
	}
	v, err := codec.NewInput(data).ReadBool()
	if err != nil {
		log.Errorf("store %s: decode bool %q: %v", kv.id, key, err)
		return def
	}
	return v
}

func (kv *Store) GetInt32(key string) int32 {
	return kv.GetInt32WithDefault(key, 0)
}

func (kv *Store) GetInt32WithDefault(key string, def int32) int32 {
	data, ok := kv.getValue(key)
	if !ok {
		return def
	}
	v, err := codec.NewInput(data).ReadInt32()
	if err != nil {
		log.Errorf("store %s: decode int32 %q: %v", kv.id, key, err)
		return def
	}
	return v
}

func (kv *Store) GetUint32(key string) uint32 {
	return kv.GetUint32WithDefault(key, 0)
}

func (kv *Store) GetUint32WithDefault(key string, def uint32) uint32 {
	data, ok := kv.getValue(key)
	if !ok {
		return def
	}
	v, err := codec.NewInput(data).ReadUint32()
	if err != nil {
		log.Errorf("store %s: decode uint32 %q: %v", kv.id, key, err)
		return def
	}
	return v
}

func (kv *Store) GetInt64(key string) int64 {
	return kv.GetInt64WithDefault(key, 0)
}

func (kv *Store) GetInt64WithDefault(key string, def int64) int64 {
	data, ok := kv.getValue(key)
	if !ok {
		return def
	}
	v, err := codec.NewInput(data).ReadInt64()
	if err != nil {
		log.Errorf("store %s: decode int64 %q: %v", kv.id, key, err)
		return def
	}
	return v
}

func (kv *Store) GetUint64(key string) uint64 {
	return kv.GetUint64WithDefault(key, 0)
}

func (kv *Store) GetUint64WithDefault(key string, def uint64) uint64 {
	data, ok := kv.getValue(key)
	if !ok {
		return def
	}
	v, err := codec.NewInput(data).ReadUint64()
	if err != nil {
		log.Errorf("store %s: decode uint64 %q: %v", kv.id, key, err)
		return def
	}
	return v
}

func (kv *Store) GetFloat32(key string) float32 {
	return kv.GetFloat32WithDefault(key, 0)
}

func (kv *Store) GetFloat32WithDefault(key string, def float32) float32 {
	data, ok := kv.getValue(key)
	if !ok {
		return def
	}
	v, err := codec.NewInput(data).ReadFloat()
	if err != nil {
		log.Errorf("store %s: decode float32 %q: %v", kv.id, key, err)
		return def
	}
	return v
}

func (kv *Store) GetFloat64(key string) float64 {
	return kv.GetFloat64WithDefault(key, 0)
}

func (kv *Store) GetFloat64WithDefault(key string, def float64) float64 {
	data, ok := kv.getValue(key)
	if !ok {
		return def
	}
	v, err := codec.NewInput(data).ReadDouble()
	if err != nil {
		log.Errorf("store %s: decode float64 %q: %v", kv.id, key, err)
		return def
	}
	return v
}

func (kv *Store) GetString(key string) string {
	return kv.GetStringWithDefault(key, "")
}

func (kv *Store) GetStringWithDefault(key, def string) string {
	data, ok := kv.getValue(key)
	if !ok {
		return def
	}
	return string(data)
}

// GetBytes returns the stored value, nil when absent.  The slice is a
// private copy.
func (kv *Store) GetBytes(key string) []byte {
	data, ok := kv.getValue(key)
	if !ok {
		return nil
	}
	return data
}

// GetStringSlice decodes a value written by SetStringSlice, nil when
// absent or malformed.
func (kv *Store) GetStringSlice(key string) []string {
	data, ok := kv.getValue(key)
	if !ok {
		return nil
	}
	var values []string
	in := codec.NewInput(data)
	for in.Remaining() > 0 {
		b, err := in.ReadBytes()
		if err != nil {
			log.Errorf("store %s: decode string slice %q: %v", kv.id, key, err)
			return nil
		}
		values = append(values, string(b))
	}
	return values
}

// GetBytesCompressed decompresses a value written by
// SetBytesCompressed, nil when absent or malformed.
func (kv *Store) GetBytesCompressed(key string) []byte {
	data, ok := kv.getValue(key)
	if !ok {
		return nil
	}
	out, err := snappy.Decode(nil, data)
	if err != nil {
		log.Errorf("store %s: decompress %q: %v", kv.id, key, err)
		return nil
	}
	return out
}
