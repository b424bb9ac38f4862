// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package pagekv

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/pagekv/pagekv/internal/aescfb"
	"github.com/pagekv/pagekv/internal/codec"
	"github.com/pagekv/pagekv/internal/filelock"
	"github.com/pagekv/pagekv/internal/memfile"
	"github.com/pagekv/pagekv/internal/meta"
	"github.com/pagekv/pagekv/internal/unsafestring"
	"github.com/pagekv/pagekv/internal/zero"
)

// dataHeaderSize is the fixed prefix of the data file: a little-endian
// uint32 holding the payload byte count.
const dataHeaderSize = 4

// loadFromFile (re)builds the in-memory index from the mapped file.  The
// sidecar meta record is re-read first, so a reload picks up rewrites
// made by other processes.  Corruption is routed through the runtime's
// error handler; the default discards the store.
func (kv *Store) loadFromFile() error {
	if err := kv.metaInfo.UnmarshalBytes(kv.metaFile.Bytes()); err != nil {
		return fmt.Errorf("read meta: %w", err)
	}

	if kv.file == nil {
		f, err := memfile.Open(kv.path, memfile.PageSize())
		if err != nil {
			return err
		}
		kv.file = f
	} else if err := kv.file.Remap(); err != nil {
		return err
	}

	kv.resetIndex()
	kv.needLoad = false

	data := kv.file.Bytes()
	stored := int(binary.LittleEndian.Uint32(data[0:dataHeaderSize]))
	if dataHeaderSize+stored > len(data) {
		log.Errorf("store %s: recorded size %d exceeds file size %d", kv.id, stored, len(data))
		if kv.rt.onLoadError(kv.id, FileLengthError) == OnErrorDiscard {
			return kv.resetToEmpty()
		}
		stored = len(data) - dataHeaderSize
	}

	payload := data[dataHeaderSize : dataHeaderSize+stored]
	digest := crc32.ChecksumIEEE(payload)
	if stored > 0 && digest != kv.metaInfo.CRC {
		log.Errorf("store %s: crc mismatch, got %08x want %08x", kv.id, digest, kv.metaInfo.CRC)
		if kv.rt.onLoadError(kv.id, CRCCheckFail) == OnErrorDiscard {
			return kv.resetToEmpty()
		}
	}

	var consumed int
	if kv.crypter != nil {
		if stored == 0 && kv.metaInfo.IV == ([meta.IVSize]byte{}) {
			// fresh encrypted store: seed the IV before the first append
			if _, err := rand.Read(kv.metaInfo.IV[:]); err != nil {
				return fmt.Errorf("rand.Read: %w", err)
			}
			kv.persistMeta()
		}
		kv.crypter.ResetIV(kv.metaInfo.IV[:])
		consumed = kv.walkCrypt(payload, 0)
	} else {
		consumed = kv.walkPlain(payload, 0)
	}

	if consumed != stored {
		// keep the parsable prefix and drop the rest of the log
		log.Warnf("store %s: truncating unparsable tail, %d -> %d bytes", kv.id, stored, consumed)
		stored = consumed
		zero.Bytes(data[dataHeaderSize+stored:])
		binary.LittleEndian.PutUint32(data[0:dataHeaderSize], uint32(stored))
		digest = crc32.ChecksumIEEE(payload[:stored])
		kv.metaInfo.CRC = digest
		kv.metaInfo.Sequence++
		kv.persistMeta()
	}

	kv.actualSize = stored
	kv.crcDigest = digest
	log.Debugf("store %s: loaded %d bytes, %d keys", kv.id, stored, kv.countLocked())
	return nil
}

// checkLoadData refreshes the index before a read or write.  In
// single-process mode it only honors a pending reload; in multi-process
// mode it additionally compares the sidecar against the last state this
// process saw.  A changed sequence means another process rewrote the
// payload; a changed CRC with a grown payload means it only appended,
// and just the appended tail is walked.
func (kv *Store) checkLoadData() error {
	if kv.needLoad {
		return kv.loadFromFile()
	}
	if !kv.multiProcess {
		return nil
	}

	var onDisk meta.Info
	if err := onDisk.UnmarshalBytes(kv.metaFile.Bytes()); err != nil {
		return fmt.Errorf("read meta: %w", err)
	}
	if onDisk.Sequence == kv.metaInfo.Sequence && onDisk.CRC == kv.metaInfo.CRC {
		return nil
	}
	if onDisk.Sequence != kv.metaInfo.Sequence {
		return kv.loadFromFile()
	}

	if err := kv.file.Remap(); err != nil {
		return err
	}
	data := kv.file.Bytes()
	stored := int(binary.LittleEndian.Uint32(data[0:dataHeaderSize]))
	if stored <= kv.actualSize || dataHeaderSize+stored > len(data) {
		return kv.loadFromFile()
	}
	tail := data[dataHeaderSize+kv.actualSize : dataHeaderSize+stored]
	digest := crc32.Update(kv.crcDigest, crc32.IEEETable, tail)
	if digest != onDisk.CRC {
		return kv.loadFromFile()
	}

	var consumed int
	if kv.crypter != nil {
		consumed = kv.walkCrypt(tail, kv.actualSize)
	} else {
		consumed = kv.walkPlain(tail, kv.actualSize)
	}
	if consumed != len(tail) {
		return kv.loadFromFile()
	}
	kv.actualSize = stored
	kv.crcDigest = digest
	kv.metaInfo = onDisk
	return nil
}

// walkPlain replays a plaintext log segment into the index.  base is the
// segment's payload offset.  Returns the number of bytes that parsed;
// anything past that is garbage or zero fill.
func (kv *Store) walkPlain(payload []byte, base int) int {
	in := codec.NewInput(payload)
	for in.Remaining() > 0 {
		start := in.Pos()
		keyB, err := in.ReadBytes()
		if err != nil || len(keyB) == 0 {
			return start
		}
		valB, err := in.ReadBytes()
		if err != nil {
			return start
		}
		key := string(keyB)
		if len(valB) == 0 {
			delete(kv.plain, key)
			continue
		}
		kv.plain[key] = plainEntry{
			offset:   base + start,
			size:     in.Pos() - start,
			valueLen: len(valB),
		}
	}
	return len(payload)
}

// walkCrypt replays an encrypted log segment.  The store's crypter must
// be positioned at the segment start; a probe clone decrypts the whole
// segment first, then the main stream is advanced record by record so
// each index entry captures the state at its own offset.
func (kv *Store) walkCrypt(payload []byte, base int) int {
	if len(payload) == 0 {
		return 0
	}
	decrypted := make([]byte, len(payload))
	kv.crypter.CloneAt(kv.crypter.Checkpoint()).Decrypt(decrypted, payload)

	in := codec.NewInput(decrypted)
	for in.Remaining() > 0 {
		start := in.Pos()
		keyB, err := in.ReadBytes()
		if err != nil || len(keyB) == 0 {
			return start
		}
		valB, err := in.ReadBytes()
		if err != nil {
			return start
		}
		size := in.Pos() - start
		state := kv.crypter.Checkpoint()
		kv.crypter.Decrypt(decrypted[start:in.Pos()], payload[start:in.Pos()])

		key := string(keyB)
		if len(valB) == 0 {
			delete(kv.crypt, key)
			continue
		}
		e := cryptEntry{
			offset:   base + start,
			size:     size,
			valueLen: len(valB),
			state:    state,
		}
		if size <= smallValueCacheLimit {
			e.cached = append([]byte(nil), valB...)
		}
		kv.crypt[key] = e
	}
	return len(payload)
}

// setDataForKey appends one record and indexes it.  An empty value is a
// removal.
func (kv *Store) setDataForKey(key string, value []byte) error {
	if len(value) == 0 {
		return kv.removeDataForKey(key)
	}
	keyB := unsafestring.ToBytes(key)
	size := codec.BytesSize(len(keyB)) + codec.BytesSize(len(value))
	if err := kv.ensureSpace(size); err != nil {
		return err
	}

	offset := kv.actualSize
	dst := kv.file.Bytes()[dataHeaderSize+offset : dataHeaderSize+offset+size]
	out := codec.NewOutput(dst)
	out.WriteBytes(keyB)
	out.WriteBytes(value)

	if kv.crypter != nil {
		state := kv.crypter.Checkpoint()
		kv.crypter.Encrypt(dst, dst)
		e := cryptEntry{offset: offset, size: size, valueLen: len(value), state: state}
		if size <= smallValueCacheLimit {
			e.cached = append([]byte(nil), value...)
		}
		kv.crypt[key] = e
	} else {
		kv.plain[key] = plainEntry{offset: offset, size: size, valueLen: len(value)}
	}

	kv.commitAppend(size)
	return nil
}

// removeDataForKey drops key from the index and appends a tombstone.
// Unknown keys are a no-op.
func (kv *Store) removeDataForKey(key string) error {
	if kv.crypter != nil {
		if _, ok := kv.crypt[key]; !ok {
			return nil
		}
		delete(kv.crypt, key)
	} else {
		if _, ok := kv.plain[key]; !ok {
			return nil
		}
		delete(kv.plain, key)
	}

	keyB := unsafestring.ToBytes(key)
	size := codec.BytesSize(len(keyB)) + codec.BytesSize(0)
	if err := kv.ensureSpace(size); err != nil {
		return err
	}

	offset := kv.actualSize
	dst := kv.file.Bytes()[dataHeaderSize+offset : dataHeaderSize+offset+size]
	out := codec.NewOutput(dst)
	out.WriteBytes(keyB)
	out.WriteBytes(nil)
	if kv.crypter != nil {
		kv.crypter.Encrypt(dst, dst)
	}

	kv.commitAppend(size)
	return nil
}

// getDataForKey returns the value payload for key, or nil when absent.
// Plain mode returns a view into the mapping; crypt mode returns the
// cached plaintext or a freshly decrypted buffer.
func (kv *Store) getDataForKey(key string) []byte {
	data := kv.file.Bytes()
	if kv.crypter != nil {
		e, ok := kv.crypt[key]
		if !ok {
			return nil
		}
		if e.cached != nil {
			return e.cached
		}
		buf := make([]byte, e.size)
		rec := data[dataHeaderSize+e.offset : dataHeaderSize+e.offset+e.size]
		kv.crypter.CloneAt(e.state).Decrypt(buf, rec)
		return buf[e.size-e.valueLen:]
	}
	e, ok := kv.plain[key]
	if !ok {
		return nil
	}
	rec := data[dataHeaderSize+e.offset : dataHeaderSize+e.offset+e.size]
	return rec[e.size-e.valueLen:]
}

// commitAppend publishes an append of n bytes: rolling CRC, payload
// size header, sidecar, change notification.
func (kv *Store) commitAppend(n int) {
	data := kv.file.Bytes()
	kv.crcDigest = crc32.Update(kv.crcDigest, crc32.IEEETable,
		data[dataHeaderSize+kv.actualSize:dataHeaderSize+kv.actualSize+n])
	kv.actualSize += n
	binary.LittleEndian.PutUint32(data[0:dataHeaderSize], uint32(kv.actualSize))
	kv.metaInfo.CRC = kv.crcDigest
	kv.persistMeta()
	kv.rt.notifyContentChanged(kv.id)
}

// ensureSpace makes room for an append of needed bytes.  When the tail
// is exhausted it compacts, doubling the file first if even a compacted
// payload could not take the new record.
func (kv *Store) ensureSpace(needed int) error {
	avail := int(kv.file.Size()) - dataHeaderSize - kv.actualSize
	if needed <= avail {
		return nil
	}

	live := 0
	if kv.crypter != nil {
		for _, e := range kv.crypt {
			live += e.size
		}
	} else {
		for _, e := range kv.plain {
			live += e.size
		}
	}

	min := int64(dataHeaderSize + live + needed)
	if min > kv.file.Size() {
		target := kv.file.Size() * 2
		if target < min {
			target = min
		}
		if err := kv.file.EnsureSize(target); err != nil {
			return err
		}
	}
	log.Infof("store %s: write back, %d live of %d used bytes, file %d",
		kv.id, live, kv.actualSize, kv.file.Size())
	return kv.compact()
}

// compact rewrites the payload in place keeping the current crypt mode.
func (kv *Store) compact() error {
	if kv.crypter != nil {
		return kv.writeBack(kv.crypter.Key())
	}
	return kv.writeBack(nil)
}

type liveRecord struct {
	key   string
	value []byte
}

// collectLive decodes every live value into private buffers, since the
// mapping is about to be overwritten.
func (kv *Store) collectLive() []liveRecord {
	data := kv.file.Bytes()
	if kv.crypter != nil {
		live := make([]liveRecord, 0, len(kv.crypt))
		for k, e := range kv.crypt {
			if e.cached != nil {
				live = append(live, liveRecord{k, append([]byte(nil), e.cached...)})
				continue
			}
			buf := make([]byte, e.size)
			rec := data[dataHeaderSize+e.offset : dataHeaderSize+e.offset+e.size]
			kv.crypter.CloneAt(e.state).Decrypt(buf, rec)
			live = append(live, liveRecord{k, buf[e.size-e.valueLen:]})
		}
		return live
	}
	live := make([]liveRecord, 0, len(kv.plain))
	for k, e := range kv.plain {
		rec := data[dataHeaderSize+e.offset : dataHeaderSize+e.offset+e.size]
		live = append(live, liveRecord{k, append([]byte(nil), rec[e.size-e.valueLen:]...)})
	}
	return live
}

// writeBack rewrites the payload to hold exactly the live records.  key
// selects the crypt key for the new payload; nil writes plaintext.  The
// write-back sequence is bumped so other processes do a full reload.
// For an encrypted result the fresh IV is persisted as the backup IV
// before the payload is touched, so a crash mid-rewrite leaves the IV
// recoverable.
func (kv *Store) writeBack(key []byte) error {
	live := kv.collectLive()

	total := 0
	for _, r := range live {
		total += codec.BytesSize(len(r.key)) + codec.BytesSize(len(r.value))
	}
	if err := kv.file.EnsureSize(int64(dataHeaderSize + total)); err != nil {
		return err
	}

	var (
		newCrypter *aescfb.Crypter
		newPlain   map[string]plainEntry
		newCrypt   map[string]cryptEntry
		newIV      [meta.IVSize]byte
	)
	if key != nil {
		if _, err := rand.Read(newIV[:]); err != nil {
			return fmt.Errorf("rand.Read: %w", err)
		}
		kv.metaInfo.BackupIV = newIV
		kv.persistMeta()
		c, err := aescfb.New(key, newIV[:])
		if err != nil {
			return err
		}
		newCrypter = c
		newCrypt = make(map[string]cryptEntry, len(live))
	} else {
		newPlain = make(map[string]plainEntry, len(live))
	}

	staging := make([]byte, total)
	out := codec.NewOutput(staging)
	for _, r := range live {
		start := out.Pos()
		out.WriteBytes(unsafestring.ToBytes(r.key))
		out.WriteBytes(r.value)
		size := out.Pos() - start
		if newCrypter != nil {
			state := newCrypter.Checkpoint()
			newCrypter.Encrypt(staging[start:out.Pos()], staging[start:out.Pos()])
			e := cryptEntry{offset: start, size: size, valueLen: len(r.value), state: state}
			if size <= smallValueCacheLimit {
				e.cached = r.value
			}
			newCrypt[r.key] = e
		} else {
			newPlain[r.key] = plainEntry{offset: start, size: size, valueLen: len(r.value)}
		}
	}

	data := kv.file.Bytes()
	copy(data[dataHeaderSize:], staging)
	zero.Bytes(data[dataHeaderSize+total:])
	binary.LittleEndian.PutUint32(data[0:dataHeaderSize], uint32(total))

	kv.actualSize = total
	kv.crcDigest = crc32.ChecksumIEEE(staging)
	kv.metaInfo.CRC = kv.crcDigest
	kv.metaInfo.IV = newIV
	kv.metaInfo.Sequence++
	kv.persistMeta()

	kv.crypter = newCrypter
	kv.plain = newPlain
	kv.crypt = newCrypt
	return nil
}

// resetToEmpty wipes the payload and publishes an empty store.  Used
// for corruption discard and ClearAll.
func (kv *Store) resetToEmpty() error {
	zero.Bytes(kv.file.Bytes())
	kv.resetIndex()
	kv.actualSize = 0
	kv.crcDigest = 0
	kv.metaInfo.CRC = 0
	kv.metaInfo.Sequence++
	kv.metaInfo.IV = [meta.IVSize]byte{}
	kv.metaInfo.BackupIV = [meta.IVSize]byte{}
	if kv.crypter != nil {
		if _, err := rand.Read(kv.metaInfo.IV[:]); err != nil {
			return fmt.Errorf("rand.Read: %w", err)
		}
		kv.crypter.ResetIV(kv.metaInfo.IV[:])
	}
	kv.persistMeta()
	return nil
}

// resetIndex replaces the live index with an empty one of the current
// mode.
func (kv *Store) resetIndex() {
	if kv.crypter != nil {
		kv.crypt = make(map[string]cryptEntry)
		kv.plain = nil
	} else {
		kv.plain = make(map[string]plainEntry)
		kv.crypt = nil
	}
}

// persistMeta writes the sidecar record into its mapping.  The buffer is
// a full page, so marshalling cannot fail.
func (kv *Store) persistMeta() {
	kv.metaInfo.Version = meta.Version3
	_ = kv.metaInfo.MarshalBytes(kv.metaFile.Bytes())
}

func (kv *Store) countLocked() int {
	if kv.crypter != nil {
		return len(kv.crypt)
	}
	return len(kv.plain)
}

// withExclusiveLock brackets fn with the inter-process exclusive lock.
// Upgrading while the caller holds the shared lock converts in place.
func (kv *Store) withExclusiveLock(fn func() error) error {
	if err := kv.procLock.Lock(filelock.Exclusive); err != nil {
		return err
	}
	err := fn()
	if uerr := kv.procLock.Unlock(filelock.Exclusive); uerr != nil && err == nil {
		err = uerr
	}
	return err
}
