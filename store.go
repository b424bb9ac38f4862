// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package pagekv

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pagekv/pagekv/internal/aescfb"
	"github.com/pagekv/pagekv/internal/filelock"
	"github.com/pagekv/pagekv/internal/memfile"
	"github.com/pagekv/pagekv/internal/meta"
)

// Store is one key/value instance: a mapped data file, its sidecar meta
// file and the in-memory key index.  All methods are safe for
// concurrent use from multiple goroutines; cross-process coordination
// additionally needs WithMultiProcess at open time.
type Store struct {
	rt     *Runtime
	id     string
	regKey string
	path   string

	mu sync.Mutex

	file     *memfile.File
	metaFile *memfile.File
	metaInfo meta.Info

	procLock     *filelock.Lock
	multiProcess bool

	crypter *aescfb.Crypter

	plain map[string]plainEntry
	crypt map[string]cryptEntry

	actualSize int
	crcDigest  uint32

	needLoad bool
	closed   bool
}

func openStore(rt *Runtime, id, regKey, base string, opts *openOptions) (*Store, error) {
	path := dataPath(base, id)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("os.MkdirAll(%s): %w", dir, err)
		}
	}

	metaFile, err := memfile.Open(path+crcSuffix, memfile.PageSize())
	if err != nil {
		return nil, err
	}

	kv := &Store{
		rt:           rt,
		id:           id,
		regKey:       regKey,
		path:         path,
		metaFile:     metaFile,
		multiProcess: opts.multiProcess,
	}
	kv.procLock = filelock.New(metaFile.Fd(), opts.multiProcess)

	if len(opts.cryptKey) > 0 {
		c, err := aescfb.New(opts.cryptKey, nil)
		if err != nil {
			_ = metaFile.Close()
			return nil, err
		}
		kv.crypter = c
	}
	kv.resetIndex()

	// the load sensitive zone: no other process may rewrite under us
	if err := kv.procLock.Lock(filelock.Shared); err != nil {
		_ = metaFile.Close()
		return nil, err
	}
	loadErr := kv.loadFromFile()
	_ = kv.procLock.Unlock(filelock.Shared)
	if loadErr != nil {
		if kv.file != nil {
			_ = kv.file.Close()
		}
		_ = metaFile.Close()
		return nil, loadErr
	}
	return kv, nil
}

// ID returns the instance id the store was opened under.
func (kv *Store) ID() string {
	return kv.id
}

func (kv *Store) checkValid() error {
	if kv.closed {
		return ErrStoreClosed
	}
	if kv.file == nil || !kv.file.Valid() {
		return ErrFileInvalid
	}
	return nil
}

// Contains reports whether key holds a value.
func (kv *Store) Contains(key string) bool {
	if key == "" {
		return false
	}
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.checkValid() != nil || kv.checkLoadData() != nil {
		return false
	}
	if kv.crypter != nil {
		_, ok := kv.crypt[key]
		return ok
	}
	_, ok := kv.plain[key]
	return ok
}

// Count returns the number of live keys.
func (kv *Store) Count() int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.checkValid() != nil || kv.checkLoadData() != nil {
		return 0
	}
	return kv.countLocked()
}

// AllKeys returns every live key in unspecified order.
func (kv *Store) AllKeys() []string {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.checkValid() != nil || kv.checkLoadData() != nil {
		return nil
	}
	keys := make([]string, 0, kv.countLocked())
	if kv.crypter != nil {
		for k := range kv.crypt {
			keys = append(keys, k)
		}
	} else {
		for k := range kv.plain {
			keys = append(keys, k)
		}
	}
	return keys
}

// TotalSize returns the data file size, a page multiple.
func (kv *Store) TotalSize() int64 {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.checkValid() != nil {
		return 0
	}
	return kv.file.Size()
}

// ActualSize returns the used payload byte count.
func (kv *Store) ActualSize() int64 {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.checkValid() != nil || kv.checkLoadData() != nil {
		return 0
	}
	return int64(kv.actualSize)
}

// ValueSize returns the stored value length for key, 0 when absent.
func (kv *Store) ValueSize(key string) int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.checkValid() != nil || kv.checkLoadData() != nil {
		return 0
	}
	if kv.crypter != nil {
		return kv.crypt[key].valueLen
	}
	return kv.plain[key].valueLen
}

// Remove deletes key.  Removing an absent key is a no-op.
func (kv *Store) Remove(key string) error {
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
		return kv.removeDataForKey(key)
	})
}

// RemoveKeys deletes every named key, then compacts once.  Keys not
// present are skipped; if none are present nothing is written.
func (kv *Store) RemoveKeys(keys []string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.checkValid(); err != nil {
		return err
	}
	return kv.withExclusiveLock(func() error {
		if err := kv.checkLoadData(); err != nil {
			return err
		}
		removed := 0
		for _, key := range keys {
			if kv.crypter != nil {
				if _, ok := kv.crypt[key]; ok {
					delete(kv.crypt, key)
					removed++
				}
			} else {
				if _, ok := kv.plain[key]; ok {
					delete(kv.plain, key)
					removed++
				}
			}
		}
		if removed == 0 {
			return nil
		}
		if err := kv.compact(); err != nil {
			return err
		}
		kv.rt.notifyContentChanged(kv.id)
		return nil
	})
}

// SyncFlag selects how Sync flushes dirty pages.
type SyncFlag int

const (
	// SyncSync blocks until the pages are written.
	SyncSync SyncFlag = iota
	// SyncAsync schedules the write-out and returns.
	SyncAsync
)

// Sync flushes the data and meta mappings to disk.
func (kv *Store) Sync(flag SyncFlag) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.checkValid(); err != nil {
		return err
	}
	async := flag == SyncAsync
	if err := kv.file.Msync(async); err != nil {
		return err
	}
	return kv.metaFile.Msync(async)
}

// ClearAll removes every key and shrinks the file back to one page.
func (kv *Store) ClearAll() error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.checkValid(); err != nil {
		return err
	}
	return kv.withExclusiveLock(func() error {
		if kv.file.Size() > memfile.PageSize() {
			if err := kv.file.Truncate(memfile.PageSize()); err != nil {
				return err
			}
		}
		if err := kv.resetToEmpty(); err != nil {
			return err
		}
		kv.rt.notifyContentChanged(kv.id)
		return nil
	})
}

// ClearMemoryCache drops the in-memory index.  The next operation
// rebuilds it from the file.
func (kv *Store) ClearMemoryCache() {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.closed {
		return
	}
	kv.plain = nil
	kv.crypt = nil
	kv.needLoad = true
}

// TrimExtraSpace compacts and gives unused pages back to the
// filesystem.
func (kv *Store) TrimExtraSpace() error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.checkValid(); err != nil {
		return err
	}
	return kv.withExclusiveLock(func() error {
		if err := kv.checkLoadData(); err != nil {
			return err
		}
		if err := kv.compact(); err != nil {
			return err
		}
		target := memfile.RoundPage(int64(dataHeaderSize + kv.actualSize))
		if target < kv.file.Size() {
			return kv.file.Truncate(target)
		}
		return nil
	})
}

// Lock takes the inter-process exclusive lock.  Nested calls from this
// process count and release in pairs with Unlock.
func (kv *Store) Lock() error {
	return kv.procLock.Lock(filelock.Exclusive)
}

// Unlock releases one level of the inter-process exclusive lock.
func (kv *Store) Unlock() error {
	return kv.procLock.Unlock(filelock.Exclusive)
}

// TryLock attempts the inter-process exclusive lock without blocking.
func (kv *Store) TryLock() bool {
	return kv.procLock.TryLock(filelock.Exclusive)
}

// CheckContentChanged picks up appends and rewrites made by other
// processes.  Meaningful only for multi-process stores.
func (kv *Store) CheckContentChanged() error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.checkValid(); err != nil {
		return err
	}
	return kv.checkLoadData()
}

// ReKey re-encrypts the whole store under newKey.  An empty key
// decrypts an encrypted store to plaintext; a non-empty key on a plain
// store encrypts it.  Re-keying to the current key is a no-op.
func (kv *Store) ReKey(newKey []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.checkValid(); err != nil {
		return err
	}
	return kv.withExclusiveLock(func() error {
		if err := kv.checkLoadData(); err != nil {
			return err
		}
		if kv.crypter == nil && len(newKey) == 0 {
			return nil
		}
		if kv.crypter != nil && len(newKey) > 0 &&
			bytes.Equal(kv.crypter.Key(), padKey(newKey)) {
			return nil
		}
		var key []byte
		if len(newKey) > 0 {
			key = newKey
		}
		if err := kv.writeBack(key); err != nil {
			return err
		}
		kv.rt.notifyContentChanged(kv.id)
		return nil
	})
}

// CheckReSetCryptKey updates the in-memory crypt key after another
// process re-keyed the file, without rewriting anything.  The index is
// rebuilt from the file on the next operation.
func (kv *Store) CheckReSetCryptKey(key []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.checkValid(); err != nil {
		return err
	}
	if kv.crypter == nil && len(key) == 0 {
		return nil
	}
	if kv.crypter != nil && len(key) > 0 &&
		bytes.Equal(kv.crypter.Key(), padKey(key)) {
		return nil
	}
	if len(key) > 0 {
		c, err := aescfb.New(key, nil)
		if err != nil {
			return err
		}
		kv.crypter = c
	} else {
		kv.crypter = nil
	}
	kv.plain = nil
	kv.crypt = nil
	kv.needLoad = true
	return nil
}

// CryptKey returns a copy of the configured crypt key, nil for a plain
// store.
func (kv *Store) CryptKey() []byte {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.crypter == nil {
		return nil
	}
	return kv.crypter.Key()
}

// Close syncs, unmaps and unregisters the store.  Closing twice is a
// no-op.
func (kv *Store) Close() error {
	err := kv.destroy()
	kv.rt.remove(kv.regKey)
	return err
}

func (kv *Store) destroy() error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.closed {
		return nil
	}
	kv.closed = true

	var firstErr error
	if kv.file != nil {
		if err := kv.file.Close(); err != nil {
			firstErr = err
		}
	}
	if err := kv.metaFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	kv.plain = nil
	kv.crypt = nil
	return firstErr
}

// padKey normalizes a user key to the fixed AES-128 width, matching
// what the crypter stores.
func padKey(key []byte) []byte {
	out := make([]byte, aescfb.KeySize)
	copy(out, key)
	return out
}
