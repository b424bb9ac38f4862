// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package pagekv is an embedded, memory-mapped key/value store.  Writes
// append to a mapped log and complete in microseconds; reads are slice
// views into the mapping; a crash at any instant leaves the store
// recoverable to a consistent prior state via the CRC sidecar.
package pagekv

import (
	"fmt"
	"os"
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("pagekv")

// Runtime holds the process-wide state: the root directory, the
// id-to-instance registry and the host-supplied handlers.  Create one
// per process and pass it wherever stores are opened; there is no
// hidden singleton.
type Runtime struct {
	rootDir string

	mu        sync.Mutex
	instances map[string]*Store

	handlerMu     sync.Mutex
	errorHandler  ErrorHandler
	contentChange ContentChangeHandler
}

// NewRuntime creates the runtime rooted at rootDir, creating the
// directory if needed.
func NewRuntime(rootDir string) (*Runtime, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("pagekv: empty root dir")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("os.MkdirAll(%s): %w", rootDir, err)
	}
	log.Infof("runtime root dir: %s, page size: %d", rootDir, os.Getpagesize())
	return &Runtime{
		rootDir:   rootDir,
		instances: make(map[string]*Store),
	}, nil
}

// RootDir returns the runtime's root directory.
func (rt *Runtime) RootDir() string {
	return rt.rootDir
}

// SetLogLevel adjusts the "pagekv" logging subsystem ("debug", "info",
// "warn", "error", ...).
func (rt *Runtime) SetLogLevel(level string) error {
	return logging.SetLogLevel("pagekv", level)
}

// RegisterErrorHandler installs the corruption-recovery callback.  A nil
// handler restores the default (discard).
func (rt *Runtime) RegisterErrorHandler(h ErrorHandler) {
	rt.handlerMu.Lock()
	defer rt.handlerMu.Unlock()
	rt.errorHandler = h
}

// RegisterContentChangeHandler installs the append-notification
// callback.  A nil handler disables notification.
func (rt *Runtime) RegisterContentChangeHandler(h ContentChangeHandler) {
	rt.handlerMu.Lock()
	defer rt.handlerMu.Unlock()
	rt.contentChange = h
}

func (rt *Runtime) onLoadError(id string, kind ErrorKind) RecoverStrategy {
	rt.handlerMu.Lock()
	h := rt.errorHandler
	rt.handlerMu.Unlock()
	if h != nil {
		return h(id, kind)
	}
	return OnErrorDiscard
}

func (rt *Runtime) notifyContentChanged(id string) {
	rt.handlerMu.Lock()
	h := rt.contentChange
	rt.handlerMu.Unlock()
	if h != nil {
		h(id)
	}
}

// Option configures an Open call.
type Option func(*openOptions)

type openOptions struct {
	cryptKey     []byte
	relativePath string
	multiProcess bool
}

// WithCryptKey enables AES-CFB-128 encryption of the data file.  The
// key is truncated or zero-padded to 16 bytes.
func WithCryptKey(key []byte) Option {
	return func(o *openOptions) {
		if len(key) > 0 {
			o.cryptKey = key
		}
	}
}

// WithRelativePath places the store's files under dir instead of the
// runtime root.
func WithRelativePath(dir string) Option {
	return func(o *openOptions) {
		o.relativePath = dir
	}
}

// WithMultiProcess enables the advisory file lock so several processes
// can share the store.
func WithMultiProcess() Option {
	return func(o *openOptions) {
		o.multiProcess = true
	}
}

// Open returns the store registered under id, creating it on first
// use.  Open is idempotent: a second call with the same id and relative
// path returns the same instance (later options are ignored).
func (rt *Runtime) Open(id string, opts ...Option) (*Store, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	var options openOptions
	for _, opt := range opts {
		opt(&options)
	}

	base := rt.rootDir
	if options.relativePath != "" {
		base = options.relativePath
	}
	key := instanceKey(rt.rootDir, base, id)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if kv, ok := rt.instances[key]; ok {
		return kv, nil
	}

	kv, err := openStore(rt, id, key, base, &options)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", id, err)
	}
	rt.instances[key] = kv
	return kv, nil
}

// CloseAll syncs and closes every registered store.  Meant for process
// shutdown.
func (rt *Runtime) CloseAll() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var firstErr error
	for key, kv := range rt.instances {
		kv.Sync(SyncSync)
		if err := kv.destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(rt.instances, key)
	}
	return firstErr
}

func (rt *Runtime) remove(key string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.instances, key)
}
