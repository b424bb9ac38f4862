// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package memfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundPage(t *testing.T) {
	ps := PageSize()
	require.Equal(t, ps, RoundPage(0))
	require.Equal(t, ps, RoundPage(1))
	require.Equal(t, ps, RoundPage(ps))
	require.Equal(t, 2*ps, RoundPage(ps+1))
}

func TestOpenCreatesPageSizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	m, err := Open(path, 1)
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, PageSize(), m.Size())
	require.Len(t, m.Bytes(), int(PageSize()))
	require.True(t, m.Valid())

	st, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, PageSize(), st.Size())
}

func TestWritesReachDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	m, err := Open(path, 1)
	require.NoError(t, err)

	copy(m.Bytes(), "written through the mapping")
	require.NoError(t, m.Msync(false))
	require.NoError(t, m.Close())
	require.False(t, m.Valid())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "written through the mapping", string(raw[:27]))
}

func TestEnsureSizePreservesContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	m, err := Open(path, 1)
	require.NoError(t, err)
	defer m.Close()

	copy(m.Bytes(), "keep me")
	old := m.Size()
	require.NoError(t, m.EnsureSize(old+1))
	require.Equal(t, 2*old, m.Size())
	require.Equal(t, "keep me", string(m.Bytes()[:7]))

	// the grown tail is zero filled
	for _, b := range m.Bytes()[old:] {
		require.Zero(t, b)
	}

	// already large enough: no-op
	require.NoError(t, m.EnsureSize(old))
	require.Equal(t, 2*old, m.Size())
}

func TestTruncateShrinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	m, err := Open(path, 4*PageSize())
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Truncate(PageSize()))
	require.Equal(t, PageSize(), m.Size())

	st, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, PageSize(), st.Size())
}

func TestRemapFollowsExternalGrowth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data")
	m, err := Open(path, 1)
	require.NoError(t, err)
	defer m.Close()

	// another mapping of the same file grows it
	other, err := Open(path, 1)
	require.NoError(t, err)
	require.NoError(t, other.EnsureSize(2*PageSize()))
	copy(other.Bytes()[PageSize():], "second page")
	require.NoError(t, other.Close())

	require.NoError(t, m.Remap())
	require.Equal(t, 2*PageSize(), m.Size())
	require.Equal(t, "second page", string(m.Bytes()[PageSize():PageSize()+11]))
}

func TestOpenRoundsOddSizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, []byte("odd"), 0o644))

	m, err := Open(path, 1)
	require.NoError(t, err)
	defer m.Close()
	require.Equal(t, PageSize(), m.Size())
	require.Equal(t, "odd", string(m.Bytes()[:3]))
}
