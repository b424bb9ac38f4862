// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package aescfb

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKeyIV(t *testing.T) (key, iv []byte) {
	t.Helper()
	key = make([]byte, KeySize)
	iv = make([]byte, BlockSize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	_, err = rand.Read(iv)
	require.NoError(t, err)
	return key, iv
}

func TestMatchesStdlibCFB(t *testing.T) {
	key, iv := testKeyIV(t)
	plaintext := make([]byte, 1000)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	c, err := New(key, iv)
	require.NoError(t, err)
	got := make([]byte, len(plaintext))
	c.Encrypt(got, plaintext)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	want := make([]byte, len(plaintext))
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(want, plaintext)

	require.Equal(t, want, got)
}

func TestRoundtripAcrossChunks(t *testing.T) {
	key, iv := testKeyIV(t)
	plaintext := []byte("the quick brown fox jumps over the lazy dog, twice over")

	enc, err := New(key, iv)
	require.NoError(t, err)
	ciphertext := make([]byte, len(plaintext))
	// uneven chunk sizes cross block boundaries mid-write
	for _, seg := range [][2]int{{0, 7}, {7, 20}, {20, 33}, {33, len(plaintext)}} {
		enc.Encrypt(ciphertext[seg[0]:seg[1]], plaintext[seg[0]:seg[1]])
	}

	dec, err := New(key, iv)
	require.NoError(t, err)
	got := make([]byte, len(ciphertext))
	dec.Decrypt(got, ciphertext)
	require.Equal(t, plaintext, got)
}

func TestCheckpointResumesMidStream(t *testing.T) {
	key, iv := testKeyIV(t)
	plaintext := make([]byte, 300)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	enc, err := New(key, iv)
	require.NoError(t, err)
	ciphertext := make([]byte, len(plaintext))

	// capture the stream state at an offset that is not block aligned
	const cut = 100 + 5
	enc.Encrypt(ciphertext[:cut], plaintext[:cut])
	cp := enc.Checkpoint()
	enc.Encrypt(ciphertext[cut:], plaintext[cut:])

	dec := enc.CloneAt(cp)
	got := make([]byte, len(plaintext)-cut)
	dec.Decrypt(got, ciphertext[cut:])
	require.Equal(t, plaintext[cut:], got)
}

func TestCloneDoesNotDisturbParent(t *testing.T) {
	key, iv := testKeyIV(t)
	plaintext := make([]byte, 64)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	a, err := New(key, iv)
	require.NoError(t, err)
	want := make([]byte, len(plaintext))
	a.Encrypt(want, plaintext)

	b, err := New(key, iv)
	require.NoError(t, err)
	got := make([]byte, len(plaintext))
	b.Encrypt(got[:10], plaintext[:10])
	clone := b.CloneAt(b.Checkpoint())
	clone.Encrypt(make([]byte, 40), plaintext[10:50])
	b.Encrypt(got[10:], plaintext[10:])

	require.Equal(t, want, got)
}

func TestResetIV(t *testing.T) {
	key, iv := testKeyIV(t)
	plaintext := []byte("same bytes, same stream")

	c, err := New(key, iv)
	require.NoError(t, err)
	first := make([]byte, len(plaintext))
	c.Encrypt(first, plaintext)

	c.ResetIV(nil)
	second := make([]byte, len(plaintext))
	c.Encrypt(second, plaintext)
	require.Equal(t, first, second)

	iv2 := make([]byte, BlockSize)
	_, err = rand.Read(iv2)
	require.NoError(t, err)
	c.ResetIV(iv2)
	third := make([]byte, len(plaintext))
	c.Encrypt(third, plaintext)
	require.NotEqual(t, first, third)
}

func TestShortKeyIsPadded(t *testing.T) {
	c, err := New([]byte("abc"), nil)
	require.NoError(t, err)
	want := make([]byte, KeySize)
	copy(want, "abc")
	require.True(t, bytes.Equal(want, c.Key()))
}

func TestBadInputs(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)

	_, err = New([]byte("k"), []byte("short-iv"))
	require.Error(t, err)
}
