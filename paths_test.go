// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package pagekv

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeFileName(t *testing.T) {
	require.Equal(t, "plain-id", encodeFileName("plain-id"))
	require.Equal(t, "with.dots_and-dashes", encodeFileName("with.dots_and-dashes"))

	for _, id := range []string{`a/b`, `a\b`, `a:b`, `a*b`, `a?b`, `a"b`, `a<b`, `a>b`, `a|b`} {
		name := encodeFileName(id)
		require.True(t, strings.HasPrefix(name, specialCharacterDir+"/"), "id %q", id)
		require.Len(t, strings.TrimPrefix(name, specialCharacterDir+"/"), 32)
	}

	// distinct ids map to distinct files
	require.NotEqual(t, encodeFileName(`a/b`), encodeFileName(`a\b`))
}

func TestInstanceKey(t *testing.T) {
	require.Equal(t, "id", instanceKey("/root", "/root", "id"))

	k1 := instanceKey("/root", "/elsewhere", "id")
	k2 := instanceKey("/root", "/other", "id")
	require.NotEqual(t, "id", k1)
	require.NotEqual(t, k1, k2)
	require.Len(t, k1, 32)
}
