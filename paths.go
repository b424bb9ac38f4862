// Copyright 2025 The pagekv Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package pagekv

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// ids containing any of these route through an md5-named file under the
// specialCharacter directory, since they cannot be file names themselves
const specialCharacters = `\/:*?"<>|`

const specialCharacterDir = "specialCharacter"

const crcSuffix = ".crc"

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// encodeFileName maps an instance id to the file name (possibly a
// relative path) its data lives under.
func encodeFileName(id string) string {
	if strings.ContainsAny(id, specialCharacters) {
		return specialCharacterDir + "/" + md5Hex(id)
	}
	return id
}

// dataPath derives the data file path for id under base.
func dataPath(base, id string) string {
	return base + "/" + encodeFileName(id)
}

// instanceKey is the process-wide registry handle for (id, base).  Ids
// opened under the default root use the id itself; a distinct base
// hashes so two roots holding the same id never collide.
func instanceKey(rootDir, base, id string) string {
	if base != rootDir {
		return md5Hex(base + "/" + id)
	}
	return id
}
