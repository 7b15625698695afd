// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// PIN hashing compatible with the sedutil family of tools. When one of these
// derivations is used, the drive sees the derived bytes instead of the raw
// PIN.

package hash

import (
	"crypto/sha1"
	"crypto/sha512"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// HashSedutilDTA derives a PIN the way Drive-Trust-Alliance sedutil does:
// PBKDF2-SHA1, 75000 rounds, salted with the space-padded drive serial.
func HashSedutilDTA(pin string, serial string) []byte {
	salt := fmt.Sprintf("%-20s", serial)
	return pbkdf2.Key([]byte(pin), []byte(salt[:20]), 75000, 32, sha1.New)
}

// HashSedutil512 derives a PIN the way the ChubbyAnt sedutil fork does:
// PBKDF2-SHA512, 500000 rounds, same salting.
func HashSedutil512(pin string, serial string) []byte {
	salt := fmt.Sprintf("%-20s", serial)
	return pbkdf2.Key([]byte(pin), []byte(salt[:20]), 500000, 32, sha512.New)
}
