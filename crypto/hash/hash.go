// Package hash provides the canonical hash function used by the
// consensus core. Every deterministic derivation (addresses, selection
// draws, offense identifiers) goes through Blake2b-256 so that all
// nodes compute byte-identical values from identical inputs.
package hash

import (
	"golang.org/x/crypto/blake2b"
)

// Size is the length of a canonical hash in bytes.
const Size = 32

// Sum returns the Blake2b-256 digest of data.
func Sum(data []byte) [Size]byte {
	return blake2b.Sum256(data)
}

// Concat hashes the concatenation of the given byte slices.
func Concat(parts ...[]byte) [Size]byte {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	buf := make([]byte, 0, total)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return blake2b.Sum256(buf)
}
