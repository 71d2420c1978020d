package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

const (
	HashSize = sha256.Size
)

var (
	MaxHash = bytes.Repeat([]byte{0xFF}, HashSize)
)

/*
	Hash takes an input message and returns a fixed-size digest unique to the input, used for the
	out-value / signature commitment chain of the round scheduler and for store integrity checks
*/

// Hasher() returns the global hashing algorithm used
func Hasher() hash.Hash { return sha256.New() }

// Hash() executes the global hashing algorithm on input bytes
func Hash(msg []byte) []byte {
	h := sha256.Sum256(msg)
	return h[:]
}

// HashString() returns the hex version of a hash
func HashString(msg []byte) string { return hex.EncodeToString(Hash(msg)) }

// ShortHash() executes the global hashing algorithm on input bytes
// and truncates the output to 20 bytes
func ShortHash(msg []byte) []byte {
	h := sha256.Sum256(msg)
	return h[:20]
}

// XOR() folds b into a, padding with the zero element when lengths differ;
// an empty or nil operand is the identity
func XOR(a, b []byte) []byte {
	if len(b) == 0 {
		return append([]byte{}, a...)
	}
	if len(a) == 0 {
		return append([]byte{}, b...)
	}
	size := len(a)
	if len(b) > size {
		size = len(b)
	}
	out := make([]byte, size)
	copy(out, a)
	for i := range b {
		out[i] ^= b[i]
	}
	return out
}

// HashToInt64() interprets the first 8 bytes of a hash as a big-endian signed integer
func HashToInt64(h []byte) int64 {
	if len(h) < 8 {
		padded := make([]byte, 8)
		copy(padded[8-len(h):], h)
		h = padded
	}
	return int64(binary.BigEndian.Uint64(h[:8]))
}
