// Package crypto provides the cryptographic primitives used by the HDCP 2.2
// secure action engine: SHA-256, HMAC-SHA256, the AES based key derivation of
// the authentication protocol, RSA operations on receiver keys and the keyed
// digests protecting the secret store.
package crypto

import (
	"crypto/sha256"
	"hash"
)

// SHA256Size is the SHA-256 output length in bytes.
const SHA256Size = 32

// SHA256 computes the SHA-256 hash of a message.
func SHA256(message []byte) [SHA256Size]byte {
	return sha256.Sum256(message)
}

// SHA256Slice computes the SHA-256 hash and returns it as a slice.
func SHA256Slice(message []byte) []byte {
	h := sha256.Sum256(message)
	return h[:]
}

// NewSHA256 returns a new hash.Hash for computing SHA-256 incrementally.
func NewSHA256() hash.Hash {
	return sha256.New()
}
