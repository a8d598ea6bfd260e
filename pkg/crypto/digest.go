package crypto

import (
	"crypto/aes"
	"errors"
	"hash"

	"github.com/dchest/cmac"
	"github.com/zeebo/blake3"
)

// DigestAlgorithm selects the keyed digest used by the integrity verifier.
type DigestAlgorithm int

const (
	// DigestHMACSHA256 is HMAC-SHA256 with a 32-byte key. Default.
	DigestHMACSHA256 DigestAlgorithm = iota

	// DigestAESCMAC is AES-128-CMAC (NIST 800-38B) with a 16-byte key.
	DigestAESCMAC

	// DigestBLAKE3 is keyed BLAKE3 with a 32-byte key.
	DigestBLAKE3
)

// DigestSize is the size of every stored digest. Shorter MACs (CMAC) are
// zero padded.
const DigestSize = 32

var ErrUnknownDigest = errors.New("crypto: unknown digest algorithm")

// String returns the algorithm name as used in settings files.
func (a DigestAlgorithm) String() string {
	switch a {
	case DigestHMACSHA256:
		return "hmac-sha256"
	case DigestAESCMAC:
		return "aes-cmac"
	case DigestBLAKE3:
		return "blake3"
	default:
		return "unknown"
	}
}

// IsValid returns true if a is a defined algorithm.
func (a DigestAlgorithm) IsValid() bool {
	return a >= DigestHMACSHA256 && a <= DigestBLAKE3
}

// KeySize returns the key length the algorithm expects.
func (a DigestAlgorithm) KeySize() int {
	if a == DigestAESCMAC {
		return 16
	}
	return 32
}

// ParseDigestAlgorithm parses the String form of an algorithm.
func ParseDigestAlgorithm(s string) (DigestAlgorithm, error) {
	for a := DigestHMACSHA256; a <= DigestBLAKE3; a++ {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, ErrUnknownDigest
}

// NewKeyedDigest returns a keyed hash for the algorithm.
func NewKeyedDigest(alg DigestAlgorithm, key []byte) (hash.Hash, error) {
	if !alg.IsValid() {
		return nil, ErrUnknownDigest
	}
	if len(key) != alg.KeySize() {
		return nil, ErrInvalidKeySize
	}
	switch alg {
	case DigestAESCMAC:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cmac.New(block)
	case DigestBLAKE3:
		return blake3.NewKeyed(key)
	default:
		return NewHMACSHA256(key), nil
	}
}

// KeyedDigest computes the digest of data in one call, padded to DigestSize.
func KeyedDigest(alg DigestAlgorithm, key, data []byte) ([DigestSize]byte, error) {
	var out [DigestSize]byte
	h, err := NewKeyedDigest(alg, key)
	if err != nil {
		return out, err
	}
	h.Write(data)
	copy(out[:], h.Sum(nil))
	return out, nil
}
