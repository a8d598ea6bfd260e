package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDFSHA256 derives length bytes of key material using HKDF-SHA256 (RFC 5869).
//
// The secret store uses it to turn the per-session crypt random into the key
// or mask of the confidential cipher.
func HKDFSHA256(inputKey, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, inputKey, salt, info)
	result := make([]byte, length)
	if _, err := io.ReadFull(reader, result); err != nil {
		return nil, err
	}
	return result, nil
}

// HKDFExpandSHA256 performs only the HKDF-Expand step on a pseudorandom key.
func HKDFExpandSHA256(prk, info []byte, length int) ([]byte, error) {
	reader := hkdf.Expand(sha256.New, prk, info)
	result := make([]byte, length)
	if _, err := io.ReadFull(reader, result); err != nil {
		return nil, err
	}
	return result, nil
}
