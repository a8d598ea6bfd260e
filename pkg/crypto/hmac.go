package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"hash"
)

// HMACSHA256 computes HMAC-SHA256 of message under key.
// HDCP 2.2 uses it for H', L', V and M'.
func HMACSHA256(key, message []byte) [SHA256Size]byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	var result [SHA256Size]byte
	copy(result[:], h.Sum(nil))
	return result
}

// NewHMACSHA256 returns a new hash.Hash for computing HMAC-SHA256 over
// several concatenated inputs without building the message first.
//
//	h := crypto.NewHMACSHA256(kd)
//	h.Write(receiverIDList)
//	h.Write(rxInfo)
//	mac := h.Sum(nil)
func NewHMACSHA256(key []byte) hash.Hash {
	return hmac.New(sha256.New, key)
}

// HMACEqual compares two MACs in constant time.
// Inputs of different lengths compare unequal without revealing where
// they differ.
func HMACEqual(mac1, mac2 []byte) bool {
	return hmac.Equal(mac1, mac2)
}
