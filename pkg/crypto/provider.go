package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"io"
)

// Provider is the set of cryptographic capabilities the protocol handlers
// consume. The engine never depends on how a capability is implemented; a
// hardware offload can replace Software as long as the input/output
// contracts hold.
type Provider interface {
	// Hash returns SHA-256(data).
	Hash(data []byte) [SHA256Size]byte

	// HMAC returns HMAC-SHA256(key, concatenation of parts).
	HMAC(key []byte, parts ...[]byte) [SHA256Size]byte

	// EncryptBlock encrypts one AES-128 block.
	EncryptBlock(key, in []byte) ([DKeySize]byte, error)

	// EncryptKm computes Ekpub(km) under the receiver public key.
	EncryptKm(kpub, km []byte) ([EkpubKmSize]byte, error)

	// VerifySignature checks a DCP LLC signature over msg.
	VerifySignature(trust *rsa.PublicKey, msg, sig []byte) error
}

// Software implements Provider with the Go standard library.
type Software struct {
	// Rand is the entropy source for OAEP padding. Defaults to crypto/rand.
	Rand io.Reader
}

var _ Provider = (*Software)(nil)

// Hash implements Provider.
func (s *Software) Hash(data []byte) [SHA256Size]byte {
	return SHA256(data)
}

// HMAC implements Provider.
func (s *Software) HMAC(key []byte, parts ...[]byte) [SHA256Size]byte {
	h := NewHMACSHA256(key)
	for _, p := range parts {
		h.Write(p)
	}
	var out [SHA256Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// EncryptBlock implements Provider.
func (s *Software) EncryptBlock(key, in []byte) ([DKeySize]byte, error) {
	return AESEncryptBlock(key, in)
}

// EncryptKm implements Provider.
func (s *Software) EncryptKm(kpub, km []byte) ([EkpubKmSize]byte, error) {
	var out [EkpubKmSize]byte
	pub, err := ParseReceiverPublicKey(kpub)
	if err != nil {
		return out, err
	}
	r := s.Rand
	if r == nil {
		r = rand.Reader
	}
	ct, err := EncryptOAEP(pub, km, r)
	if err != nil {
		return out, err
	}
	copy(out[:], ct)
	return out, nil
}

// VerifySignature implements Provider.
func (s *Software) VerifySignature(trust *rsa.PublicKey, msg, sig []byte) error {
	return VerifyPKCS1v15(trust, msg, sig)
}
