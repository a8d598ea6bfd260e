package crypto

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"io"
	"math/big"
)

var (
	ErrInvalidPublicKey = errors.New("crypto: invalid receiver public key")
	ErrSignature        = errors.New("crypto: signature verification failed")
)

// ParseReceiverPublicKey decodes kpub_rx: a 1024-bit big-endian modulus
// followed by a 24-bit big-endian public exponent.
func ParseReceiverPublicKey(kpub []byte) (*rsa.PublicKey, error) {
	if len(kpub) != KpubRxSize {
		return nil, ErrInvalidPublicKey
	}
	n := new(big.Int).SetBytes(kpub[:128])
	e := int(kpub[128])<<16 | int(kpub[129])<<8 | int(kpub[130])
	if n.BitLen() != 1024 || e < 3 || e&1 == 0 {
		return nil, ErrInvalidPublicKey
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}

// EncodeReceiverPublicKey is the inverse of ParseReceiverPublicKey.
func EncodeReceiverPublicKey(pub *rsa.PublicKey) ([KpubRxSize]byte, error) {
	var out [KpubRxSize]byte
	if pub == nil || pub.N.BitLen() != 1024 || pub.E >= 1<<24 {
		return out, ErrInvalidPublicKey
	}
	pub.N.FillBytes(out[:128])
	out[128] = byte(pub.E >> 16)
	out[129] = byte(pub.E >> 8)
	out[130] = byte(pub.E)
	return out, nil
}

// EncryptOAEP computes Ekpub(km) with RSAES-OAEP using SHA-256.
func EncryptOAEP(pub *rsa.PublicKey, km []byte, rand io.Reader) ([]byte, error) {
	return rsa.EncryptOAEP(sha256.New(), rand, pub, km, nil)
}

// VerifyPKCS1v15 checks an RSASSA-PKCS1-v1_5 SHA-256 signature over msg.
func VerifyPKCS1v15(pub *rsa.PublicKey, msg, sig []byte) error {
	if pub == nil {
		return ErrInvalidPublicKey
	}
	digest := sha256.Sum256(msg)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return ErrSignature
	}
	return nil
}
