// AES-128-CCM (NIST 800-38C, RFC 3610) used to wrap the master key handed to
// the host pairing cache. Parameters are fixed to a 13-byte nonce and a
// 16-byte tag.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

const (
	// AESCCMKeySize is the AES-128 key size in bytes.
	AESCCMKeySize = 16

	// AESCCMTagSize is the authentication tag size in bytes.
	AESCCMTagSize = 16

	// AESCCMNonceSize is the nonce size in bytes.
	AESCCMNonceSize = 13

	aesBlockSize = 16
	ccmLenSize   = 15 - AESCCMNonceSize
)

var (
	ErrAESCCMInvalidKeySize     = errors.New("aesccm: invalid key size, must be 16 bytes")
	ErrAESCCMInvalidNonceSize   = errors.New("aesccm: invalid nonce size")
	ErrAESCCMPlaintextTooLong   = errors.New("aesccm: plaintext too long")
	ErrAESCCMCiphertextTooShort = errors.New("aesccm: ciphertext too short")
	ErrAESCCMAuthFailed         = errors.New("aesccm: message authentication failed")
)

// AESCCM is an AES-128-CCM AEAD instance.
type AESCCM struct {
	block cipher.Block
}

// NewAESCCM creates an AES-128-CCM instance. The key must be 16 bytes.
func NewAESCCM(key []byte) (*AESCCM, error) {
	if len(key) != AESCCMKeySize {
		return nil, ErrAESCCMInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &AESCCM{block: block}, nil
}

// Seal encrypts and authenticates plaintext with associated data.
// Returns ciphertext || tag.
func (c *AESCCM) Seal(nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != AESCCMNonceSize {
		return nil, ErrAESCCMInvalidNonceSize
	}
	if len(plaintext) > (1<<(8*ccmLenSize))-1 {
		return nil, ErrAESCCMPlaintextTooLong
	}

	tag := c.computeTag(nonce, plaintext, aad)
	out := make([]byte, len(plaintext)+AESCCMTagSize)

	s0 := c.counterBlock(nonce, 0)
	for i := 0; i < AESCCMTagSize; i++ {
		out[len(plaintext)+i] = tag[i] ^ s0[i]
	}
	c.ctr(nonce, out[:len(plaintext)], plaintext)
	return out, nil
}

// Open verifies and decrypts ciphertext || tag.
func (c *AESCCM) Open(nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != AESCCMNonceSize {
		return nil, ErrAESCCMInvalidNonceSize
	}
	if len(ciphertext) < AESCCMTagSize {
		return nil, ErrAESCCMCiphertextTooShort
	}

	data := ciphertext[:len(ciphertext)-AESCCMTagSize]
	encTag := ciphertext[len(ciphertext)-AESCCMTagSize:]

	s0 := c.counterBlock(nonce, 0)
	var received [AESCCMTagSize]byte
	for i := range received {
		received[i] = encTag[i] ^ s0[i]
	}

	plaintext := make([]byte, len(data))
	c.ctr(nonce, plaintext, data)

	expected := c.computeTag(nonce, plaintext, aad)
	if subtle.ConstantTimeCompare(received[:], expected) != 1 {
		clear(plaintext)
		return nil, ErrAESCCMAuthFailed
	}
	return plaintext, nil
}

// computeTag computes the CBC-MAC over B0, the encoded AAD and the plaintext.
func (c *AESCCM) computeTag(nonce, plaintext, aad []byte) []byte {
	var b0 [aesBlockSize]byte
	if len(aad) > 0 {
		b0[0] |= 1 << 6
	}
	b0[0] |= byte((AESCCMTagSize-2)/2) << 3
	b0[0] |= byte(ccmLenSize - 1)
	copy(b0[1:], nonce)
	binary.BigEndian.PutUint16(b0[aesBlockSize-ccmLenSize:], uint16(len(plaintext)))

	mac := make([]byte, aesBlockSize)
	c.block.Encrypt(mac, b0[:])

	if len(aad) > 0 {
		// AAD shorter than 2^16-2^8 uses a two byte length prefix; the
		// engine never authenticates more than a receiver id.
		encoded := make([]byte, 2+len(aad))
		binary.BigEndian.PutUint16(encoded, uint16(len(aad)))
		copy(encoded[2:], aad)
		c.cbcMAC(mac, encoded)
	}
	c.cbcMAC(mac, plaintext)
	return mac[:AESCCMTagSize]
}

// cbcMAC folds data into mac, zero padding the final block.
func (c *AESCCM) cbcMAC(mac, data []byte) {
	for len(data) > 0 {
		var block [aesBlockSize]byte
		n := copy(block[:], data)
		data = data[n:]
		subtle.XORBytes(mac, mac, block[:])
		c.block.Encrypt(mac, mac)
	}
}

// counterBlock returns E(K, A_i).
func (c *AESCCM) counterBlock(nonce []byte, i uint16) []byte {
	var a [aesBlockSize]byte
	a[0] = byte(ccmLenSize - 1)
	copy(a[1:], nonce)
	binary.BigEndian.PutUint16(a[aesBlockSize-ccmLenSize:], i)
	s := make([]byte, aesBlockSize)
	c.block.Encrypt(s, a[:])
	return s
}

// ctr XORs src with the CCM keystream starting at counter 1.
func (c *AESCCM) ctr(nonce []byte, dst, src []byte) {
	for i, n := 0, uint16(1); i < len(src); i, n = i+aesBlockSize, n+1 {
		ks := c.counterBlock(nonce, n)
		end := min(i+aesBlockSize, len(src))
		subtle.XORBytes(dst[i:end], src[i:end], ks)
	}
}
