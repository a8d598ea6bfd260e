package store

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/backkem/hdcp/pkg/crypto"
)

// wordSize is the granularity every confidential buffer must respect.
const wordSize = 4

// Cipher enciphers confidential region fields with a session random.
//
// Buffers must be a whole number of 32-bit words and of BlockSize bytes;
// anything else fails with ErrCipherLength. dst and src may alias.
type Cipher interface {
	Encrypt(random, dst, src []byte) error
	Decrypt(random, dst, src []byte) error
	BlockSize() int
	Mode() CipherMode
}

// NewCipher returns the cipher for mode.
func NewCipher(mode CipherMode) (Cipher, error) {
	switch mode {
	case CipherBlock:
		return BlockCipher{}, nil
	case CipherMask:
		return MaskCipher{}, nil
	default:
		return nil, ErrUnknownCipher
	}
}

func checkLengths(c Cipher, random, dst, src []byte) error {
	if len(random) < CryptRandomSize {
		return ErrRandomSize
	}
	if len(src)%wordSize != 0 || len(src)%c.BlockSize() != 0 {
		return ErrCipherLength
	}
	if len(dst) < len(src) {
		return ErrBufferSize
	}
	return nil
}

var (
	maskInfo  = []byte("hdcp-store-mask")
	blockInfo = []byte("hdcp-store-block")
)

// MaskCipher XORs the buffer with HKDF-SHA256(random) output.
type MaskCipher struct{}

var _ Cipher = MaskCipher{}

func (MaskCipher) BlockSize() int   { return wordSize }
func (MaskCipher) Mode() CipherMode { return CipherMask }

func (m MaskCipher) Encrypt(random, dst, src []byte) error {
	if err := checkLengths(m, random, dst, src); err != nil {
		return err
	}
	if len(src) == 0 {
		return nil
	}
	mask, err := crypto.HKDFSHA256(random, nil, maskInfo, len(src))
	if err != nil {
		return err
	}
	defer clear(mask)
	for i := range src {
		dst[i] = src[i] ^ mask[i]
	}
	return nil
}

func (m MaskCipher) Decrypt(random, dst, src []byte) error {
	return m.Encrypt(random, dst, src)
}

// BlockCipher is AES-128-CBC with key and IV expanded from the random.
type BlockCipher struct{}

var _ Cipher = BlockCipher{}

func (BlockCipher) BlockSize() int   { return aes.BlockSize }
func (BlockCipher) Mode() CipherMode { return CipherBlock }

func (b BlockCipher) keyIV(random []byte) (cipher.Block, []byte, error) {
	okm, err := crypto.HKDFSHA256(random, nil, blockInfo, 2*aes.BlockSize)
	if err != nil {
		return nil, nil, err
	}
	block, err := aes.NewCipher(okm[:aes.BlockSize])
	if err != nil {
		clear(okm)
		return nil, nil, err
	}
	iv := make([]byte, aes.BlockSize)
	copy(iv, okm[aes.BlockSize:])
	clear(okm)
	return block, iv, nil
}

func (b BlockCipher) Encrypt(random, dst, src []byte) error {
	if err := checkLengths(b, random, dst, src); err != nil {
		return err
	}
	if len(src) == 0 {
		return nil
	}
	block, iv, err := b.keyIV(random)
	if err != nil {
		return err
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(dst[:len(src)], src)
	return nil
}

func (b BlockCipher) Decrypt(random, dst, src []byte) error {
	if err := checkLengths(b, random, dst, src); err != nil {
		return err
	}
	if len(src) == 0 {
		return nil
	}
	block, iv, err := b.keyIV(random)
	if err != nil {
		return err
	}
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(dst[:len(src)], src)
	return nil
}
