package crypto

import (
	"crypto/aes"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

var (
	ErrInvalidKeySize   = errors.New("crypto: invalid key size")
	ErrInvalidNonceSize = errors.New("crypto: invalid nonce size")
	ErrInvalidBlockSize = errors.New("crypto: invalid block size")
)

// AESEncryptBlock encrypts a single 16-byte block under a 16-byte key.
func AESEncryptBlock(key, in []byte) ([DKeySize]byte, error) {
	var out [DKeySize]byte
	if len(key) != DKeySize {
		return out, ErrInvalidKeySize
	}
	if len(in) != aesBlockSize {
		return out, ErrInvalidBlockSize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return out, err
	}
	block.Encrypt(out[:], in)
	return out, nil
}

// DeriveDKey computes dkey_ctr of the HDCP 2.2 key derivation:
//
//	dkey_ctr = AES(km XOR (0^64 || rn), rtx || (rrx XOR ctr))
//
// rn is all zero while deriving kd during AKE.
func DeriveDKey(km, rn, rtx, rrx []byte, ctr uint64) ([DKeySize]byte, error) {
	if len(km) != KmSize {
		return [DKeySize]byte{}, ErrInvalidKeySize
	}
	if len(rn) != RnSize || len(rtx) != RtxSize || len(rrx) != RrxSize {
		return [DKeySize]byte{}, ErrInvalidNonceSize
	}

	var key [KmSize]byte
	copy(key[:], km)
	subtle.XORBytes(key[KmSize-RnSize:], key[KmSize-RnSize:], rn)
	defer clear(key[:])

	var in [aesBlockSize]byte
	copy(in[:RtxSize], rtx)
	binary.BigEndian.PutUint64(in[RtxSize:], binary.BigEndian.Uint64(rrx)^ctr)

	return AESEncryptBlock(key[:], in[:])
}

// DeriveKd computes kd = dkey0 || dkey1 with rn = 0.
func DeriveKd(km, rtx, rrx []byte) ([KdSize]byte, error) {
	var kd [KdSize]byte
	var zeroRn [RnSize]byte
	for i := uint64(0); i < 2; i++ {
		dkey, err := DeriveDKey(km, zeroRn[:], rtx, rrx, i)
		if err != nil {
			clear(kd[:])
			return kd, err
		}
		copy(kd[i*DKeySize:], dkey[:])
		clear(dkey[:])
	}
	return kd, nil
}

// XORTail XORs src into the least significant (trailing) bytes of dst.
func XORTail(dst, src []byte) {
	if len(src) > len(dst) {
		return
	}
	tail := dst[len(dst)-len(src):]
	subtle.XORBytes(tail, tail, src)
}
