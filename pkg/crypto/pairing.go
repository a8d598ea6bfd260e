package crypto

import (
	"errors"
	"io"
)

// WrappedKmSize is the size of a wrapped master key: nonce || ciphertext || tag.
const WrappedKmSize = AESCCMNonceSize + KmSize + AESCCMTagSize

// ErrWrappedKmSize is returned when a wrapped master key has the wrong length.
var ErrWrappedKmSize = errors.New("pairing: invalid wrapped km size")

// WrapKm seals km under the engine pairing key, binding it to the receiver id.
// The result is opaque to the host and can be stored in its pairing cache.
func WrapKm(pairingKey, receiverID, km []byte, rand io.Reader) ([WrappedKmSize]byte, error) {
	var out [WrappedKmSize]byte
	if len(km) != KmSize {
		return out, ErrInvalidKeySize
	}
	ccm, err := NewAESCCM(pairingKey)
	if err != nil {
		return out, err
	}
	nonce := out[:AESCCMNonceSize]
	if _, err := io.ReadFull(rand, nonce); err != nil {
		return out, err
	}
	sealed, err := ccm.Seal(nonce, km, receiverID)
	if err != nil {
		return out, err
	}
	copy(out[AESCCMNonceSize:], sealed)
	return out, nil
}

// UnwrapKm reverses WrapKm into dst. It fails with ErrAESCCMAuthFailed when
// the blob was produced for a different receiver or pairing key.
func UnwrapKm(pairingKey, receiverID []byte, wrapped [WrappedKmSize]byte, dst []byte) error {
	if len(dst) != KmSize {
		return ErrInvalidKeySize
	}
	ccm, err := NewAESCCM(pairingKey)
	if err != nil {
		return err
	}
	km, err := ccm.Open(wrapped[:AESCCMNonceSize], wrapped[AESCCMNonceSize:], receiverID)
	if err != nil {
		return err
	}
	copy(dst, km)
	clear(km)
	return nil
}
