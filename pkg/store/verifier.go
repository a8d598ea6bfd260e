package store

import (
	"github.com/backkem/hdcp/pkg/crypto"
)

// Verifier keeps the integrity region honest with a keyed digest.
type Verifier struct {
	alg     crypto.DigestAlgorithm
	key     []byte
	enabled bool
}

// NewVerifier returns a verifier. A disabled verifier accepts every check
// and leaves digests untouched.
func NewVerifier(alg crypto.DigestAlgorithm, key []byte, enabled bool) (*Verifier, error) {
	if !alg.IsValid() {
		return nil, crypto.ErrUnknownDigest
	}
	if enabled && len(key) != alg.KeySize() {
		return nil, ErrDigestKey
	}
	return &Verifier{alg: alg, key: append([]byte(nil), key...), enabled: enabled}, nil
}

// Enabled reports whether digests are computed.
func (v *Verifier) Enabled() bool { return v.enabled }

// Algorithm returns the digest algorithm.
func (v *Verifier) Algorithm() crypto.DigestAlgorithm { return v.alg }

// CheckOrUpdate computes the digest of data. With isUpdate it stores the
// digest into *digest; otherwise it compares in constant time and returns
// ErrIntegrity on mismatch.
func (v *Verifier) CheckOrUpdate(data []byte, digest *[crypto.DigestSize]byte, isUpdate bool) error {
	if !v.enabled {
		return nil
	}
	sum, err := crypto.KeyedDigest(v.alg, v.key, data)
	if err != nil {
		return err
	}
	if isUpdate {
		*digest = sum
		return nil
	}
	if !crypto.HMACEqual(sum[:], digest[:]) {
		return ErrIntegrity
	}
	return nil
}

// Zero clears the digest key.
func (v *Verifier) Zero() {
	clear(v.key)
}
