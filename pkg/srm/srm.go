// Package srm parses and verifies HDCP 2 System Renewability Messages.
//
// An SRM is a header followed by one first-generation revocation list and
// optionally further next-generation lists. Every generation carries its own
// DCP LLC signature; the first one also covers the header.
package srm

import (
	"crypto/rsa"
	"encoding/binary"
	"fmt"

	"github.com/backkem/hdcp/pkg/crypto"
	"github.com/backkem/hdcp/pkg/status"
)

// SRM layout constants.
const (
	// ID is the SRM ID / HDCP2 indicator byte of an HDCP 2 SRM.
	ID = 0x91

	HeaderSize = 5 // id, reserved, version(2), generation
	// first generation: length(3), count(10 bits) then 22 reserved bits
	firstPrefixSize = 7
	// next generation: length(2), count(10 bits) then 6 reserved bits
	nextPrefixSize = 4

	// MaxFirstGenSize bounds the first generation, signature included.
	MaxFirstGenSize = 5 * 1024

	// MaxDevices is the 10-bit device count limit per generation.
	MaxDevices = 1023
)

// SRM errors.
var (
	ErrMalformed   = fmt.Errorf("srm: malformed message: %w", status.InvalidArgument)
	ErrSignature   = fmt.Errorf("srm: signature verification failed: %w", status.ValidationFailure)
	ErrIDList      = fmt.Errorf("srm: receiver id list not a multiple of 5 bytes: %w", status.InvalidArgument)
	ErrGeneration  = fmt.Errorf("srm: generation count does not match header: %w", status.InvalidArgument)
	ErrNoTrustRoot = fmt.Errorf("srm: no DCP trust anchor: %w", status.NotSupported)
)

// SignatureVerifier checks a DCP LLC signature. crypto.Provider implements it.
type SignatureVerifier interface {
	VerifySignature(trust *rsa.PublicKey, msg, sig []byte) error
}

type generation struct {
	signed []byte
	sig    []byte
}

// SRM is a parsed System Renewability Message.
type SRM struct {
	Version    uint16
	Generation uint8

	revoked     map[[crypto.ReceiverIDSize]byte]struct{}
	generations []generation
}

// Parse decodes the structure of data. It does not verify signatures.
func Parse(data []byte) (*SRM, error) {
	if len(data) < HeaderSize+firstPrefixSize+crypto.DCPSigSize {
		return nil, ErrMalformed
	}
	if data[0] != ID {
		return nil, ErrMalformed
	}
	s := &SRM{
		Version:    binary.BigEndian.Uint16(data[2:4]),
		Generation: data[4],
		revoked:    make(map[[crypto.ReceiverIDSize]byte]struct{}),
	}
	if s.Generation == 0 {
		return nil, ErrGeneration
	}

	// First generation. Its length counts itself and the signature.
	p := data[HeaderSize:]
	length := int(p[0])<<16 | int(p[1])<<8 | int(p[2])
	if length < firstPrefixSize+crypto.DCPSigSize || length > MaxFirstGenSize || length > len(p) {
		return nil, ErrMalformed
	}
	count := deviceCount(p[3:])
	ids := p[firstPrefixSize : length-crypto.DCPSigSize]
	if len(ids) != count*crypto.ReceiverIDSize {
		return nil, ErrMalformed
	}
	s.addIDs(ids)
	s.generations = append(s.generations, generation{
		signed: data[:HeaderSize+length-crypto.DCPSigSize],
		sig:    p[length-crypto.DCPSigSize : length],
	})
	p = p[length:]

	// Next generations.
	for len(p) > 0 {
		if len(p) < nextPrefixSize+crypto.DCPSigSize {
			return nil, ErrMalformed
		}
		length := int(binary.BigEndian.Uint16(p[0:2]))
		if length < nextPrefixSize+crypto.DCPSigSize || length > len(p) {
			return nil, ErrMalformed
		}
		count := deviceCount(p[2:])
		ids := p[nextPrefixSize : length-crypto.DCPSigSize]
		if len(ids) != count*crypto.ReceiverIDSize {
			return nil, ErrMalformed
		}
		s.addIDs(ids)
		s.generations = append(s.generations, generation{
			signed: p[:length-crypto.DCPSigSize],
			sig:    p[length-crypto.DCPSigSize : length],
		})
		p = p[length:]
	}

	if len(s.generations) != int(s.Generation) {
		return nil, ErrGeneration
	}
	return s, nil
}

// deviceCount reads the 10-bit Number of Devices from the top of b.
func deviceCount(b []byte) int {
	return int(b[0])<<2 | int(b[1])>>6
}

func (s *SRM) addIDs(ids []byte) {
	for i := 0; i+crypto.ReceiverIDSize <= len(ids); i += crypto.ReceiverIDSize {
		var id [crypto.ReceiverIDSize]byte
		copy(id[:], ids[i:])
		s.revoked[id] = struct{}{}
	}
}

// Verify checks the signature of every generation.
func (s *SRM) Verify(v SignatureVerifier, trust *rsa.PublicKey) error {
	if trust == nil {
		return ErrNoTrustRoot
	}
	for _, g := range s.generations {
		if err := v.VerifySignature(trust, g.signed, g.sig); err != nil {
			return fmt.Errorf("%w: %w", ErrSignature, err)
		}
	}
	return nil
}

// Len returns the number of revoked receiver ids.
func (s *SRM) Len() int { return len(s.revoked) }

// IsRevoked reports whether id is on the revocation list.
func (s *SRM) IsRevoked(id [crypto.ReceiverIDSize]byte) bool {
	_, ok := s.revoked[id]
	return ok
}

// Check looks up a concatenated list of receiver ids and returns the first
// revoked one.
func (s *SRM) Check(ids []byte) (revoked bool, id [crypto.ReceiverIDSize]byte, err error) {
	if len(ids)%crypto.ReceiverIDSize != 0 {
		return false, id, ErrIDList
	}
	for i := 0; i < len(ids); i += crypto.ReceiverIDSize {
		copy(id[:], ids[i:])
		if s.IsRevoked(id) {
			return true, id, nil
		}
	}
	return false, [crypto.ReceiverIDSize]byte{}, nil
}
