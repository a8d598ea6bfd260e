package store

import "fmt"

// Stage is the protocol stage last completed on the link. It is recorded in
// the integrity region so that out-of-order actions are rejected.
//
// There is no separate Ended stage: EndSession zeroes the store, which reads
// back as StageIdle.
type Stage uint8

const (
	StageIdle Stage = iota
	StageStarted
	StageCertificateVerified
	StageKeysDerived
	StageHprimeValidated
	StageLCValidated
	StageSessionKeyed
	StageEncryptionControlled
	StageRepeaterValidated
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "Idle"
	case StageStarted:
		return "Started"
	case StageCertificateVerified:
		return "CertificateVerified"
	case StageKeysDerived:
		return "KeysDerived"
	case StageHprimeValidated:
		return "HprimeValidated"
	case StageLCValidated:
		return "LCValidated"
	case StageSessionKeyed:
		return "SessionKeyed"
	case StageEncryptionControlled:
		return "EncryptionControlled"
	case StageRepeaterValidated:
		return "RepeaterValidated"
	default:
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
}

// IsValid returns true for defined stages.
func (s Stage) IsValid() bool {
	return s <= StageRepeaterValidated
}

// CipherMode selects the confidential cipher.
type CipherMode int

const (
	// CipherBlock is AES-128-CBC keyed from the session random. Default.
	CipherBlock CipherMode = iota

	// CipherMask XORs with an HKDF-expanded mask of the session random.
	CipherMask
)

// String returns the mode name as used in settings files.
func (m CipherMode) String() string {
	switch m {
	case CipherBlock:
		return "block"
	case CipherMask:
		return "mask"
	default:
		return "unknown"
	}
}

// IsValid returns true for defined modes.
func (m CipherMode) IsValid() bool {
	return m == CipherBlock || m == CipherMask
}

// ParseCipherMode parses the String form of a mode.
func ParseCipherMode(s string) (CipherMode, error) {
	switch s {
	case "block", "":
		return CipherBlock, nil
	case "mask":
		return CipherMask, nil
	default:
		return 0, ErrUnknownCipher
	}
}
