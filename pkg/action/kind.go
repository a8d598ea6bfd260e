// Package action defines the secure action request: a tagged union of
// protocol operations, and the fixed-size working buffer it travels in.
package action

import "fmt"

// Kind tags a secure action. The zero value is never valid.
type Kind uint32

const (
	KindStartSession Kind = iota + 1
	KindVerifyCertificate
	KindKmKdGen
	KindValidateHprime
	KindLcInit
	KindValidateLprime
	KindEksGen
	KindControlEncryption
	KindValidateVprime
	KindValidateMprime
	KindWriteDpEcf
	KindEndSession
	KindSrmRevocation
	KindRegAccess
	KindHashCompute
	KindDeriveKey
	KindEncryptSecret
	KindDecryptSecret
	KindSaveSession
	KindRestoreSession

	kindEnd
)

var kindNames = [...]string{
	KindStartSession:      "StartSession",
	KindVerifyCertificate: "VerifyCertificate",
	KindKmKdGen:           "KmKdGen",
	KindValidateHprime:    "ValidateHprime",
	KindLcInit:            "LcInit",
	KindValidateLprime:    "ValidateLprime",
	KindEksGen:            "EksGen",
	KindControlEncryption: "ControlEncryption",
	KindValidateVprime:    "ValidateVprime",
	KindValidateMprime:    "ValidateMprime",
	KindWriteDpEcf:        "WriteDpEcf",
	KindEndSession:        "EndSession",
	KindSrmRevocation:     "SrmRevocation",
	KindRegAccess:         "RegAccess",
	KindHashCompute:       "HashCompute",
	KindDeriveKey:         "DeriveKey",
	KindEncryptSecret:     "EncryptSecret",
	KindDecryptSecret:     "DecryptSecret",
	KindSaveSession:       "SaveSession",
	KindRestoreSession:    "RestoreSession",
}

// String returns the kind name.
func (k Kind) String() string {
	if k.IsValid() {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint32(k))
}

// IsValid returns true for defined kinds.
func (k Kind) IsValid() bool {
	return k >= KindStartSession && k < kindEnd
}

// Kinds returns every defined kind in order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindEnd-KindStartSession)
	for k := KindStartSession; k < kindEnd; k++ {
		out = append(out, k)
	}
	return out
}

// CompletionState is written by the partition side of an isolated call.
type CompletionState uint32

const (
	StateIdle CompletionState = iota
	StateProcessing
	StateCompleted
)

// String returns the state name.
func (s CompletionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateProcessing:
		return "Processing"
	case StateCompleted:
		return "Completed"
	default:
		return fmt.Sprintf("CompletionState(%d)", uint32(s))
	}
}
