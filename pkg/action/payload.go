package action

import (
	"github.com/backkem/hdcp/pkg/crypto"
	"github.com/backkem/hdcp/pkg/store"
)

// Payload is one variant of the request union.
type Payload interface {
	Kind() Kind
}

// StartSession opens a new session on a controller. Rtx and Rn are
// returned for AKE_Init and the first LC_Init; TxCaps for AKE_Init.
type StartSession struct {
	ControllerIndex uint8              `cbor:"1,keyasint"`
	SublinkIndex    uint8              `cbor:"2,keyasint"`
	MultiStream     bool               `cbor:"3,keyasint"`
	Streams         []store.StreamDesc `cbor:"4,keyasint"`

	Rtx    [crypto.RtxSize]byte    `cbor:"5,keyasint"`
	Rn     [crypto.RnSize]byte     `cbor:"6,keyasint"`
	TxCaps [crypto.TxCapsSize]byte `cbor:"7,keyasint"`
}

// VerifyCertificate checks AKE_Send_Cert.
type VerifyCertificate struct {
	CertRx []byte                  `cbor:"1,keyasint"`
	Rrx    [crypto.RrxSize]byte    `cbor:"2,keyasint"`
	RxCaps [crypto.RxCapsSize]byte `cbor:"3,keyasint"`

	ReceiverID [crypto.ReceiverIDSize]byte `cbor:"4,keyasint"`
	Repeater   bool                        `cbor:"5,keyasint"`
}

// KmKdGen creates the master key (no stored km) or recovers it from a
// pairing blob (stored km), and derives kd.
type KmKdGen struct {
	Stored bool   `cbor:"1,keyasint"`
	CertRx []byte `cbor:"2,keyasint"`

	// WrappedKm is input with Stored and output without.
	WrappedKm []byte `cbor:"3,keyasint"`

	EkpubKm []byte `cbor:"4,keyasint"`
}

// ValidateHprime checks AKE_Send_H_prime.
type ValidateHprime struct {
	Hprime [crypto.HprimeSize]byte `cbor:"1,keyasint"`
}

// LcInit draws a fresh rn for a locality check retry.
type LcInit struct {
	Rn [crypto.RnSize]byte `cbor:"1,keyasint"`
}

// ValidateLprime checks LC_Send_L_prime.
type ValidateLprime struct {
	Lprime [crypto.LprimeSize]byte `cbor:"1,keyasint"`
}

// EksGen generates ks and riv and returns SKE_Send_Eks contents.
type EksGen struct {
	EdkeyKs [crypto.EdkeyKsSize]byte `cbor:"1,keyasint"`
	Riv     [crypto.RivSize]byte     `cbor:"2,keyasint"`
}

// ControlEncryption enables or disables link encryption.
type ControlEncryption struct {
	Enable bool `cbor:"1,keyasint"`
}

// ValidateVprime checks RepeaterAuth_Send_ReceiverID_List. V returns the
// least significant half of V for RepeaterAuth_Send_Ack.
type ValidateVprime struct {
	ReceiverIDList []byte                  `cbor:"1,keyasint"`
	RxInfo         [crypto.RxInfoSize]byte `cbor:"2,keyasint"`
	SeqNumV        [crypto.SeqNumSize]byte `cbor:"3,keyasint"`
	Vprime         [crypto.VHalfSize]byte  `cbor:"4,keyasint"`
	V              [crypto.VHalfSize]byte  `cbor:"5,keyasint"`
	DeviceCount    uint8                   `cbor:"6,keyasint"`
	Depth          uint8                   `cbor:"7,keyasint"`
}

// ValidateMprime covers RepeaterAuth_Stream_Manage. With Prepare the
// engine returns SeqNumM and StreamIDType for the outgoing message;
// without it Mprime is checked against them.
type ValidateMprime struct {
	Prepare      bool                    `cbor:"1,keyasint"`
	Mprime       [crypto.MprimeSize]byte `cbor:"2,keyasint"`
	SeqNumM      [crypto.SeqNumSize]byte `cbor:"3,keyasint"`
	StreamIDType []byte                  `cbor:"4,keyasint"`
}

// WriteDpEcf programs the DP MST encryption timeslot mask.
type WriteDpEcf struct {
	ControllerIndex uint8  `cbor:"1,keyasint"`
	Ecf             uint64 `cbor:"2,keyasint"`
}

// EndSession tears the session down and clears the link's snapshot.
type EndSession struct {
	Link store.LinkID `cbor:"1,keyasint"`
}

// SrmRevocation checks receiver ids against a System Renewability Message.
// A revoked id is reported through Revoked, not as an error.
type SrmRevocation struct {
	Srm         []byte `cbor:"1,keyasint"`
	ReceiverIDs []byte `cbor:"2,keyasint"`

	Version    uint16                      `cbor:"3,keyasint"`
	Generation uint8                       `cbor:"4,keyasint"`
	Revoked    bool                        `cbor:"5,keyasint"`
	RevokedID  [crypto.ReceiverIDSize]byte `cbor:"6,keyasint"`
}

// RegAccess reads or writes one link register.
type RegAccess struct {
	Write bool   `cbor:"1,keyasint"`
	Addr  uint32 `cbor:"2,keyasint"`
	Value uint32 `cbor:"3,keyasint"`
}

// HashCompute returns SHA-256 of Data.
type HashCompute struct {
	Data   []byte                  `cbor:"1,keyasint"`
	Digest [crypto.SHA256Size]byte `cbor:"2,keyasint"`
}

// DeriveKey encrypts one block under Key.
type DeriveKey struct {
	Key    [crypto.DKeySize]byte `cbor:"1,keyasint"`
	Input  [crypto.DKeySize]byte `cbor:"2,keyasint"`
	Output [crypto.DKeySize]byte `cbor:"3,keyasint"`
}

// EncryptSecret enciphers Data in place with the session cipher.
type EncryptSecret struct {
	Data []byte `cbor:"1,keyasint"`
}

// DecryptSecret deciphers Data in place with the session cipher.
type DecryptSecret struct {
	Data []byte `cbor:"1,keyasint"`
}

// SaveSession snapshots the live session crypto context.
type SaveSession struct {
	Link store.LinkID `cbor:"1,keyasint"`
}

// RestoreSession reinstates a snapshot.
type RestoreSession struct {
	Link store.LinkID `cbor:"1,keyasint"`
}

func (*StartSession) Kind() Kind      { return KindStartSession }
func (*VerifyCertificate) Kind() Kind { return KindVerifyCertificate }
func (*KmKdGen) Kind() Kind           { return KindKmKdGen }
func (*ValidateHprime) Kind() Kind    { return KindValidateHprime }
func (*LcInit) Kind() Kind            { return KindLcInit }
func (*ValidateLprime) Kind() Kind    { return KindValidateLprime }
func (*EksGen) Kind() Kind            { return KindEksGen }
func (*ControlEncryption) Kind() Kind { return KindControlEncryption }
func (*ValidateVprime) Kind() Kind    { return KindValidateVprime }
func (*ValidateMprime) Kind() Kind    { return KindValidateMprime }
func (*WriteDpEcf) Kind() Kind        { return KindWriteDpEcf }
func (*EndSession) Kind() Kind        { return KindEndSession }
func (*SrmRevocation) Kind() Kind     { return KindSrmRevocation }
func (*RegAccess) Kind() Kind         { return KindRegAccess }
func (*HashCompute) Kind() Kind       { return KindHashCompute }
func (*DeriveKey) Kind() Kind         { return KindDeriveKey }
func (*EncryptSecret) Kind() Kind     { return KindEncryptSecret }
func (*DecryptSecret) Kind() Kind     { return KindDecryptSecret }
func (*SaveSession) Kind() Kind       { return KindSaveSession }
func (*RestoreSession) Kind() Kind    { return KindRestoreSession }

// NewPayload returns an empty payload for k.
func NewPayload(k Kind) (Payload, error) {
	switch k {
	case KindStartSession:
		return &StartSession{}, nil
	case KindVerifyCertificate:
		return &VerifyCertificate{}, nil
	case KindKmKdGen:
		return &KmKdGen{}, nil
	case KindValidateHprime:
		return &ValidateHprime{}, nil
	case KindLcInit:
		return &LcInit{}, nil
	case KindValidateLprime:
		return &ValidateLprime{}, nil
	case KindEksGen:
		return &EksGen{}, nil
	case KindControlEncryption:
		return &ControlEncryption{}, nil
	case KindValidateVprime:
		return &ValidateVprime{}, nil
	case KindValidateMprime:
		return &ValidateMprime{}, nil
	case KindWriteDpEcf:
		return &WriteDpEcf{}, nil
	case KindEndSession:
		return &EndSession{}, nil
	case KindSrmRevocation:
		return &SrmRevocation{}, nil
	case KindRegAccess:
		return &RegAccess{}, nil
	case KindHashCompute:
		return &HashCompute{}, nil
	case KindDeriveKey:
		return &DeriveKey{}, nil
	case KindEncryptSecret:
		return &EncryptSecret{}, nil
	case KindDecryptSecret:
		return &DecryptSecret{}, nil
	case KindSaveSession:
		return &SaveSession{}, nil
	case KindRestoreSession:
		return &RestoreSession{}, nil
	default:
		return nil, ErrUnknownKind
	}
}
