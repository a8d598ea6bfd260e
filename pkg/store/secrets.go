package store

import (
	"encoding/binary"

	"github.com/backkem/hdcp/pkg/crypto"
)

// Store limits.
const (
	// MaxStreams is the number of stream descriptors a session can carry.
	MaxStreams = 8

	// CryptRandomSize is the size of the per-session cipher random.
	CryptRandomSize = 16

	// IntegritySize is the encoded size of SessionSecrets. It is a multiple
	// of the block cipher size.
	IntegritySize = 128
)

// Stream content types.
const (
	StreamType0 uint8 = 0x00 // may be passed to HDCP 1.x devices
	StreamType1 uint8 = 0x01 // HDCP 2.2+ only
)

// StreamDesc describes one content stream of a multi-stream link.
type StreamDesc struct {
	ID   uint8
	Type uint8
}

// SessionSecrets is the integrity-checked region of the secret store.
//
// The struct is encoded with encoding/binary so every field is fixed size;
// Reserved pads the region to a whole number of cipher blocks.
type SessionSecrets struct {
	ControllerIndex uint8
	SublinkIndex    uint8
	MultiStream     bool
	Repeater        bool
	NumStreams      uint8
	Streams         [MaxStreams]StreamDesc

	ReceiverID [crypto.ReceiverIDSize]byte
	Rtx        [crypto.RtxSize]byte
	Rrx        [crypto.RrxSize]byte
	Rn         [crypto.RnSize]byte
	Riv        [crypto.RivSize]byte
	RxCaps     [crypto.RxCapsSize]byte
	TxCaps     [crypto.TxCapsSize]byte

	// SeqNumV is the last accepted seq_num_V; SeqNumVSet is false until
	// the first RepeaterAuth_Send_ReceiverID_List is accepted.
	SeqNumV    uint32
	SeqNumVSet bool

	// SeqNumM is the next unused seq_num_M. MprimePending is set while a
	// prepared RepeaterAuth_Stream_Manage awaits its M'.
	SeqNumM       uint32
	MprimePending bool

	CryptRandom [CryptRandomSize]byte

	MaxControllers uint8
	MaxHeads       uint8

	PrevStage Stage
	Rejects   uint8 // receiver values rejected this session
	StoredKm  bool

	// KpubDigest is the SHA-256 of the receiver public key certified at
	// VerifyCertificate.
	KpubDigest [crypto.SHA256Size]byte

	Reserved [1]byte
}

// MarshalBinary encodes s into its fixed IntegritySize layout.
func (s *SessionSecrets) MarshalBinary() ([]byte, error) {
	return binary.Append(make([]byte, 0, IntegritySize), binary.BigEndian, s)
}

// UnmarshalBinary decodes the fixed layout into s.
func (s *SessionSecrets) UnmarshalBinary(data []byte) error {
	if len(data) != IntegritySize {
		return ErrCorruptRegion
	}
	if _, err := binary.Decode(data, binary.BigEndian, s); err != nil {
		return ErrCorruptRegion
	}
	return nil
}

// StreamTypes returns the active stream descriptors.
func (s *SessionSecrets) StreamTypes() []StreamDesc {
	n := int(s.NumStreams)
	if n > MaxStreams {
		n = MaxStreams
	}
	return s.Streams[:n]
}

// Confidential is the plaintext view of the confidentiality region. It only
// ever exists inside Store.Open and Store.Seal and is zeroed on return.
type Confidential struct {
	Km [crypto.KmSize]byte
	Kd [crypto.KdSize]byte
	Ks [crypto.KsSize]byte
}

// Zero clears all key material.
func (c *Confidential) Zero() {
	clear(c.Km[:])
	clear(c.Kd[:])
	clear(c.Ks[:])
}

// confidentialRegion holds the ciphertext of each key. Keys are enciphered
// independently so that the session key can be snapshotted on its own.
type confidentialRegion struct {
	EncKm [crypto.KmSize]byte
	EncKd [crypto.KdSize]byte
	EncKs [crypto.KsSize]byte
}

func (r *confidentialRegion) zero() {
	clear(r.EncKm[:])
	clear(r.EncKd[:])
	clear(r.EncKs[:])
}

// Snapshot is a suspended link crypto context.
type Snapshot struct {
	Valid       bool
	CryptRandom [CryptRandomSize]byte
	EncKs       [crypto.KsSize]byte
}

func (s *Snapshot) zero() {
	s.Valid = false
	clear(s.CryptRandom[:])
	clear(s.EncKs[:])
}
