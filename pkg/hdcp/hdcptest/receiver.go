// Package hdcptest provides a simulated HDCP 2.2 receiver and repeater, a
// test DCP LLC trust anchor and simulated display hardware for exercising
// the engine end to end.
package hdcptest

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	hcrypto "github.com/backkem/hdcp/pkg/crypto"
	"github.com/backkem/hdcp/pkg/srm"
)

var (
	dcpOnce sync.Once
	dcpKey  *rsa.PrivateKey
	dcpErr  error
)

// DCP returns the test DCP LLC signing key. It is generated once per process.
func DCP() *rsa.PrivateKey {
	dcpOnce.Do(func() {
		dcpKey, dcpErr = rsa.GenerateKey(rand.Reader, 3072)
	})
	if dcpErr != nil {
		panic(fmt.Sprintf("hdcptest: DCP key generation failed: %v", dcpErr))
	}
	return dcpKey
}

// Default receiver ids, each with twenty bits set.
var (
	ReceiverA = [hcrypto.ReceiverIDSize]byte{0x8b, 0xa4, 0x47, 0x42, 0xfb}
	ReceiverB = [hcrypto.ReceiverIDSize]byte{0x0f, 0x0f, 0x0f, 0x0f, 0x0f}
	ReceiverC = [hcrypto.ReceiverIDSize]byte{0xf0, 0xf0, 0xf0, 0xf0, 0xf0}
	ReceiverD = [hcrypto.ReceiverIDSize]byte{0xff, 0xff, 0xf0, 0x00, 0x00}
)

// ErrProtocol is returned when the engine sends the receiver something it
// would reject.
var ErrProtocol = errors.New("hdcptest: receiver rejected message")

// ReceiverConfig configures a simulated receiver.
type ReceiverConfig struct {
	ID [hcrypto.ReceiverIDSize]byte

	// Repeater makes the device report REPEATER in RxCaps.
	Repeater bool

	// Downstream lists the receiver ids behind a repeater.
	Downstream [][hcrypto.ReceiverIDSize]byte
	Depth      uint8

	MaxDevsExceeded    bool
	MaxCascadeExceeded bool

	// Signer signs the certificate. Defaults to DCP().
	Signer *rsa.PrivateKey
}

// Receiver is the receiver side of an HDCP 2.2 session.
type Receiver struct {
	cfg  ReceiverConfig
	key  *rsa.PrivateKey
	cert [hcrypto.CertRxSize]byte
	caps [hcrypto.RxCapsSize]byte

	rtx    [hcrypto.RtxSize]byte
	rrx    [hcrypto.RrxSize]byte
	txCaps [hcrypto.TxCapsSize]byte
	km     [hcrypto.KmSize]byte
	kd     [hcrypto.KdSize]byte
	ks     [hcrypto.KsSize]byte
	riv    [hcrypto.RivSize]byte
	seqV   uint32
	haveKm bool
}

// NewReceiver creates a receiver with a fresh 1024-bit key pair and a
// certificate signed by cfg.Signer.
func NewReceiver(cfg ReceiverConfig) (*Receiver, error) {
	if cfg.ID == ([hcrypto.ReceiverIDSize]byte{}) {
		cfg.ID = ReceiverA
	}
	if cfg.Signer == nil {
		cfg.Signer = DCP()
	}
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		return nil, err
	}
	r := &Receiver{cfg: cfg, key: key}
	r.caps = [hcrypto.RxCapsSize]byte{0x02, 0x00, 0x00}
	if cfg.Repeater {
		r.caps[2] |= 0x01
	}

	kpub, err := hcrypto.EncodeReceiverPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	copy(r.cert[:], cfg.ID[:])
	copy(r.cert[hcrypto.CertKpubOffset:], kpub[:])
	// protocol descriptor 0, reserved zero
	digest := sha256.Sum256(r.cert[:hcrypto.CertSignedSize])
	sig, err := rsa.SignPKCS1v15(rand.Reader, cfg.Signer, crypto.SHA256, digest[:])
	if err != nil {
		return nil, err
	}
	if len(sig) != hcrypto.DCPSigSize {
		return nil, fmt.Errorf("hdcptest: signer produced %d-byte signature", len(sig))
	}
	copy(r.cert[hcrypto.CertSigOffset:], sig)
	return r, nil
}

// ID returns the receiver id.
func (r *Receiver) ID() [hcrypto.ReceiverIDSize]byte { return r.cfg.ID }

// Cert returns a copy of cert_rx.
func (r *Receiver) Cert() []byte { return append([]byte(nil), r.cert[:]...) }

// AKEInit handles AKE_Init and returns the AKE_Send_Cert contents.
func (r *Receiver) AKEInit(rtx [hcrypto.RtxSize]byte, txCaps [hcrypto.TxCapsSize]byte) (cert []byte, rrx [hcrypto.RrxSize]byte, rxCaps [hcrypto.RxCapsSize]byte, err error) {
	r.rtx = rtx
	r.txCaps = txCaps
	r.seqV = 0
	if _, err := rand.Read(r.rrx[:]); err != nil {
		return nil, rrx, rxCaps, err
	}
	return r.Cert(), r.rrx, r.caps, nil
}

// NoStoredKm handles AKE_No_Stored_km and returns H'.
func (r *Receiver) NoStoredKm(ekpubKm []byte) ([hcrypto.HprimeSize]byte, error) {
	km, err := rsa.DecryptOAEP(sha256.New(), nil, r.key, ekpubKm, nil)
	if err != nil || len(km) != hcrypto.KmSize {
		return [hcrypto.HprimeSize]byte{}, ErrProtocol
	}
	copy(r.km[:], km)
	r.haveKm = true
	return r.hprime()
}

// StoredKm handles AKE_Stored_km by reusing the km paired earlier.
func (r *Receiver) StoredKm() ([hcrypto.HprimeSize]byte, error) {
	if !r.haveKm {
		return [hcrypto.HprimeSize]byte{}, ErrProtocol
	}
	return r.hprime()
}

func (r *Receiver) hprime() ([hcrypto.HprimeSize]byte, error) {
	kd, err := hcrypto.DeriveKd(r.km[:], r.rtx[:], r.rrx[:])
	if err != nil {
		return [hcrypto.HprimeSize]byte{}, err
	}
	r.kd = kd
	m := hmac.New(sha256.New, r.kd[:])
	m.Write(r.rtx[:])
	m.Write(r.caps[:])
	m.Write(r.txCaps[:])
	var h [hcrypto.HprimeSize]byte
	copy(h[:], m.Sum(nil))
	return h, nil
}

// LCInit handles LC_Init and returns L'.
func (r *Receiver) LCInit(rn [hcrypto.RnSize]byte) [hcrypto.LprimeSize]byte {
	key := r.kd
	for i := 0; i < hcrypto.RrxSize; i++ {
		key[hcrypto.KdSize-hcrypto.RrxSize+i] ^= r.rrx[i]
	}
	m := hmac.New(sha256.New, key[:])
	m.Write(rn[:])
	var l [hcrypto.LprimeSize]byte
	copy(l[:], m.Sum(nil))
	return l
}

// SendEks handles SKE_Send_Eks and recovers ks.
func (r *Receiver) SendEks(edkeyKs [hcrypto.EdkeyKsSize]byte, riv [hcrypto.RivSize]byte, rn [hcrypto.RnSize]byte) error {
	dkey2, err := hcrypto.DeriveDKey(r.km[:], rn[:], r.rtx[:], r.rrx[:], 2)
	if err != nil {
		return err
	}
	for i := 0; i < hcrypto.RrxSize; i++ {
		dkey2[hcrypto.DKeySize-hcrypto.RrxSize+i] ^= r.rrx[i]
	}
	for i := range r.ks {
		r.ks[i] = edkeyKs[i] ^ dkey2[i]
	}
	r.riv = riv
	return nil
}

// SessionKey returns the ks recovered by SendEks.
func (r *Receiver) SessionKey() [hcrypto.KsSize]byte { return r.ks }

// Riv returns the riv received with SendEks.
func (r *Receiver) Riv() [hcrypto.RivSize]byte { return r.riv }

// ReceiverIDList builds RepeaterAuth_Send_ReceiverID_List. Each call uses
// the next seq_num_V.
func (r *Receiver) ReceiverIDList() (list []byte, rxInfo [hcrypto.RxInfoSize]byte, seqNumV [hcrypto.SeqNumSize]byte, vprime [hcrypto.VHalfSize]byte, err error) {
	if !r.cfg.Repeater {
		return nil, rxInfo, seqNumV, vprime, ErrProtocol
	}
	for _, id := range r.cfg.Downstream {
		list = append(list, id[:]...)
	}
	v := uint16(r.cfg.Depth&0x07)<<9 | uint16(len(r.cfg.Downstream)&0x1f)<<4
	if r.cfg.MaxDevsExceeded {
		v |= 1 << 3
	}
	if r.cfg.MaxCascadeExceeded {
		v |= 1 << 2
	}
	binary.BigEndian.PutUint16(rxInfo[:], v)
	seqNumV = [hcrypto.SeqNumSize]byte{byte(r.seqV >> 16), byte(r.seqV >> 8), byte(r.seqV)}
	r.seqV++

	full := r.v(list, rxInfo, seqNumV)
	copy(vprime[:], full[:hcrypto.VHalfSize])
	return list, rxInfo, seqNumV, vprime, nil
}

func (r *Receiver) v(list []byte, rxInfo [hcrypto.RxInfoSize]byte, seqNumV [hcrypto.SeqNumSize]byte) [hcrypto.VSize]byte {
	m := hmac.New(sha256.New, r.kd[:])
	m.Write(list)
	m.Write(rxInfo[:])
	m.Write(seqNumV[:])
	var out [hcrypto.VSize]byte
	copy(out[:], m.Sum(nil))
	return out
}

// CheckAck verifies RepeaterAuth_Send_Ack for the most recent list.
func (r *Receiver) CheckAck(list []byte, rxInfo [hcrypto.RxInfoSize]byte, seqNumV [hcrypto.SeqNumSize]byte, ack [hcrypto.VHalfSize]byte) bool {
	full := r.v(list, rxInfo, seqNumV)
	return hmac.Equal(full[hcrypto.VHalfSize:], ack[:])
}

// StreamManage handles RepeaterAuth_Stream_Manage and returns M'.
func (r *Receiver) StreamManage(seqNumM [hcrypto.SeqNumSize]byte, streamIDType []byte) [hcrypto.MprimeSize]byte {
	key := sha256.Sum256(r.kd[:])
	m := hmac.New(sha256.New, key[:])
	m.Write(streamIDType)
	m.Write(seqNumM[:])
	var out [hcrypto.MprimeSize]byte
	copy(out[:], m.Sum(nil))
	return out
}

// SRM returns an SRM signed by the test DCP key revoking ids.
func SRM(version uint16, ids ...[hcrypto.ReceiverIDSize]byte) ([]byte, error) {
	return srm.Build(DCP(), version, ids)
}
