package hdcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/crypto"
	"github.com/backkem/hdcp/pkg/status"
)

// DefaultLocalityRetries is the number of LC_Init retries after the first
// locality check, as allowed by HDCP 2.2.
const DefaultLocalityRetries = 1023

// Receiver is the far end of the link as seen by the transmitter protocol
// layer. Each method sends one message and returns the receiver's reply.
type Receiver interface {
	AKEInit(rtx [crypto.RtxSize]byte, txCaps [crypto.TxCapsSize]byte) (cert []byte, rrx [crypto.RrxSize]byte, rxCaps [crypto.RxCapsSize]byte, err error)
	NoStoredKm(ekpubKm []byte) ([crypto.HprimeSize]byte, error)
	StoredKm() ([crypto.HprimeSize]byte, error)
	LCInit(rn [crypto.RnSize]byte) [crypto.LprimeSize]byte
	SendEks(edkeyKs [crypto.EdkeyKsSize]byte, riv [crypto.RivSize]byte, rn [crypto.RnSize]byte) error
}

// Repeater is a Receiver that forwards content downstream.
type Repeater interface {
	Receiver
	ReceiverIDList() (list []byte, rxInfo [crypto.RxInfoSize]byte, seqNumV [crypto.SeqNumSize]byte, vprime [crypto.VHalfSize]byte, err error)
	StreamManage(seqNumM [crypto.SeqNumSize]byte, streamIDType []byte) [crypto.MprimeSize]byte
}

// AuthOptions controls Authenticate.
type AuthOptions struct {
	// Start opens the session. Its nonces are filled in.
	Start action.StartSession

	// Pairing is a wrapped km from an earlier session with the same
	// receiver. When set, the stored-km exchange is used.
	Pairing []byte

	// LocalityRetries bounds LC_Init retries (default DefaultLocalityRetries).
	LocalityRetries int

	// Encrypt enables link encryption once the session key is exchanged.
	Encrypt bool

	// StreamManage runs RepeaterAuth_Stream_Manage after a repeater's
	// receiver id list is accepted.
	StreamManage bool
}

// AuthResult reports the outcome of Authenticate.
type AuthResult struct {
	ReceiverID [crypto.ReceiverIDSize]byte
	Repeater   bool

	// Pairing is the wrapped km for the host pairing cache. It is only set
	// by a no-stored-km exchange.
	Pairing []byte

	// LocalityChecks counts L' attempts, the first included.
	LocalityChecks int

	// Repeater results.
	V           [crypto.VHalfSize]byte
	DeviceCount uint8
	Depth       uint8
	SeqNumM     [crypto.SeqNumSize]byte
}

// ErrNotRepeater is returned when a certificate advertises a repeater but
// the Receiver cannot answer repeater messages.
var ErrNotRepeater = fmt.Errorf("hdcp: receiver advertises repeater without repeater messages: %w", status.NotSupported)

// Authenticate runs AKE, the locality check and SKE against rx, then
// optional encryption and repeater authentication. It stops at the first
// failure; the session is left for the caller to end.
func (e *Engine) Authenticate(ctx context.Context, rx Receiver, opts AuthOptions) (*AuthResult, error) {
	if opts.LocalityRetries <= 0 {
		opts.LocalityRetries = DefaultLocalityRetries
	}
	res := &AuthResult{}

	start := opts.Start
	if err := e.run(ctx, &start); err != nil {
		return res, err
	}

	// AKE
	cert, rrx, rxCaps, err := rx.AKEInit(start.Rtx, start.TxCaps)
	if err != nil {
		return res, fmt.Errorf("AKE_Init: %w", err)
	}
	vc := &action.VerifyCertificate{CertRx: cert, Rrx: rrx, RxCaps: rxCaps}
	if err := e.run(ctx, vc); err != nil {
		return res, err
	}
	res.ReceiverID, res.Repeater = vc.ReceiverID, vc.Repeater

	var hprime [crypto.HprimeSize]byte
	if opts.Pairing != nil {
		if err := e.run(ctx, &action.KmKdGen{Stored: true, WrappedKm: opts.Pairing}); err != nil {
			return res, err
		}
		if hprime, err = rx.StoredKm(); err != nil {
			return res, fmt.Errorf("AKE_Stored_km: %w", err)
		}
	} else {
		km := &action.KmKdGen{CertRx: cert}
		if err := e.run(ctx, km); err != nil {
			return res, err
		}
		res.Pairing = km.WrappedKm
		if hprime, err = rx.NoStoredKm(km.EkpubKm); err != nil {
			return res, fmt.Errorf("AKE_No_Stored_km: %w", err)
		}
	}
	if err := e.run(ctx, &action.ValidateHprime{Hprime: hprime}); err != nil {
		return res, err
	}

	// LC
	rn := start.Rn
	for {
		res.LocalityChecks++
		err := e.run(ctx, &action.ValidateLprime{Lprime: rx.LCInit(rn)})
		if err == nil {
			break
		}
		if status.Of(err) != status.ValidationFailure || res.LocalityChecks > opts.LocalityRetries {
			return res, err
		}
		lc := &action.LcInit{}
		if err := e.run(ctx, lc); err != nil {
			return res, err
		}
		rn = lc.Rn
	}

	// SKE
	eks := &action.EksGen{}
	if err := e.run(ctx, eks); err != nil {
		return res, err
	}
	if err := rx.SendEks(eks.EdkeyKs, eks.Riv, rn); err != nil {
		return res, fmt.Errorf("SKE_Send_Eks: %w", err)
	}

	if opts.Encrypt {
		if err := e.run(ctx, &action.ControlEncryption{Enable: true}); err != nil {
			return res, err
		}
	}

	if !res.Repeater {
		return res, nil
	}
	rep, ok := rx.(Repeater)
	if !ok {
		return res, ErrNotRepeater
	}
	return res, e.authenticateRepeater(ctx, rep, opts, res)
}

func (e *Engine) authenticateRepeater(ctx context.Context, rep Repeater, opts AuthOptions, res *AuthResult) error {
	list, rxInfo, seqNumV, vprime, err := rep.ReceiverIDList()
	if err != nil {
		return fmt.Errorf("RepeaterAuth_Send_ReceiverID_List: %w", err)
	}
	v := &action.ValidateVprime{ReceiverIDList: list, RxInfo: rxInfo, SeqNumV: seqNumV, Vprime: vprime}
	if err := e.run(ctx, v); err != nil {
		return err
	}
	res.V, res.DeviceCount, res.Depth = v.V, v.DeviceCount, v.Depth

	if !opts.StreamManage {
		return nil
	}
	prep := &action.ValidateMprime{Prepare: true}
	if err := e.run(ctx, prep); err != nil {
		return err
	}
	res.SeqNumM = prep.SeqNumM
	mprime := rep.StreamManage(prep.SeqNumM, prep.StreamIDType)
	return e.run(ctx, &action.ValidateMprime{Mprime: mprime})
}

// run submits one payload and returns its status.
func (e *Engine) run(ctx context.Context, p action.Payload) error {
	req, err := action.New(p)
	if err != nil {
		return err
	}
	if err := e.SecureAction(ctx, req); err != nil {
		return fmt.Errorf("%s: %w", p.Kind(), err)
	}
	return nil
}

// IsFatal reports whether err ends the session: an integrity violation or
// a hardware timeout. The caller must end the session and restart
// authentication.
func IsFatal(err error) bool {
	s := status.Of(err)
	return s == status.IntegrityViolation || s == status.Timeout || errors.Is(err, ErrClosed)
}
