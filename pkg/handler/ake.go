package handler

import (
	"bytes"
	"fmt"

	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/crypto"
	"github.com/backkem/hdcp/pkg/store"
)

// RxCaps bit 0 of the last byte marks a repeater.
const rxCapsRepeater = 0x01

func verifyCertificate(e *Env, p action.Payload) error {
	req, ok := p.(*action.VerifyCertificate)
	if !ok {
		return ErrPayload
	}
	if _, err := e.session(action.KindVerifyCertificate); err != nil {
		return err
	}
	if len(req.CertRx) != crypto.CertRxSize {
		return ErrCertSize
	}
	if e.trust == nil {
		return ErrNoTrust
	}

	cert := req.CertRx
	id := cert[crypto.CertReceiverIDOffset : crypto.CertReceiverIDOffset+crypto.ReceiverIDSize]
	if !crypto.ValidReceiverID(id) {
		return ErrReceiverID
	}
	if _, err := crypto.ParseReceiverPublicKey(cert[crypto.CertKpubOffset : crypto.CertKpubOffset+crypto.KpubRxSize]); err != nil {
		return fmt.Errorf("%w: %w", ErrReceiverKey, err)
	}
	if err := e.crypto.VerifySignature(e.trust, cert[:crypto.CertSignedSize], cert[crypto.CertSigOffset:]); err != nil {
		e.warnf("certificate signature rejected for receiver %x", id)
		return fmt.Errorf("%w: %w", ErrCertSignature, err)
	}

	repeater := req.RxCaps[2]&rxCapsRepeater != 0
	err := e.advance(action.KindVerifyCertificate, func(ss *store.SessionSecrets) error {
		copy(ss.ReceiverID[:], id)
		ss.Rrx = req.Rrx
		ss.RxCaps = req.RxCaps
		ss.Repeater = repeater
		ss.KpubDigest = crypto.SHA256(cert[crypto.CertKpubOffset : crypto.CertKpubOffset+crypto.KpubRxSize])
		ss.PrevStage = store.StageCertificateVerified
		return nil
	})
	if err != nil {
		return err
	}
	copy(req.ReceiverID[:], id)
	req.Repeater = repeater
	return nil
}

func kmKdGen(e *Env, p action.Payload) error {
	req, ok := p.(*action.KmKdGen)
	if !ok {
		return ErrPayload
	}
	ss, err := e.session(action.KindKmKdGen)
	if err != nil {
		return err
	}

	var km [crypto.KmSize]byte
	defer clear(km[:])

	if req.Stored {
		if len(e.pairing) == 0 {
			return ErrNoPairing
		}
		if len(req.WrappedKm) != crypto.WrappedKmSize {
			return ErrWrappedKmSize
		}
		var wrapped [crypto.WrappedKmSize]byte
		copy(wrapped[:], req.WrappedKm)
		if err := crypto.UnwrapKm(e.pairing, ss.ReceiverID[:], wrapped, km[:]); err != nil {
			e.warnf("stored km rejected for receiver %x", ss.ReceiverID)
			return fmt.Errorf("%w: %w", ErrPairing, err)
		}
		req.EkpubKm = nil
	} else {
		if len(req.CertRx) != crypto.CertRxSize {
			return ErrCertSize
		}
		if !bytes.Equal(req.CertRx[:crypto.ReceiverIDSize], ss.ReceiverID[:]) {
			return ErrReceiverChanged
		}
		// km may only be encrypted to the key that passed VerifyCertificate.
		kpub := req.CertRx[crypto.CertKpubOffset : crypto.CertKpubOffset+crypto.KpubRxSize]
		digest := crypto.SHA256(kpub)
		if !crypto.HMACEqual(digest[:], ss.KpubDigest[:]) {
			e.warnf("certificate key for receiver %x differs from verified key", ss.ReceiverID)
			return ErrReceiverKeyChanged
		}
		if err := e.random(km[:]); err != nil {
			return err
		}
		ekpub, err := e.crypto.EncryptKm(kpub, km[:])
		if err != nil {
			return fmt.Errorf("%w: %w", ErrReceiverKey, err)
		}
		req.EkpubKm = append([]byte(nil), ekpub[:]...)
		req.WrappedKm = nil
		if len(e.pairing) != 0 {
			wrapped, err := crypto.WrapKm(e.pairing, ss.ReceiverID[:], km[:], e.rand)
			if err != nil {
				return ioErr(err)
			}
			req.WrappedKm = append([]byte(nil), wrapped[:]...)
		}
	}

	kd, err := crypto.DeriveKd(km[:], ss.Rtx[:], ss.Rrx[:])
	defer clear(kd[:])
	if err != nil {
		return ioErr(err)
	}

	if err := e.store.Seal(func(c *store.Confidential) error {
		c.Km = km
		c.Kd = kd
		clear(c.Ks[:])
		return nil
	}); err != nil {
		return err
	}
	return e.advance(action.KindKmKdGen, func(ss *store.SessionSecrets) error {
		ss.StoredKm = req.Stored
		ss.PrevStage = store.StageKeysDerived
		return nil
	})
}

func validateHprime(e *Env, p action.Payload) error {
	req, ok := p.(*action.ValidateHprime)
	if !ok {
		return ErrPayload
	}
	ss, err := e.session(action.KindValidateHprime)
	if err != nil {
		return err
	}

	var match bool
	err = e.store.Open(func(c *store.Confidential) error {
		h := e.crypto.HMAC(c.Kd[:], ss.Rtx[:], ss.RxCaps[:], ss.TxCaps[:])
		match = crypto.HMACEqual(h[:], req.Hprime[:])
		clear(h[:])
		return nil
	})
	if err != nil {
		return err
	}
	if !match {
		return e.reject(action.KindValidateHprime, ErrHprime)
	}
	return e.advance(action.KindValidateHprime, func(ss *store.SessionSecrets) error {
		ss.PrevStage = store.StageHprimeValidated
		return nil
	})
}
