package handler

import (
	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/crypto"
	"github.com/backkem/hdcp/pkg/store"
)

func lcInit(e *Env, p action.Payload) error {
	req, ok := p.(*action.LcInit)
	if !ok {
		return ErrPayload
	}
	if _, err := e.session(action.KindLcInit); err != nil {
		return err
	}
	var rn [crypto.RnSize]byte
	if err := e.random(rn[:]); err != nil {
		return err
	}
	if err := e.advance(action.KindLcInit, func(ss *store.SessionSecrets) error {
		ss.Rn = rn
		return nil
	}); err != nil {
		return err
	}
	req.Rn = rn
	return nil
}

// lprimeKey returns kd with its least significant 64 bits XORed with rrx.
func lprimeKey(kd, rrx []byte) [crypto.KdSize]byte {
	var k [crypto.KdSize]byte
	copy(k[:], kd)
	crypto.XORTail(k[:], rrx)
	return k
}

func validateLprime(e *Env, p action.Payload) error {
	req, ok := p.(*action.ValidateLprime)
	if !ok {
		return ErrPayload
	}
	ss, err := e.session(action.KindValidateLprime)
	if err != nil {
		return err
	}

	var match bool
	err = e.store.Open(func(c *store.Confidential) error {
		k := lprimeKey(c.Kd[:], ss.Rrx[:])
		defer clear(k[:])
		l := e.crypto.HMAC(k[:], ss.Rn[:])
		match = crypto.HMACEqual(l[:], req.Lprime[:])
		clear(l[:])
		return nil
	})
	if err != nil {
		return err
	}
	if !match {
		return e.reject(action.KindValidateLprime, ErrLprime)
	}
	return e.advance(action.KindValidateLprime, func(ss *store.SessionSecrets) error {
		ss.PrevStage = store.StageLCValidated
		return nil
	})
}
