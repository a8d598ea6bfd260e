package handler

import (
	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/link"
)

// secretRegisters are never readable through RegAccess.
var secretRegisters = []link.Register{
	link.RegSessionKey0, link.RegSessionKey1, link.RegSessionKey2, link.RegSessionKey3,
	link.RegRivHi, link.RegRivLo,
}

func (e *Env) isSecretRegister(addr uint32) bool {
	for _, reg := range secretRegisters {
		for i := uint8(0); i < 8; i++ {
			a, err := e.link.Address(reg, i)
			if err == nil && a == addr {
				return true
			}
		}
	}
	return false
}

func regAccess(e *Env, p action.Payload) error {
	req, ok := p.(*action.RegAccess)
	if !ok {
		return ErrPayload
	}
	if req.Write {
		return e.link.WriteLinkRegister(req.Addr, req.Value)
	}
	if e.isSecretRegister(req.Addr) {
		return ErrKeyRegister
	}
	v, err := e.link.ReadLinkRegister(req.Addr)
	if err != nil {
		return err
	}
	req.Value = v
	return nil
}

func hashCompute(e *Env, p action.Payload) error {
	req, ok := p.(*action.HashCompute)
	if !ok {
		return ErrPayload
	}
	req.Digest = e.crypto.Hash(req.Data)
	return nil
}

func deriveKey(e *Env, p action.Payload) error {
	req, ok := p.(*action.DeriveKey)
	if !ok {
		return ErrPayload
	}
	out, err := e.crypto.EncryptBlock(req.Key[:], req.Input[:])
	if err != nil {
		return ioErr(err)
	}
	req.Output = out
	return nil
}

func encryptSecret(e *Env, p action.Payload) error {
	req, ok := p.(*action.EncryptSecret)
	if !ok {
		return ErrPayload
	}
	return e.store.EncryptWithSession(req.Data, req.Data)
}

func decryptSecret(e *Env, p action.Payload) error {
	req, ok := p.(*action.DecryptSecret)
	if !ok {
		return ErrPayload
	}
	return e.store.DecryptWithSession(req.Data, req.Data)
}
