package handler

import (
	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/crypto"
	"github.com/backkem/hdcp/pkg/store"
)

// edkeyKs computes Edkey(ks) = ks XOR (dkey2 XOR (0^64 || rrx)).
func edkeyKs(km, rn, rtx, rrx, ks []byte) ([crypto.EdkeyKsSize]byte, error) {
	var out [crypto.EdkeyKsSize]byte
	dkey2, err := crypto.DeriveDKey(km, rn, rtx, rrx, 2)
	if err != nil {
		return out, err
	}
	crypto.XORTail(dkey2[:], rrx)
	for i := range out {
		out[i] = ks[i] ^ dkey2[i]
	}
	clear(dkey2[:])
	return out, nil
}

func eksGen(e *Env, p action.Payload) error {
	req, ok := p.(*action.EksGen)
	if !ok {
		return ErrPayload
	}
	ss, err := e.session(action.KindEksGen)
	if err != nil {
		return err
	}

	var ks [crypto.KsSize]byte
	defer clear(ks[:])
	var riv [crypto.RivSize]byte
	if err := e.random(ks[:]); err != nil {
		return err
	}
	if err := e.random(riv[:]); err != nil {
		return err
	}

	var edkey [crypto.EdkeyKsSize]byte
	err = e.store.Seal(func(c *store.Confidential) error {
		var err error
		edkey, err = edkeyKs(c.Km[:], ss.Rn[:], ss.Rtx[:], ss.Rrx[:], ks[:])
		if err != nil {
			return ioErr(err)
		}
		c.Ks = ks
		return nil
	})
	if err != nil {
		return err
	}
	if err := e.advance(action.KindEksGen, func(ss *store.SessionSecrets) error {
		ss.Riv = riv
		ss.PrevStage = store.StageSessionKeyed
		return nil
	}); err != nil {
		return err
	}
	req.EdkeyKs = edkey
	req.Riv = riv
	return nil
}
