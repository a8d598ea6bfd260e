package handler

import (
	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/srm"
	"github.com/backkem/hdcp/pkg/store"
)

func srmRevocation(e *Env, p action.Payload) error {
	req, ok := p.(*action.SrmRevocation)
	if !ok {
		return ErrPayload
	}
	msg, err := srm.Parse(req.Srm)
	if err != nil {
		return err
	}
	if e.trust == nil {
		return ErrNoTrust
	}
	if err := msg.Verify(e.crypto, e.trust); err != nil {
		e.warnf("SRM version %d rejected", msg.Version)
		return err
	}

	ids := req.ReceiverIDs
	if len(ids) == 0 {
		ss, err := e.store.Session()
		if err != nil {
			return err
		}
		if ss.PrevStage >= store.StageCertificateVerified {
			ids = ss.ReceiverID[:]
		}
	}
	revoked, id, err := msg.Check(ids)
	if err != nil {
		return err
	}
	req.Version = msg.Version
	req.Generation = msg.Generation
	req.Revoked = revoked
	req.RevokedID = id
	if revoked {
		e.warnf("receiver %x revoked by SRM version %d", id, msg.Version)
	}
	return nil
}
