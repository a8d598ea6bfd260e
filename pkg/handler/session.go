package handler

import (
	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/store"
)

func startSession(e *Env, p action.Payload) error {
	req, ok := p.(*action.StartSession)
	if !ok {
		return ErrPayload
	}

	streams := req.Streams
	if len(streams) == 0 {
		streams = []store.StreamDesc{{ID: 0, Type: store.StreamType0}}
	}
	if len(streams) > store.MaxStreams || (!req.MultiStream && len(streams) > 1) {
		return ErrStreamCount
	}
	for _, s := range streams {
		if s.Type != store.StreamType0 && s.Type != store.StreamType1 {
			return ErrStreamType
		}
	}

	limits, err := e.link.TopologyLimits()
	if err != nil {
		return err
	}
	if req.ControllerIndex >= limits.MaxControllers {
		return ErrControllerRange
	}
	if limits.MaxHeads != 0 && req.SublinkIndex >= limits.MaxHeads {
		return ErrSublinkRange
	}

	ss := store.SessionSecrets{
		ControllerIndex: req.ControllerIndex,
		SublinkIndex:    req.SublinkIndex,
		MultiStream:     req.MultiStream,
		NumStreams:      uint8(len(streams)),
		TxCaps:          e.txCaps,
		MaxControllers:  limits.MaxControllers,
		MaxHeads:        limits.MaxHeads,
		PrevStage:       store.StageStarted,
	}
	copy(ss.Streams[:], streams)
	defer clear(ss.CryptRandom[:])

	if err := e.random(ss.Rtx[:]); err != nil {
		return err
	}
	if err := e.random(ss.Rn[:]); err != nil {
		return err
	}
	if err := e.random(ss.CryptRandom[:]); err != nil {
		return err
	}

	if err := e.store.Begin(ss); err != nil {
		return err
	}
	req.Rtx = ss.Rtx
	req.Rn = ss.Rn
	req.TxCaps = ss.TxCaps
	e.debugf("session started on controller %d sublink %d, %d stream(s)", ss.ControllerIndex, ss.SublinkIndex, ss.NumStreams)
	return nil
}

func endSession(e *Env, p action.Payload) error {
	req, ok := p.(*action.EndSession)
	if !ok {
		return ErrPayload
	}
	if _, err := e.store.Snapshot(req.Link); err != nil {
		e.store.Zero()
		return err
	}
	e.store.Zero()
	if err := e.store.ClearSnapshot(req.Link); err != nil {
		return err
	}
	e.debugf("session ended, link %d snapshot cleared", req.Link)
	return nil
}

func saveSession(e *Env, p action.Payload) error {
	req, ok := p.(*action.SaveSession)
	if !ok {
		return ErrPayload
	}
	if _, err := e.session(action.KindSaveSession); err != nil {
		return err
	}
	return e.store.Save(req.Link)
}

func restoreSession(e *Env, p action.Payload) error {
	req, ok := p.(*action.RestoreSession)
	if !ok {
		return ErrPayload
	}
	return e.store.Restore(req.Link)
}
