package handler

import (
	"encoding/binary"

	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/crypto"
	"github.com/backkem/hdcp/pkg/store"
)

// seqNumMax is the largest 24-bit sequence number.
const seqNumMax = 1<<24 - 1

// RxInfo is the decoded RepeaterAuth_Send_ReceiverID_List RxInfo field.
type RxInfo struct {
	Depth                 uint8
	DeviceCount           uint8
	MaxDevsExceeded       bool
	MaxCascadeExceeded    bool
	HDCP20RepeaterDown    bool
	HDCP1DeviceDownstream bool
}

// ParseRxInfo decodes the 16-bit RxInfo field.
func ParseRxInfo(b [crypto.RxInfoSize]byte) RxInfo {
	v := binary.BigEndian.Uint16(b[:])
	return RxInfo{
		Depth:                 uint8(v>>9) & 0x07,
		DeviceCount:           uint8(v>>4) & 0x1f,
		MaxDevsExceeded:       v&(1<<3) != 0,
		MaxCascadeExceeded:    v&(1<<2) != 0,
		HDCP20RepeaterDown:    v&(1<<1) != 0,
		HDCP1DeviceDownstream: v&(1<<0) != 0,
	}
}

// Encode is the inverse of ParseRxInfo.
func (r RxInfo) Encode() [crypto.RxInfoSize]byte {
	v := uint16(r.Depth&0x07)<<9 | uint16(r.DeviceCount&0x1f)<<4
	if r.MaxDevsExceeded {
		v |= 1 << 3
	}
	if r.MaxCascadeExceeded {
		v |= 1 << 2
	}
	if r.HDCP20RepeaterDown {
		v |= 1 << 1
	}
	if r.HDCP1DeviceDownstream {
		v |= 1 << 0
	}
	var b [crypto.RxInfoSize]byte
	binary.BigEndian.PutUint16(b[:], v)
	return b
}

func seqNum(b [crypto.SeqNumSize]byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func putSeqNum(v uint32) [crypto.SeqNumSize]byte {
	return [crypto.SeqNumSize]byte{byte(v >> 16), byte(v >> 8), byte(v)}
}

func validateVprime(e *Env, p action.Payload) error {
	req, ok := p.(*action.ValidateVprime)
	if !ok {
		return ErrPayload
	}
	ss, err := e.session(action.KindValidateVprime)
	if err != nil {
		return err
	}
	if !ss.Repeater {
		return ErrNotRepeater
	}

	info := ParseRxInfo(req.RxInfo)
	if info.MaxDevsExceeded || info.MaxCascadeExceeded {
		e.warnf("repeater topology exceeded: devices=%v cascade=%v", info.MaxDevsExceeded, info.MaxCascadeExceeded)
		return ErrTopology
	}
	if len(req.ReceiverIDList) != int(info.DeviceCount)*crypto.ReceiverIDSize {
		return ErrIDList
	}
	for i := 0; i < len(req.ReceiverIDList); i += crypto.ReceiverIDSize {
		if !crypto.ValidReceiverID(req.ReceiverIDList[i : i+crypto.ReceiverIDSize]) {
			return ErrReceiverID
		}
	}

	seq := seqNum(req.SeqNumV)
	if ss.SeqNumVSet {
		if seq <= ss.SeqNumV {
			return ErrSeqNumV
		}
	} else if seq != 0 {
		return ErrSeqNumV
	}

	var match bool
	var vLow [crypto.VHalfSize]byte
	err = e.store.Open(func(c *store.Confidential) error {
		v := e.crypto.HMAC(c.Kd[:], req.ReceiverIDList, req.RxInfo[:], req.SeqNumV[:])
		match = crypto.HMACEqual(v[:crypto.VHalfSize], req.Vprime[:])
		copy(vLow[:], v[crypto.VHalfSize:])
		clear(v[:])
		return nil
	})
	if err != nil {
		return err
	}
	if !match {
		return e.reject(action.KindValidateVprime, ErrVprime)
	}

	if err := e.advance(action.KindValidateVprime, func(ss *store.SessionSecrets) error {
		ss.SeqNumV = seq
		ss.SeqNumVSet = true
		ss.PrevStage = store.StageRepeaterValidated
		return nil
	}); err != nil {
		return err
	}
	req.V = vLow
	req.DeviceCount = info.DeviceCount
	req.Depth = info.Depth
	return nil
}

// streamIDType encodes the StreamID_Type list of RepeaterAuth_Stream_Manage.
func streamIDType(ss *store.SessionSecrets) []byte {
	streams := ss.StreamTypes()
	out := make([]byte, 0, 2*len(streams))
	for _, s := range streams {
		out = append(out, s.ID, s.Type)
	}
	return out
}

func validateMprime(e *Env, p action.Payload) error {
	req, ok := p.(*action.ValidateMprime)
	if !ok {
		return ErrPayload
	}
	ss, err := e.session(action.KindValidateMprime)
	if err != nil {
		return err
	}
	if !ss.Repeater {
		return ErrNotRepeater
	}
	ids := streamIDType(&ss)
	req.StreamIDType = ids
	if req.Prepare {
		// The number is spent once handed out, whatever M' comes back.
		if ss.SeqNumM > seqNumMax {
			return ErrSeqNumM
		}
		req.SeqNumM = putSeqNum(ss.SeqNumM)
		return e.advance(action.KindValidateMprime, func(ss *store.SessionSecrets) error {
			ss.SeqNumM++
			ss.MprimePending = true
			return nil
		})
	}
	if !ss.MprimePending || ss.SeqNumM == 0 {
		return ErrMprimeNotPrepared
	}
	seq := putSeqNum(ss.SeqNumM - 1)
	req.SeqNumM = seq

	var match bool
	err = e.store.Open(func(c *store.Confidential) error {
		key := e.crypto.Hash(c.Kd[:])
		defer clear(key[:])
		m := e.crypto.HMAC(key[:], ids, seq[:])
		match = crypto.HMACEqual(m[:], req.Mprime[:])
		clear(m[:])
		return nil
	})
	if err != nil {
		return err
	}
	if !match {
		return e.rejectWith(action.KindValidateMprime, ErrMprime, func(ss *store.SessionSecrets) {
			ss.MprimePending = false
		})
	}
	return e.advance(action.KindValidateMprime, func(ss *store.SessionSecrets) error {
		ss.MprimePending = false
		return nil
	})
}
