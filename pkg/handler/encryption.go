package handler

import (
	"encoding/binary"
	"slices"

	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/link"
	"github.com/backkem/hdcp/pkg/store"
)

var keyRegisters = []link.Register{
	link.RegSessionKey0, link.RegSessionKey1, link.RegSessionKey2, link.RegSessionKey3,
}

// streamTypeValue is the stream type register value: for single-stream links
// the type of stream 0, otherwise a bitmask of Type 1 streams.
func streamTypeValue(ss *store.SessionSecrets) uint32 {
	streams := ss.StreamTypes()
	if !ss.MultiStream {
		if len(streams) == 0 {
			return uint32(store.StreamType0)
		}
		return uint32(streams[0].Type)
	}
	var v uint32
	for i, s := range streams {
		if s.Type == store.StreamType1 {
			v |= 1 << i
		}
	}
	return v
}

// poll reads reg until done reports true, at most n times.
func (e *Env) poll(reg link.Register, idx uint8, n int, done func(uint32) (bool, error)) (bool, error) {
	for i := 0; i < n; i++ {
		v, err := link.ReadRegister(e.link, reg, idx)
		if err != nil {
			return false, err
		}
		ok, err := done(v)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func controlEncryption(e *Env, p action.Payload) error {
	req, ok := p.(*action.ControlEncryption)
	if !ok {
		return ErrPayload
	}
	ss, err := e.store.Session()
	if err != nil {
		return err
	}
	if req.Enable {
		return e.enableEncryption(&ss)
	}
	return e.disableEncryption(&ss)
}

func (e *Env) enableEncryption(ss *store.SessionSecrets) error {
	if !slices.Contains(keyed, ss.PrevStage) {
		e.warnf("%s rejected in stage %s", action.KindControlEncryption, ss.PrevStage)
		return ErrStageOrder
	}
	idx := ss.ControllerIndex

	if e.link.Capabilities().Has(link.CapTimingWorkaround) {
		seen, err := e.poll(link.RegLinkTiming, idx, e.edges, func(v uint32) (bool, error) {
			return v&link.TimingEdge != 0, nil
		})
		if err != nil {
			return err
		}
		if !seen {
			return ErrEdgeTimeout
		}
	}

	err := e.store.Open(func(c *store.Confidential) error {
		for i, reg := range keyRegisters {
			if err := link.WriteRegister(e.link, reg, idx, binary.BigEndian.Uint32(c.Ks[4*i:])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := link.WriteRegister(e.link, link.RegRivHi, idx, binary.BigEndian.Uint32(ss.Riv[0:])); err != nil {
		return err
	}
	if err := link.WriteRegister(e.link, link.RegRivLo, idx, binary.BigEndian.Uint32(ss.Riv[4:])); err != nil {
		return err
	}
	if err := link.WriteRegister(e.link, link.RegStreamType, idx, streamTypeValue(ss)); err != nil {
		return err
	}

	ctrl := link.ControlEnable | link.ControlInit
	if ss.Repeater {
		ctrl |= link.ControlRepeat
	}
	if err := link.WriteRegister(e.link, link.RegHDCPControl, idx, ctrl); err != nil {
		return err
	}

	active, err := e.poll(link.RegHDCPStatus, idx, e.polls, func(v uint32) (bool, error) {
		if v&link.StatusError != 0 {
			return false, ErrCipherFault
		}
		return v&link.StatusActive != 0, nil
	})
	if err != nil {
		return err
	}
	if !active {
		e.warnf("cipher on controller %d not active after %d polls", idx, e.polls)
		return ErrEncTimeout
	}

	return e.store.Update(func(ss *store.SessionSecrets) error {
		if ss.PrevStage == store.StageSessionKeyed {
			ss.PrevStage = store.StageEncryptionControlled
		}
		return nil
	})
}

func (e *Env) disableEncryption(ss *store.SessionSecrets) error {
	if ss.PrevStage == store.StageIdle {
		return ErrStageOrder
	}
	idx := ss.ControllerIndex
	if err := link.WriteRegister(e.link, link.RegHDCPControl, idx, 0); err != nil {
		return err
	}
	for _, reg := range keyRegisters {
		if err := link.WriteRegister(e.link, reg, idx, 0); err != nil {
			return err
		}
	}
	inactive, err := e.poll(link.RegHDCPStatus, idx, e.polls, func(v uint32) (bool, error) {
		return v&link.StatusActive == 0, nil
	})
	if err != nil {
		return err
	}
	if !inactive {
		return ErrEncTimeout
	}
	return nil
}

func writeDpEcf(e *Env, p action.Payload) error {
	req, ok := p.(*action.WriteDpEcf)
	if !ok {
		return ErrPayload
	}
	limits, err := e.link.TopologyLimits()
	if err != nil {
		return err
	}
	if req.ControllerIndex >= limits.MaxControllers {
		return ErrControllerRange
	}
	if !e.link.Capabilities().Has(link.CapDPMultiStream) {
		return ErrNoMST
	}
	return e.withEcfUnlocked(func() error {
		if err := link.WriteRegister(e.link, link.RegEcfHi, req.ControllerIndex, uint32(req.Ecf>>32)); err != nil {
			return err
		}
		return link.WriteRegister(e.link, link.RegEcfLo, req.ControllerIndex, uint32(req.Ecf))
	})
}

// withEcfUnlocked clears the ECF protect bit around fn and always sets it
// again afterwards.
func (e *Env) withEcfUnlocked(fn func() error) (err error) {
	lock, err := link.ReadRegister(e.link, link.RegEcfLock, 0)
	if err != nil {
		return err
	}
	if lock&link.EcfLockExternal != 0 {
		return ErrEcfLocked
	}
	if err := link.WriteRegister(e.link, link.RegEcfLock, 0, lock&^link.EcfLockProtect); err != nil {
		return err
	}
	defer func() {
		if lerr := link.WriteRegister(e.link, link.RegEcfLock, 0, lock|link.EcfLockProtect); lerr != nil && err == nil {
			err = lerr
		}
	}()
	return fn()
}
