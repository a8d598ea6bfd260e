package handler

import (
	"errors"
	"testing"

	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/crypto"
	"github.com/backkem/hdcp/pkg/hdcp/hdcptest"
	"github.com/backkem/hdcp/pkg/link"
	"github.com/backkem/hdcp/pkg/status"
	"github.com/backkem/hdcp/pkg/store"
)

func TestRxInfo(t *testing.T) {
	info := RxInfo{Depth: 3, DeviceCount: 31, MaxCascadeExceeded: true, HDCP1DeviceDownstream: true}
	b := info.Encode()
	if b != [2]byte{0x07, 0xf5} {
		t.Fatalf("Encode() = %x", b)
	}
	if got := ParseRxInfo(b); got != info {
		t.Errorf("ParseRxInfo() = %+v, want %+v", got, info)
	}
}

func newRepeater(t *testing.T, cfg hdcptest.ReceiverConfig) *hdcptest.Receiver {
	t.Helper()
	cfg.Repeater = true
	if cfg.Downstream == nil {
		cfg.Downstream = [][crypto.ReceiverIDSize]byte{hdcptest.ReceiverB, hdcptest.ReceiverC}
		cfg.Depth = 1
	}
	return newReceiver(t, cfg)
}

func vprimeRequest(t *testing.T, rx *hdcptest.Receiver) *action.ValidateVprime {
	t.Helper()
	list, rxInfo, seq, vprime, err := rx.ReceiverIDList()
	if err != nil {
		t.Fatal(err)
	}
	return &action.ValidateVprime{ReceiverIDList: list, RxInfo: rxInfo, SeqNumV: seq, Vprime: vprime}
}

func TestRepeaterAuthentication(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	rx := newRepeater(t, hdcptest.ReceiverConfig{})
	start := &action.StartSession{MultiStream: true, Streams: []store.StreamDesc{{ID: 0, Type: store.StreamType0}, {ID: 1, Type: store.StreamType1}}}
	h.runToSessionKey(rx, start)
	if !h.session().Repeater {
		t.Fatal("repeater flag not recorded")
	}

	h.must(&action.ControlEncryption{Enable: true})
	if ctrl := h.sim.Peek(h.sim.Address(link.RegHDCPControl, 0)); ctrl&link.ControlRepeat == 0 {
		t.Errorf("control = %#x, repeat bit not set", ctrl)
	}
	if st := h.sim.Peek(h.sim.Address(link.RegStreamType, 0)); st != 0b10 {
		t.Errorf("stream type = %#b", st)
	}

	v := vprimeRequest(t, rx)
	h.must(v)
	if !rx.CheckAck(v.ReceiverIDList, v.RxInfo, v.SeqNumV, v.V) {
		t.Error("returned V does not match the repeater's")
	}
	if v.DeviceCount != 2 || v.Depth != 1 {
		t.Errorf("device count %d depth %d", v.DeviceCount, v.Depth)
	}
	if ss := h.session(); ss.PrevStage != store.StageRepeaterValidated || !ss.SeqNumVSet || ss.SeqNumV != 0 {
		t.Errorf("session = %+v", ss)
	}

	// replayed list
	replay := *v
	if err := h.do(&replay); !errors.Is(err, ErrSeqNumV) || status.Of(err) != status.ValidationFailure {
		t.Errorf("replayed seq_num_V error = %v", err)
	}
	h.must(vprimeRequest(t, rx))
	if ss := h.session(); ss.SeqNumV != 1 {
		t.Errorf("SeqNumV = %d", ss.SeqNumV)
	}

	prep := &action.ValidateMprime{Prepare: true}
	h.must(prep)
	if prep.SeqNumM != [3]byte{} {
		t.Errorf("first seq_num_M = %x", prep.SeqNumM)
	}
	if want := []byte{0, 0, 1, 1}; string(prep.StreamIDType) != string(want) {
		t.Errorf("StreamIDType = %x, want %x", prep.StreamIDType, want)
	}
	h.must(&action.ValidateMprime{Mprime: rx.StreamManage(prep.SeqNumM, prep.StreamIDType)})
	if ss := h.session(); ss.SeqNumM != 1 {
		t.Errorf("SeqNumM = %d after validation", ss.SeqNumM)
	}

	prep = &action.ValidateMprime{Prepare: true}
	h.must(prep)
	if prep.SeqNumM != [3]byte{0, 0, 1} {
		t.Errorf("second seq_num_M = %x", prep.SeqNumM)
	}
	err := h.do(&action.ValidateMprime{Mprime: rx.StreamManage([3]byte{}, prep.StreamIDType)})
	if !errors.Is(err, ErrMprime) || status.Of(err) != status.ValidationFailure {
		t.Errorf("stale M' error = %v", err)
	}
	if ss := h.session(); ss.SeqNumM != 2 || ss.Rejects != 1 || ss.MprimePending {
		t.Errorf("SeqNumM %d rejects %d pending %v after mismatch", ss.SeqNumM, ss.Rejects, ss.MprimePending)
	}

	// A rejected M' spends its seq_num_M; the retry needs a fresh one.
	err = h.do(&action.ValidateMprime{Mprime: rx.StreamManage([3]byte{0, 0, 1}, prep.StreamIDType)})
	if !errors.Is(err, ErrMprimeNotPrepared) || status.Of(err) != status.IllegalOperation {
		t.Errorf("unprepared M' error = %v", err)
	}
	prep = &action.ValidateMprime{Prepare: true}
	h.must(prep)
	if prep.SeqNumM != [3]byte{0, 0, 2} {
		t.Errorf("retry seq_num_M = %x", prep.SeqNumM)
	}
	h.must(&action.ValidateMprime{Mprime: rx.StreamManage(prep.SeqNumM, prep.StreamIDType)})
	if ss := h.session(); ss.SeqNumM != 3 || ss.MprimePending {
		t.Errorf("SeqNumM %d pending %v after retry", ss.SeqNumM, ss.MprimePending)
	}
}

func TestVprimeRejects(t *testing.T) {
	t.Run("mismatch", func(t *testing.T) {
		h := newHarness(t, harnessConfig{})
		rx := newRepeater(t, hdcptest.ReceiverConfig{})
		h.runToSessionKey(rx, &action.StartSession{})
		v := vprimeRequest(t, rx)
		v.Vprime[0] ^= 0xff
		if err := h.do(v); !errors.Is(err, ErrVprime) {
			t.Fatalf("error = %v", err)
		}
		if ss := h.session(); ss.PrevStage != store.StageSessionKeyed || ss.SeqNumVSet || ss.Rejects != 1 {
			t.Errorf("session = %+v", ss)
		}
	})

	t.Run("first seq_num_V not zero", func(t *testing.T) {
		h := newHarness(t, harnessConfig{})
		rx := newRepeater(t, hdcptest.ReceiverConfig{})
		h.runToSessionKey(rx, &action.StartSession{})
		_ = vprimeRequest(t, rx)
		if err := h.do(vprimeRequest(t, rx)); !errors.Is(err, ErrSeqNumV) {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("topology exceeded", func(t *testing.T) {
		h := newHarness(t, harnessConfig{})
		rx := newRepeater(t, hdcptest.ReceiverConfig{MaxDevsExceeded: true})
		h.runToSessionKey(rx, &action.StartSession{})
		if err := h.do(vprimeRequest(t, rx)); !errors.Is(err, ErrTopology) {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("list length", func(t *testing.T) {
		h := newHarness(t, harnessConfig{})
		rx := newRepeater(t, hdcptest.ReceiverConfig{})
		h.runToSessionKey(rx, &action.StartSession{})
		v := vprimeRequest(t, rx)
		v.ReceiverIDList = v.ReceiverIDList[:7]
		if err := h.do(v); !errors.Is(err, ErrIDList) || status.Of(err) != status.InvalidArgument {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("not a repeater", func(t *testing.T) {
		h := newHarness(t, harnessConfig{})
		rx := newReceiver(t, hdcptest.ReceiverConfig{})
		h.runToSessionKey(rx, &action.StartSession{})
		err := h.do(&action.ValidateVprime{})
		if !errors.Is(err, ErrNotRepeater) || status.Of(err) != status.IllegalOperation {
			t.Errorf("ValidateVprime error = %v", err)
		}
	})
}

func TestMprimeSequenceExhausted(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	rx := newRepeater(t, hdcptest.ReceiverConfig{})
	h.runToSessionKey(rx, &action.StartSession{})
	h.must(vprimeRequest(t, rx))

	if err := h.store.Update(func(ss *store.SessionSecrets) error {
		ss.SeqNumM = seqNumMax + 1
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	err := h.do(&action.ValidateMprime{Prepare: true})
	if !errors.Is(err, ErrSeqNumM) || status.Of(err) != status.ValidationFailure {
		t.Errorf("error = %v", err)
	}
}
