package hdcp

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/crypto"
	"github.com/backkem/hdcp/pkg/dispatch"
	"github.com/backkem/hdcp/pkg/hdcp/hdcptest"
	"github.com/backkem/hdcp/pkg/link"
	"github.com/backkem/hdcp/pkg/partition"
	"github.com/backkem/hdcp/pkg/status"
	"github.com/backkem/hdcp/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testPairingKey = bytes.Repeat([]byte{0xa5}, crypto.AESCCMKeySize)

type engineVariant struct {
	name    string
	mode    dispatch.Mode
	conduit Conduit
}

var engineVariants = []engineVariant{
	{"overlay", dispatch.ModeOverlay, ConduitDirect},
	{"isolated direct", dispatch.ModeIsolated, ConduitDirect},
	{"isolated pipe", dispatch.ModeIsolated, ConduitPipe},
}

func newTestEngine(t *testing.T, v engineVariant, lc hdcptest.LinkConfig) (*Engine, *link.Sim) {
	t.Helper()
	sim, backend, err := hdcptest.NewLink(lc)
	if err != nil {
		t.Fatalf("NewLink() error = %v", err)
	}
	eng, err := NewEngine(Config{
		Link:        backend,
		TrustAnchor: &hdcptest.DCP().PublicKey,
		PairingKey:  testPairingKey,
		Mode:        v.mode,
		Conduit:     v.conduit,
		Halt:        func(f *partition.Fault) { t.Errorf("partition fault: %v", f) },
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng, sim
}

func newTestReceiver(t *testing.T, cfg hdcptest.ReceiverConfig) *hdcptest.Receiver {
	t.Helper()
	rx, err := hdcptest.NewReceiver(cfg)
	if err != nil {
		t.Fatalf("NewReceiver() error = %v", err)
	}
	return rx
}

func TestNewEngineValidate(t *testing.T) {
	_, backend, err := hdcptest.NewLink(hdcptest.LinkConfig{})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"no link", Config{}, ErrLinkRequired},
		{"bad mode", Config{Link: backend, Mode: 7}, ErrUnknownMode},
		{"bad conduit", Config{Link: backend, Conduit: 9}, ErrUnknownConduit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(tt.cfg); !errors.Is(err, tt.want) {
				t.Errorf("NewEngine() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := NewEngine(Config{Link: backend, PairingKey: []byte{1}}); err == nil {
		t.Error("NewEngine() accepted a short pairing key")
	}
}

func TestAuthenticate(t *testing.T) {
	for _, v := range engineVariants {
		t.Run(v.name, func(t *testing.T) {
			eng, sim := newTestEngine(t, v, hdcptest.LinkConfig{ActivateAfter: 2})
			rx := newTestReceiver(t, hdcptest.ReceiverConfig{})

			res, err := eng.Authenticate(context.Background(), rx, AuthOptions{
				Start:   action.StartSession{ControllerIndex: 2},
				Encrypt: true,
			})
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if res.ReceiverID != hdcptest.ReceiverA || res.Repeater {
				t.Errorf("result = %+v", res)
			}
			if len(res.Pairing) != crypto.WrappedKmSize || res.LocalityChecks != 1 {
				t.Errorf("pairing %d bytes, %d locality checks", len(res.Pairing), res.LocalityChecks)
			}

			ss, err := eng.Store().Session()
			if err != nil {
				t.Fatal(err)
			}
			if ss.PrevStage != store.StageEncryptionControlled {
				t.Errorf("stage = %s", ss.PrevStage)
			}
			ks := rx.SessionKey()
			hi := uint32(ks[0])<<24 | uint32(ks[1])<<16 | uint32(ks[2])<<8 | uint32(ks[3])
			if got := sim.Peek(sim.Address(link.RegSessionKey0, 2)); got != hi {
				t.Errorf("SessionKey0 = %#08x, want %#08x", got, hi)
			}
		})
	}
}

func TestAuthenticateRepeater(t *testing.T) {
	for _, v := range engineVariants {
		t.Run(v.name, func(t *testing.T) {
			eng, _ := newTestEngine(t, v, hdcptest.LinkConfig{})
			rx := newTestReceiver(t, hdcptest.ReceiverConfig{
				Repeater:   true,
				Downstream: [][crypto.ReceiverIDSize]byte{hdcptest.ReceiverB, hdcptest.ReceiverC, hdcptest.ReceiverD},
				Depth:      2,
			})

			res, err := eng.Authenticate(context.Background(), rx, AuthOptions{
				Start: action.StartSession{
					MultiStream: true,
					Streams:     []store.StreamDesc{{ID: 0, Type: store.StreamType1}},
				},
				Encrypt:      true,
				StreamManage: true,
			})
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if !res.Repeater || res.DeviceCount != 3 || res.Depth != 2 {
				t.Errorf("result = %+v", res)
			}
			list, rxInfo, _, _, err := rx.ReceiverIDList()
			if err != nil {
				t.Fatal(err)
			}
			// the repeater's sequence number moved on; the first list used 0
			if !rx.CheckAck(list, rxInfo, [crypto.SeqNumSize]byte{}, res.V) {
				t.Error("V does not match the repeater's")
			}
			if ss, _ := eng.Store().Session(); ss.SeqNumM != 1 {
				t.Errorf("SeqNumM = %d", ss.SeqNumM)
			}
		})
	}
}

var _ Repeater = (*hdcptest.Receiver)(nil)

// plainReceiver hides the repeater messages of the wrapped receiver.
type plainReceiver struct{ Receiver }

func TestAuthenticateRepeaterWithoutMessages(t *testing.T) {
	eng, _ := newTestEngine(t, engineVariants[0], hdcptest.LinkConfig{})
	rx := newTestReceiver(t, hdcptest.ReceiverConfig{Repeater: true})

	var r Receiver = plainReceiver{rx}
	_, err := eng.Authenticate(context.Background(), r, AuthOptions{})
	if !errors.Is(err, ErrNotRepeater) || status.Of(err) != status.NotSupported {
		t.Errorf("Authenticate() error = %v", err)
	}
}

func TestAuthenticateStoredKm(t *testing.T) {
	for _, v := range engineVariants {
		t.Run(v.name, func(t *testing.T) {
			eng, _ := newTestEngine(t, v, hdcptest.LinkConfig{})
			rx := newTestReceiver(t, hdcptest.ReceiverConfig{})
			ctx := context.Background()

			first, err := eng.Authenticate(ctx, rx, AuthOptions{})
			if err != nil {
				t.Fatal(err)
			}
			if err := eng.run(ctx, &action.EndSession{}); err != nil {
				t.Fatal(err)
			}

			second, err := eng.Authenticate(ctx, rx, AuthOptions{Pairing: first.Pairing})
			if err != nil {
				t.Fatalf("stored km Authenticate() error = %v", err)
			}
			if second.Pairing != nil {
				t.Error("stored km exchange produced a new pairing blob")
			}
			if ss, _ := eng.Store().Session(); !ss.StoredKm || ss.PrevStage != store.StageSessionKeyed {
				t.Errorf("session = %+v", ss)
			}
		})
	}
}

func TestAuthenticateFailure(t *testing.T) {
	eng, _ := newTestEngine(t, engineVariants[1], hdcptest.LinkConfig{})
	other, err := hdcptest.NewReceiver(hdcptest.ReceiverConfig{})
	if err != nil {
		t.Fatal(err)
	}
	first, err := eng.Authenticate(context.Background(), other, AuthOptions{})
	if err != nil {
		t.Fatal(err)
	}

	// pairing blob bound to ReceiverA presented by ReceiverB
	rx := newTestReceiver(t, hdcptest.ReceiverConfig{ID: hdcptest.ReceiverB})
	_, err = eng.Authenticate(context.Background(), rx, AuthOptions{Pairing: first.Pairing})
	if err == nil {
		t.Fatal("foreign pairing blob accepted")
	}
	if IsFatal(err) {
		t.Errorf("IsFatal(%v) = true", err)
	}
}

func TestArgumentStorage(t *testing.T) {
	for _, v := range engineVariants {
		t.Run(v.name, func(t *testing.T) {
			eng, _ := newTestEngine(t, v, hdcptest.LinkConfig{})

			req := eng.ArgumentStorage()
			hash := &action.HashCompute{Data: []byte("abc")}
			req.Kind, req.Payload = hash.Kind(), hash
			if err := eng.SecureAction(context.Background(), req); err != nil {
				t.Fatal(err)
			}
			if req.Completion != action.StateCompleted || req.Result != status.OK {
				t.Errorf("completion %s result %s", req.Completion, req.Result)
			}
			if want := crypto.SHA256([]byte("abc")); hash.Digest != want {
				t.Errorf("Digest = %x", hash.Digest)
			}

			again := eng.ArgumentStorage()
			if again != req || again.Payload != nil || again.Kind != 0 {
				t.Errorf("storage not reset: %+v", again)
			}
			if hash.Digest != ([crypto.SHA256Size]byte{}) {
				t.Error("previous payload not scrubbed")
			}

			again.Kind = 99
			if err := eng.SecureAction(context.Background(), again); status.Of(err) != status.InvalidArgument {
				t.Errorf("unknown kind error = %v", err)
			}
		})
	}
}

func TestEngineClose(t *testing.T) {
	for _, v := range engineVariants {
		t.Run(v.name, func(t *testing.T) {
			eng, _ := newTestEngine(t, v, hdcptest.LinkConfig{})
			if err := eng.run(context.Background(), &action.StartSession{}); err != nil {
				t.Fatal(err)
			}
			if err := eng.Close(); err != nil {
				t.Fatal(err)
			}
			if err := eng.Close(); err != nil {
				t.Errorf("second Close() error = %v", err)
			}
			err := eng.SecureAction(context.Background(), &action.Request{Kind: action.KindHashCompute, Payload: &action.HashCompute{}})
			if !errors.Is(err, ErrClosed) || !IsFatal(err) {
				t.Errorf("SecureAction() after Close error = %v", err)
			}
		})
	}
}

// gatedBackend holds TopologyLimits until gate is closed.
type gatedBackend struct {
	link.Backend
	entered chan struct{}
	gate    chan struct{}
}

func (b *gatedBackend) TopologyLimits() (link.Limits, error) {
	close(b.entered)
	<-b.gate
	return b.Backend.TopologyLimits()
}

func TestSecureActionDeadlineDuringHandler(t *testing.T) {
	_, backend, err := hdcptest.NewLink(hdcptest.LinkConfig{})
	if err != nil {
		t.Fatal(err)
	}
	gb := &gatedBackend{Backend: backend, entered: make(chan struct{}), gate: make(chan struct{})}
	eng, err := NewEngine(Config{
		Link:    gb,
		Mode:    dispatch.ModeIsolated,
		Conduit: ConduitPipe,
		Halt:    func(f *partition.Fault) { t.Errorf("partition fault: %v", f) },
	})
	if err != nil {
		t.Fatal(err)
	}

	var released atomic.Bool
	go func() {
		<-gb.entered
		time.Sleep(60 * time.Millisecond)
		released.Store(true)
		close(gb.gate)
	}()

	start := &action.StartSession{}
	req, err := action.New(start)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = eng.SecureAction(ctx, req)

	// The handler was already running when the deadline passed, so the
	// call reports its real outcome.
	if !released.Load() {
		t.Fatal("SecureAction returned while the handler was running")
	}
	if err != nil || req.Result != status.OK {
		t.Fatalf("SecureAction() error = %v, result %s", err, req.Result)
	}
	if start.Rtx == ([crypto.RtxSize]byte{}) {
		t.Error("Rtx not returned")
	}
	ss, err := eng.Store().Session()
	if err != nil {
		t.Fatal(err)
	}
	if ss.PrevStage != store.StageStarted || ss.Rtx != start.Rtx {
		t.Errorf("stage %s, stored rtx %x, returned %x", ss.PrevStage, ss.Rtx, start.Rtx)
	}
	if !eng.Partition().Carveout().Buffer().IsZero() {
		t.Error("carveout not cleared after the call")
	}

	closed := make(chan error, 1)
	go func() { closed <- eng.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, backend, err := hdcptest.NewLink(hdcptest.LinkConfig{})
	if err != nil {
		t.Fatal(err)
	}
	eng, err := NewEngine(Config{Link: backend, Registerer: reg})
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close()

	_ = eng.run(context.Background(), &action.HashCompute{})
	_ = eng.run(context.Background(), &action.LcInit{})
	n, err := testutil.GatherAndCount(reg, "hdcp_dispatch_actions_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("action series = %d, want 2", n)
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{status.ValidationFailure, false},
		{store.ErrIntegrity, true},
		{status.Timeout, true},
		{status.InvalidArgument, false},
	}
	for _, tt := range tests {
		if got := IsFatal(tt.err); got != tt.want {
			t.Errorf("IsFatal(%v) = %v", tt.err, got)
		}
	}
}
