package handler

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"

	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/crypto"
	"github.com/backkem/hdcp/pkg/hdcp/hdcptest"
	"github.com/backkem/hdcp/pkg/link"
	"github.com/backkem/hdcp/pkg/status"
	"github.com/backkem/hdcp/pkg/store"
	"github.com/google/go-cmp/cmp"
)

var testPairingKey = bytes.Repeat([]byte{0x5a}, crypto.AESCCMKeySize)

type harness struct {
	t     *testing.T
	sim   *link.Sim
	env   *Env
	store *store.Store
}

type harnessConfig struct {
	link      hdcptest.LinkConfig
	store     store.Config
	noTrust   bool
	noPairing bool
	polls     int
	crypto    crypto.Provider
}

func newHarness(t *testing.T, hc harnessConfig) *harness {
	t.Helper()
	sim, backend, err := hdcptest.NewLink(hc.link)
	if err != nil {
		t.Fatalf("NewLink() error = %v", err)
	}
	st, err := store.New(hc.store)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	cfg := Config{
		Store:       st,
		Link:        backend,
		PollRetries: hc.polls,
		Crypto:      hc.crypto,
	}
	if !hc.noTrust {
		cfg.TrustAnchor = &hdcptest.DCP().PublicKey
	}
	if !hc.noPairing {
		cfg.PairingKey = testPairingKey
	}
	env, err := NewEnv(cfg)
	if err != nil {
		t.Fatalf("NewEnv() error = %v", err)
	}
	return &harness{t: t, sim: sim, env: env, store: st}
}

func (h *harness) do(p action.Payload) error {
	h.t.Helper()
	req, err := action.New(p)
	if err != nil {
		h.t.Fatalf("action.New(%T) error = %v", p, err)
	}
	return h.env.Handle(req)
}

func (h *harness) must(p action.Payload) {
	h.t.Helper()
	if err := h.do(p); err != nil {
		h.t.Fatalf("%s error = %v", p.Kind(), err)
	}
}

func (h *harness) session() store.SessionSecrets {
	h.t.Helper()
	ss, err := h.store.Session()
	if err != nil {
		h.t.Fatalf("Session() error = %v", err)
	}
	return ss
}

func (h *harness) stage() store.Stage {
	return h.session().PrevStage
}

func newReceiver(t *testing.T, cfg hdcptest.ReceiverConfig) *hdcptest.Receiver {
	t.Helper()
	rx, err := hdcptest.NewReceiver(cfg)
	if err != nil {
		t.Fatalf("NewReceiver() error = %v", err)
	}
	return rx
}

// runAKE drives StartSession through ValidateHprime. It returns the
// pairing blob produced by a no-stored-km exchange.
func (h *harness) runAKE(rx *hdcptest.Receiver, start *action.StartSession, wrapped []byte) []byte {
	h.t.Helper()
	h.must(start)
	cert, rrx, rxCaps, err := rx.AKEInit(start.Rtx, start.TxCaps)
	if err != nil {
		h.t.Fatal(err)
	}
	h.must(&action.VerifyCertificate{CertRx: cert, Rrx: rrx, RxCaps: rxCaps})

	var hprime [crypto.HprimeSize]byte
	if wrapped != nil {
		h.must(&action.KmKdGen{Stored: true, WrappedKm: wrapped})
		if hprime, err = rx.StoredKm(); err != nil {
			h.t.Fatal(err)
		}
	} else {
		km := &action.KmKdGen{CertRx: cert}
		h.must(km)
		if len(km.EkpubKm) != crypto.EkpubKmSize {
			h.t.Fatalf("EkpubKm len = %d", len(km.EkpubKm))
		}
		if hprime, err = rx.NoStoredKm(km.EkpubKm); err != nil {
			h.t.Fatal(err)
		}
		wrapped = km.WrappedKm
	}
	h.must(&action.ValidateHprime{Hprime: hprime})
	return wrapped
}

// runToSessionKey drives a full AKE, LC and SKE.
func (h *harness) runToSessionKey(rx *hdcptest.Receiver, start *action.StartSession) {
	h.t.Helper()
	h.runAKE(rx, start, nil)
	h.must(&action.ValidateLprime{Lprime: rx.LCInit(start.Rn)})
	eks := &action.EksGen{}
	h.must(eks)
	if err := rx.SendEks(eks.EdkeyKs, eks.Riv, start.Rn); err != nil {
		h.t.Fatal(err)
	}
}

func TestStartSession(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	start := &action.StartSession{ControllerIndex: 0, Streams: []store.StreamDesc{{ID: 0, Type: store.StreamType1}}}
	h.must(start)
	if start.Rtx == ([crypto.RtxSize]byte{}) || start.Rn == ([crypto.RnSize]byte{}) {
		t.Errorf("nonces not returned: rtx=%x rn=%x", start.Rtx, start.Rn)
	}
	if start.TxCaps != DefaultTxCaps {
		t.Errorf("TxCaps = %x", start.TxCaps)
	}
	ss := h.session()
	if ss.PrevStage != store.StageStarted || ss.MaxControllers != 4 || ss.NumStreams != 1 {
		t.Errorf("session = %+v", ss)
	}
	if ss.CryptRandom == ([store.CryptRandomSize]byte{}) {
		t.Error("crypt random not drawn")
	}
}

func TestStartSessionRejects(t *testing.T) {
	tests := []struct {
		name  string
		start *action.StartSession
		want  error
	}{
		{"controller out of range", &action.StartSession{ControllerIndex: 9}, ErrControllerRange},
		{"controller at limit", &action.StartSession{ControllerIndex: 4}, ErrControllerRange},
		{"sublink out of range", &action.StartSession{SublinkIndex: 4}, ErrSublinkRange},
		{"too many streams", &action.StartSession{MultiStream: true, Streams: make([]store.StreamDesc, store.MaxStreams+1)}, ErrStreamCount},
		{"multiple streams on SST", &action.StartSession{Streams: make([]store.StreamDesc, 2)}, ErrStreamCount},
		{"bad stream type", &action.StartSession{Streams: []store.StreamDesc{{Type: 7}}}, ErrStreamType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessConfig{})
			err := h.do(tt.start)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if status.Of(err) != status.InvalidArgument {
				t.Errorf("status = %v", status.Of(err))
			}
			if diff := cmp.Diff(store.SessionSecrets{}, h.session()); diff != "" {
				t.Errorf("session not zero:\n%s", diff)
			}
		})
	}
}

func TestStageOrder(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	before := h.session()

	err := h.do(&action.KmKdGen{CertRx: make([]byte, crypto.CertRxSize)})
	if !errors.Is(err, ErrStageOrder) || status.Of(err) != status.InvalidArgument {
		t.Fatalf("KmKdGen in Idle error = %v", err)
	}
	if diff := cmp.Diff(before, h.session()); diff != "" {
		t.Errorf("session changed:\n%s", diff)
	}

	for _, p := range []action.Payload{
		&action.VerifyCertificate{},
		&action.ValidateHprime{},
		&action.LcInit{},
		&action.ValidateLprime{},
		&action.EksGen{},
		&action.ControlEncryption{Enable: true},
		&action.ValidateVprime{},
		&action.ValidateMprime{},
		&action.SaveSession{},
	} {
		if err := h.do(p); !errors.Is(err, ErrStageOrder) {
			t.Errorf("%s in Idle error = %v, want ErrStageOrder", p.Kind(), err)
		}
	}

	h.must(&action.StartSession{})
	if err := h.do(&action.ValidateHprime{}); !errors.Is(err, ErrStageOrder) {
		t.Errorf("ValidateHprime after StartSession error = %v", err)
	}
	if h.stage() != store.StageStarted {
		t.Errorf("stage = %s", h.stage())
	}
}

func TestFullAuthentication(t *testing.T) {
	for _, gen := range []link.Generation{link.GenerationV1, link.GenerationV2} {
		t.Run(gen.String(), func(t *testing.T) {
			h := newHarness(t, harnessConfig{link: hdcptest.LinkConfig{Generation: gen, EdgeAfter: 2, ActivateAfter: 3}})
			rx := newReceiver(t, hdcptest.ReceiverConfig{})
			start := &action.StartSession{ControllerIndex: 1}
			h.runToSessionKey(rx, start)
			if h.stage() != store.StageSessionKeyed {
				t.Fatalf("stage = %s", h.stage())
			}

			h.must(&action.ControlEncryption{Enable: true})
			if h.stage() != store.StageEncryptionControlled {
				t.Errorf("stage = %s", h.stage())
			}

			ks := rx.SessionKey()
			for i, reg := range keyRegisters {
				got := h.sim.Peek(h.sim.Address(reg, 1))
				want := uint32(ks[4*i])<<24 | uint32(ks[4*i+1])<<16 | uint32(ks[4*i+2])<<8 | uint32(ks[4*i+3])
				if got != want {
					t.Errorf("%s = %#08x, receiver ks word %#08x", reg, got, want)
				}
			}
			riv := rx.Riv()
			if got := h.sim.Peek(h.sim.Address(link.RegRivHi, 1)); got != uint32(riv[0])<<24|uint32(riv[1])<<16|uint32(riv[2])<<8|uint32(riv[3]) {
				t.Errorf("RivHi = %#08x", got)
			}
			ctrl := h.sim.Peek(h.sim.Address(link.RegHDCPControl, 1))
			if ctrl&(link.ControlEnable|link.ControlInit) != link.ControlEnable|link.ControlInit {
				t.Errorf("control = %#x", ctrl)
			}
			if gen == link.GenerationV1 {
				if n := h.sim.Reads(h.sim.Address(link.RegLinkTiming, 1)); n != 3 {
					t.Errorf("timing reads = %d, want 3", n)
				}
			}
		})
	}
}

func TestHprimeMismatch(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	rx := newReceiver(t, hdcptest.ReceiverConfig{})
	start := &action.StartSession{}
	h.must(start)
	cert, rrx, caps, _ := rx.AKEInit(start.Rtx, start.TxCaps)
	h.must(&action.VerifyCertificate{CertRx: cert, Rrx: rrx, RxCaps: caps})
	h.must(&action.KmKdGen{CertRx: cert})

	err := h.do(&action.ValidateHprime{Hprime: [32]byte{1}})
	if !errors.Is(err, ErrHprime) || status.Of(err) != status.ValidationFailure {
		t.Fatalf("error = %v", err)
	}
	ss := h.session()
	if ss.PrevStage != store.StageKeysDerived || ss.Rejects != 1 {
		t.Errorf("stage %s rejects %d", ss.PrevStage, ss.Rejects)
	}
}

// hookedProvider runs onHMAC before each HMAC computation.
type hookedProvider struct {
	crypto.Provider
	onHMAC func()
}

func (p *hookedProvider) HMAC(key []byte, parts ...[]byte) [crypto.SHA256Size]byte {
	if p.onHMAC != nil {
		p.onHMAC()
	}
	return p.Provider.HMAC(key, parts...)
}

func TestHprimeMismatchOnTamperedStore(t *testing.T) {
	hp := &hookedProvider{Provider: &crypto.Software{}}
	h := newHarness(t, harnessConfig{crypto: hp})
	rx := newReceiver(t, hdcptest.ReceiverConfig{})
	start := &action.StartSession{}
	h.must(start)
	cert, rrx, caps, _ := rx.AKEInit(start.Rtx, start.TxCaps)
	h.must(&action.VerifyCertificate{CertRx: cert, Rrx: rrx, RxCaps: caps})
	h.must(&action.KmKdGen{CertRx: cert})

	// Corrupt the session region after it was read for the compare.
	hp.onHMAC = func() { h.store.Region()[8] ^= 0x01 }
	err := h.do(&action.ValidateHprime{Hprime: [32]byte{1}})
	if status.Of(err) != status.IntegrityViolation {
		t.Fatalf("error = %v, want integrity violation", err)
	}
	if errors.Is(err, ErrHprime) {
		t.Errorf("integrity failure reported as H' mismatch: %v", err)
	}
}

func TestKmKdGenBindsVerifiedKey(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	rx := newReceiver(t, hdcptest.ReceiverConfig{})
	start := &action.StartSession{}
	h.must(start)
	cert, rrx, caps, _ := rx.AKEInit(start.Rtx, start.TxCaps)
	h.must(&action.VerifyCertificate{CertRx: cert, Rrx: rrx, RxCaps: caps})

	want := crypto.SHA256(cert[crypto.CertKpubOffset : crypto.CertKpubOffset+crypto.KpubRxSize])
	if ss := h.session(); ss.KpubDigest != want {
		t.Fatalf("KpubDigest = %x, want %x", ss.KpubDigest, want)
	}

	// Same receiver id, host-owned key.
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatal(err)
	}
	kpub, err := crypto.EncodeReceiverPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	forged := bytes.Clone(cert)
	copy(forged[crypto.CertKpubOffset:], kpub[:])

	km := &action.KmKdGen{CertRx: forged}
	err = h.do(km)
	if !errors.Is(err, ErrReceiverKeyChanged) || status.Of(err) != status.ValidationFailure {
		t.Fatalf("forged key error = %v", err)
	}
	if km.EkpubKm != nil || km.WrappedKm != nil {
		t.Errorf("km released on forged key: ekpub %d wrapped %d bytes", len(km.EkpubKm), len(km.WrappedKm))
	}
	if st := h.stage(); st != store.StageCertificateVerified {
		t.Errorf("stage = %s", st)
	}

	// The verified certificate still proceeds.
	km = &action.KmKdGen{CertRx: cert}
	h.must(km)
	hprime, err := rx.NoStoredKm(km.EkpubKm)
	if err != nil {
		t.Fatal(err)
	}
	h.must(&action.ValidateHprime{Hprime: hprime})
}

func TestCertificateRejects(t *testing.T) {
	rx := newReceiver(t, hdcptest.ReceiverConfig{})

	t.Run("bad signature", func(t *testing.T) {
		h := newHarness(t, harnessConfig{})
		start := &action.StartSession{}
		h.must(start)
		cert, rrx, caps, _ := rx.AKEInit(start.Rtx, start.TxCaps)
		cert[crypto.CertSignedSize-1] ^= 0x01
		err := h.do(&action.VerifyCertificate{CertRx: cert, Rrx: rrx, RxCaps: caps})
		if !errors.Is(err, ErrCertSignature) || status.Of(err) != status.ValidationFailure {
			t.Fatalf("error = %v", err)
		}
		if ss := h.session(); ss.PrevStage != store.StageStarted || ss.ReceiverID != ([5]byte{}) {
			t.Errorf("state mutated on failure: %+v", ss)
		}
	})

	t.Run("bad receiver id", func(t *testing.T) {
		h := newHarness(t, harnessConfig{})
		h.must(&action.StartSession{})
		cert := rx.Cert()
		cert[0] = 0xff
		if err := h.do(&action.VerifyCertificate{CertRx: cert}); !errors.Is(err, ErrReceiverID) {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("short", func(t *testing.T) {
		h := newHarness(t, harnessConfig{})
		h.must(&action.StartSession{})
		if err := h.do(&action.VerifyCertificate{CertRx: make([]byte, 10)}); !errors.Is(err, ErrCertSize) {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("no trust anchor", func(t *testing.T) {
		h := newHarness(t, harnessConfig{noTrust: true})
		h.must(&action.StartSession{})
		err := h.do(&action.VerifyCertificate{CertRx: rx.Cert()})
		if status.Of(err) != status.NotSupported {
			t.Errorf("status = %v", status.Of(err))
		}
	})
}

func TestLocalityCheckRetry(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	rx := newReceiver(t, hdcptest.ReceiverConfig{})
	start := &action.StartSession{}
	h.runAKE(rx, start, nil)

	stale := rx.LCInit(start.Rn)
	lc := &action.LcInit{}
	h.must(lc)
	if lc.Rn == start.Rn {
		t.Fatal("LcInit did not refresh rn")
	}
	if err := h.do(&action.ValidateLprime{Lprime: stale}); !errors.Is(err, ErrLprime) {
		t.Fatalf("stale L' error = %v", err)
	}
	if h.stage() != store.StageHprimeValidated {
		t.Fatalf("stage = %s after rejected L'", h.stage())
	}
	h.must(&action.ValidateLprime{Lprime: rx.LCInit(lc.Rn)})
	if ss := h.session(); ss.PrevStage != store.StageLCValidated || ss.Rejects != 1 {
		t.Errorf("stage %s rejects %d", ss.PrevStage, ss.Rejects)
	}
	if err := h.do(&action.LcInit{}); !errors.Is(err, ErrStageOrder) {
		t.Errorf("LcInit after LC error = %v", err)
	}
}

func TestStoredKmReauthentication(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	rx := newReceiver(t, hdcptest.ReceiverConfig{})
	wrapped := h.runAKE(rx, &action.StartSession{}, nil)
	if len(wrapped) != crypto.WrappedKmSize {
		t.Fatalf("wrapped km len = %d", len(wrapped))
	}

	start := &action.StartSession{}
	h.runAKE(rx, start, wrapped)
	if ss := h.session(); !ss.StoredKm || ss.PrevStage != store.StageHprimeValidated {
		t.Errorf("stored-km session = %+v", ss)
	}
	h.must(&action.ValidateLprime{Lprime: rx.LCInit(start.Rn)})

	other := newReceiver(t, hdcptest.ReceiverConfig{ID: hdcptest.ReceiverB})
	h2 := newHarness(t, harnessConfig{})
	start2 := &action.StartSession{}
	h2.must(start2)
	cert, rrx, caps, _ := other.AKEInit(start2.Rtx, start2.TxCaps)
	h2.must(&action.VerifyCertificate{CertRx: cert, Rrx: rrx, RxCaps: caps})
	err := h2.do(&action.KmKdGen{Stored: true, WrappedKm: wrapped})
	if !errors.Is(err, ErrPairing) || status.Of(err) != status.ValidationFailure {
		t.Errorf("foreign pairing blob error = %v", err)
	}
}

func TestStoredKmWithoutPairingKey(t *testing.T) {
	h := newHarness(t, harnessConfig{noPairing: true})
	rx := newReceiver(t, hdcptest.ReceiverConfig{})
	if w := h.runAKE(rx, &action.StartSession{}, nil); w != nil {
		t.Errorf("wrapped km returned without pairing key")
	}
	h.must(&action.StartSession{})
	cert, rrx, caps, _ := rx.AKEInit([8]byte{}, DefaultTxCaps)
	h.must(&action.VerifyCertificate{CertRx: cert, Rrx: rrx, RxCaps: caps})
	err := h.do(&action.KmKdGen{Stored: true, WrappedKm: make([]byte, crypto.WrappedKmSize)})
	if status.Of(err) != status.NotSupported {
		t.Errorf("status = %v", status.Of(err))
	}
}
