package dispatch

import (
	"strings"
	"sync"

	"github.com/backkem/hdcp/pkg/action"
)

// Capability is a set of protected regions an action needs attached.
type Capability uint8

const (
	// CapStore is the secret store region.
	CapStore Capability = 1 << iota

	// CapCrypto is the crypto code overlay.
	CapCrypto

	// CapLink is the HDCP register window.
	CapLink

	// CapRNG is the hardware random number source.
	CapRNG
)

// String lists the set bits.
func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for _, n := range []struct {
		bit  Capability
		name string
	}{
		{CapStore, "store"},
		{CapCrypto, "crypto"},
		{CapLink, "link"},
		{CapRNG, "rng"},
	} {
		if c&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

var required = [...]Capability{
	action.KindStartSession:      CapStore | CapLink | CapRNG,
	action.KindVerifyCertificate: CapStore | CapCrypto,
	action.KindKmKdGen:           CapStore | CapCrypto | CapRNG,
	action.KindValidateHprime:    CapStore | CapCrypto,
	action.KindLcInit:            CapStore | CapRNG,
	action.KindValidateLprime:    CapStore | CapCrypto,
	action.KindEksGen:            CapStore | CapCrypto | CapRNG,
	action.KindControlEncryption: CapStore | CapLink,
	action.KindValidateVprime:    CapStore | CapCrypto,
	action.KindValidateMprime:    CapStore | CapCrypto,
	action.KindWriteDpEcf:        CapLink,
	action.KindEndSession:        CapStore,
	action.KindSrmRevocation:     CapStore | CapCrypto,
	action.KindRegAccess:         CapLink,
	action.KindHashCompute:       CapCrypto,
	action.KindDeriveKey:         CapCrypto,
	action.KindEncryptSecret:     CapStore,
	action.KindDecryptSecret:     CapStore,
	action.KindSaveSession:       CapStore,
	action.KindRestoreSession:    CapStore,
}

// Required returns the capabilities action k needs.
func Required(k action.Kind) (Capability, bool) {
	if !k.IsValid() || int(k) >= len(required) {
		return 0, false
	}
	return required[k], true
}

// Overlays attaches and detaches protected regions.
type Overlays interface {
	Attach(c Capability) error
	Detach(c Capability)
}

// Token is an attached capability set. Detach releases it once.
type Token struct {
	overlays Overlays
	caps     Capability
	once     sync.Once
}

// Attach attaches c on o and returns the token that releases it.
func Attach(o Overlays, c Capability) (*Token, error) {
	if err := o.Attach(c); err != nil {
		return nil, err
	}
	return &Token{overlays: o, caps: c}, nil
}

// Capabilities returns the attached set.
func (t *Token) Capabilities() Capability { return t.caps }

// Detach releases the capability set. Further calls do nothing.
func (t *Token) Detach() {
	t.once.Do(func() { t.overlays.Detach(t.caps) })
}

// Regions is an in-process Overlays that tracks the attached set and
// rejects overlapping attachments.
type Regions struct {
	mu       sync.Mutex
	attached Capability
	attaches uint64
}

var _ Overlays = (*Regions)(nil)

// Attach implements Overlays.
func (r *Regions) Attach(c Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attached&c != 0 {
		return ErrAttached
	}
	r.attached |= c
	r.attaches++
	return nil
}

// Detach implements Overlays.
func (r *Regions) Detach(c Capability) {
	r.mu.Lock()
	r.attached &^= c
	r.mu.Unlock()
}

// Attached returns the currently attached set.
func (r *Regions) Attached() Capability {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attached
}

// Attaches returns how many attachments have succeeded.
func (r *Regions) Attaches() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attaches
}
