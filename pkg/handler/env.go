// Package handler implements one protocol action handler per secure action
// kind. Handlers read and write session state only through the secret store
// and reach hardware only through the link backend.
package handler

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/crypto"
	"github.com/backkem/hdcp/pkg/link"
	"github.com/backkem/hdcp/pkg/status"
	"github.com/backkem/hdcp/pkg/store"
	"github.com/pion/logging"
)

// Defaults.
const (
	DefaultPollRetries = 100
	DefaultEdgeRetries = 100
)

// DefaultTxCaps advertises HDCP 2.2 (VERSION 0x02) with no optional
// transmitter capabilities.
var DefaultTxCaps = [crypto.TxCapsSize]byte{0x02, 0x00, 0x00}

// Config configures an Env.
type Config struct {
	Store  *store.Store
	Link   link.Backend
	Crypto crypto.Provider

	// TrustAnchor is the DCP LLC public key used for certificates and SRMs.
	TrustAnchor *rsa.PublicKey

	// PairingKey wraps km for the host pairing cache. Stored-km
	// authentication is unavailable without it.
	PairingKey []byte

	TxCaps [crypto.TxCapsSize]byte

	// PollRetries bounds the cipher status poll.
	PollRetries int

	// EdgeRetries bounds the link timing edge wait.
	EdgeRetries int

	// Rand supplies pairing nonces. Defaults to crypto/rand.
	Rand io.Reader

	LoggerFactory logging.LoggerFactory
}

func (c *Config) applyDefaults() {
	if c.Crypto == nil {
		c.Crypto = &crypto.Software{}
	}
	if c.TxCaps == ([crypto.TxCapsSize]byte{}) {
		c.TxCaps = DefaultTxCaps
	}
	if c.PollRetries <= 0 {
		c.PollRetries = DefaultPollRetries
	}
	if c.EdgeRetries <= 0 {
		c.EdgeRetries = DefaultEdgeRetries
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.New("handler: store is required")
	}
	if c.Link == nil {
		return errors.New("handler: link backend is required")
	}
	if len(c.PairingKey) != 0 && len(c.PairingKey) != crypto.AESCCMKeySize {
		return fmt.Errorf("handler: pairing key must be %d bytes", crypto.AESCCMKeySize)
	}
	return nil
}

// Handler executes one action kind against the environment.
type Handler func(e *Env, p action.Payload) error

// Env is everything a handler may touch.
type Env struct {
	store   *store.Store
	link    link.Backend
	crypto  crypto.Provider
	trust   *rsa.PublicKey
	pairing []byte
	txCaps  [crypto.TxCapsSize]byte
	polls   int
	edges   int
	rand    io.Reader

	// Observe, when set, is called once per handler invocation.
	Observe func(action.Kind)

	log logging.LeveledLogger
}

// NewEnv creates a handler environment.
func NewEnv(cfg Config) (*Env, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Env{
		store:   cfg.Store,
		link:    cfg.Link,
		crypto:  cfg.Crypto,
		trust:   cfg.TrustAnchor,
		pairing: append([]byte(nil), cfg.PairingKey...),
		txCaps:  cfg.TxCaps,
		polls:   cfg.PollRetries,
		edges:   cfg.EdgeRetries,
		rand:    cfg.Rand,
	}
	if cfg.LoggerFactory != nil {
		e.log = cfg.LoggerFactory.NewLogger("hdcp-handler")
	}
	return e, nil
}

// Store returns the secret store.
func (e *Env) Store() *store.Store { return e.store }

// Link returns the link backend.
func (e *Env) Link() link.Backend { return e.link }

// Close zeroes the pairing key.
func (e *Env) Close() {
	clear(e.pairing)
}

var table = [...]Handler{
	action.KindStartSession:      startSession,
	action.KindVerifyCertificate: verifyCertificate,
	action.KindKmKdGen:           kmKdGen,
	action.KindValidateHprime:    validateHprime,
	action.KindLcInit:            lcInit,
	action.KindValidateLprime:    validateLprime,
	action.KindEksGen:            eksGen,
	action.KindControlEncryption: controlEncryption,
	action.KindValidateVprime:    validateVprime,
	action.KindValidateMprime:    validateMprime,
	action.KindWriteDpEcf:        writeDpEcf,
	action.KindEndSession:        endSession,
	action.KindSrmRevocation:     srmRevocation,
	action.KindRegAccess:         regAccess,
	action.KindHashCompute:       hashCompute,
	action.KindDeriveKey:         deriveKey,
	action.KindEncryptSecret:     encryptSecret,
	action.KindDecryptSecret:     decryptSecret,
	action.KindSaveSession:       saveSession,
	action.KindRestoreSession:    restoreSession,
}

// Lookup returns the handler for k.
func Lookup(k action.Kind) (Handler, bool) {
	if !k.IsValid() || int(k) >= len(table) || table[k] == nil {
		return nil, false
	}
	return table[k], true
}

// Handle validates req and runs its handler. Output fields are written
// into req.Payload.
func (e *Env) Handle(req *action.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	h, ok := Lookup(req.Kind)
	if !ok {
		return action.ErrUnknownKind
	}
	if e.Observe != nil {
		e.Observe(req.Kind)
	}
	err := h(e, req.Payload)
	if err != nil && e.log != nil {
		e.log.Debugf("%s failed: %v", req.Kind, err)
	}
	return err
}

// random fills dst from the link RNG.
func (e *Env) random(dst []byte) error {
	words := make([]uint32, (len(dst)+3)/4)
	defer clear(words)
	if err := e.link.RandomNumber(words); err != nil {
		return err
	}
	var w [4]byte
	for i := range dst {
		if i%4 == 0 {
			binary.BigEndian.PutUint32(w[:], words[i/4])
		}
		dst[i] = w[i%4]
	}
	clear(w[:])
	return nil
}

func (e *Env) warnf(format string, args ...any) {
	if e.log != nil {
		e.log.Warnf(format, args...)
	}
}

func (e *Env) debugf(format string, args ...any) {
	if e.log != nil {
		e.log.Debugf(format, args...)
	}
}

// Wrap status from lower layers unchanged; give bare errors a generic code.
func ioErr(err error) error {
	if err == nil {
		return nil
	}
	var s status.Status
	if errors.As(err, &s) {
		return err
	}
	return fmt.Errorf("handler: %w: %w", status.GenericIOFailure, err)
}
