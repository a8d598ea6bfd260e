package hdcp

import (
	"crypto/rsa"
	"io"

	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/crypto"
	"github.com/backkem/hdcp/pkg/dispatch"
	"github.com/backkem/hdcp/pkg/link"
	"github.com/backkem/hdcp/pkg/partition"
	"github.com/backkem/hdcp/pkg/store"
	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// Conduit selects how an isolated engine reaches its partition.
type Conduit uint8

const (
	// ConduitDirect calls the partition server in the caller's goroutine.
	ConduitDirect Conduit = iota

	// ConduitPipe sends boundary call frames over an in-memory packet pipe
	// to a partition server goroutine.
	ConduitPipe
)

// String returns the conduit name as used in settings files.
func (c Conduit) String() string {
	switch c {
	case ConduitDirect:
		return "direct"
	case ConduitPipe:
		return "pipe"
	default:
		return "unknown"
	}
}

// IsValid returns true for defined conduits.
func (c Conduit) IsValid() bool {
	return c <= ConduitPipe
}

// ParseConduit parses the String form of a conduit.
func ParseConduit(s string) (Conduit, error) {
	switch s {
	case "direct", "":
		return ConduitDirect, nil
	case "pipe":
		return ConduitPipe, nil
	default:
		return 0, ErrUnknownConduit
	}
}

// Config holds all configuration for an Engine.
type Config struct {
	// Link is the transport backend. Required.
	Link link.Backend

	// TrustAnchor is the DCP LLC public key. Certificates and SRMs are
	// rejected while it is nil.
	TrustAnchor *rsa.PublicKey

	// PairingKey wraps km for the host pairing cache (16 bytes, optional).
	PairingKey []byte

	// Dispatcher
	Mode    dispatch.Mode // default: overlay
	Conduit Conduit       // isolated only (default: direct)

	// CarveoutSize is the isolated partition memory (default: action.BufferSize).
	CarveoutSize int

	// Halt runs on a partition fault. Defaults to a panic.
	Halt func(*partition.Fault)

	// Store configures the secret store. Its LoggerFactory defaults to
	// the engine's.
	Store store.Config

	// Handler bounds - Optional (handler defaults if zero)
	PollRetries int
	EdgeRetries int

	// Advanced - Testing
	Crypto crypto.Provider
	Rand   io.Reader

	// Registerer exports dispatcher metrics when set.
	Registerer prometheus.Registerer

	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Link == nil {
		return ErrLinkRequired
	}
	if !c.Mode.IsValid() {
		return ErrUnknownMode
	}
	if !c.Conduit.IsValid() {
		return ErrUnknownConduit
	}
	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.CarveoutSize == 0 {
		c.CarveoutSize = action.BufferSize
	}
	if c.Store.LoggerFactory == nil {
		c.Store.LoggerFactory = c.LoggerFactory
	}
}
