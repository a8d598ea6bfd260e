package hdcp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/backkem/hdcp/pkg/crypto"
	"github.com/backkem/hdcp/pkg/dispatch"
	"github.com/backkem/hdcp/pkg/link"
	"github.com/backkem/hdcp/pkg/store"
)

// Settings is the declarative engine configuration loaded from YAML.
// Empty fields leave the corresponding Config field untouched.
//
//	mode: isolated
//	conduit: pipe
//	store:
//	  cipher: mask
//	  digest: blake3
//	  integrity: true
//	  snapshots: 4
//	retries:
//	  poll: 200
//	  edge: 50
//	link:
//	  generation: v1
//	  timing_workaround: false
type Settings struct {
	// Mode is "overlay" or "isolated".
	Mode string `yaml:"mode"`

	// Conduit is "direct" or "pipe". Only used in isolated mode.
	Conduit string `yaml:"conduit"`

	Store   StoreSettings `yaml:"store"`
	Retries RetrySettings `yaml:"retries"`
	Link    LinkSettings  `yaml:"link"`
}

// StoreSettings configures the secret store.
type StoreSettings struct {
	// Cipher is "block" or "mask".
	Cipher string `yaml:"cipher"`

	// Digest is "hmac-sha256", "aes-cmac" or "blake3".
	Digest string `yaml:"digest"`

	// Integrity turns the integrity verifier on or off. Unset keeps it on.
	Integrity *bool `yaml:"integrity"`

	Snapshots int `yaml:"snapshots"`
}

// RetrySettings bounds the handler polling loops.
type RetrySettings struct {
	Poll int `yaml:"poll"`
	Edge int `yaml:"edge"`
}

// LinkSettings configures the link backend.
type LinkSettings struct {
	// Generation is "v1" or "v2".
	Generation string `yaml:"generation"`

	// TimingWorkaround, when false, disables the link timing edge wait on
	// generations that need it.
	TimingWorkaround *bool `yaml:"timing_workaround"`
}

// LoadSettings reads settings from a YAML file.
func LoadSettings(path string) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hdcp: failed to read settings file: %w", err)
	}
	defer f.Close()
	return ReadSettings(f)
}

// ParseSettings parses settings from YAML bytes.
func ParseSettings(data []byte) (*Settings, error) {
	return ReadSettings(bytes.NewReader(data))
}

// ReadSettings decodes settings from r. Unknown keys are rejected.
func ReadSettings(r io.Reader) (*Settings, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var s Settings
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("hdcp: failed to parse settings: %w", err)
	}
	return &s, nil
}

// Apply copies the engine settings into cfg.
func (s *Settings) Apply(cfg *Config) error {
	if s.Mode != "" {
		m, err := dispatch.ParseMode(s.Mode)
		if err != nil {
			return err
		}
		cfg.Mode = m
	}
	if s.Conduit != "" {
		c, err := ParseConduit(s.Conduit)
		if err != nil {
			return err
		}
		cfg.Conduit = c
	}
	if s.Store.Cipher != "" {
		m, err := store.ParseCipherMode(s.Store.Cipher)
		if err != nil {
			return err
		}
		cfg.Store.Cipher = m
	}
	if s.Store.Digest != "" {
		a, err := crypto.ParseDigestAlgorithm(s.Store.Digest)
		if err != nil {
			return err
		}
		cfg.Store.Digest = a
	}
	if s.Store.Integrity != nil {
		cfg.Store.DisableIntegrityCheck = !*s.Store.Integrity
	}
	if s.Store.Snapshots < 0 {
		return fmt.Errorf("hdcp: negative snapshot count %d", s.Store.Snapshots)
	}
	if s.Store.Snapshots > 0 {
		cfg.Store.Snapshots = s.Store.Snapshots
	}
	if s.Retries.Poll > 0 {
		cfg.PollRetries = s.Retries.Poll
	}
	if s.Retries.Edge > 0 {
		cfg.EdgeRetries = s.Retries.Edge
	}
	return nil
}

// ApplyLink copies the link settings into cfg.
func (s *Settings) ApplyLink(cfg *link.Config) error {
	if s.Link.Generation != "" {
		g, err := link.ParseGeneration(s.Link.Generation)
		if err != nil {
			return err
		}
		cfg.Generation = g
	}
	if s.Link.TimingWorkaround != nil {
		cfg.DisableTimingWorkaround = !*s.Link.TimingWorkaround
	}
	return nil
}
