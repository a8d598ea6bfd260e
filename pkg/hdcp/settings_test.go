package hdcp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/backkem/hdcp/pkg/crypto"
	"github.com/backkem/hdcp/pkg/dispatch"
	"github.com/backkem/hdcp/pkg/link"
	"github.com/backkem/hdcp/pkg/store"
	"github.com/google/go-cmp/cmp"
)

const testSettings = `
mode: isolated
conduit: pipe
store:
  cipher: mask
  digest: blake3
  integrity: false
  snapshots: 2
retries:
  poll: 7
  edge: 3
link:
  generation: v1
  timing_workaround: false
`

func TestSettingsApply(t *testing.T) {
	s, err := ParseSettings([]byte(testSettings))
	if err != nil {
		t.Fatalf("ParseSettings() error = %v", err)
	}

	var cfg Config
	if err := s.Apply(&cfg); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	want := Config{
		Mode:    dispatch.ModeIsolated,
		Conduit: ConduitPipe,
		Store: store.Config{
			Cipher:                store.CipherMask,
			Digest:                crypto.DigestBLAKE3,
			DisableIntegrityCheck: true,
			Snapshots:             2,
		},
		PollRetries: 7,
		EdgeRetries: 3,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Config mismatch (-want +got):\n%s", diff)
	}

	var lc link.Config
	if err := s.ApplyLink(&lc); err != nil {
		t.Fatalf("ApplyLink() error = %v", err)
	}
	if lc.Generation != link.GenerationV1 || !lc.DisableTimingWorkaround {
		t.Errorf("link config = %+v", lc)
	}
}

func TestSettingsEmpty(t *testing.T) {
	s, err := ParseSettings(nil)
	if err != nil {
		t.Fatalf("ParseSettings(nil) error = %v", err)
	}
	cfg := Config{Mode: dispatch.ModeIsolated, PollRetries: 9}
	if err := s.Apply(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != dispatch.ModeIsolated || cfg.PollRetries != 9 || cfg.Store.DisableIntegrityCheck {
		t.Errorf("empty settings changed config: %+v", cfg)
	}
}

func TestSettingsRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"mode", "mode: tee"},
		{"conduit", "conduit: shm"},
		{"cipher", "store: {cipher: xor}"},
		{"digest", "store: {digest: md5}"},
		{"snapshots", "store: {snapshots: -1}"},
		{"generation", "link: {generation: v9}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSettings([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("ParseSettings() error = %v", err)
			}
			var cfg Config
			var lc link.Config
			if s.Apply(&cfg) == nil && s.ApplyLink(&lc) == nil {
				t.Errorf("%q accepted", tt.yaml)
			}
		})
	}

	if _, err := ParseSettings([]byte("modes: overlay")); err == nil {
		t.Error("unknown key accepted")
	}
}

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hdcp.yaml")
	if err := os.WriteFile(path, []byte(testSettings), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if s.Mode != "isolated" || s.Store.Integrity == nil || *s.Store.Integrity {
		t.Errorf("settings = %+v", s)
	}

	if _, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
