// Package store implements the per-engine secret store: an integrity-checked
// session region, an enciphered key region and a bounded set of session
// snapshots.
//
// Every mutation of the session region follows the same pattern: verify the
// recorded digest, apply the change to a decoded copy, encode it back and
// refresh the digest. A digest mismatch zeroes the whole store.
package store

import (
	"crypto/rand"
	"io"
	"sync"
	"sync/atomic"

	"github.com/backkem/hdcp/pkg/crypto"
	"github.com/pion/logging"
)

// DefaultSnapshots is the default number of snapshot slots.
const DefaultSnapshots = 4

// LinkID selects a snapshot slot.
type LinkID uint8

// Config configures a Store.
type Config struct {
	// Cipher selects the confidential cipher. Defaults to CipherBlock.
	Cipher CipherMode

	// Digest selects the integrity digest. Defaults to HMAC-SHA256.
	Digest crypto.DigestAlgorithm

	// IntegrityKey keys the digest. A random key is generated when empty.
	IntegrityKey []byte

	// DisableIntegrityCheck turns the verifier into a no-op.
	DisableIntegrityCheck bool

	// Snapshots is the number of snapshot slots (default DefaultSnapshots).
	Snapshots int

	// Rand is used to generate the integrity key. Defaults to crypto/rand.
	Rand io.Reader

	LoggerFactory logging.LoggerFactory
}

func (c *Config) applyDefaults() {
	if c.Snapshots <= 0 {
		c.Snapshots = DefaultSnapshots
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Cipher.IsValid() {
		return ErrUnknownCipher
	}
	if !c.Digest.IsValid() {
		return crypto.ErrUnknownDigest
	}
	if len(c.IntegrityKey) != 0 && len(c.IntegrityKey) != c.Digest.KeySize() {
		return ErrDigestKey
	}
	if c.Snapshots > 256 {
		return ErrLinkRange
	}
	return nil
}

// Store is the secret store owned by one engine instance.
type Store struct {
	cipher   Cipher
	verifier *Verifier

	mu        sync.Mutex
	region    [IntegritySize]byte
	digest    [crypto.DigestSize]byte
	conf      confidentialRegion
	snapshots []Snapshot

	accesses atomic.Uint64
	log      logging.LeveledLogger
}

// New creates a zeroed store.
func New(cfg Config) (*Store, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := NewCipher(cfg.Cipher)
	if err != nil {
		return nil, err
	}

	key := cfg.IntegrityKey
	if len(key) == 0 && !cfg.DisableIntegrityCheck {
		key = make([]byte, cfg.Digest.KeySize())
		if _, err := io.ReadFull(cfg.Rand, key); err != nil {
			return nil, err
		}
		defer clear(key)
	}
	v, err := NewVerifier(cfg.Digest, key, !cfg.DisableIntegrityCheck)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cipher:    c,
		verifier:  v,
		snapshots: make([]Snapshot, cfg.Snapshots),
	}
	if cfg.LoggerFactory != nil {
		s.log = cfg.LoggerFactory.NewLogger("hdcp-store")
	}
	if err := s.verifier.CheckOrUpdate(s.region[:], &s.digest, true); err != nil {
		return nil, err
	}
	return s, nil
}

// CipherMode returns the configured confidential cipher.
func (s *Store) CipherMode() CipherMode { return s.cipher.Mode() }

// IntegrityEnabled reports whether the verifier is active.
func (s *Store) IntegrityEnabled() bool { return s.verifier.Enabled() }

// Accesses returns how many store operations have been performed.
func (s *Store) Accesses() uint64 { return s.accesses.Load() }

// checkLocked verifies the region digest, zeroing the store on mismatch.
func (s *Store) checkLocked() error {
	if err := s.verifier.CheckOrUpdate(s.region[:], &s.digest, false); err != nil {
		if s.log != nil {
			s.log.Errorf("integrity violation, zeroing secret store")
		}
		s.zeroLocked(true)
		return err
	}
	return nil
}

func (s *Store) readLocked() (SessionSecrets, error) {
	var ss SessionSecrets
	if err := s.checkLocked(); err != nil {
		return ss, err
	}
	if err := ss.UnmarshalBinary(s.region[:]); err != nil {
		s.zeroLocked(true)
		return SessionSecrets{}, err
	}
	return ss, nil
}

func (s *Store) writeLocked(ss *SessionSecrets) error {
	b, err := ss.MarshalBinary()
	if err != nil {
		return err
	}
	copy(s.region[:], b)
	clear(b)
	return s.verifier.CheckOrUpdate(s.region[:], &s.digest, true)
}

func (s *Store) zeroLocked(snapshots bool) {
	clear(s.region[:])
	s.conf.zero()
	if snapshots {
		for i := range s.snapshots {
			s.snapshots[i].zero()
		}
	}
	// A zeroed store is a valid store.
	_ = s.verifier.CheckOrUpdate(s.region[:], &s.digest, true)
}

// Session returns a verified copy of the session region.
func (s *Store) Session() (SessionSecrets, error) {
	s.accesses.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// Stage returns the last completed protocol stage.
func (s *Store) Stage() (Stage, error) {
	ss, err := s.Session()
	if err != nil {
		return StageIdle, err
	}
	return ss.PrevStage, nil
}

// Update verifies the session region, applies fn to a copy and writes the
// copy back with a fresh digest. If fn fails nothing is written.
func (s *Store) Update(fn func(*SessionSecrets) error) error {
	s.accesses.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	ss, err := s.readLocked()
	if err != nil {
		return err
	}
	if err := fn(&ss); err != nil {
		return err
	}
	return s.writeLocked(&ss)
}

// Begin verifies the store, zeroes the session and key regions and writes
// ss as the new session. Snapshots are kept.
func (s *Store) Begin(ss SessionSecrets) error {
	s.accesses.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(); err != nil {
		return err
	}
	s.zeroLocked(false)
	return s.writeLocked(&ss)
}

// Zero clears the session and key regions. Snapshots are kept.
func (s *Store) Zero() {
	s.accesses.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zeroLocked(false)
}

// Wipe clears everything including snapshots and the integrity key.
// The store is unusable afterwards.
func (s *Store) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zeroLocked(true)
	s.verifier.Zero()
}

// Region returns the raw integrity region memory. Writes through the slice
// bypass the verifier and are detected on the next access.
func (s *Store) Region() []byte {
	return s.region[:]
}

// field ciphers are keyed per key slot so that ciphertexts of equal-length
// keys differ.
func fieldRandom(cryptRandom []byte, label string) [crypto.SHA256Size]byte {
	return crypto.HMACSHA256(cryptRandom, []byte(label))
}

func (s *Store) decryptLocked(cryptRandom []byte, c *Confidential) error {
	for _, f := range []struct {
		label string
		dst   []byte
		src   []byte
	}{
		{"km", c.Km[:], s.conf.EncKm[:]},
		{"kd", c.Kd[:], s.conf.EncKd[:]},
		{"ks", c.Ks[:], s.conf.EncKs[:]},
	} {
		r := fieldRandom(cryptRandom, f.label)
		err := s.cipher.Decrypt(r[:], f.dst, f.src)
		clear(r[:])
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) encryptLocked(cryptRandom []byte, c *Confidential) error {
	var enc confidentialRegion
	for _, f := range []struct {
		label string
		dst   []byte
		src   []byte
	}{
		{"km", enc.EncKm[:], c.Km[:]},
		{"kd", enc.EncKd[:], c.Kd[:]},
		{"ks", enc.EncKs[:], c.Ks[:]},
	} {
		r := fieldRandom(cryptRandom, f.label)
		err := s.cipher.Encrypt(r[:], f.dst, f.src)
		clear(r[:])
		if err != nil {
			return err
		}
	}
	s.conf = enc
	return nil
}

// Open presents the plaintext key region to fn. The plaintext is zeroed
// when fn returns.
func (s *Store) Open(fn func(*Confidential) error) error {
	s.accesses.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	ss, err := s.readLocked()
	if err != nil {
		return err
	}
	if ss.CryptRandom == ([CryptRandomSize]byte{}) {
		return ErrNoSession
	}
	var c Confidential
	defer c.Zero()
	if err := s.decryptLocked(ss.CryptRandom[:], &c); err != nil {
		return err
	}
	return fn(&c)
}

// Seal presents the plaintext key region to fn and enciphers it back if fn
// succeeds. The plaintext is zeroed when Seal returns.
func (s *Store) Seal(fn func(*Confidential) error) error {
	s.accesses.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	ss, err := s.readLocked()
	if err != nil {
		return err
	}
	if ss.CryptRandom == ([CryptRandomSize]byte{}) {
		return ErrNoSession
	}
	var c Confidential
	defer c.Zero()
	if err := s.decryptLocked(ss.CryptRandom[:], &c); err != nil {
		return err
	}
	if err := fn(&c); err != nil {
		return err
	}
	return s.encryptLocked(ss.CryptRandom[:], &c)
}

func (s *Store) slot(link LinkID) (*Snapshot, error) {
	if int(link) >= len(s.snapshots) {
		return nil, ErrLinkRange
	}
	return &s.snapshots[link], nil
}

// Save copies the live session random and enciphered session key into the
// snapshot slot for link.
func (s *Store) Save(link LinkID) error {
	s.accesses.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.slot(link)
	if err != nil {
		return err
	}
	ss, err := s.readLocked()
	if err != nil {
		return err
	}
	snap.CryptRandom = ss.CryptRandom
	snap.EncKs = s.conf.EncKs
	snap.Valid = true
	return nil
}

// Restore copies the snapshot for link back into the live session. Only the
// session key is recoverable afterwards; km and kd of the live session were
// enciphered under the replaced random.
func (s *Store) Restore(link LinkID) error {
	s.accesses.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.slot(link)
	if err != nil {
		return err
	}
	if !snap.Valid {
		return ErrNoSnapshot
	}
	ss, err := s.readLocked()
	if err != nil {
		return err
	}
	ss.CryptRandom = snap.CryptRandom
	if err := s.writeLocked(&ss); err != nil {
		return err
	}
	s.conf.EncKs = snap.EncKs
	return nil
}

// ClearSnapshot zeroes the snapshot slot for link.
func (s *Store) ClearSnapshot(link LinkID) error {
	s.accesses.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.slot(link)
	if err != nil {
		return err
	}
	snap.zero()
	return nil
}

// Snapshot returns a copy of the snapshot slot for link.
func (s *Store) Snapshot(link LinkID) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.slot(link)
	if err != nil {
		return Snapshot{}, err
	}
	return *snap, nil
}

// EncryptedSessionKey returns the enciphered session key as stored.
func (s *Store) EncryptedSessionKey() [crypto.KsSize]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conf.EncKs
}

// EncryptWithSession runs the confidential cipher over src with the live
// session random, for the EncryptSecret primitive.
func (s *Store) EncryptWithSession(dst, src []byte) error {
	return s.withSessionRandom(func(r []byte) error { return s.cipher.Encrypt(r, dst, src) })
}

// DecryptWithSession is the inverse of EncryptWithSession.
func (s *Store) DecryptWithSession(dst, src []byte) error {
	return s.withSessionRandom(func(r []byte) error { return s.cipher.Decrypt(r, dst, src) })
}

func (s *Store) withSessionRandom(fn func(random []byte) error) error {
	s.accesses.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	ss, err := s.readLocked()
	if err != nil {
		return err
	}
	if ss.CryptRandom == ([CryptRandomSize]byte{}) {
		return ErrNoSession
	}
	r := fieldRandom(ss.CryptRandom[:], "secret")
	defer clear(r[:])
	return fn(r[:])
}
