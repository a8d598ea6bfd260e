package store

import (
	"fmt"

	"github.com/backkem/hdcp/pkg/status"
)

// Secret store errors.
var (
	// ErrIntegrity is returned when the integrity region no longer matches
	// its recorded digest. The store is zeroed before it is returned.
	ErrIntegrity = fmt.Errorf("store: integrity region digest mismatch: %w", status.IntegrityViolation)

	// ErrCipherLength is returned for cipher buffers that are not a whole
	// number of 32-bit words and cipher blocks.
	ErrCipherLength = fmt.Errorf("store: cipher buffer length not word/block aligned: %w", status.IllegalOperation)

	// ErrBufferSize is returned when a destination buffer is too small.
	ErrBufferSize = fmt.Errorf("store: destination buffer too small: %w", status.InvalidArgument)

	// ErrRandomSize is returned when the cipher random is shorter than 16 bytes.
	ErrRandomSize = fmt.Errorf("store: cipher random too short: %w", status.InvalidArgument)

	// ErrUnknownCipher is returned for an undefined cipher mode.
	ErrUnknownCipher = fmt.Errorf("store: unknown cipher mode: %w", status.NotSupported)

	// ErrDigestKey is returned when the integrity key does not fit the digest.
	ErrDigestKey = fmt.Errorf("store: integrity key size does not match digest: %w", status.InvalidArgument)

	// ErrLinkRange is returned for a snapshot slot beyond the configured count.
	ErrLinkRange = fmt.Errorf("store: link id out of range: %w", status.InvalidArgument)

	// ErrNoSnapshot is returned when restoring an empty snapshot slot.
	ErrNoSnapshot = fmt.Errorf("store: no snapshot saved for link: %w", status.IllegalOperation)

	// ErrNoSession is returned by confidential access before a session
	// random has been set.
	ErrNoSession = fmt.Errorf("store: no session crypt random: %w", status.IllegalOperation)

	// ErrCorruptRegion is returned when the integrity region cannot be decoded.
	ErrCorruptRegion = fmt.Errorf("store: integrity region decode failed: %w", status.IntegrityViolation)
)
