package handler

import (
	"fmt"

	"github.com/backkem/hdcp/pkg/status"
)

// Handler errors. Each wraps the status code the dispatcher reports.
var (
	// ErrStageOrder is returned when an action is issued before its
	// predecessor stage completed.
	ErrStageOrder = fmt.Errorf("handler: action out of protocol stage order: %w", status.InvalidArgument)

	ErrPayload         = fmt.Errorf("handler: payload does not match action: %w", status.InvalidArgument)
	ErrControllerRange = fmt.Errorf("handler: controller index out of range: %w", status.InvalidArgument)
	ErrSublinkRange    = fmt.Errorf("handler: sublink index out of range: %w", status.InvalidArgument)
	ErrStreamCount     = fmt.Errorf("handler: stream count out of range: %w", status.InvalidArgument)
	ErrStreamType      = fmt.Errorf("handler: unknown content stream type: %w", status.InvalidArgument)
	ErrCertSize        = fmt.Errorf("handler: receiver certificate has wrong size: %w", status.InvalidArgument)
	ErrReceiverChanged = fmt.Errorf("handler: certificate receiver id differs from session: %w", status.InvalidArgument)
	ErrWrappedKmSize   = fmt.Errorf("handler: wrapped km has wrong size: %w", status.InvalidArgument)
	ErrIDList          = fmt.Errorf("handler: receiver id list does not match device count: %w", status.InvalidArgument)

	ErrReceiverID    = fmt.Errorf("handler: malformed receiver id: %w", status.ValidationFailure)
	ErrCertSignature = fmt.Errorf("handler: receiver certificate signature invalid: %w", status.ValidationFailure)
	ErrReceiverKey   = fmt.Errorf("handler: receiver public key invalid: %w", status.ValidationFailure)

	// ErrReceiverKeyChanged is returned by KmKdGen when the certificate
	// carries a public key other than the one verified for the session.
	ErrReceiverKeyChanged = fmt.Errorf("handler: certificate public key differs from verified key: %w", status.ValidationFailure)

	ErrPairing  = fmt.Errorf("handler: stored km does not belong to receiver: %w", status.ValidationFailure)
	ErrHprime   = fmt.Errorf("handler: H' mismatch: %w", status.ValidationFailure)
	ErrLprime   = fmt.Errorf("handler: L' mismatch: %w", status.ValidationFailure)
	ErrVprime   = fmt.Errorf("handler: V' mismatch: %w", status.ValidationFailure)
	ErrMprime   = fmt.Errorf("handler: M' mismatch: %w", status.ValidationFailure)
	ErrTopology = fmt.Errorf("handler: repeater topology limits exceeded: %w", status.ValidationFailure)
	ErrSeqNumV  = fmt.Errorf("handler: seq_num_V rollover or replay: %w", status.ValidationFailure)
	ErrSeqNumM  = fmt.Errorf("handler: seq_num_M exhausted: %w", status.ValidationFailure)

	ErrNotRepeater       = fmt.Errorf("handler: downstream device is not a repeater: %w", status.IllegalOperation)
	ErrEcfLocked         = fmt.Errorf("handler: ECF registers locked by another agent: %w", status.IllegalOperation)
	ErrKeyRegister       = fmt.Errorf("handler: key registers are write only: %w", status.IllegalOperation)
	ErrMprimeNotPrepared = fmt.Errorf("handler: no stream manage message prepared: %w", status.IllegalOperation)
	ErrNoTrust           = fmt.Errorf("handler: no DCP trust anchor configured: %w", status.NotSupported)
	ErrNoPairing         = fmt.Errorf("handler: no pairing key configured: %w", status.NotSupported)
	ErrNoMST             = fmt.Errorf("handler: link has no DP multi-stream support: %w", status.NotSupported)
	ErrEncTimeout        = fmt.Errorf("handler: cipher status poll exceeded retry ceiling: %w", status.Timeout)
	ErrEdgeTimeout       = fmt.Errorf("handler: link timing edge not seen within retry ceiling: %w", status.Timeout)
	ErrCipherFault       = fmt.Errorf("handler: cipher reported a fault: %w", status.GenericIOFailure)
)
