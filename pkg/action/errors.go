package action

import (
	"fmt"

	"github.com/backkem/hdcp/pkg/status"
)

// Request and buffer errors.
var (
	// ErrUnknownKind is returned for a tag outside the defined kinds.
	ErrUnknownKind = fmt.Errorf("action: unknown action kind: %w", status.InvalidArgument)

	// ErrNilPayload is returned when a request has no payload.
	ErrNilPayload = fmt.Errorf("action: nil payload: %w", status.InvalidArgument)

	// ErrPayloadMismatch is returned when the payload type does not belong
	// to the request kind.
	ErrPayloadMismatch = fmt.Errorf("action: payload does not match kind: %w", status.InvalidArgument)

	// ErrTooLarge is returned when an encoded request does not fit the
	// working buffer.
	ErrTooLarge = fmt.Errorf("action: request exceeds working buffer: %w", status.InvalidArgument)

	// ErrBufferTooSmall is returned by NewBuffer for regions shorter than
	// the header.
	ErrBufferTooSmall = fmt.Errorf("action: buffer smaller than header: %w", status.InvalidArgument)

	// ErrMalformed is returned when a buffer cannot be decoded.
	ErrMalformed = fmt.Errorf("action: malformed working buffer: %w", status.InvalidArgument)
)
