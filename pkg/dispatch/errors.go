package dispatch

import (
	"fmt"

	"github.com/backkem/hdcp/pkg/status"
)

// Dispatch errors.
var (
	// ErrNilRequest is returned for a nil request.
	ErrNilRequest = fmt.Errorf("dispatch: nil request: %w", status.InvalidArgument)

	// ErrElevation is returned when privilege could not be raised or an
	// overlay could not be attached.
	ErrElevation = fmt.Errorf("dispatch: elevation failed: %w", status.GenericIOFailure)

	// ErrAttached is returned when attaching an overlay that is already
	// attached.
	ErrAttached = fmt.Errorf("dispatch: overlay already attached: %w", status.IllegalOperation)

	// ErrIncomplete is returned when the partition did not mark the
	// carveout completed.
	ErrIncomplete = fmt.Errorf("dispatch: partition did not complete the request: %w", status.GenericIOFailure)

	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = fmt.Errorf("dispatch: dispatcher closed: %w", status.IllegalOperation)
)
