package partition

import (
	"fmt"

	"github.com/backkem/hdcp/pkg/status"
)

// Partition errors.
var (
	// ErrCarveoutSize is returned for a carveout that cannot hold the
	// header or is not a multiple of the header alignment.
	ErrCarveoutSize = fmt.Errorf("partition: carveout size must be a non-zero multiple of 16: %w", status.InvalidArgument)

	// ErrUnknownPartition is raised when a call names another partition.
	ErrUnknownPartition = fmt.Errorf("partition: unknown partition id: %w", status.GenericIOFailure)

	// ErrUnknownEntry is raised when a call names an unregistered entry.
	ErrUnknownEntry = fmt.Errorf("partition: unknown entry offset: %w", status.GenericIOFailure)

	// ErrEntryExists is returned when registering an offset twice.
	ErrEntryExists = fmt.Errorf("partition: entry offset already registered: %w", status.InvalidArgument)

	// ErrEntryPanic is raised when an entry panics.
	ErrEntryPanic = fmt.Errorf("partition: entry panicked: %w", status.GenericIOFailure)

	// ErrHalted is returned by every call after a fault.
	ErrHalted = fmt.Errorf("partition: halted after fault: %w", status.GenericIOFailure)

	// ErrFrame is returned for a malformed frame on a pipe conduit.
	ErrFrame = fmt.Errorf("partition: malformed frame: %w", status.GenericIOFailure)

	// ErrConduitClosed is returned by calls on a closed conduit.
	ErrConduitClosed = fmt.Errorf("partition: conduit closed: %w", status.GenericIOFailure)
)
