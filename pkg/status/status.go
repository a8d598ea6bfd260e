// Package status defines the result taxonomy shared by every layer of the
// HDCP secure action engine.
//
// A Status is a small integer so that it can be written into the shared
// carveout by the isolated partition and read back unchanged by the caller.
// It also implements error, so handlers can wrap it with context using %w
// and callers can recover the code with Of.
package status

import (
	"errors"
	"fmt"
)

// Status is a secure action result code.
type Status uint32

const (
	// OK indicates success. It is never returned as an error value.
	OK Status = iota

	// InvalidArgument indicates a malformed request: unknown action tag,
	// out-of-range index, missing buffer, or an action issued out of
	// protocol stage order.
	InvalidArgument

	// IllegalOperation indicates a precondition the caller could have
	// avoided, such as a misaligned cipher buffer or a locked ECF register.
	IllegalOperation

	// IntegrityViolation indicates that a recomputed digest of the
	// integrity region did not match the stored digest.
	IntegrityViolation

	// ValidationFailure indicates a cryptographic comparison did not hold.
	ValidationFailure

	// Timeout indicates a bounded hardware poll exceeded its retry ceiling.
	Timeout

	// NotSupported indicates a capability absent on this build or hardware.
	NotSupported

	// GenericIOFailure indicates the transport backend reported a failure.
	GenericIOFailure
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case InvalidArgument:
		return "InvalidArgument"
	case IllegalOperation:
		return "IllegalOperation"
	case IntegrityViolation:
		return "IntegrityViolation"
	case ValidationFailure:
		return "ValidationFailure"
	case Timeout:
		return "Timeout"
	case NotSupported:
		return "NotSupported"
	case GenericIOFailure:
		return "GenericIOFailure"
	default:
		return fmt.Sprintf("Status(%d)", uint32(s))
	}
}

// Error implements error.
func (s Status) Error() string {
	return "hdcp: " + s.String()
}

// IsValid returns true if s is a defined status code.
func (s Status) IsValid() bool {
	return s <= GenericIOFailure
}

// Err converts a status read back from a carveout into an error.
// OK maps to nil, undefined codes map to GenericIOFailure.
func (s Status) Err() error {
	switch {
	case s == OK:
		return nil
	case !s.IsValid():
		return GenericIOFailure
	default:
		return s
	}
}

// Of returns the status code carried by err.
// nil maps to OK; errors that carry no Status map to GenericIOFailure.
func Of(err error) Status {
	if err == nil {
		return OK
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return GenericIOFailure
}

// Fatal reports whether err must tear down the current session.
// Integrity violations and timeouts are fatal; validation failures are not.
func Fatal(err error) bool {
	switch Of(err) {
	case IntegrityViolation, Timeout:
		return true
	default:
		return false
	}
}
