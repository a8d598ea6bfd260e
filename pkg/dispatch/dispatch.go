// Package dispatch is the single entry point for secure actions. A
// Dispatcher elevates, runs the matching handler and de-elevates, always
// leaving its working buffer zeroed.
//
// Two dispatchers share one status taxonomy. Overlay attaches the protected
// regions an action needs in place and runs the handler in the caller's
// context. Isolated raises the HDCP block to the secure privilege level and
// crosses into a partition through a carveout.
package dispatch

import (
	"context"
	"fmt"

	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/status"
)

// Dispatcher runs secure actions.
type Dispatcher interface {
	// Dispatch runs req. On success the payload output fields are filled
	// in. req.Completion and req.Result are set whenever a handler ran.
	Dispatch(ctx context.Context, req *action.Request) error

	// Close releases the dispatcher and zeroes its working memory.
	Close() error
}

// Mode selects a dispatcher.
type Mode uint8

const (
	// ModeOverlay runs handlers in place behind capability overlays.
	ModeOverlay Mode = iota

	// ModeIsolated runs handlers in a partition behind a boundary call.
	ModeIsolated
)

// String returns the mode name as used in settings files.
func (m Mode) String() string {
	switch m {
	case ModeOverlay:
		return "overlay"
	case ModeIsolated:
		return "isolated"
	default:
		return "unknown"
	}
}

// IsValid returns true for defined modes.
func (m Mode) IsValid() bool {
	return m <= ModeIsolated
}

// ParseMode parses the String form of a mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "overlay":
		return ModeOverlay, nil
	case "isolated":
		return ModeIsolated, nil
	default:
		return 0, fmt.Errorf("dispatch: unknown mode %q: %w", s, status.InvalidArgument)
	}
}

// precheck rejects requests that must never reach a handler or an
// elevation step.
func precheck(req *action.Request) error {
	if req == nil {
		return ErrNilRequest
	}
	if !req.Kind.IsValid() {
		return action.ErrUnknownKind
	}
	return req.Validate()
}
