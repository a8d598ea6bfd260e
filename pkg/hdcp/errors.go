package hdcp

import (
	"errors"
	"fmt"

	"github.com/backkem/hdcp/pkg/status"
)

var (
	// ErrLinkRequired is returned when Config.Link is nil.
	ErrLinkRequired = errors.New("hdcp: link backend is required")

	// ErrUnknownMode is returned for an undefined dispatcher mode.
	ErrUnknownMode = fmt.Errorf("hdcp: unknown dispatcher mode: %w", status.InvalidArgument)

	// ErrUnknownConduit is returned for an undefined conduit kind.
	ErrUnknownConduit = fmt.Errorf("hdcp: unknown conduit: %w", status.InvalidArgument)

	// ErrClosed is returned by SecureAction after Close.
	ErrClosed = fmt.Errorf("hdcp: engine closed: %w", status.IllegalOperation)
)
