package link

import (
	"fmt"

	"github.com/backkem/hdcp/pkg/status"
)

// Link backend errors.
var (
	// ErrUnknownRegister is returned when a register is absent from the
	// generation's register map.
	ErrUnknownRegister = fmt.Errorf("link: register not present on this generation: %w", status.InvalidArgument)

	// ErrIndexRange is returned when a per-controller register index is out
	// of range for the register map.
	ErrIndexRange = fmt.Errorf("link: register index out of range: %w", status.InvalidArgument)

	// ErrUnknownGeneration is returned by NewBackend for an undefined generation.
	ErrUnknownGeneration = fmt.Errorf("link: unknown hardware generation: %w", status.NotSupported)

	// ErrNoRegisterIO is returned by NewBackend when no register accessor is configured.
	ErrNoRegisterIO = fmt.Errorf("link: no register accessor configured: %w", status.InvalidArgument)

	// ErrNoAux is returned when no AUX channel is attached.
	ErrNoAux = fmt.Errorf("link: no AUX channel: %w", status.NotSupported)

	// ErrNoI2C is returned when no I2C channel is attached.
	ErrNoI2C = fmt.Errorf("link: no I2C channel: %w", status.NotSupported)

	// ErrNoEntropy is returned when neither a hardware RNG nor an entropy
	// source is available.
	ErrNoEntropy = fmt.Errorf("link: no random number source: %w", status.NotSupported)

	// ErrTopology is returned when the topology register reports no controllers.
	ErrTopology = fmt.Errorf("link: topology register reports no controllers: %w", status.GenericIOFailure)

	// ErrMisaligned is returned for register addresses that are not 32-bit aligned.
	ErrMisaligned = fmt.Errorf("link: register address not 32-bit aligned: %w", status.InvalidArgument)
)

// ioError wraps a failure reported by the raw register accessor or a channel.
func ioError(op string, addr uint32, err error) error {
	return fmt.Errorf("link: %s %#08x: %w: %w", op, addr, status.GenericIOFailure, err)
}
