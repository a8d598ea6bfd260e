package link

import (
	"fmt"
	"io"

	"github.com/backkem/hdcp/pkg/status"
	"github.com/pion/logging"
)

// RegisterIO is raw 32-bit register access, usually MMIO.
type RegisterIO interface {
	Read32(addr uint32) (uint32, error)
	Write32(addr, value uint32) error
}

// AuxRequest is a single DisplayPort AUX transaction.
type AuxRequest struct {
	Write bool
	Addr  uint32 // DPCD address
	Data  []byte // payload, or destination for reads
}

// I2CRequest is a single DDC/I2C transaction (HDMI).
type I2CRequest struct {
	Write  bool
	Addr   uint8 // 7-bit slave address
	Offset uint8
	Data   []byte
}

// AuxChannel performs AUX transactions.
type AuxChannel interface {
	AuxTransaction(req *AuxRequest) error
}

// I2CChannel performs I2C transactions.
type I2CChannel interface {
	I2CTransaction(req *I2CRequest) error
}

// Backend is the link transport the protocol engine calls through. Every
// call may fail; errors carry a status code from pkg/status.
type Backend interface {
	ReadLinkRegister(addr uint32) (uint32, error)
	WriteLinkRegister(addr, value uint32) error
	AuxTransaction(req *AuxRequest) error
	I2CTransaction(req *I2CRequest) error

	// RandomNumber fills buf with random words.
	RandomNumber(buf []uint32) error

	// TopologyLimits reports the controller and head counts of the display
	// engine.
	TopologyLimits() (Limits, error)

	// Address resolves a logical register. index selects the controller bank
	// for per-controller registers and is ignored otherwise.
	Address(reg Register, index uint8) (uint32, error)

	Generation() Generation
	Capabilities() Capabilities
}

// Config configures a Backend.
type Config struct {
	Generation Generation
	Registers  RegisterIO

	// Aux and I2C are optional; transactions fail with NotSupported when nil.
	Aux AuxChannel
	I2C I2CChannel

	// Entropy backs RandomNumber on generations without a hardware RNG.
	Entropy io.Reader

	// DisableTimingWorkaround clears CapTimingWorkaround on generations that
	// advertise it.
	DisableTimingWorkaround bool

	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Generation.IsValid() {
		return ErrUnknownGeneration
	}
	if c.Registers == nil {
		return ErrNoRegisterIO
	}
	return nil
}

// backend is the register-map driven Backend shared by all generations. The
// generation only selects the map and capability set.
type backend struct {
	gen     Generation
	regs    *regMap
	caps    Capabilities
	io      RegisterIO
	aux     AuxChannel
	i2c     I2CChannel
	entropy io.Reader
	log     logging.LeveledLogger
}

var _ Backend = (*backend)(nil)

// NewBackend returns the Backend variant for cfg.Generation.
func NewBackend(cfg Config) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m, err := mapFor(cfg.Generation)
	if err != nil {
		return nil, err
	}
	b := &backend{
		gen:     cfg.Generation,
		regs:    m,
		caps:    m.caps,
		io:      cfg.Registers,
		aux:     cfg.Aux,
		i2c:     cfg.I2C,
		entropy: cfg.Entropy,
	}
	if cfg.DisableTimingWorkaround {
		b.caps &^= CapTimingWorkaround
	}
	if cfg.LoggerFactory != nil {
		b.log = cfg.LoggerFactory.NewLogger("hdcp-link")
	}
	if b.log != nil {
		b.log.Debugf("link backend %s caps=%#x", b.gen, uint32(b.caps))
	}
	return b, nil
}

func (b *backend) Generation() Generation     { return b.gen }
func (b *backend) Capabilities() Capabilities { return b.caps }

func (b *backend) Address(reg Register, index uint8) (uint32, error) {
	return b.regs.address(reg, index)
}

func (b *backend) ReadLinkRegister(addr uint32) (uint32, error) {
	if addr&3 != 0 {
		return 0, ErrMisaligned
	}
	v, err := b.io.Read32(addr)
	if err != nil {
		if b.log != nil {
			b.log.Warnf("register read %#08x failed: %v", addr, err)
		}
		return 0, ioError("read", addr, err)
	}
	return v, nil
}

func (b *backend) WriteLinkRegister(addr, value uint32) error {
	if addr&3 != 0 {
		return ErrMisaligned
	}
	if err := b.io.Write32(addr, value); err != nil {
		if b.log != nil {
			b.log.Warnf("register write %#08x failed: %v", addr, err)
		}
		return ioError("write", addr, err)
	}
	return nil
}

func (b *backend) AuxTransaction(req *AuxRequest) error {
	if req == nil {
		return fmt.Errorf("link: nil AUX request: %w", status.InvalidArgument)
	}
	if b.aux == nil {
		return ErrNoAux
	}
	if err := b.aux.AuxTransaction(req); err != nil {
		return ioError("aux", req.Addr, err)
	}
	return nil
}

func (b *backend) I2CTransaction(req *I2CRequest) error {
	if req == nil {
		return fmt.Errorf("link: nil I2C request: %w", status.InvalidArgument)
	}
	if b.i2c == nil {
		return ErrNoI2C
	}
	if err := b.i2c.I2CTransaction(req); err != nil {
		return ioError("i2c", uint32(req.Addr), err)
	}
	return nil
}

func (b *backend) RandomNumber(buf []uint32) error {
	if b.caps.Has(CapHardwareRNG) {
		addr, err := b.regs.address(RegRandom, 0)
		if err != nil {
			return err
		}
		for i := range buf {
			v, err := b.ReadLinkRegister(addr)
			if err != nil {
				return err
			}
			buf[i] = v
		}
		return nil
	}
	if b.entropy == nil {
		return ErrNoEntropy
	}
	raw := make([]byte, 4*len(buf))
	defer clear(raw)
	if _, err := io.ReadFull(b.entropy, raw); err != nil {
		return fmt.Errorf("link: entropy: %w: %w", status.GenericIOFailure, err)
	}
	for i := range buf {
		buf[i] = uint32(raw[4*i])<<24 | uint32(raw[4*i+1])<<16 | uint32(raw[4*i+2])<<8 | uint32(raw[4*i+3])
	}
	return nil
}

func (b *backend) TopologyLimits() (Limits, error) {
	addr, err := b.regs.address(RegTopology, 0)
	if err != nil {
		return Limits{}, err
	}
	v, err := b.ReadLinkRegister(addr)
	if err != nil {
		return Limits{}, err
	}
	l := Limits{MaxControllers: uint8(v), MaxHeads: uint8(v >> 8)}
	if l.MaxControllers == 0 {
		return Limits{}, ErrTopology
	}
	return l, nil
}

// ReadRegister resolves reg and reads it.
func ReadRegister(b Backend, reg Register, index uint8) (uint32, error) {
	addr, err := b.Address(reg, index)
	if err != nil {
		return 0, err
	}
	return b.ReadLinkRegister(addr)
}

// WriteRegister resolves reg and writes it.
func WriteRegister(b Backend, reg Register, index uint8, value uint32) error {
	addr, err := b.Address(reg, index)
	if err != nil {
		return err
	}
	return b.WriteLinkRegister(addr, value)
}
