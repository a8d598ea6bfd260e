package link

// maxIndexed is the number of per-controller register banks a map decodes.
const maxIndexed = 8

type regDesc struct {
	offset        uint32
	perController bool
	present       bool
}

// regMap resolves logical registers to addresses for one generation.
type regMap struct {
	base   uint32
	stride uint32
	global uint32
	regs   [numRegisters]regDesc
	caps   Capabilities
}

func ctl(off uint32) regDesc  { return regDesc{offset: off, perController: true, present: true} }
func glob(off uint32) regDesc { return regDesc{offset: off, present: true} }

// GenerationV1 banks are 0x100 apart; globals sit after the eighth bank.
var mapV1 = regMap{
	base:   0x00610000,
	stride: 0x100,
	global: 0x800,
	regs: [numRegisters]regDesc{
		RegTopology:    glob(0x00),
		RegHDCPControl: ctl(0x00),
		RegHDCPStatus:  ctl(0x04),
		RegLinkTiming:  ctl(0x08),
		RegSessionKey0: ctl(0x10),
		RegSessionKey1: ctl(0x14),
		RegSessionKey2: ctl(0x18),
		RegSessionKey3: ctl(0x1c),
		RegRivHi:       ctl(0x20),
		RegRivLo:       ctl(0x24),
		RegStreamType:  ctl(0x28),
		RegEcfLock:     glob(0x10),
		RegEcfHi:       ctl(0x40),
		RegEcfLo:       ctl(0x44),
		RegPrivLevel:   glob(0x20),
	},
	caps: CapTimingWorkaround | CapDPMultiStream,
}

// GenerationV2 packs banks at 0x40 and adds the RNG.
var mapV2 = regMap{
	base:   0x00840000,
	stride: 0x40,
	global: 0x400,
	regs: [numRegisters]regDesc{
		RegTopology:    glob(0x04),
		RegHDCPControl: ctl(0x00),
		RegHDCPStatus:  ctl(0x08),
		RegLinkTiming:  ctl(0x0c),
		RegSessionKey0: ctl(0x20),
		RegSessionKey1: ctl(0x24),
		RegSessionKey2: ctl(0x28),
		RegSessionKey3: ctl(0x2c),
		RegRivHi:       ctl(0x30),
		RegRivLo:       ctl(0x34),
		RegStreamType:  ctl(0x04),
		RegEcfLock:     glob(0x08),
		RegEcfHi:       ctl(0x38),
		RegEcfLo:       ctl(0x3c),
		RegPrivLevel:   glob(0x0c),
		RegRandom:      glob(0x10),
	},
	caps: CapHardwareRNG | CapDPMultiStream,
}

func mapFor(gen Generation) (*regMap, error) {
	switch gen {
	case GenerationV1:
		return &mapV1, nil
	case GenerationV2:
		return &mapV2, nil
	default:
		return nil, ErrUnknownGeneration
	}
}

func (m *regMap) address(reg Register, index uint8) (uint32, error) {
	if reg < 0 || reg >= numRegisters || !m.regs[reg].present {
		return 0, ErrUnknownRegister
	}
	d := m.regs[reg]
	if !d.perController {
		return m.base + m.global + d.offset, nil
	}
	if index >= maxIndexed {
		return 0, ErrIndexRange
	}
	return m.base + uint32(index)*m.stride + d.offset, nil
}

// AddressOf resolves a logical register for a generation without a backend.
// Simulated hardware uses it to place its behaviour.
func AddressOf(gen Generation, reg Register, index uint8) (uint32, error) {
	m, err := mapFor(gen)
	if err != nil {
		return 0, err
	}
	return m.address(reg, index)
}
