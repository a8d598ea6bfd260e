// Package link implements the transport/register backend the HDCP engine
// talks to.
//
// The engine depends only on the Backend interface. Each display hardware
// generation has its own register map; NewBackend selects the variant at
// construction time, so protocol handlers never branch on the generation.
package link

// Generation identifies a display hardware generation.
type Generation int

const (
	// GenerationUnknown is the zero value and is rejected by NewBackend.
	GenerationUnknown Generation = iota

	// GenerationV1 is the first HDCP 2.2 capable register layout. It has no
	// hardware RNG and needs the link-timing workaround before encryption
	// initialization.
	GenerationV1

	// GenerationV2 moves the HDCP block and adds a hardware RNG.
	GenerationV2
)

// String returns the generation name.
func (g Generation) String() string {
	switch g {
	case GenerationV1:
		return "v1"
	case GenerationV2:
		return "v2"
	default:
		return "unknown"
	}
}

// IsValid returns true for defined generations.
func (g Generation) IsValid() bool {
	return g == GenerationV1 || g == GenerationV2
}

// ParseGeneration parses the String form of a generation.
func ParseGeneration(s string) (Generation, error) {
	switch s {
	case "v1":
		return GenerationV1, nil
	case "v2":
		return GenerationV2, nil
	default:
		return GenerationUnknown, ErrUnknownGeneration
	}
}

// Register is a logical register id resolved to an address by the
// generation's register map.
type Register int

const (
	RegTopology     Register = iota // max controllers [7:0], max heads [15:8]
	RegHDCPControl                  // per controller
	RegHDCPStatus                   // per controller
	RegLinkTiming                   // per controller
	RegSessionKey0                  // per controller, ks bits 127:96
	RegSessionKey1                  // ks bits 95:64
	RegSessionKey2                  // ks bits 63:32
	RegSessionKey3                  // ks bits 31:0
	RegRivHi                        // per controller
	RegRivLo                        // per controller
	RegStreamType                   // per controller
	RegEcfLock                      // global
	RegEcfHi                        // per controller, timeslots 63:32
	RegEcfLo                        // per controller, timeslots 31:0
	RegPrivLevel                    // global, privilege level of the HDCP block
	RegRandom                       // global, hardware RNG (V2 only)

	numRegisters
)

// String returns the register name.
func (r Register) String() string {
	names := [...]string{
		"Topology", "HDCPControl", "HDCPStatus", "LinkTiming",
		"SessionKey0", "SessionKey1", "SessionKey2", "SessionKey3",
		"RivHi", "RivLo", "StreamType", "EcfLock", "EcfHi", "EcfLo",
		"PrivLevel", "Random",
	}
	if r < 0 || r >= numRegisters {
		return "Unknown"
	}
	return names[r]
}

// Register bit definitions shared by all generations.
const (
	ControlEnable uint32 = 1 << 0 // encryption enable
	ControlInit   uint32 = 1 << 1 // latch ks/riv and start the cipher
	ControlRepeat uint32 = 1 << 2 // downstream is a repeater

	StatusActive uint32 = 1 << 0 // cipher running
	StatusError  uint32 = 1 << 1 // cipher fault

	TimingEdge uint32 = 1 << 0 // link timing (vertical blank) edge seen

	EcfLockProtect  uint32 = 1 << 0 // ECF registers write protected
	EcfLockExternal uint32 = 1 << 1 // lock held by a non-secure agent

	PrivSupervisor uint32 = 0 // HDCP block owned by the supervisor
	PrivSecure     uint32 = 2 // HDCP block owned by the secure partition
)

// Capabilities describe optional behaviour of a backend.
type Capabilities uint32

const (
	// CapHardwareRNG means RandomNumber reads the RNG register.
	CapHardwareRNG Capabilities = 1 << iota

	// CapTimingWorkaround means encryption init must wait for a link
	// timing edge.
	CapTimingWorkaround

	// CapDPMultiStream means the link supports DP MST and ECF writes.
	CapDPMultiStream
)

// Has returns true if all bits in c2 are set.
func (c Capabilities) Has(c2 Capabilities) bool {
	return c&c2 == c2
}

// Limits are the topology limits discovered from hardware.
type Limits struct {
	MaxControllers uint8
	MaxHeads       uint8
}
