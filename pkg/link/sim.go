package link

import (
	"errors"
	"sync"
)

// ErrSimFault is the default error injected by SimRegisters.FailAt.
var ErrSimFault = errors.New("link: simulated bus fault")

// RegisterWrite records one write seen by SimRegisters.
type RegisterWrite struct {
	Addr  uint32
	Value uint32
}

// SimRegisters is an in-memory RegisterIO with fault injection and a write
// log. Unwritten registers read as zero.
type SimRegisters struct {
	mu     sync.Mutex
	mem    map[uint32]uint32
	faults map[uint32]error
	writes []RegisterWrite
	reads  map[uint32]int
}

var _ RegisterIO = (*SimRegisters)(nil)

// NewSimRegisters returns an empty register file.
func NewSimRegisters() *SimRegisters {
	return &SimRegisters{
		mem:    make(map[uint32]uint32),
		faults: make(map[uint32]error),
		reads:  make(map[uint32]int),
	}
}

// Read32 implements RegisterIO.
func (s *SimRegisters) Read32(addr uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faults[addr]; err != nil {
		return 0, err
	}
	s.reads[addr]++
	return s.mem[addr], nil
}

// Write32 implements RegisterIO.
func (s *SimRegisters) Write32(addr, value uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faults[addr]; err != nil {
		return err
	}
	s.mem[addr] = value
	s.writes = append(s.writes, RegisterWrite{Addr: addr, Value: value})
	return nil
}

// Poke sets a register without logging a write.
func (s *SimRegisters) Poke(addr, value uint32) {
	s.mu.Lock()
	s.mem[addr] = value
	s.mu.Unlock()
}

// Peek returns a register without counting a read.
func (s *SimRegisters) Peek(addr uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem[addr]
}

// FailAt makes every access to addr fail with err (ErrSimFault if nil).
func (s *SimRegisters) FailAt(addr uint32, err error) {
	if err == nil {
		err = ErrSimFault
	}
	s.mu.Lock()
	s.faults[addr] = err
	s.mu.Unlock()
}

// ClearFault removes an injected fault.
func (s *SimRegisters) ClearFault(addr uint32) {
	s.mu.Lock()
	delete(s.faults, addr)
	s.mu.Unlock()
}

// Writes returns a copy of the write log.
func (s *SimRegisters) Writes() []RegisterWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RegisterWrite(nil), s.writes...)
}

// WritesTo returns the values written to addr in order.
func (s *SimRegisters) WritesTo(addr uint32) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint32
	for _, w := range s.writes {
		if w.Addr == addr {
			out = append(out, w.Value)
		}
	}
	return out
}

// Reads returns how many successful reads addr has seen.
func (s *SimRegisters) Reads(addr uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[addr]
}

// SimConfig configures simulated display hardware.
type SimConfig struct {
	Generation     Generation
	MaxControllers uint8
	MaxHeads       uint8

	// ActivateAfter is the number of status reads after an enable+init
	// write before the cipher reports active. Negative means never.
	ActivateAfter int

	// EdgeAfter is the number of link timing reads before an edge is seen.
	EdgeAfter int

	// Seed seeds the hardware RNG of generations that have one.
	Seed uint64
}

// Sim is simulated display hardware: a register file with cipher status,
// link timing and RNG behaviour, plus recording AUX and I2C channels.
type Sim struct {
	*SimRegisters

	sc SimConfig

	mu       sync.Mutex
	pending  map[uint32]int // status addr -> reads until active
	edges    map[uint32]int // timing addr -> reads until edge
	rng      uint64
	auxLog   []AuxRequest
	i2cLog   []I2CRequest
	dpcd     map[uint32]byte
	i2cSpace map[uint8][256]byte
}

var (
	_ RegisterIO = (*Sim)(nil)
	_ AuxChannel = (*Sim)(nil)
	_ I2CChannel = (*Sim)(nil)
)

// NewSim returns simulated hardware for sc.
func NewSim(sc SimConfig) *Sim {
	if !sc.Generation.IsValid() {
		sc.Generation = GenerationV2
	}
	s := &Sim{
		SimRegisters: NewSimRegisters(),
		sc:           sc,
		pending:      make(map[uint32]int),
		edges:        make(map[uint32]int),
		rng:          sc.Seed | 1,
		dpcd:         make(map[uint32]byte),
		i2cSpace:     make(map[uint8][256]byte),
	}
	if addr, err := AddressOf(sc.Generation, RegTopology, 0); err == nil {
		s.Poke(addr, uint32(sc.MaxControllers)|uint32(sc.MaxHeads)<<8)
	}
	for i := uint8(0); i < maxIndexed; i++ {
		if tm, err := AddressOf(sc.Generation, RegLinkTiming, i); err == nil {
			s.edges[tm] = sc.EdgeAfter
		}
	}
	return s
}

// Backend returns a Backend driving this simulation. Entropy, logging and
// workaround settings are taken from cfg; the register, AUX and I2C
// accessors are the simulation.
func (s *Sim) Backend(cfg Config) (Backend, error) {
	cfg.Generation = s.sc.Generation
	cfg.Registers = s
	cfg.Aux = s
	cfg.I2C = s
	return NewBackend(cfg)
}

// Address resolves a register in the simulated generation. It panics on an
// unknown register; tests use it with constant arguments.
func (s *Sim) Address(reg Register, index uint8) uint32 {
	addr, err := AddressOf(s.sc.Generation, reg, index)
	if err != nil {
		panic(err)
	}
	return addr
}

// Read32 implements RegisterIO with cipher status, timing and RNG behaviour.
func (s *Sim) Read32(addr uint32) (uint32, error) {
	v, err := s.SimRegisters.Read32(addr)
	if err != nil {
		return 0, err
	}
	if rng, err := AddressOf(s.sc.Generation, RegRandom, 0); err == nil && addr == rng {
		return s.nextRandom(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.pending[addr]; ok {
		if n > 0 {
			s.pending[addr] = n - 1
			return v, nil
		}
		delete(s.pending, addr)
		v |= StatusActive
		s.SimRegisters.Poke(addr, v)
		return v, nil
	}
	if n, ok := s.edges[addr]; ok {
		if n > 0 {
			s.edges[addr] = n - 1
			return v &^ TimingEdge, nil
		}
		return v | TimingEdge, nil
	}
	return v, nil
}

// Write32 implements RegisterIO. Writing Enable|Init to a control register
// arms the matching status register; clearing Enable deactivates it.
func (s *Sim) Write32(addr, value uint32) error {
	if err := s.SimRegisters.Write32(addr, value); err != nil {
		return err
	}
	for i := uint8(0); i < maxIndexed; i++ {
		ctrl, err := AddressOf(s.sc.Generation, RegHDCPControl, i)
		if err != nil || ctrl != addr {
			continue
		}
		st, _ := AddressOf(s.sc.Generation, RegHDCPStatus, i)
		tm, _ := AddressOf(s.sc.Generation, RegLinkTiming, i)
		s.mu.Lock()
		switch {
		case value&(ControlEnable|ControlInit) == ControlEnable|ControlInit:
			if s.sc.ActivateAfter >= 0 {
				s.pending[st] = s.sc.ActivateAfter
			}
		case value&ControlEnable == 0:
			delete(s.pending, st)
			s.SimRegisters.Poke(st, s.SimRegisters.Peek(st)&^StatusActive)
		}
		s.edges[tm] = s.sc.EdgeAfter
		s.mu.Unlock()
		break
	}
	return nil
}

// ArmTiming resets the link timing edge countdown for a controller.
func (s *Sim) ArmTiming(index uint8) {
	addr := s.Address(RegLinkTiming, index)
	s.mu.Lock()
	s.edges[addr] = s.sc.EdgeAfter
	s.mu.Unlock()
}

func (s *Sim) nextRandom() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	// xorshift64*
	s.rng ^= s.rng >> 12
	s.rng ^= s.rng << 25
	s.rng ^= s.rng >> 27
	return uint32((s.rng * 2685821657736338717) >> 32)
}

// AuxTransaction implements AuxChannel against a DPCD byte space.
func (s *Sim) AuxTransaction(req *AuxRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range req.Data {
		a := req.Addr + uint32(i)
		if req.Write {
			s.dpcd[a] = req.Data[i]
		} else {
			req.Data[i] = s.dpcd[a]
		}
	}
	s.auxLog = append(s.auxLog, AuxRequest{Write: req.Write, Addr: req.Addr, Data: append([]byte(nil), req.Data...)})
	return nil
}

// I2CTransaction implements I2CChannel against per-address 256-byte spaces.
func (s *Sim) I2CTransaction(req *I2CRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	space := s.i2cSpace[req.Addr]
	for i := range req.Data {
		off := req.Offset + uint8(i)
		if req.Write {
			space[off] = req.Data[i]
		} else {
			req.Data[i] = space[off]
		}
	}
	s.i2cSpace[req.Addr] = space
	s.i2cLog = append(s.i2cLog, I2CRequest{Write: req.Write, Addr: req.Addr, Offset: req.Offset, Data: append([]byte(nil), req.Data...)})
	return nil
}

// AuxLog returns recorded AUX transactions.
func (s *Sim) AuxLog() []AuxRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuxRequest(nil), s.auxLog...)
}

// I2CLog returns recorded I2C transactions.
func (s *Sim) I2CLog() []I2CRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]I2CRequest(nil), s.i2cLog...)
}
