package partition

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/status"
	"github.com/pion/logging"
)

// Entry is a partition entry function. It reads its request from the
// carveout and returns the offset of its result within it. An entry that
// returns an error without completing the carveout has the error's status
// written for it.
type Entry func(c *Carveout, args Args) (uint32, error)

// Fault describes a boundary call the partition could not service.
type Fault struct {
	Call  Call
	Err   error
	Panic any
}

func (f *Fault) Error() string {
	if f.Panic != nil {
		return fmt.Sprintf("%v (%s): %v", f.Err, f.Call, f.Panic)
	}
	return fmt.Sprintf("%v (%s)", f.Err, f.Call)
}

func (f *Fault) Unwrap() error { return f.Err }

// Config configures a Server.
type Config struct {
	// ID is the partition id calls must name.
	ID uint32

	// Carveout is the region shared with the supervisor.
	Carveout *Carveout

	// Halt stops the partition after a fault has been reported. The
	// default panics with the *Fault.
	Halt func(f *Fault)

	LoggerFactory logging.LoggerFactory
}

func (c *Config) applyDefaults() {
	if c.Halt == nil {
		c.Halt = func(f *Fault) { panic(f) }
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Carveout == nil {
		return errors.New("partition: carveout is required")
	}
	return nil
}

// Server is the partition side of the boundary.
type Server struct {
	id       uint32
	carveout *Carveout
	halt     func(f *Fault)

	mu      sync.Mutex
	entries map[uint32]Entry
	halted  bool
	calls   uint64

	log logging.LeveledLogger
}

// NewServer creates a partition server with an empty entry table.
func NewServer(cfg Config) (*Server, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		id:       cfg.ID,
		carveout: cfg.Carveout,
		halt:     cfg.Halt,
		entries:  make(map[uint32]Entry),
	}
	if cfg.LoggerFactory != nil {
		s.log = cfg.LoggerFactory.NewLogger("hdcp-partition")
	}
	return s, nil
}

// ID returns the partition id.
func (s *Server) ID() uint32 { return s.id }

// Carveout returns the shared region.
func (s *Server) Carveout() *Carveout { return s.carveout }

// Register installs fn at an entry offset.
func (s *Server) Register(offset uint32, fn Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[offset]; ok {
		return ErrEntryExists
	}
	s.entries[offset] = fn
	return nil
}

// Halted reports whether a fault has stopped the partition.
func (s *Server) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// Calls returns the number of calls serviced.
func (s *Server) Calls() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Call services one boundary call. Faults are reported to the fault handler
// and leave the partition halted.
func (s *Server) Call(c Call) (uint32, error) {
	s.mu.Lock()
	if s.halted {
		s.mu.Unlock()
		return 0, ErrHalted
	}
	s.calls++
	fn, ok := s.entries[c.Entry]
	s.mu.Unlock()

	switch {
	case c.Partition != s.id:
		return 0, s.fault(&Fault{Call: c, Err: ErrUnknownPartition})
	case !ok:
		return 0, s.fault(&Fault{Call: c, Err: ErrUnknownEntry})
	}
	return s.run(c, fn)
}

func (s *Server) run(c Call, fn Entry) (off uint32, err error) {
	buf := s.carveout.Buffer()
	defer func() {
		if r := recover(); r != nil {
			buf.SetCompletion(action.StateCompleted, status.GenericIOFailure)
			off, err = 0, s.fault(&Fault{Call: c, Err: ErrEntryPanic, Panic: r})
		}
	}()

	off, err = fn(s.carveout, c.Args)
	if state, _ := buf.Completion(); state != action.StateCompleted {
		buf.SetCompletion(action.StateCompleted, status.Of(err))
	}
	if err != nil && s.log != nil {
		s.log.Debugf("entry %#x returned %v", c.Entry, err)
	}
	// Entry errors are reported through the carveout, not as faults.
	return off, nil
}

// fault reports f and halts the partition.
func (s *Server) fault(f *Fault) error {
	s.mu.Lock()
	s.halted = true
	s.mu.Unlock()
	if s.log != nil {
		s.log.Errorf("partition fault: %v", f)
	}
	s.halt(f)
	return f
}

// Serve services call frames read from conn until it is closed. Each frame
// is answered with a reply frame carrying the result offset and a fault
// status.
func (s *Server) Serve(conn net.Conn) error {
	b := make([]byte, callFrameSize+1)
	for {
		n, err := conn.Read(b)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		c, seq, err := parseCallFrame(b[:n])
		if err != nil {
			if s.log != nil {
				s.log.Warnf("dropping %d-byte frame: %v", n, err)
			}
			continue
		}
		off, cerr := s.Call(c)
		r := reply{seq: seq, offset: off, fault: status.Of(cerr)}
		if _, err := conn.Write(r.appendFrame(nil)); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
	}
}
