package partition

import (
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess delivers frames from a background goroutine.
	// Default: true
	AutoProcess bool

	// ProcessInterval is how often the background goroutine delivers.
	// Default: 100µs
	ProcessInterval time.Duration
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 100 * time.Microsecond,
	}
}

// Pipe is an in-memory packet link between the supervisor (endpoint 0) and
// a partition (endpoint 1). It wraps pion's test.Bridge; each Write is
// delivered as one frame.
type Pipe struct {
	bridge *test.Bridge

	mu          sync.Mutex
	closed      bool
	autoProcess bool
	interval    time.Duration
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewPipe creates a pipe with background delivery.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	p := &Pipe{
		bridge:      test.NewBridge(),
		autoProcess: config.AutoProcess,
		interval:    config.ProcessInterval,
		stopCh:      make(chan struct{}),
	}
	if p.interval <= 0 {
		p.interval = DefaultPipeConfig().ProcessInterval
	}
	if p.autoProcess {
		p.wg.Add(1)
		go p.deliver()
	}
	return p
}

func (p *Pipe) deliver() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.bridge.Tick()
		}
	}
}

// Supervisor returns the caller endpoint.
func (p *Pipe) Supervisor() net.Conn { return p.bridge.GetConn0() }

// Partition returns the partition endpoint.
func (p *Pipe) Partition() net.Conn { return p.bridge.GetConn1() }

// Tick delivers one queued frame in each direction.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers every queued frame and returns how many were delivered.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			return count
		}
		count += n
	}
}

// Close stops background delivery and closes both endpoints.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()
	if err0 != nil {
		return err0
	}
	return err1
}
