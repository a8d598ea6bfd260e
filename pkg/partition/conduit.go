package partition

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/backkem/hdcp/pkg/status"
)

// Conduit carries boundary calls to a partition. Calls are synchronous.
type Conduit interface {
	// Call issues c and returns the result offset. A non-nil error means
	// the call itself failed; the entry's outcome is in the carveout.
	Call(ctx context.Context, c Call) (uint32, error)

	Close() error
}

// Direct calls the partition server in the caller's goroutine.
type Direct struct {
	server *Server
}

var _ Conduit = (*Direct)(nil)

// NewDirect returns a conduit that calls s directly.
func NewDirect(s *Server) *Direct {
	return &Direct{server: s}
}

// Call implements Conduit.
func (d *Direct) Call(ctx context.Context, c Call) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, status.Timeout
	}
	return d.server.Call(c)
}

// Close implements Conduit.
func (d *Direct) Close() error { return nil }

// PipeConduit sends call frames over a Pipe to a server goroutine.
type PipeConduit struct {
	pipe *Pipe

	mu  sync.Mutex
	seq uint32
	buf []byte

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

var _ Conduit = (*PipeConduit)(nil)

// NewPipeConduit starts serving s on a new pipe.
func NewPipeConduit(s *Server) *PipeConduit {
	return NewPipeConduitWithPipe(s, NewPipe())
}

// NewPipeConduitWithPipe starts serving s on the partition end of p. The
// conduit owns p.
func NewPipeConduitWithPipe(s *Server, p *Pipe) *PipeConduit {
	pc := &PipeConduit{
		pipe: p,
		buf:  make([]byte, replyFrameSize+1),
		done: make(chan struct{}),
	}
	go func() {
		defer close(pc.done)
		// Serve ends with a read error once the pipe is closed.
		_ = s.Serve(p.Partition())
	}()
	return pc
}

// Call implements Conduit. The context is only consulted before the call
// frame is sent; once the partition has the call, Call waits for its reply
// so the carveout is never released under a running entry.
func (pc *PipeConduit) Call(ctx context.Context, c Call) (uint32, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.closed.Load() {
		return 0, ErrConduitClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, status.Timeout
	}

	pc.seq++
	seq := pc.seq
	conn := pc.pipe.Supervisor()
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return 0, err
	}
	if _, err := conn.Write(c.appendFrame(nil, seq)); err != nil {
		return 0, ErrConduitClosed
	}
	for {
		n, err := conn.Read(pc.buf)
		if err != nil {
			return 0, ErrConduitClosed
		}
		r, err := parseReplyFrame(pc.buf[:n])
		if err != nil || r.seq != seq {
			continue
		}
		return r.offset, r.fault.Err()
	}
}

// Close stops the server goroutine and waits for it to exit. An entry that
// is running finishes first; a call waiting on it then fails with
// ErrConduitClosed.
func (pc *PipeConduit) Close() error {
	pc.closeOnce.Do(func() {
		pc.closed.Store(true)
		// The bridge only reports EOF after a delivery tick, so the server
		// read is released with a deadline instead.
		_ = pc.pipe.Partition().SetReadDeadline(time.Now())
		pc.closeErr = pc.pipe.Close()
		<-pc.done
		_ = pc.pipe.Supervisor().SetReadDeadline(time.Now())
	})
	return pc.closeErr
}
