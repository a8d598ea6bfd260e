package partition

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/status"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	testPartition = 0x4844
	entryEcho     = 0x100
	entryFail     = 0x200
	entryPanic    = 0x300
	entryBlock    = 0x400
)

var errEntry = errors.New("entry failed")

type faultLog struct {
	mu     sync.Mutex
	faults []*Fault
}

func (l *faultLog) halt(f *Fault) {
	l.mu.Lock()
	l.faults = append(l.faults, f)
	l.mu.Unlock()
}

func (l *faultLog) list() []*Fault {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Fault(nil), l.faults...)
}

func newTestServer(t *testing.T, block <-chan struct{}) (*Server, *faultLog) {
	t.Helper()
	co, err := NewCarveout(action.BufferSize)
	if err != nil {
		t.Fatal(err)
	}
	log := &faultLog{}
	s, err := NewServer(Config{ID: testPartition, Carveout: co, Halt: log.halt})
	if err != nil {
		t.Fatal(err)
	}
	entries := map[uint32]Entry{
		entryEcho: func(c *Carveout, args Args) (uint32, error) {
			c.Buffer().SetCompletion(action.StateCompleted, status.OK)
			return uint32(args[2]), nil
		},
		entryFail: func(c *Carveout, args Args) (uint32, error) {
			return 0, errors.Join(errEntry, status.ValidationFailure)
		},
		entryPanic: func(c *Carveout, args Args) (uint32, error) {
			panic("boom")
		},
		entryBlock: func(c *Carveout, args Args) (uint32, error) {
			<-block
			return 7, nil
		},
	}
	for off, fn := range entries {
		if err := s.Register(off, fn); err != nil {
			t.Fatal(err)
		}
	}
	return s, log
}

func TestNewCarveout(t *testing.T) {
	tests := []struct {
		size int
		ok   bool
	}{
		{0, false},
		{8, false},
		{24, false},
		{16, true},
		{action.BufferSize, true},
	}
	for _, tt := range tests {
		c, err := NewCarveout(tt.size)
		if (err == nil) != tt.ok {
			t.Errorf("NewCarveout(%d) error = %v", tt.size, err)
			continue
		}
		if tt.ok && c.Len() != tt.size {
			t.Errorf("Len() = %d", c.Len())
		}
		if !tt.ok && !errors.Is(err, ErrCarveoutSize) {
			t.Errorf("NewCarveout(%d) error = %v", tt.size, err)
		}
	}
}

func TestServerCall(t *testing.T) {
	s, _ := newTestServer(t, nil)
	off, err := s.Call(Call{Partition: testPartition, Entry: entryEcho, Args: Args{0, 0, 16}})
	if err != nil || off != 16 {
		t.Fatalf("Call() = %d, %v", off, err)
	}
	if state, res := s.Carveout().Buffer().Completion(); state != action.StateCompleted || res != status.OK {
		t.Errorf("completion = %v %v", state, res)
	}
	if s.Calls() != 1 {
		t.Errorf("Calls() = %d", s.Calls())
	}
	if err := s.Register(entryEcho, nil); !errors.Is(err, ErrEntryExists) {
		t.Errorf("Register() twice error = %v", err)
	}
}

func TestServerEntryErrorCompletes(t *testing.T) {
	s, log := newTestServer(t, nil)
	s.Carveout().Buffer().SetCompletion(action.StateProcessing, status.OK)

	if _, err := s.Call(Call{Partition: testPartition, Entry: entryFail}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	state, res := s.Carveout().Buffer().Completion()
	if state != action.StateCompleted || res != status.ValidationFailure {
		t.Errorf("completion = %v %v", state, res)
	}
	if len(log.list()) != 0 || s.Halted() {
		t.Error("entry error treated as fault")
	}
}

func TestServerFaults(t *testing.T) {
	tests := []struct {
		name  string
		call  Call
		want  error
		panic bool
	}{
		{"wrong partition", Call{Partition: 1, Entry: entryEcho}, ErrUnknownPartition, false},
		{"unknown entry", Call{Partition: testPartition, Entry: 0x999}, ErrUnknownEntry, false},
		{"entry panic", Call{Partition: testPartition, Entry: entryPanic}, ErrEntryPanic, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, log := newTestServer(t, nil)
			s.Carveout().Buffer().SetCompletion(action.StateProcessing, status.OK)

			_, err := s.Call(tt.call)
			if !errors.Is(err, tt.want) || status.Of(err) != status.GenericIOFailure {
				t.Fatalf("Call() error = %v, want %v", err, tt.want)
			}
			faults := log.list()
			if len(faults) != 1 || !errors.Is(faults[0], tt.want) {
				t.Fatalf("faults = %v", faults)
			}
			if (faults[0].Panic != nil) != tt.panic {
				t.Errorf("Panic = %v", faults[0].Panic)
			}
			if tt.panic {
				state, res := s.Carveout().Buffer().Completion()
				if state != action.StateCompleted || res != status.GenericIOFailure {
					t.Errorf("completion after panic = %v %v", state, res)
				}
			}
			if !s.Halted() {
				t.Error("partition not halted")
			}
			if _, err := s.Call(Call{Partition: testPartition, Entry: entryEcho}); !errors.Is(err, ErrHalted) {
				t.Errorf("call after fault error = %v", err)
			}
		})
	}
}

func TestServerDefaultHaltPanics(t *testing.T) {
	co, _ := NewCarveout(16)
	s, err := NewServer(Config{ID: 1, Carveout: co})
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		f, ok := recover().(*Fault)
		if !ok || !errors.Is(f, ErrUnknownEntry) {
			t.Errorf("recovered %v", f)
		}
	}()
	_, _ = s.Call(Call{Partition: 1, Entry: 5})
	t.Error("default halt returned")
}

func TestConduits(t *testing.T) {
	tests := []struct {
		name string
		new  func(s *Server) Conduit
	}{
		{"direct", func(s *Server) Conduit { return NewDirect(s) }},
		{"pipe", func(s *Server) Conduit { return NewPipeConduit(s) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, log := newTestServer(t, nil)
			c := tt.new(s)
			defer c.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			for i := uint64(1); i <= 3; i++ {
				off, err := c.Call(ctx, Call{Partition: testPartition, Entry: entryEcho, Args: Args{0, 0, 16 * i}})
				if err != nil || off != uint32(16*i) {
					t.Fatalf("call %d = %d, %v", i, off, err)
				}
			}

			_, err := c.Call(ctx, Call{Partition: testPartition, Entry: 0x999})
			if status.Of(err) != status.GenericIOFailure {
				t.Errorf("fault call error = %v", err)
			}
			if len(log.list()) != 1 {
				t.Errorf("faults = %v", log.list())
			}
		})
	}
}

func TestPipeConduitWaitsForRunningEntry(t *testing.T) {
	release := make(chan struct{})
	s, _ := newTestServer(t, release)
	c := NewPipeConduit(s)
	defer c.Close()

	var released atomic.Bool
	go func() {
		time.Sleep(60 * time.Millisecond)
		released.Store(true)
		close(release)
	}()

	// The deadline passes while the entry runs; the call still waits.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	off, err := c.Call(ctx, Call{Partition: testPartition, Entry: entryBlock})
	if err != nil || off != 7 {
		t.Fatalf("blocked call = %d, %v", off, err)
	}
	if !released.Load() {
		t.Error("call returned before the entry finished")
	}

	off, err = c.Call(context.Background(), Call{Partition: testPartition, Entry: entryEcho, Args: Args{0, 0, 32}})
	if err != nil || off != 32 {
		t.Errorf("next call = %d, %v", off, err)
	}
}

func TestPipeConduitExpiredBeforeSend(t *testing.T) {
	s, _ := newTestServer(t, nil)
	c := NewPipeConduit(s)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Call(ctx, Call{Partition: testPartition, Entry: entryEcho}); !errors.Is(err, status.Timeout) {
		t.Errorf("error = %v", err)
	}
	if s.Calls() != 0 {
		t.Error("expired call reached the partition")
	}
}

func TestPipeConduitCloseDuringCall(t *testing.T) {
	release := make(chan struct{})
	s, _ := newTestServer(t, release)
	c := NewPipeConduit(s)

	callErr := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), Call{Partition: testPartition, Entry: entryBlock})
		callErr <- err
	}()
	for s.Calls() == 0 {
		time.Sleep(time.Millisecond)
	}

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()
	select {
	case <-closed:
		t.Fatal("Close returned while the entry was running")
	case err := <-callErr:
		t.Fatalf("call returned while the entry was running: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	select {
	case err := <-callErr:
		if !errors.Is(err, ErrConduitClosed) {
			t.Errorf("call error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("call did not return after Close")
	}
}

func TestPipeConduitClose(t *testing.T) {
	s, _ := newTestServer(t, nil)
	c := NewPipeConduit(s)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	_, err := c.Call(context.Background(), Call{Partition: testPartition, Entry: entryEcho})
	if !errors.Is(err, ErrConduitClosed) {
		t.Errorf("call after close error = %v", err)
	}
}

func TestDirectCanceled(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDirect(s).Call(ctx, Call{Partition: testPartition, Entry: entryEcho}); !errors.Is(err, status.Timeout) {
		t.Errorf("error = %v", err)
	}
	if s.Calls() != 0 {
		t.Error("canceled call reached the partition")
	}
}

func TestPipeManualProcess(t *testing.T) {
	p := NewPipeWithConfig(PipeConfig{AutoProcess: false})
	defer p.Close()

	if _, err := p.Supervisor().Write([]byte("frame")); err != nil {
		t.Fatal(err)
	}
	if n := p.Process(); n != 1 {
		t.Fatalf("Process() = %d", n)
	}
	b := make([]byte, 16)
	n, err := p.Partition().Read(b)
	if err != nil || string(b[:n]) != "frame" {
		t.Errorf("Read() = %q, %v", b[:n], err)
	}
}
