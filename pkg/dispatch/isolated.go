package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/handler"
	"github.com/backkem/hdcp/pkg/link"
	"github.com/backkem/hdcp/pkg/partition"
	"github.com/backkem/hdcp/pkg/status"
	"github.com/pion/logging"
)

// Partition defaults.
const (
	DefaultPartitionID uint32 = 0x48444350 // "HDCP"
	EntrySecureAction  uint32 = 0x0100
)

// IsolatedConfig configures an Isolated dispatcher.
type IsolatedConfig struct {
	// Link raises and lowers the HDCP block privilege level.
	Link link.Backend

	// Carveout is shared with the partition server behind Conduit.
	Carveout *partition.Carveout
	Conduit  partition.Conduit

	// PartitionID names the partition in every call.
	PartitionID uint32

	Metrics       *Metrics
	LoggerFactory logging.LoggerFactory
}

func (c *IsolatedConfig) applyDefaults() {
	if c.PartitionID == 0 {
		c.PartitionID = DefaultPartitionID
	}
}

// Validate checks the configuration.
func (c *IsolatedConfig) Validate() error {
	if c.Link == nil {
		return errors.New("dispatch: link backend is required")
	}
	if c.Carveout == nil {
		return errors.New("dispatch: carveout is required")
	}
	if c.Conduit == nil {
		return errors.New("dispatch: conduit is required")
	}
	return nil
}

// Isolated runs handlers in a partition. Each action raises the HDCP block
// to the secure privilege level, crosses through the carveout and lowers
// the level again on every exit path.
type Isolated struct {
	link      link.Backend
	carveout  *partition.Carveout
	conduit   partition.Conduit
	partition uint32
	metrics   *Metrics
	closed    atomic.Bool

	log logging.LeveledLogger
}

var _ Dispatcher = (*Isolated)(nil)

// NewIsolated creates an Isolated dispatcher.
func NewIsolated(cfg IsolatedConfig) (*Isolated, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Isolated{
		link:      cfg.Link,
		carveout:  cfg.Carveout,
		conduit:   cfg.Conduit,
		partition: cfg.PartitionID,
		metrics:   cfg.Metrics,
	}
	if cfg.LoggerFactory != nil {
		d.log = cfg.LoggerFactory.NewLogger("hdcp-dispatch")
	}
	return d, nil
}

// Dispatch implements Dispatcher.
func (d *Isolated) Dispatch(ctx context.Context, req *action.Request) (err error) {
	if d.closed.Load() {
		return ErrClosed
	}
	if err := precheck(req); err != nil {
		if req != nil {
			d.metrics.observe(req.Kind, err)
		}
		return err
	}
	defer func() { d.metrics.observe(req.Kind, err) }()

	if err := link.WriteRegister(d.link, link.RegPrivLevel, 0, link.PrivSecure); err != nil {
		d.metrics.elevationFailed(ModeIsolated)
		if d.log != nil {
			d.log.Warnf("%s: privilege raise failed: %v", req.Kind, err)
		}
		return fmt.Errorf("%w: %w", ErrElevation, err)
	}
	defer func() {
		if lerr := link.WriteRegister(d.link, link.RegPrivLevel, 0, link.PrivSupervisor); lerr != nil {
			if d.log != nil {
				d.log.Errorf("privilege lower failed: %v", lerr)
			}
			if err == nil {
				err = lerr
			}
		}
	}()

	d.carveout.Lock()
	defer d.carveout.Unlock()
	buf := d.carveout.Buffer()
	defer buf.Zero()

	if err := buf.Encode(req); err != nil {
		return err
	}
	_, err = d.conduit.Call(ctx, partition.Call{
		Partition: d.partition,
		Entry:     EntrySecureAction,
		Args:      partition.Args{0, uint64(d.carveout.Len()), uint64(req.Kind)},
	})
	if err != nil {
		if d.log != nil {
			d.log.Warnf("%s: boundary call failed: %v", req.Kind, err)
		}
		return err
	}

	state, res := buf.Completion()
	if state != action.StateCompleted {
		return ErrIncomplete
	}
	req.Completion = state
	req.Result = res
	if res != status.OK {
		return res.Err()
	}
	return buf.DecodeInto(req.Payload)
}

// Close closes the conduit and zeroes the carveout.
func (d *Isolated) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	err := d.conduit.Close()
	d.carveout.Lock()
	d.carveout.Buffer().Zero()
	d.carveout.Unlock()
	return err
}

// SecureActionEntry is the partition entry that decodes a request from the
// carveout, runs its handler against env and writes the completion back.
// The decoded payload is scrubbed before returning.
func SecureActionEntry(env *handler.Env) partition.Entry {
	return func(c *partition.Carveout, args partition.Args) (uint32, error) {
		buf := c.Buffer()
		req, err := buf.Decode()
		if err != nil {
			buf.SetCompletion(action.StateCompleted, status.Of(err))
			return 0, err
		}
		defer action.Scrub(req.Payload)

		herr := env.Handle(req)
		var out action.Payload
		if herr == nil {
			out = req.Payload
		}
		if err := buf.Complete(out, status.Of(herr)); err != nil {
			return 0, err
		}
		return action.HeaderSize, herr
	}
}

// NewPartition builds a partition server for env with the secure action
// entry installed at EntrySecureAction.
func NewPartition(env *handler.Env, cfg partition.Config) (*partition.Server, error) {
	if cfg.ID == 0 {
		cfg.ID = DefaultPartitionID
	}
	s, err := partition.NewServer(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Register(EntrySecureAction, SecureActionEntry(env)); err != nil {
		return nil, err
	}
	return s, nil
}
