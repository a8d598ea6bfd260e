package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/handler"
	"github.com/backkem/hdcp/pkg/status"
	"github.com/pion/logging"
)

// OverlayConfig configures an Overlay dispatcher.
type OverlayConfig struct {
	Env *handler.Env

	// Overlays attaches protected regions. Defaults to a fresh Regions.
	Overlays Overlays

	// BufferSize is the working buffer size (default action.BufferSize).
	BufferSize int

	Metrics       *Metrics
	LoggerFactory logging.LoggerFactory
}

func (c *OverlayConfig) applyDefaults() {
	if c.Overlays == nil {
		c.Overlays = &Regions{}
	}
	if c.BufferSize == 0 {
		c.BufferSize = action.BufferSize
	}
}

// Validate checks the configuration.
func (c *OverlayConfig) Validate() error {
	if c.Env == nil {
		return errors.New("dispatch: handler environment is required")
	}
	if c.BufferSize < action.HeaderSize {
		return fmt.Errorf("dispatch: buffer size %d below header size", c.BufferSize)
	}
	return nil
}

// Overlay runs handlers in place. Each action attaches exactly the
// capabilities listed for its kind and detaches them on return.
type Overlay struct {
	env      *handler.Env
	overlays Overlays
	work     *action.Buffer
	metrics  *Metrics
	closed   atomic.Bool

	log logging.LeveledLogger
}

var _ Dispatcher = (*Overlay)(nil)

// NewOverlay creates an Overlay dispatcher.
func NewOverlay(cfg OverlayConfig) (*Overlay, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	work, err := action.NewBuffer(make([]byte, cfg.BufferSize))
	if err != nil {
		return nil, err
	}
	d := &Overlay{
		env:      cfg.Env,
		overlays: cfg.Overlays,
		work:     work,
		metrics:  cfg.Metrics,
	}
	if cfg.LoggerFactory != nil {
		d.log = cfg.LoggerFactory.NewLogger("hdcp-dispatch")
	}
	return d, nil
}

// WorkingBuffer returns the working buffer, for inspection.
func (d *Overlay) WorkingBuffer() *action.Buffer { return d.work }

// Dispatch implements Dispatcher.
func (d *Overlay) Dispatch(ctx context.Context, req *action.Request) (err error) {
	if d.closed.Load() {
		return ErrClosed
	}
	if err := precheck(req); err != nil {
		if req != nil {
			d.metrics.observe(req.Kind, err)
		}
		return err
	}
	if err := ctx.Err(); err != nil {
		return status.Timeout
	}
	defer func() { d.metrics.observe(req.Kind, err) }()

	caps, _ := Required(req.Kind)
	tok, err := Attach(d.overlays, caps)
	if err != nil {
		d.metrics.elevationFailed(ModeOverlay)
		if d.log != nil {
			d.log.Warnf("%s: attach %s failed: %v", req.Kind, caps, err)
		}
		return fmt.Errorf("%w: %w", ErrElevation, err)
	}
	defer tok.Detach()
	defer d.work.Zero()

	if err := d.work.Encode(req); err != nil {
		return err
	}
	local, err := d.work.Decode()
	if err != nil {
		return err
	}
	defer action.Scrub(local.Payload)

	herr := d.env.Handle(local)
	res := status.Of(herr)
	req.Completion = action.StateCompleted
	req.Result = res

	var out action.Payload
	if herr == nil {
		out = local.Payload
	}
	if err := d.work.Complete(out, res); err != nil {
		return err
	}
	if herr != nil {
		return herr
	}
	return d.work.DecodeInto(req.Payload)
}

// Close zeroes the working buffer. Later calls fail with ErrClosed.
func (d *Overlay) Close() error {
	d.closed.Store(true)
	d.work.Zero()
	return nil
}
