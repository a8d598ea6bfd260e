package hdcp

import (
	"context"
	"sync"

	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/dispatch"
	"github.com/backkem/hdcp/pkg/handler"
	"github.com/backkem/hdcp/pkg/partition"
	"github.com/backkem/hdcp/pkg/store"
	"github.com/pion/logging"
)

// Engine is one HDCP transmitter protocol instance. Actions submitted to
// it run one at a time, to completion.
type Engine struct {
	mu     sync.Mutex
	closed bool

	config     Config
	store      *store.Store
	env        *handler.Env
	dispatcher dispatch.Dispatcher
	server     *partition.Server // isolated mode only
	metrics    *dispatch.Metrics

	args action.Request

	log logging.LeveledLogger
}

// NewEngine creates an engine with a fresh secret store.
func NewEngine(config Config) (*Engine, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{config: config}
	if config.LoggerFactory != nil {
		e.log = config.LoggerFactory.NewLogger("hdcp-engine")
	}

	st, err := store.New(config.Store)
	if err != nil {
		return nil, err
	}
	e.store = st

	env, err := handler.NewEnv(handler.Config{
		Store:         st,
		Link:          config.Link,
		Crypto:        config.Crypto,
		TrustAnchor:   config.TrustAnchor,
		PairingKey:    config.PairingKey,
		PollRetries:   config.PollRetries,
		EdgeRetries:   config.EdgeRetries,
		Rand:          config.Rand,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		st.Wipe()
		return nil, err
	}
	e.env = env

	if config.Registerer != nil {
		e.metrics = dispatch.NewMetrics(config.Registerer)
	}

	if err := e.initDispatcher(); err != nil {
		st.Wipe()
		return nil, err
	}

	if e.log != nil {
		e.log.Infof("engine ready: mode=%s link=%s", config.Mode, config.Link.Generation())
	}
	return e, nil
}

// initDispatcher builds the dispatcher for the configured mode.
func (e *Engine) initDispatcher() error {
	switch e.config.Mode {
	case dispatch.ModeIsolated:
		return e.initIsolated()
	default:
		d, err := dispatch.NewOverlay(dispatch.OverlayConfig{
			Env:           e.env,
			BufferSize:    action.BufferSize,
			Metrics:       e.metrics,
			LoggerFactory: e.config.LoggerFactory,
		})
		if err != nil {
			return err
		}
		e.dispatcher = d
		return nil
	}
}

// initIsolated builds the carveout, the partition server and the conduit
// between them.
func (e *Engine) initIsolated() error {
	co, err := partition.NewCarveout(e.config.CarveoutSize)
	if err != nil {
		return err
	}
	srv, err := dispatch.NewPartition(e.env, partition.Config{
		Carveout:      co,
		Halt:          e.config.Halt,
		LoggerFactory: e.config.LoggerFactory,
	})
	if err != nil {
		return err
	}

	var conduit partition.Conduit
	switch e.config.Conduit {
	case ConduitPipe:
		conduit = partition.NewPipeConduit(srv)
	default:
		conduit = partition.NewDirect(srv)
	}

	d, err := dispatch.NewIsolated(dispatch.IsolatedConfig{
		Link:          e.config.Link,
		Carveout:      co,
		Conduit:       conduit,
		Metrics:       e.metrics,
		LoggerFactory: e.config.LoggerFactory,
	})
	if err != nil {
		conduit.Close()
		return err
	}
	e.server = srv
	e.dispatcher = d
	return nil
}

// ArgumentStorage returns the engine's request storage, reset to empty.
// Any payload left in it from a previous action is scrubbed first.
func (e *Engine) ArgumentStorage() *action.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.args.Reset()
	return &e.args
}

// SecureAction runs req to completion and returns its status as an error.
// req is usually the ArgumentStorage, but any request may be submitted.
func (e *Engine) SecureAction(ctx context.Context, req *action.Request) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	err := e.dispatcher.Dispatch(ctx, req)
	if err != nil && e.log != nil {
		if req != nil {
			e.log.Debugf("%s: %v", req.Kind, err)
		} else {
			e.log.Debugf("nil request: %v", err)
		}
	}
	return err
}

// Mode returns the dispatcher mode.
func (e *Engine) Mode() dispatch.Mode { return e.config.Mode }

// Store returns the engine's secret store.
// Exposed for testing and advanced use cases.
func (e *Engine) Store() *store.Store { return e.store }

// Env returns the handler environment.
// Exposed for testing and advanced use cases.
func (e *Engine) Env() *handler.Env { return e.env }

// Partition returns the partition server, or nil in overlay mode.
// Exposed for testing and advanced use cases.
func (e *Engine) Partition() *partition.Server { return e.server }

// Close shuts the dispatcher down, drops the pairing key and wipes the
// store, snapshots included.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.args.Reset()
	err := e.dispatcher.Close()
	e.env.Close()
	e.store.Wipe()
	if e.log != nil {
		e.log.Info("engine closed")
	}
	return err
}
