// hdcp-sim runs a complete HDCP 2.2 transmitter authentication against a
// simulated receiver or repeater.
//
// Usage:
//
//	hdcp-sim [options]
//
// Options:
//
//	--mode           dispatcher mode: overlay or isolated (default: overlay)
//	--conduit        isolated partition conduit: direct or pipe (default: direct)
//	--generation     display hardware generation: v1 or v2 (default: v2)
//	--settings       YAML engine settings, applied over the flags
//	--repeater       authenticate a repeater with downstream devices
//	--downstream     number of devices behind the repeater (default: 2)
//	--stream-manage  run RepeaterAuth_Stream_Manage after the id list
//	--reauth         end the session and re-authenticate with the stored km
//	--revoke         check the receiver against an SRM revoking it
//	--log-level      error, warn, info, debug or trace (default: warn)
//
// Example:
//
//	hdcp-sim --mode isolated --conduit pipe --repeater --stream-manage
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"github.com/pion/logging"
	flag "github.com/spf13/pflag"

	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/crypto"
	"github.com/backkem/hdcp/pkg/dispatch"
	"github.com/backkem/hdcp/pkg/hdcp"
	"github.com/backkem/hdcp/pkg/hdcp/hdcptest"
	"github.com/backkem/hdcp/pkg/link"
	"github.com/backkem/hdcp/pkg/store"
)

// options holds the command line.
type options struct {
	mode         string
	conduit      string
	generation   string
	settings     string
	repeater     bool
	downstream   int
	streamManage bool
	reauth       bool
	revoke       bool
	logLevel     string
	timeout      time.Duration
}

func main() {
	os.Exit(realMain())
}

func realMain() int {
	var opts options
	flag.StringVar(&opts.mode, "mode", "overlay", "Dispatcher mode: overlay or isolated")
	flag.StringVar(&opts.conduit, "conduit", "direct", "Isolated partition conduit: direct or pipe")
	flag.StringVar(&opts.generation, "generation", "v2", "Display hardware generation: v1 or v2")
	flag.StringVar(&opts.settings, "settings", "", "YAML engine settings file")
	flag.BoolVar(&opts.repeater, "repeater", false, "Authenticate a repeater")
	flag.IntVar(&opts.downstream, "downstream", 2, "Devices behind the repeater")
	flag.BoolVar(&opts.streamManage, "stream-manage", false, "Run RepeaterAuth_Stream_Manage")
	flag.BoolVar(&opts.reauth, "reauth", false, "Re-authenticate with the stored km")
	flag.BoolVar(&opts.revoke, "revoke", false, "Check the receiver against an SRM revoking it")
	flag.StringVar(&opts.logLevel, "log-level", "warn", "Log level: error, warn, info, debug or trace")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Overall run timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, opts options) error {
	level, err := parseLogLevel(opts.logLevel)
	if err != nil {
		return err
	}
	loggerFactory := logging.NewDefaultLoggerFactory()
	loggerFactory.DefaultLogLevel = level

	cfg, linkCfg, err := buildConfig(opts)
	if err != nil {
		return err
	}

	sim := link.NewSim(link.SimConfig{
		Generation:     linkCfg.Generation,
		MaxControllers: 4,
		MaxHeads:       4,
		ActivateAfter:  3,
		EdgeAfter:      2,
		Seed:           uint64(time.Now().UnixNano()),
	})
	linkCfg.Entropy = rand.Reader
	linkCfg.LoggerFactory = loggerFactory
	backend, err := sim.Backend(linkCfg)
	if err != nil {
		return fmt.Errorf("link backend: %w", err)
	}

	pairingKey := make([]byte, crypto.AESCCMKeySize)
	if _, err := rand.Read(pairingKey); err != nil {
		return err
	}
	cfg.Link = backend
	cfg.TrustAnchor = &hdcptest.DCP().PublicKey
	cfg.PairingKey = pairingKey
	cfg.LoggerFactory = loggerFactory

	eng, err := hdcp.NewEngine(cfg)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer eng.Close()

	rx, err := newReceiver(opts)
	if err != nil {
		return err
	}

	authOpts := hdcp.AuthOptions{Encrypt: true, StreamManage: opts.streamManage}
	if opts.repeater {
		authOpts.Start = action.StartSession{
			MultiStream: true,
			Streams:     []store.StreamDesc{{ID: 0, Type: store.StreamType0}, {ID: 1, Type: store.StreamType1}},
		}
	}

	start := time.Now()
	res, err := eng.Authenticate(ctx, rx, authOpts)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	printResult("Authenticated", eng, res, time.Since(start))

	if opts.revoke {
		if err := checkRevocation(ctx, eng, rx.ID()); err != nil {
			return err
		}
	}

	if opts.reauth {
		if err := eng.SecureAction(ctx, mustRequest(&action.EndSession{})); err != nil {
			return fmt.Errorf("end session: %w", err)
		}
		authOpts.Pairing = res.Pairing
		start = time.Now()
		again, err := eng.Authenticate(ctx, rx, authOpts)
		if err != nil {
			return fmt.Errorf("re-authenticate: %w", err)
		}
		printResult("Re-authenticated (stored km)", eng, again, time.Since(start))
	}

	if err := eng.SecureAction(ctx, mustRequest(&action.EndSession{})); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// buildConfig turns the flags and the optional settings file into engine
// and link configuration. Settings win over flags.
func buildConfig(opts options) (hdcp.Config, link.Config, error) {
	var cfg hdcp.Config
	var lc link.Config

	mode, err := dispatch.ParseMode(opts.mode)
	if err != nil {
		return cfg, lc, err
	}
	conduit, err := hdcp.ParseConduit(opts.conduit)
	if err != nil {
		return cfg, lc, err
	}
	gen, err := link.ParseGeneration(opts.generation)
	if err != nil {
		return cfg, lc, err
	}
	cfg.Mode, cfg.Conduit, lc.Generation = mode, conduit, gen

	if opts.settings == "" {
		return cfg, lc, nil
	}
	s, err := hdcp.LoadSettings(opts.settings)
	if err != nil {
		return cfg, lc, err
	}
	if err := s.Apply(&cfg); err != nil {
		return cfg, lc, err
	}
	if err := s.ApplyLink(&lc); err != nil {
		return cfg, lc, err
	}
	return cfg, lc, nil
}

func newReceiver(opts options) (*hdcptest.Receiver, error) {
	rc := hdcptest.ReceiverConfig{}
	if opts.repeater {
		ids := [][crypto.ReceiverIDSize]byte{hdcptest.ReceiverB, hdcptest.ReceiverC, hdcptest.ReceiverD}
		if opts.downstream < 1 || opts.downstream > len(ids) {
			return nil, fmt.Errorf("--downstream must be between 1 and %d", len(ids))
		}
		rc.Repeater = true
		rc.Downstream = ids[:opts.downstream]
		rc.Depth = 1
	}
	rx, err := hdcptest.NewReceiver(rc)
	if err != nil {
		return nil, fmt.Errorf("create receiver: %w", err)
	}
	return rx, nil
}

func checkRevocation(ctx context.Context, eng *hdcp.Engine, id [crypto.ReceiverIDSize]byte) error {
	srm, err := hdcptest.SRM(1, id)
	if err != nil {
		return err
	}
	p := &action.SrmRevocation{Srm: srm}
	if err := eng.SecureAction(ctx, mustRequest(p)); err != nil {
		return fmt.Errorf("SRM check: %w", err)
	}
	fmt.Printf("SRM v%d (generation %d): revoked=%t", p.Version, p.Generation, p.Revoked)
	if p.Revoked {
		fmt.Printf(" id=%x", p.RevokedID)
	}
	fmt.Println()
	return nil
}

func printResult(title string, eng *hdcp.Engine, res *hdcp.AuthResult, took time.Duration) {
	fmt.Println("========================================")
	fmt.Printf("%s in %s\n", title, took.Round(time.Microsecond))
	fmt.Println("----------------------------------------")
	fmt.Printf("Mode:            %s\n", eng.Mode())
	fmt.Printf("Receiver ID:     %x\n", res.ReceiverID)
	fmt.Printf("Repeater:        %t\n", res.Repeater)
	fmt.Printf("Locality checks: %d\n", res.LocalityChecks)
	if res.Pairing != nil {
		fmt.Printf("Pairing blob:    %d bytes\n", len(res.Pairing))
	}
	if res.Repeater {
		fmt.Printf("Devices:         %d (depth %d)\n", res.DeviceCount, res.Depth)
	}
	if ss, err := eng.Store().Session(); err == nil {
		fmt.Printf("Stage:           %s\n", ss.PrevStage)
	}
	fmt.Println("========================================")
}

func mustRequest(p action.Payload) *action.Request {
	req, err := action.New(p)
	if err != nil {
		panic(err)
	}
	return req
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	switch s {
	case "disabled":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
