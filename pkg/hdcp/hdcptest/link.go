package hdcptest

import (
	"crypto/rand"

	"github.com/backkem/hdcp/pkg/link"
)

// LinkConfig configures NewLink.
type LinkConfig struct {
	Generation     link.Generation
	MaxControllers uint8
	MaxHeads       uint8
	ActivateAfter  int
	EdgeAfter      int
}

// NewLink returns simulated hardware and a backend driving it. Generations
// without a hardware RNG draw from crypto/rand.
func NewLink(cfg LinkConfig) (*link.Sim, link.Backend, error) {
	if !cfg.Generation.IsValid() {
		cfg.Generation = link.GenerationV2
	}
	if cfg.MaxControllers == 0 {
		cfg.MaxControllers = 4
	}
	if cfg.MaxHeads == 0 {
		cfg.MaxHeads = 4
	}
	sim := link.NewSim(link.SimConfig{
		Generation:     cfg.Generation,
		MaxControllers: cfg.MaxControllers,
		MaxHeads:       cfg.MaxHeads,
		ActivateAfter:  cfg.ActivateAfter,
		EdgeAfter:      cfg.EdgeAfter,
		Seed:           0x9e3779b97f4a7c15,
	})
	b, err := sim.Backend(link.Config{Entropy: rand.Reader})
	if err != nil {
		return nil, nil, err
	}
	return sim, b, nil
}
