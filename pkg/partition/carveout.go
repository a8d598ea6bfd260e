package partition

import (
	"sync"

	"github.com/backkem/hdcp/pkg/action"
)

// Carveout is memory shared between the supervisor and a partition. It is
// viewed as an action.Buffer: completion header first, payload after.
type Carveout struct {
	mu  sync.Mutex
	mem []byte
	buf *action.Buffer
}

// NewCarveout allocates a zeroed carveout of size bytes.
func NewCarveout(size int) (*Carveout, error) {
	if size < action.HeaderSize || size%action.HeaderSize != 0 {
		return nil, ErrCarveoutSize
	}
	mem := make([]byte, size)
	buf, err := action.NewBuffer(mem)
	if err != nil {
		return nil, err
	}
	return &Carveout{mem: mem, buf: buf}, nil
}

// Len returns the carveout size.
func (c *Carveout) Len() int { return len(c.mem) }

// Bytes returns the raw region.
func (c *Carveout) Bytes() []byte { return c.mem }

// Buffer returns the action buffer view.
func (c *Carveout) Buffer() *action.Buffer { return c.buf }

// Lock takes exclusive ownership of the carveout for one call.
func (c *Carveout) Lock() { c.mu.Lock() }

// Unlock releases ownership taken by Lock.
func (c *Carveout) Unlock() { c.mu.Unlock() }
