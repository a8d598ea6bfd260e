// Package partition implements the boundary between the supervisor and an
// isolated execution partition.
//
// The two sides share a Carveout: a fixed-size memory region whose first 16
// bytes hold the completion state and result code. The supervisor encodes a
// request into the carveout and issues a boundary Call naming a partition
// and an entry offset; the partition Server runs the entry and always marks
// the carveout completed, whatever happened. Calls travel over a Conduit,
// either a direct function call or a packet pipe.
package partition

import (
	"encoding/binary"
	"fmt"

	"github.com/backkem/hdcp/pkg/status"
)

// NumArgs is the number of opaque arguments a boundary call carries.
const NumArgs = 5

// Frame sizes on a pipe conduit.
const (
	callFrameSize  = 4 + 4 + 4 + NumArgs*8 // seq, partition, entry, args
	replyFrameSize = 4 + 4 + 4             // seq, result offset, fault status
)

// Args are the opaque boundary call arguments.
type Args [NumArgs]uint64

// Call is one boundary call: the target partition, the entry offset within
// it and up to five arguments.
type Call struct {
	Partition uint32
	Entry     uint32
	Args      Args
}

// String returns a diagnostic form of the call.
func (c Call) String() string {
	return fmt.Sprintf("partition %#x entry %#x args %#x", c.Partition, c.Entry, c.Args)
}

func (c Call) appendFrame(b []byte, seq uint32) []byte {
	b = binary.LittleEndian.AppendUint32(b, seq)
	b = binary.LittleEndian.AppendUint32(b, c.Partition)
	b = binary.LittleEndian.AppendUint32(b, c.Entry)
	for _, a := range c.Args {
		b = binary.LittleEndian.AppendUint64(b, a)
	}
	return b
}

func parseCallFrame(b []byte) (Call, uint32, error) {
	var c Call
	if len(b) != callFrameSize {
		return c, 0, ErrFrame
	}
	seq := binary.LittleEndian.Uint32(b[0:])
	c.Partition = binary.LittleEndian.Uint32(b[4:])
	c.Entry = binary.LittleEndian.Uint32(b[8:])
	for i := range c.Args {
		c.Args[i] = binary.LittleEndian.Uint64(b[12+8*i:])
	}
	return c, seq, nil
}

type reply struct {
	seq    uint32
	offset uint32
	fault  status.Status
}

func (r reply) appendFrame(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, r.seq)
	b = binary.LittleEndian.AppendUint32(b, r.offset)
	return binary.LittleEndian.AppendUint32(b, uint32(r.fault))
}

func parseReplyFrame(b []byte) (reply, error) {
	if len(b) != replyFrameSize {
		return reply{}, ErrFrame
	}
	return reply{
		seq:    binary.LittleEndian.Uint32(b[0:]),
		offset: binary.LittleEndian.Uint32(b[4:]),
		fault:  status.Status(binary.LittleEndian.Uint32(b[8:])),
	}, nil
}
