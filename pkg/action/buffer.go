package action

import (
	"encoding/binary"

	"github.com/backkem/hdcp/pkg/status"
	"github.com/fxamacker/cbor/v2"
)

// Working buffer layout.
const (
	// BufferSize is the size of the working region, large enough for the
	// biggest payload (an SRM plus a receiver id list).
	BufferSize = 8192

	// HeaderSize is the reserved completion/result header.
	HeaderSize = 16

	// MaxBodySize is the space left for the encoded payload.
	MaxBodySize = BufferSize - HeaderSize
)

// Header offsets.
const (
	offState  = 0
	offResult = 4
	offKind   = 8
	offLength = 12
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("action: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: MaxBodySize,
		MaxMapPairs:      64,
	}.DecMode()
	if err != nil {
		panic("action: CBOR decoder initialization failed: " + err.Error())
	}
}

// Buffer is a view over a fixed-size working region: a 16-byte header
// (completion state, result, kind, body length) followed by the payload in
// deterministic CBOR.
type Buffer struct {
	mem []byte
}

// NewBuffer wraps mem. It must hold at least the header.
func NewBuffer(mem []byte) (*Buffer, error) {
	if len(mem) < HeaderSize {
		return nil, ErrBufferTooSmall
	}
	return &Buffer{mem: mem}, nil
}

// Bytes returns the underlying region.
func (b *Buffer) Bytes() []byte { return b.mem }

// Encode zeroes the buffer and writes req into it with state Processing.
func (b *Buffer) Encode(req *Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	body, err := encMode.Marshal(req.Payload)
	if err != nil {
		return ErrMalformed
	}
	defer clear(body)
	if len(body) > len(b.mem)-HeaderSize {
		return ErrTooLarge
	}

	b.Zero()
	binary.LittleEndian.PutUint32(b.mem[offState:], uint32(StateProcessing))
	binary.LittleEndian.PutUint32(b.mem[offKind:], uint32(req.Kind))
	binary.LittleEndian.PutUint32(b.mem[offLength:], uint32(len(body)))
	copy(b.mem[HeaderSize:], body)
	return nil
}

// Kind returns the kind tag without decoding the payload.
func (b *Buffer) Kind() Kind {
	return Kind(binary.LittleEndian.Uint32(b.mem[offKind:]))
}

// Decode reads the request back. Unknown kinds fail with ErrUnknownKind
// before the body is looked at.
func (b *Buffer) Decode() (*Request, error) {
	k := b.Kind()
	p, err := NewPayload(k)
	if err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(b.mem[offLength:])
	if uint64(n) > uint64(len(b.mem)-HeaderSize) {
		return nil, ErrMalformed
	}
	if err := decMode.Unmarshal(b.mem[HeaderSize:HeaderSize+int(n)], p); err != nil {
		return nil, ErrMalformed
	}
	state, result := b.Completion()
	return &Request{Kind: k, Payload: p, Completion: state, Result: result}, nil
}

// DecodeInto decodes the body into an existing payload of the same kind.
func (b *Buffer) DecodeInto(p Payload) error {
	if p == nil || p.Kind() != b.Kind() {
		return ErrPayloadMismatch
	}
	n := binary.LittleEndian.Uint32(b.mem[offLength:])
	if uint64(n) > uint64(len(b.mem)-HeaderSize) {
		return ErrMalformed
	}
	if err := decMode.Unmarshal(b.mem[HeaderSize:HeaderSize+int(n)], p); err != nil {
		return ErrMalformed
	}
	return nil
}

// Complete writes a result payload and marks the buffer Completed. A nil
// payload leaves the body untouched.
func (b *Buffer) Complete(p Payload, result status.Status) error {
	if p != nil {
		body, err := encMode.Marshal(p)
		if err != nil {
			b.SetCompletion(StateCompleted, status.GenericIOFailure)
			return ErrMalformed
		}
		defer clear(body)
		if len(body) > len(b.mem)-HeaderSize {
			b.SetCompletion(StateCompleted, status.InvalidArgument)
			return ErrTooLarge
		}
		clear(b.mem[HeaderSize:])
		binary.LittleEndian.PutUint32(b.mem[offLength:], uint32(len(body)))
		copy(b.mem[HeaderSize:], body)
	}
	b.SetCompletion(StateCompleted, result)
	return nil
}

// SetCompletion writes the header completion state and result.
func (b *Buffer) SetCompletion(state CompletionState, result status.Status) {
	binary.LittleEndian.PutUint32(b.mem[offState:], uint32(state))
	binary.LittleEndian.PutUint32(b.mem[offResult:], uint32(result))
}

// Completion reads the header completion state and result.
func (b *Buffer) Completion() (CompletionState, status.Status) {
	return CompletionState(binary.LittleEndian.Uint32(b.mem[offState:])),
		status.Status(binary.LittleEndian.Uint32(b.mem[offResult:]))
}

// Zero clears the whole region.
func (b *Buffer) Zero() {
	clear(b.mem)
}

// IsZero reports whether every byte of the region is zero.
func (b *Buffer) IsZero() bool {
	for _, c := range b.mem {
		if c != 0 {
			return false
		}
	}
	return true
}
