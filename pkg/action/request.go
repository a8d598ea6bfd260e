package action

import (
	"reflect"

	"github.com/backkem/hdcp/pkg/status"
)

// Request is a secure action: a kind tag and exactly one matching payload.
// Completion and Result are filled in by the engine.
type Request struct {
	Kind    Kind
	Payload Payload

	Completion CompletionState
	Result     status.Status
}

// New returns a validated request for p.
func New(p Payload) (*Request, error) {
	if p == nil {
		return nil, ErrNilPayload
	}
	r := &Request{Kind: p.Kind(), Payload: p}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate rejects unknown kinds and payloads of the wrong shape. The
// payload must be a non-nil pointer to the kind's struct.
func (r *Request) Validate() error {
	if !r.Kind.IsValid() {
		return ErrUnknownKind
	}
	if r.Payload == nil {
		return ErrNilPayload
	}
	v := reflect.ValueOf(r.Payload)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return ErrPayloadMismatch
	}
	want, _ := NewPayload(r.Kind)
	if reflect.TypeOf(r.Payload) != reflect.TypeOf(want) {
		return ErrPayloadMismatch
	}
	return nil
}

// Reset zeroes the request in place, including payload contents.
func (r *Request) Reset() {
	if r.Payload != nil {
		Scrub(r.Payload)
	}
	*r = Request{}
}
