// Package codec turns typed packets into payload bytes and back, driven by
// the static schema registry.
package codec

import (
	"fmt"

	"github.com/danmuck/blockgate/internal/protocol"
	"github.com/danmuck/blockgate/internal/protocol/schema"
)

const defaultSizeHint = 64

// Codec is stateless apart from its immutable registry and is safe for
// concurrent use.
type Codec struct {
	registry *schema.Registry
}

func New(registry *schema.Registry) *Codec {
	return &Codec{registry: registry}
}

func (c *Codec) Registry() *schema.Registry {
	return c.registry
}

// Serialize encodes p's fields in declared order. Identical packet values
// always produce identical bytes.
func (c *Codec) Serialize(p schema.Packet) ([]byte, error) {
	w := protocol.NewWriter(defaultSizeHint)
	if _, err := c.Encode(w, p); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Encode appends p's payload to w and returns its schema entry.
func (c *Codec) Encode(w *protocol.Writer, p schema.Packet) (*schema.Entry, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil packet", protocol.ErrUnknownPacketType)
	}
	e, err := c.registry.Lookup(p.PacketName())
	if err != nil {
		return nil, err
	}
	values := p.FieldValues()
	if len(values) != len(e.Fields) {
		return nil, fmt.Errorf("%w: packet=%s have %d values, want %d",
			protocol.ErrFieldCountMismatch, e.Name, len(values), len(e.Fields))
	}
	for i, f := range e.Fields {
		if err := w.WriteValue(f.Kind, values[i]); err != nil {
			return nil, &protocol.FieldError{Packet: e.Name, Field: f.Name, Kind: f.Kind, Err: err}
		}
	}
	return e, nil
}

// DecodeFields reads every field of e from r in declared order.
func DecodeFields(e *schema.Entry, r *protocol.Reader) ([]any, error) {
	values := make([]any, len(e.Fields))
	for i, f := range e.Fields {
		v, err := r.ReadValue(f.Kind)
		if err != nil {
			return nil, &protocol.FieldError{Packet: e.Name, Field: f.Name, Kind: f.Kind, Err: err}
		}
		values[i] = v
	}
	return values, nil
}

// Deserialize builds the packet registered under (dir, state, id) from its
// payload. Bytes left over after the last field are rejected.
func (c *Codec) Deserialize(dir schema.Direction, state schema.State, id uint32, payload []byte) (schema.Packet, error) {
	e, err := c.registry.LookupID(dir, state, id)
	if err != nil {
		return nil, err
	}
	r := protocol.NewReader(payload)
	values, err := DecodeFields(e, r)
	if err != nil {
		return nil, err
	}
	if !r.Exhausted() {
		return nil, fmt.Errorf("%w: packet=%s %d bytes after last field", protocol.ErrTrailingData, e.Name, r.Remaining())
	}
	p := e.New()
	if err := p.SetFieldValues(values); err != nil {
		return nil, fmt.Errorf("codec: build %s: %w", e.Name, err)
	}
	return p, nil
}
