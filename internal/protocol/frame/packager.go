// Package frame turns typed packets into wire-ready payloads and moves
// them across a byte stream.
//
// A prepared payload always starts with VarInt(uncompressed length). Zero
// means the bytes that follow are the packet body as serialized; any other
// value means they decompress to exactly that many bytes.
package frame

import (
	"fmt"

	"github.com/danmuck/blockgate/internal/compress"
	logs "github.com/danmuck/blockgate/internal/logging"
	"github.com/danmuck/blockgate/internal/observability"
	"github.com/danmuck/blockgate/internal/protocol"
	"github.com/danmuck/blockgate/internal/protocol/codec"
	"github.com/danmuck/blockgate/internal/protocol/schema"
)

// NoCompression disables compression regardless of payload size.
const NoCompression = -1

// Prepared is a packet ready to hand to observers.
type Prepared struct {
	PacketID uint32
	Payload  []byte
}

// Packager holds only immutable configuration; Prepare and Unpack are safe
// for concurrent use.
type Packager struct {
	codec      *codec.Codec
	threshold  int
	compressor compress.Codec
	limits     Limits
}

type Option func(*Packager)

// WithThreshold compresses bodies whose length is at least n. A negative n
// disables compression.
func WithThreshold(n int) Option {
	return func(p *Packager) {
		if n < 0 {
			n = NoCompression
		}
		p.threshold = n
	}
}

func WithCompressor(c compress.Codec) Option {
	return func(p *Packager) {
		if c != nil {
			p.compressor = c
		}
	}
}

func WithLimits(l Limits) Option {
	return func(p *Packager) { p.limits = l }
}

func NewPackager(c *codec.Codec, opts ...Option) *Packager {
	p := &Packager{
		codec:      c,
		threshold:  NoCompression,
		compressor: compress.DefaultCodec(),
		limits:     DefaultLimits(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Packager) Threshold() int { return p.threshold }

func (p *Packager) Compressor() compress.Codec { return p.compressor }

func (p *Packager) Limits() Limits { return p.limits }

// Prepare resolves the packet id, serializes the body and applies the
// compression threshold. An empty body is never compressed since a zero
// length prefix already means "uncompressed".
func (p *Packager) Prepare(pkt schema.Packet) (Prepared, error) {
	w := protocol.NewWriter(64)
	w.WriteVarInt(0)
	e, err := p.codec.Encode(w, pkt)
	if err != nil {
		return Prepared{}, err
	}
	out := w.Bytes()
	body := out[1:]

	compressed := false
	if p.threshold != NoCompression && len(body) > 0 && len(body) >= p.threshold {
		packed, err := p.compressor.Compress(body)
		if err != nil {
			logs.Errf("frame.Packager.Prepare compress packet=%s codec=%s err=%v", e.Name, p.compressor.Name(), err)
			return Prepared{}, fmt.Errorf("frame: compress %s: %w", e.Name, err)
		}
		out = protocol.AppendVarInt(make([]byte, 0, protocol.MaxVarIntLen+len(packed)), uint32(len(body)))
		out = append(out, packed...)
		compressed = true
	}
	observability.RecordPrepared(compressed, len(out))
	logs.Tracef("frame.Packager.Prepare packet=%s id=0x%02x body=%d out=%d compressed=%t",
		e.Name, e.ID, len(body), len(out), compressed)
	return Prepared{PacketID: e.ID, Payload: out}, nil
}

// Unpack reverses Prepare's length prefix and compression and returns the
// packet body.
func (p *Packager) Unpack(payload []byte) ([]byte, error) {
	r := protocol.NewReader(payload)
	size, err := r.ReadVarInt()
	if err != nil {
		return nil, fmt.Errorf("frame: uncompressed length: %w", err)
	}
	rest := r.ReadRemaining()
	if size == 0 {
		return rest, nil
	}
	if size > p.limits.MaxUncompressedBytes {
		return nil, fmt.Errorf("%w: uncompressed %d > %d", ErrPayloadTooLarge, size, p.limits.MaxUncompressedBytes)
	}
	body, err := p.compressor.Decompress(rest, int(size))
	if err != nil {
		return nil, fmt.Errorf("frame: decompress %s: %w", p.compressor.Name(), err)
	}
	return body, nil
}
